package services

import (
	"context"
	"encoding/json"

	"github.com/mailbridge/core/internal/database/models"
)

// FetchResult is one page of a user's inbox from a provider
type FetchResult struct {
	Emails  []models.Email `json:"emails"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
	HasMore bool           `json:"has_more"`
}

// Fetcher retrieves one page of a user's inbox from a mail provider.
// Implementations check the user's configuration before connecting and
// report an incomplete one via their own sentinel error.
type Fetcher interface {
	// Protocol identifies the retrieval method, e.g. "imap"
	Protocol() string
	// Fetch retrieves the given page, newest messages first
	Fetch(ctx context.Context, user *models.User, page, limit int) (*FetchResult, error)
}

// hasMorePages reports whether messages remain beyond the given page
func hasMorePages(page, limit, total int) bool {
	skip := (page - 1) * limit
	return skip+limit < total
}

// encodeAddressList stores an address list as a JSON array string
func encodeAddressList(addrs []string) string {
	if len(addrs) == 0 {
		return "[]"
	}
	b, err := json.Marshal(addrs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// decodeAddressList reverses encodeAddressList
func decodeAddressList(s string) []string {
	if s == "" {
		return nil
	}
	var addrs []string
	if err := json.Unmarshal([]byte(s), &addrs); err != nil {
		return nil
	}
	return addrs
}
