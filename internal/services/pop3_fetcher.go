package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/knadh/go-pop3"
	"github.com/mailbridge/core/internal/database/models"
	"github.com/mailbridge/core/internal/store"
)

var (
	// ErrPOP3NotConfigured indicates the user's POP3 settings are incomplete
	ErrPOP3NotConfigured = errors.New("POP3 is not configured for this user")
	// ErrPOP3ConnectionFailed indicates POP3 connection failed
	ErrPOP3ConnectionFailed = errors.New("POP3 connection failed")
)

// POP3Fetcher retrieves inbox pages over POP3. POP3 numbers messages from the
// oldest, so pages walk forward through the mailbox; a message that fails to
// download or parse is skipped rather than failing the page.
type POP3Fetcher struct {
	emails     *store.EmailStore
	logService *LogService
}

// NewPOP3Fetcher creates a POP3Fetcher
func NewPOP3Fetcher(emails *store.EmailStore, logService *LogService) *POP3Fetcher {
	return &POP3Fetcher{
		emails:     emails,
		logService: logService,
	}
}

// Protocol identifies the retrieval method
func (f *POP3Fetcher) Protocol() string { return "pop3" }

func pop3Configured(user *models.User) bool {
	return user.EmailHost != "" &&
		user.EmailUsername != "" &&
		user.EmailPassword != "" &&
		user.POP3Port > 0
}

// computePOP3Range maps a (page, limit) request onto POP3 message numbers.
// Returns the inclusive [start, end] range and whether messages remain
// beyond it.
func computePOP3Range(total, page, limit int) (start, end int, hasMore bool) {
	start = (page-1)*limit + 1
	end = start + limit - 1
	if end > total {
		end = total
	}
	return start, end, end < total
}

// Fetch retrieves one inbox page over POP3
func (f *POP3Fetcher) Fetch(ctx context.Context, user *models.User, page, limit int) (*FetchResult, error) {
	if !pop3Configured(user) {
		return nil, ErrPOP3NotConfigured
	}

	p := pop3.New(pop3.Opt{
		Host:       user.EmailHost,
		Port:       user.POP3Port,
		TLSEnabled: user.EmailSecure,
	})

	conn, err := p.NewConn()
	if err != nil {
		f.logService.LogError(user.ID, models.LogModuleEmail, "fetch", "POP3 connection failed", map[string]interface{}{
			"host":  user.EmailHost,
			"error": err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrPOP3ConnectionFailed, err)
	}
	defer conn.Quit()

	if err := conn.Auth(user.EmailUsername, user.EmailPassword); err != nil {
		return nil, fmt.Errorf("%w: login failed: %v", ErrPOP3ConnectionFailed, err)
	}

	total, _, err := conn.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: STAT failed: %v", ErrPOP3ConnectionFailed, err)
	}

	if total == 0 {
		return &FetchResult{
			Emails:  []models.Email{},
			Total:   0,
			Page:    page,
			Limit:   limit,
			HasMore: false,
		}, nil
	}

	start, end, hasMore := computePOP3Range(total, page, limit)

	var fetched []models.Email
	for num := start; num <= end; num++ {
		entity, err := conn.Retr(num)
		if err != nil {
			f.logService.LogWarn(user.ID, models.LogModuleEmail, "fetch", "Failed to retrieve POP3 message", map[string]interface{}{
				"message_num": num,
				"error":       err.Error(),
			})
			continue
		}
		fetched = append(fetched, f.toEmail(user.ID, entity))
	}

	// Persistence failure does not fail a fetch that reached the server
	if _, err := f.emails.SaveFetched(user.ID, fetched); err != nil {
		f.logService.LogWarn(user.ID, models.LogModuleEmail, "fetch", "Failed to persist fetched emails", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if fetched == nil {
		fetched = []models.Email{}
	}

	return &FetchResult{
		Emails:  fetched,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: hasMore,
	}, nil
}

// toEmail converts a downloaded POP3 message into a storable row
func (f *POP3Fetcher) toEmail(userID uint, entity *message.Entity) models.Email {
	header := mail.Header{Header: entity.Header}

	email := models.Email{
		UserID: userID,
		Folder: models.FolderInbox,
	}

	if msgID, err := header.MessageID(); err == nil {
		email.MessageID = msgID
	}
	if subject, err := header.Subject(); err == nil {
		email.Subject = subject
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		d := date
		email.ReceivedAt = &d
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		email.FromAddr = from[0].String()
	}
	email.ToAddrs = encodeAddressList(addressListStrings(header, "To"))
	email.CcAddrs = encodeAddressList(addressListStrings(header, "Cc"))
	email.BccAddrs = encodeAddressList(addressListStrings(header, "Bcc"))

	text, html, hasAttachments := walkMessageEntity(entity)
	email.Text = text
	email.HTML = html
	if hasAttachments {
		placeholder := "[]"
		email.Attachments = &placeholder
	}

	return email
}

func addressListStrings(header mail.Header, key string) []string {
	addrs, err := header.AddressList(key)
	if err != nil {
		return nil
	}
	var out []string
	for _, addr := range addrs {
		out = append(out, addr.String())
	}
	return out
}
