package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/microsoft"
)

// ErrGraphNotConfigured indicates the Microsoft Graph application credentials are missing
var ErrGraphNotConfigured = errors.New("Microsoft Graph is not configured")

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphAuth produces authenticated HTTP clients for Microsoft Graph using the
// client credentials flow. The underlying token source refreshes itself; the
// auth object is built once at startup and shared.
type GraphAuth struct {
	clientID     string
	clientSecret string
	config       *clientcredentials.Config
}

// NewGraphAuth creates a GraphAuth for the given application registration
func NewGraphAuth(clientID, clientSecret, tenantID string) *GraphAuth {
	if tenantID == "" {
		tenantID = "common"
	}
	return &GraphAuth{
		clientID:     clientID,
		clientSecret: clientSecret,
		config: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     microsoft.AzureADEndpoint(tenantID).TokenURL,
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		},
	}
}

// Configured reports whether application credentials are present
func (a *GraphAuth) Configured() bool {
	return a != nil && a.clientID != "" && a.clientSecret != ""
}

// Client returns an HTTP client that attaches bearer tokens to each request
func (a *GraphAuth) Client(ctx context.Context) (*http.Client, error) {
	if !a.Configured() {
		return nil, ErrGraphNotConfigured
	}
	client := a.config.Client(ctx)
	client.Timeout = 30 * time.Second
	return client, nil
}
