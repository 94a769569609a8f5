package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mailbridge/core/internal/api/middleware"
	"github.com/mailbridge/core/internal/config"
	"github.com/mailbridge/core/internal/services"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const graphProfileURL = "https://graph.microsoft.com/v1.0/me"

// OAuthHandler handles Microsoft sign-in via the authorization code flow.
// Sign-in is delegated: a browser is sent to the Microsoft consent page and
// comes back through the callback, which exchanges the code, reads the Graph
// profile and issues a local JWT.
type OAuthHandler struct {
	userService *services.UserService
	jwtManager  *middleware.JWTManager
	oauthConfig *oauth2.Config
	stateStore  *StateStore
}

// StateStore stores OAuth state tokens temporarily
type StateStore struct {
	mu     sync.RWMutex
	states map[string]*OAuthState
}

// OAuthState represents a pending sign-in attempt
type OAuthState struct {
	CreatedAt time.Time
}

// NewOAuthHandler creates a new OAuthHandler
func NewOAuthHandler(userService *services.UserService, jwtManager *middleware.JWTManager, cfg *config.Config) *OAuthHandler {
	return &OAuthHandler{
		userService: userService,
		jwtManager:  jwtManager,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
			Scopes: []string{
				"openid",
				"email",
				"profile",
				"offline_access",
				"https://graph.microsoft.com/User.Read",
			},
			Endpoint: microsoft.AzureADEndpoint(cfg.MicrosoftTenantID),
		},
		stateStore: &StateStore{
			states: make(map[string]*OAuthState),
		},
	}
}

// generateState generates a random state token
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// GetMicrosoftAuthURL returns the Microsoft authorization URL
// GET /api/auth/microsoft
func (h *OAuthHandler) GetMicrosoftAuthURL(c *gin.Context) {
	if h.oauthConfig.ClientID == "" || h.oauthConfig.ClientSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "OAUTH_NOT_CONFIGURED",
				"message": "Microsoft sign-in is not configured",
			},
		})
		return
	}

	state, err := generateState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "STATE_GENERATION_FAILED",
				"message": "Failed to generate state token",
			},
		})
		return
	}

	h.stateStore.mu.Lock()
	h.stateStore.states[state] = &OAuthState{CreatedAt: time.Now()}
	h.stateStore.mu.Unlock()

	go h.cleanupOldStates()

	url := h.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"auth_url": url,
		},
	})
}

// MicrosoftCallback handles the Microsoft OAuth callback
// GET /api/auth/microsoft/callback
func (h *OAuthHandler) MicrosoftCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	errorParam := c.Query("error")

	if errorParam != "" {
		c.Redirect(http.StatusFound, "/?signin_error="+errorParam)
		return
	}

	if code == "" || state == "" {
		c.Redirect(http.StatusFound, "/?signin_error=missing_params")
		return
	}

	h.stateStore.mu.RLock()
	oauthState, exists := h.stateStore.states[state]
	h.stateStore.mu.RUnlock()

	if !exists {
		c.Redirect(http.StatusFound, "/?signin_error=invalid_state")
		return
	}

	h.stateStore.mu.Lock()
	delete(h.stateStore.states, state)
	h.stateStore.mu.Unlock()

	if time.Since(oauthState.CreatedAt) > 10*time.Minute {
		c.Redirect(http.StatusFound, "/?signin_error=state_expired")
		return
	}

	token, err := h.oauthConfig.Exchange(context.Background(), code)
	if err != nil {
		c.Redirect(http.StatusFound, "/?signin_error=token_exchange_failed")
		return
	}

	profile, err := getMicrosoftProfile(token.AccessToken)
	if err != nil {
		c.Redirect(http.StatusFound, "/?signin_error=get_profile_failed")
		return
	}

	tokenBlob, err := json.Marshal(token)
	if err != nil {
		c.Redirect(http.StatusFound, "/?signin_error=token_encoding_failed")
		return
	}

	user, err := h.userService.ValidateOrCreateMicrosoftUser(
		profile.ID, profile.Email(), profile.GivenName, profile.Surname, string(tokenBlob))
	if err != nil {
		c.Redirect(http.StatusFound, "/?signin_error=user_creation_failed")
		return
	}

	jwt, _, err := h.jwtManager.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		c.Redirect(http.StatusFound, "/?signin_error=token_generation_failed")
		return
	}

	c.Redirect(http.StatusFound, "/?signin_token="+jwt)
}

// microsoftProfile is the subset of the Graph /me response the sign-in needs
type microsoftProfile struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
}

// Email prefers the mailbox address; accounts without a mailbox carry only
// the principal name
func (p *microsoftProfile) Email() string {
	if p.Mail != "" {
		return p.Mail
	}
	return p.UserPrincipalName
}

// getMicrosoftProfile fetches the signed-in user's profile from Microsoft Graph
func getMicrosoftProfile(accessToken string) (*microsoftProfile, error) {
	req, err := http.NewRequest(http.MethodGet, graphProfileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get profile: status %d", resp.StatusCode)
	}

	var profile microsoftProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("profile response missing account id")
	}

	return &profile, nil
}

// cleanupOldStates removes states older than 10 minutes
func (h *OAuthHandler) cleanupOldStates() {
	h.stateStore.mu.Lock()
	defer h.stateStore.mu.Unlock()

	for state, oauthState := range h.stateStore.states {
		if time.Since(oauthState.CreatedAt) > 10*time.Minute {
			delete(h.stateStore.states, state)
		}
	}
}
