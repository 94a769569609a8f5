package services

import (
	"bytes"
	"context"
	cryptoRand "crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/mailbridge/core/internal/database/models"
	"github.com/mailbridge/core/internal/store"
)

var (
	// ErrNoRetrievalMethod indicates no email retrieval protocol is enabled for the user
	ErrNoRetrievalMethod = errors.New("no email retrieval method is enabled")
	// ErrSMTPNotConfigured indicates the user's SMTP settings are incomplete
	ErrSMTPNotConfigured = errors.New("SMTP is not configured for this user")
	// ErrSMTPConnectionFailed indicates SMTP connection failed
	ErrSMTPConnectionFailed = errors.New("SMTP connection failed")
	// ErrEmailSendFailed indicates email sending failed
	ErrEmailSendFailed = errors.New("email send failed")
)

const connectionTimeout = 10 * time.Second

// loginAuth implements smtp.Auth for LOGIN authentication
// Required for QQ Mail, 163 Mail and other providers that reject PLAIN
type loginAuth struct {
	username, password string
}

func newLoginAuth(username, password string) smtp.Auth {
	return &loginAuth{username, password}
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte{}, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		switch string(fromServer) {
		case "Username:", "username:":
			return []byte(a.username), nil
		case "Password:", "password:":
			return []byte(a.password), nil
		default:
			// Some servers send base64 encoded prompts
			decoded, err := base64.StdEncoding.DecodeString(string(fromServer))
			if err == nil {
				switch strings.ToLower(string(decoded)) {
				case "username:", "username":
					return []byte(a.username), nil
				case "password:", "password":
					return []byte(a.password), nil
				}
			}
			return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
		}
	}
	return nil, nil
}

// EmailService coordinates retrieval and sending across the configured
// protocols. Retrieval tries the user's enabled methods in a fixed priority
// order, Microsoft Graph first, then IMAP, then POP3; sending goes through
// Graph when it is enabled and never inspects the SMTP settings in that case.
type EmailService struct {
	users      *store.UserStore
	emails     *store.EmailStore
	imap       *IMAPFetcher
	pop3       *POP3Fetcher
	graph      *GraphFetcher
	logService *LogService
}

// NewEmailService creates a new EmailService instance
func NewEmailService(users *store.UserStore, emails *store.EmailStore, imap *IMAPFetcher, pop3 *POP3Fetcher, graph *GraphFetcher, logService *LogService) *EmailService {
	return &EmailService{
		users:      users,
		emails:     emails,
		imap:       imap,
		pop3:       pop3,
		graph:      graph,
		logService: logService,
	}
}

// normalizePage applies the default page and limit
func normalizePage(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

// FetchEmails retrieves one inbox page for the user over their
// highest-priority enabled protocol
func (s *EmailService) FetchEmails(ctx context.Context, userID uint, page, limit int) (*FetchResult, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}

	page, limit = normalizePage(page, limit)

	fetcher := s.selectFetcher(user)
	if fetcher == nil {
		return nil, ErrNoRetrievalMethod
	}

	result, err := fetcher.Fetch(ctx, user, page, limit)
	s.logService.LogEmailFetch(userID, fetcher.Protocol(), page, limit, resultCount(result), err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func resultCount(result *FetchResult) int {
	if result == nil {
		return 0
	}
	return len(result.Emails)
}

// selectFetcher picks the user's retrieval protocol by priority
func (s *EmailService) selectFetcher(user *models.User) Fetcher {
	switch {
	case user.MicrosoftGraphEnabled:
		return s.graph
	case user.IMAPEnabled:
		return s.imap
	case user.POP3Enabled:
		return s.pop3
	default:
		return nil
	}
}

// GetStoredEmails returns one page of the user's already-persisted mail
func (s *EmailService) GetStoredEmails(userID uint, folder string, page, limit int) (*FetchResult, error) {
	page, limit = normalizePage(page, limit)
	if folder == "" {
		folder = models.FolderInbox
	}

	emails, total, err := s.emails.GetPage(userID, folder, page, limit)
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		Emails:  emails,
		Total:   int(total),
		Page:    page,
		Limit:   limit,
		HasMore: hasMorePages(page, limit, int(total)),
	}, nil
}

// MarkEmailRead sets the read flag on one of the user's messages
func (s *EmailService) MarkEmailRead(userID, emailID uint, read bool) error {
	return s.emails.MarkRead(userID, emailID, read)
}

// MarkEmailFlagged sets the flagged state on one of the user's messages
func (s *EmailService) MarkEmailFlagged(userID, emailID uint, flagged bool) error {
	return s.emails.MarkFlagged(userID, emailID, flagged)
}

// DeleteEmail soft-deletes one of the user's messages
func (s *EmailService) DeleteEmail(userID, emailID uint) error {
	return s.emails.MarkDeleted(userID, emailID)
}

// MoveEmail moves one of the user's messages to another folder
func (s *EmailService) MoveEmail(userID, emailID uint, folder string) error {
	return s.emails.MoveToFolder(userID, emailID, folder)
}

// GetMailFolders lists the user's mailbox folders with counts. Folder
// listing is a Graph capability; IMAP and POP3 users get their mail through
// the fixed folder set.
func (s *EmailService) GetMailFolders(ctx context.Context, userID uint) ([]MailFolder, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if !user.MicrosoftGraphEnabled {
		return nil, ErrNoRetrievalMethod
	}
	return s.graph.GetMailFolders(ctx, user)
}

// GetEmailDetails fetches one message's full body from the provider and
// refreshes the stored row
func (s *EmailService) GetEmailDetails(ctx context.Context, userID uint, messageID string) (*models.Email, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	if !user.MicrosoftGraphEnabled {
		return nil, ErrNoRetrievalMethod
	}
	return s.graph.GetMessageDetails(ctx, user, messageID)
}

// SendEmailRequest carries an outgoing message
type SendEmailRequest struct {
	To      []string `json:"to" binding:"required"`
	Cc      []string `json:"cc"`
	Bcc     []string `json:"bcc"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

// SendEmailResult reports the outcome of a send
type SendEmailResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SendEmail sends a message over the user's configured transport. A user
// with Graph enabled sends through Graph regardless of what their SMTP
// settings contain.
func (s *EmailService) SendEmail(ctx context.Context, userID uint, req SendEmailRequest) (*SendEmailResult, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}

	transport := "smtp"
	messageID := generateMessageID(user.Email)

	if user.MicrosoftGraphEnabled {
		transport = "graph"
		err = s.graph.SendMail(ctx, user, req.To, req.Cc, req.Bcc, req.Subject, req.Text, req.HTML)
		if err == nil {
			// Graph assigns its own message ID and files the sent copy itself
			messageID = ""
		}
	} else {
		err = s.sendViaSMTP(user, req, messageID)
	}

	s.logService.LogEmailSend(userID, transport, strings.Join(req.To, ", "), req.Subject, err)
	if err != nil {
		return &SendEmailResult{
			Success: false,
			Error:   err.Error(),
		}, nil
	}

	now := time.Now()
	sent := &models.Email{
		UserID:    userID,
		MessageID: messageID,
		FromAddr:  user.Email,
		ToAddrs:   encodeAddressList(req.To),
		CcAddrs:   encodeAddressList(req.Cc),
		BccAddrs:  encodeAddressList(req.Bcc),
		Subject:   req.Subject,
		Text:      req.Text,
		HTML:      req.HTML,
		SentAt:    &now,
		IsRead:    true,
	}
	if err := s.emails.CreateSent(sent); err != nil {
		s.logService.LogWarn(userID, models.LogModuleEmail, "send", "Failed to record sent email", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return &SendEmailResult{
		Success:   true,
		MessageID: messageID,
	}, nil
}

func smtpConfigured(user *models.User) bool {
	return user.EmailHost != "" &&
		user.EmailUsername != "" &&
		user.EmailPassword != "" &&
		user.SMTPPort > 0
}

// sendViaSMTP sends the message over SMTP with the user's settings
func (s *EmailService) sendViaSMTP(user *models.User, req SendEmailRequest, messageID string) error {
	if !user.SMTPEnabled || !smtpConfigured(user) {
		return ErrSMTPNotConfigured
	}

	content := buildEmailContent(user, req, messageID)
	addr := fmt.Sprintf("%s:%d", user.EmailHost, user.SMTPPort)

	var recipients []string
	recipients = append(recipients, req.To...)
	recipients = append(recipients, req.Cc...)
	recipients = append(recipients, req.Bcc...)

	// QQ Mail, 163 Mail and related providers require LOGIN auth
	useLoginAuth := strings.Contains(user.EmailHost, "qq.com") ||
		strings.Contains(user.EmailHost, "163.com") ||
		strings.Contains(user.EmailHost, "126.com") ||
		strings.Contains(user.EmailHost, "yeah.net") ||
		strings.Contains(user.EmailHost, "aliyun.com") ||
		strings.Contains(user.EmailHost, "188.com")

	var client *smtp.Client
	if user.EmailSecure {
		tlsConfig := &tls.Config{ServerName: user.EmailHost}
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: connectionTimeout}, "tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSMTPConnectionFailed, err)
		}
		client, err = smtp.NewClient(conn, user.EmailHost)
		if err != nil {
			conn.Close()
			return fmt.Errorf("%w: %v", ErrSMTPConnectionFailed, err)
		}
	} else {
		var err error
		client, err = smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSMTPConnectionFailed, err)
		}
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{ServerName: user.EmailHost}
			if err := client.StartTLS(tlsConfig); err != nil {
				// Continue without TLS if STARTTLS fails
			}
		}
	}
	defer client.Close()

	// Try the provider's preferred auth first, fall back to the other
	var auth smtp.Auth
	if useLoginAuth {
		auth = newLoginAuth(user.EmailUsername, user.EmailPassword)
	} else {
		auth = smtp.PlainAuth("", user.EmailUsername, user.EmailPassword, user.EmailHost)
	}

	if err := client.Auth(auth); err != nil {
		if useLoginAuth {
			auth = smtp.PlainAuth("", user.EmailUsername, user.EmailPassword, user.EmailHost)
			if err2 := client.Auth(auth); err2 != nil {
				return fmt.Errorf("authentication failed (tried LOGIN and PLAIN): %v", err)
			}
		} else {
			auth = newLoginAuth(user.EmailUsername, user.EmailPassword)
			if err2 := client.Auth(auth); err2 != nil {
				return fmt.Errorf("authentication failed (tried PLAIN and LOGIN): %v", err)
			}
		}
	}

	if err := client.Mail(user.Email); err != nil {
		return fmt.Errorf("MAIL FROM failed: %v", err)
	}

	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO failed for %s: %v", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		return fmt.Errorf("write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close failed: %v", err)
	}

	// The message is accepted at this point; some servers return odd
	// responses to QUIT, so its error is ignored
	client.Quit()
	return nil
}

// buildEmailContent builds the raw RFC 822 message
func buildEmailContent(user *models.User, req SendEmailRequest, messageID string) string {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", user.Email))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(req.To, ", ")))
	if len(req.Cc) > 0 {
		buf.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(req.Cc, ", ")))
	}
	buf.WriteString(fmt.Sprintf("Subject: =?UTF-8?B?%s?=\r\n", base64.StdEncoding.EncodeToString([]byte(req.Subject))))
	buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if req.HTML != "" {
		// Multipart message with both plain text and HTML
		boundary := generateBoundary()
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(wrapBase64(base64.StdEncoding.EncodeToString([]byte(req.Text))))
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(wrapBase64(base64.StdEncoding.EncodeToString([]byte(req.HTML))))
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	} else {
		// Plain text only
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(wrapBase64(base64.StdEncoding.EncodeToString([]byte(req.Text))))
	}

	return buf.String()
}

// generateMessageID generates a unique message ID
func generateMessageID(email string) string {
	timestamp := time.Now().UnixNano()
	domain := "localhost"
	parts := strings.Split(email, "@")
	if len(parts) == 2 {
		domain = parts[1]
	}
	return fmt.Sprintf("<%d.%s@%s>", timestamp, randomString(8), domain)
}

// generateBoundary generates a MIME boundary
func generateBoundary() string {
	return fmt.Sprintf("----=_Part_%d_%s", time.Now().UnixNano(), randomString(16))
}

// wrapBase64 wraps base64 content to 76 characters per line (MIME standard)
func wrapBase64(content string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, content)

	const lineLength = 76
	var result strings.Builder
	for i := 0; i < len(cleaned); i += lineLength {
		end := i + lineLength
		if end > len(cleaned) {
			end = len(cleaned)
		}
		result.WriteString(cleaned[i:end])
		if end < len(cleaned) {
			result.WriteString("\r\n")
		}
	}
	return result.String()
}

// randomString generates a random alphanumeric string
func randomString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	randBytes := make([]byte, n)
	if _, err := cryptoRand.Read(randBytes); err != nil {
		for i := range b {
			b[i] = letters[int(time.Now().UnixNano())%len(letters)]
		}
		return string(b)
	}
	for i := range b {
		b[i] = letters[int(randBytes[i])%len(letters)]
	}
	return string(b)
}

// EmailConfig is the user-facing view of the provider settings; the password
// is write-only through UpdateEmailConfig and never leaves the server
type EmailConfig struct {
	EmailHost             string `json:"email_host"`
	EmailUsername         string `json:"email_username"`
	IMAPPort              int    `json:"imap_port"`
	POP3Port              int    `json:"pop3_port"`
	SMTPPort              int    `json:"smtp_port"`
	EmailSecure           bool   `json:"email_secure"`
	IMAPEnabled           bool   `json:"imap_enabled"`
	POP3Enabled           bool   `json:"pop3_enabled"`
	SMTPEnabled           bool   `json:"smtp_enabled"`
	MicrosoftGraphEnabled bool   `json:"microsoft_graph_enabled"`
}

// GetEmailConfig returns the user's provider settings without the password
func (s *EmailService) GetEmailConfig(userID uint) (*EmailConfig, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return nil, err
	}
	return &EmailConfig{
		EmailHost:             user.EmailHost,
		EmailUsername:         user.EmailUsername,
		IMAPPort:              user.IMAPPort,
		POP3Port:              user.POP3Port,
		SMTPPort:              user.SMTPPort,
		EmailSecure:           user.EmailSecure,
		IMAPEnabled:           user.IMAPEnabled,
		POP3Enabled:           user.POP3Enabled,
		SMTPEnabled:           user.SMTPEnabled,
		MicrosoftGraphEnabled: user.MicrosoftGraphEnabled,
	}, nil
}

// UpdateEmailConfigRequest carries provider settings updates. Pointer fields
// distinguish "not provided" from zero values.
type UpdateEmailConfigRequest struct {
	EmailHost             *string `json:"email_host"`
	EmailUsername         *string `json:"email_username"`
	EmailPassword         *string `json:"email_password"`
	IMAPPort              *int    `json:"imap_port"`
	POP3Port              *int    `json:"pop3_port"`
	SMTPPort              *int    `json:"smtp_port"`
	EmailSecure           *bool   `json:"email_secure"`
	IMAPEnabled           *bool   `json:"imap_enabled"`
	POP3Enabled           *bool   `json:"pop3_enabled"`
	SMTPEnabled           *bool   `json:"smtp_enabled"`
	MicrosoftGraphEnabled *bool   `json:"microsoft_graph_enabled"`
}

// UpdateEmailConfig applies the provided settings. The password goes through
// the user store, which encrypts it before it reaches the database.
func (s *EmailService) UpdateEmailConfig(userID uint, req UpdateEmailConfigRequest) (*EmailConfig, error) {
	fields := map[string]interface{}{}
	if req.EmailHost != nil {
		fields["email_host"] = *req.EmailHost
	}
	if req.EmailUsername != nil {
		fields["email_username"] = *req.EmailUsername
	}
	if req.EmailPassword != nil {
		fields["email_password"] = *req.EmailPassword
	}
	if req.IMAPPort != nil {
		fields["imap_port"] = *req.IMAPPort
	}
	if req.POP3Port != nil {
		fields["pop3_port"] = *req.POP3Port
	}
	if req.SMTPPort != nil {
		fields["smtp_port"] = *req.SMTPPort
	}
	if req.EmailSecure != nil {
		fields["email_secure"] = *req.EmailSecure
	}
	if req.IMAPEnabled != nil {
		fields["imap_enabled"] = *req.IMAPEnabled
	}
	if req.POP3Enabled != nil {
		fields["pop3_enabled"] = *req.POP3Enabled
	}
	if req.SMTPEnabled != nil {
		fields["smtp_enabled"] = *req.SMTPEnabled
	}
	if req.MicrosoftGraphEnabled != nil {
		fields["microsoft_graph_enabled"] = *req.MicrosoftGraphEnabled
	}

	if len(fields) > 0 {
		if _, err := s.users.Update(userID, fields); err != nil {
			return nil, err
		}
	}

	return s.GetEmailConfig(userID)
}
