package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	id "github.com/emersion/go-imap-id"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/mailbridge/core/internal/database/models"
	"github.com/mailbridge/core/internal/store"
)

var (
	// ErrIMAPNotConfigured indicates the user's IMAP settings are incomplete
	ErrIMAPNotConfigured = errors.New("IMAP is not configured for this user")
	// ErrIMAPConnectionFailed indicates IMAP connection failed
	ErrIMAPConnectionFailed = errors.New("IMAP connection failed")
)

// IMAPFetcher retrieves inbox pages over IMAP. Fetched messages are persisted
// and the page is read back from the database; if persistence fails the page
// is still served from the in-memory fetch.
type IMAPFetcher struct {
	emails     *store.EmailStore
	logService *LogService
}

// NewIMAPFetcher creates an IMAPFetcher
func NewIMAPFetcher(emails *store.EmailStore, logService *LogService) *IMAPFetcher {
	return &IMAPFetcher{
		emails:     emails,
		logService: logService,
	}
}

// Protocol identifies the retrieval method
func (f *IMAPFetcher) Protocol() string { return "imap" }

// imapConfigured requires the whole credential bundle, not just the IMAP
// fields. A user with a half-filled settings form gets the not-configured
// error rather than a connection failure.
func imapConfigured(user *models.User) bool {
	return user.EmailHost != "" &&
		user.EmailUsername != "" &&
		user.EmailPassword != "" &&
		user.IMAPPort > 0 &&
		user.POP3Port > 0 &&
		user.SMTPPort > 0
}

// computeSeqWindow maps a (page, limit) request onto an IMAP sequence range.
// Sequence numbers count from the oldest message, so page 1 is the window
// ending at the highest sequence number. Both ends clamp to 1 when the page
// runs past the start of the mailbox.
func computeSeqWindow(total, page, limit int) (from, to uint32) {
	skip := (page - 1) * limit
	start := total - skip - limit + 1
	if start < 1 {
		start = 1
	}
	end := total - skip
	if end < 1 {
		end = 1
	}
	return uint32(start), uint32(end)
}

// Fetch retrieves one inbox page over IMAP
func (f *IMAPFetcher) Fetch(ctx context.Context, user *models.User, page, limit int) (*FetchResult, error) {
	if !imapConfigured(user) {
		return nil, ErrIMAPNotConfigured
	}

	c, err := f.connect(user)
	if err != nil {
		f.logService.LogError(user.ID, models.LogModuleEmail, "fetch", "IMAP connection failed", map[string]interface{}{
			"host":  user.EmailHost,
			"error": err.Error(),
		})
		return nil, err
	}
	defer c.Logout()

	// Read-only select; fetching a page must not flip \Seen flags
	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to select INBOX: %v", ErrIMAPConnectionFailed, err)
	}

	total := int(mbox.Messages)
	if total == 0 {
		return &FetchResult{
			Emails:  []models.Email{},
			Total:   0,
			Page:    page,
			Limit:   limit,
			HasMore: false,
		}, nil
	}

	from, to := computeSeqWindow(total, page, limit)
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(from, to)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, section.FetchItem()}

	messages := make(chan *imap.Message, limit)
	done := make(chan error, 1)

	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	var fetched []models.Email
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		fetched = append(fetched, f.toEmail(user.ID, msg, section))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("%w: fetch failed: %v", ErrIMAPConnectionFailed, err)
	}

	// IMAP returns the window oldest first
	for i, j := 0, len(fetched)-1; i < j; i, j = i+1, j-1 {
		fetched[i], fetched[j] = fetched[j], fetched[i]
	}

	result := &FetchResult{
		Emails:  fetched,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: hasMorePages(page, limit, total),
	}

	result.Emails = f.persistAndReload(user.ID, fetched, limit)
	return result, nil
}

// persistAndReload writes the fetched page through the deduplicating store
// and reads it back so callers get rows with database IDs. Any storage
// failure falls back to the in-memory page; a fetch that reached the server
// never fails on the way into the database.
func (f *IMAPFetcher) persistAndReload(userID uint, fetched []models.Email, limit int) []models.Email {
	if len(fetched) == 0 {
		return []models.Email{}
	}

	if _, err := f.emails.SaveFetched(userID, fetched); err != nil {
		f.logService.LogWarn(userID, models.LogModuleEmail, "fetch", "Failed to persist fetched emails", map[string]interface{}{
			"error": err.Error(),
		})
		return fetched
	}

	rows, err := f.emails.FindByMessageIDs(userID, models.FolderInbox, messageIDsOf(fetched), limit)
	if err != nil || len(rows) == 0 {
		return fetched
	}
	return rows
}

func messageIDsOf(emails []models.Email) []string {
	var ids []string
	for i := range emails {
		if emails[i].MessageID != "" {
			ids = append(ids, emails[i].MessageID)
		}
	}
	return ids
}

// connect establishes an authenticated IMAP session
func (f *IMAPFetcher) connect(user *models.User) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", user.EmailHost, user.IMAPPort)
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var c *client.Client
	if user.EmailSecure {
		tlsConfig := &tls.Config{ServerName: user.EmailHost}
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIMAPConnectionFailed, err)
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrIMAPConnectionFailed, err)
		}
	} else {
		conn, err := dialer.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIMAPConnectionFailed, err)
		}
		c, err = client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: %v", ErrIMAPConnectionFailed, err)
		}
	}

	c.Timeout = 2 * time.Minute

	// Some providers require client identification before login; servers
	// that don't care ignore it, so a failed ID never aborts the connect
	if ok, _ := c.Support("ID"); ok {
		idClient := id.NewClient(c)
		_, _ = idClient.ID(id.ID{
			id.FieldName:    "MailBridge",
			id.FieldVersion: "1.0.0",
			id.FieldVendor:  "MailBridge",
		})
	}

	if err := c.Login(user.EmailUsername, user.EmailPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: login failed: %v", ErrIMAPConnectionFailed, err)
	}

	return c, nil
}

// toEmail converts a fetched IMAP message into a storable row
func (f *IMAPFetcher) toEmail(userID uint, msg *imap.Message, section *imap.BodySectionName) models.Email {
	env := msg.Envelope

	email := models.Email{
		UserID:    userID,
		MessageID: env.MessageId,
		Subject:   env.Subject,
		Folder:    models.FolderInbox,
	}

	if len(env.From) > 0 {
		email.FromAddr = formatIMAPAddress(env.From[0])
	}
	email.ToAddrs = encodeAddressList(formatIMAPAddresses(env.To))
	email.CcAddrs = encodeAddressList(formatIMAPAddresses(env.Cc))
	email.BccAddrs = encodeAddressList(formatIMAPAddresses(env.Bcc))

	if !env.Date.IsZero() {
		date := env.Date
		email.ReceivedAt = &date
	}

	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			email.IsRead = true
		case imap.FlaggedFlag:
			email.IsFlagged = true
		case imap.DeletedFlag:
			email.IsDeleted = true
		}
	}

	if body := msg.GetBody(section); body != nil {
		raw, err := io.ReadAll(body)
		if err == nil && len(raw) > 0 {
			text, html, hasAttachments := parseMessageBody(raw)
			email.Text = text
			email.HTML = html
			if hasAttachments {
				placeholder := "[]"
				email.Attachments = &placeholder
			}
		}
	}

	return email
}

// parseMessageBody extracts text and HTML bodies from a raw RFC 822 message
// and reports whether any attachment parts are present. A message that cannot
// be parsed at all yields empty bodies rather than an error; the envelope data
// is still worth keeping.
func parseMessageBody(raw []byte) (text, html string, hasAttachments bool) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return "", "", false
	}
	return walkMessageEntity(entity)
}

func walkMessageEntity(entity *message.Entity) (text, html string, hasAttachments bool) {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}
			t, h, a := walkMessageEntity(part)
			if text == "" {
				text = t
			}
			if html == "" {
				html = h
			}
			hasAttachments = hasAttachments || a
		}
		return text, html, hasAttachments
	}

	if disp, _, err := entity.Header.ContentDisposition(); err == nil && disp == "attachment" {
		return "", "", true
	}

	mediaType, _, err := entity.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
	}

	switch {
	case mediaType == "text/plain":
		b, _ := io.ReadAll(entity.Body)
		return string(b), "", false
	case mediaType == "text/html":
		b, _ := io.ReadAll(entity.Body)
		return "", string(b), false
	case strings.HasPrefix(mediaType, "text/"):
		b, _ := io.ReadAll(entity.Body)
		return string(b), "", false
	default:
		// Non-text leaf without a disposition still counts as an attachment
		return "", "", true
	}
}

func formatIMAPAddress(addr *imap.Address) string {
	if addr == nil {
		return ""
	}
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", addr.PersonalName, addr.Address())
	}
	return addr.Address()
}

func formatIMAPAddresses(addrs []*imap.Address) []string {
	var out []string
	for _, addr := range addrs {
		if formatted := formatIMAPAddress(addr); formatted != "" {
			out = append(out, formatted)
		}
	}
	return out
}
