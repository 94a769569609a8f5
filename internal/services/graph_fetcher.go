package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mailbridge/core/internal/database/models"
	"github.com/mailbridge/core/internal/store"
)

// graphRecipient mirrors the Graph API recipient shape
type graphRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

// graphMessage mirrors the Graph API message shape, limited to the fields
// the fetcher selects
type graphMessage struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	BodyPreview string `json:"bodyPreview"`
	Body        struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From             graphRecipient   `json:"from"`
	ToRecipients     []graphRecipient `json:"toRecipients"`
	CcRecipients     []graphRecipient `json:"ccRecipients"`
	ReceivedDateTime *time.Time       `json:"receivedDateTime"`
	SentDateTime     *time.Time       `json:"sentDateTime"`
	IsRead           bool             `json:"isRead"`
	IsDraft          bool             `json:"isDraft"`
	HasAttachments   bool             `json:"hasAttachments"`
	ParentFolderID   string           `json:"parentFolderId"`
	Flag             struct {
		FlagStatus string `json:"flagStatus"`
	} `json:"flag"`
}

type graphFolder struct {
	ID              string `json:"id"`
	DisplayName     string `json:"displayName"`
	TotalItemCount  int    `json:"totalItemCount"`
	UnreadItemCount int    `json:"unreadItemCount"`
}

// MailFolder is a mailbox folder with its message counts
type MailFolder struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	TotalCount  int    `json:"total_count"`
	UnreadCount int    `json:"unread_count"`
}

// GraphFetcher retrieves mailbox pages through the Microsoft Graph REST API.
// Graph owns the flag state of its messages, so persisted rows get their
// read, flagged, deleted and spam flags refreshed on every fetch.
type GraphFetcher struct {
	auth       *GraphAuth
	emails     *store.EmailStore
	logService *LogService
	folders    *Cache // folder list per mailbox
}

// NewGraphFetcher creates a GraphFetcher
func NewGraphFetcher(auth *GraphAuth, emails *store.EmailStore, logService *LogService) *GraphFetcher {
	return &GraphFetcher{
		auth:       auth,
		emails:     emails,
		logService: logService,
		folders:    NewCache(10 * time.Minute),
	}
}

// Protocol identifies the retrieval method
func (f *GraphFetcher) Protocol() string { return "graph" }

// Fetch retrieves one mailbox page through Graph. The total count and the
// page come from two separate requests; a message arriving between them can
// shift the page by one, which is accepted.
func (f *GraphFetcher) Fetch(ctx context.Context, user *models.User, page, limit int) (*FetchResult, error) {
	client, err := f.auth.Client(ctx)
	if err != nil {
		return nil, err
	}

	mailbox := user.Email
	total, err := f.countMessages(ctx, client, mailbox)
	if err != nil {
		f.logService.LogError(user.ID, models.LogModuleGraph, "fetch", "Graph message count failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
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

	messages, err := f.fetchPage(ctx, client, mailbox, page, limit)
	if err != nil {
		return nil, err
	}

	folderNames := f.folderNames(ctx, client, mailbox)

	emails := make([]models.Email, 0, len(messages))
	for i := range messages {
		emails = append(emails, normalizeGraphMessage(user.ID, &messages[i], folderNames[messages[i].ParentFolderID]))
	}

	return &FetchResult{
		Emails:  f.persistAndReload(user.ID, emails, limit),
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: hasMorePages(page, limit, total),
	}, nil
}

// persistAndReload writes the page through the flag-merging store and reads
// it back so callers get rows with database IDs, which the per-message
// operations are keyed on. Any storage failure falls back to the in-memory
// page.
func (f *GraphFetcher) persistAndReload(userID uint, emails []models.Email, limit int) []models.Email {
	if len(emails) == 0 {
		return []models.Email{}
	}

	if err := f.emails.SaveFetchedMergeFlags(userID, emails); err != nil {
		f.logService.LogWarn(userID, models.LogModuleGraph, "fetch", "Failed to persist fetched emails", map[string]interface{}{
			"error": err.Error(),
		})
		return emails
	}

	rows, err := f.emails.FindByMessageIDs(userID, models.FolderInbox, messageIDsOf(emails), limit)
	if err != nil || len(rows) == 0 {
		return emails
	}
	return rows
}

// countMessages asks Graph for the mailbox message count. The $count endpoint
// requires the eventual consistency header.
func (f *GraphFetcher) countMessages(ctx context.Context, client *http.Client, mailbox string) (int, error) {
	endpoint := fmt.Sprintf("%s/users/%s/messages/$count", graphBaseURL, url.PathEscape(mailbox))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("ConsistencyLevel", "eventual")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("graph count request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(body)))
}

// fetchPage retrieves one page of messages, newest first
func (f *GraphFetcher) fetchPage(ctx context.Context, client *http.Client, mailbox string, page, limit int) ([]graphMessage, error) {
	skip := (page - 1) * limit

	query := url.Values{}
	query.Set("$top", strconv.Itoa(limit))
	query.Set("$skip", strconv.Itoa(skip))
	query.Set("$orderby", "receivedDateTime desc")
	query.Set("$select", "id,subject,bodyPreview,body,from,toRecipients,ccRecipients,receivedDateTime,sentDateTime,isRead,isDraft,hasAttachments,parentFolderId,flag")

	endpoint := fmt.Sprintf("%s/users/%s/messages?%s", graphBaseURL, url.PathEscape(mailbox), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph messages request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		Value []graphMessage `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Value, nil
}

// listFolders fetches the mailbox's folders with their counts, cached per
// mailbox
func (f *GraphFetcher) listFolders(ctx context.Context, client *http.Client, mailbox string) ([]graphFolder, error) {
	if cached, ok := f.folders.Get(mailbox); ok {
		return cached.([]graphFolder), nil
	}

	query := url.Values{}
	query.Set("$top", "100")
	query.Set("$select", "id,displayName,totalItemCount,unreadItemCount")

	endpoint := fmt.Sprintf("%s/users/%s/mailFolders?%s", graphBaseURL, url.PathEscape(mailbox), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph mailFolders request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		Value []graphFolder `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	f.folders.Set(mailbox, payload.Value)
	return payload.Value, nil
}

// folderNames returns the mailbox's folder id to name map. A failed lookup
// yields an empty map; messages then simply carry no folder-derived flags
// for this fetch.
func (f *GraphFetcher) folderNames(ctx context.Context, client *http.Client, mailbox string) map[string]string {
	folders, err := f.listFolders(ctx, client, mailbox)
	if err != nil {
		return map[string]string{}
	}

	names := make(map[string]string, len(folders))
	for _, folder := range folders {
		names[folder.ID] = strings.ToLower(strings.ReplaceAll(folder.DisplayName, " ", ""))
	}
	return names
}

// GetMailFolders lists the user's mailbox folders with message counts
func (f *GraphFetcher) GetMailFolders(ctx context.Context, user *models.User) ([]MailFolder, error) {
	client, err := f.auth.Client(ctx)
	if err != nil {
		return nil, err
	}

	folders, err := f.listFolders(ctx, client, user.Email)
	if err != nil {
		return nil, err
	}

	out := make([]MailFolder, 0, len(folders))
	for _, folder := range folders {
		out = append(out, MailFolder{
			ID:          folder.ID,
			DisplayName: folder.DisplayName,
			TotalCount:  folder.TotalItemCount,
			UnreadCount: folder.UnreadItemCount,
		})
	}
	return out, nil
}

// GetMessageDetails fetches one message with its full body and refreshes
// the stored row with it
func (f *GraphFetcher) GetMessageDetails(ctx context.Context, user *models.User, messageID string) (*models.Email, error) {
	client, err := f.auth.Client(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("$select", "id,subject,bodyPreview,body,from,toRecipients,ccRecipients,receivedDateTime,sentDateTime,isRead,isDraft,hasAttachments,parentFolderId,flag")

	endpoint := fmt.Sprintf("%s/users/%s/messages/%s?%s",
		graphBaseURL, url.PathEscape(user.Email), url.PathEscape(messageID), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("graph message request failed with status %d", resp.StatusCode)
	}

	var msg graphMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, err
	}

	folderNames := f.folderNames(ctx, client, user.Email)
	email := normalizeGraphMessage(user.ID, &msg, folderNames[msg.ParentFolderID])

	if err := f.emails.UpsertDetails(user.ID, &email); err != nil {
		f.logService.LogWarn(user.ID, models.LogModuleGraph, "details", "Failed to persist email details", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return &email, nil
}

// normalizeGraphMessage maps a Graph message onto the storage shape. The
// folder name is the lowercased, despaced display name of the parent folder;
// "" when unknown.
func normalizeGraphMessage(userID uint, msg *graphMessage, folderName string) models.Email {
	email := models.Email{
		UserID:    userID,
		MessageID: msg.ID,
		Subject:   msg.Subject,
		FromAddr:  msg.From.EmailAddress.Address,
		ToAddrs:   encodeAddressList(recipientAddresses(msg.ToRecipients)),
		CcAddrs:   encodeAddressList(recipientAddresses(msg.CcRecipients)),
		Text:      msg.BodyPreview,
		Folder:    models.FolderInbox,
		IsRead:    msg.IsRead,
		IsDraft:   msg.IsDraft,
		IsFlagged: msg.Flag.FlagStatus == "flagged",
		IsDeleted: folderName == "deleteditems",
		IsSpam:    folderName == "junk" || folderName == "junkemail",
		IsSent:    folderName == "sentitems",
	}

	if strings.EqualFold(msg.Body.ContentType, "html") {
		email.HTML = msg.Body.Content
	} else if msg.Body.Content != "" && email.Text == "" {
		email.Text = msg.Body.Content
	}

	if msg.ReceivedDateTime != nil {
		email.ReceivedAt = msg.ReceivedDateTime
	}
	if msg.SentDateTime != nil {
		email.SentAt = msg.SentDateTime
	}
	if email.IsSent {
		email.Folder = models.FolderSent
	}

	// The message list reports attachment presence only; "[]" marks
	// attachments whose details were not fetched, nil marks none
	if msg.HasAttachments {
		placeholder := "[]"
		email.Attachments = &placeholder
	}

	return email
}

func recipientAddresses(recipients []graphRecipient) []string {
	var out []string
	for _, r := range recipients {
		if r.EmailAddress.Address != "" {
			out = append(out, r.EmailAddress.Address)
		}
	}
	return out
}

// SendMail sends a message through Graph on behalf of the mailbox owner
func (f *GraphFetcher) SendMail(ctx context.Context, user *models.User, to, cc, bcc []string, subject, text, html string) error {
	client, err := f.auth.Client(ctx)
	if err != nil {
		return err
	}

	contentType := "Text"
	content := text
	if html != "" {
		contentType = "HTML"
		content = html
	}

	payload := map[string]interface{}{
		"message": map[string]interface{}{
			"subject": subject,
			"body": map[string]string{
				"contentType": contentType,
				"content":     content,
			},
			"toRecipients":  makeRecipients(to),
			"ccRecipients":  makeRecipients(cc),
			"bccRecipients": makeRecipients(bcc),
		},
		"saveToSentItems": true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", graphBaseURL, url.PathEscape(user.Email))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("graph sendMail failed with status %d", resp.StatusCode)
	}
	return nil
}

func makeRecipients(addrs []string) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, map[string]interface{}{
			"emailAddress": map[string]string{"address": addr},
		})
	}
	return out
}
