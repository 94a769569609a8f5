package services

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mailbridge/core/internal/database/models"
	"github.com/mailbridge/core/internal/store"
)

const graphMessageFixture = `{
	"id": "AAMkAGI2TG93AAA=",
	"subject": "Weekly report",
	"bodyPreview": "Here is the summary for this week",
	"body": {
		"contentType": "html",
		"content": "<p>Here is the summary for this week</p>"
	},
	"from": {
		"emailAddress": {"name": "Alice Chen", "address": "alice@contoso.com"}
	},
	"toRecipients": [
		{"emailAddress": {"name": "Bob", "address": "bob@contoso.com"}},
		{"emailAddress": {"name": "", "address": "carol@contoso.com"}}
	],
	"ccRecipients": [],
	"receivedDateTime": "2024-03-05T09:30:00Z",
	"sentDateTime": "2024-03-05T09:29:58Z",
	"isRead": true,
	"isDraft": false,
	"hasAttachments": true,
	"parentFolderId": "folder-inbox",
	"flag": {"flagStatus": "flagged"}
}`

func decodeFixture(t *testing.T) *graphMessage {
	t.Helper()
	var msg graphMessage
	if err := json.Unmarshal([]byte(graphMessageFixture), &msg); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return &msg
}

func TestNormalizeGraphMessage(t *testing.T) {
	msg := decodeFixture(t)
	email := normalizeGraphMessage(42, msg, "inbox")

	if email.UserID != 42 {
		t.Errorf("UserID = %d, want 42", email.UserID)
	}
	if email.MessageID != "AAMkAGI2TG93AAA=" {
		t.Errorf("MessageID = %q", email.MessageID)
	}
	if email.FromAddr != "alice@contoso.com" {
		t.Errorf("FromAddr = %q", email.FromAddr)
	}
	if email.Subject != "Weekly report" {
		t.Errorf("Subject = %q", email.Subject)
	}
	if email.Text != "Here is the summary for this week" {
		t.Errorf("Text = %q, want bodyPreview", email.Text)
	}
	if email.HTML != "<p>Here is the summary for this week</p>" {
		t.Errorf("HTML = %q", email.HTML)
	}

	to := decodeAddressList(email.ToAddrs)
	if len(to) != 2 || to[0] != "bob@contoso.com" || to[1] != "carol@contoso.com" {
		t.Errorf("ToAddrs = %v", to)
	}
	if cc := decodeAddressList(email.CcAddrs); len(cc) != 0 {
		t.Errorf("CcAddrs = %v, want empty", cc)
	}

	if !email.IsRead || !email.IsFlagged {
		t.Errorf("flags: read=%v flagged=%v", email.IsRead, email.IsFlagged)
	}
	if email.IsSpam || email.IsDeleted || email.IsSent || email.IsDraft {
		t.Errorf("unexpected folder flags set")
	}

	want := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	if email.ReceivedAt == nil || !email.ReceivedAt.Equal(want) {
		t.Errorf("ReceivedAt = %v, want %v", email.ReceivedAt, want)
	}

	// Attachment presence is reported but details are not fetched
	if email.Attachments == nil || *email.Attachments != "[]" {
		t.Errorf("Attachments = %v, want \"[]\" placeholder", email.Attachments)
	}
}

func TestNormalizeGraphMessageFolderFlags(t *testing.T) {
	cases := []struct {
		folder              string
		spam, deleted, sent bool
	}{
		{"inbox", false, false, false},
		{"junk", true, false, false},
		{"junkemail", true, false, false},
		{"deleteditems", false, true, false},
		{"sentitems", false, false, true},
		{"", false, false, false},
	}

	for _, tc := range cases {
		msg := decodeFixture(t)
		email := normalizeGraphMessage(1, msg, tc.folder)
		if email.IsSpam != tc.spam || email.IsDeleted != tc.deleted || email.IsSent != tc.sent {
			t.Errorf("folder %q: spam=%v deleted=%v sent=%v, want %v/%v/%v",
				tc.folder, email.IsSpam, email.IsDeleted, email.IsSent, tc.spam, tc.deleted, tc.sent)
		}
	}
}

func TestNormalizeGraphMessageSentFolder(t *testing.T) {
	msg := decodeFixture(t)
	email := normalizeGraphMessage(1, msg, "sentitems")
	if email.Folder != "SENT" {
		t.Errorf("Folder = %q, want SENT", email.Folder)
	}
	if email.SentAt == nil {
		t.Errorf("SentAt missing")
	}
}

func TestNormalizeGraphMessageNoAttachments(t *testing.T) {
	msg := decodeFixture(t)
	msg.HasAttachments = false
	email := normalizeGraphMessage(1, msg, "inbox")
	if email.Attachments != nil {
		t.Errorf("Attachments = %v, want nil", *email.Attachments)
	}
}

func newTestGraphFetcher(t *testing.T) (*GraphFetcher, *store.EmailStore, func()) {
	t.Helper()
	db, cleanup := setupEmailTestDB(t)
	emails := store.NewEmailStore(db)
	fetcher := NewGraphFetcher(NewGraphAuth("", "", ""), emails, NewLogService(db))
	return fetcher, emails, cleanup
}

func TestGraphPersistAndReloadAssignsIDs(t *testing.T) {
	fetcher, _, cleanup := newTestGraphFetcher(t)
	defer cleanup()

	base := time.Now()
	var page []models.Email
	for i := 0; i < 3; i++ {
		at := base.Add(-time.Duration(i) * time.Hour)
		page = append(page, models.Email{
			MessageID:  fmt.Sprintf("graph-page-%d", i),
			Subject:    "fetched",
			Folder:     models.FolderInbox,
			ReceivedAt: &at,
		})
	}

	rows := fetcher.persistAndReload(21, page, 10)
	if len(rows) != 3 {
		t.Fatalf("row count = %d, want 3", len(rows))
	}
	for _, row := range rows {
		if row.ID == 0 {
			t.Errorf("row %s has no database ID", row.MessageID)
		}
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].ReceivedAt.After(*rows[i-1].ReceivedAt) {
			t.Errorf("rows not ordered newest first at index %d", i)
		}
	}

	// A second pass reuses the stored rows instead of inserting duplicates
	again := fetcher.persistAndReload(21, page, 10)
	if len(again) != 3 {
		t.Fatalf("second pass row count = %d, want 3", len(again))
	}
}

func TestGraphPersistAndReloadFallsBackWithoutIDs(t *testing.T) {
	fetcher, _, cleanup := newTestGraphFetcher(t)
	defer cleanup()

	// Messages without provider IDs cannot be read back; the in-memory page
	// is served as-is
	page := []models.Email{{Subject: "no provider id", Folder: models.FolderInbox}}
	rows := fetcher.persistAndReload(22, page, 10)
	if len(rows) != 1 || rows[0].Subject != "no provider id" {
		t.Fatalf("fallback page = %+v, want the in-memory message", rows)
	}
}

func TestNormalizeGraphMessageTextBody(t *testing.T) {
	msg := decodeFixture(t)
	msg.Body.ContentType = "text"
	msg.Body.Content = "plain body"
	msg.BodyPreview = ""
	email := normalizeGraphMessage(1, msg, "inbox")
	if email.HTML != "" {
		t.Errorf("HTML = %q, want empty for text body", email.HTML)
	}
	if email.Text != "plain body" {
		t.Errorf("Text = %q, want body content when preview empty", email.Text)
	}
}
