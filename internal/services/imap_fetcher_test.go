package services

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"
)

func TestIMAPToEmailAddressLists(t *testing.T) {
	f := NewIMAPFetcher(nil, nil)
	section := &imap.BodySectionName{Peek: true}

	msg := &imap.Message{
		Envelope: &imap.Envelope{
			Date:      time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
			Subject:   "address lists",
			MessageId: "<lists@example.com>",
			From: []*imap.Address{
				{PersonalName: "Alice", MailboxName: "alice", HostName: "example.com"},
			},
			To: []*imap.Address{
				{MailboxName: "bob", HostName: "example.com"},
			},
			Cc: []*imap.Address{
				{MailboxName: "carol", HostName: "example.com"},
			},
			Bcc: []*imap.Address{
				{PersonalName: "Dave", MailboxName: "dave", HostName: "example.com"},
			},
		},
		Flags: []string{imap.SeenFlag},
	}

	email := f.toEmail(4, msg, section)

	if email.FromAddr != "Alice <alice@example.com>" {
		t.Errorf("FromAddr = %q", email.FromAddr)
	}
	if to := decodeAddressList(email.ToAddrs); len(to) != 1 || to[0] != "bob@example.com" {
		t.Errorf("ToAddrs = %v", to)
	}
	if cc := decodeAddressList(email.CcAddrs); len(cc) != 1 || cc[0] != "carol@example.com" {
		t.Errorf("CcAddrs = %v", cc)
	}
	if bcc := decodeAddressList(email.BccAddrs); len(bcc) != 1 || bcc[0] != "Dave <dave@example.com>" {
		t.Errorf("BccAddrs = %v", bcc)
	}
	if !email.IsRead {
		t.Errorf("IsRead = false, want \\Seen mapped")
	}
	if email.MessageID != "<lists@example.com>" {
		t.Errorf("MessageID = %q", email.MessageID)
	}
}
