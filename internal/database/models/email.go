package models

import (
	"time"
)

// Email folders
const (
	FolderInbox = "INBOX"
	FolderSent  = "SENT"
)

// Email represents an email message persisted for a user.
// Address lists are stored as JSON arrays in text columns.
type Email struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	UserID    uint   `gorm:"index;not null" json:"user_id"`
	MessageID string `gorm:"index;size:512" json:"message_id"` // provider-native id, empty when unknown
	FromAddr  string `gorm:"size:512" json:"from"`
	ToAddrs   string `gorm:"type:text" json:"to"`
	CcAddrs   string `gorm:"type:text" json:"cc"`
	BccAddrs  string `gorm:"type:text" json:"bcc"`
	Subject   string `gorm:"size:998" json:"subject"`
	Text      string `gorm:"type:text" json:"text"`
	HTML      string `gorm:"type:text" json:"html"`

	ReceivedAt *time.Time `gorm:"index" json:"received_at"`
	SentAt     *time.Time `json:"sent_at"`
	Folder     string     `gorm:"index;size:100;default:'INBOX'" json:"folder"`

	IsRead    bool `gorm:"default:false" json:"is_read"`
	IsFlagged bool `gorm:"default:false" json:"is_flagged"`
	IsDeleted bool `gorm:"default:false" json:"is_deleted"`
	IsSpam    bool `gorm:"default:false" json:"is_spam"`
	IsDraft   bool `gorm:"default:false" json:"is_draft"`
	IsSent    bool `gorm:"default:false" json:"is_sent"`

	// nil means no attachments; "[]" means the provider reported attachments
	// whose details have not been fetched yet
	Attachments *string `gorm:"type:text" json:"attachments"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
