package models

import (
	"time"
)

// User represents a user account together with its email provider configuration
type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Email        string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string `gorm:"size:255" json:"-"`
	FirstName    string `gorm:"size:100" json:"first_name"`
	LastName     string `gorm:"size:100" json:"last_name"`
	Role         string `gorm:"size:20;default:'user'" json:"role"`
	IsDeleted    bool   `gorm:"default:false" json:"is_deleted"`

	// Microsoft account link
	MicrosoftID     string `gorm:"index;size:255" json:"microsoft_id,omitempty"`
	MicrosoftTokens string `gorm:"type:text" json:"-"` // JSON token blob

	// Email provider configuration
	EmailHost     string `gorm:"size:255" json:"email_host"`
	EmailUsername string `gorm:"size:255" json:"email_username"`
	// Ciphertext at rest; plaintext in memory once read through store.UserStore
	EmailPassword         string `gorm:"size:500" json:"-"`
	IMAPPort              int    `json:"imap_port"`
	POP3Port              int    `json:"pop3_port"`
	SMTPPort              int    `json:"smtp_port"`
	EmailSecure           bool   `gorm:"default:true" json:"email_secure"`
	IMAPEnabled           bool   `gorm:"default:false" json:"imap_enabled"`
	POP3Enabled           bool   `gorm:"default:false" json:"pop3_enabled"`
	SMTPEnabled           bool   `gorm:"default:false" json:"smtp_enabled"`
	MicrosoftGraphEnabled bool   `gorm:"default:false" json:"microsoft_graph_enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Emails []Email `gorm:"foreignKey:UserID" json:"emails,omitempty"`
}
