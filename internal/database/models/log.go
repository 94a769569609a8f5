package models

import (
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

// Log levels
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogModule identifies the subsystem a log entry belongs to
type LogModule string

// Log modules
const (
	LogModuleAuth   LogModule = "auth"
	LogModuleEmail  LogModule = "email"
	LogModuleCrypto LogModule = "crypto"
	LogModuleGraph  LogModule = "graph"
	LogModuleUser   LogModule = "user"
)

// Log represents a structured log entry persisted to the database
type Log struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	Level     string    `gorm:"index;size:10" json:"level"`
	Module    string    `gorm:"index;size:50" json:"module"`
	Action    string    `gorm:"size:100" json:"action"`
	Message   string    `gorm:"size:500" json:"message"`
	Details   string    `gorm:"type:text" json:"details"` // JSON object stored as string
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
