package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds the application configuration
type Config struct {
	DatabasePath   string `json:"database_path"`
	APIPort        string `json:"api_port"`
	LogLevel       string `json:"log_level"`
	DataDir        string `json:"data_dir"`
	JWTSecret      string `json:"jwt_secret"`
	EncryptionKey  string `json:"encryption_key"`  // 主密钥（用于加密邮箱密码）
	EncryptionSalt string `json:"encryption_salt"` // PBKDF2 盐值
	CORSOrigins    string `json:"cors_origins"`

	// Microsoft Graph (client credentials flow) and sign-in (authorization code flow)
	MicrosoftClientID     string `json:"microsoft_client_id"`
	MicrosoftClientSecret string `json:"microsoft_client_secret"`
	MicrosoftTenantID     string `json:"microsoft_tenant_id"`
	MicrosoftRedirectURL  string `json:"microsoft_redirect_url"`
}

// Default configuration values
const (
	DefaultDatabasePath   = "data/mailbridge.db"
	DefaultAPIPort        = "8080"
	DefaultLogLevel       = "INFO"
	DefaultDataDir        = "data"
	DefaultJWTSecret      = "mailbridge-default-secret-change-in-production"
	DefaultEncryptionKey  = "" // 空表示从 JWTSecret 派生
	DefaultEncryptionSalt = "mailbridge-credential-salt"
	DefaultCORSOrigins    = "*"

	DefaultMicrosoftRedirectURL = "http://localhost:8080/api/auth/microsoft/callback"
)

// Load loads configuration from environment variables and config file
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:   DefaultDatabasePath,
		APIPort:        DefaultAPIPort,
		LogLevel:       DefaultLogLevel,
		DataDir:        DefaultDataDir,
		JWTSecret:      DefaultJWTSecret,
		EncryptionKey:  DefaultEncryptionKey,
		EncryptionSalt: DefaultEncryptionSalt,
		CORSOrigins:    DefaultCORSOrigins,

		MicrosoftRedirectURL: DefaultMicrosoftRedirectURL,
	}

	// Config file is optional
	if err := cfg.loadFromFile(); err != nil {
		return nil, err
	}

	cfg.loadFromEnv()

	return cfg, nil
}

// loadFromFile loads configuration from config.json
func (c *Config) loadFromFile() error {
	configPaths := []string{
		"config.json",
		filepath.Join(c.DataDir, "config.json"),
	}

	for _, path := range configPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return json.Unmarshal(data, c)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if val := os.Getenv("MAILBRIDGE_DATABASE_PATH"); val != "" {
		c.DatabasePath = val
	}
	if val := os.Getenv("MAILBRIDGE_API_PORT"); val != "" {
		c.APIPort = val
	}
	if val := os.Getenv("MAILBRIDGE_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("MAILBRIDGE_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("MAILBRIDGE_JWT_SECRET"); val != "" {
		c.JWTSecret = val
	}
	if val := os.Getenv("MAILBRIDGE_ENCRYPTION_KEY"); val != "" {
		c.EncryptionKey = val
	}
	if val := os.Getenv("MAILBRIDGE_ENCRYPTION_SALT"); val != "" {
		c.EncryptionSalt = val
	}
	if val := os.Getenv("MAILBRIDGE_CORS_ORIGINS"); val != "" {
		c.CORSOrigins = val
	}
	if val := os.Getenv("MICROSOFT_CLIENT_ID"); val != "" {
		c.MicrosoftClientID = val
	}
	if val := os.Getenv("MICROSOFT_CLIENT_SECRET"); val != "" {
		c.MicrosoftClientSecret = val
	}
	if val := os.Getenv("MICROSOFT_TENANT_ID"); val != "" {
		c.MicrosoftTenantID = val
	}
	if val := os.Getenv("MICROSOFT_REDIRECT_URL"); val != "" {
		c.MicrosoftRedirectURL = val
	}
}

// GetEncryptionSecret returns the master secret for password encryption
// If EncryptionKey is set, use it; otherwise derive from JWTSecret
func (c *Config) GetEncryptionSecret() string {
	if c.EncryptionKey != "" {
		return c.EncryptionKey
	}
	// 从 JWTSecret 派生（向后兼容）
	return c.JWTSecret + "-encryption"
}

// Save saves the current configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
