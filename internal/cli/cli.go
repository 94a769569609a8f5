package cli

import (
	"fmt"
	"os"

	"github.com/mailbridge/core/internal/api/middleware"
	"github.com/mailbridge/core/internal/config"
	"github.com/mailbridge/core/internal/crypto"
	"github.com/mailbridge/core/internal/services"
	"github.com/mailbridge/core/internal/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	db            *gorm.DB
	cfg           *config.Config
	apiKeyManager *middleware.APIKeyManager
	userService   *services.UserService
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mailbridge",
	Short: "MailBridge email backend service",
	Long: `MailBridge is a multi-protocol email backend. It retrieves mail over
IMAP, POP3 or Microsoft Graph, stores it per user, and serves it through a
REST API.

This command line tool provides:
  - Key management: show and reset the API key
  - User management: create users, list users, reset user passwords

Examples:
  mailbridge key show          # Show the current API key
  mailbridge key reset         # Reset the API key
  mailbridge user create       # Create a new user
  mailbridge user list         # List all users
  mailbridge user reset-pwd    # Reset a user's password`,
}

// Execute runs the CLI with the provided database and config
func Execute(database *gorm.DB, config *config.Config) {
	db = database
	cfg = config

	var err error
	apiKeyManager, err = middleware.NewAPIKeyManager(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize API key manager: %v\n", err)
		os.Exit(1)
	}

	engine := crypto.New(crypto.Config{
		Secret: cfg.GetEncryptionSecret(),
		Salt:   cfg.EncryptionSalt,
	})
	userStore := store.NewUserStore(db, engine)
	logService := services.NewLogServiceWithLevel(db, cfg.LogLevel)
	userService = services.NewUserService(userStore, logService)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(userCmd)
}
