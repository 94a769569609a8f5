package api

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mailbridge/core/internal/api/handlers"
	"github.com/mailbridge/core/internal/api/middleware"
	"github.com/mailbridge/core/internal/config"
	"github.com/mailbridge/core/internal/crypto"
	"github.com/mailbridge/core/internal/services"
	"github.com/mailbridge/core/internal/store"
	"gorm.io/gorm"
)

// SetupRouter initializes and returns the Gin router with all routes configured
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *middleware.AuthManager, error) {
	router := gin.Default()

	origins := strings.Split(cfg.CORSOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	if len(origins) == 0 || origins[0] == "" {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	authManager, err := middleware.NewAuthManager(cfg.DataDir, cfg.JWTSecret, middleware.DefaultTokenExpiry)
	if err != nil {
		return nil, nil, err
	}

	// Stores share one encryption engine; everything above them sees
	// plaintext credentials only
	engine := crypto.New(crypto.Config{
		Secret: cfg.GetEncryptionSecret(),
		Salt:   cfg.EncryptionSalt,
	})
	userStore := store.NewUserStore(db, engine)
	emailStore := store.NewEmailStore(db)

	logService := services.NewLogServiceWithLevel(db, cfg.LogLevel)
	userService := services.NewUserService(userStore, logService)

	graphAuth := services.NewGraphAuth(cfg.MicrosoftClientID, cfg.MicrosoftClientSecret, cfg.MicrosoftTenantID)
	imapFetcher := services.NewIMAPFetcher(emailStore, logService)
	pop3Fetcher := services.NewPOP3Fetcher(emailStore, logService)
	graphFetcher := services.NewGraphFetcher(graphAuth, emailStore, logService)
	emailService := services.NewEmailService(userStore, emailStore, imapFetcher, pop3Fetcher, graphFetcher, logService)

	authHandler := handlers.NewAuthHandler(userService, authManager.JWTManager, logService)
	oauthHandler := handlers.NewOAuthHandler(userService, authManager.JWTManager, cfg)
	emailHandler := handlers.NewEmailHandler(emailService, logService)

	// Health check endpoint (no auth required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.Use(middleware.APIKeyMiddleware(authManager.APIKeyManager))

		// Auth routes (API key required, but no JWT required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.GET("/microsoft", oauthHandler.GetMicrosoftAuthURL)
			auth.GET("/microsoft/callback", oauthHandler.MicrosoftCallback)
		}

		// Protected routes (API key + JWT required)
		protected := api.Group("")
		protected.Use(middleware.JWTMiddleware(authManager.JWTManager))
		{
			protected.GET("/auth/me", authHandler.GetCurrentUser)

			emails := protected.Group("/emails")
			{
				emails.GET("", emailHandler.ListEmails)
				emails.GET("/fetch", emailHandler.FetchEmails)
				emails.GET("/folders", emailHandler.ListFolders)
				emails.GET("/details", emailHandler.GetEmailDetails)
				emails.POST("/send", emailHandler.SendEmail)
				emails.GET("/config", emailHandler.GetEmailConfig)
				emails.PUT("/config", emailHandler.UpdateEmailConfig)
				emails.PUT("/:id/read", emailHandler.MarkRead)
				emails.PUT("/:id/flag", emailHandler.MarkFlagged)
				emails.PUT("/:id/move", emailHandler.MoveEmail)
				emails.DELETE("/:id", emailHandler.DeleteEmail)
			}
		}
	}

	return router, authManager, nil
}
