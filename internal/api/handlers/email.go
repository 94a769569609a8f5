package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mailbridge/core/internal/api/middleware"
	"github.com/mailbridge/core/internal/services"
	"github.com/mailbridge/core/internal/store"
)

// EmailHandler handles email related requests
type EmailHandler struct {
	emailService *services.EmailService
	logService   *services.LogService
}

// NewEmailHandler creates a new EmailHandler instance
func NewEmailHandler(emailService *services.EmailService, logService *services.LogService) *EmailHandler {
	return &EmailHandler{
		emailService: emailService,
		logService:   logService,
	}
}

func requireUserID(c *gin.Context) (uint, bool) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "AUTH_FAILED",
				"message": "User not authenticated",
			},
		})
		return 0, false
	}
	return userID, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

// FetchEmails retrieves a page of the user's inbox from their provider
// GET /api/emails/fetch?page=1&limit=20
func (h *EmailHandler) FetchEmails(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)

	result, err := h.emailService.FetchEmails(c.Request.Context(), userID, page, limit)
	if err != nil {
		status := http.StatusInternalServerError
		code := "FETCH_FAILED"
		if errors.Is(err, services.ErrNoRetrievalMethod) {
			status = http.StatusBadRequest
			code = "NO_RETRIEVAL_METHOD"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// ListEmails returns a page of the user's stored mail
// GET /api/emails?folder=INBOX&page=1&limit=20
func (h *EmailHandler) ListEmails(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	folder := c.DefaultQuery("folder", "INBOX")
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)

	result, err := h.emailService.GetStoredEmails(userID, folder, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Failed to list emails",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// SendEmail sends a message over the user's configured transport
// POST /api/emails/send
func (h *EmailHandler) SendEmail(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req services.SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request body",
				"details": err.Error(),
			},
		})
		return
	}

	result, err := h.emailService.SendEmail(c.Request.Context(), userID, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "SEND_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	if !result.Success {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "SEND_FAILED",
				"message": result.Error,
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

func (h *EmailHandler) emailIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid email ID",
			},
		})
		return 0, false
	}
	return uint(id), true
}

func (h *EmailHandler) respondUpdate(c *gin.Context, err error) {
	if err != nil {
		if errors.Is(err, store.ErrEmailNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Email not found",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": err.Error(),
			},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MarkRead sets the read flag on a message
// PUT /api/emails/:id/read
func (h *EmailHandler) MarkRead(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	emailID, ok := h.emailIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Read *bool `json:"read"`
	}
	read := true
	if err := c.ShouldBindJSON(&req); err == nil && req.Read != nil {
		read = *req.Read
	}

	h.respondUpdate(c, h.emailService.MarkEmailRead(userID, emailID, read))
}

// MarkFlagged sets the flagged state on a message
// PUT /api/emails/:id/flag
func (h *EmailHandler) MarkFlagged(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	emailID, ok := h.emailIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Flagged *bool `json:"flagged"`
	}
	flagged := true
	if err := c.ShouldBindJSON(&req); err == nil && req.Flagged != nil {
		flagged = *req.Flagged
	}

	h.respondUpdate(c, h.emailService.MarkEmailFlagged(userID, emailID, flagged))
}

// DeleteEmail soft-deletes a message
// DELETE /api/emails/:id
func (h *EmailHandler) DeleteEmail(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	emailID, ok := h.emailIDParam(c)
	if !ok {
		return
	}

	h.respondUpdate(c, h.emailService.DeleteEmail(userID, emailID))
}

// MoveEmail moves a message to another folder
// PUT /api/emails/:id/move
func (h *EmailHandler) MoveEmail(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	emailID, ok := h.emailIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Folder string `json:"folder" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Folder is required",
			},
		})
		return
	}

	h.respondUpdate(c, h.emailService.MoveEmail(userID, emailID, req.Folder))
}

// ListFolders returns the user's mailbox folders with message counts
// GET /api/emails/folders
func (h *EmailHandler) ListFolders(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	folders, err := h.emailService.GetMailFolders(c.Request.Context(), userID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "FETCH_FAILED"
		if errors.Is(err, services.ErrNoRetrievalMethod) {
			status = http.StatusBadRequest
			code = "NO_RETRIEVAL_METHOD"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    folders,
	})
}

// GetEmailDetails fetches a message's full body from the provider
// GET /api/emails/details?message_id=...
func (h *EmailHandler) GetEmailDetails(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	messageID := c.Query("message_id")
	if messageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "message_id is required",
			},
		})
		return
	}

	email, err := h.emailService.GetEmailDetails(c.Request.Context(), userID, messageID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "FETCH_FAILED"
		if errors.Is(err, services.ErrNoRetrievalMethod) {
			status = http.StatusBadRequest
			code = "NO_RETRIEVAL_METHOD"
		}
		c.JSON(status, gin.H{
			"success": false,
			"error": gin.H{
				"code":    code,
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    email,
	})
}

// GetEmailConfig returns the user's provider settings
// GET /api/emails/config
func (h *EmailHandler) GetEmailConfig(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	cfg, err := h.emailService.GetEmailConfig(userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NOT_FOUND",
				"message": "User not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    cfg,
	})
}

// UpdateEmailConfig applies provider settings changes
// PUT /api/emails/config
func (h *EmailHandler) UpdateEmailConfig(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req services.UpdateEmailConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request body",
				"details": err.Error(),
			},
		})
		return
	}

	cfg, err := h.emailService.UpdateEmailConfig(userID, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    cfg,
	})
}
