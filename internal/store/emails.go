package store

import (
	"errors"

	"github.com/mailbridge/core/internal/database/models"
	"gorm.io/gorm"
)

// ErrEmailNotFound indicates the email does not exist or belongs to another user
var ErrEmailNotFound = errors.New("email not found")

// EmailStore persists fetched and sent messages. Fetched messages are
// deduplicated by (message_id, user_id) with a check-then-insert; there is no
// unique index backing it, so two concurrent fetches can in theory both
// insert. Fetches for one user do not run concurrently in practice.
type EmailStore struct {
	db *gorm.DB
}

// NewEmailStore creates an EmailStore backed by db
func NewEmailStore(db *gorm.DB) *EmailStore {
	return &EmailStore{db: db}
}

// SaveFetched stores messages retrieved from a provider, skipping any the
// user already has. Messages without a provider ID cannot be deduplicated
// and are dropped. Returns how many rows were inserted.
func (s *EmailStore) SaveFetched(userID uint, emails []models.Email) (int, error) {
	saved := 0
	for i := range emails {
		email := emails[i]
		if email.MessageID == "" {
			continue
		}
		email.UserID = userID

		var count int64
		if err := s.db.Model(&models.Email{}).
			Where("message_id = ? AND user_id = ?", email.MessageID, userID).
			Count(&count).Error; err != nil {
			return saved, err
		}
		if count > 0 {
			continue
		}

		if err := s.db.Create(&email).Error; err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

// SaveFetchedMergeFlags stores messages like SaveFetched, but when the user
// already has a message it updates the provider-owned flags on the existing
// row instead of skipping it. Microsoft Graph is authoritative for read,
// flagged, deleted and spam state, so a re-fetch refreshes them.
func (s *EmailStore) SaveFetchedMergeFlags(userID uint, emails []models.Email) error {
	for i := range emails {
		email := emails[i]
		if email.MessageID == "" {
			continue
		}
		email.UserID = userID

		var existing models.Email
		err := s.db.Where("message_id = ? AND user_id = ?", email.MessageID, userID).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := s.db.Create(&email).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		if err := s.db.Model(&existing).Updates(map[string]interface{}{
			"is_read":    email.IsRead,
			"is_flagged": email.IsFlagged,
			"is_deleted": email.IsDeleted,
			"is_spam":    email.IsSpam,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

// UpsertDetails refreshes a stored message with a full-body fetch. An
// existing row keeps its identity and gets the body and read state updated;
// a message seen for the first time is created whole. The passed email is
// updated with the stored row's ID.
func (s *EmailStore) UpsertDetails(userID uint, email *models.Email) error {
	if email.MessageID == "" {
		return s.db.Create(email).Error
	}
	email.UserID = userID

	var existing models.Email
	err := s.db.Where("message_id = ? AND user_id = ?", email.MessageID, userID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(email).Error
	}
	if err != nil {
		return err
	}

	if err := s.db.Model(&existing).Updates(map[string]interface{}{
		"html":    email.HTML,
		"text":    email.Text,
		"is_read": email.IsRead,
	}).Error; err != nil {
		return err
	}
	email.ID = existing.ID
	return nil
}

// CreateSent records a message the user sent. Sent mail is created
// unconditionally; it never went through a provider fetch so there is
// nothing to deduplicate against.
func (s *EmailStore) CreateSent(email *models.Email) error {
	email.Folder = models.FolderSent
	email.IsSent = true
	return s.db.Create(email).Error
}

// GetPage returns one page of a user's stored mail for a folder, newest
// first, excluding deleted messages, together with the total matching count
func (s *EmailStore) GetPage(userID uint, folder string, page, limit int) ([]models.Email, int64, error) {
	query := s.db.Model(&models.Email{}).
		Where("user_id = ? AND folder = ? AND is_deleted = ?", userID, folder, false)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var emails []models.Email
	if err := query.
		Order("received_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&emails).Error; err != nil {
		return nil, 0, err
	}
	return emails, total, nil
}

// FindByMessageIDs returns the user's stored rows for the given provider IDs
// within one folder, newest first, capped at limit. Used to read a
// just-persisted page back with its database IDs.
func (s *EmailStore) FindByMessageIDs(userID uint, folder string, messageIDs []string, limit int) ([]models.Email, error) {
	if len(messageIDs) == 0 {
		return []models.Email{}, nil
	}
	var emails []models.Email
	if err := s.db.
		Where("user_id = ? AND folder = ? AND message_id IN ?", userID, folder, messageIDs).
		Order("received_at DESC").
		Limit(limit).
		Find(&emails).Error; err != nil {
		return nil, err
	}
	return emails, nil
}

// CountInFolder counts a user's non-deleted messages in a folder
func (s *EmailStore) CountInFolder(userID uint, folder string) (int64, error) {
	var total int64
	err := s.db.Model(&models.Email{}).
		Where("user_id = ? AND folder = ? AND is_deleted = ?", userID, folder, false).
		Count(&total).Error
	return total, err
}

// MarkRead sets the read flag on a message owned by userID
func (s *EmailStore) MarkRead(userID, emailID uint, read bool) error {
	return s.updateOwned(userID, emailID, map[string]interface{}{"is_read": read})
}

// MarkFlagged sets the flagged state on a message owned by userID
func (s *EmailStore) MarkFlagged(userID, emailID uint, flagged bool) error {
	return s.updateOwned(userID, emailID, map[string]interface{}{"is_flagged": flagged})
}

// MarkDeleted soft-deletes a message owned by userID
func (s *EmailStore) MarkDeleted(userID, emailID uint) error {
	return s.updateOwned(userID, emailID, map[string]interface{}{"is_deleted": true})
}

// MoveToFolder moves a message owned by userID to another folder
func (s *EmailStore) MoveToFolder(userID, emailID uint, folder string) error {
	return s.updateOwned(userID, emailID, map[string]interface{}{"folder": folder})
}

// updateOwned applies fields to a single message, scoped by owner. A message
// belonging to another user looks exactly like a missing one.
func (s *EmailStore) updateOwned(userID, emailID uint, fields map[string]interface{}) error {
	res := s.db.Model(&models.Email{}).
		Where("id = ? AND user_id = ?", emailID, userID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEmailNotFound
	}
	return nil
}
