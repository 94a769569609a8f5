package store

import (
	"errors"

	"github.com/mailbridge/core/internal/crypto"
	"github.com/mailbridge/core/internal/database/models"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates the user was not found
	ErrUserNotFound = errors.New("user not found")
	// ErrUserAlreadyExists indicates the email address is already registered
	ErrUserAlreadyExists = errors.New("user already exists")
)

// UserStore is the single read/write path for user rows. Every write encrypts
// User.EmailPassword before it reaches the database and every read decrypts it
// on the way out, so callers above this layer only ever see plaintext and the
// database only ever sees ciphertext. A value that fails to decrypt comes back
// as "" rather than an error; the caller treats it as an unconfigured password.
type UserStore struct {
	db     *gorm.DB
	engine *crypto.Engine
}

// NewUserStore creates a UserStore backed by db, protecting credentials with engine
func NewUserStore(db *gorm.DB, engine *crypto.Engine) *UserStore {
	return &UserStore{db: db, engine: engine}
}

// Create inserts a new user. The caller's struct is not modified; encryption
// happens on a copy so the in-memory password stays plaintext.
func (s *UserStore) Create(user *models.User) (*models.User, error) {
	var existing models.User
	if err := s.db.Where("email = ?", user.Email).First(&existing).Error; err == nil {
		return nil, ErrUserAlreadyExists
	}

	row := *user
	row.EmailPassword = s.engine.Encrypt(row.EmailPassword)

	if err := s.db.Create(&row).Error; err != nil {
		return nil, err
	}

	user.ID = row.ID
	user.CreatedAt = row.CreatedAt
	user.UpdatedAt = row.UpdatedAt
	return user, nil
}

// Update persists changed fields for an existing user, re-encrypting the
// email password. fields uses gorm column-style keys; an "email_password"
// entry is replaced with its ciphertext before the update runs.
func (s *UserStore) Update(id uint, fields map[string]interface{}) (*models.User, error) {
	if raw, ok := fields["email_password"]; ok {
		plaintext, _ := raw.(string)
		fields["email_password"] = s.engine.Encrypt(plaintext)
	}

	res := s.db.Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}

	return s.FindByID(id)
}

// FindByID retrieves a user by ID with the email password decrypted
func (s *UserStore) FindByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	s.decryptCredentials(&user)
	return &user, nil
}

// FindByEmail retrieves a user by email address with the password decrypted
func (s *UserStore) FindByEmail(email string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	s.decryptCredentials(&user)
	return &user, nil
}

// FindByMicrosoftID retrieves a user by their linked Microsoft account ID
func (s *UserStore) FindByMicrosoftID(microsoftID string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("microsoft_id = ?", microsoftID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	s.decryptCredentials(&user)
	return &user, nil
}

// FindAll returns all users, passwords decrypted
func (s *UserStore) FindAll() ([]models.User, error) {
	var users []models.User
	if err := s.db.Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		s.decryptCredentials(&users[i])
	}
	return users, nil
}

// Delete marks a user as deleted
func (s *UserStore) Delete(id uint) error {
	res := s.db.Model(&models.User{}).Where("id = ?", id).Update("is_deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *UserStore) decryptCredentials(user *models.User) {
	user.EmailPassword = s.engine.Decrypt(user.EmailPassword)
}
