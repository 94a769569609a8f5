package services

import (
	"errors"

	"github.com/mailbridge/core/internal/database/models"
	"github.com/mailbridge/core/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials indicates invalid login credentials
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPasswordTooShort indicates the password is too short
	ErrPasswordTooShort = errors.New("password must be at least 6 characters")
)

// UserService handles user-related business logic
type UserService struct {
	users      *store.UserStore
	logService *LogService
}

// NewUserService creates a new UserService instance
func NewUserService(users *store.UserStore, logService *LogService) *UserService {
	return &UserService{
		users:      users,
		logService: logService,
	}
}

// Register creates a new user with a hashed password
func (s *UserService) Register(email, password, firstName, lastName string) (*models.User, error) {
	if len(password) < 6 {
		return nil, ErrPasswordTooShort
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		FirstName:    firstName,
		LastName:     lastName,
		Role:         "user",
	}

	created, err := s.users.Create(user)
	if err != nil {
		return nil, err
	}

	s.logService.LogInfo(created.ID, models.LogModuleUser, "register", "User registered", map[string]interface{}{
		"email": email,
	})
	return created, nil
}

// Authenticate verifies a user's credentials
func (s *UserService) Authenticate(email, password, clientIP string) (*models.User, error) {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		s.logService.LogLogin(0, email, clientIP, false, err)
		return nil, ErrInvalidCredentials
	}

	if user.IsDeleted {
		s.logService.LogLogin(user.ID, email, clientIP, false, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logService.LogLogin(user.ID, email, clientIP, false, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	s.logService.LogLogin(user.ID, email, clientIP, true, nil)
	return user, nil
}

// GetUser retrieves a user by ID
func (s *UserService) GetUser(id uint) (*models.User, error) {
	return s.users.FindByID(id)
}

// ListUsers returns all users
func (s *UserService) ListUsers() ([]models.User, error) {
	return s.users.FindAll()
}

// ResetPassword sets a user's password (admin operation)
func (s *UserService) ResetPassword(id uint, newPassword string) error {
	if len(newPassword) < 6 {
		return ErrPasswordTooShort
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = s.users.Update(id, map[string]interface{}{
		"password_hash": string(hashedPassword),
	})
	return err
}

// DeleteUser marks a user as deleted. The row stays for audit purposes;
// Authenticate rejects deleted accounts.
func (s *UserService) DeleteUser(id uint) error {
	user, err := s.users.FindByID(id)
	if err != nil {
		return err
	}

	if err := s.users.Delete(id); err != nil {
		return err
	}

	s.logService.LogInfo(id, models.LogModuleUser, "delete", "User deleted", map[string]interface{}{
		"email": user.Email,
	})
	return nil
}

// ValidateOrCreateMicrosoftUser looks up a user by their Microsoft account ID
// and creates one on first sign-in. An existing local account with the same
// email gets the Microsoft identity linked instead of a duplicate row. The
// token blob from the sign-in is stored on the user in every case; Microsoft
// rotates refresh tokens, so each sign-in replaces the previous blob.
func (s *UserService) ValidateOrCreateMicrosoftUser(microsoftID, email, firstName, lastName, tokens string) (*models.User, error) {
	if user, err := s.users.FindByMicrosoftID(microsoftID); err == nil {
		return s.users.Update(user.ID, map[string]interface{}{
			"microsoft_tokens": tokens,
		})
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	if user, err := s.users.FindByEmail(email); err == nil {
		updated, err := s.users.Update(user.ID, map[string]interface{}{
			"microsoft_id":            microsoftID,
			"microsoft_tokens":        tokens,
			"microsoft_graph_enabled": true,
		})
		if err != nil {
			return nil, err
		}
		s.logService.LogInfo(user.ID, models.LogModuleUser, "link_microsoft", "Microsoft account linked", map[string]interface{}{
			"email": email,
		})
		return updated, nil
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	user := &models.User{
		Email:                 email,
		FirstName:             firstName,
		LastName:              lastName,
		Role:                  "user",
		MicrosoftID:           microsoftID,
		MicrosoftTokens:       tokens,
		MicrosoftGraphEnabled: true,
	}
	created, err := s.users.Create(user)
	if err != nil {
		return nil, err
	}

	s.logService.LogInfo(created.ID, models.LogModuleUser, "register", "User created from Microsoft sign-in", map[string]interface{}{
		"email": email,
	})
	return created, nil
}
