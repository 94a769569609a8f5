package services

import (
	"errors"
	"testing"

	"github.com/mailbridge/core/internal/crypto"
	"github.com/mailbridge/core/internal/store"
	"gorm.io/gorm"
)

func newTestUserService(db *gorm.DB) (*UserService, *store.UserStore) {
	engine := crypto.New(crypto.Config{Secret: "user-test-secret", Salt: "user-test-salt"})
	users := store.NewUserStore(db, engine)
	return NewUserService(users, NewLogService(db)), users
}

func TestMicrosoftSignInCreatesUser(t *testing.T) {
	db, cleanup := setupEmailTestDB(t)
	defer cleanup()

	svc, _ := newTestUserService(db)

	user, err := svc.ValidateOrCreateMicrosoftUser("ms-account-1", "new@contoso.com", "Alice", "Chen", `{"access_token":"t1"}`)
	if err != nil {
		t.Fatalf("first sign-in: %v", err)
	}
	if user.ID == 0 {
		t.Fatal("created user has no ID")
	}
	if user.MicrosoftID != "ms-account-1" || !user.MicrosoftGraphEnabled {
		t.Errorf("Microsoft identity not set: id=%q enabled=%v", user.MicrosoftID, user.MicrosoftGraphEnabled)
	}
	if user.MicrosoftTokens != `{"access_token":"t1"}` {
		t.Errorf("MicrosoftTokens = %q", user.MicrosoftTokens)
	}
	if user.FirstName != "Alice" || user.LastName != "Chen" {
		t.Errorf("name = %q %q", user.FirstName, user.LastName)
	}
}

func TestMicrosoftSignInRefreshesTokens(t *testing.T) {
	db, cleanup := setupEmailTestDB(t)
	defer cleanup()

	svc, _ := newTestUserService(db)

	first, err := svc.ValidateOrCreateMicrosoftUser("ms-account-2", "repeat@contoso.com", "", "", `{"access_token":"old"}`)
	if err != nil {
		t.Fatalf("first sign-in: %v", err)
	}

	// The second sign-in finds the account by its Microsoft ID and replaces
	// the stored token blob
	second, err := svc.ValidateOrCreateMicrosoftUser("ms-account-2", "repeat@contoso.com", "", "", `{"access_token":"new"}`)
	if err != nil {
		t.Fatalf("second sign-in: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second sign-in created user %d, want existing %d", second.ID, first.ID)
	}
	if second.MicrosoftTokens != `{"access_token":"new"}` {
		t.Errorf("MicrosoftTokens = %q, want refreshed blob", second.MicrosoftTokens)
	}
}

func TestMicrosoftSignInLinksExistingEmail(t *testing.T) {
	db, cleanup := setupEmailTestDB(t)
	defer cleanup()

	svc, _ := newTestUserService(db)

	local, err := svc.Register("local@contoso.com", "password1", "Bob", "Lee")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	linked, err := svc.ValidateOrCreateMicrosoftUser("ms-account-3", "local@contoso.com", "Bob", "Lee", `{"access_token":"t3"}`)
	if err != nil {
		t.Fatalf("sign-in: %v", err)
	}
	if linked.ID != local.ID {
		t.Errorf("sign-in created user %d, want linked local account %d", linked.ID, local.ID)
	}
	if linked.MicrosoftID != "ms-account-3" || !linked.MicrosoftGraphEnabled {
		t.Errorf("Microsoft identity not linked: id=%q enabled=%v", linked.MicrosoftID, linked.MicrosoftGraphEnabled)
	}
	if linked.MicrosoftTokens != `{"access_token":"t3"}` {
		t.Errorf("MicrosoftTokens = %q", linked.MicrosoftTokens)
	}

	// The local password still works after linking
	if _, err := svc.Authenticate("local@contoso.com", "password1", "127.0.0.1"); err != nil {
		t.Errorf("Authenticate after linking: %v", err)
	}
}

func TestDeleteUserBlocksAuthentication(t *testing.T) {
	db, cleanup := setupEmailTestDB(t)
	defer cleanup()

	svc, users := newTestUserService(db)

	user, err := svc.Register("gone@contoso.com", "password1", "", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Authenticate("gone@contoso.com", "password1", "127.0.0.1"); err != nil {
		t.Fatalf("Authenticate before delete: %v", err)
	}

	if err := svc.DeleteUser(user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	// The row survives as a tombstone but can no longer sign in
	row, err := users.FindByID(user.ID)
	if err != nil {
		t.Fatalf("FindByID after delete: %v", err)
	}
	if !row.IsDeleted {
		t.Error("IsDeleted = false after delete")
	}
	if _, err := svc.Authenticate("gone@contoso.com", "password1", "127.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate after delete err = %v, want ErrInvalidCredentials", err)
	}

	// Deleting a missing user reports not found
	if err := svc.DeleteUser(99999); !errors.Is(err, store.ErrUserNotFound) {
		t.Errorf("DeleteUser missing err = %v, want ErrUserNotFound", err)
	}
}
