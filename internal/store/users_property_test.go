package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mailbridge/core/internal/crypto"
	"github.com/mailbridge/core/internal/database/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupStoreTestDB creates a test database for store tests
func setupStoreTestDB(t *testing.T) (*gorm.DB, func()) {
	tempDir, err := os.MkdirTemp("", "store_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tempDir, "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("Failed to open database: %v", err)
	}

	db.AutoMigrate(&models.User{}, &models.Email{}, &models.Log{})

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		os.RemoveAll(tempDir)
	}

	return db, cleanup
}

func newTestEngine() *crypto.Engine {
	return crypto.New(crypto.Config{Secret: "store-test-secret", Salt: "store-test-salt"})
}

// Property: the email password is ciphertext in the database and plaintext
// when read back through the store
func TestProperty_PasswordEncryptedAtRest(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	db, cleanup := setupStoreTestDB(t)
	defer cleanup()

	users := NewUserStore(db, newTestEngine())
	seq := 0

	properties.Property("ciphertext_at_rest_plaintext_on_read", prop.ForAll(
		func(password string) bool {
			if password == "" {
				return true
			}
			seq++

			created, err := users.Create(&models.User{
				Email:         testEmail(seq),
				EmailPassword: password,
			})
			if err != nil {
				return false
			}

			// The caller's view stays plaintext
			if created.EmailPassword != password {
				return false
			}

			// The raw row holds ciphertext in the IV:payload format
			var raw models.User
			if err := db.First(&raw, created.ID).Error; err != nil {
				return false
			}
			if raw.EmailPassword == password || !strings.Contains(raw.EmailPassword, ":") {
				return false
			}

			// Reads decrypt
			loaded, err := users.FindByID(created.ID)
			if err != nil {
				return false
			}
			return loaded.EmailPassword == password
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// Property: updating the password through the store re-encrypts it
func TestProperty_PasswordUpdateReencrypts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	db, cleanup := setupStoreTestDB(t)
	defer cleanup()

	users := NewUserStore(db, newTestEngine())
	seq := 10000

	properties.Property("update_reencrypts_password", prop.ForAll(
		func(first, second string) bool {
			if first == "" || second == "" {
				return true
			}
			seq++

			created, err := users.Create(&models.User{
				Email:         testEmail(seq),
				EmailPassword: first,
			})
			if err != nil {
				return false
			}

			updated, err := users.Update(created.ID, map[string]interface{}{
				"email_password": second,
			})
			if err != nil {
				return false
			}
			if updated.EmailPassword != second {
				return false
			}

			var raw models.User
			if err := db.First(&raw, created.ID).Error; err != nil {
				return false
			}
			return raw.EmailPassword != second && raw.EmailPassword != ""
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestTamperedCiphertextReadsAsEmpty(t *testing.T) {
	db, cleanup := setupStoreTestDB(t)
	defer cleanup()

	users := NewUserStore(db, newTestEngine())

	created, err := users.Create(&models.User{
		Email:         "tamper@example.com",
		EmailPassword: "hunter2",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Corrupt the stored ciphertext directly
	if err := db.Model(&models.User{}).Where("id = ?", created.ID).
		Update("email_password", "00112233445566778899aabbccddeeff:bm90LXJlYWwtY2lwaGVydGV4dA==").Error; err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	loaded, err := users.FindByID(created.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if loaded.EmailPassword != "" {
		t.Errorf("tampered ciphertext read as %q, want \"\"", loaded.EmailPassword)
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	db, cleanup := setupStoreTestDB(t)
	defer cleanup()

	users := NewUserStore(db, newTestEngine())

	if _, err := users.Create(&models.User{Email: "dup@example.com"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := users.Create(&models.User{Email: "dup@example.com"}); err != ErrUserAlreadyExists {
		t.Errorf("duplicate Create err = %v, want ErrUserAlreadyExists", err)
	}
}

func TestFindMissingUser(t *testing.T) {
	db, cleanup := setupStoreTestDB(t)
	defer cleanup()

	users := NewUserStore(db, newTestEngine())

	if _, err := users.FindByID(9999); err != ErrUserNotFound {
		t.Errorf("FindByID err = %v, want ErrUserNotFound", err)
	}
	if _, err := users.FindByEmail("missing@example.com"); err != ErrUserNotFound {
		t.Errorf("FindByEmail err = %v, want ErrUserNotFound", err)
	}
	if _, err := users.Update(9999, map[string]interface{}{"role": "admin"}); err != ErrUserNotFound {
		t.Errorf("Update err = %v, want ErrUserNotFound", err)
	}
}

func testEmail(seq int) string {
	return fmt.Sprintf("user%d@example.com", seq)
}
