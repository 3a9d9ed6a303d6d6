package repo

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-history/internal/domain"
)

// newRepoDB opens a file-backed SQLite database under t.TempDir and applies
// the given migrations. No migrations means "no tables", which the error-path
// tests rely on.
func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func allModels() []any {
	return []any{&domain.User{}, &domain.Conversation{}, &domain.Message{}, &domain.Idempotency{}, &domain.UserAPIKey{}}
}

func seedUser(t *testing.T, db *gorm.DB, id, username string) {
	t.Helper()
	u := &domain.User{ID: id, Username: username, Email: username + "@example.com", PasswordHash: "h", CreatedAt: time.Now().UTC(), IsActive: true}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedConversation(t *testing.T, db *gorm.DB, id, userID string, updated time.Time, state domain.Lifecycle) {
	t.Helper()
	c := &domain.Conversation{ID: id, UserID: userID, Title: "t", CreatedAt: updated, UpdatedAt: updated, Lifecycle: state}
	if err := db.Omit("User").Create(c).Error; err != nil {
		t.Fatalf("seed conversation %s: %v", id, err)
	}
}

func intp(v int) *int { return &v }
