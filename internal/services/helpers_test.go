package services

import (
	"context"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-history/internal/domain"
	"github.com/tbourn/go-chat-history/internal/repo"
)

// newSvcDB opens a migrated SQLite file under t.TempDir with the production
// PRAGMAs (WAL, busy_timeout, foreign_keys).
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(db) })
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newUsers(db *gorm.DB) *UserService { return NewUserService(db, bcrypt.MinCost) }

func mustUser(t *testing.T, us *UserService, name string) *domain.User {
	t.Helper()
	u, err := us.Create(context.Background(), name, name+"@example.com", "password-"+name)
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func intp(v int) *int { return &v }
