package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateUser_UniqueUsernameAndEmail(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()

	u, err := CreateUser(ctx, db, "alice", "alice@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || !u.IsActive || u.LastLogin != nil {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := CreateUser(ctx, db, "alice", "other@example.com", "hash"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("username clash: expected ErrDuplicate, got %v", err)
	}
	if _, err := CreateUser(ctx, db, "alice2", "alice@example.com", "hash"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("email clash: expected ErrDuplicate, got %v", err)
	}
}

func TestUserLookups_LoginAndDeactivate(t *testing.T) {
	db := newRepoDB(t, allModels()...)
	ctx := context.Background()

	u, err := CreateUser(ctx, db, "bob", "bob@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := GetUserByUsername(ctx, db, "bob")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByUsername = %+v, %v", got, err)
	}
	if _, err := GetUserByUsername(ctx, db, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ts := time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC)
	if err := TouchLastLogin(ctx, db, u.ID, ts); err != nil {
		t.Fatalf("TouchLastLogin: %v", err)
	}
	got, _ = GetActiveUser(ctx, db, u.ID)
	if got.LastLogin == nil || !got.LastLogin.Equal(ts) {
		t.Fatalf("last_login = %v; want %v", got.LastLogin, ts)
	}

	if err := DeactivateUser(ctx, db, u.ID); err != nil {
		t.Fatalf("DeactivateUser: %v", err)
	}
	if _, err := GetActiveUser(ctx, db, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("inactive user should be ErrNotFound, got %v", err)
	}
	if err := DeactivateUser(ctx, db, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second deactivate: expected ErrNotFound, got %v", err)
	}
	// Username lookup still finds inactive users.
	if got, err := GetUserByUsername(ctx, db, "bob"); err != nil || got.IsActive {
		t.Fatalf("GetUserByUsername inactive = %+v, %v", got, err)
	}
}
