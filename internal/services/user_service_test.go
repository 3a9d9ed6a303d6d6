package services

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestUserService_Create(t *testing.T) {
	db := newSvcDB(t)
	us := newUsers(db)
	ctx := context.Background()

	u, err := us.Create(ctx, "  alice ", "Alice@Example.COM", "correct horse")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.Username != "alice" || u.Email != "alice@example.com" {
		t.Fatalf("not normalized: %+v", u)
	}
	if u.PasswordHash == "" || u.PasswordHash == "correct horse" {
		t.Fatalf("password not hashed")
	}

	if _, err := us.Create(ctx, "alice", "other@example.com", "correct horse"); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate username: want ErrDuplicateKey, got %v", err)
	}
	if _, err := us.Create(ctx, "alicia", "ALICE@example.com", "correct horse"); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate email: want ErrDuplicateKey, got %v", err)
	}
}

func TestUserService_Create_InvalidInput(t *testing.T) {
	us := newUsers(newSvcDB(t))
	ctx := context.Background()

	cases := []struct{ name, user, email, pw string }{
		{"blank username", " ", "a@example.com", "password1"},
		{"blank email", "a", "", "password1"},
		{"bad email", "a", "not-an-email", "password1"},
		{"short password", "a", "a@example.com", "short"},
		{"long password", "a", "a@example.com", strings.Repeat("x", 73)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := us.Create(ctx, tc.user, tc.email, tc.pw); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("want ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestUserService_Authenticate(t *testing.T) {
	db := newSvcDB(t)
	us := newUsers(db)
	ctx := context.Background()

	u, err := us.Create(ctx, "bob", "bob@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := us.Authenticate(ctx, "bob", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != u.ID || got.LastLogin == nil {
		t.Fatalf("unexpected user: %+v", got)
	}
	stored, _ := us.Get(ctx, u.ID)
	if stored.LastLogin == nil {
		t.Fatalf("last_login not persisted")
	}

	// Unknown user and wrong password are indistinguishable.
	_, errWrong := us.Authenticate(ctx, "bob", "nope-nope-nope")
	_, errUnknown := us.Authenticate(ctx, "mallory", "hunter2hunter2")
	if !errors.Is(errWrong, ErrInvalidCredentials) || !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v / %v", errWrong, errUnknown)
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Fatalf("messages differ: %q vs %q", errWrong, errUnknown)
	}

	if err := us.Deactivate(ctx, u.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := us.Authenticate(ctx, "bob", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("inactive user: want ErrInvalidCredentials, got %v", err)
	}
	if _, err := us.Get(ctx, u.ID); !errors.Is(err, ErrUnknownOwner) {
		t.Fatalf("Get inactive: want ErrUnknownOwner, got %v", err)
	}
	if err := us.Deactivate(ctx, u.ID); !errors.Is(err, ErrUnknownOwner) {
		t.Fatalf("Deactivate twice: want ErrUnknownOwner, got %v", err)
	}
}

func TestUserService_EnsureUser(t *testing.T) {
	us := newUsers(newSvcDB(t))
	ctx := context.Background()

	first, created, err := us.EnsureUser(ctx, "migrated_user", "migrated@example.com", "change_this_password_123")
	if err != nil || !created {
		t.Fatalf("EnsureUser first = %v, %v", created, err)
	}
	second, created, err := us.EnsureUser(ctx, "migrated_user", "migrated@example.com", "change_this_password_123")
	if err != nil || created {
		t.Fatalf("EnsureUser second = %v, %v", created, err)
	}
	if first.ID != second.ID {
		t.Fatalf("EnsureUser created a second account: %s vs %s", first.ID, second.ID)
	}
}
