// Package services – UserService
//
// UserService owns account registration and password authentication. Passwords
// are hashed with bcrypt and never logged. Authentication spends one bcrypt
// comparison on every path so response time does not reveal whether a
// username exists.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-history/internal/domain"
	"github.com/tbourn/go-chat-history/internal/observability"
	"github.com/tbourn/go-chat-history/internal/repo"
)

// MinPasswordLen is the shortest accepted password in bytes.
const MinPasswordLen = 8

// UserService registers and authenticates users.
type UserService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Cost is the bcrypt work factor; out-of-range values use bcrypt.DefaultCost.
	Cost int

	dummyOnce sync.Once
	dummyHash []byte
}

// NewUserService constructs a UserService with the given bcrypt cost.
func NewUserService(db *gorm.DB, cost int) *UserService {
	return &UserService{DB: db, Cost: cost}
}

func (s *UserService) cost() int {
	if s.Cost < bcrypt.MinCost || s.Cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return s.Cost
}

// dummy returns a hash to compare against when the user is unknown.
func (s *UserService) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-equaliser"), s.cost())
	})
	return s.dummyHash
}

// Create registers an active user. Email is stored lower-cased.
func (s *UserService) Create(ctx context.Context, username, email, password string) (_ *domain.User, err error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.name", username)),
	)
	defer span.End()
	defer observeOp("user.create", time.Now(), &err)

	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || len(password) < MinPasswordLen {
		return nil, ErrInvalidInput
	}
	if _, perr := mail.ParseAddress(email); perr != nil {
		return nil, fmt.Errorf("%w: email", ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost())
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%w: password longer than 72 bytes", ErrInvalidInput)
		}
		return nil, err
	}

	u, err := repo.CreateUser(ctx, s.DB, username, email, string(hash))
	if err != nil {
		return nil, mapStoreErr(err)
	}
	log.Info().Str("component", "users").Str("user_id", u.ID).Msg("user created")
	return u, nil
}

// Authenticate verifies credentials and records the login time. Unknown
// users, inactive users and wrong passwords all return ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (_ *domain.User, err error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Authenticate",
		trace.WithAttributes(attribute.String("user.name", username)),
	)
	defer span.End()
	defer observeOp("user.authenticate", time.Now(), &err)

	u, err := repo.GetUserByUsername(ctx, s.DB, strings.TrimSpace(username))
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, mapStoreErr(err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		return nil, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil || !u.IsActive {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if err := repo.TouchLastLogin(ctx, s.DB, u.ID, now); err != nil {
		return nil, mapStoreErr(err)
	}
	u.LastLogin = &now
	return u, nil
}

// Get returns an active user.
func (s *UserService) Get(ctx context.Context, userID string) (_ *domain.User, err error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Get",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()
	defer observeOp("user.get", time.Now(), &err)

	u, err := repo.GetActiveUser(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnknownOwner
	}
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return u, nil
}

// Deactivate marks a user inactive. Owned conversations are kept.
func (s *UserService) Deactivate(ctx context.Context, userID string) (err error) {
	ctx, span := otel.Tracer("services/UserService").Start(ctx, "Deactivate",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()
	defer observeOp("user.deactivate", time.Now(), &err)

	if err := repo.DeactivateUser(ctx, s.DB, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnknownOwner
		}
		return mapStoreErr(err)
	}
	return nil
}

// EnsureUser returns the user named username, creating it when absent. The
// boolean reports whether a new account was created.
func (s *UserService) EnsureUser(ctx context.Context, username, email, password string) (*domain.User, bool, error) {
	u, err := repo.GetUserByUsername(ctx, s.DB, strings.TrimSpace(username))
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, mapStoreErr(err)
	}

	u, err = s.Create(ctx, username, email, password)
	if errors.Is(err, ErrDuplicateKey) {
		// Lost a race with another creator, or the email belongs to someone else.
		if again, gerr := repo.GetUserByUsername(ctx, s.DB, strings.TrimSpace(username)); gerr == nil {
			return again, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// observeOp records the store metric for an operation using the named
// error result of the caller.
func observeOp(op string, start time.Time, err *error) {
	observability.ObserveStoreOp(op, resultLabel(*err), start)
}
