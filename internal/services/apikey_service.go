// Package services – APIKeyService
//
// APIKeyService keeps per-user provider API keys sealed with NaCl secretbox
// under one server secret. A sealed value is a fresh 24-byte nonce followed
// by the box. The boxed plaintext starts with the owner and provider, so a
// value copied onto another row does not open.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/nacl/secretbox"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-history/internal/domain"
	"github.com/tbourn/go-chat-history/internal/repo"
)

const (
	// APIKeySecretLen is the required secret length in bytes.
	APIKeySecretLen = 32
	// MaxAPIKeyLen caps a stored key in bytes.
	MaxAPIKeyLen = 512

	nonceLen = 24
)

var providerRE = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// APIKeyInfo describes a stored key without revealing it.
type APIKeyInfo struct {
	Provider  string
	Hint      string
	CreatedAt time.Time
	UpdatedAt time.Time
	LastUsed  *time.Time
}

// APIKeyService stores and opens sealed provider API keys.
type APIKeyService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Now is the clock; nil means time.Now.
	Now func() time.Time

	secret [APIKeySecretLen]byte
}

// NewAPIKeyService returns a service sealing with secret, which must be
// APIKeySecretLen bytes.
func NewAPIKeyService(db *gorm.DB, secret []byte) (*APIKeyService, error) {
	if len(secret) != APIKeySecretLen {
		return nil, fmt.Errorf("api key secret must be %d bytes, got %d", APIKeySecretLen, len(secret))
	}
	s := &APIKeyService{DB: db}
	copy(s.secret[:], secret)
	return s, nil
}

func (s *APIKeyService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func apiKeyTracer() trace.Tracer { return otel.Tracer("services/APIKeyService") }

// Store seals key and saves it as userID's key for provider, replacing any
// previous one. Provider names are case-insensitive.
func (s *APIKeyService) Store(ctx context.Context, userID, provider, key string) (err error) {
	provider, valid := normalizeProvider(provider)
	ctx, span := apiKeyTracer().Start(ctx, "Store",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("provider", provider)),
	)
	defer span.End()
	defer observeOp("apikey.store", time.Now(), &err)

	key = strings.TrimSpace(key)
	if !valid || key == "" || len(key) > MaxAPIKeyLen {
		return ErrInvalidInput
	}
	if _, err := repo.GetActiveUser(ctx, s.DB, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnknownOwner
		}
		return mapStoreErr(err)
	}
	sealed, err := s.seal(userID, provider, key)
	if err != nil {
		return err
	}
	return mapStoreErr(repo.UpsertAPIKey(ctx, s.DB, userID, provider, sealed, s.now()))
}

// Reveal opens userID's key for provider and records the use.
func (s *APIKeyService) Reveal(ctx context.Context, userID, provider string) (_ string, err error) {
	provider, valid := normalizeProvider(provider)
	ctx, span := apiKeyTracer().Start(ctx, "Reveal",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("provider", provider)),
	)
	defer span.End()
	defer observeOp("apikey.reveal", time.Now(), &err)

	if !valid {
		return "", ErrInvalidInput
	}
	k, key, err := s.load(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if terr := repo.TouchAPIKey(ctx, s.DB, k.ID, s.now()); terr != nil {
		log.Warn().Err(terr).Str("provider", provider).Msg("api key last_used not updated")
	}
	return key, nil
}

// Describe returns metadata and a masked hint for userID's key.
func (s *APIKeyService) Describe(ctx context.Context, userID, provider string) (_ *APIKeyInfo, err error) {
	provider, valid := normalizeProvider(provider)
	ctx, span := apiKeyTracer().Start(ctx, "Describe",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("provider", provider)),
	)
	defer span.End()
	defer observeOp("apikey.describe", time.Now(), &err)

	if !valid {
		return nil, ErrInvalidInput
	}
	k, key, err := s.load(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	return &APIKeyInfo{
		Provider:  k.Provider,
		Hint:      maskKey(key),
		CreatedAt: k.CreatedAt,
		UpdatedAt: k.UpdatedAt,
		LastUsed:  k.LastUsed,
	}, nil
}

// Delete removes userID's key for provider.
func (s *APIKeyService) Delete(ctx context.Context, userID, provider string) (err error) {
	provider, valid := normalizeProvider(provider)
	ctx, span := apiKeyTracer().Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("user.id", userID), attribute.String("provider", provider)),
	)
	defer span.End()
	defer observeOp("apikey.delete", time.Now(), &err)

	if !valid {
		return ErrInvalidInput
	}
	if err := repo.DeleteAPIKey(ctx, s.DB, userID, provider); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUnknownAPIKey
		}
		return mapStoreErr(err)
	}
	return nil
}

func (s *APIKeyService) load(ctx context.Context, userID, provider string) (*domain.UserAPIKey, string, error) {
	k, err := repo.GetAPIKey(ctx, s.DB, userID, provider)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, "", ErrUnknownAPIKey
	}
	if err != nil {
		return nil, "", mapStoreErr(err)
	}
	key, err := s.open(k)
	if err != nil {
		log.Error().Str("user_id", userID).Str("provider", provider).Msg("stored api key does not open")
		return nil, "", err
	}
	return k, key, nil
}

func (s *APIKeyService) seal(userID, provider, key string) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("api key nonce: %w", err)
	}
	plain := []byte(keyBinding(userID, provider) + key)
	return secretbox.Seal(nonce[:], plain, &nonce, &s.secret), nil
}

func (s *APIKeyService) open(k *domain.UserAPIKey) (string, error) {
	if len(k.Sealed) < nonceLen+secretbox.Overhead {
		return "", ErrSealedKey
	}
	var nonce [nonceLen]byte
	copy(nonce[:], k.Sealed[:nonceLen])
	plain, ok := secretbox.Open(nil, k.Sealed[nonceLen:], &nonce, &s.secret)
	if !ok {
		return "", ErrSealedKey
	}
	key, bound := strings.CutPrefix(string(plain), keyBinding(k.UserID, k.Provider))
	if !bound {
		return "", ErrSealedKey
	}
	return key, nil
}

func keyBinding(userID, provider string) string {
	return userID + "\x00" + provider + "\x00"
}

func normalizeProvider(p string) (string, bool) {
	p = strings.ToLower(strings.TrimSpace(p))
	return p, providerRE.MatchString(p)
}

// maskKey keeps the last four characters of keys longer than eight.
func maskKey(key string) string {
	r := []rune(key)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return "****" + string(r[len(r)-4:])
}
