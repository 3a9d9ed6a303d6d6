package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-chat-history/internal/config"
	"github.com/tbourn/go-chat-history/internal/domain"
	"github.com/tbourn/go-chat-history/internal/retry"
	"github.com/tbourn/go-chat-history/internal/services"
)

// UserService registers and authenticates accounts.
type UserService interface {
	Create(ctx context.Context, username, email, password string) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
}

// ConversationService is the conversation store as seen by the handlers.
type ConversationService interface {
	Create(ctx context.Context, ownerID, title string) (*domain.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, in services.NewMessage) (*domain.Message, error)
	List(ctx context.Context, ownerID string, limit, offset int) ([]domain.Conversation, int64, error)
	Search(ctx context.Context, ownerID, query string, limit int) ([]domain.Conversation, error)
	Load(ctx context.Context, conversationID, requestingUserID string) (*domain.Conversation, []domain.Message, error)
	Authorize(ctx context.Context, conversationID, userID string) error
	SoftDelete(ctx context.Context, conversationID, requestingUserID string) error
	Purge(ctx context.Context, conversationID, requestingUserID string) error
	Stats(ctx context.Context, ownerID string) (int64, *time.Time, error)
}

// ErrIdempotencyInFlight is returned by IdempotencyStore.Reserve while
// another request holds the same key.
var ErrIdempotencyInFlight = errors.New("idempotency key in use")

// IdempotencyStore reserves an Idempotency-Key before an append and records
// the message it produced.
//
// Reserve returns the stored message when the key already completed, nil when
// the caller now holds the key, and ErrIdempotencyInFlight when another
// request holds it. A holder must call Complete or Release.
type IdempotencyStore interface {
	Reserve(ctx context.Context, userID, conversationID, key string) (*domain.Message, error)
	Complete(ctx context.Context, userID, conversationID, key, messageID string) error
	Release(ctx context.Context, userID, conversationID, key string) error
}

// APIKeyService stores sealed provider API keys per user.
type APIKeyService interface {
	Store(ctx context.Context, userID, provider, key string) error
	Describe(ctx context.Context, userID, provider string) (*services.APIKeyInfo, error)
	Delete(ctx context.Context, userID, provider string) error
}

// ModelSettings is the reloadable model selection configuration.
type ModelSettings interface {
	Current() config.ModelSettings
	LoadedAt() time.Time
	SelectModel(prompt string) string
	Refresh() error
}

// Deps groups what New needs. Idempotency, Settings and APIKeys are optional.
type Deps struct {
	Users         UserService
	Conversations ConversationService
	Idempotency   IdempotencyStore
	Settings      ModelSettings
	APIKeys       APIKeyService
	// Retry bounds retries of idempotent reads on transient store errors.
	Retry retry.Policy
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	users    UserService
	convs    ConversationService
	idem     IdempotencyStore
	settings ModelSettings
	keys     APIKeyService
	retry    retry.Policy
}

// New constructs Handlers from deps.
func New(deps Deps) *Handlers {
	return &Handlers{
		users:    deps.Users,
		convs:    deps.Conversations,
		idem:     deps.Idempotency,
		settings: deps.Settings,
		keys:     deps.APIKeys,
		retry:    deps.Retry,
	}
}
