// Package services – ConversationService
//
// ConversationService is the persistence store for conversations and their
// messages. It enforces single ownership, lifecycle transitions and the
// per-conversation message order, and maps repository failures onto the
// error taxonomy in errors.go.
//
// Isolation: Load, SoftDelete and Purge answer ErrForbidden for ids that are
// missing, soft-deleted or owned by someone else, so callers cannot tell them
// apart.
//
// Observability: all public methods are OpenTelemetry-instrumented and record
// chatstore_operations_total / chatstore_operation_duration_seconds.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-history/internal/domain"
	"github.com/tbourn/go-chat-history/internal/repo"
	"github.com/tbourn/go-chat-history/internal/search"
)

const (
	// DefaultPageSize is used when List is called with a non-positive limit.
	DefaultPageSize = 20
	// MaxPageSize caps List limits.
	MaxPageSize = 100
)

// NewMessage is the input to AppendMessage.
type NewMessage struct {
	Role    domain.Role
	Content string
	// TokensUsed is nil when the count is unknown.
	TokensUsed *int
	Metadata   map[string]any
}

// ConversationService implements conversation and message persistence.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{DB: db}
}

// now returns the current UTC instant at microsecond precision, which both
// SQLite and PostgreSQL round-trip exactly.
func (s *ConversationService) now() time.Time {
	clock := time.Now
	if s.Now != nil {
		clock = s.Now
	}
	return clock().UTC().Truncate(time.Microsecond)
}

func tracer() trace.Tracer { return otel.Tracer("services/ConversationService") }

// Create inserts an active conversation owned by ownerID. A blank title falls
// back to PlaceholderTitle.
func (s *ConversationService) Create(ctx context.Context, ownerID, title string) (_ *domain.Conversation, err error) {
	ctx, span := tracer().Start(ctx, "Create",
		trace.WithAttributes(attribute.String("user.id", ownerID)),
	)
	defer span.End()
	defer observeOp("conversation.create", time.Now(), &err)

	if _, err := repo.GetActiveUser(ctx, s.DB, ownerID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnknownOwner
		}
		return nil, mapStoreErr(err)
	}

	title = normalizeTitle(title)
	if title == "" {
		title = PlaceholderTitle
	}
	c, err := repo.CreateConversation(ctx, s.DB, ownerID, title, s.now())
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return c, nil
}

// AppendMessage stores a message at the end of an active conversation.
//
// The whole append runs in one transaction detached from ctx cancellation.
// Its first statement bumps updated_at on the conversation row, which takes
// the row lock (PostgreSQL) or the write lock (SQLite); the order is computed
// only after that, so concurrent appends to the same conversation serialise
// and never share an order value.
func (s *ConversationService) AppendMessage(ctx context.Context, conversationID string, in NewMessage) (_ *domain.Message, err error) {
	ctx, span := tracer().Start(ctx, "AppendMessage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("message.role", string(in.Role)),
		),
	)
	defer span.End()
	defer observeOp("conversation.append", time.Now(), &err)

	if _, ok := domain.ParseRole(string(in.Role)); !ok {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidMessage, in.Role)
	}
	if in.TokensUsed != nil && *in.TokensUsed < 0 {
		return nil, fmt.Errorf("%w: negative tokens_used", ErrInvalidMessage)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}

	ctx = context.WithoutCancel(ctx)
	ts := s.now()
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           in.Role,
		Content:        in.Content,
		Timestamp:      ts,
		TokensUsed:     in.TokensUsed,
		Metadata:       datatypes.JSONMap(in.Metadata),
	}
	if msg.Metadata == nil {
		msg.Metadata = datatypes.JSONMap{}
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.TouchActiveConversation(ctx, tx, conversationID, ts, nil); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrUnknownConversation
			}
			return err
		}

		next, err := repo.NextOrder(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		msg.Order = next
		if err := repo.CreateMessage(ctx, tx, msg); err != nil {
			return err
		}

		if msg.Role != domain.RoleUser {
			return nil
		}
		conv, err := repo.GetConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		extra := map[string]any{}
		if isPlaceholderTitle(conv.Title) {
			extra["title"] = normalizeTitle(autoTitle(msg.Content))
		}
		if conv.Preview == "" {
			extra["preview"] = makePreview(msg.Content)
		}
		if len(extra) == 0 {
			return nil
		}
		return repo.TouchActiveConversation(ctx, tx, conversationID, ts, extra)
	})
	if err != nil {
		if errors.Is(err, ErrUnknownConversation) {
			return nil, err
		}
		return nil, mapStoreErr(err)
	}
	return msg, nil
}

// List returns a page of the owner's active conversations, most recently
// updated first, together with the total number of active conversations.
func (s *ConversationService) List(ctx context.Context, ownerID string, limit, offset int) (_ []domain.Conversation, _ int64, err error) {
	ctx, span := tracer().Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", ownerID),
			attribute.Int("limit", limit),
			attribute.Int("offset", offset),
		),
	)
	defer span.End()
	defer observeOp("conversation.list", time.Now(), &err)

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	total, err := repo.CountConversations(ctx, s.DB, ownerID)
	if err != nil {
		return nil, 0, mapStoreErr(err)
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := repo.ListConversationsPage(ctx, s.DB, ownerID, offset, limit)
	if err != nil {
		return nil, 0, mapStoreErr(err)
	}
	return items, total, nil
}

// Search returns the owner's active conversations whose title or any message
// contains query, most recently updated first. Matching is case-insensitive
// and treats LIKE wildcards in the query literally.
func (s *ConversationService) Search(ctx context.Context, ownerID, query string, limit int) (_ []domain.Conversation, err error) {
	q, ok := search.Parse(query)
	ctx, span := tracer().Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("user.id", ownerID),
			attribute.Int("query.terms", len(q.Terms)),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()
	defer observeOp("conversation.search", time.Now(), &err)

	if strings.TrimSpace(ownerID) == "" || !ok {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	items, err := repo.SearchConversations(ctx, s.DB, ownerID, q.Pattern(), limit)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if items == nil {
		items = []domain.Conversation{}
	}
	return items, nil
}

// Load returns an active conversation and all of its messages in order. The
// conversation and messages are read in one transaction so the snapshot is
// consistent with concurrent appends.
func (s *ConversationService) Load(ctx context.Context, conversationID, requestingUserID string) (_ *domain.Conversation, _ []domain.Message, err error) {
	ctx, span := tracer().Start(ctx, "Load",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", requestingUserID),
		),
	)
	defer span.End()
	defer observeOp("conversation.load", time.Now(), &err)

	var (
		conv *domain.Conversation
		msgs []domain.Message
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.owned(ctx, tx, conversationID, requestingUserID)
		if err != nil {
			return err
		}
		if c.Lifecycle != domain.LifecycleActive {
			return ErrForbidden
		}
		conv = c
		msgs, err = repo.ListMessages(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrForbidden) {
			return nil, nil, err
		}
		return nil, nil, mapStoreErr(err)
	}
	return conv, msgs, nil
}

// Authorize reports whether userID may append to conversationID. It returns
// ErrForbidden under the same rule as Load.
func (s *ConversationService) Authorize(ctx context.Context, conversationID, userID string) (err error) {
	ctx, span := tracer().Start(ctx, "Authorize",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()
	defer observeOp("conversation.authorize", time.Now(), &err)

	c, err := s.owned(ctx, s.DB, conversationID, userID)
	if err != nil {
		return err
	}
	if c.Lifecycle != domain.LifecycleActive {
		return ErrForbidden
	}
	return nil
}

// SoftDelete hides an active conversation. Its messages are kept.
func (s *ConversationService) SoftDelete(ctx context.Context, conversationID, requestingUserID string) (err error) {
	ctx, span := tracer().Start(ctx, "SoftDelete",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", requestingUserID),
		),
	)
	defer span.End()
	defer observeOp("conversation.soft_delete", time.Now(), &err)

	err = repo.SetLifecycle(ctx, s.DB, conversationID, requestingUserID, domain.LifecycleActive, domain.LifecycleSoftDeleted)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return mapStoreErr(err)
	}
	log.Info().Str("component", "conversations").Str("conversation_id", conversationID).Msg("conversation soft-deleted")
	return nil
}

// Purge physically removes a soft-deleted conversation and its messages.
// Active conversations must be soft-deleted first.
func (s *ConversationService) Purge(ctx context.Context, conversationID, requestingUserID string) (err error) {
	ctx, span := tracer().Start(ctx, "Purge",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", requestingUserID),
		),
	)
	defer span.End()
	defer observeOp("conversation.purge", time.Now(), &err)

	ctx = context.WithoutCancel(ctx)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.owned(ctx, tx, conversationID, requestingUserID)
		if err != nil {
			return err
		}
		if !c.Lifecycle.CanTransition(domain.LifecyclePurged) {
			return ErrInvalidTransition
		}
		if err := repo.PurgeConversation(ctx, tx, conversationID, requestingUserID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrForbidden
			}
			return err
		}
		return nil
	})
	switch {
	case err == nil:
		log.Info().Str("component", "conversations").Str("conversation_id", conversationID).Msg("conversation purged")
		return nil
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrInvalidTransition):
		return err
	}
	return mapStoreErr(err)
}

// Stats returns the number of active conversations of ownerID and their
// latest updated_at, for conditional responses.
func (s *ConversationService) Stats(ctx context.Context, ownerID string) (_ int64, _ *time.Time, err error) {
	ctx, span := tracer().Start(ctx, "Stats",
		trace.WithAttributes(attribute.String("user.id", ownerID)),
	)
	defer span.End()
	defer observeOp("conversation.stats", time.Now(), &err)

	n, max, err := repo.ConversationsStats(ctx, s.DB, ownerID)
	if err != nil {
		return 0, nil, mapStoreErr(err)
	}
	return n, max, nil
}

// owned loads a conversation and checks its owner. Missing ids and foreign
// owners both become ErrForbidden.
func (s *ConversationService) owned(ctx context.Context, db *gorm.DB, conversationID, userID string) (*domain.Conversation, error) {
	c, err := repo.GetConversation(ctx, db, conversationID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if c.UserID != userID {
		return nil, ErrForbidden
	}
	return c, nil
}
