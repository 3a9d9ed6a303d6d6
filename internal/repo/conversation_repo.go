// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Ownership and lifecycle rules live in
// services.ConversationService.
//
// Error semantics:
//   - When a conversation is not found (or a guarded update matched no row),
//     functions return ErrNotFound.
//   - Unique violations on insert are returned as ErrDuplicate.
//   - Other DB errors are propagated raw; IsTransient classifies them.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-history/internal/domain"
)

// CreateConversation inserts an active conversation owned by userID with
// CreatedAt == UpdatedAt == now. The id is a random UUID.
func CreateConversation(ctx context.Context, db *gorm.DB, userID, title string, now time.Time) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Lifecycle: domain.LifecycleActive,
	}
	if err := InsertConversation(ctx, db, c); err != nil {
		return nil, err
	}
	return c, nil
}

// InsertConversation persists c exactly as given, including its id and
// timestamps. It is the import path used by the migration.
func InsertConversation(ctx context.Context, db *gorm.DB, c *domain.Conversation) error {
	if c.Lifecycle == "" {
		c.Lifecycle = domain.LifecycleActive
	}
	if err := db.WithContext(ctx).Omit(clause.Associations).Create(c).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetConversation fetches a conversation by id in any lifecycle state and for
// any owner. Callers enforce isolation.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns the number of active conversations owned by userID.
func CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("user_id = ? AND lifecycle = ?", userID, domain.LifecycleActive).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns active conversations of userID, most recently
// updated first. The id breaks ties so paging is stable.
func ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ? AND lifecycle = ?", userID, domain.LifecycleActive).
		Order("updated_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// SearchConversations returns up to limit of userID's active conversations
// whose lower-cased title, or the lower-cased content of any of their
// messages, matches the LIKE pattern. Backslash escapes wildcards in pattern.
// Results are ordered like ListConversationsPage.
func SearchConversations(ctx context.Context, db *gorm.DB, userID, pattern string, limit int) ([]domain.Conversation, error) {
	q := db.WithContext(ctx)
	matching := q.Model(&domain.Message{}).
		Select("conversation_id").
		Where(`LOWER(content) LIKE ? ESCAPE '\'`, pattern)

	var out []domain.Conversation
	err := q.
		Where("user_id = ? AND lifecycle = ?", userID, domain.LifecycleActive).
		Where(`(LOWER(title) LIKE ? ESCAPE '\' OR id IN (?))`, pattern, matching).
		Order("updated_at desc, id desc").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// TouchActiveConversation sets updated_at (and any extra columns) on an active
// conversation. Being the first write of an append transaction, it takes the
// row lock on PostgreSQL and the write lock on SQLite, which serialises
// concurrent appends to the same conversation. Returns ErrNotFound when the
// conversation is missing or not active.
func TouchActiveConversation(ctx context.Context, tx *gorm.DB, id string, now time.Time, extra map[string]any) error {
	cols := map[string]any{"updated_at": now}
	for k, v := range extra {
		cols[k] = v
	}
	res := tx.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND lifecycle = ?", id, domain.LifecycleActive).
		UpdateColumns(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLifecycle moves a conversation owned by userID from one state to the
// next. It returns ErrNotFound when no row is in the expected state.
func SetLifecycle(ctx context.Context, db *gorm.DB, id, userID string, from, to domain.Lifecycle) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND user_id = ? AND lifecycle = ?", id, userID, from).
		UpdateColumn("lifecycle", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeConversation physically removes a soft-deleted conversation and its
// messages. Messages are deleted explicitly because SQLite only enforces
// ON DELETE CASCADE on connections that enabled foreign_keys.
func PurgeConversation(ctx context.Context, tx *gorm.DB, id, userID string) error {
	res := tx.WithContext(ctx).
		Where("id = ? AND user_id = ? AND lifecycle = ?", id, userID, domain.LifecycleSoftDeleted).
		Delete(&domain.Conversation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return tx.WithContext(ctx).
		Where("conversation_id = ?", id).
		Delete(&domain.Message{}).Error
}
