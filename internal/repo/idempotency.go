// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to implement safe-retry semantics for message appends.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-history/internal/domain"
)

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, conversationID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ? AND key = ? AND expires_at > ?", userID, conversationID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, conversationID, key, messageID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Key:            key,
		MessageID:      messageID,
		Status:         status,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// keyScope restricts q to the record of one key.
func keyScope(q *gorm.DB, userID, conversationID, key string) *gorm.DB {
	return q.Where("user_id = ? AND conversation_id = ? AND key = ?", userID, conversationID, key)
}

// CompleteIdempotency attaches messageID to a pending record. It returns
// ErrNotFound when no pending record exists for the key.
func CompleteIdempotency(ctx context.Context, db *gorm.DB, userID, conversationID, key, messageID string, status int) error {
	res := keyScope(db.WithContext(ctx).Model(&domain.Idempotency{}), userID, conversationID, key).
		Where("message_id = ''").
		Updates(map[string]any{"message_id": messageID, "status": status})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseIdempotency deletes a pending record so the key can be used again.
// Completed records are left alone.
func ReleaseIdempotency(ctx context.Context, db *gorm.DB, userID, conversationID, key string) error {
	return keyScope(db.WithContext(ctx), userID, conversationID, key).
		Where("message_id = ''").
		Delete(&domain.Idempotency{}).Error
}

// DropExpiredIdempotency deletes the record of one key if its TTL elapsed
// before now.
func DropExpiredIdempotency(ctx context.Context, db *gorm.DB, userID, conversationID, key string, now time.Time) error {
	return keyScope(db.WithContext(ctx), userID, conversationID, key).
		Where("expires_at <= ?", now).
		Delete(&domain.Idempotency{}).Error
}

// PurgeExpiredIdempotency deletes records whose TTL elapsed before now and
// returns how many were removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
