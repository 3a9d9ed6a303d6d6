// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message model.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-chat-history/internal/domain"
)

// NextOrder returns max(seq)+1 for the conversation, or 1 when it has no
// messages. Call it inside the transaction that inserts the message.
func NextOrder(ctx context.Context, tx *gorm.DB, conversationID string) (int, error) {
	var next int
	err := tx.WithContext(ctx).
		Raw("SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?", conversationID).
		Scan(&next).Error
	return next, err
}

// OrderTaken reports whether seq is already used in the conversation.
func OrderTaken(ctx context.Context, tx *gorm.DB, conversationID string, seq int) (bool, error) {
	var n int64
	err := tx.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ? AND seq = ?", conversationID, seq).
		Count(&n).Error
	return n > 0, err
}

// CreateMessage inserts m as given. Messages are immutable, so there is no
// update counterpart.
func CreateMessage(ctx context.Context, tx *gorm.DB, m *domain.Message) error {
	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(m).Error; err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ListMessages returns every message of a conversation in order.
func ListMessages(ctx context.Context, db *gorm.DB, conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by id.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageExists reports whether a message with id is stored.
func MessageExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}
