// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-history/internal/domain"
)

// ConversationsStats returns aggregate metadata for a user's active
// conversations: the number of rows and the greatest UpdatedAt among them.
//
// When the user has no active conversations, count is 0 and maxUpdatedAt nil.
func ConversationsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("user_id = ? AND lifecycle = ?", userID, domain.LifecycleActive)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns the number of messages in a conversation, the highest
// order assigned so far and the sum of known token counts. Unknown token
// counts are skipped by SUM, which is the display semantics.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxOrder int, tokens int64, err error) {
	var row struct {
		N      int64
		MaxSeq int
		Tokens int64
	}
	err = db.WithContext(ctx).
		Raw(`SELECT COUNT(*) AS n, COALESCE(MAX(seq), 0) AS max_seq, COALESCE(SUM(tokens_used), 0) AS tokens
		     FROM messages WHERE conversation_id = ?`, conversationID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, 0, err
	}
	return row.N, row.MaxSeq, row.Tokens, nil
}
