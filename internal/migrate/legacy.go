// Package migrate moves rows from the legacy single-user SQLite store into
// the multi-user persistence store under a synthesized fallback owner.
//
// The legacy file is opened read-only and read with raw SQL; every value that
// could be malformed (timestamps, token counts, order, metadata) is read as
// text and parsed here, so one bad row never fails the whole read.
package migrate

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LegacyConversation is a row of the legacy conversations table.
type LegacyConversation struct {
	ID        string
	Title     string
	Preview   string
	CreatedAt string
	UpdatedAt string
	IsDeleted string
}

// Deleted reports whether the legacy soft-delete flag is set.
func (c LegacyConversation) Deleted() bool {
	switch strings.ToLower(strings.TrimSpace(c.IsDeleted)) {
	case "1", "true", "t", "yes":
		return true
	}
	return false
}

// LegacyMessage is a row of the legacy messages table.
type LegacyMessage struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Timestamp      string
	TokensUsed     *string
	MessageOrder   string
	Metadata       string
}

// Source yields legacy rows. Legacy implements it; tests may substitute a fake.
type Source interface {
	Conversations(ctx context.Context) ([]LegacyConversation, error)
	Messages(ctx context.Context) ([]LegacyMessage, error)
}

// Legacy reads a legacy store file.
type Legacy struct {
	db *gorm.DB
}

// OpenLegacy opens path read-only. A missing file is an error: SQLite would
// otherwise create an empty database.
func OpenLegacy(path string) (*Legacy, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("legacy store: %w", err)
	}
	dsn := "file:" + path + "?mode=ro&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("legacy store: open: %w", err)
	}
	return &Legacy{db: db}, nil
}

// Close releases the underlying handle.
func (l *Legacy) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Conversations returns all legacy conversations, oldest first.
func (l *Legacy) Conversations(ctx context.Context) ([]LegacyConversation, error) {
	var rows []LegacyConversation
	err := l.db.WithContext(ctx).Raw(`
		SELECT CAST(id AS TEXT)                          AS id,
		       COALESCE(title, '')                       AS title,
		       COALESCE(preview, '')                     AS preview,
		       COALESCE(CAST(created_at AS TEXT), '')    AS created_at,
		       COALESCE(CAST(updated_at AS TEXT), '')    AS updated_at,
		       COALESCE(CAST(is_deleted AS TEXT), '0')   AS is_deleted
		FROM conversations
		ORDER BY created_at, id`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("legacy store: conversations: %w", err)
	}
	return rows, nil
}

// Messages returns all legacy messages ordered by conversation and order.
func (l *Legacy) Messages(ctx context.Context) ([]LegacyMessage, error) {
	var rows []LegacyMessage
	err := l.db.WithContext(ctx).Raw(`
		SELECT CAST(id AS TEXT)                             AS id,
		       COALESCE(CAST(conversation_id AS TEXT), '')  AS conversation_id,
		       COALESCE(role, '')                           AS role,
		       COALESCE(content, '')                        AS content,
		       COALESCE(CAST(timestamp AS TEXT), '')        AS timestamp,
		       CAST(tokens_used AS TEXT)                    AS tokens_used,
		       COALESCE(CAST(message_order AS TEXT), '')    AS message_order,
		       COALESCE(CAST(metadata AS TEXT), '')         AS metadata
		FROM messages
		ORDER BY conversation_id, message_order, timestamp`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("legacy store: messages: %w", err)
	}
	return rows, nil
}

// timeLayouts are the formats SQLite's CURRENT_TIMESTAMP and common drivers
// write.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseLegacyTime parses s as UTC when it carries no zone.
func parseLegacyTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC().Truncate(time.Microsecond), true
		}
	}
	return time.Time{}, false
}

// parseOptionalInt parses a nullable integer column.
func parseOptionalInt(s *string) (*int, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(*s))
	if err != nil {
		// REAL columns come back as "12.0".
		f, ferr := strconv.ParseFloat(strings.TrimSpace(*s), 64)
		if ferr != nil || f != float64(int(f)) {
			return nil, err
		}
		v = int(f)
	}
	return &v, nil
}
