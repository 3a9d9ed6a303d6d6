// Package domain defines the persistence models for users, conversations,
// and messages. These types are mapped with GORM and form the core data layer
// of the chat history backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// User is an account that owns conversations. Users are never physically
// deleted; deactivation flips IsActive so owned conversations keep a valid
// foreign key.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Username / Email: unique identities; Email is stored lower-cased.
//   - PasswordHash: bcrypt hash, never serialized.
//   - LastLogin: set on successful authentication, nil until then.
//   - IsActive: false once the account is deactivated.
type User struct {
	ID           string     `json:"id"         gorm:"type:char(36);primaryKey"`
	Username     string     `json:"username"   gorm:"type:varchar(255);not null;uniqueIndex:ux_users_username"`
	Email        string     `json:"email"      gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email"`
	PasswordHash string     `json:"-"          gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	IsActive     bool       `json:"is_active"  gorm:"not null;default:true"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Conversation is a thread of messages owned by exactly one user.
//
// Fields:
//   - ID: globally unique; generated UUID or a caller-supplied id (migration).
//   - UserID: owning user; indexed together with UpdatedAt for listing.
//   - Title: display title, placeholder until the first user message.
//   - Preview: derived from the first user message.
//   - Lifecycle: active, soft_deleted or purged (see Lifecycle).
//   - IsShared: optional sharing flag, not interpreted by the store.
type Conversation struct {
	ID        string    `json:"id"         gorm:"type:varchar(255);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:char(36);not null;index:idx_user_conversations,priority:1"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null"`
	Preview   string    `json:"preview"    gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index:idx_user_conversations,priority:2"`
	Lifecycle Lifecycle `json:"lifecycle"  gorm:"type:varchar(16);not null;default:'active';index"`
	IsShared  bool      `json:"is_shared"  gorm:"not null;default:false"`

	// User is the owner. Users are soft-deactivated only, so the restrict
	// rule never fires in normal operation.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// IsDeleted reports whether the conversation is hidden from normal queries.
func (c Conversation) IsDeleted() bool { return c.Lifecycle != LifecycleActive }

// Message is a single immutable utterance within a conversation.
//
// Fields:
//   - ID: globally unique primary key.
//   - ConversationID: parent conversation; (ConversationID, Order) is unique.
//   - Role: user, assistant or system (enforced by DB constraint).
//   - Timestamp: creation instant; equals the parent's UpdatedAt bump.
//   - TokensUsed: nil means unknown, never zero by default.
//   - Order: strictly increasing per conversation, starting at 1. Stored in
//     column "seq" because ORDER is reserved in SQL.
//   - Metadata: open key/value map (e.g. the model that produced it).
type Message struct {
	ID             string            `json:"id"              gorm:"type:varchar(255);primaryKey"`
	ConversationID string            `json:"conversation_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_conversation_seq,priority:1"`
	Role           Role              `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('user','assistant','system')"`
	Content        string            `json:"content"         gorm:"type:text;not null"`
	Timestamp      time.Time         `json:"timestamp"       gorm:"not null"`
	TokensUsed     *int              `json:"tokens_used"     gorm:"check:tokens_used IS NULL OR tokens_used >= 0"`
	Order          int               `json:"order"           gorm:"column:seq;not null;uniqueIndex:ux_conversation_seq,priority:2"`
	Metadata       datatypes.JSONMap `json:"metadata"`

	// Conversation is the parent. Messages go away only when the
	// conversation row itself is purged.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Tokens collapses unknown token counts to zero. Use it for display and
// aggregation only; audits must read TokensUsed directly.
func (m Message) Tokens() int {
	if m.TokensUsed == nil {
		return 0
	}
	return *m.TokensUsed
}

// TotalTokens sums Tokens over msgs.
func TotalTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += m.Tokens()
	}
	return total
}
