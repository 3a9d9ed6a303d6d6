package domain

import "time"

// UserAPIKey is a third-party provider credential stored for one user, at
// most one per (user, provider). Sealed holds the encrypted key; the store
// never sees the plaintext.
type UserAPIKey struct {
	ID        string     `json:"-"                   gorm:"type:char(36);primaryKey"`
	UserID    string     `json:"-"                   gorm:"type:char(36);not null;uniqueIndex:ux_user_api_keys_provider,priority:1"`
	Provider  string     `json:"provider"            gorm:"type:varchar(64);not null;uniqueIndex:ux_user_api_keys_provider,priority:2"`
	Sealed    []byte     `json:"-"                   gorm:"not null"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`

	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for UserAPIKey.
func (UserAPIKey) TableName() string { return "user_api_keys" }
