package domain

import (
	"database/sql/driver"
	"fmt"
)

// Lifecycle is the storage state of a conversation.
//
//	active ──▶ soft_deleted ──▶ purged
//
// Purged is terminal: the row and its messages are physically removed in the
// same transaction that records the transition.
type Lifecycle string

const (
	LifecycleActive      Lifecycle = "active"
	LifecycleSoftDeleted Lifecycle = "soft_deleted"
	LifecyclePurged      Lifecycle = "purged"
)

// Valid reports whether l is a known state.
func (l Lifecycle) Valid() bool {
	switch l {
	case LifecycleActive, LifecycleSoftDeleted, LifecyclePurged:
		return true
	}
	return false
}

// CanTransition reports whether moving from l to next is allowed.
func (l Lifecycle) CanTransition(next Lifecycle) bool {
	switch l {
	case LifecycleActive:
		return next == LifecycleSoftDeleted
	case LifecycleSoftDeleted:
		return next == LifecyclePurged
	}
	return false
}

// Value implements driver.Valuer.
func (l Lifecycle) Value() (driver.Value, error) {
	if l == "" {
		return string(LifecycleActive), nil
	}
	if !l.Valid() {
		return nil, fmt.Errorf("invalid lifecycle %q", string(l))
	}
	return string(l), nil
}

// Scan implements sql.Scanner.
func (l *Lifecycle) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*l = Lifecycle(v)
	case []byte:
		*l = Lifecycle(v)
	case nil:
		*l = LifecycleActive
	default:
		return fmt.Errorf("lifecycle: unsupported type %T", src)
	}
	return nil
}

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole validates s against the allowed set.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r, true
	}
	return "", false
}
