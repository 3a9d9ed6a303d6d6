// Package services implements the persistence store operations for users,
// conversations and messages on top of the repo package.
//
// This file centralizes the store's error taxonomy. Callers match with
// errors.Is; translation into HTTP status codes happens in the handlers.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-chat-history/internal/repo"
)

var (
	// ErrDuplicateKey is returned when a username, email or id already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidCredentials covers unknown user, inactive user and wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUnknownOwner means the owning user does not exist or is inactive.
	ErrUnknownOwner = errors.New("unknown owner")

	// ErrUnknownConversation means the conversation does not exist or is not
	// active.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrForbidden is returned when a caller may not see a conversation. It
	// is also returned for missing and soft-deleted ids so that callers cannot
	// tell whether a conversation exists.
	ErrForbidden = errors.New("forbidden")

	// ErrTransientStore wraps connectivity, timeout and lock-contention
	// failures. Retrying the same call may succeed.
	ErrTransientStore = errors.New("transient store error")

	// ErrMalformedRow marks a legacy row that cannot be imported.
	ErrMalformedRow = errors.New("malformed row")

	// ErrInvalidInput is returned for blank or out-of-range arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidMessage is returned for an unknown role, negative token count
	// or empty content.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidTransition is returned when a lifecycle change is not allowed
	// from the current state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrUnknownAPIKey means the user has no key stored for the provider.
	ErrUnknownAPIKey = errors.New("api key not found")

	// ErrSealedKey means a stored key could not be opened with the current
	// secret, or was sealed for another user or provider.
	ErrSealedKey = errors.New("api key cannot be decrypted")
)

// mapStoreErr translates raw repository errors into the taxonomy. Sentinels
// that are already part of it pass through unchanged.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case repo.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	case repo.IsTransient(err):
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}
	return err
}

// resultLabel classifies err for the store metrics.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrUnknownConversation), errors.Is(err, ErrUnknownOwner), errors.Is(err, ErrUnknownAPIKey):
		return "not_found"
	case errors.Is(err, ErrDuplicateKey):
		return "conflict"
	case errors.Is(err, ErrInvalidCredentials):
		return "unauthorized"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, ErrTransientStore):
		return "transient"
	}
	return "error"
}
