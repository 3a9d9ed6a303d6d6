package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-history/internal/services"
)

// Stable, machine-readable error codes carried in ErrorResponse.Code.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeUnavailable      = "store_unavailable"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeSettingsReload    = "settings_reload_failed"
	ErrCodeRequestInFlight   = "request_in_flight"
	ErrCodeAPIKeyUnreadable  = "api_key_unreadable"
)

// Messages shared by several responses. A foreign, missing and deleted
// conversation must produce byte-identical bodies.
const (
	msgConversationNotFound = "conversation not found"
	msgUserNotFound         = "user not found"
	msgKeysNotConfigured    = "api key storage not configured"
)

// failErr maps a store error onto the HTTP error envelope.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrForbidden), errors.Is(err, services.ErrUnknownConversation):
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgConversationNotFound)
	case errors.Is(err, services.ErrUnknownOwner):
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgUserNotFound)
	case errors.Is(err, services.ErrUnknownAPIKey):
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.ErrUnknownAPIKey.Error())
	case errors.Is(err, services.ErrSealedKey):
		fail(c, http.StatusConflict, ErrCodeAPIKeyUnreadable, "stored api key cannot be decrypted; store it again")
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, services.ErrInvalidCredentials.Error())
	case errors.Is(err, services.ErrDuplicateKey):
		fail(c, http.StatusConflict, ErrCodeConflict, "already exists")
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, "conversation must be deleted before it can be purged")
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrInvalidMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrTransientStore):
		c.Header("Retry-After", "1")
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "store temporarily unavailable")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
