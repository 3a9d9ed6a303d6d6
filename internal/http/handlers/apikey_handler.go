package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-history/internal/http/middleware"
)

// StoreAPIKeyRequest is the payload for PUT /api-keys/{provider}.
type StoreAPIKeyRequest struct {
	APIKey string `json:"api_key" binding:"required" example:"sk-..."`
}

// APIKeyResponse describes a stored key. The key itself is never returned.
type APIKeyResponse struct {
	Provider  string     `json:"provider"  example:"openai"`
	Hint      string     `json:"hint"      example:"****1234"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// StoreAPIKey godoc
// @ID          storeAPIKey
// @Summary     Store a provider API key
// @Description Seals the key and stores it for the caller, replacing any previous key for the provider.
// @Tags        APIKeys
// @Accept      json
// @Param       X-User-ID  header  string                         true  "Caller identity"
// @Param       provider   path    string                         true  "Provider name"
// @Param       body       body    handlers.StoreAPIKeyRequest    true  "Key"
// @Success     204
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid provider or key"
// @Failure     404  {object}  handlers.ErrorResponse  "Key storage not configured or user not found"
// @Router      /api-keys/{provider} [put]
func (h *Handlers) StoreAPIKey(c *gin.Context) {
	if h.keys == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgKeysNotConfigured)
		return
	}
	var req StoreAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "api_key is required")
		return
	}
	if err := h.keys.Store(c.Request.Context(), middleware.UserID(c), c.Param("provider"), req.APIKey); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetAPIKey godoc
// @ID       getAPIKey
// @Summary  Describe a stored provider API key
// @Tags     APIKeys
// @Produce  json
// @Param    X-User-ID  header  string  true  "Caller identity"
// @Param    provider   path    string  true  "Provider name"
// @Success  200  {object}  handlers.APIKeyResponse
// @Failure  404  {object}  handlers.ErrorResponse  "No key stored"
// @Failure  409  {object}  handlers.ErrorResponse  "Stored key cannot be decrypted"
// @Router   /api-keys/{provider} [get]
func (h *Handlers) GetAPIKey(c *gin.Context) {
	if h.keys == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgKeysNotConfigured)
		return
	}
	info, err := h.keys.Describe(c.Request.Context(), middleware.UserID(c), c.Param("provider"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, APIKeyResponse{
		Provider:  info.Provider,
		Hint:      info.Hint,
		CreatedAt: info.CreatedAt,
		UpdatedAt: info.UpdatedAt,
		LastUsed:  info.LastUsed,
	})
}

// DeleteAPIKey godoc
// @ID       deleteAPIKey
// @Summary  Delete a stored provider API key
// @Tags     APIKeys
// @Param    X-User-ID  header  string  true  "Caller identity"
// @Param    provider   path    string  true  "Provider name"
// @Success  204
// @Failure  404  {object}  handlers.ErrorResponse  "No key stored"
// @Router   /api-keys/{provider} [delete]
func (h *Handlers) DeleteAPIKey(c *gin.Context) {
	if h.keys == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgKeysNotConfigured)
		return
	}
	if err := h.keys.Delete(c.Request.Context(), middleware.UserID(c), c.Param("provider")); err != nil {
		failErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
