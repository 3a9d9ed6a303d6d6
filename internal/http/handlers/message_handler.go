package handlers

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-history/internal/domain"
	"github.com/tbourn/go-chat-history/internal/http/middleware"
	"github.com/tbourn/go-chat-history/internal/services"
)

// metadataModelKey names the model in message metadata.
const metadataModelKey = "model"

// AppendMessageRequest is the payload for POST /conversations/{id}/messages.
type AppendMessageRequest struct {
	// Role defaults to "user".
	Role    string `json:"role"    example:"user" enums:"user,assistant,system"`
	Content string `json:"content" binding:"required" example:"Plan a 3-day trip to Lisbon"`
	// TokensUsed is omitted or null when unknown.
	TokensUsed *int           `json:"tokens_used,omitempty" example:"42"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AppendMessageResponse wraps the stored message.
type AppendMessageResponse struct {
	Message *domain.Message `json:"message"`
}

var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes line endings and collapses runs of blank lines.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// AppendMessage godoc
// @ID          appendMessage
// @Summary     Append a message
// @Description Stores a message at the end of an active conversation owned by the caller.
// @Description A retried request with the same Idempotency-Key returns the original message.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  true   "Caller identity"
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"
// @Param       id               path    string  true   "Conversation ID"
// @Param       body             body    handlers.AppendMessageRequest  true  "Message"
// @Success     201  {object}  handlers.AppendMessageResponse  "Stored"
// @Success     200  {object}  handlers.AppendMessageResponse  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid message"
// @Failure     404  {object}  handlers.ErrorResponse  "conversation not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Same Idempotency-Key in progress"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) AppendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	uid, convID := middleware.UserID(c), c.Param("id")
	lg := middleware.LoggerFrom(c)

	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	role := domain.RoleUser
	if req.Role != "" {
		r, valid := domain.ParseRole(strings.ToLower(req.Role))
		if !valid {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "role must be user, assistant or system")
			return
		}
		role = r
	}

	key, _ := middleware.GetIdempotencyKey(c)
	held := false
	if key != "" && h.idem != nil {
		prev, err := h.idem.Reserve(ctx, uid, convID, key)
		switch {
		case errors.Is(err, ErrIdempotencyInFlight):
			fail(c, http.StatusConflict, ErrCodeRequestInFlight, "a request with this Idempotency-Key is in progress")
			return
		case err != nil:
			lg.Warn().Err(err).Msg("idempotency reservation failed")
		case prev != nil:
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, AppendMessageResponse{Message: prev})
			return
		default:
			held = true
		}
	}
	// The key must not stay reserved once the request is over, even when
	// the client went away.
	bg := context.WithoutCancel(ctx)
	release := func() {
		if !held {
			return
		}
		if err := h.idem.Release(bg, uid, convID, key); err != nil {
			lg.Warn().Err(err).Msg("idempotency key not released")
		}
	}

	if err := h.convs.Authorize(ctx, convID, uid); err != nil {
		release()
		failErr(c, err)
		return
	}

	meta := req.Metadata
	if _, has := meta[metadataModelKey]; !has && h.settings != nil {
		if meta == nil {
			meta = map[string]any{}
		}
		meta[metadataModelKey] = h.settings.SelectModel(content)
	}

	m, err := h.convs.AppendMessage(ctx, convID, services.NewMessage{
		Role:       role,
		Content:    content,
		TokensUsed: req.TokensUsed,
		Metadata:   meta,
	})
	if err != nil {
		release()
		failErr(c, err)
		return
	}

	if held {
		if err := h.idem.Complete(bg, uid, convID, key, m.ID); err != nil {
			lg.Warn().Err(err).Str("message_id", m.ID).Msg("idempotency record not completed")
		}
	}
	ok(c, http.StatusCreated, AppendMessageResponse{Message: m})
}
