package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-history/internal/domain"
	"github.com/tbourn/go-chat-history/internal/http/middleware"
	"github.com/tbourn/go-chat-history/internal/retry"
	"github.com/tbourn/go-chat-history/internal/services"
	"github.com/tbourn/go-chat-history/internal/utils"
)

// CreateConversationRequest is the payload for POST /conversations.
type CreateConversationRequest struct {
	// Title is optional; a placeholder is used when blank.
	Title string `json:"title" example:"Trip planning"`
}

// ListConversationsResponse is one page of the caller's conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ConversationResponse is a conversation with its full message history.
type ConversationResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []domain.Message     `json:"messages"`
	// TotalTokens sums known token counts; unknown counts add nothing.
	TotalTokens int `json:"total_tokens"`
}

// SearchConversationsResponse lists the caller's conversations matching a
// free-text query.
type SearchConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Query         string                `json:"query"`
}

type listResult struct {
	items []domain.Conversation
	total int64
}

type loadResult struct {
	conv *domain.Conversation
	msgs []domain.Message
}

// CreateConversation godoc
// @ID          createConversation
// @Summary     Create a conversation
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header    string  true  "Caller identity"
// @Param       body       body      handlers.CreateConversationRequest  false  "Optional title"
// @Success     201        {object}  domain.Conversation
// @Failure     401        {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404        {object}  handlers.ErrorResponse  "user not found"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	conv, err := h.convs.Create(c.Request.Context(), middleware.UserID(c), req.Title)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, conv)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Active conversations of the caller, most recently updated first. Supports a weak ETag via If-None-Match.
// @Description With q set, returns up to page_size conversations whose title or messages contain q instead (no pagination, no ETag).
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID      header  string  true   "Caller identity"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       q              query   string  false  "Case-insensitive title or content search"
// @Success     200  {object}  handlers.ListConversationsResponse
// @Header      200  {string}  ETag  "Weak ETag for the caller's listing"
// @Success     304  {string}  string  "Not Modified"
// @Failure     503  {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	page := utils.ParsePage(c.Query("page"), c.Query("page_size"), services.DefaultPageSize, services.MaxPageSize)

	if q := c.Query("q"); strings.TrimSpace(q) != "" {
		items, err := retry.Do(ctx, h.retry, "conversations.search", func() ([]domain.Conversation, error) {
			return h.convs.Search(ctx, uid, q, page.Size)
		})
		if err != nil {
			failErr(c, err)
			return
		}
		ok(c, http.StatusOK, SearchConversationsResponse{Conversations: items, Query: q})
		return
	}

	// Best effort: a failed stats query only costs the 304.
	type stats struct {
		n   int64
		max *time.Time
	}
	if st, err := retry.Do(ctx, h.retry, "conversations.stats", func() (stats, error) {
		n, max, err := h.convs.Stats(ctx, uid)
		return stats{n, max}, err
	}); err == nil {
		var ts int64
		if st.max != nil {
			ts = st.max.UnixMicro()
		}
		etag := fmt.Sprintf(`W/"conversations:%s:%d:%d:%d:%d"`, uid, st.n, ts, page.Number, page.Size)
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	res, err := retry.Do(ctx, h.retry, "conversations.list", func() (listResult, error) {
		items, total, err := h.convs.List(ctx, uid, page.Size, page.Offset())
		return listResult{items, total}, err
	})
	if err != nil {
		failErr(c, err)
		return
	}

	totalPages := utils.TotalPages(res.total, page.Size)
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: res.items,
		Pagination: Pagination{
			Page:       page.Number,
			PageSize:   page.Size,
			Total:      res.total,
			TotalPages: totalPages,
			HasNext:    page.Number < totalPages,
		},
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Load a conversation with its messages
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       id         path    string  true  "Conversation ID"
// @Success     200  {object}  handlers.ConversationResponse
// @Failure     404  {object}  handlers.ErrorResponse  "conversation not found"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	uid, id := middleware.UserID(c), c.Param("id")

	res, err := retry.Do(ctx, h.retry, "conversations.load", func() (loadResult, error) {
		conv, msgs, err := h.convs.Load(ctx, id, uid)
		return loadResult{conv, msgs}, err
	})
	if err != nil {
		failErr(c, err)
		return
	}
	if res.msgs == nil {
		res.msgs = []domain.Message{}
	}
	ok(c, http.StatusOK, ConversationResponse{
		Conversation: res.conv,
		Messages:     res.msgs,
		TotalTokens:  domain.TotalTokens(res.msgs),
	})
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Soft-delete a conversation
// @Description Hides the conversation; messages are kept until it is purged.
// @Tags        Conversations
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       id         path    string  true  "Conversation ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "conversation not found"
// @Router      /conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	if err := h.convs.SoftDelete(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// PurgeConversation godoc
// @ID          purgeConversation
// @Summary     Permanently remove a soft-deleted conversation
// @Tags        Conversations
// @Param       X-User-ID  header  string  true  "Caller identity"
// @Param       id         path    string  true  "Conversation ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "conversation not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Conversation still active"
// @Router      /conversations/{id}/purge [post]
func (h *Handlers) PurgeConversation(c *gin.Context) {
	if err := h.convs.Purge(c.Request.Context(), c.Param("id"), middleware.UserID(c)); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
