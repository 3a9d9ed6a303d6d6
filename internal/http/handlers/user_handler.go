package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-history/internal/domain"
)

// RegisterRequest is the payload for POST /users.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,max=255" example:"alice"`
	Email    string `json:"email"    binding:"required,max=320" example:"alice@example.com"`
	Password string `json:"password" binding:"required"         example:"correct horse battery"`
}

// LoginRequest is the payload for POST /sessions.
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"alice"`
	Password string `json:"password" binding:"required" example:"correct horse battery"`
}

// SessionResponse is returned on successful authentication.
type SessionResponse struct {
	User *domain.User `json:"user"`
}

// Register godoc
// @ID          registerUser
// @Summary     Register a user
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterRequest  true  "New account"
// @Success     201   {object}  domain.User
// @Failure     400   {object}  handlers.ErrorResponse  "Invalid input"
// @Failure     409   {object}  handlers.ErrorResponse  "Username or email taken"
// @Failure     503   {object}  handlers.ErrorResponse  "Store unavailable"
// @Router      /users [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username, email and password are required")
		return
	}
	u, err := h.users.Create(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, u)
}

// Login godoc
// @ID          createSession
// @Summary     Authenticate
// @Description Verifies credentials. Unknown user, inactive user and wrong password share one response.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.LoginRequest  true  "Credentials"
// @Success     200   {object}  handlers.SessionResponse
// @Failure     401   {object}  handlers.ErrorResponse  "invalid username or password"
// @Router      /sessions [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password are required")
		return
	}
	u, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SessionResponse{User: u})
}
