package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ctxKeyUserID holds the caller identity. An upstream authenticator may
	// set it; otherwise the X-User-ID header is used.
	ctxKeyUserID = "userID"
	// HeaderUserID carries the caller identity for trusted front ends.
	HeaderUserID = "X-User-ID"
)

// UserID returns the caller identity from the Gin context or, failing that,
// the X-User-ID header. It returns "" when neither is present.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		return strings.TrimSpace(c.GetHeader(HeaderUserID))
	}
	return ""
}

// RequireUser rejects requests without a caller identity with 401 and stores
// the resolved identity under "userID" for downstream handlers.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := UserID(c)
		if uid == "" {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

// RequireAdmin guards operator endpoints. A caller identity is always
// required; when token is non-empty the request must also carry
// "Authorization: Bearer <token>", otherwise it is rejected with 403.
func RequireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := UserID(c)
		if uid == "" {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "missing user identity")
			return
		}
		if token != "" {
			got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
				abortAuth(c, http.StatusForbidden, "forbidden", "admin token required")
				return
			}
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
