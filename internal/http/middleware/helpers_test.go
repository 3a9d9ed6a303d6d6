package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

// serve builds an engine with mws and a 200 handler on method path, then runs
// req through it.
func serve(t *testing.T, method, path string, req *http.Request, h gin.HandlerFunc, mws ...gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.Use(mws...)
	if h == nil {
		h = func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	}
	r.Handle(method, path, h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
