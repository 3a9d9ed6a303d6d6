package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-history/internal/config"
	"github.com/tbourn/go-chat-history/internal/domain"
	"github.com/tbourn/go-chat-history/internal/http/middleware"
	"github.com/tbourn/go-chat-history/internal/services"
)

func init() { gin.SetMode(gin.TestMode) }

// fakeConvs is a ConversationService with overridable behaviour. Unset
// functions return zero values.
type fakeConvs struct {
	create    func(ctx context.Context, ownerID, title string) (*domain.Conversation, error)
	appendMsg func(ctx context.Context, id string, in services.NewMessage) (*domain.Message, error)
	list      func(ctx context.Context, ownerID string, limit, offset int) ([]domain.Conversation, int64, error)
	search    func(ctx context.Context, ownerID, query string, limit int) ([]domain.Conversation, error)
	load      func(ctx context.Context, id, uid string) (*domain.Conversation, []domain.Message, error)
	authorize func(ctx context.Context, id, uid string) error
	del       func(ctx context.Context, id, uid string) error
	purge     func(ctx context.Context, id, uid string) error
	stats     func(ctx context.Context, ownerID string) (int64, *time.Time, error)
}

func (f *fakeConvs) Create(ctx context.Context, ownerID, title string) (*domain.Conversation, error) {
	if f.create != nil {
		return f.create(ctx, ownerID, title)
	}
	return &domain.Conversation{ID: "c-1", UserID: ownerID, Title: title}, nil
}

func (f *fakeConvs) AppendMessage(ctx context.Context, id string, in services.NewMessage) (*domain.Message, error) {
	if f.appendMsg != nil {
		return f.appendMsg(ctx, id, in)
	}
	return &domain.Message{ID: "m-1", ConversationID: id, Role: in.Role, Content: in.Content, Order: 1}, nil
}

func (f *fakeConvs) List(ctx context.Context, ownerID string, limit, offset int) ([]domain.Conversation, int64, error) {
	if f.list != nil {
		return f.list(ctx, ownerID, limit, offset)
	}
	return []domain.Conversation{}, 0, nil
}

func (f *fakeConvs) Search(ctx context.Context, ownerID, query string, limit int) ([]domain.Conversation, error) {
	if f.search != nil {
		return f.search(ctx, ownerID, query, limit)
	}
	return []domain.Conversation{}, nil
}

func (f *fakeConvs) Load(ctx context.Context, id, uid string) (*domain.Conversation, []domain.Message, error) {
	if f.load != nil {
		return f.load(ctx, id, uid)
	}
	return &domain.Conversation{ID: id, UserID: uid}, nil, nil
}

func (f *fakeConvs) Authorize(ctx context.Context, id, uid string) error {
	if f.authorize != nil {
		return f.authorize(ctx, id, uid)
	}
	return nil
}

func (f *fakeConvs) SoftDelete(ctx context.Context, id, uid string) error {
	if f.del != nil {
		return f.del(ctx, id, uid)
	}
	return nil
}

func (f *fakeConvs) Purge(ctx context.Context, id, uid string) error {
	if f.purge != nil {
		return f.purge(ctx, id, uid)
	}
	return nil
}

func (f *fakeConvs) Stats(ctx context.Context, ownerID string) (int64, *time.Time, error) {
	if f.stats != nil {
		return f.stats(ctx, ownerID)
	}
	return 0, nil, nil
}

type fakeUsers struct {
	create func(ctx context.Context, u, e, p string) (*domain.User, error)
	auth   func(ctx context.Context, u, p string) (*domain.User, error)
}

func (f *fakeUsers) Create(ctx context.Context, u, e, p string) (*domain.User, error) {
	return f.create(ctx, u, e, p)
}

func (f *fakeUsers) Authenticate(ctx context.Context, u, p string) (*domain.User, error) {
	return f.auth(ctx, u, p)
}

// memIdem is an in-memory IdempotencyStore. A nil entry is a pending key.
type memIdem struct {
	mu       sync.Mutex
	recs     map[string]*domain.Message
	released int
}

func newMemIdem() *memIdem { return &memIdem{recs: map[string]*domain.Message{}} }

func (m *memIdem) Reserve(_ context.Context, uid, cid, key string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := uid + "|" + cid + "|" + key
	if prev, held := m.recs[k]; held {
		if prev == nil {
			return nil, ErrIdempotencyInFlight
		}
		return prev, nil
	}
	m.recs[k] = nil
	return nil, nil
}

func (m *memIdem) Complete(_ context.Context, uid, cid, key, mid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[uid+"|"+cid+"|"+key] = &domain.Message{ID: mid, ConversationID: cid}
	return nil
}

func (m *memIdem) Release(_ context.Context, uid, cid, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := uid + "|" + cid + "|" + key
	if prev, held := m.recs[k]; held && prev == nil {
		delete(m.recs, k)
		m.released++
	}
	return nil
}

type fakeSettings struct {
	model      string
	refreshErr error
	refreshes  int
}

func (f *fakeSettings) Current() config.ModelSettings { return config.DefaultModelSettings() }
func (f *fakeSettings) LoadedAt() time.Time           { return time.Unix(0, 0).UTC() }
func (f *fakeSettings) SelectModel(string) string     { return f.model }
func (f *fakeSettings) Refresh() error                { f.refreshes++; return f.refreshErr }

// newEngine mounts the handlers the way the router does, minus the
// cross-cutting middleware.
func newEngine(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/users", h.Register)
	r.POST("/sessions", h.Login)
	r.GET("/admin/settings", h.GetSettings)
	r.POST("/admin/settings/refresh", h.RefreshSettings)

	api := r.Group("", middleware.RequireUser())
	api.POST("/conversations", h.CreateConversation)
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:id", h.GetConversation)
	api.DELETE("/conversations/:id", h.DeleteConversation)
	api.POST("/conversations/:id/purge", h.PurgeConversation)
	api.POST("/conversations/:id/messages",
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil), h.AppendMessage)
	api.PUT("/api-keys/:provider", h.StoreAPIKey)
	api.GET("/api-keys/:provider", h.GetAPIKey)
	api.DELETE("/api-keys/:provider", h.DeleteAPIKey)
	return r
}

// do sends a JSON request as user (when non-empty) and returns the recorder.
func do(t *testing.T, r http.Handler, method, path, user string, body any, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.HeaderUserID, user)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}
