// Package httpapi wires the Gin transport to the store services, the
// middleware stack and the route handlers.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-history/internal/config"
	"github.com/tbourn/go-chat-history/internal/domain"
	"github.com/tbourn/go-chat-history/internal/http/handlers"
	"github.com/tbourn/go-chat-history/internal/http/middleware"
	"github.com/tbourn/go-chat-history/internal/repo"
	"github.com/tbourn/go-chat-history/internal/retry"
	"github.com/tbourn/go-chat-history/internal/services"
)

// idempotencyStore keeps Idempotency-Key records in the idempotency table.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// lookup returns the live record for a key, or nil.
func (s idempotencyStore) lookup(ctx context.Context, userID, conversationID, key string) (*domain.Idempotency, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, conversationID, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// Reserve inserts a pending record for the key. On a clash it answers from
// the existing record; an expired leftover is dropped and the insert retried
// once.
func (s idempotencyStore) Reserve(ctx context.Context, userID, conversationID, key string) (*domain.Message, error) {
	for attempt := 0; ; attempt++ {
		_, err := repo.CreateIdempotency(ctx, s.db, userID, conversationID, key, "", http.StatusAccepted, s.ttl)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, err
		}

		rec, err := s.lookup(ctx, userID, conversationID, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			if attempt > 0 {
				return nil, handlers.ErrIdempotencyInFlight
			}
			if err := repo.DropExpiredIdempotency(ctx, s.db, userID, conversationID, key, time.Now().UTC()); err != nil {
				return nil, err
			}
			continue
		}
		if rec.Pending() {
			return nil, handlers.ErrIdempotencyInFlight
		}
		m, err := repo.GetMessage(ctx, s.db, rec.MessageID)
		if errors.Is(err, repo.ErrNotFound) {
			// The conversation was purged since; the append will fail on
			// its own.
			return nil, nil
		}
		return m, err
	}
}

// Complete records the message a reserved key produced.
func (s idempotencyStore) Complete(ctx context.Context, userID, conversationID, key, messageID string) error {
	return repo.CompleteIdempotency(ctx, s.db, userID, conversationID, key, messageID, http.StatusCreated)
}

// Release frees a reserved key after a failed append.
func (s idempotencyStore) Release(ctx context.Context, userID, conversationID, key string) error {
	return repo.ReleaseIdempotency(ctx, s.db, userID, conversationID, key)
}

// exists adapts lookup to middleware.IdempotencyLookup.
func (s idempotencyStore) exists(ctx context.Context, userID, conversationID, key string, _ time.Time) (bool, error) {
	rec, err := s.lookup(ctx, userID, conversationID, key)
	return rec != nil && !rec.Pending(), err
}

// Options carries the optional collaborators of RegisterRoutes.
type Options struct {
	// Settings enables model metadata and the /admin/settings endpoints.
	Settings handlers.ModelSettings
}

// RegisterRoutes installs the middleware stack and every endpoint on r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger
//  4. Recovery
//  5. body size limit
//  6. gzip
//  7. metrics
//  8. idempotency validator (before the limiter so replays bypass it)
//  9. rate limiter
//  10. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, opts Options) {
	r.HandleMethodNotAllowed = true

	idem := idempotencyStore{db: db, ttl: cfg.IdempotencyTTL}

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-API-Key"}}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(middleware.Metrics())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idem.exists))
	r.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).Handler())
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	convs := services.NewConversationService(db)
	var keys handlers.APIKeyService
	if len(cfg.APIKeySecret) > 0 {
		if ks, err := services.NewAPIKeyService(db, cfg.APIKeySecret); err != nil {
			log.Error().Err(err).Msg("api key storage disabled")
		} else {
			keys = ks
		}
	}
	h := handlers.New(handlers.Deps{
		Users:         services.NewUserService(db, cfg.BcryptCost),
		Conversations: convs,
		Idempotency:   idem,
		Settings:      opts.Settings,
		APIKeys:       keys,
		Retry: retry.Policy{
			MaxTries:        uint(cfg.Retry.MaxTries),
			MaxElapsed:      cfg.Retry.MaxElapsed,
			InitialInterval: 50 * time.Millisecond,
		},
	})

	admin := r.Group("/admin", middleware.RequireAdmin(cfg.AdminToken))
	admin.GET("/settings", h.GetSettings)
	admin.POST("/settings/refresh", h.RefreshSettings)

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.POST("/users", h.Register)
	api.POST("/sessions", h.Login)

	owned := api.Group("", middleware.RequireUser())
	owned.POST("/conversations", h.CreateConversation)
	owned.GET("/conversations", h.ListConversations)
	owned.GET("/conversations/:id", h.GetConversation)
	owned.DELETE("/conversations/:id", h.DeleteConversation)
	owned.POST("/conversations/:id/purge", h.PurgeConversation)
	owned.POST("/conversations/:id/messages", h.AppendMessage)
	owned.PUT("/api-keys/:provider", h.StoreAPIKey)
	owned.GET("/api-keys/:provider", h.GetAPIKey)
	owned.DELETE("/api-keys/:provider", h.DeleteAPIKey)
}

var (
	corsMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"}
	corsExpose  = []string{"X-Request-ID", "ETag", "Idempotency-Replayed", "Content-Length"}
)

// corsMiddleware allows every origin when none are configured, without
// credentials, and otherwise only the configured ones.
func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:     corsMethods,
		AllowHeaders:     corsHeaders,
		ExposeHeaders:    corsExpose,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return cors.New(c)
}

// limitBody caps request bodies at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix treats "" and "/" as the root group.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
