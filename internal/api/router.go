// Package api exposes the inbox, local publishing and live streaming over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/ingest"
	"github.com/fedibird/fedimind/internal/models"
	"github.com/fedibird/fedimind/pkg/logging"
)

// Ingester is the pipeline entry point
type Ingester interface {
	Ingest(ctx context.Context, dl ingest.Delivery) (ingest.Result, error)
	PublishLocal(ctx context.Context, author *models.Account, req builder.LocalPost, token string) (ingest.Result, error)
}

// Accounts looks up local accounts
type Accounts interface {
	AccountByID(ctx context.Context, id int64) (*models.Account, error)
	LocalAccountByUsername(ctx context.Context, username string) (*models.Account, error)
	ListOwner(ctx context.Context, listID int64) (int64, error)
}

// Streamer upgrades a request to a live stream of channels
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, channels []string) error
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Router sets up API routes
type Router struct {
	ingester Ingester
	accounts Accounts
	streamer Streamer
	auth     *Authenticator
	checks   map[string]HealthCheck
	origins  []string
	logger   *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(ingester Ingester, accounts Accounts, streamer Streamer, auth *Authenticator) *Router {
	return &Router{
		ingester: ingester,
		accounts: accounts,
		streamer: streamer,
		auth:     auth,
		checks:   make(map[string]HealthCheck),
		logger:   logging.WithComponent("api-router"),
	}
}

// AddHealthCheck registers a dependency checked by /health
func (r *Router) AddHealthCheck(name string, check HealthCheck) {
	r.checks[name] = check
}

// AllowOrigins sets the browser origins allowed to call the client API
func (r *Router) AllowOrigins(origins ...string) {
	r.origins = origins
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Accept", "Idempotency-Key"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(r.origins) > 0 {
		corsConfig.AllowOrigins = r.origins
	} else {
		corsConfig.AllowAllOrigins = true
	}

	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	// Federation
	engine.POST("/inbox", r.inboxHandler)
	engine.POST("/users/:username/inbox", r.userInboxHandler)

	// Client API
	client := engine.Group("/api/v1", cors.New(corsConfig))
	client.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	client.POST("/statuses", r.auth.authenticate(true), r.publishHandler)
	client.GET("/streaming", r.auth.authenticate(false), r.streamingHandler)
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := gin.H{}
	for name, check := range r.checks {
		if err := check(ctx); err != nil {
			r.logger.Warn("Health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "OK"
	}

	state := "OK"
	if status != http.StatusOK {
		state = "DEGRADED"
	}
	c.JSON(status, gin.H{
		"status":       state,
		"service":      "fedimind",
		"dependencies": deps,
	})
}
