// Package api wires together all HTTP routes for the AutoThreat backend.
//
// Middleware ordering: security headers, request IDs, and metrics run first so
// every response carries them; the coarse per-IP rate limit runs before
// authentication so anonymous floods never reach the credential chain; the
// fine per-identity limits run after authentication on each named endpoint.
//
// Every data route is owner-scoped: a resource belonging to another user reads
// as 404, never 403, so the API does not leak resource existence.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/autothreat/autothreat-backend/internal/api/projects"
	"github.com/autothreat/autothreat-backend/internal/api/sboms"
	syncapi "github.com/autothreat/autothreat-backend/internal/api/sync"
	"github.com/autothreat/autothreat-backend/internal/api/tokens"
	"github.com/autothreat/autothreat-backend/internal/auth"
	"github.com/autothreat/autothreat-backend/internal/auth/oidc"
	"github.com/autothreat/autothreat-backend/internal/config"
	"github.com/autothreat/autothreat-backend/internal/db/repositories"
	"github.com/autothreat/autothreat-backend/internal/ingest"
	"github.com/autothreat/autothreat-backend/internal/jobs"
	"github.com/autothreat/autothreat-backend/internal/middleware"
	"github.com/autothreat/autothreat-backend/internal/ratelimit"
	"github.com/autothreat/autothreat-backend/internal/safego"
	"github.com/autothreat/autothreat-backend/internal/storage"
	"github.com/autothreat/autothreat-backend/internal/storage/local"
	"github.com/autothreat/autothreat-backend/internal/vulndb"

	// Import storage backends to register them
	_ "github.com/autothreat/autothreat-backend/internal/storage/azure"
	_ "github.com/autothreat/autothreat-backend/internal/storage/gcs"
	_ "github.com/autothreat/autothreat-backend/internal/storage/s3"
)

// BackgroundServices holds resources that must be released during graceful
// shutdown. The caller (cmd/server) is responsible for calling Shutdown()
// after the HTTP server has drained.
type BackgroundServices struct {
	limiters     []*ratelimit.Limiter
	tokenSweeper *jobs.TokenSweeper
	redisClient  *redis.Client
}

// Shutdown stops the background jobs, rate limiter ledgers, and the Redis
// connection
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.tokenSweeper != nil {
		bg.tokenSweeper.Stop()
	}
	for _, l := range bg.limiters {
		l.Stop()
	}
	if bg.redisClient != nil {
		if err := bg.redisClient.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize artifact storage
	store, err := storage.NewStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	// Local fallback store for when the primary artifact store is down.
	// Meaningless when the primary already is the local filesystem.
	var fallback storage.Store
	if cfg.Storage.DefaultBackend != "local" && cfg.Storage.Local.BasePath != "" {
		ls, lerr := local.New(&cfg.Storage.Local)
		if lerr != nil {
			slog.Warn("local fallback store unavailable", "error", lerr)
		} else {
			fallback = ls
		}
	}

	// Wrap *sql.DB with sqlx for the project repository
	sqlxDB := sqlx.NewDb(db, "postgres")

	userRepo := repositories.NewUserRepository(db)
	tokenRepo := repositories.NewTokenRepository(db)
	projectRepo := repositories.NewProjectRepository(sqlxDB)
	sbomRepo := repositories.NewSbomRepository(db)

	// External token verifier (optional)
	var external auth.ExternalVerifier
	if cfg.Auth.OIDC.Enabled {
		provider, perr := oidc.NewProviderWithContext(context.Background(), &cfg.Auth.OIDC)
		if perr != nil {
			log.Fatalf("Failed to initialize OIDC verifier: %v", perr)
		}
		external = provider
		slog.Info("external token verification enabled", "issuer", cfg.Auth.OIDC.IssuerURL)
	}

	authenticator := auth.NewAuthenticator(userRepo, tokenRepo, external)

	// Sweep expired API tokens once a day
	tokenSweeper := jobs.NewTokenSweeper(tokenRepo, 24*time.Hour)
	safego.Go(func() { tokenSweeper.Start(context.Background()) })

	// Rate limit ledgers. Redis keeps both layers consistent across replicas;
	// the in-memory ledgers are per-process.
	ipLimiter, userLimiter, redisClient := buildLimiters(cfg)

	// Vulnerability correlation and the ingestion pipeline
	correlator := vulndb.NewClient(&cfg.Vulndb)
	pipeline := ingest.New(projectRepo, sbomRepo, store, fallback, correlator)

	tokenHandlers := tokens.NewHandlers(db)
	projectHandlers := projects.NewHandlers(sqlxDB, sbomRepo, store)
	sbomHandlers := sboms.NewHandlers(sbomRepo, sqlxDB, store)
	syncHandlers := syncapi.NewHandlers(pipeline)

	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(middleware.IPRateLimit(ipLimiter, cfg.RateLimit.IPLimit))

	// Liveness probe
	router.GET("/healthz", healthzHandler(db))

	// Readiness probe, includes a storage backend check
	router.GET("/readyz", readyzHandler(db, store))

	router.GET("/version", versionHandler())

	userLimit := func(endpoint string) gin.HandlerFunc {
		return middleware.UserRateLimit(userLimiter, &cfg.RateLimit, endpoint)
	}

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(authenticator))
	{
		apiV1.POST("/sbom/sync", userLimit("sbom:sync"), syncHandlers.SyncHandler())

		tokensGroup := apiV1.Group("/tokens")
		{
			tokensGroup.GET("", userLimit("tokens:list"), tokenHandlers.ListHandler())
			tokensGroup.POST("", userLimit("tokens:create"), tokenHandlers.CreateHandler())
			tokensGroup.DELETE("/:id", userLimit("tokens:delete"), tokenHandlers.DeleteHandler())
		}

		projectsGroup := apiV1.Group("/projects")
		{
			projectsGroup.GET("", projectHandlers.ListHandler())
			projectsGroup.GET("/:id", projectHandlers.GetHandler())
			projectsGroup.POST("", userLimit("projects:write"), projectHandlers.CreateHandler())
			projectsGroup.DELETE("/:id", userLimit("projects:write"), projectHandlers.DeleteHandler())
		}

		sbomsGroup := apiV1.Group("/sboms")
		{
			sbomsGroup.GET("", sbomHandlers.ListHandler())
			sbomsGroup.GET("/:id", sbomHandlers.GetHandler())
			sbomsGroup.GET("/:id/findings", sbomHandlers.FindingsHandler())
			sbomsGroup.DELETE("/:id", sbomHandlers.DeleteHandler())
		}
	}

	bg := &BackgroundServices{
		limiters:     []*ratelimit.Limiter{ipLimiter, userLimiter},
		tokenSweeper: tokenSweeper,
		redisClient:  redisClient,
	}

	return router, bg
}

// buildLimiters constructs the two admission layers. With the Redis backend
// the coarse IP layer uses a GCRA ledger and the fine layer a fixed-window
// Lua script; otherwise both fall back to in-process counters.
func buildLimiters(cfg *config.Config) (ipLimiter, userLimiter *ratelimit.Limiter, client *redis.Client) {
	window := cfg.RateLimit.Window

	if cfg.RateLimit.Backend == "redis" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ipLimiter = ratelimit.New(ratelimit.NewGCRALedger(client), ratelimit.LayerIP, window)
		userLimiter = ratelimit.New(ratelimit.NewRedisLedger(client), ratelimit.LayerUser, window)
		log.Printf("Rate limiting backed by redis at %s", cfg.Redis.Addr)
		return ipLimiter, userLimiter, client
	}

	ipLimiter = ratelimit.New(ratelimit.NewMemoryLedger(), ratelimit.LayerIP, window)
	userLimiter = ratelimit.New(ratelimit.NewMemoryLedger(), ratelimit.LayerUser, window)
	log.Println("Rate limiting backed by in-memory counters (single node)")
	return ipLimiter, userLimiter, nil
}

// @Summary      Liveness check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /healthz [get]
// healthzHandler returns the health status of the service
func healthzHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database and artifact storage connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks per dependency"
// @Failure      503  {object}  map[string]interface{}  "ready: false"
// @Router       /readyz [get]
// readyzHandler returns the readiness status of the service. Unlike the
// liveness probe, this also checks the artifact store so a readiness gate
// fails when uploads would error.
func readyzHandler(db *sql.DB, store storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		// Probe with a known-absent sentinel key. Exists() exercises
		// authentication and network connectivity without creating state.
		if _, err := store.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
			checks["storage"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "storage backend not ready",
			})
			return
		}
		checks["storage"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version and api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
