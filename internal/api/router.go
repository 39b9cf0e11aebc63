// Package api wires together all HTTP routes for the Mini-AWS control plane.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated probes.
//   - /auth/register and /auth/login are public and limited per client address.
//   - Everything else requires an X-API-Key and is limited per account. Every
//     resource lookup is scoped to the authenticated account, so another
//     tenant's resource is indistinguishable from a missing one.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/PoyrazK/Mini-AWS/internal/api/accounts"
	computeapi "github.com/PoyrazK/Mini-AWS/internal/api/compute"
	"github.com/PoyrazK/Mini-AWS/internal/api/dashboard"
	"github.com/PoyrazK/Mini-AWS/internal/api/networks"
	"github.com/PoyrazK/Mini-AWS/internal/compute"
	"github.com/PoyrazK/Mini-AWS/internal/config"
	"github.com/PoyrazK/Mini-AWS/internal/crypto"
	"github.com/PoyrazK/Mini-AWS/internal/db/repositories"
	"github.com/PoyrazK/Mini-AWS/internal/events"
	"github.com/PoyrazK/Mini-AWS/internal/fleet"
	"github.com/PoyrazK/Mini-AWS/internal/guard"
	"github.com/PoyrazK/Mini-AWS/internal/identity"
	"github.com/PoyrazK/Mini-AWS/internal/jobs"
	"github.com/PoyrazK/Mini-AWS/internal/middleware"
	"github.com/PoyrazK/Mini-AWS/internal/network"
	"github.com/PoyrazK/Mini-AWS/internal/safego"
	"github.com/PoyrazK/Mini-AWS/internal/store"
	"github.com/PoyrazK/Mini-AWS/internal/validation"
)

// Version is reported by GET /version and the version sub-command.
const Version = "0.1.0"

// fleetGaugeInterval is how often the instances{status} gauge is refreshed.
const fleetGaugeInterval = 15 * time.Second

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	cancel       context.CancelFunc
	sweeper      *jobs.ProvisioningSweeper
	fleetGauge   *jobs.FleetGaugeCollector
	orchestrator *compute.Orchestrator
	rateLimiters []middleware.Limiter
	bus          *events.Bus
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
// In-flight provisioning is allowed to finish so its events reach the sinks
// before the bus closes.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.sweeper != nil {
		bg.sweeper.Stop()
	}
	if bg.fleetGauge != nil {
		bg.fleetGauge.Stop()
	}
	if bg.cancel != nil {
		bg.cancel()
	}
	if bg.orchestrator != nil {
		bg.orchestrator.Wait()
	}
	for _, rl := range bg.rateLimiters {
		if err := rl.Close(); err != nil {
			slog.Warn("failed to close rate limiter", "error", err)
		}
	}
	if bg.bus != nil {
		if err := bg.bus.Close(); err != nil {
			slog.Warn("failed to close event bus", "error", err)
		}
	}
	slog.Info("background services stopped")
}

// NewRouter creates and configures the Gin router. db and rdb are nil when
// Postgres or Redis are disabled.
func NewRouter(cfg *config.Config, db *sqlx.DB, rdb *redis.Client) (*gin.Engine, *BackgroundServices, error) {
	if err := validation.RegisterWithGin(); err != nil {
		return nil, nil, fmt.Errorf("failed to register validation rules: %w", err)
	}

	// Event delivery
	feed := events.NewFeed(cfg.Events.FeedSize)
	sinks := []events.Sink{feed, events.NewLogSink(slog.Default())}
	var eventLog fleet.EventLog = feed
	if db != nil {
		eventRepo := repositories.NewEventRepository(db)
		sinks = append(sinks, events.NewRepositorySink(eventRepo))
		eventLog = eventRepo
	}
	extra, err := optionalSinks(cfg.Events)
	if err != nil {
		for _, s := range extra {
			_ = s.Close()
		}
		return nil, nil, err
	}
	sinks = append(sinks, extra...)
	bus := events.NewBus(events.BusOptions{}, sinks...)

	// Identity
	sealer, err := newSealer(cfg, db != nil)
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	var accountRepo identity.Repository = identity.NewMemoryRepository()
	if db != nil {
		accountRepo = repositories.NewAccountRepository(db)
	}
	identitySvc := identity.NewService(accountRepo, sealer, bus, identity.Options{
		KeyPrefix:  cfg.Auth.APIKeys.Prefix,
		BcryptCost: cfg.Auth.BcryptCost,
	})

	// Resources
	arena := store.NewArena()
	networkMgr := network.NewManager(arena, guard.New(), bus)
	provisioner := compute.NewSimulatedProvisioner(
		cfg.Provisioning.MinDelay,
		cfg.Provisioning.MaxDelay,
		cfg.Provisioning.FailureRate,
	)
	orchestrator := compute.NewOrchestrator(arena, provisioner, bus, compute.Options{
		Timeout: cfg.Provisioning.Timeout,
	})
	fleetReader := fleet.NewReader(arena, nil, eventLog)

	// Background jobs
	jobCtx, cancel := context.WithCancel(context.Background())
	sweeper := jobs.NewProvisioningSweeper(orchestrator, cfg.Provisioning.SweepInterval, cfg.Provisioning.Timeout)
	safego.Go("jobs.provisioning_sweeper", func() { sweeper.Start(jobCtx) })
	fleetGauge := jobs.NewFleetGaugeCollector(arena, fleetGaugeInterval)
	safego.Go("jobs.fleet_gauge", func() { fleetGauge.Start(jobCtx) })

	bg := &BackgroundServices{
		cancel:       cancel,
		sweeper:      sweeper,
		fleetGauge:   fleetGauge,
		orchestrator: orchestrator,
		bus:          bus,
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware("/health", "/ready"))
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(CORSMiddleware(cfg))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})
	router.HandleMethodNotAllowed = true

	// Probes
	router.GET("/health", healthCheckHandler())
	router.GET("/ready", readinessHandler(db, rdb))
	router.GET("/version", versionHandler())

	var limit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if cfg.Security.RateLimiting.Enabled {
		limiter := newLimiter(cfg, rdb)
		bg.rateLimiters = append(bg.rateLimiters, limiter)
		limit = middleware.RateLimitMiddleware(limiter)
	}
	requireKey := middleware.AuthMiddleware(identitySvc)

	accountHandlers := accounts.NewHandler(identitySvc)
	networkHandlers := networks.NewHandler(networkMgr)
	computeHandlers := computeapi.NewHandler(orchestrator)
	dashboardHandlers := dashboard.NewHandler(fleetReader)

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", limit, accountHandlers.Register)
		authGroup.POST("/login", limit, accountHandlers.Login)

		authGroup.GET("/me", requireKey, limit, accountHandlers.Me)
		authGroup.POST("/keys/rotate", requireKey, limit, accountHandlers.RotateKey)
		authGroup.DELETE("/keys", requireKey, limit, accountHandlers.RevokeKey)
	}

	protected := router.Group("")
	protected.Use(requireKey, limit)
	{
		vpcs := protected.Group("/vpcs")
		{
			vpcs.POST("", networkHandlers.CreateVPC)
			vpcs.GET("", networkHandlers.ListVPCs)
			vpcs.GET("/:id", networkHandlers.GetVPC)
			vpcs.DELETE("/:id", networkHandlers.DeleteVPC)
			vpcs.POST("/:id/subnets", networkHandlers.CreateSubnet)
			vpcs.GET("/:id/subnets", networkHandlers.ListSubnets)
		}

		subnets := protected.Group("/subnets")
		{
			subnets.GET("/:id", networkHandlers.GetSubnet)
			subnets.DELETE("/:id", networkHandlers.DeleteSubnet)
		}

		instances := protected.Group("/instances")
		{
			instances.POST("", computeHandlers.Launch)
			instances.GET("", computeHandlers.List)
			instances.GET("/:id", computeHandlers.Get)
			instances.POST("/:id/stop", computeHandlers.Stop)
			instances.DELETE("/:id", computeHandlers.Delete)
			instances.GET("/:id/stats", dashboardHandlers.InstanceStats)
		}

		dash := protected.Group("/api/dashboard")
		{
			dash.GET("/summary", dashboardHandlers.Summary)
			dash.GET("/events", dashboardHandlers.Events)
		}
	}

	return router, bg, nil
}

// optionalSinks opens the externally facing event sinks that are enabled in
// cfg. On error the sinks opened so far are returned for the caller to close.
func optionalSinks(cfg config.EventsConfig) ([]events.Sink, error) {
	var sinks []events.Sink
	if cfg.NATS.Enabled {
		sink, err := events.NewNATSSink(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return sinks, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		slog.Info("publishing lifecycle events to NATS", "url", cfg.NATS.URL, "subject_prefix", cfg.NATS.SubjectPrefix)
		sinks = append(sinks, sink)
	}
	if cfg.Webhook.Enabled {
		sinks = append(sinks, events.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Headers, cfg.Webhook.Timeout))
		slog.Info("delivering lifecycle events to webhook", "url", cfg.Webhook.URL)
	}
	if cfg.File.Enabled {
		sink, err := events.NewFileSink(cfg.File.Path, cfg.File.MaxSizeMB, cfg.File.MaxBackups)
		if err != nil {
			return sinks, fmt.Errorf("failed to open event log: %w", err)
		}
		slog.Info("writing lifecycle events to file", "path", cfg.File.Path)
		sinks = append(sinks, sink)
	}
	return sinks, nil
}

// newSealer derives the API key sealer from the configured passphrase. Without
// one, keys are sealed with a per-process key; persisted keys would then be
// unreadable after a restart, so that is refused when the database is enabled.
func newSealer(cfg *config.Config, persistent bool) (*crypto.Sealer, error) {
	if cfg.Auth.APIKeys.EncryptionKey != "" {
		sealer, err := crypto.DeriveSealer(cfg.Auth.APIKeys.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to derive API key sealer: %w", err)
		}
		return sealer, nil
	}
	if persistent {
		return nil, fmt.Errorf("auth.api_keys.encryption_key is required when the database is enabled")
	}
	slog.Warn("auth.api_keys.encryption_key not set, using an ephemeral key (issued API keys will not survive a restart)")
	sealer, err := crypto.EphemeralSealer()
	if err != nil {
		return nil, fmt.Errorf("failed to create API key sealer: %w", err)
	}
	return sealer, nil
}

func newLimiter(cfg *config.Config, rdb *redis.Client) middleware.Limiter {
	rlCfg := middleware.DefaultRateLimitConfig()
	if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
		rlCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
	}
	if cfg.Security.RateLimiting.Burst > 0 {
		rlCfg.BurstSize = cfg.Security.RateLimiting.Burst
	}

	if cfg.Security.RateLimiting.Backend == "redis" && rdb != nil {
		slog.Info("using redis rate limiter", "requests_per_minute", rlCfg.RequestsPerMinute, "burst", rlCfg.BurstSize)
		return middleware.NewRedisRateLimiter(rdb, rlCfg)
	}
	return middleware.NewRateLimiter(rlCfg)
}

// @Summary      Liveness check
// @Description  Returns 200 while the process is serving requests. Does not probe dependencies.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Router       /health [get]
func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks Postgres and Redis when they are enabled.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
func readinessHandler(db *sqlx.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{}

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				checks["database"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "database not ready",
				})
				return
			}
			checks["database"] = "healthy"
		}

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware emits one structured record per request. The output format
// (json or text) is whatever telemetry.SetupLogger installed.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.RequestID(c)),
			slog.String("user_agent", c.Request.UserAgent()),
		}
		if id := middleware.AccountID(c); id != "" {
			attrs = append(attrs, slog.String("account_id", id))
		}
		if cfg.Logging.Level == "debug" && len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}

// CORSMiddleware handles CORS headers
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
