package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medibook/medibook/internal/config"
	"github.com/medibook/medibook/internal/domain/admin"
	"github.com/medibook/medibook/internal/domain/booking"
	"github.com/medibook/medibook/internal/domain/identity"
	"github.com/medibook/medibook/internal/platform/apperr"
	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/db"
	"github.com/medibook/medibook/internal/platform/metrics"
	"github.com/medibook/medibook/internal/platform/middleware"
	"github.com/medibook/medibook/internal/platform/notify"
)

const maxBodySize = "1M"

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = openRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return err
		}
		defer rdb.Close()
		logger.Info().Msg("connected to redis")
	}

	key, err := signingKey(cfg)
	if err != nil {
		return err
	}
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment && cfg.AuthSigningKey == "" {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; tokens are signed with an ephemeral key")
	}

	revocations, closeRevocations := revocationStore(rdb)
	defer closeRevocations()

	sender := emailSender(cfg, logger)
	dispatcher := notify.NewDispatcher(sender, logger, 10*time.Second)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	identitySvc := identity.NewService(identity.Options{
		Users:    identity.NewUserRepoPG(pool),
		Doctors:  identity.NewDoctorRepoPG(pool),
		Provider: identity.NewLocalProvider(identity.NewCredentialRepoPG(pool), bcrypt.DefaultCost),
		Tx:       db.NewTransactor(pool),
		Tokens: &auth.Issuer{
			Issuer:     cfg.AuthIssuer,
			SigningKey: key,
			AccessTTL:  cfg.AccessTokenTTL,
			RefreshTTL: cfg.RefreshTokenTTL,
		},
		Revocations:  revocations,
		Logger:       logger,
		StoreTimeout: cfg.StoreTimeout,
	})

	bookingSvc := booking.NewService(booking.Options{
		Appointments: booking.NewAppointmentRepoPG(pool),
		Conflicts:    booking.NewConflictLogRepoPG(pool),
		Directory:    identitySvc,
		Limiter:      conflictLimiter(cfg, rdb),
		Notifier:     dispatcher,
		Metrics:      metrics.NewBookingMetrics(reg),
		Logger:       logger,
		Window:       booking.Window{MinLeadDays: cfg.BookingMinLeadDays, Days: cfg.BookingWindowDays},
		StoreTimeout: cfg.StoreTimeout,
	})

	adminSvc := admin.NewService(identitySvc, bookingSvc, logger)

	e := newEcho(cfg, logger, metrics.NewHTTPMetrics(reg))
	api := apiGroup(e, cfg, key, revocations)
	identity.NewHandler(identitySvc).RegisterRoutes(api)
	booking.NewHandler(bookingSvc).RegisterRoutes(api)
	admin.NewHandler(adminSvc).RegisterRoutes(api)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("pending emails abandoned")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newEcho builds the server with the global middleware chain. Routes are
// added by the caller.
func newEcho(cfg *config.Config, logger zerolog.Logger, httpMetrics *metrics.HTTPMetrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(httpMetrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.DevUserHeader, auth.DevRoleHeader},
	}))
	e.Use(echomw.BodyLimit(maxBodySize))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	return e
}

// apiGroup mounts /api/v1 with auth ahead of the rate limiter, so callers
// with a token get their own bucket instead of sharing their IP's.
func apiGroup(e *echo.Echo, cfg *config.Config, key []byte, revocations auth.RevocationStore) *echo.Group {
	return e.Group("/api/v1", authMiddleware(cfg, key, revocations), middleware.RateLimit(rateLimitConfig(cfg)))
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

// authMiddleware makes authentication optional at the group level so guest
// endpoints stay reachable. Handlers enforce RequireAuth / RequireRole.
func authMiddleware(cfg *config.Config, key []byte, revocations auth.RevocationStore) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:      cfg.AuthIssuer,
		SigningKey:  key,
		Revocations: revocations,
		Optional:    true,
	}
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

// signingKey returns the configured key, or a random one in development.
func signingKey(cfg *config.Config) ([]byte, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		return key, nil
	}
	if cfg.ResolvedAuthMode() != config.AuthModeDevelopment {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is required")
	}
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return key, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// revocationStore prefers Redis so revocations hold across replicas.
func revocationStore(rdb *redis.Client) (auth.RevocationStore, func()) {
	if rdb != nil {
		return auth.NewRedisRevocationStore(rdb), func() {}
	}
	store := auth.NewMemoryRevocationStore(time.Minute)
	return store, store.Close
}

func conflictLimiter(cfg *config.Config, rdb *redis.Client) booking.ConflictLimiter {
	if rdb != nil {
		return booking.NewRedisConflictLimiter(rdb, cfg.ConflictLogMaxPerWindow, cfg.ConflictLogWindow)
	}
	return booking.NewMemoryConflictLimiter(cfg.ConflictLogMaxPerWindow, cfg.ConflictLogWindow)
}

func emailSender(cfg *config.Config, logger zerolog.Logger) notify.EmailSender {
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		return sg
	}
	logger.Warn().Msg("SENDGRID_API_KEY not set; confirmation emails are logged only")
	return notify.NewStubEmailSender(logger)
}

