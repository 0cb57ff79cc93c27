package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/telemed/telemed/internal/config"
	"github.com/telemed/telemed/internal/domain/scheduling"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/db"
	"github.com/telemed/telemed/internal/platform/lock"
	"github.com/telemed/telemed/internal/platform/middleware"
	"github.com/telemed/telemed/internal/platform/notification"
	"github.com/telemed/telemed/internal/platform/video"
	"github.com/telemed/telemed/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "telemed-server",
		Short:        "Telemedicine scheduling API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(statuses)
			return nil
		},
	})

	return cmd
}

func printStatuses(statuses []db.MigrationStatus) {
	fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Println("---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// setup loads and validates configuration and builds the process logger.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, logger, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Logger:   &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

func runServer() error {
	cfg, logger, err := setup()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: X-Dev-User-ID and X-Dev-Role headers are trusted")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	deps := map[string]db.Pinger{"postgres": pool}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisURL != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer closeRedis(rdb, logger)
		locker = lock.NewRedisLocker(rdb, cfg.BookingLockTTL)
		deps["redis"] = lock.RedisPinger{Client: rdb}
		logger.Info().Msg("booking lock backed by redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set: booking lock is process-local")
	}

	templates := notification.NewTemplates()
	notifier := notification.Multi{notification.NewLogDispatcher(logger, templates)}
	if cfg.NotifyWebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookDispatcher(cfg.NotifyWebhookURL, cfg.NotifyWebhookSecret, templates))
	}

	opts := []scheduling.Option{
		scheduling.WithLocker(locker),
		scheduling.WithNotifier(notifier),
		scheduling.WithLogger(logger.With().Str("component", "scheduling").Logger()),
		scheduling.WithLocation(loc),
		scheduling.WithPermissiveWithoutSchedule(cfg.AdmissionPermissiveWithoutSchedule),
	}
	if cfg.VideoBaseURL != "" {
		issuer, err := video.NewLinkIssuer(cfg.VideoBaseURL)
		if err != nil {
			return err
		}
		opts = append(opts, scheduling.WithRoomIssuer(issuer))
	}

	svc := scheduling.NewService(
		scheduling.NewScheduleRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		scheduling.NewUserRepoPG(pool),
		opts...,
	)

	e := newServer(ctx, cfg, logger, svc, deps)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	svc.Close()
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the echo instance with the global middleware chain,
// health endpoints and the scheduling API under /api/v1.
func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, svc *scheduling.Service, deps map[string]db.Pinger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	global := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})
	booking := middleware.NewRateLimiter(middleware.PerMinute(cfg.BookingRateLimitPerMinute))
	global.StartCleanup(ctx, 5*time.Minute)
	booking.StartCleanup(ctx, 5*time.Minute)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(middleware.RateLimit(global, middleware.KeyByIP))
	e.Use(authMiddleware(cfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(deps))

	api := e.Group("/api/v1", middleware.RequestTimeout(cfg.RequestTimeout))
	scheduling.NewHandler(svc).RegisterRoutes(api, middleware.RateLimit(booking, middleware.KeyByUser))
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.IsDev() {
		var verify echo.MiddlewareFunc
		if cfg.AuthJWKSURL != "" || cfg.AuthSigningKey != "" {
			verify = auth.JWTMiddleware(jwtCfg)
		}
		return auth.DevAuthMiddleware(verify)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func closeRedis(rdb *redis.Client, logger zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		logger.Warn().Err(err).Msg("close redis client")
	}
}
