package main

import (
	"context"
	"errors"
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

	"github.com/fisioclinic/clinic/internal/config"
	"github.com/fisioclinic/clinic/internal/domain/admin"
	"github.com/fisioclinic/clinic/internal/domain/analytics"
	"github.com/fisioclinic/clinic/internal/domain/followup"
	"github.com/fisioclinic/clinic/internal/domain/identity"
	"github.com/fisioclinic/clinic/internal/domain/scheduling"
	"github.com/fisioclinic/clinic/internal/platform/auth"
	"github.com/fisioclinic/clinic/internal/platform/blobstore"
	"github.com/fisioclinic/clinic/internal/platform/db"
	"github.com/fisioclinic/clinic/internal/platform/events"
	"github.com/fisioclinic/clinic/internal/platform/middleware"
	"github.com/fisioclinic/clinic/internal/platform/telemetry"
)

const (
	serviceName     = "clinic-server"
	jsonBodyLimit   = 1 << 20
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Physiotherapy clinic scheduling API",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	return rootCmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff logins",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a staff login",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			name, _ := cmd.Flags().GetString("name")
			rawRole, _ := cmd.Flags().GetString("role")
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			role, err := auth.ParseRole(rawRole)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			people := identity.NewService(identity.NewPractitionerRepoPG(pool), identity.NewPatientRepoPG(pool),
				identity.NewAttachmentRepoPG(pool), blobstore.NewMemoryStore(), zerolog.Nop())
			svc := admin.NewService(admin.NewUserRepoPG(pool), people,
				auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTTTL), newLogger(cfg.Env))
			u, err := svc.CreateUser(ctx, name, email, password, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s user %s (%s)\n", u.Role, u.Email, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Login password")
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("role", string(auth.RoleReception), "admin | fisioterapeuta | recepcion")
	cmd.AddCommand(createCmd)
	return cmd
}

// newEcho builds the server with the global middleware chain. Routes are
// registered by the caller.
func newEcho(cfg *config.Config, logger zerolog.Logger, tokens *auth.TokenIssuer, limiter echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.Middleware(serviceName))
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(jsonBodyLimit, cfg.MaxUploadBytes))
	e.Use(auth.JWTMiddleware(tokens, auth.AuthSkipper))
	if limiter != nil {
		e.Use(limiter)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	return e
}

func rateLimiter(cfg *config.Config, logger zerolog.Logger, rdb *redis.Client) echo.MiddlewareFunc {
	if rdb != nil {
		perMinute := int(cfg.RateLimitRPS * 60)
		return middleware.NewRedisRateLimiter(rdb, perMinute, time.Minute, "clinic:rl").Middleware(logger, true)
	}
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst
	return middleware.RateLimit(rl)
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		logger.Info().Strs("brokers", brokers).Msg("publishing scheduling events to kafka")
		return events.NewKafkaPublisher(brokers, cfg.KafkaPrefix)
	}
	return events.NewLogPublisher(logger)
}

func runServer(cfg *config.Config) error {
	logger := newLogger(cfg.Env)
	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  serviceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampling,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if cfg.AutoMigrate {
		n, err := db.NewMigrator(pool, cfg.MigrationsDir).Up(ctx)
		if err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		logger.Info().Int("applied", n).Msg("migrations applied")
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	blobs, err := blobstore.NewLocalStore(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}

	publisher := newPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn().Err(err).Msg("close event publisher")
		}
	}()

	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTTTL)
	e := newEcho(cfg, logger, tokens, rateLimiter(cfg, logger, rdb))
	e.GET("/health/db", db.HealthHandler(pool))
	if rdb != nil {
		e.GET("/health/redis", db.PingHandler(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	api := e.Group("/api")

	people := identity.NewService(identity.NewPractitionerRepoPG(pool), identity.NewPatientRepoPG(pool),
		identity.NewAttachmentRepoPG(pool), blobs, logger)
	identity.NewHandler(people).RegisterRoutes(api)

	access := admin.NewService(admin.NewUserRepoPG(pool), people, tokens, logger)
	admin.NewHandler(access).RegisterRoutes(api)
	if cfg.BootstrapEmail != "" {
		created, err := access.EnsureAdmin(ctx, cfg.BootstrapEmail, cfg.BootstrapPass)
		if err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		if created {
			logger.Info().Str("email", cfg.BootstrapEmail).Msg("bootstrap admin created")
		}
	}

	sched := scheduling.NewService(
		scheduling.NewAppointmentRepoPG(pool),
		scheduling.NewVacationRepoPG(pool),
		scheduling.NewVacationRequestRepoPG(pool),
		people, db.NewTransactor(pool), publisher, loc, logger)
	scheduling.NewHandler(sched).RegisterRoutes(api)

	notes := followup.NewService(followup.NewRepoPG(pool), people, logger)
	followup.NewHandler(notes).RegisterRoutes(api)

	analytics.NewHandler(analytics.NewService(analytics.NewRepoPG(pool), logger)).RegisterRoutes(api)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("flush traces")
	}
	logger.Info().Msg("server stopped")
	return nil
}
