package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bluebutton/bfd/internal/config"
	"github.com/bluebutton/bfd/internal/domain/claims"
	"github.com/bluebutton/bfd/internal/domain/samhsa"
	"github.com/bluebutton/bfd/internal/platform/auth"
	"github.com/bluebutton/bfd/internal/platform/db"
	"github.com/bluebutton/bfd/internal/platform/fhir"
	"github.com/bluebutton/bfd/internal/platform/middleware"
	"github.com/bluebutton/bfd/internal/platform/telemetry"
	"github.com/bluebutton/bfd/migrations"
)

const (
	serviceName = "bfd-server"
	version     = "1.0.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Beneficiary FHIR Data server",
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(samhsaCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the claims API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newLogger builds the process logger. Development gets the console writer.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", serviceName).Logger()
}

// newRedis returns the shared availability cache tier, or nil when
// REDIS_URL is unset.
func newRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func runServer() error {
	bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Fatal().Err(err).Msg("invalid config")
	}
	logger := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.ProviderConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up telemetry")
	}
	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create metrics")
	}

	// Database
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		ReadOnly: true,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	conns, err := db.NewConnPool(pool, cfg.DBSchema)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid database schema")
	}
	factory := claims.NewPoolConns(conns)

	// Availability precheck: breaker -> local LRU -> redis -> database.
	rdb, err := newRedis(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure redis")
	}
	var shared redis.Cmdable
	if rdb != nil {
		defer rdb.Close()
		shared = rdb
		logger.Info().Str("addr", rdb.Options().Addr).Msg("availability cache uses redis")
	}
	availability := claims.NewBreakerAvailability(
		claims.NewCachedAvailability(claims.NewAvailabilityChecker(factory), claims.CacheConfig{
			Size:    cfg.AvailabilityCacheSize,
			TTL:     cfg.AvailabilityCacheTTL,
			Redis:   shared,
			Logger:  logger,
			Metrics: metrics,
		}),
		logger,
	)

	loaded := claims.NewLoadedFilterManager(factory, logger)
	go loaded.Run(ctx, cfg.LoadedFilterRefresh)

	// SAMHSA
	rulesetVersion, err := samhsa.ParseVersion(cfg.SAMHSARuleset)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid SAMHSA ruleset")
	}
	classifier, err := samhsa.NewFromDir(cfg.SAMHSACodesDir, rulesetVersion)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load SAMHSA tables")
	}
	logger.Info().
		Str("ruleset", string(classifier.Version())).
		Str("codes_dir", cfg.SAMHSACodesDir).
		Bool("shadow", cfg.SAMHSAShadow).
		Msg("SAMHSA classifier ready")

	aggregator := claims.NewAggregator(claims.AggregatorConfig{
		Availability: availability,
		Loaded:       loaded,
		Conns:        factory,
		Rows:         claims.NewRowSource(),
		Tags:         claims.NewTagSource(),
		Classifier:   classifier,
		Shadow:       cfg.SAMHSAShadow,
		PoolSize:     cfg.WorkerPoolSize,
		Logger:       logger,
		Metrics:      metrics,
	})

	e := newRouter(cfg, logger, aggregator, conns, metrics)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newRouter assembles the middleware chain and routes around fetcher.
func newRouter(cfg *config.Config, logger zerolog.Logger, fetcher claims.Fetcher, conns *db.ConnPool, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	public := func(c echo.Context) bool { return auth.IsPublicPath(c.Path()) }

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, claims.HeaderIncludeTaxNumbers},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.Audit(logger, claims.HashBeneficiary))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, public))

	// Auth middleware
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Msg("development auth: every request is trusted")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if conns != nil {
		e.GET("/health/db", db.HealthHandler(conns))
	}

	capBuilder := fhir.NewCapabilityBuilder(fmt.Sprintf("http://localhost:%s/fhir", cfg.Port), version)
	if cfg.AuthIssuer != "" {
		capBuilder.SetTokenURL(cfg.AuthIssuer + "/protocol/openid-connect/token")
	}

	fhirGroup := e.Group("/fhir")
	fhirGroup.GET("/metadata", capBuilder.Handler())

	handler := claims.NewHandler(claims.NewService(fetcher), logger, metrics)
	handler.RegisterRoutes(fhirGroup)
	handler.RegisterCapabilities(capBuilder)

	return e
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(os.Stdout, schema, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(context.Context, *db.Migrator, string) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2}, newLogger(cfg, os.Stderr))
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrations.FS), schema)
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func samhsaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "samhsa",
		Short: "Inspect the SAMHSA classifier",
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Classify a single code",
		RunE: func(cmd *cobra.Command, args []string) error {
			system, _ := cmd.Flags().GetString("system")
			code, _ := cmd.Flags().GetString("code")
			kindName, _ := cmd.Flags().GetString("kind")
			rulesetName, _ := cmd.Flags().GetString("ruleset")
			codesDir, _ := cmd.Flags().GetString("codes-dir")
			return checkCode(cmd.OutOrStdout(), codesDir, rulesetName, kindName, system, code)
		},
	}
	checkCmd.Flags().String("system", "", "Coding system URI")
	checkCmd.Flags().String("code", "", "Code value")
	checkCmd.Flags().String("kind", string(samhsa.KindDiagnosis), "diagnosis, procedure, package or item")
	checkCmd.Flags().String("ruleset", string(samhsa.Current), "legacy or current")
	checkCmd.Flags().String("codes-dir", os.Getenv("SAMHSA_CODES_DIR"), "Directory with the reference CSV files (default: embedded tables)")
	cmd.AddCommand(checkCmd)

	return cmd
}

func checkCode(w io.Writer, codesDir, rulesetName, kindName, system, code string) error {
	if system == "" {
		return fmt.Errorf("--system is required")
	}
	v, err := samhsa.ParseVersion(rulesetName)
	if err != nil {
		return err
	}
	kind, err := samhsa.ParseKind(kindName)
	if err != nil {
		return err
	}
	classifier, err := samhsa.NewFromDir(codesDir, v)
	if err != nil {
		return err
	}

	verdict := "not sensitive"
	if classifier.CheckCode(kind, system, code) {
		verdict = "sensitive"
	}
	fmt.Fprintf(w, "%s %s|%s (%s ruleset): %s\n", kind, system, code, v, verdict)
	return nil
}
