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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/caretide/fhir-server/internal/config"
	"github.com/caretide/fhir-server/internal/platform/bundle"
	"github.com/caretide/fhir-server/internal/platform/db"
	"github.com/caretide/fhir-server/internal/platform/index"
	"github.com/caretide/fhir-server/internal/platform/middleware"
	"github.com/caretide/fhir-server/internal/platform/model"
	"github.com/caretide/fhir-server/internal/platform/reindex"
	"github.com/caretide/fhir-server/internal/platform/rest"
	"github.com/caretide/fhir-server/internal/platform/search"
	"github.com/caretide/fhir-server/internal/platform/service"
	"github.com/caretide/fhir-server/internal/platform/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fhir-server",
		Short: "FHIR RESTful resource server",
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// components is the wired dependency graph behind the serve command.
// pool is nil on the memory backend.
type components struct {
	resources store.Store
	generator store.Generator
	indexes   index.Store
	snapshots store.SnapshotStore
	catalog   *search.Catalog
	engine    *index.Engine
	executor  *search.Executor
	lock      *store.MaintenanceLock
	gate      *service.WriteGate
	tx        service.TxRunner
	svc       *service.Service
	pool      *pgxpool.Pool
}

func (c *components) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

func buildComponents(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*components, error) {
	c := &components{
		catalog: search.DefaultCatalog(),
		lock:    store.NewMaintenanceLock(),
	}

	if cfg.UsesPostgres() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		c.pool = pool

		resources := store.NewPgStore(pool)
		if err := resources.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure resource schema: %w", err)
		}
		indexes := index.NewPgStore(pool)
		if err := indexes.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure index schema: %w", err)
		}

		c.resources = resources
		c.indexes = indexes
		c.generator = store.NewPgGenerator(pool)
		c.snapshots = store.NewPgSnapshots(pool)
		c.tx = service.PgTx{Pool: pool}
		logger.Info().Msg("connected to database")
	} else {
		resources := store.NewMemoryStore()
		generator := store.NewMemoryGenerator()
		indexes := index.NewMemoryStore()

		c.resources = resources
		c.generator = generator
		c.indexes = indexes
		c.snapshots = store.NewMemorySnapshots()
		c.gate = service.NewWriteGate()
		c.tx = service.MemoryTx{
			Resources: resources,
			Generator: generator,
			Indexes:   indexes,
			Gate:      c.gate,
		}
		logger.Info().Msg("using in-memory store")
	}

	visitor := model.NewVisitor(model.DefaultPropertyIndex())
	c.engine = index.NewEngine(visitor, c.catalog, cfg.BaseURL, logger)
	c.executor = search.NewExecutor(c.indexes, c.catalog, logger)

	c.svc = service.New(c.resources, c.generator, c.indexes, c.engine,
		c.executor, c.snapshots, c.lock, cfg.BaseURL, logger)
	c.svc.SetPageSize(cfg.DefaultPageSize)
	if c.gate != nil {
		c.svc.SetWriteGate(c.gate)
	}

	return c, nil
}

func newLogger(env string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	ctx := context.Background()
	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	e.GET("/health", db.HealthHandler(comps.pool))

	processor := bundle.NewProcessor(comps.svc, comps.tx, logger)
	handler := rest.NewHandler(comps.svc, processor, comps.catalog, logger)
	handler.Register(e.Group("/fhir"))

	// Reindex runs in this process so the maintenance lock it takes gates
	// the writes this process serves. On postgres an advisory lock keeps
	// concurrent runs out across processes sharing the database.
	job := reindex.NewJob(comps.resources, comps.indexes, comps.engine,
		comps.lock, cfg.ReindexBatchSize, logger)
	if comps.pool != nil {
		job.SetGuard(db.NewAdvisoryLock(comps.pool, db.ReindexLockID))
	} else {
		job.SetGuard(&reindex.ProcessGuard{})
	}
	rest.NewAdminHandler(job, cfg.ClearIndexOnRebuild, logger).Register(e.Group("/admin"))

	// Serve until interrupted, then drain in-flight requests.
	go func() {
		logger.Info().Str("port", cfg.Port).Str("store", cfg.Store).Msg("server started")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
