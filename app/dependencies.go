package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/config"
	"github.com/dataplane/query-gateway/contract"
	"github.com/dataplane/query-gateway/executor"
	"github.com/dataplane/query-gateway/middleware"
	"github.com/dataplane/query-gateway/repositories"
	"github.com/dataplane/query-gateway/repositories/postgres"
	"github.com/dataplane/query-gateway/repositories/sqlite"
	"github.com/dataplane/query-gateway/services/auth"
	"github.com/dataplane/query-gateway/services/deploy"
	"github.com/dataplane/query-gateway/services/eventlog"
	"github.com/dataplane/query-gateway/services/query"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *sql.DB
	Logger *zap.Logger

	// Event store
	Events   repositories.EventRepository
	EventLog *eventlog.Service

	// Policy contract (immutable after load)
	Contract *contract.Contract

	// SQL execution
	Executor *executor.SQLExecutor

	// Domain services
	AuthService   *auth.Service
	QueryService  *query.Service
	DeployService *deploy.Service

	// Middleware
	AuthMiddleware *middleware.AuthMiddleware

	store         io.Closer
	ownedExecutor bool
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initEventStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	if err := deps.initContract(cfg); err != nil {
		return nil, fmt.Errorf("failed to load policy contract: %w", err)
	}

	if err := deps.initExecutor(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initEventStore opens the configured event store backend and prepares
// the append-only schema.
func (d *Dependencies) initEventStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.NewDB(cfg.Database.SQLitePath, d.Logger)
		if err != nil {
			return err
		}
		if err := db.InitSchema(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		d.DB = db.DB
		d.store = db
		d.Events = sqlite.NewEventRepository(db, d.Logger)

	default:
		db, err := postgres.NewDB(cfg.Database, d.Logger)
		if err != nil {
			return err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("database ping failed: %w", err)
		}
		if err := db.InitSchema(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		d.DB = db.DB
		d.store = db
		d.Events = postgres.NewEventRepository(db, d.Logger)
	}

	d.Logger.Info("event store ready",
		zap.String("driver", cfg.Database.Driver),
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initContract loads the policy contract from CONTRACT_PATH, falling
// back to the built-in default.
func (d *Dependencies) initContract(cfg *config.Config) error {
	if cfg.Contract.Path == "" {
		d.Contract = contract.Default()
		d.Logger.Info("using built-in policy contract",
			zap.String("version", d.Contract.Version))
		return nil
	}

	c, err := contract.Load(cfg.Contract.Path)
	if err != nil {
		return err
	}
	d.Contract = c
	d.Logger.Info("policy contract loaded",
		zap.String("path", cfg.Contract.Path),
		zap.String("version", c.Version))
	return nil
}

// initExecutor opens the execution connection. Without a dedicated
// EXECUTOR_DATABASE_URL the event store connection is reused, which is
// acceptable only for development.
func (d *Dependencies) initExecutor(cfg *config.Config) error {
	if cfg.Executor.ConnectionString != "" {
		exec, err := executor.NewSQLExecutor(cfg.Executor.ConnectionString, d.Logger)
		if err != nil {
			return err
		}
		d.Executor = exec
		d.ownedExecutor = true
		return nil
	}

	if cfg.IsProduction() {
		return fmt.Errorf("EXECUTOR_DATABASE_URL is required in production")
	}
	d.Logger.Warn("no executor connection configured, reusing event store connection")
	d.Executor = executor.NewSQLExecutorFromDB(d.DB, d.Logger)
	return nil
}

// initServices wires the domain services and starts the audit
// pipeline.
func (d *Dependencies) initServices(cfg *config.Config) error {
	d.EventLog = eventlog.NewService(d.Events, d.Logger, eventlog.DefaultConfig())
	if err := d.EventLog.Start(); err != nil {
		return fmt.Errorf("failed to start event pipeline: %w", err)
	}

	d.AuthService = auth.NewService(d.Events, d.EventLog, d.Logger,
		cfg.Auth.Pepper, cfg.Auth.PrefixLength)
	d.QueryService = query.NewService(d.Contract, d.Executor, d.EventLog, d.Logger)
	d.DeployService = deploy.NewService(d.Events, d.EventLog, d.Executor,
		d.Logger, d.Contract.QueryTimeout())

	d.AuthMiddleware = middleware.NewAuthMiddleware(d.AuthService, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// Close gracefully shuts down all dependencies. The audit pipeline is
// drained first so buffered events reach the store before the
// connection closes.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.EventLog != nil {
		if err := d.EventLog.Stop(d.Config.Server.ShutdownTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain event pipeline: %w", err))
		}
	}

	if d.ownedExecutor && d.Executor != nil {
		if err := d.Executor.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close executor: %w", err))
		}
	}

	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event store: %w", err))
		} else {
			d.Logger.Info("event store closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
