package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/api/schemas"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/browser"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/browser/pacing"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/captcha"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/config"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/executor"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/login"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/observability"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/scheduler"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/store"
	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/vk"
)

// Components holds the initialized services a command needs. It
// centralizes lifecycle management of the orchestration dependencies.
type Components struct {
	Accounts  schemas.AccountRepository
	Proxies   schemas.ProxyRepository
	Sessions  schemas.SessionRepository
	Pool      *browser.Pool
	Pace      *pacing.Profile
	Solver    schemas.CaptchaSolver
	Executor  *executor.Executor
	Scheduler *scheduler.Scheduler

	dbPool *pgxpool.Pool
	logger *zap.Logger
}

// Shutdown releases all components in dependency order.
func (c *Components) Shutdown() {
	if c.Pool != nil {
		c.Pool.Cleanup()
		c.logger.Debug("Browser pool cleaned up")
	}
	if c.dbPool != nil {
		c.dbPool.Close()
		c.logger.Debug("Database connection pool closed")
	}
	c.logger.Info("All components shut down")
}

// NewComponents wires the full dependency graph from the loaded config.
func NewComponents(ctx context.Context, cfg *config.Config) (*Components, error) {
	logger := observability.GetLogger()
	c := &Components{logger: logger}

	var initErr error
	defer func() {
		if initErr != nil {
			logger.Warn("Initialization failed, shutting down partial components", zap.Error(initErr))
			c.Shutdown()
		}
	}()

	// 1. Persistence: Postgres when configured, files otherwise.
	if cfg.Storage.PostgresURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			initErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initErr
		}
		c.dbPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			initErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initErr
		}
		if err := dbStore.Migrate(ctx); err != nil {
			initErr = fmt.Errorf("failed to apply database schema: %w", err)
			return nil, initErr
		}
		c.Accounts = dbStore.Accounts()
		c.Proxies = dbStore.Proxies()
		c.Sessions = dbStore.Sessions()
		logger.Debug("Postgres repositories initialized")
	} else {
		sessions, err := store.NewFileSessions(filepath.Join(cfg.Storage.DataDir, "sessions"))
		if err != nil {
			initErr = fmt.Errorf("failed to initialize session store: %w", err)
			return nil, initErr
		}
		c.Accounts = store.NewMemoryAccounts()
		c.Proxies = store.NewMemoryProxies()
		c.Sessions = sessions
		logger.Debug("File-backed repositories initialized", zap.String("data_dir", cfg.Storage.DataDir))
	}

	// 2. Pacing profile and browser pool.
	c.Pace = pacing.NewProfile(cfg.Pacing)
	c.Pool = browser.NewPool(logger, cfg.Browser, cfg.Engine.NavigationTimeout, c.Pace)
	logger.Debug("Browser pool initialized")

	// 3. Captcha solver, optional.
	if cfg.Captcha.Endpoint != "" {
		c.Solver = captcha.NewClient(cfg.Captcha, logger)
		logger.Debug("Captcha solver client initialized", zap.String("endpoint", cfg.Captcha.Endpoint))
	}

	// 4. Executor and scheduler.
	c.Executor = executor.New(
		c.Pool, c.Accounts, c.Proxies, c.Sessions,
		newFlow(logger, c.Pace),
		newLogin(c.Solver, logger),
		vk.BaseURL,
		schemas.WatchOptions{MinDwell: cfg.Pacing.MinDwell, MaxDwell: cfg.Pacing.MaxDwell},
		logger,
	)
	c.Scheduler = scheduler.New(
		c.Executor,
		cfg.Engine.MaxConcurrency, cfg.Engine.StaggerMax, cfg.Engine.BatchPause,
		logger,
	)

	logger.Info("All components initialized")
	return c, nil
}

func newFlow(logger *zap.Logger, pace *pacing.Profile) executor.FlowFactory {
	return func(page schemas.PageDriver) schemas.SiteFlow {
		return vk.New(page, logger, pace)
	}
}

func newLogin(solver schemas.CaptchaSolver, logger *zap.Logger) executor.LoginFactory {
	return func(flow schemas.SiteFlow, page schemas.PageDriver) executor.LoginRunner {
		return login.NewMachine(flow, page, solver, vk.LoginURL, logger)
	}
}
