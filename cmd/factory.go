package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/browser"
	"github.com/anibalchinley/extractor-proveedores/internal/captcha"
	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/engine"
	"github.com/anibalchinley/extractor-proveedores/internal/notion"
	"github.com/anibalchinley/extractor-proveedores/internal/observability"
	"github.com/anibalchinley/extractor-proveedores/internal/store"
)

// Components holds the initialized services an extraction surface needs.
// The struct centralizes lifecycle management of the shared dependencies.
type Components struct {
	Store   *store.Store
	Browser *browser.Manager
	Captcha *captcha.Client
	Notion  *notion.Client
	Engine  *engine.Engine
	DBPool  *pgxpool.Pool
}

// Shutdown releases resources in reverse dependency order.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	if c.Browser != nil {
		// A separate bounded context so Chrome teardown completes even when
		// the application context was already canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.Browser.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}

// buildComponents handles the full dependency injection for one surface.
// On a partial failure the already constructed components are torn down
// before the error returns.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	components := &Components{}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.",
				zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Database pool.
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		initializationErr = fmt.Errorf("failed to parse database URL: %w", err)
		return nil, initializationErr
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	}
	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
		return nil, initializationErr
	}
	// Added immediately so the deferred Shutdown can close it if a later
	// step fails.
	components.DBPool = dbPool
	logger.Debug("Database connection pool initialized.")

	// 2. Store. New pings; EnsureSchema brings the tables up.
	dbStore, err := store.New(ctx, dbPool, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize store: %w", err)
		return nil, initializationErr
	}
	if err := dbStore.EnsureSchema(ctx); err != nil {
		initializationErr = fmt.Errorf("failed to ensure database schema: %w", err)
		return nil, initializationErr
	}
	components.Store = dbStore
	logger.Debug("Store initialized.")

	// 3. Browser manager.
	browserManager, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize browser manager: %w", err)
		return nil, initializationErr
	}
	components.Browser = browserManager
	logger.Debug("Browser manager initialized.")

	// 4. External API clients.
	components.Captcha = captcha.New(cfg.Captcha, logger)
	components.Notion = notion.New(cfg.Notion, logger)
	logger.Debug("Captcha and Notion clients initialized.")

	// 5. Engine.
	components.Engine = engine.New(cfg, logger, dbStore, components.Notion, browserManager, components.Captcha)
	logger.Debug("Engine initialized.")

	logger.Info("All components initialized.")
	return components, nil
}
