// Package app assembles the query engine from configuration. The server and
// the askctl CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/crypto"
	"github.com/ekaya-inc/ekaya-ask/pkg/planner"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"

	// Register backend adapters.
	_ "github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/cassandra"
	_ "github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/duckdb"
	_ "github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/mongodb"
	_ "github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/mssql"
	_ "github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/mysql"
	_ "github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/postgres"
	_ "github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/redis"
	_ "github.com/ekaya-inc/ekaya-ask/pkg/adapters/datasource/sqlite"
)

// Runtime is an assembled engine and the resources it owns.
type Runtime struct {
	Engine *services.Engine
	Conns  *datasource.ConnectionManager

	inference *planner.Components
	logger    *zap.Logger
}

// New builds the engine described by cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	encryptor, err := newEncryptor(cfg.CredentialsKey, logger)
	if err != nil {
		return nil, err
	}

	inference, err := planner.NewFromConfig(ctx, cfg.Inference, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inference provider %q: %w", cfg.Inference.Provider, err)
	}

	conns := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:     cfg.Datasource.ConnectionTTLMinutes,
		MaxConnections: cfg.Datasource.MaxConnections,
		PoolMaxConns:   cfg.Datasource.PoolMaxConns,
		PoolMinConns:   cfg.Datasource.PoolMinConns,
	}, logger)

	factory := datasource.NewAdapterFactory(datasource.Deps{
		Conns:  conns,
		Engine: cfg.Engine,
		Logger: logger,
	})

	engine := services.NewEngine(services.EngineDeps{
		Factory:   factory,
		Encryptor: encryptor,
		Inferrer:  inference.Inferrer,
		Explainer: inference.Explainer,
		Config:    cfg.Engine,
		Logger:    logger,
	})

	logger.Info("Query engine ready",
		zap.String("inference_provider", cfg.Inference.Provider),
		zap.Int("adapter_types", len(factory.ListTypes())),
		zap.Duration("default_timeout", cfg.Engine.DefaultTimeout))

	return &Runtime{Engine: engine, Conns: conns, inference: inference, logger: logger}, nil
}

func newEncryptor(key string, logger *zap.Logger) (*crypto.CredentialEncryptor, error) {
	if key == "" {
		logger.Info("CREDENTIALS_KEY not set; using a process-lifetime key for sealed credentials")
		return crypto.NewEphemeralEncryptor()
	}
	encryptor, err := crypto.NewCredentialEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential encryptor: %w", err)
	}
	return encryptor, nil
}

// Close disconnects every connection, then releases pools and the inference provider.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := r.Engine.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if err := r.Conns.Close(); err != nil {
		errs = append(errs, fmt.Errorf("connection manager: %w", err))
	}
	if err := r.inference.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("inference: %w", err))
	}
	return errors.Join(errs...)
}
