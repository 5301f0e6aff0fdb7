package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dataplane/query-gateway/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8443,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			SQLitePath:   ":memory:",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		Auth: config.AuthConfig{
			Pepper:       "test-pepper",
			PrefixLength: 8,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("successful initialization with all components", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig()
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Infrastructure
		assert.NotNil(t, deps.Config)
		assert.NotNil(t, deps.DB)
		assert.NotNil(t, deps.Logger)

		// Event store and pipeline
		assert.NotNil(t, deps.Events)
		require.NotNil(t, deps.EventLog)
		assert.True(t, deps.EventLog.GetStats().Started)

		// Contract and services
		require.NotNil(t, deps.Contract)
		assert.Equal(t, "ANALYTICS", deps.Contract.Database)
		assert.NotNil(t, deps.Executor)
		assert.NotNil(t, deps.AuthService)
		assert.NotNil(t, deps.QueryService)
		assert.NotNil(t, deps.DeployService)
		assert.NotNil(t, deps.AuthMiddleware)

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("contract file not found", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig()
		cfg.Contract.Path = "/nonexistent/contract.yaml"
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to load policy contract")
	})

	t.Run("executor required in production", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig()
		cfg.Environment = "production"
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "EXECUTOR_DATABASE_URL")
	})
}

func TestDependenciesClose(t *testing.T) {
	t.Run("graceful shutdown drains event pipeline", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig()
		logger := zaptest.NewLogger(t)

		deps, err := NewDependencies(ctx, cfg, logger)
		require.NoError(t, err)

		deps.EventLog.RecordAuthSuccess("analyst@example.com", "tok_abcd")

		require.NoError(t, deps.Close(ctx))
		assert.False(t, deps.EventLog.GetStats().Started)
	})
}
