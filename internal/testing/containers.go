// Package testing starts disposable Postgres and Redis containers for
// integration tests.
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// EnvIntegration must be set for integration tests to start containers.
const EnvIntegration = "SBC_INTEGRATION"

// ContainerConfig holds configuration for test containers.
type ContainerConfig struct {
	PostgresImage  string
	PostgresDB     string
	PostgresUser   string
	PostgresPass   string
	RedisImage     string
	StartupTimeout time.Duration
}

// DefaultContainerConfig returns a default container configuration.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		PostgresImage:  "postgres:16-alpine",
		PostgresDB:     "sbc",
		PostgresUser:   "sbc",
		PostgresPass:   "sbc",
		RedisImage:     "redis:7-alpine",
		StartupTimeout: 60 * time.Second,
	}
}

// Enabled reports whether integration containers may be started.
func Enabled() bool {
	return os.Getenv(EnvIntegration) != ""
}

// TestContainers holds running test containers.
type TestContainers struct {
	PostgresDSN string
	RedisAddr   string

	postgres testcontainers.Container
	redis    testcontainers.Container
	config   ContainerConfig
	logger   *slog.Logger
}

// NewTestContainers prepares a container set. Nothing starts until
// StartPostgres or StartRedis is called.
func NewTestContainers(config ContainerConfig, logger *slog.Logger) *TestContainers {
	if logger == nil {
		logger = slog.Default()
	}
	testcontainers.Logger = log.New(io.Discard, "", 0)
	return &TestContainers{
		config: config,
		logger: logger.With("component", "testcontainers"),
	}
}

// StartPostgres starts a PostgreSQL container and records its DSN.
func (tc *TestContainers) StartPostgres(ctx context.Context) error {
	tc.logger.Info("starting PostgreSQL container", "image", tc.config.PostgresImage)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        tc.config.PostgresImage,
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       tc.config.PostgresDB,
				"POSTGRES_USER":     tc.config.PostgresUser,
				"POSTGRES_PASSWORD": tc.config.PostgresPass,
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(tc.config.StartupTimeout),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start postgres container: %w", err)
	}
	tc.postgres = container

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get postgres host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("failed to get postgres port: %w", err)
	}

	tc.PostgresDSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		tc.config.PostgresUser, tc.config.PostgresPass, host, port.Port(), tc.config.PostgresDB)
	tc.logger.Info("PostgreSQL container started", "host", host, "port", port.Port())
	return nil
}

// StartRedis starts a Redis container and records its address.
func (tc *TestContainers) StartRedis(ctx context.Context) error {
	tc.logger.Info("starting Redis container", "image", tc.config.RedisImage)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        tc.config.RedisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(tc.config.StartupTimeout),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start redis container: %w", err)
	}
	tc.redis = container

	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("failed to get redis host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		return fmt.Errorf("failed to get redis port: %w", err)
	}

	tc.RedisAddr = fmt.Sprintf("%s:%s", host, port.Port())
	tc.logger.Info("Redis container started", "addr", tc.RedisAddr)
	return nil
}

// Cleanup terminates all running containers.
func (tc *TestContainers) Cleanup(ctx context.Context) error {
	var errs []error

	if tc.postgres != nil {
		if err := tc.postgres.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate postgres: %w", err))
		}
	}
	if tc.redis != nil {
		if err := tc.redis.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate redis: %w", err))
		}
	}

	return errors.Join(errs...)
}
