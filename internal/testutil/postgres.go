// Package testutil provides test helpers for container-backed integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cory-johannsen/grove/internal/config"
	"github.com/cory-johannsen/grove/internal/storage/postgres"
)

const (
	postgresImage   = "postgres:16-alpine"
	postgresPort    = "5432/tcp"
	postgresStartup = 60 * time.Second
)

// PostgresContainer is a throwaway PostgreSQL server with the kv_items schema
// applied.
type PostgresContainer struct {
	DB     *pgxpool.Pool
	Config config.DatabaseConfig
}

// NewPostgresContainer starts PostgreSQL in Docker, applies the embedded
// migrations, and connects a pool. The container is removed when the test
// ends.
//
// Precondition: Docker must be available.
// Postcondition: the kv_items table exists and DB is connected, or the test
// has failed.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	cfg := config.DatabaseConfig{
		User:            "grove",
		Password:        "grove",
		Name:            "grove_test",
		SSLMode:         "disable",
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{postgresPort},
			Env: map[string]string{
				"POSTGRES_USER":     cfg.User,
				"POSTGRES_PASSWORD": cfg.Password,
				"POSTGRES_DB":       cfg.Name,
			},
			// The server restarts once after initdb, so the ready line appears twice.
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(postgresStartup),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting %s: %v [%s]", postgresImage, err, time.Since(start))
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	if cfg.Host, err = container.Host(ctx); err != nil {
		t.Fatalf("resolving container host: %v", err)
	}
	port, err := container.MappedPort(ctx, postgresPort)
	if err != nil {
		t.Fatalf("resolving mapped port: %v", err)
	}
	cfg.Port = port.Int()

	if err := postgres.Migrate(cfg.DSN()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	db, err := postgres.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(db.Close)

	t.Logf("postgres ready at %s:%d [%s]", cfg.Host, cfg.Port, time.Since(start))
	return &PostgresContainer{DB: db, Config: cfg}
}

// Truncate empties the kv_items table between tests sharing one container.
func (pc *PostgresContainer) Truncate(t *testing.T) {
	t.Helper()
	if _, err := pc.DB.Exec(context.Background(), "TRUNCATE kv_items"); err != nil {
		t.Fatalf("truncating kv_items: %v", err)
	}
}

// DSN returns the connection string for the test database.
func (pc *PostgresContainer) DSN() string {
	return pc.Config.DSN()
}
