package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloo-solutions/lexrag/internal/database"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
)

const (
	postgresImage = "pgvector/pgvector:0.8.1-pg18"
	s3Image       = "rustfs/rustfs:latest"

	dbName     = "lexrag"
	dbUser     = "lexrag"
	dbPassword = "lexrag"

	// S3AccessKey and S3SecretKey authenticate against the S3 test container.
	S3AccessKey = "lexragadmin"
	S3SecretKey = "lexragadmin"
)

// Endpoint is a started container reachable from the test process.
type Endpoint struct {
	Host string
	Port string
}

func (e Endpoint) HostPort() string {
	return e.Host + ":" + e.Port
}

// startContainer runs req, removes the container when t finishes, and
// resolves the host mapping of port.
func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port string) Endpoint {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if container != nil {
		t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })
	}
	require.NoError(t, err, "start %s", req.Image)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)

	return Endpoint{Host: host, Port: mapped.Port()}
}

// StartPostgres starts pgvector and returns its connection string.
func StartPostgres(ctx context.Context, t *testing.T) string {
	t.Helper()
	ep := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     dbUser,
			"POSTGRES_PASSWORD": dbPassword,
			"POSTGRES_DB":       dbName,
		},
		// The entrypoint restarts postgres once after initdb.
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(time.Minute),
	}, "5432/tcp")

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", dbUser, dbPassword, ep.HostPort(), dbName)
}

// StartS3 starts an S3-compatible store and returns its endpoint URL.
func StartS3(ctx context.Context, t *testing.T) string {
	t.Helper()
	ep := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        s3Image,
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": S3AccessKey,
			"RUSTFS_SECRET_KEY": S3SecretKey,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}, "9000/tcp")

	return "http://" + ep.HostPort()
}

// NewMigratedDatabase starts pgvector, applies migrationsDir and returns a
// pool that is closed when t finishes.
func NewMigratedDatabase(ctx context.Context, t *testing.T, migrationsDir string) *pgxpool.Pool {
	t.Helper()
	dsn := StartPostgres(ctx, t)
	logger := zaptest.NewLogger(t)

	abs, err := filepath.Abs(migrationsDir)
	require.NoError(t, err)
	_, err = database.Migrate(dsn, "file://"+filepath.ToSlash(abs), logger)
	require.NoError(t, err, "migrate")

	pool, err := database.NewPool(ctx, database.Config{
		URL:             dsn,
		ConnectAttempts: 8,
		RetryDelay:      250 * time.Millisecond,
	}, logger)
	require.NoError(t, err, "connect")
	t.Cleanup(pool.Close)

	return pool
}

// Truncate empties the given tables, or every lexrag table when none
// are named.
func Truncate(ctx context.Context, pool *pgxpool.Pool, tables ...string) error {
	if len(tables) == 0 {
		tables = []string{"answer_logs", "conversation_turns", "document_chunks"}
	}
	for _, table := range tables {
		if _, err := pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}
