package testpg

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartPostgres starts a disposable Postgres container and returns its DSN.
// The container is terminated when the test finishes.
func StartPostgres(tb testing.TB) string {
	tb.Helper()

	ctx := context.Background()
	container, err := postgres.Run(
		ctx,
		"postgres:18",
		postgres.WithDatabase("memoric"),
		postgres.WithUsername("memoric"),
		postgres.WithPassword("memoric"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2),
			).WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		tb.Fatalf("start postgres container: %v", err)
	}
	tb.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			tb.Errorf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("build postgres connection string: %v", err)
	}

	// The log-based wait can fire a moment before the server accepts
	// connections; probe until a real session succeeds.
	probe := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		conn, err := pgx.Connect(attemptCtx, dsn)
		if err != nil {
			return err
		}
		defer conn.Close(attemptCtx)
		return conn.Ping(attemptCtx)
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), 80)
	if err := backoff.Retry(probe, backoff.WithContext(policy, ctx)); err != nil {
		tb.Fatalf("postgres is not ready for connections: %v", err)
	}

	return dsn
}
