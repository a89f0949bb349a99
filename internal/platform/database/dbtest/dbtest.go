// Package dbtest starts a throwaway PostgreSQL container for integration tests.
package dbtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Shivika2934/labquestion/internal/platform/database"
)

var (
	once      sync.Once
	sharedURL string
	initErr   error
)

// New returns a pool connected to a migrated PostgreSQL instance shared by
// the whole test binary. The test is skipped in -short mode or when a
// container cannot be started (no Docker).
func New(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	once.Do(func() {
		sharedURL, initErr = start()
	})
	if initErr != nil {
		t.Skipf("postgres container unavailable: %v", initErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.New(ctx, sharedURL, 20, 0)
	if err != nil {
		t.Fatalf("dbtest: connect: %v", err)
	}
	t.Cleanup(db.Close)

	return db.Pool
}

func start() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("labq"),
		postgres.WithUsername("labq"),
		postgres.WithPassword("labq"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		if ctr != nil {
			_ = testcontainers.TerminateContainer(ctr)
		}
		return "", err
	}

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", err
	}

	if err := database.Migrate(ctx, url); err != nil {
		return "", err
	}
	return url, nil
}
