package postgres_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/database/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	testPool     *pgxpool.Pool
	testPoolOnce sync.Once
	testCleanup  func()
)

// getSharedTestDatabase returns a shared database pool for all tests.
// This significantly improves test performance by reusing the same container.
func getSharedTestDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()

	testPoolOnce.Do(func() {
		ctx := context.Background()

		pgContainer, err := pgcontainer.Run(ctx,
			"postgres:18-alpine",
			pgcontainer.WithDatabase("testdb"),
			pgcontainer.WithUsername("testuser"),
			pgcontainer.WithPassword("testpass"),
			pgcontainer.BasicWaitStrategies(),
		)
		if err != nil {
			t.Fatalf("failed to start postgres container: %v", err)
		}

		testCleanup = func() {
			if testPool != nil {
				testPool.Close()
			}
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %s", err)
			}
		}

		connectionStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			testCleanup()
			t.Fatalf("failed to get connection string: %v", err)
		}

		pool, err := pgxpool.New(ctx, connectionStr)
		if err != nil {
			testCleanup()
			t.Fatalf("could not connect to database: %v", err)
		}

		testPool = pool
	})

	return testPool
}

// getRandomString generates a random string for unique test identifiers.
func getRandomString(t *testing.T) string {
	t.Helper()
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	assert.NoError(t, err, "random string")
	return fmt.Sprintf("test%x", n.Int64())
}

// getDSN extracts the DSN from the pool config.
func getDSN(pool *pgxpool.Pool) string {
	return pool.Config().ConnString()
}

// setupTestDB connects with unique table names for test isolation.
func setupTestDB(t *testing.T) *postgres.DB {
	t.Helper()

	pool := getSharedTestDatabase(t)
	ctx := context.Background()

	suffix := getRandomString(t)
	tables := stowfs.Tables{
		FileCache:   fmt.Sprintf("filecache_%s", suffix),
		Preferences: fmt.Sprintf("preferences_%s", suffix),
	}

	db, err := postgres.Connect(ctx, getDSN(pool), tables)
	require.NoError(t, err, "failed to connect")

	err = db.Migrate(ctx)
	require.NoError(t, err, "failed to migrate")

	t.Cleanup(func() {
		_ = postgres.DropTables(ctx, pool, tables)
		_ = db.Close()
	})

	return db
}

// setupTestCache returns a cache with an initialized root directory.
func setupTestCache(t *testing.T) stowfs.Cache {
	t.Helper()

	c := setupTestDB(t).Cache("object::user:alice")
	putDir(t, c, "")
	return c
}

func putDir(t *testing.T, c stowfs.Cache, path string) int64 {
	t.Helper()
	id, err := c.Put(context.Background(), path, stowfs.Entry{
		MimeType:    stowfs.MimeTypeDirectory,
		Permissions: stowfs.PermissionAll,
		ETag:        "e-" + path,
	})
	require.NoError(t, err, "put dir %q", path)
	return id
}

func putFile(t *testing.T, c stowfs.Cache, path string, size int64) int64 {
	t.Helper()
	id, err := c.Put(context.Background(), path, stowfs.Entry{
		MimeType:    "text/plain",
		Size:        size,
		Permissions: stowfs.PermissionFile,
		ETag:        "e-" + path,
	})
	require.NoError(t, err, "put file %q", path)
	return id
}
