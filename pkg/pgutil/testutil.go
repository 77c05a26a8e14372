package pgutil

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"

	"github.com/openbridge/dex-middleware/pkg/config"
)

const connectAttempts = 10

// SetupTestDB starts a throwaway Postgres container and returns a bun
// handle plus a cleanup func that closes the handle and terminates the
// container.
func SetupTestDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()
	ctx := context.Background()

	// Postgres logs the readiness line twice (once during initdb),
	// hence the occurrence count.
	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_pass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	fatal := func(format string, args ...any) {
		_ = testcontainers.TerminateContainer(container)
		t.Fatalf(format, args...)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fatal("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fatal("failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "test_user",
		Password: "test_pass",
		Database: "test_db",
		SSLMode:  "disable",
	}

	// The wait strategy is not airtight; retry the first connection
	// with exponential backoff starting at 100ms.
	var db *bun.DB
	for i := 0; ; i++ {
		db, err = ConnectDB(cfg)
		if err == nil {
			break
		}
		if i == connectAttempts-1 {
			fatal("failed to connect to test database after %d attempts: %v", connectAttempts, err)
		}
		time.Sleep(time.Duration(100*(1<<uint(i))) * time.Millisecond)
	}

	cleanup := func() {
		_ = db.Close()
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return db, cleanup
}

func queryExists(t *testing.T, db *bun.DB, what, name, query string) bool {
	t.Helper()
	var exists bool
	err := db.NewSelect().ColumnExpr(query, "public", name).Scan(context.Background(), &exists)
	if err != nil {
		t.Fatalf("failed to check if %s %s exists: %v", what, name, err)
	}
	return exists
}

// AssertTableExists fails the test if the named table is absent.
func AssertTableExists(t *testing.T, db *bun.DB, tableName string) {
	t.Helper()
	if !queryExists(t, db, "table", tableName,
		"EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)") {
		t.Errorf("table %s does not exist", tableName)
	}
}

// AssertTableNotExists fails the test if the named table is present.
func AssertTableNotExists(t *testing.T, db *bun.DB, tableName string) {
	t.Helper()
	if queryExists(t, db, "table", tableName,
		"EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)") {
		t.Errorf("table %s should not exist but it does", tableName)
	}
}

// AssertIndexExists fails the test if the named index is absent.
func AssertIndexExists(t *testing.T, db *bun.DB, indexName string) {
	t.Helper()
	if !queryExists(t, db, "index", indexName,
		"EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = ? AND indexname = ?)") {
		t.Errorf("index %s does not exist", indexName)
	}
}

// AssertRowCount fails the test unless the table holds exactly the
// expected number of rows.
func AssertRowCount(t *testing.T, db *bun.DB, tableName string, expected int) {
	t.Helper()
	var count int
	err := db.NewSelect().
		TableExpr("?", bun.Ident(tableName)).
		ColumnExpr("COUNT(*)").
		Scan(context.Background(), &count)
	if err != nil {
		t.Fatalf("failed to count rows in table %s: %v", tableName, err)
	}
	if count != expected {
		t.Errorf("table %s: expected %d rows, got %d", tableName, expected, count)
	}
}
