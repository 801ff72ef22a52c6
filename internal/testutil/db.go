package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/target/mmk-jobcoord/internal/migrate"
)

// TestingTB is the subset of testing.TB the helpers need.
type TestingTB interface {
	Helper()
	Skip(args ...any)
	Skipf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
}

// cleanupTables lists every coordination table; job_logs cascades from job_runs.
var cleanupTables = []string{
	"TRUNCATE job_logs, job_runs RESTART IDENTITY CASCADE",
	"DELETE FROM worker_leases",
	"DELETE FROM worker_instances",
	"DELETE FROM scheduled_jobs",
}

// TestDBConfig is read from TEST_DB_* variables.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultTestDBConfig points at the compose test profile (port 55432) unless overridden.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     envOr("TEST_DB_HOST", "localhost"),
		Port:     envOr("TEST_DB_PORT", "55432"),
		User:     envOr("TEST_DB_USER", "jobcoord"),
		Password: envOr("TEST_DB_PASSWORD", "jobcoord"),
		DBName:   envOr("TEST_DB_NAME", "jobcoord"),
		SSLMode:  envOr("TEST_DB_SSL_MODE", "disable"),
	}
}

// DSN renders the config as a postgres URL. An empty schema leaves search_path alone.
func (c TestDBConfig) DSN(schema string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	q := url.Values{"sslmode": []string{c.SSLMode}}
	if schema != "" {
		q.Set("search_path", schema+",public")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RunMigrations applies the production migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}

// SkipIfNoTestDB skips (or fails under TEST_REQUIRE_DB) when postgres is unreachable.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	db, err := sql.Open("pgx", DefaultTestDBConfig().DSN(""))
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = db.PingContext(ctx)
		cancel()
		closeQuietly(t, "probe db", db)
	}
	if err == nil {
		return
	}
	if requireInfra("TEST_REQUIRE_DB") {
		t.Fatal("test database not available:", err)
	}
	t.Skip("test database not available:", err)
}

// WithAutoDB hands fn a migrated, empty database. With TEST_DB_EPHEMERAL set
// each call gets its own schema; otherwise the shared database is truncated
// before and after fn.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	SkipIfNoTestDB(t)

	if envBool("TEST_DB_EPHEMERAL") {
		fn(openEphemeral(t))
		return
	}

	db := openShared(t)
	defer func() {
		truncate(t, db)
		closeQuietly(t, "test db", db)
	}()
	fn(db)
}

func openShared(t TestingTB) *sql.DB {
	t.Helper()
	db := openAndPing(t, DefaultTestDBConfig().DSN(""))
	migrateOrFail(t, db)
	truncate(t, db)
	return db
}

func openEphemeral(t TestingTB) *sql.DB {
	t.Helper()
	cfg := DefaultTestDBConfig()
	admin := openAndPing(t, cfg.DSN(""))

	schema := schemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		closeQuietly(t, "admin db", admin)
		t.Fatalf("create schema %s: %v", schema, err)
	}

	db := openAndPing(t, cfg.DSN(schema))
	db.SetMaxOpenConns(10)
	t.Logf("using ephemeral schema %s", schema)

	dropSchema := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		closeQuietly(t, "schema db", db)
		if _, err := admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		closeQuietly(t, "admin db", admin)
	}
	if c, ok := t.(interface{ Cleanup(func()) }); ok {
		c.Cleanup(dropSchema)
	}

	migrateOrFail(t, db)
	return db
}

func openAndPing(t TestingTB, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal("open test db:", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		closeQuietly(t, "test db", db)
		t.Fatal("ping test db (is the compose test profile up?):", err)
	}
	return db
}

func migrateOrFail(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatal("run migrations:", err)
	}
}

func truncate(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range cleanupTables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("clean test data (%s): %v", stmt, err)
		}
	}
}

func schemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("jc_%d", time.Now().UnixNano())
	}
	return "jc_" + hex.EncodeToString(b)
}

func closeQuietly(t TestingTB, name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		t.Logf("close %s: %v", name, err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

// requireInfra reports whether missing infrastructure should fail instead of skip.
func requireInfra(key string) bool {
	return envBool(key) || envBool("TEST_REQUIRE_INFRA")
}
