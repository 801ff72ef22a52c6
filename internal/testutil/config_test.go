package testutil

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTestDBConfig(t *testing.T) {
	for _, key := range []string{"TEST_DB_HOST", "TEST_DB_PORT", "TEST_DB_USER", "TEST_DB_PASSWORD", "TEST_DB_NAME", "TEST_DB_SSL_MODE"} {
		t.Setenv(key, "")
	}

	t.Run("defaults to the compose test profile", func(t *testing.T) {
		cfg := DefaultTestDBConfig()
		assert.Equal(t, TestDBConfig{
			Host: "localhost", Port: "55432", User: "jobcoord", Password: "jobcoord", DBName: "jobcoord", SSLMode: "disable",
		}, cfg)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("TEST_DB_HOST", "postgres")
		t.Setenv("TEST_DB_PORT", "5432")
		cfg := DefaultTestDBConfig()
		assert.Equal(t, "postgres", cfg.Host)
		assert.Equal(t, "5432", cfg.Port)
		assert.Equal(t, "jobcoord", cfg.User)
	})
}

func TestTestDBConfig_DSN(t *testing.T) {
	cfg := TestDBConfig{Host: "db", Port: "5432", User: "u", Password: "p@ss", DBName: "coord", SSLMode: "disable"}

	u, err := url.Parse(cfg.DSN(""))
	require.NoError(t, err)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/coord", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)
	assert.Empty(t, u.Query().Get("search_path"))

	u, err = url.Parse(cfg.DSN("jc_abcd"))
	require.NoError(t, err)
	assert.Equal(t, "jc_abcd,public", u.Query().Get("search_path"))
}

func TestSchemaName(t *testing.T) {
	a, b := schemaName(), schemaName()
	assert.Regexp(t, `^jc_[0-9a-f]{8}$`, a)
	assert.NotEqual(t, a, b)
}

func TestConcurrentTestRunner_KeepsOrder(t *testing.T) {
	r := NewConcurrentTestRunner(t)
	errs := r.RunConcurrent(
		func() error { return nil },
		func() error { return assert.AnError },
	)
	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], assert.AnError)
}
