package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "wallet.json")

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, c, again)
	assert.NoError(t, again.Validate())
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("WALLET_STORE_BACKEND=memory\nWALLET_PRIV_KEY=0x1234\n"), 0o600))

	t.Cleanup(func() {
		os.Unsetenv(EnvStoreBackend)
		os.Unsetenv(EnvPrivKey)
	})
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvRedisAddr, "redis:6380")

	c, err := Load(filepath.Join(dir, "wallet.json"), envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "memory", c.Store.Backend)
	assert.Equal(t, "redis:6380", c.Store.RedisAddr)

	k, err := c.PrivKeyInt()
	require.NoError(t, err)
	assert.Equal(t, int64(0x1234), k.Int64())
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	c := DefaultConfig()
	c.Store.Backend = "firestore"
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Exchange.SubmitRate = 0
	assert.Error(t, c.Validate())
}

func TestDurations(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 5*time.Second, c.Exchange.RequestTimeout())
	assert.Equal(t, 200*time.Millisecond, c.Persist.Backoff())
	assert.Equal(t, 30*time.Second, c.ReconcileInterval())
}
