package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invisible/internal/config"
	"invisible/internal/health"
	"invisible/internal/keys"
	"invisible/internal/logging"
	"invisible/internal/metrics"
	"invisible/internal/store"
)

const testPrivKey = "0x1b2d4f"

// writeConfig stores a config that needs no external services.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.LogFile = ""
	cfg.EnableAudit = false
	cfg.Store.Backend = "memory"
	cfg.Exchange.Backend = "memory"
	cfg.DisclosureKeyDir = filepath.Join(dir, "keys")
	path := filepath.Join(dir, "wallet.json")
	require.NoError(t, config.SaveConfig(cfg, path))
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvPrivKey, testPrivKey)
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"walletd"}, args...))
	return out.String(), err
}

func TestKeysCommand(t *testing.T) {
	path := writeConfig(t)
	out, err := runApp(t, "--config", path, "keys", "--token", "55555", "--json")
	require.NoError(t, err)

	var got struct {
		UserID          string `json:"user_id"`
		Token           uint32 `json:"token"`
		DepositStarkKey string `json:"deposit_stark_key"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	priv, _ := new(big.Int).SetString(testPrivKey, 0)
	id, err := keys.FromPrivKey(priv)
	require.NoError(t, err)
	assert.Equal(t, id.UserID(), got.UserID)
	assert.Equal(t, uint32(55555), got.Token)
	assert.Equal(t, id.DepositStarkKey(55555).String(), got.DepositStarkKey)
}

func TestBalanceCommandEmptyWallet(t *testing.T) {
	path := writeConfig(t)
	out, err := runApp(t, "--config", path, "balance", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "{}", out)
}

func TestDiscloseUnknownNote(t *testing.T) {
	path := writeConfig(t)
	_, err := runApp(t, "--config", path, "disclose", "--token", "1", "--index", "9")
	assert.ErrorContains(t, err, "no note 9")
}

func TestUnknownBackendRejected(t *testing.T) {
	path := writeConfig(t)
	t.Setenv(config.EnvStoreBackend, "postgres")
	_, err := runApp(t, "--config", path, "balance")
	assert.Error(t, err)
}

func TestReportDegradesStoreOnDeadLetters(t *testing.T) {
	ctx := context.Background()
	provider := store.NewMemory()
	d := &daemon{
		log:      logging.Nop(),
		metrics:  metrics.NewCollector(),
		health:   health.NewChecker("test", time.Second),
		provider: provider,
	}
	d.persist = store.NewDispatcher(provider, store.DispatcherOptions{}, d.log, d.metrics)
	d.health.Register("store", provider.Ping)

	assert.Equal(t, health.Healthy, d.report(ctx).OverallStatus)

	// Writes submitted after the dispatcher stopped go straight to the dead-letter list.
	d.persist.Close()
	d.persist.StoreUserData("user", nil, nil)
	require.Len(t, d.persist.Failed(), 1)

	h := d.report(ctx)
	assert.Equal(t, health.Degraded, h.OverallStatus)
	require.Len(t, h.Components, 1)
	assert.Equal(t, "1 writes dead-lettered", h.Components[0].Message)
}
