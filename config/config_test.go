package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
trading:
  symbols: ["BTC/USDT"]
  timeframe: "1h"
  initial_capital: "10000"
  cycle_interval: 30s
  primary_strategy: "demo"
risk:
  rr_min: "1.2"
symbols:
  BTC/USDT:
    price_tick: "0.01"
    qty_step: "0.0001"
    min_qty: "0.0001"
    min_notional: "10"
`

func TestLoadParsesDurationString(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	cfg, err := Load(path, "")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, time.Duration(cfg.Trading.CycleInterval))
	require.Equal(t, []string{"BTC/USDT"}, cfg.Trading.Symbols)
	require.Equal(t, "10000", cfg.Trading.InitialCapital.String())
	require.Equal(t, "0.01", cfg.Symbols["BTC/USDT"].PriceTick.String())
}

func TestLoadRejectsEmptySymbols(t *testing.T) {
	path := writeTempConfig(t, `
trading:
  symbols: []
  cycle_interval: 30s
  initial_capital: "10000"
`)
	_, err := Load(path, "")
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveCapital(t *testing.T) {
	path := writeTempConfig(t, `
trading:
  symbols: ["BTC/USDT"]
  cycle_interval: 30s
  initial_capital: "0"
`)
	_, err := Load(path, "")
	require.Error(t, err)
}

func TestLoadRequiresLiveCredentialsWhenLiveMode(t *testing.T) {
	path := writeTempConfig(t, `
trading:
  symbols: ["BTC/USDT"]
  cycle_interval: 30s
  initial_capital: "10000"
  live_mode: true
execution:
  live_api_key_env: "TRADECYCLE_TEST_UNSET_KEY"
  live_secret_key_env: "TRADECYCLE_TEST_UNSET_SECRET"
`)
	_, err := Load(path, "")
	require.Error(t, err)
}

func TestDurationUnmarshalRejectsGarbage(t *testing.T) {
	path := writeTempConfig(t, `
trading:
  symbols: ["BTC/USDT"]
  cycle_interval: "not-a-duration"
  initial_capital: "10000"
`)
	_, err := Load(path, "")
	require.Error(t, err)
}
