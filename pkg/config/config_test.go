package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
mode: fast
symbols: ["BTC/USDT"]
venues:
  - name: binance
    enabled: true
  - name: okx
    enabled: false
execution:
  ladder_fractions: [0.5, 0.3]
  timebox_ms: 3000
`

func TestParse_DefaultsAndOverrides(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ModeFast, cfg.Mode)
	assert.Equal(t, 3000, cfg.Execution.TimeboxMs)
	assert.Equal(t, []float64{0.5, 0.3}, cfg.Execution.LadderFractions)
	assert.Equal(t, 3, cfg.Execution.LadderLevels)
	assert.Equal(t, 15.0, cfg.Execution.MaxSpreadBps)
	assert.Equal(t, 2000, cfg.MarketData.StaleAfterMs)
	assert.Equal(t, 20000, cfg.Risk.MinSignalIntervalMs)
	assert.Equal(t, 7, cfg.Persistence.RetentionDays)
	assert.Len(t, cfg.EnabledVenues(), 1)
	assert.Equal(t, 0.1, cfg.Venues[0].FeePct)
	assert.Equal(t, 60000, cfg.Risk.SpikeWindowMs)
	assert.Equal(t, 0.8, cfg.Risk.SentimentExtreme)
	assert.Equal(t, -0.6, cfg.Risk.RegulatoryExtreme)
	assert.Equal(t, 0.5, cfg.Execution.PartialTriggerRatio)
	assert.Equal(t, 250, cfg.Execution.FillPollMs)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"no venues":                   "mode: fast\n",
		"bad mode":                    "mode: turbo\nvenues: [{name: binance, enabled: true}]\n",
		"none enabled":                "venues: [{name: binance, enabled: false}]\n",
		"duplicate":                   "venues: [{name: binance, enabled: true}, {name: binance, enabled: true}]\n",
		"fractions > 1":               "venues: [{name: binance, enabled: true}]\nexecution: {ladder_fractions: [0.6, 0.6]}\n",
		"unknown venue":               "venues: [{name: kraken, enabled: true}]\n",
		"symbol no pair":              "symbols: [BTCUSDT]\nvenues: [{name: binance, enabled: true}]\n",
		"positive regulatory extreme": "venues: [{name: binance, enabled: true}]\nrisk: {regulatory_extreme: 0.5}\n",
		"sentiment extreme > 1":       "venues: [{name: binance, enabled: true}]\nrisk: {sentiment_extreme: 1.5}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "execbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	t.Setenv("EXECBOT_MODE", "CONSERVATIVE")
	t.Setenv("EXECBOT_DRY_RUN", "true")
	t.Setenv("EXECBOT_SYMBOLS", "ETH/USDT, SOL/USDT")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeConservative, cfg.Mode)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, []string{"ETH/USDT", "SOL/USDT"}, cfg.Symbols)
}
