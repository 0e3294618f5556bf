package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFileDefaults(t *testing.T) {
	path := writeConfig(t, `
watched_accounts:
  - "0xabc"
dry_run: true
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, "percentage", cfg.Strategy.Kind)
	require.Equal(t, 0.1, cfg.Strategy.Ratio)
	require.Equal(t, 1.05, cfg.Strategy.MinOrderUSDC)
	require.Equal(t, 1000, cfg.Monitor.PollIntervalMs)
	require.Equal(t, 5, cfg.Executor.Workers)
	require.Equal(t, 3, cfg.Executor.RetryLimit)
	require.Equal(t, "https://data-api.polymarket.com", cfg.DataAPIHost)
	require.Equal(t, 10, cfg.Aggregation.MaxTrades)
	require.Equal(t, 0, cfg.Aggregation.WindowMs) // 聚合默认关闭
}

func TestValidateStrategyKinds(t *testing.T) {
	base := func() *Config {
		c := &Config{WatchedAccounts: []string{"0xabc"}, DryRun: true}
		c.ApplyDefaults()
		return c
	}

	// tiered 缺少层级
	c := base()
	c.Strategy.Kind = "tiered"
	c.Strategy.Tiers = nil
	require.Error(t, c.Validate())

	// 层级阈值必须严格升序
	c = base()
	c.Strategy.Kind = "tiered"
	c.Strategy.Tiers = []TierConfig{
		{ThresholdUSDC: 500, Multiplier: 0.5},
		{ThresholdUSDC: 500, Multiplier: 0.25},
	}
	require.Error(t, c.Validate())

	// adaptive 需要集中度上限
	c = base()
	c.Strategy.Kind = "adaptive"
	c.Strategy.ConcentrationLimitUSDC = 0
	require.Error(t, c.Validate())

	// fixed 需要固定金额
	c = base()
	c.Strategy.Kind = "fixed"
	require.Error(t, c.Validate())

	// 未知策略
	c = base()
	c.Strategy.Kind = "martingale"
	require.Error(t, c.Validate())
}

func TestValidateRequiresKeyUnlessDryRun(t *testing.T) {
	c := &Config{WatchedAccounts: []string{"0xabc"}}
	c.ApplyDefaults()

	c.DryRun = false
	require.Error(t, c.Validate())

	c.DryRun = true
	require.NoError(t, c.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GOFOLLOW_WATCHED_ACCOUNTS", "0x111, 0x222")
	t.Setenv("GOFOLLOW_DRY_RUN", "true")
	t.Setenv("GOFOLLOW_LOG_LEVEL", "debug")

	path := writeConfig(t, `
watched_accounts:
  - "0xoriginal"
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"0x111", "0x222"}, cfg.WatchedAccounts)
	require.True(t, cfg.DryRun)
	require.Equal(t, "debug", cfg.LogLevel)
}
