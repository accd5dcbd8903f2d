package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
)

func TestDecodeConfigEveryType(t *testing.T) {
	valid := map[models.TaskType]models.JSONMap{
		models.SecurityScanTask:      {"target": "0xabc"},
		models.WalletMonitorTask:     {"wallet_address": "0xdef"},
		models.PriceAlertTask:        {"symbol": "SOL", "above_usd": 100.0},
		models.TradingStrategyTask:   {"strategy": "dca", "pair": "SOL/USDC"},
		models.ThreatHuntTask:        {"indicators": []string{"evil.example"}},
		models.PortfolioTrackerTask:  {"wallets": []string{"0x1"}},
		models.NFTMonitorTask:        {"collection": "degods"},
		models.DeFiMonitorTask:       {"protocol": "raydium"},
		models.GovernanceMonitorTask: {"dao": "uniswap"},
		models.GasMonitorTask:        {"chain": "ethereum"},
	}
	require.Len(t, valid, len(models.TaskTypes))

	for typ, raw := range valid {
		cfg, err := models.DecodeConfig(typ, raw)
		require.NoError(t, err, "type %s", typ)
		assert.Equal(t, typ, cfg.TaskType())
	}
}

func TestDecodeConfigRejectsUnknownType(t *testing.T) {
	_, err := models.DecodeConfig("mining_rig", models.JSONMap{})
	assert.ErrorContains(t, err, "unknown task type")
}

func TestDecodeConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		typ  models.TaskType
		raw  models.JSONMap
	}{
		{"scan without target", models.SecurityScanTask, models.JSONMap{}},
		{"wallet without address", models.WalletMonitorTask, models.JSONMap{"chain": "solana"}},
		{"price alert without threshold", models.PriceAlertTask, models.JSONMap{"symbol": "SOL"}},
		{"strategy without pair", models.TradingStrategyTask, models.JSONMap{"strategy": "dca"}},
		{"hunt without indicators", models.ThreatHuntTask, models.JSONMap{"sources": []string{"osint"}}},
		{"portfolio without wallets", models.PortfolioTrackerTask, models.JSONMap{}},
		{"nft without collection", models.NFTMonitorTask, models.JSONMap{"floor_below": 1.0}},
		{"defi without protocol", models.DeFiMonitorTask, models.JSONMap{}},
		{"governance without dao", models.GovernanceMonitorTask, models.JSONMap{}},
		{"gas without chain", models.GasMonitorTask, models.JSONMap{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := models.DecodeConfig(c.typ, c.raw)
			assert.Error(t, err)
		})
	}
}

func TestNotificationSettingsAreDecoded(t *testing.T) {
	cfg, err := models.DecodeConfig(models.PriceAlertTask, models.JSONMap{
		"symbol":          "SOL",
		"above_usd":       100.0,
		"notify_channels": []string{"telegram", "email"},
		"notify_priority": "high",
	})
	require.NoError(t, err)

	ns := cfg.Notification()
	assert.Equal(t, []string{"telegram", "email"}, ns.NotifyChannels)
	assert.Equal(t, "high", ns.NotifyPriority)
}

func TestRecomputeSuccessRate(t *testing.T) {
	var task models.Task
	task.RecomputeSuccessRate()
	assert.Equal(t, float64(100), task.SuccessRate, "a task that never ran reports 100")

	task.ExecutionCount = 3
	task.SuccessCount = 2
	task.RecomputeSuccessRate()
	assert.Equal(t, float64(67), task.SuccessRate)

	task.ExecutionCount = 4
	task.SuccessCount = 0
	task.RecomputeSuccessRate()
	assert.Equal(t, float64(0), task.SuccessRate)
}

func TestRecurring(t *testing.T) {
	assert.False(t, (&models.Task{}).Recurring())
	assert.True(t, (&models.Task{Frequency: "hourly"}).Recurring())
	assert.True(t, (&models.Task{CronExpression: "*/5 * * * *"}).Recurring())
}
