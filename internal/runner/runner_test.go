package runner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElizaSystems/lyn-sub001/internal/runner"
	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/service"
)

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})  {}
func (noopLogger) Warnf(string, ...interface{})  {}
func (noopLogger) Errorf(string, ...interface{}) {}

func validConfigs() map[models.TaskType]models.JSONMap {
	return map[models.TaskType]models.JSONMap{
		models.SecurityScanTask:      {"target": "0xabc", "deep": true},
		models.WalletMonitorTask:     {"wallet_address": "0xdef", "min_value_usd": 100.0},
		models.PriceAlertTask:        {"symbol": "SOL", "above_usd": 1.0},
		models.TradingStrategyTask:   {"strategy": "dca", "pair": "SOL/USDC"},
		models.ThreatHuntTask:        {"indicators": []string{"evil.example"}},
		models.PortfolioTrackerTask:  {"wallets": []string{"0x1", "0x2"}},
		models.NFTMonitorTask:        {"collection": "degods"},
		models.DeFiMonitorTask:       {"protocol": "raydium", "min_apy": 4.0},
		models.GovernanceMonitorTask: {"dao": "uniswap", "keywords": []string{"fee"}},
		models.GasMonitorTask:        {"chain": "ethereum", "below_gwei": 200.0},
	}
}

func TestRegisterAllCoversEveryType(t *testing.T) {
	reg := service.NewRegistry(noopLogger{})
	runner.NewSimulator().RegisterAll(reg)

	for _, typ := range models.TaskTypes {
		assert.True(t, reg.Registered(typ), "missing runner for %s", typ)
	}
}

func TestRunnersReturnAlertField(t *testing.T) {
	reg := service.NewRegistry(noopLogger{})
	runner.NewSimulator().RegisterAll(reg)

	for typ, cfg := range validConfigs() {
		task := models.Task{
			ID:     "task-" + string(typ),
			UserID: "user-1",
			Status: models.ActiveTaskStatus,
			Type:   typ,
			Config: cfg,
		}
		res, err := reg.Dispatch(context.Background(), task)
		require.NoError(t, err, "dispatch %s", typ)
		require.NotNil(t, res)
		_, hasAlert := res["alert"]
		assert.True(t, hasAlert, "%s result missing alert field", typ)
		assert.False(t, res.HasError())
	}
}

func TestTradingStrategyIsAlwaysSimulated(t *testing.T) {
	reg := service.NewRegistry(noopLogger{})
	runner.NewSimulator().RegisterAll(reg)

	task := models.Task{
		ID:     "strat-1",
		Type:   models.TradingStrategyTask,
		Config: models.JSONMap{"strategy": "momentum", "pair": "ETH/USDC"},
	}
	res, err := reg.Dispatch(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, true, res["simulated"])
}

func TestInvalidConfigIsRejected(t *testing.T) {
	reg := service.NewRegistry(noopLogger{})
	runner.NewSimulator().RegisterAll(reg)

	task := models.Task{
		ID:     "bad-1",
		Type:   models.PriceAlertTask,
		Config: models.JSONMap{"symbol": "SOL"}, // no threshold configured
	}
	_, err := reg.Dispatch(context.Background(), task)
	assert.Error(t, err)
}

func TestSamplingIsStableWithinAWindow(t *testing.T) {
	reg := service.NewRegistry(noopLogger{})
	runner.NewSimulator().RegisterAll(reg)

	task := models.Task{
		ID:     "gas-1",
		Type:   models.GasMonitorTask,
		Config: models.JSONMap{"chain": "ethereum", "below_gwei": 10.0},
	}
	first, err := reg.Dispatch(context.Background(), task)
	require.NoError(t, err)
	second, err := reg.Dispatch(context.Background(), task)
	require.NoError(t, err)

	// Unless the test straddles a minute boundary the simulated reading
	// is identical; tolerate the boundary by retrying once.
	if first["gas_gwei"] != second["gas_gwei"] {
		time.Sleep(10 * time.Millisecond)
		first, err = reg.Dispatch(context.Background(), task)
		require.NoError(t, err)
		second, err = reg.Dispatch(context.Background(), task)
		require.NoError(t, err)
	}
	assert.Equal(t, first["gas_gwei"], second["gas_gwei"])
}
