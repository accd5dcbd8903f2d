// Package runner provides the built-in execution strategies for every
// supported task type. All strategies are simulations: they derive
// deterministic market and security data from the task configuration
// instead of calling live upstreams, which keeps the engine runnable
// offline and the strategies safely retryable.
package runner

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/ElizaSystems/lyn-sub001/pkg/models"
	"github.com/ElizaSystems/lyn-sub001/pkg/service"
)

// Simulator produces the simulated runners. The clock is injectable so
// tests can pin the sampling window.
type Simulator struct {
	now func() time.Time
}

func NewSimulator() *Simulator {
	return &Simulator{now: time.Now}
}

// RegisterAll installs a runner for every task type the engine knows.
func (s *Simulator) RegisterAll(reg *service.Registry) {
	reg.Register(models.SecurityScanTask, service.RunnerFunc(s.securityScan))
	reg.Register(models.WalletMonitorTask, service.RunnerFunc(s.walletMonitor))
	reg.Register(models.PriceAlertTask, service.RunnerFunc(s.priceAlert))
	reg.Register(models.TradingStrategyTask, service.RunnerFunc(s.tradingStrategy))
	reg.Register(models.ThreatHuntTask, service.RunnerFunc(s.threatHunt))
	reg.Register(models.PortfolioTrackerTask, service.RunnerFunc(s.portfolioTracker))
	reg.Register(models.NFTMonitorTask, service.RunnerFunc(s.nftMonitor))
	reg.Register(models.DeFiMonitorTask, service.RunnerFunc(s.defiMonitor))
	reg.Register(models.GovernanceMonitorTask, service.RunnerFunc(s.governanceMonitor))
	reg.Register(models.GasMonitorTask, service.RunnerFunc(s.gasMonitor))
}

// sample returns a deterministic RNG for the task within the current
// minute, so repeated runs inside one sampling window observe the same
// simulated world.
func (s *Simulator) sample(t models.Task, salt string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(string(t.Type)))
	h.Write([]byte(salt))
	h.Write([]byte(s.now().UTC().Truncate(time.Minute).Format(time.RFC3339)))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func decode[T models.TaskConfig](t models.Task) (T, error) {
	cfg, err := models.DecodeConfig(t.Type, t.Config)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := cfg.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected config type %T for task %s", cfg, t.ID)
	}
	return typed, nil
}

func (s *Simulator) securityScan(ctx context.Context, t models.Task) (service.Result, error) {
	cfg, err := decode[*models.SecurityScanConfig](t)
	if err != nil {
		return nil, err
	}
	rng := s.sample(t, cfg.Target)

	findings := rng.Intn(6)
	critical := 0
	if cfg.Deep && findings > 0 {
		critical = rng.Intn(findings + 1)
	}
	score := 100 - findings*10 - critical*15
	if score < 0 {
		score = 0
	}
	return service.Result{
		"alert":             critical > 0,
		"target":            cfg.Target,
		"scan_types":        cfg.ScanTypes,
		"findings":          findings,
		"critical_findings": critical,
		"security_score":    score,
	}, nil
}

func (s *Simulator) walletMonitor(ctx context.Context, t models.Task) (service.Result, error) {
	cfg, err := decode[*models.WalletMonitorConfig](t)
	if err != nil {
		return nil, err
	}
	rng := s.sample(t, cfg.WalletAddress)

	txCount := rng.Intn(8)
	largest := 0.0
	if txCount > 0 {
		largest = rng.Float64() * 25000
	}
	alert := cfg.MinValueUSD > 0 && largest >= cfg.MinValueUSD
	return service.Result{
		"alert":              alert,
		"wallet_address":     cfg.WalletAddress,
		"chain":              cfg.Chain,
		"new_transactions":   txCount,
		"largest_value_usd":  round2(largest),
		"threshold_exceeded": alert,
	}, nil
}

// basePrice anchors a symbol to a stable simulated price level so that
// thresholds behave consistently across runs.
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 10 + float64(h.Sum32()%100000)
}

func (s *Simulator) priceAlert(ctx context.Context, t models.Task) (service.Result, error) {
	cfg, err := decode[*models.PriceAlertConfig](t)
	if err != nil {
		return nil, err
	}
	rng := s.sample(t, cfg.Symbol)

	base := basePrice(cfg.Symbol)
	price := base * (0.95 + rng.Float64()*0.1)
	changePct := (price/base - 1) * 100

	alert := false
	switch {
	case cfg.AboveUSD > 0 && price >= cfg.AboveUSD:
		alert = true
	case cfg.BelowUSD > 0 && price <= cfg.BelowUSD:
		alert = true
	case cfg.ChangePct > 0 && abs(changePct) >= cfg.ChangePct:
		alert = true
	}
	return service.Result{
		"alert":      alert,
		"symbol":     cfg.Symbol,
		"price":      round2(price),
		"change_pct": round2(changePct),
	}, nil
}

func (s *Simulator) tradingStrategy(ctx context.Context, t models.Task) (service.Result, error) {
	cfg, err := decode[*models.TradingStrategyConfig](t)
	if err != nil {
		return nil, err
	}
	rng := s.sample(t, cfg.Strategy+cfg.Pair)

	signals := []string{"hold", "buy", "sell"}
	signal := signals[rng.Intn(len(signals))]
	pnlPct := (rng.Float64() - 0.45) * 10

	// Strategies only ever simulate; no order is placed anywhere.
	return service.Result{
		"alert":             signal != "hold",
		"simulated":         true,
		"strategy":          cfg.Strategy,
		"pair":              cfg.Pair,
		"signal":            signal,
		"simulated_pnl_pct": round2(pnlPct),
	}, nil
}

func (s *Simulator) threatHunt(ctx context.Context, t models.Task) (service.Result, error) {
	cfg, err := decode[*models.ThreatHuntConfig](t)
	if err != nil {
		return nil, err
	}
	rng := s.sample(t, fmt.Sprint(cfg.Indicators))

	matches := []string{}
	for _, ind := range cfg.Indicators {
		if rng.Intn(10) == 0 {
			matches = append(matches, ind)
		}
	}
	return service.Result{
		"alert":            len(matches) > 0,
		"indicators":       len(cfg.Indicators),
		"matched":          matches,
		"sources_searched": len(cfg.Sources),
	}, nil
}

func (s *Simulator) portfolioTracker(ctx context.Context, t models.Task) (service.Result, error) {
	cfg, err := decode[*models.PortfolioTrackerConfig](t)
	if err != nil {
		return nil, err
	}
	rng := s.sample(t, fmt.Sprint(cfg.Wallets))

	total := 0.0
	perWallet := make(map[string]float64, len(cfg.Wallets))
	for _, w := range cfg.Wallets {
		v := 500 + rng.Float64()*50000
		perWallet[w] = round2(v)
		total += v
	}
	changePct := (rng.Float64() - 0.5) * 12
	return service.Result{
		"alert":          changePct <= -5,
		"total_value":    round2(total),
		"wallets":        perWallet,
		"change_24h_pct": round2(changePct),
	}, nil
}

func (s *Simulator) nftMonitor(ctx context.Context, t models.Task) (service.Result, error) {
	cfg, err := decode[*models.NFTMonitorConfig](t)
	if err != nil {
		return nil, err
	}
	rng := s.sample(t, cfg.Collection)

	floor := 0.1 + rng.Float64()*20
	volume := rng.Float64() * 2000
	alert := (cfg.FloorBelow > 0 && floor <= cfg.FloorBelow) ||
		(cfg.VolumeAbove > 0 && volume >= cfg.VolumeAbove)
	return service.Result{
		"alert":       alert,
		"collection":  cfg.Collection,
		"floor_price": round2(floor),
		"volume_24h":  round2(volume),
	}, nil
}

func (s *Simulator) defiMonitor(ctx context.Context, t models.Task) (service.Result, error) {
	cfg, err := decode[*models.DeFiMonitorConfig](t)
	if err != nil {
		return nil, err
	}
	rng := s.sample(t, cfg.Protocol+cfg.Pool)

	apy := rng.Float64() * 25
	tvlChangePct := (rng.Float64() - 0.5) * 20
	alert := (cfg.MinAPY > 0 && apy < cfg.MinAPY) ||
		(cfg.TVLDropPct > 0 && tvlChangePct <= -cfg.TVLDropPct)
	return service.Result{
		"alert":           alert,
		"protocol":        cfg.Protocol,
		"pool":            cfg.Pool,
		"apy":             round2(apy),
		"tvl_change_pct":  round2(tvlChangePct),
	}, nil
}

func (s *Simulator) governanceMonitor(ctx context.Context, t models.Task) (service.Result, error) {
	cfg, err := decode[*models.GovernanceMonitorConfig](t)
	if err != nil {
		return nil, err
	}
	rng := s.sample(t, cfg.DAO)

	proposals := rng.Intn(4)
	matched := []string{}
	if proposals > 0 {
		for _, kw := range cfg.Keywords {
			if rng.Intn(5) == 0 {
				matched = append(matched, kw)
			}
		}
	}
	return service.Result{
		"alert":            len(matched) > 0,
		"dao":              cfg.DAO,
		"new_proposals":    proposals,
		"matched_keywords": matched,
	}, nil
}

func (s *Simulator) gasMonitor(ctx context.Context, t models.Task) (service.Result, error) {
	cfg, err := decode[*models.GasMonitorConfig](t)
	if err != nil {
		return nil, err
	}
	rng := s.sample(t, cfg.Chain)

	gwei := 5 + rng.Float64()*95
	alert := cfg.BelowGwei > 0 && gwei <= cfg.BelowGwei
	return service.Result{
		"alert":     alert,
		"chain":     cfg.Chain,
		"gas_gwei":  round2(gwei),
		"favorable": alert,
	}, nil
}

func round2(v float64) float64 {
	return float64(int(v*100)) / 100
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
