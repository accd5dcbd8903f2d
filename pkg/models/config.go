package models

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// TaskConfig is the typed per-type configuration union. Each of the ten
// task kinds has its own concrete shape; unknown type/config combinations
// are rejected at task-creation time, not at execution time.
type TaskConfig interface {
	TaskType() TaskType
	Validate() error
	Notification() NotifySettings
}

// NotifySettings carries delivery preferences. These fields are excluded
// from the cache signature (hash:"ignore") so two tasks that monitor the
// same thing but notify differently share a cache entry.
type NotifySettings struct {
	NotifyChannels []string `json:"notify_channels,omitempty" hash:"ignore"`
	NotifyPriority string   `json:"notify_priority,omitempty" hash:"ignore"`
}

// Notification satisfies TaskConfig for every config that embeds
// NotifySettings.
func (n NotifySettings) Notification() NotifySettings { return n }

type SecurityScanConfig struct {
	NotifySettings
	Target    string   `json:"target"` // URL, contract address or wallet
	ScanTypes []string `json:"scan_types,omitempty"`
	Deep      bool     `json:"deep,omitempty"`
}

func (SecurityScanConfig) TaskType() TaskType { return SecurityScanTask }
func (c SecurityScanConfig) Validate() error {
	if c.Target == "" {
		return errors.New("security_scan: target is required")
	}
	return nil
}

type WalletMonitorConfig struct {
	NotifySettings
	WalletAddress string  `json:"wallet_address"`
	Chain         string  `json:"chain,omitempty"`
	MinValueUSD   float64 `json:"min_value_usd,omitempty"`
}

func (WalletMonitorConfig) TaskType() TaskType { return WalletMonitorTask }
func (c WalletMonitorConfig) Validate() error {
	if c.WalletAddress == "" {
		return errors.New("wallet_monitor: wallet_address is required")
	}
	return nil
}

type PriceAlertConfig struct {
	NotifySettings
	Symbol     string  `json:"symbol"`
	AboveUSD   float64 `json:"above_usd,omitempty"`
	BelowUSD   float64 `json:"below_usd,omitempty"`
	ChangePct  float64 `json:"change_pct,omitempty"`
	VsCurrency string  `json:"vs_currency,omitempty"`
}

func (PriceAlertConfig) TaskType() TaskType { return PriceAlertTask }
func (c PriceAlertConfig) Validate() error {
	if c.Symbol == "" {
		return errors.New("price_alert: symbol is required")
	}
	if c.AboveUSD == 0 && c.BelowUSD == 0 && c.ChangePct == 0 {
		return errors.New("price_alert: at least one of above_usd, below_usd, change_pct is required")
	}
	return nil
}

// TradingStrategyConfig drives simulation-only strategies. Real order
// placement is not supported anywhere in the engine.
type TradingStrategyConfig struct {
	NotifySettings
	Strategy    string  `json:"strategy"`
	Pair        string  `json:"pair"`
	BudgetUSD   float64 `json:"budget_usd,omitempty"`
	StopLossPct float64 `json:"stop_loss_pct,omitempty"`
}

func (TradingStrategyConfig) TaskType() TaskType { return TradingStrategyTask }
func (c TradingStrategyConfig) Validate() error {
	if c.Strategy == "" || c.Pair == "" {
		return errors.New("trading_strategy: strategy and pair are required")
	}
	return nil
}

type ThreatHuntConfig struct {
	NotifySettings
	Indicators []string `json:"indicators"`
	Sources    []string `json:"sources,omitempty"`
}

func (ThreatHuntConfig) TaskType() TaskType { return ThreatHuntTask }
func (c ThreatHuntConfig) Validate() error {
	if len(c.Indicators) == 0 {
		return errors.New("threat_hunt: at least one indicator is required")
	}
	return nil
}

type PortfolioTrackerConfig struct {
	NotifySettings
	Wallets    []string `json:"wallets"`
	VsCurrency string   `json:"vs_currency,omitempty"`
}

func (PortfolioTrackerConfig) TaskType() TaskType { return PortfolioTrackerTask }
func (c PortfolioTrackerConfig) Validate() error {
	if len(c.Wallets) == 0 {
		return errors.New("portfolio_tracker: at least one wallet is required")
	}
	return nil
}

type NFTMonitorConfig struct {
	NotifySettings
	Collection  string  `json:"collection"`
	FloorBelow  float64 `json:"floor_below,omitempty"`
	VolumeAbove float64 `json:"volume_above,omitempty"`
}

func (NFTMonitorConfig) TaskType() TaskType { return NFTMonitorTask }
func (c NFTMonitorConfig) Validate() error {
	if c.Collection == "" {
		return errors.New("nft_monitor: collection is required")
	}
	return nil
}

type DeFiMonitorConfig struct {
	NotifySettings
	Protocol    string  `json:"protocol"`
	Pool        string  `json:"pool,omitempty"`
	MinAPY      float64 `json:"min_apy,omitempty"`
	TVLDropPct  float64 `json:"tvl_drop_pct,omitempty"`
}

func (DeFiMonitorConfig) TaskType() TaskType { return DeFiMonitorTask }
func (c DeFiMonitorConfig) Validate() error {
	if c.Protocol == "" {
		return errors.New("defi_monitor: protocol is required")
	}
	return nil
}

type GovernanceMonitorConfig struct {
	NotifySettings
	DAO      string   `json:"dao"`
	Keywords []string `json:"keywords,omitempty"`
}

func (GovernanceMonitorConfig) TaskType() TaskType { return GovernanceMonitorTask }
func (c GovernanceMonitorConfig) Validate() error {
	if c.DAO == "" {
		return errors.New("governance_monitor: dao is required")
	}
	return nil
}

type GasMonitorConfig struct {
	NotifySettings
	Chain      string  `json:"chain"`
	BelowGwei  float64 `json:"below_gwei,omitempty"`
}

func (GasMonitorConfig) TaskType() TaskType { return GasMonitorTask }
func (c GasMonitorConfig) Validate() error {
	if c.Chain == "" {
		return errors.New("gas_monitor: chain is required")
	}
	return nil
}

// DecodeConfig turns the raw config bag into the typed variant for the
// given task type and validates it. Unknown types are rejected here so a
// bad task never reaches the dispatcher.
func DecodeConfig(typ TaskType, raw JSONMap) (TaskConfig, error) {
	var cfg TaskConfig
	switch typ {
	case SecurityScanTask:
		cfg = &SecurityScanConfig{}
	case WalletMonitorTask:
		cfg = &WalletMonitorConfig{}
	case PriceAlertTask:
		cfg = &PriceAlertConfig{}
	case TradingStrategyTask:
		cfg = &TradingStrategyConfig{}
	case ThreatHuntTask:
		cfg = &ThreatHuntConfig{}
	case PortfolioTrackerTask:
		cfg = &PortfolioTrackerConfig{}
	case NFTMonitorTask:
		cfg = &NFTMonitorConfig{}
	case DeFiMonitorTask:
		cfg = &DeFiMonitorConfig{}
	case GovernanceMonitorTask:
		cfg = &GovernanceMonitorConfig{}
	case GasMonitorTask:
		cfg = &GasMonitorConfig{}
	default:
		return nil, errors.Errorf("unknown task type %q", typ)
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "encode raw config")
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "decode %s config", typ)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
