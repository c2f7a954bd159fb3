// Package config defines the validated configuration object the core trading
// engine receives — external configuration shape, realized as a
// single tagged struct tree in the style of the nested
// StrategyConfig/IndicatorConfig/PromptSectionsConfig convention.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object, parsed elsewhere (YAML file plus .env
// overlay) and handed to cmd/tradecycle's wiring as a single validated value.
//
// Fields carry json tags because Load decodes the YAML document through a JSON
// bridge: yaml.v3 has no encoding.TextUnmarshaler support, so decimal.Decimal
// fields cannot be decoded by it directly, while encoding/json handles them
// natively.
type Config struct {
	Trading TradingConfig           `json:"trading"`
	Risk    RiskConfig              `json:"risk"`
	Exec    ExecutionConfig         `json:"execution"`
	Symbols map[string]SymbolConfig `json:"symbols"`
}

// TradingConfig is the top-level session/venue configuration.
type TradingConfig struct {
	Symbols         []string        `json:"symbols"`
	Timeframe       string          `json:"timeframe"`
	InitialCapital  decimal.Decimal `json:"initial_capital"`
	CycleInterval   Duration        `json:"cycle_interval"`
	LiveMode        bool            `json:"live_mode"`
	DryRun          bool            `json:"dry_run"`
	PrimaryStrategy string          `json:"primary_strategy"`
	MaxOpenTrades   int             `json:"max_open_trades"`
}

// Duration wraps time.Duration so "60s"-style strings parse directly instead of
// failing against time.Duration's plain int64 underlying type.
type Duration time.Duration

// UnmarshalJSON accepts either a duration string ("60s", "1h30m") or a bare
// integer number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return fmt.Errorf("config: cycle_interval must be a duration string or integer nanoseconds")
	}
	*d = Duration(ns)
	return nil
}

// SizingConfig mirrors risk.SizingConfig's file-facing shape (risk.sizing.*).
type SizingConfig struct {
	RiskPerTradePct decimal.Decimal `json:"risk_per_trade_pct"`
	PerSymbolCapPct decimal.Decimal `json:"per_symbol_cap_pct"`
	SessionCapPct   decimal.Decimal `json:"session_cap_pct"`
	PilotMultiplier decimal.Decimal `json:"pilot_multiplier"`
}

// SLTPConfig mirrors risk.SLTPConfig (risk.sl_tp.*).
type SLTPConfig struct {
	ATRKStop       decimal.Decimal `json:"atr_k_sl"`
	ATRMTarget     decimal.Decimal `json:"atr_m_tp"`
	EnableFallback bool            `json:"enable_fallback"`
	FallbackSLPct  decimal.Decimal `json:"fallback_sl_pct"`
	FallbackTPPct  decimal.Decimal `json:"fallback_tp_pct"`
}

// LadderConfig is one profit-ladder rung (risk.exits.tp_ladders[]).
type LadderConfig struct {
	ProfitPct decimal.Decimal `json:"profit_pct"`
	Pct       decimal.Decimal `json:"pct"`
}

// ExitsConfig mirrors exits.Config (risk.exits.*).
type ExitsConfig struct {
	TPLadders        []LadderConfig  `json:"tp_ladders"`
	TimeStopHours    decimal.Decimal `json:"time_stop_hours"`
	MinQty           decimal.Decimal `json:"min_qty"`
	EnableChandelier bool            `json:"enable_chandelier"`
	ChandelierNAtr   decimal.Decimal `json:"chandelier_n_atr"`
}

// EntryGateConfig parameterizes the top-K / threshold entry gate (risk.entry_gate.*).
type EntryGateConfig struct {
	EnableTopK       bool            `json:"enable_top_k"`
	TopKEntries      int             `json:"top_k_entries"`
	HardFloorMin     decimal.Decimal `json:"hard_floor_min"`
	GateMargin       decimal.Decimal `json:"gate_margin"`
	VolatilityEasing decimal.Decimal `json:"volatility_easing"`
}

// RiskOnTriggerConfig parameterizes the ATR-ratio risk-on trigger (risk.risk_on.trigger.*).
type RiskOnTriggerConfig struct {
	ATRPeriod    int             `json:"atr_period"`
	ATRSMAPeriod int             `json:"atr_sma_period"`
	ATROverSMA   decimal.Decimal `json:"atr_over_sma"`
}

// RiskOnConfig mirrors regime's risk-on window (risk.risk_on.*).
type RiskOnConfig struct {
	Enabled         bool                `json:"enabled"`
	Trigger         RiskOnTriggerConfig `json:"trigger"`
	WindowCycles    int                 `json:"window_cycles"`
	MinGateFloor    decimal.Decimal     `json:"min_gate_floor"`
	RiskPerTradePct decimal.Decimal     `json:"risk_per_trade_pct"`
}

// ExplorationConfig parameterizes the forced-exploration entry fallback (risk.exploration.*).
type ExplorationConfig struct {
	Enabled          bool            `json:"enabled"`
	BudgetPctPerDay  decimal.Decimal `json:"budget_pct_per_day"`
	MinScore         decimal.Decimal `json:"min_score"`
	MaxForcedPerDay  int             `json:"max_forced_per_day"`
	SizeMultVsNormal decimal.Decimal `json:"size_mult_vs_normal"`
	TighterStopMult  decimal.Decimal `json:"tighter_stop_mult"`
}

// RiskConfig is the risk.* top-level section.
type RiskConfig struct {
	RRMin             decimal.Decimal   `json:"rr_min"`
	MinStopFrac       decimal.Decimal   `json:"min_stop_frac"`
	ShortEnabled      bool              `json:"short_enabled"`
	Sizing            SizingConfig      `json:"sizing"`
	SLTP              SLTPConfig        `json:"sl_tp"`
	Exits             ExitsConfig       `json:"exits"`
	EntryGate         EntryGateConfig   `json:"entry_gate"`
	RiskOn            RiskOnConfig      `json:"risk_on"`
	Exploration       ExplorationConfig `json:"exploration"`
	RRRelaxForPilot   decimal.Decimal   `json:"rr_relax_for_pilot"`
	DailyLossLimitPct decimal.Decimal   `json:"daily_loss_limit_pct"`
}

// RateLimitConfig parameterizes the per-venue token bucket gating outbound
// venue calls (execution.rate_limit.*).
type RateLimitConfig struct {
	CallsPerSecond float64 `json:"calls_per_second"`
	BurstSize      int     `json:"burst_size"`
}

// ExecutionConfig is the execution.* top-level section (order manager / fee model).
type ExecutionConfig struct {
	SlippageBps          decimal.Decimal `json:"slippage_bps"`
	MakerFeeBps          decimal.Decimal `json:"maker_fee_bps"`
	TakerFeeBps          decimal.Decimal `json:"taker_fee_bps"`
	MinSliceNotional     decimal.Decimal `json:"min_slice_notional"`
	DefaultSliceNotional decimal.Decimal `json:"default_slice_notional"`
	MaxSlicesPerOrder    int             `json:"max_slices_per_order"`
	PerSymbolCapPct      decimal.Decimal `json:"per_symbol_cap_pct"`
	SessionCapPct        decimal.Decimal `json:"session_cap_pct"`
	RateLimit            RateLimitConfig `json:"rate_limit"`
	LiveAPIKeyEnv        string          `json:"live_api_key_env"`
	LiveSecretKeyEnv     string          `json:"live_secret_key_env"`
}

// SymbolConfig is one entry of the symbols.<symbol> map.
type SymbolConfig struct {
	PriceTick     decimal.Decimal `json:"price_tick"`
	QtyStep       decimal.Decimal `json:"qty_step"`
	MinQty        decimal.Decimal `json:"min_qty"`
	MinNotional   decimal.Decimal `json:"min_notional"`
	SupportsShort bool            `json:"supports_short"`
	AllowShort    bool            `json:"allow_short"`
}

// Load reads envPath (if non-empty, via godotenv, ignoring a missing file) then
// parses yamlPath into a Config and validates it.
func Load(yamlPath, envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: load env %s: %w", envPath, err)
		}
	}

	raw, err := os.ReadFile(yamlPath)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", yamlPath, err)
	}

	cfg, err := parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", yamlPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// parse decodes the YAML document into generic values, then through
// encoding/json into the typed tree.
func parse(raw []byte) (Config, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, err
	}
	bridge, err := json.Marshal(doc)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(bridge, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate runs the startup checks that must pass before the process enters the
// cycle loop; any failure here is fatal at startup.
func (c Config) Validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("trading.symbols must not be empty")
	}
	if !c.Trading.InitialCapital.IsPositive() {
		return fmt.Errorf("trading.initial_capital must be > 0")
	}
	if c.Trading.CycleInterval <= 0 {
		return fmt.Errorf("trading.cycle_interval must be > 0")
	}
	if c.Trading.LiveMode {
		if c.Exec.LiveAPIKeyEnv == "" || os.Getenv(c.Exec.LiveAPIKeyEnv) == "" {
			return fmt.Errorf("execution.live_api_key_env must name a populated environment variable when trading.live_mode is set")
		}
		if c.Exec.LiveSecretKeyEnv == "" || os.Getenv(c.Exec.LiveSecretKeyEnv) == "" {
			return fmt.Errorf("execution.live_secret_key_env must name a populated environment variable when trading.live_mode is set")
		}
	}
	if c.Risk.RRMin.IsNegative() {
		return fmt.Errorf("risk.rr_min must be >= 0")
	}
	return nil
}
