package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/dualarb/api"
	"github.com/michaelpento.lv/dualarb/chain"
	"github.com/michaelpento.lv/dualarb/executor"
	"github.com/michaelpento.lv/dualarb/orchestrator"
	"github.com/michaelpento.lv/dualarb/quote"
	"github.com/michaelpento.lv/dualarb/scheduler"
	"github.com/michaelpento.lv/dualarb/simulator"
	"github.com/michaelpento.lv/dualarb/store/postgres"
	redisstore "github.com/michaelpento.lv/dualarb/store/redis"
	"github.com/michaelpento.lv/dualarb/types"
)

// DefaultConfigFile is read when no --config flag is given
const DefaultConfigFile = "config.yaml"

// Config is the whole config file plus secrets taken from the environment
type Config struct {
	Chains    map[uint64]chain.Entry `yaml:"chains"`
	Pairs     []PairConfig           `yaml:"pairs"`
	Settings  SettingsConfig         `yaml:"settings"`
	Execution ExecutionConfig        `yaml:"execution"`
	Quote     QuoteConfig            `yaml:"quote"`
	Gas       GasConfig              `yaml:"gas"`
	Scheduler scheduler.Config       `yaml:"scheduler"`
	API       api.Config             `yaml:"api"`
	Redis     redisstore.Config      `yaml:"redis"`
	Postgres  postgres.Config        `yaml:"postgres"`
	Metrics   MetricsConfig          `yaml:"metrics"`

	// PrivateKey is only ever read from the environment
	PrivateKey string `yaml:"-"`
}

// PairConfig is one tradeable pair as written in YAML
type PairConfig struct {
	ID          string `yaml:"id"`
	Base        string `yaml:"base"`
	Quote       string `yaml:"quote"`
	ChainA      uint64 `yaml:"chainA"`
	ChainB      uint64 `yaml:"chainB"`
	TradingUnit string `yaml:"tradingUnit"`
}

// SettingsConfig are the static settings. A redis settings hash overrides them field by field.
type SettingsConfig struct {
	ThresholdMode     string            `yaml:"thresholdMode"`
	MinProfitFixed    string            `yaml:"minProfitFixed"`
	MinProfitPercent  string            `yaml:"minProfitPercent"`
	MaxPositionSize   string            `yaml:"maxPositionSize"`
	SlippageTolerance string            `yaml:"slippageTolerance"`
	TradingFeeRate    string            `yaml:"tradingFeeRate"`
	GasEstimates      map[uint64]string `yaml:"gasEstimates"`
	AutoExecute       bool              `yaml:"autoExecute"`
}

type ExecutionConfig struct {
	Mode                string          `yaml:"mode"`
	SubmissionWindow    time.Duration   `yaml:"submissionWindow"`
	ConfirmationCeiling time.Duration   `yaml:"confirmationCeiling"`
	ReceiptPollInterval time.Duration   `yaml:"receiptPollInterval"`
	Simulator           SimulatorConfig `yaml:"simulator"`
}

type SimulatorConfig struct {
	MinLatency  time.Duration `yaml:"minLatency"`
	MaxLatency  time.Duration `yaml:"maxLatency"`
	FailureRate float64       `yaml:"failureRate"`
}

type QuoteConfig struct {
	CacheSize int           `yaml:"cacheSize"`
	CacheTTL  time.Duration `yaml:"cacheTTL"`
	RateLimit float64       `yaml:"rateLimit"`
	RateBurst int           `yaml:"rateBurst"`
}

type GasConfig struct {
	// Units is the gas charged per swap; 0 uses the built-in swap estimate
	Units uint64        `yaml:"units"`
	TTL   time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns a runnable simulated setup on Ethereum and BNB Chain
func DefaultConfig() *Config {
	sim := simulator.DefaultConfig()
	orch := orchestrator.DefaultConfig()
	q := quote.DefaultOptions()

	return &Config{
		Chains: map[uint64]chain.Entry{
			1: {
				Name:              "ethereum",
				RPCEndpoint:       "https://eth.llamarpc.com",
				RouterAddress:     "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
				NativeTokenSymbol: "WETH",
				Tokens: map[string]string{
					"WETH": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
					"WBTC": "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599",
					"USDC": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				},
				Decimals: map[string]uint8{"WETH": 18, "WBTC": 8, "USDC": 6},
			},
			56: {
				Name:              "bsc",
				RPCEndpoint:       "https://bsc-dataseed.binance.org",
				RouterAddress:     "0x10ED43C718714eb63d5aA57B78B54704E256024E",
				NativeTokenSymbol: "WBNB",
				Tokens: map[string]string{
					"WBNB": "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
					"WETH": "0x2170Ed0880ac9A755fd29B2688956BD959F933F8",
					"WBTC": "0x7130d2A12B9BCbFAe4f2634d864A1Ee1Ce3Ead9c",
					"USDC": "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
				},
				Decimals: map[string]uint8{"WBNB": 18, "WETH": 18, "WBTC": 18, "USDC": 18},
			},
		},
		Pairs: []PairConfig{
			{ID: "BTC-USDC", Base: "WBTC", Quote: "USDC", ChainA: 1, ChainB: 56, TradingUnit: "0.01"},
			{ID: "ETH-USDC", Base: "WETH", Quote: "USDC", ChainA: 1, ChainB: 56, TradingUnit: "0.1"},
		},
		Settings: SettingsConfig{
			ThresholdMode:     string(types.ThresholdFixed),
			MinProfitFixed:    "50",
			MinProfitPercent:  "0.5",
			MaxPositionSize:   "10000",
			SlippageTolerance: "0.5",
			TradingFeeRate:    "0.001",
		},
		Execution: ExecutionConfig{
			Mode:                string(executor.ModeSimulated),
			SubmissionWindow:    orch.SubmissionWindow,
			ConfirmationCeiling: orch.ConfirmationCeiling,
			ReceiptPollInterval: 2 * time.Second,
			Simulator: SimulatorConfig{
				MinLatency:  sim.MinLatency,
				MaxLatency:  sim.MaxLatency,
				FailureRate: sim.FailureRate,
			},
		},
		Quote: QuoteConfig{
			CacheSize: q.CacheSize,
			CacheTTL:  q.CacheTTL,
			RateLimit: q.RateLimit,
			RateBurst: q.RateBurst,
		},
		Gas: GasConfig{
			TTL: 30 * time.Second,
		},
		Scheduler: scheduler.DefaultConfig(),
		API:       api.DefaultConfig(),
		Redis:     redisstore.DefaultConfig(),
		Postgres:  postgres.Config{MaxConns: 4},
		Metrics:   MetricsConfig{Namespace: "dualarb"},
	}
}

// LoadConfig reads a YAML file over the defaults, applies environment secrets and validates.
// The chain table and pairs are taken from the file as a whole, never merged with defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Chains = nil
	cfg.Pairs = nil
	cfg.Settings.GasEstimates = nil

	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	ApplyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML. Secrets are never written.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports every problem at once
func (c *Config) Validate() error {
	var problems []string

	registry, err := chain.NewRegistry(c.Chains)
	if err != nil {
		problems = append(problems, err.Error())
	}

	seen := make(map[string]bool, len(c.Pairs))
	if len(c.Pairs) == 0 {
		problems = append(problems, "at least one pair is required")
	}
	for i, p := range c.Pairs {
		if p.ID == "" {
			problems = append(problems, fmt.Sprintf("pairs[%d]: id is required", i))
		} else if seen[p.ID] {
			problems = append(problems, fmt.Sprintf("pairs[%d]: duplicate id %s", i, p.ID))
		}
		seen[p.ID] = true
		problems = append(problems, p.validate(i, registry)...)
	}

	if _, err := c.TradingSettings(); err != nil {
		problems = append(problems, err.Error())
	}

	switch executor.Mode(c.Execution.Mode) {
	case executor.ModeReal, executor.ModeSimulated, executor.ModeAuto:
	default:
		problems = append(problems, fmt.Sprintf("execution.mode must be real, simulated or auto, got %q", c.Execution.Mode))
	}
	if c.Execution.SubmissionWindow <= 0 {
		problems = append(problems, "execution.submissionWindow must be positive")
	}
	if c.Execution.ConfirmationCeiling < 0 {
		problems = append(problems, "execution.confirmationCeiling must not be negative")
	}
	if c.Execution.ReceiptPollInterval <= 0 {
		problems = append(problems, "execution.receiptPollInterval must be positive")
	}
	sim := c.Execution.Simulator
	if sim.MinLatency < 0 || sim.MaxLatency < sim.MinLatency {
		problems = append(problems, "execution.simulator latency range is invalid")
	}
	if sim.FailureRate < 0 || sim.FailureRate > 1 {
		problems = append(problems, "execution.simulator.failureRate must be within [0, 1]")
	}

	if c.Quote.CacheSize <= 0 {
		problems = append(problems, "quote.cacheSize must be positive")
	}
	if c.Quote.CacheTTL < 0 || c.Quote.RateLimit < 0 || c.Quote.RateBurst < 0 {
		problems = append(problems, "quote limits must not be negative")
	}
	if c.Scheduler.Interval < time.Second {
		problems = append(problems, "scheduler.interval must be at least 1s")
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		problems = append(problems, "api.listenAddr is required when the API is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required when redis is enabled")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		problems = append(problems, fmt.Sprintf("%s must be set when postgres is enabled", EnvPostgresDSN))
	}
	if executor.Mode(c.Execution.Mode) == executor.ModeReal && c.PrivateKey == "" {
		problems = append(problems, fmt.Sprintf("%s must be set for real execution", EnvPrivateKey))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (p PairConfig) validate(i int, registry *chain.Registry) []string {
	var problems []string
	if p.Base == "" || p.Quote == "" {
		problems = append(problems, fmt.Sprintf("pairs[%d]: base and quote are required", i))
	}
	if p.ChainA == p.ChainB {
		problems = append(problems, fmt.Sprintf("pairs[%d]: chainA and chainB must differ", i))
	}
	unit, err := decimal.NewFromString(p.TradingUnit)
	if err != nil || !unit.IsPositive() {
		problems = append(problems, fmt.Sprintf("pairs[%d]: tradingUnit must be a positive number", i))
	}
	if registry == nil {
		return problems
	}
	for _, id := range []uint64{p.ChainA, p.ChainB} {
		for _, sym := range []string{p.Base, p.Quote} {
			if sym == "" {
				continue
			}
			if _, _, err := registry.Token(id, sym); err != nil {
				problems = append(problems, fmt.Sprintf("pairs[%d]: %v", i, err))
			}
		}
	}
	return problems
}

// Registry builds the chain registry
func (c *Config) Registry() (*chain.Registry, error) {
	return chain.NewRegistry(c.Chains)
}

// TradingPairs converts the pair table
func (c *Config) TradingPairs() ([]types.Pair, error) {
	out := make([]types.Pair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		unit, err := decimal.NewFromString(p.TradingUnit)
		if err != nil {
			return nil, fmt.Errorf("pair %s: bad trading unit: %w", p.ID, err)
		}
		out = append(out, types.Pair{
			ID:          p.ID,
			Base:        p.Base,
			Quote:       p.Quote,
			ChainA:      p.ChainA,
			ChainB:      p.ChainB,
			TradingUnit: unit,
		})
	}
	return out, nil
}

// TradingSettings parses the static settings
func (c *Config) TradingSettings() (types.Settings, error) {
	s := c.Settings
	var problems []string
	parse := func(name, raw string, def decimal.Decimal) decimal.Decimal {
		if strings.TrimSpace(raw) == "" {
			return def
		}
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			problems = append(problems, fmt.Sprintf("settings.%s: %q is not a number", name, raw))
			return def
		}
		if d.IsNegative() {
			problems = append(problems, fmt.Sprintf("settings.%s must not be negative", name))
		}
		return d
	}

	out := types.Settings{
		ThresholdMode:     types.ThresholdMode(strings.ToLower(s.ThresholdMode)),
		MinProfitFixed:    parse("minProfitFixed", s.MinProfitFixed, decimal.Zero),
		MinProfitPercent:  parse("minProfitPercent", s.MinProfitPercent, decimal.Zero),
		MaxPositionSize:   parse("maxPositionSize", s.MaxPositionSize, decimal.Zero),
		SlippageTolerance: parse("slippageTolerance", s.SlippageTolerance, decimal.RequireFromString("0.5")),
		TradingFeeRate:    parse("tradingFeeRate", s.TradingFeeRate, decimal.RequireFromString("0.001")),
		GasEstimates:      make(map[uint64]decimal.Decimal, len(s.GasEstimates)),
		AutoExecute:       s.AutoExecute,
	}
	if out.ThresholdMode == "" {
		out.ThresholdMode = types.ThresholdFixed
	}
	if out.ThresholdMode != types.ThresholdFixed && out.ThresholdMode != types.ThresholdPercent {
		problems = append(problems, fmt.Sprintf("settings.thresholdMode must be fixed or percent, got %q", s.ThresholdMode))
	}
	if !executor.ValidSlippage(out.SlippageBps()) {
		problems = append(problems, "settings.slippageTolerance must be within [0, 100] percent")
	}

	ids := make([]uint64, 0, len(s.GasEstimates))
	for id := range s.GasEstimates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out.GasEstimates[id] = parse(fmt.Sprintf("gasEstimates[%d]", id), s.GasEstimates[id], decimal.Zero)
	}

	if len(problems) > 0 {
		return types.Settings{}, errors.New(strings.Join(problems, "; "))
	}
	return out, nil
}

func (c *Config) ExecutionMode() executor.Mode {
	return executor.Mode(c.Execution.Mode)
}

func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		SubmissionWindow:    c.Execution.SubmissionWindow,
		ConfirmationCeiling: c.Execution.ConfirmationCeiling,
	}
}

func (c *Config) SimulatorConfig() simulator.Config {
	return simulator.Config{
		MinLatency:  c.Execution.Simulator.MinLatency,
		MaxLatency:  c.Execution.Simulator.MaxLatency,
		FailureRate: c.Execution.Simulator.FailureRate,
	}
}

func (c *Config) QuoteOptions() quote.Options {
	return quote.Options{
		CacheSize: c.Quote.CacheSize,
		CacheTTL:  c.Quote.CacheTTL,
		RateLimit: c.Quote.RateLimit,
		RateBurst: c.Quote.RateBurst,
	}
}
