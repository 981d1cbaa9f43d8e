// Package config defines all configuration for the trading simulator.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// operational fields overridable via environment variables
// (USE_SYNTHETIC_FEED, MAX_ORDER_VALUE, MAX_POSITION_SIZE,
// MAX_DRAWDOWN_PCT, DB_*, API_*, LOG_LEVEL).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Feed      FeedConfig      `mapstructure:"feed"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	DB        DBConfig        `mapstructure:"db"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// FeedConfig selects and tunes the market data source.
// With UseSynthetic the simulator generates geometric-Brownian-motion ticks;
// otherwise it streams live tickers from the exchange WebSocket.
type FeedConfig struct {
	UseSynthetic bool          `mapstructure:"use_synthetic"`
	Symbols      []string      `mapstructure:"symbols"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	WSBaseURL    string        `mapstructure:"ws_base_url"`
	RESTBaseURL  string        `mapstructure:"rest_base_url"`
}

// StrategyConfig enables and tunes the trading strategies.
type StrategyConfig struct {
	MeanReversion MeanReversionConfig `mapstructure:"mean_reversion"`
	Pairs         PairsConfig         `mapstructure:"pairs"`
	StopLoss      StopLossConfig      `mapstructure:"stop_loss"`
}

// MeanReversionConfig tunes the per-symbol z-score strategy.
//
//   - WindowSize: rolling price window length; no signals until full.
//   - EntryZ: |z| must strictly exceed this to trigger a signal.
type MeanReversionConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	WindowSize int     `mapstructure:"window_size"`
	EntryZ     float64 `mapstructure:"entry_z"`
}

// PairsConfig tunes the two-symbol ratio spread strategy.
type PairsConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	SymbolA    string  `mapstructure:"symbol_a"`
	SymbolB    string  `mapstructure:"symbol_b"`
	WindowSize int     `mapstructure:"window_size"`
	EntryZ     float64 `mapstructure:"entry_z"`
	ExitZ      float64 `mapstructure:"exit_z"`
}

// StopLossConfig arms the stop-loss closer. Pct is the adverse move from
// average entry that triggers a full close (0.02 = 2%).
type StopLossConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Pct     float64 `mapstructure:"pct"`
}

// ExecutionConfig tunes the simulated execution venue.
//
//   - MaxQtyPerSignal: order quantity = round(strength · MaxQtyPerSignal).
//   - RiskWait: how long a pending order waits for a risk rejection
//     before it is filled.
//   - SlippageBps: fill price deviation from the reference price, buys
//     above / sells below.
type ExecutionConfig struct {
	MaxQtyPerSignal int64         `mapstructure:"max_qty_per_signal"`
	RiskWait        time.Duration `mapstructure:"risk_wait"`
	SlippageBps     int64         `mapstructure:"slippage_bps"`
}

// RiskConfig sets the hard pre-trade limits.
//
//   - MaxOrderValue: cap on quantity · reference price per order.
//   - MaxPositionSize: cap on projected |position quantity| in shares.
//   - MaxDrawdownPct: orders are rejected once portfolio drawdown from
//     peak equity reaches this fraction.
type RiskConfig struct {
	MaxOrderValue   float64 `mapstructure:"max_order_value"`
	MaxPositionSize int64   `mapstructure:"max_position_size"`
	MaxDrawdownPct  float64 `mapstructure:"max_drawdown_pct"`
}

// PortfolioConfig seeds the position tracker.
type PortfolioConfig struct {
	InitialCash float64 `mapstructure:"initial_cash"`
}

// DBConfig holds the Postgres connection parameters for the persistence
// layer.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// DSN returns the Postgres connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// APIConfig controls the HTTP/WebSocket query surface.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. A missing
// file is not an error — defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("feed.use_synthetic", true)
	v.SetDefault("feed.symbols", []string{"AAPL", "MSFT", "GOOGL"})
	v.SetDefault("feed.tick_interval", "500ms")
	v.SetDefault("feed.ws_base_url", "wss://stream.binance.com:9443")
	v.SetDefault("feed.rest_base_url", "https://api.binance.com")

	v.SetDefault("strategy.mean_reversion.enabled", true)
	v.SetDefault("strategy.mean_reversion.window_size", 20)
	v.SetDefault("strategy.mean_reversion.entry_z", 2.0)
	v.SetDefault("strategy.pairs.enabled", false)
	v.SetDefault("strategy.pairs.symbol_a", "AAPL")
	v.SetDefault("strategy.pairs.symbol_b", "MSFT")
	v.SetDefault("strategy.pairs.window_size", 60)
	v.SetDefault("strategy.pairs.entry_z", 2.0)
	v.SetDefault("strategy.pairs.exit_z", 0.5)
	v.SetDefault("strategy.stop_loss.enabled", false)
	v.SetDefault("strategy.stop_loss.pct", 0.02)

	v.SetDefault("execution.max_qty_per_signal", 100)
	v.SetDefault("execution.risk_wait", "50ms")
	v.SetDefault("execution.slippage_bps", 5)

	v.SetDefault("risk.max_order_value", 5000.0)
	v.SetDefault("risk.max_position_size", 1000)
	v.SetDefault("risk.max_drawdown_pct", 0.05)

	v.SetDefault("portfolio.initial_cash", 100000.0)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "trader")
	v.SetDefault("db.password", "trader")
	v.SetDefault("db.name", "trading")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8000)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// applyEnvOverrides maps the flat, externally recognized variable names
// onto the structured config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("USE_SYNTHETIC_FEED"); v != "" {
		cfg.Feed.UseSynthetic = v == "true" || v == "1"
	}
	if f, ok := envFloat("MAX_ORDER_VALUE"); ok {
		cfg.Risk.MaxOrderValue = f
	}
	if n, ok := envInt("MAX_POSITION_SIZE"); ok {
		cfg.Risk.MaxPositionSize = n
	}
	if f, ok := envFloat("MAX_DRAWDOWN_PCT"); ok {
		cfg.Risk.MaxDrawdownPct = f
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.DB.Host = v
	}
	if n, ok := envInt("DB_PORT"); ok {
		cfg.DB.Port = int(n)
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.DB.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.DB.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DB.Name = v
	}
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if n, ok := envInt("API_PORT"); ok {
		cfg.API.Port = int(n)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envInt(key string) (int64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols must not be empty")
	}
	if c.Feed.TickInterval <= 0 {
		return fmt.Errorf("feed.tick_interval must be > 0")
	}
	if c.Strategy.MeanReversion.Enabled {
		if c.Strategy.MeanReversion.WindowSize < 2 {
			return fmt.Errorf("strategy.mean_reversion.window_size must be >= 2")
		}
		if c.Strategy.MeanReversion.EntryZ <= 0 {
			return fmt.Errorf("strategy.mean_reversion.entry_z must be > 0")
		}
	}
	if c.Strategy.Pairs.Enabled {
		if c.Strategy.Pairs.SymbolA == "" || c.Strategy.Pairs.SymbolB == "" {
			return fmt.Errorf("strategy.pairs requires symbol_a and symbol_b")
		}
		if c.Strategy.Pairs.SymbolA == c.Strategy.Pairs.SymbolB {
			return fmt.Errorf("strategy.pairs symbols must differ")
		}
		if c.Strategy.Pairs.WindowSize < 2 {
			return fmt.Errorf("strategy.pairs.window_size must be >= 2")
		}
	}
	if c.Strategy.StopLoss.Enabled && c.Strategy.StopLoss.Pct <= 0 {
		return fmt.Errorf("strategy.stop_loss.pct must be > 0")
	}
	if c.Execution.MaxQtyPerSignal <= 0 {
		return fmt.Errorf("execution.max_qty_per_signal must be > 0")
	}
	if c.Execution.RiskWait <= 0 {
		return fmt.Errorf("execution.risk_wait must be > 0")
	}
	if c.Execution.SlippageBps < 0 {
		return fmt.Errorf("execution.slippage_bps must be >= 0")
	}
	if c.Risk.MaxOrderValue <= 0 {
		return fmt.Errorf("risk.max_order_value must be > 0")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("risk.max_position_size must be > 0")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be in (0, 1)")
	}
	if c.Portfolio.InitialCash <= 0 {
		return fmt.Errorf("portfolio.initial_cash must be > 0")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be a valid port")
	}
	return nil
}
