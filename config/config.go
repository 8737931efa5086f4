package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port              int `yaml:"port"`
	ReadTimeoutMS     int `yaml:"read_timeout_ms"`
	WriteTimeoutMS    int `yaml:"write_timeout_ms"`
	ShutdownTimeoutMS int `yaml:"shutdown_timeout_ms"`
}

// TradingConfig tunes the liquidation engine.
type TradingConfig struct {
	MaxSellRetries  int     `yaml:"max_sell_retries"`
	RetryBackoffMS  int     `yaml:"retry_backoff_ms"`
	DustThreshold   float64 `yaml:"dust_threshold"`
	BulkSellDelayMS int     `yaml:"bulk_sell_delay_ms"`
}

// RedemptionConfig tunes the on-chain redemption engine.
type RedemptionConfig struct {
	ZeroDustThreshold float64 `yaml:"zero_dust_threshold"`
	BatchDelayMS      int     `yaml:"batch_delay_ms"`
	GasLimit          uint64  `yaml:"gas_limit"`
	GasPriceBumpPct   int     `yaml:"gas_price_bump_pct"`
}

// MonitorConfig controls the realtime feed and its polling fallback.
type MonitorConfig struct {
	ReconnectBaseMS      int `yaml:"reconnect_base_ms"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	PollIntervalMS       int `yaml:"poll_interval_ms"`
	FreshnessHours       int `yaml:"freshness_hours"`
}

// CacheConfig defines TTLs for Data API response caching.
type CacheConfig struct {
	PositionsTTLSecs int `yaml:"positions_ttl_seconds"`
	BookTTLSecs      int `yaml:"book_ttl_seconds"`
}

// DataConfig contains persistence settings. DatabaseURL and RedisURL are
// usually supplied via environment, not the yaml file.
type DataConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
}

// EndpointsConfig points at the Polymarket services.
type EndpointsConfig struct {
	DataAPIURL string `yaml:"data_api_url"`
	ClobURL    string `yaml:"clob_url"`
	LiveWSURL  string `yaml:"live_ws_url"`
}

// ChainConfig holds on-chain endpoints and identity.
type ChainConfig struct {
	RPCURL      string `yaml:"rpc_url"`
	ChainID     int64  `yaml:"chain_id"`
	PrivateKey  string `yaml:"-"` // env only, never written to disk
	ProxyWallet string `yaml:"proxy_wallet"`
}

// Config aggregates all bot configuration knobs.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Trading    TradingConfig    `yaml:"trading"`
	Redemption RedemptionConfig `yaml:"redemption"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Cache      CacheConfig      `yaml:"cache"`
	Data       DataConfig       `yaml:"data"`
	Endpoints  EndpointsConfig  `yaml:"endpoints"`
	Chain      ChainConfig      `yaml:"chain"`

	// Trader wallets to mirror, in addition to the bot's own wallet.
	TrackedWallets []string `yaml:"tracked_wallets"`
}

// Load reads configuration from disk, falling back to defaults, then overlays
// secrets and connection strings from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	configPath := path
	if configPath == "" {
		configPath = filepath.Join("config", "default.yaml")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: unable to read %s: %w", configPath, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              8080,
			ReadTimeoutMS:     10000,
			WriteTimeoutMS:    10000,
			ShutdownTimeoutMS: 5000,
		},
		Trading: TradingConfig{
			MaxSellRetries:  3,
			RetryBackoffMS:  1000,
			DustThreshold:   0.01,
			BulkSellDelayMS: 500,
		},
		Redemption: RedemptionConfig{
			ZeroDustThreshold: 0.0001,
			BatchDelayMS:      2000,
			GasLimit:          300000,
			GasPriceBumpPct:   20,
		},
		Monitor: MonitorConfig{
			ReconnectBaseMS:      1000,
			MaxReconnectAttempts: 5,
			PollIntervalMS:       2000,
			FreshnessHours:       24,
		},
		Cache: CacheConfig{
			PositionsTTLSecs: 10,
			BookTTLSecs:      1,
		},
		Endpoints: EndpointsConfig{
			DataAPIURL: "https://data-api.polymarket.com",
			ClobURL:    "https://clob.polymarket.com",
			LiveWSURL:  "wss://ws-live-data.polymarket.com/",
		},
		Chain: ChainConfig{
			RPCURL:  "https://polygon-rpc.com",
			ChainID: 137,
		},
	}
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ReadTimeoutMS == 0 {
		c.Server.ReadTimeoutMS = def.Server.ReadTimeoutMS
	}
	if c.Server.WriteTimeoutMS == 0 {
		c.Server.WriteTimeoutMS = def.Server.WriteTimeoutMS
	}
	if c.Server.ShutdownTimeoutMS == 0 {
		c.Server.ShutdownTimeoutMS = def.Server.ShutdownTimeoutMS
	}

	if c.Trading.MaxSellRetries == 0 {
		c.Trading.MaxSellRetries = def.Trading.MaxSellRetries
	}
	if c.Trading.RetryBackoffMS == 0 {
		c.Trading.RetryBackoffMS = def.Trading.RetryBackoffMS
	}
	if c.Trading.DustThreshold == 0 {
		c.Trading.DustThreshold = def.Trading.DustThreshold
	}
	if c.Trading.BulkSellDelayMS == 0 {
		c.Trading.BulkSellDelayMS = def.Trading.BulkSellDelayMS
	}

	if c.Redemption.ZeroDustThreshold == 0 {
		c.Redemption.ZeroDustThreshold = def.Redemption.ZeroDustThreshold
	}
	if c.Redemption.BatchDelayMS == 0 {
		c.Redemption.BatchDelayMS = def.Redemption.BatchDelayMS
	}
	if c.Redemption.GasLimit == 0 {
		c.Redemption.GasLimit = def.Redemption.GasLimit
	}
	if c.Redemption.GasPriceBumpPct == 0 {
		c.Redemption.GasPriceBumpPct = def.Redemption.GasPriceBumpPct
	}

	if c.Monitor.ReconnectBaseMS == 0 {
		c.Monitor.ReconnectBaseMS = def.Monitor.ReconnectBaseMS
	}
	if c.Monitor.MaxReconnectAttempts == 0 {
		c.Monitor.MaxReconnectAttempts = def.Monitor.MaxReconnectAttempts
	}
	if c.Monitor.PollIntervalMS == 0 {
		c.Monitor.PollIntervalMS = def.Monitor.PollIntervalMS
	}
	if c.Monitor.FreshnessHours == 0 {
		c.Monitor.FreshnessHours = def.Monitor.FreshnessHours
	}

	if c.Cache.PositionsTTLSecs == 0 {
		c.Cache.PositionsTTLSecs = def.Cache.PositionsTTLSecs
	}
	if c.Cache.BookTTLSecs == 0 {
		c.Cache.BookTTLSecs = def.Cache.BookTTLSecs
	}

	if c.Endpoints.DataAPIURL == "" {
		c.Endpoints.DataAPIURL = def.Endpoints.DataAPIURL
	}
	if c.Endpoints.ClobURL == "" {
		c.Endpoints.ClobURL = def.Endpoints.ClobURL
	}
	if c.Endpoints.LiveWSURL == "" {
		c.Endpoints.LiveWSURL = def.Endpoints.LiveWSURL
	}

	if c.Chain.RPCURL == "" {
		c.Chain.RPCURL = def.Chain.RPCURL
	}
	if c.Chain.ChainID == 0 {
		c.Chain.ChainID = def.Chain.ChainID
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Data.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Data.RedisURL = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("POLYMARKET_PRIVATE_KEY"); v != "" {
		c.Chain.PrivateKey = v
	}
	if v := os.Getenv("POLYMARKET_PROXY_WALLET"); v != "" {
		c.Chain.ProxyWallet = v
	}
	if v := os.Getenv("POLYMARKET_DATA_API_URL"); v != "" {
		c.Endpoints.DataAPIURL = v
	}
	if v := os.Getenv("POLYMARKET_CLOB_URL"); v != "" {
		c.Endpoints.ClobURL = v
	}
	if v := os.Getenv("POLYMARKET_LIVE_WS_URL"); v != "" {
		c.Endpoints.LiveWSURL = v
	}
	if v := os.Getenv("TRACKED_WALLETS"); v != "" {
		c.TrackedWallets = c.TrackedWallets[:0]
		for _, w := range strings.Split(v, ",") {
			if w = strings.TrimSpace(w); w != "" {
				c.TrackedWallets = append(c.TrackedWallets, w)
			}
		}
	}
}
