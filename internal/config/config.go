// Package config loads the service configuration from YAML with a .env
// overlay for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Resync policies applied when the feed reconnects. The wire protocol
// delivers incremental deltas with no explicit post-reconnect snapshot, so
// what to do with the stale book is a deployment choice.
const (
	ResyncKeep     = "keep"     // leave the book stale until deltas correct it
	ResyncReset    = "reset"    // clear all books on reconnect
	ResyncSnapshot = "snapshot" // seed books from the REST depth endpoint
)

// Config is the complete service configuration.
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Book     BookConfig     `yaml:"book"`
	HTTP     HTTPConfig     `yaml:"http"`
	Redis    RedisConfig    `yaml:"redis"`
	Fees     FeesConfig     `yaml:"fees"`
}

// ExchangeConfig holds feed endpoints, subscriptions and credentials.
// Credentials come only from the environment, never from the YAML file.
type ExchangeConfig struct {
	WSURL              string   `yaml:"ws_url"`
	RESTURL            string   `yaml:"rest_url"`
	Channel            string   `yaml:"channel"`
	Symbols            []string `yaml:"symbols"`
	ResyncPolicy       string   `yaml:"resync_policy"`
	PingIntervalSecs   int      `yaml:"ping_interval_secs"`
	ReconnectDelaySecs int      `yaml:"reconnect_delay_secs"`
	BufferSize         int      `yaml:"buffer_size"`

	APIKey     string `yaml:"-"`
	APISecret  string `yaml:"-"`
	Passphrase string `yaml:"-"`
}

// BookConfig bounds order book state.
type BookConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// HTTPConfig holds the serving address.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RedisConfig enables the optional book summary cache when Addr is set.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	TTLSecs int    `yaml:"ttl_secs"`
}

// FeesConfig points at an optional fee schedule override.
type FeesConfig struct {
	SchedulePath string `yaml:"schedule_path"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			WSURL:              "wss://ws.okx.com:8443/ws/v5/public",
			RESTURL:            "https://www.okx.com",
			Channel:            "books",
			Symbols:            []string{"BTC-USDT-SWAP"},
			ResyncPolicy:       ResyncKeep,
			PingIntervalSecs:   30,
			ReconnectDelaySecs: 5,
			BufferSize:         256,
		},
		Book:  BookConfig{MaxDepth: 100},
		HTTP:  HTTPConfig{Host: "127.0.0.1", Port: 8080},
		Redis: RedisConfig{TTLSecs: 60},
	}
}

// Load reads YAML from path (defaults apply when path is empty), overlays
// credentials from the environment and validates the result. A .env file in
// the working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Exchange.APIKey = os.Getenv("OKX_API_KEY")
	cfg.Exchange.APISecret = os.Getenv("OKX_API_SECRET")
	cfg.Exchange.Passphrase = os.Getenv("OKX_PASSPHRASE")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Exchange.WSURL == "" {
		return fmt.Errorf("exchange.ws_url is required")
	}
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("exchange.symbols must list at least one symbol")
	}
	switch c.Exchange.ResyncPolicy {
	case ResyncKeep, ResyncReset, ResyncSnapshot:
	default:
		return fmt.Errorf("exchange.resync_policy %q: want %s, %s or %s",
			c.Exchange.ResyncPolicy, ResyncKeep, ResyncReset, ResyncSnapshot)
	}
	if c.Exchange.ResyncPolicy == ResyncSnapshot && c.Exchange.RESTURL == "" {
		return fmt.Errorf("exchange.rest_url is required for the snapshot resync policy")
	}
	if c.Book.MaxDepth <= 0 {
		return fmt.Errorf("book.max_depth must be positive")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	return nil
}

// PingInterval returns the keep-alive cadence.
func (c *ExchangeConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSecs) * time.Second
}

// ReconnectDelay returns the fixed wait between reconnect attempts.
func (c *ExchangeConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySecs) * time.Second
}

// TTL returns the summary cache expiry.
func (c *RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}
