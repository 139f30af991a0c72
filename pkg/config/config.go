// Package config provides a viper-based loader for node configuration
// files and environment overrides: a versioned config struct populated
// from default.yaml, an optional named-environment overlay, and automatic
// environment-variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified node configuration, mirroring the YAML files
// under cmd/config.
type Config struct {
	Node struct {
		Address    string `mapstructure:"address" json:"address"`
		PrivateKey string `mapstructure:"private_key_path" json:"private_key_path"`
		DBPath     string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"node" json:"node"`

	Consensus struct {
		BlockIntervalMS     int  `mapstructure:"block_interval_ms" json:"block_interval_ms"`
		RoundIntervalMS     int  `mapstructure:"round_interval_ms" json:"round_interval_ms"`
		MaxBlockTxs         int  `mapstructure:"max_block_txs" json:"max_block_txs"`
		Heartbeat           bool `mapstructure:"heartbeat" json:"heartbeat"`
		FinalizerDeadlineMS int  `mapstructure:"finalizer_deadline_ms" json:"finalizer_deadline_ms"`
	} `mapstructure:"consensus" json:"consensus"`

	Pool struct {
		AssetWhitelist     []string `mapstructure:"asset_whitelist" json:"asset_whitelist"`
		MaxMempoolPerShard int      `mapstructure:"max_mempool_per_shard" json:"max_mempool_per_shard"`
		TxReplayWindow     int      `mapstructure:"tx_replay_window" json:"tx_replay_window"`
	} `mapstructure:"pool" json:"pool"`

	Time struct {
		MaxPeerOffsetUS int `mapstructure:"max_peer_offset_us" json:"max_peer_offset_us"`
		PingIntervalS   int `mapstructure:"ping_interval_s" json:"ping_interval_s"`
	} `mapstructure:"time" json:"time"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Addr    string `mapstructure:"addr" json:"addr"`
	} `mapstructure:"metrics" json:"metrics"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads cmd/config/default.yaml and merges an optional named
// environment overlay (e.g. cmd/config/production.yaml) on top, then
// applies environment variable overrides.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: load default: %w", err)
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: merge %s: %w", env, err)
		}
	}

	viper.SetEnvPrefix("findag")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the FINDAG_ENV environment
// variable to select the overlay file, defaulting to no overlay.
func LoadFromEnv() (*Config, error) {
	env := os.Getenv("FINDAG_ENV")
	return Load(env)
}

func (c Config) withDefaults() Config {
	if c.Consensus.BlockIntervalMS <= 0 {
		c.Consensus.BlockIntervalMS = 50
	}
	if c.Consensus.RoundIntervalMS <= 0 {
		c.Consensus.RoundIntervalMS = 250
	}
	if c.Consensus.MaxBlockTxs <= 0 {
		c.Consensus.MaxBlockTxs = 5000
	}
	if c.Time.MaxPeerOffsetUS <= 0 {
		c.Time.MaxPeerOffsetUS = 5000
	}
	if c.Time.PingIntervalS <= 0 {
		c.Time.PingIntervalS = 4
	}
	return c
}

// WithDefaults applies the documented defaults to any zero-valued
// field.
func WithDefaults(c Config) Config { return c.withDefaults() }
