// config.go - Configuration for the shielded UTXO client.
//
// Values come from DefaultConfig, then an optional config file (yaml, json or
// toml, picked by extension), then ZKUTXO_* environment variables. Nested keys
// map to variables with dots replaced by underscores, so fees.relayer_fee is
// read from ZKUTXO_FEES_RELAYER_FEE.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"zkutxo/internal/hashing"
)

const EnvPrefix = "ZKUTXO"

var envReplacer = strings.NewReplacer(".", "_", "-", "_")

// Config represents the application configuration
type Config struct {
	Hasher string `mapstructure:"hasher"`

	Circuit struct {
		Inputs  int `mapstructure:"inputs"`
		Outputs int `mapstructure:"outputs"`
	} `mapstructure:"circuit"`

	Fees struct {
		MinimumReserve     uint64 `mapstructure:"minimum_reserve"`
		ReserveMultiplier  uint64 `mapstructure:"reserve_multiplier"`
		RelayerFee         uint64 `mapstructure:"relayer_fee"`
		SeparateNativeUtxo bool   `mapstructure:"separate_native_utxo"`
	} `mapstructure:"fees"`

	Sync struct {
		Concurrency  int `mapstructure:"concurrency"`
		PrefixWindow int `mapstructure:"prefix_window"`
	} `mapstructure:"sync"`

	Merkle struct {
		Height int `mapstructure:"height"`
	} `mapstructure:"merkle"`

	Paths struct {
		Ledger  string `mapstructure:"ledger"`
		DataDir string `mapstructure:"data_dir"`
		KeyDir  string `mapstructure:"key_dir"`
	} `mapstructure:"paths"`

	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	Relayer struct {
		URL    string `mapstructure:"url"`
		Listen string `mapstructure:"listen"`
		MinFee uint64 `mapstructure:"min_fee"`
	} `mapstructure:"relayer"`

	Log struct {
		Level     string `mapstructure:"level"`
		Format    string `mapstructure:"format"`
		File      string `mapstructure:"file"`
		AuditFile string `mapstructure:"audit_file"`
	} `mapstructure:"log"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	c := &Config{Hasher: "poseidon"}
	c.Circuit.Inputs = 2
	c.Circuit.Outputs = 2
	c.Fees.MinimumReserve = 890_880
	c.Fees.ReserveMultiplier = 2
	c.Fees.RelayerFee = 5000
	c.Sync.Concurrency = 8
	c.Sync.PrefixWindow = 64
	c.Merkle.Height = 26
	c.Paths.Ledger = "ledger.json"
	c.Paths.DataDir = "data"
	c.Paths.KeyDir = "keys"
	c.Relayer.Listen = "127.0.0.1:8645"
	c.Relayer.MinFee = 5000
	c.Log.Level = "info"
	c.Log.Format = "console"
	return c
}

// settings flattens c into viper keys.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"hasher":                    c.Hasher,
		"circuit.inputs":            c.Circuit.Inputs,
		"circuit.outputs":           c.Circuit.Outputs,
		"fees.minimum_reserve":      c.Fees.MinimumReserve,
		"fees.reserve_multiplier":   c.Fees.ReserveMultiplier,
		"fees.relayer_fee":          c.Fees.RelayerFee,
		"fees.separate_native_utxo": c.Fees.SeparateNativeUtxo,
		"sync.concurrency":          c.Sync.Concurrency,
		"sync.prefix_window":        c.Sync.PrefixWindow,
		"merkle.height":             c.Merkle.Height,
		"paths.ledger":              c.Paths.Ledger,
		"paths.data_dir":            c.Paths.DataDir,
		"paths.key_dir":             c.Paths.KeyDir,
		"database.url":              c.Database.URL,
		"relayer.url":               c.Relayer.URL,
		"relayer.listen":            c.Relayer.Listen,
		"relayer.min_fee":           c.Relayer.MinFee,
		"log.level":                 c.Log.Level,
		"log.format":                c.Log.Format,
		"log.file":                  c.Log.File,
		"log.audit_file":            c.Log.AuditFile,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	for k, val := range DefaultConfig().settings() {
		v.SetDefault(k, val)
	}
	return v
}

// LoadConfig loads configuration from configPath, writing the defaults there
// first if the file does not exist. An empty path skips the file. The result
// is validated.
func LoadConfig(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			if err := SaveConfig(DefaultConfig(), configPath); err != nil {
				return nil, fmt.Errorf("failed to save default config: %w", err)
			}
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	v := viper.New()
	for k, val := range config.settings() {
		v.Set(k, val)
	}
	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := hashing.New(c.Hasher); err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	if c.Circuit.Inputs <= 0 || c.Circuit.Outputs <= 0 {
		return fmt.Errorf("circuit inputs and outputs must be positive")
	}
	if c.Fees.ReserveMultiplier == 0 {
		return fmt.Errorf("fees.reserve_multiplier must be positive")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be positive")
	}
	if c.Sync.PrefixWindow <= 0 {
		return fmt.Errorf("sync.prefix_window must be positive")
	}
	if c.Merkle.Height <= 0 || c.Merkle.Height > 63 {
		return fmt.Errorf("merkle.height must be in 1..63")
	}
	if c.Database.URL != "" && c.Relayer.URL != "" {
		return fmt.Errorf("database.url and relayer.url are exclusive")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be console or json")
	}
	return nil
}
