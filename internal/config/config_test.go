package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, uint64(2), c.Fees.ReserveMultiplier)
	assert.Equal(t, 26, c.Merkle.Height)
}

func TestLoadConfigWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "zkutxo.yaml")
	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
	_, err = os.Stat(path)
	require.NoError(t, err)

	// what was written reads back the same
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, c, again)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zkutxo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hasher: mimc
fees:
  relayer_fee: 100
  separate_native_utxo: true
log:
  level: warn
`), 0o600))
	t.Setenv("ZKUTXO_FEES_RELAYER_FEE", "7000")
	t.Setenv("ZKUTXO_SYNC_CONCURRENCY", "3")

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "mimc", c.Hasher)
	assert.True(t, c.Fees.SeparateNativeUtxo)
	assert.Equal(t, uint64(7000), c.Fees.RelayerFee, "env beats file")
	assert.Equal(t, 3, c.Sync.Concurrency)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, uint64(2), c.Fees.ReserveMultiplier, "unset keys keep defaults")
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("ZKUTXO_MERKLE_HEIGHT", "20")
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 20, c.Merkle.Height)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"hasher", func(c *Config) { c.Hasher = "sha3" }},
		{"circuit", func(c *Config) { c.Circuit.Outputs = 0 }},
		{"multiplier", func(c *Config) { c.Fees.ReserveMultiplier = 0 }},
		{"concurrency", func(c *Config) { c.Sync.Concurrency = 0 }},
		{"window", func(c *Config) { c.Sync.PrefixWindow = -1 }},
		{"height", func(c *Config) { c.Merkle.Height = 64 }},
		{"backends", func(c *Config) { c.Database.URL, c.Relayer.URL = "postgres://x", "http://y" }},
		{"level", func(c *Config) { c.Log.Level = "loud" }},
		{"format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			tc.modify(c)
			assert.Error(t, c.Validate())
		})
	}

	t.Setenv("ZKUTXO_LOG_FORMAT", "xml")
	_, err := LoadConfig("")
	assert.Error(t, err)
}
