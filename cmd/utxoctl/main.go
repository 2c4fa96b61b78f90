// main.go - Command line client for the shielded UTXO pool.
//
// utxoctl manages spend accounts, scans the pool for owned outputs, and builds
// shield, transfer and unshield transactions against a ledger backend: the
// JSON ledger file by default, a relayer when relayer.url is set, or a
// Postgres indexer when database.url is set. "utxoctl relay" serves the
// ledger file as a relayer.
//
// Usage:
//   utxoctl keygen
//   utxoctl shield --sol 1000000
//   utxoctl sync && utxoctl balance
//   utxoctl send --action transfer --to <public key> --sol 5000
//   utxoctl view --key $(utxoctl viewkey)

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"zkutxo/internal/config"
	"zkutxo/internal/hashing"
	"zkutxo/internal/logging"
	"zkutxo/internal/utxo"
)

const envKey = "env"

var app *cli.App

// defaultPool is the pool key used when --pool is not given.
var defaultPool = utxo.Pubkey{31: 1}

func init() {
	app = &cli.App{
		Name:     "utxoctl",
		Usage:    "shielded UTXO pool client",
		Flags:    []cli.Flag{configFlag, accountFlag, poolFlag, assetFlag},
		Before:   setup,
		After:    teardown,
		Metadata: map[string]interface{}{},
	}
	app.Commands = []*cli.Command{
		commandKeygen,
		commandCommitment,
		commandShield,
		commandSend,
		commandSelect,
		commandSync,
		commandBalance,
		commandViewKey,
		commandView,
		commandStatus,
		commandRelay,
		commandVerify,
	}
}

// Commonly used command line flags.
var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "config file, created with defaults when missing",
		Value:   "zkutxo.yaml",
	}
	accountFlag = &cli.StringFlag{
		Name:  "account",
		Usage: "name of the seed file under paths.key_dir",
		Value: "default",
	}
	poolFlag = &cli.StringFlag{
		Name:  "pool",
		Usage: "base58 Merkle tree pool key",
		Value: defaultPool.String(),
	}
	assetFlag = &cli.StringSliceFlag{
		Name:  "asset",
		Usage: "base58 token mint known to the asset lookup table (repeatable)",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "output JSON instead of human-readable format",
	}
)

// env is the state shared by all commands.
type env struct {
	cfg    *config.Config
	log    *logging.Logger
	hasher hashing.Hasher
	assets *utxo.AssetLookupTable
	codec  *utxo.Codec
	pool   utxo.Pubkey
}

func setup(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File, cfg.Log.AuditFile)
	if err != nil {
		return err
	}
	log.CaptureGnark()

	h, err := hashing.New(cfg.Hasher)
	if err != nil {
		log.Close()
		return err
	}
	pool, err := utxo.ParsePubkey(c.String(poolFlag.Name))
	if err != nil {
		log.Close()
		return fmt.Errorf("invalid --pool: %w", err)
	}
	var mints []utxo.Pubkey
	for _, s := range c.StringSlice(assetFlag.Name) {
		m, err := utxo.ParsePubkey(s)
		if err != nil {
			log.Close()
			return fmt.Errorf("invalid --asset %q: %w", s, err)
		}
		mints = append(mints, m)
	}
	assets := utxo.NewAssetLookupTable(mints...)

	c.App.Metadata[envKey] = &env{
		cfg:    cfg,
		log:    log,
		hasher: h,
		assets: assets,
		codec:  utxo.NewCodec(h, assets, nil),
		pool:   pool,
	}
	return nil
}

func teardown(c *cli.Context) error {
	if e, ok := c.App.Metadata[envKey].(*env); ok {
		delete(c.App.Metadata, envKey)
		return e.log.Close()
	}
	return nil
}

func envFrom(c *cli.Context) *env {
	return c.App.Metadata[envKey].(*env)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
