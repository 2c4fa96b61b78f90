package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"zkutxo/internal/utxo"
)

var commandSync = &cli.Command{
	Name:  "sync",
	Usage: "scan the pool for outputs of the account and detect spends",
	Flags: []cli.Flag{jsonFlag},
	Action: func(c *cli.Context) error {
		e := envFrom(c)
		ctx := c.Context
		w, err := openWallet(c)
		if err != nil {
			return err
		}
		defer w.Close()
		be, err := openBackend(ctx, e)
		if err != nil {
			return err
		}
		defer be.Close()
		tree, err := be.tree(ctx, e)
		if err != nil {
			return err
		}

		res, err := e.syncer(be.client, tree, w.acct).Sync(ctx, w.balance)
		if err != nil {
			return err
		}
		if err := w.save(e); err != nil {
			return err
		}
		if c.Bool(jsonFlag.Name) {
			return json.NewEncoder(c.App.Writer).Encode(res)
		}
		fmt.Fprintf(c.App.Writer, "scanned %d, added %d, promoted %d, spent %d, pending %d, undecryptable %d\n",
			res.Scanned, res.Added, res.Promoted, res.Spent, res.Pending, res.Undecryptable)
		return nil
	},
}

type outputBalance struct {
	Asset     string `json:"asset"`
	Native    string `json:"native"`
	Amount    string `json:"amount"`
	Unspent   int    `json:"unspent"`
	Committed int    `json:"committed"`
}

var commandBalance = &cli.Command{
	Name:  "balance",
	Usage: "print the last synced balance per asset",
	Flags: []cli.Flag{jsonFlag},
	Action: func(c *cli.Context) error {
		w, err := openWallet(c)
		if err != nil {
			return err
		}
		defer w.Close()

		var out []outputBalance
		for _, tb := range w.balance.TokenBalances() {
			asset := "native"
			if tb.Asset != utxo.NativeAsset {
				asset = tb.Asset.String()
			}
			out = append(out, outputBalance{
				Asset:     asset,
				Native:    tb.TotalNative.String(),
				Amount:    tb.TotalAsset.String(),
				Unspent:   len(tb.Utxos),
				Committed: len(tb.CommittedUtxos),
			})
		}
		if c.Bool(jsonFlag.Name) {
			return json.NewEncoder(c.App.Writer).Encode(out)
		}
		fmt.Fprintf(c.App.Writer, "total native: %s\n", w.balance.TotalNative())
		for _, b := range out {
			fmt.Fprintf(c.App.Writer, "%-44s native=%s amount=%s utxos=%d pending=%d\n",
				b.Asset, b.Native, b.Amount, b.Unspent, b.Committed)
		}
		return nil
	},
}
