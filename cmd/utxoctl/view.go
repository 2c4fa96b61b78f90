package main

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/urfave/cli/v2"

	"zkutxo/internal/account"
	"zkutxo/internal/balance"
	"zkutxo/internal/utxo"
)

var commandViewKey = &cli.Command{
	Name:  "viewkey",
	Usage: "export the viewing key of the account for --pool",
	Description: `
The viewing key decrypts the outputs the account keeps for itself in one
pool. It cannot spend them and cannot tell which of them are spent.`,
	Flags: []cli.Flag{jsonFlag},
	Action: func(c *cli.Context) error {
		e := envFrom(c)
		acct, err := loadAccount(c)
		if err != nil {
			return err
		}
		vk, err := acct.ViewingKey(e.pool)
		if err != nil {
			return err
		}
		e.log.Audit("viewkey", map[string]any{"owner": acct.Owner().String(), "pool": e.pool.String()})
		if c.Bool(jsonFlag.Name) {
			return json.NewEncoder(c.App.Writer).Encode(map[string]string{"pool": e.pool.String(), "viewingKey": vk.String()})
		}
		fmt.Fprintln(c.App.Writer, vk.String())
		return nil
	},
}

type outputViewed struct {
	Leaf   uint64 `json:"leaf"`
	Prefix uint64 `json:"prefix"`
	Asset  string `json:"asset"`
	Native string `json:"native"`
	Amount string `json:"amount"`
}

type outputView struct {
	Pool   string            `json:"pool"`
	Native string            `json:"native"`
	Tokens map[string]string `json:"tokens,omitempty"`
	Utxos  []outputViewed    `json:"utxos"`
}

var keyFlag = &cli.StringFlag{
	Name:     "key",
	Usage:    "hex viewing key exported with viewkey",
	Required: true,
}

var commandView = &cli.Command{
	Name:  "view",
	Usage: "list the outputs readable with a viewing key",
	Description: `
Scans the pool named in the viewing key without any seed. Spent outputs are
listed too, so the totals are what the owner received, not what is left.`,
	Flags: []cli.Flag{keyFlag, jsonFlag},
	Action: func(c *cli.Context) error {
		e := envFrom(c)
		ctx := c.Context
		vk, err := account.ParseViewingKey(c.String(keyFlag.Name))
		if err != nil {
			return err
		}
		be, err := openBackend(ctx, e)
		if err != nil {
			return err
		}
		defer be.Close()

		viewed, err := balance.View(ctx, be.client, e.codec, vk, true, e.cfg.Sync.PrefixWindow)
		if err != nil {
			return err
		}

		out := outputView{Pool: utxo.Pubkey(vk.Pool).String(), Tokens: map[string]string{}, Utxos: []outputViewed{}}
		native := new(big.Int)
		tokens := map[utxo.Pubkey]*big.Int{}
		for _, v := range viewed {
			u := v.Utxo
			if u.Amounts[0] == 0 && u.Amounts[1] == 0 {
				continue
			}
			native.Add(native, new(big.Int).SetUint64(u.Amounts[0]))
			asset := "native"
			if mint := u.TokenAsset(); mint != utxo.NativeAsset {
				asset = mint.String()
				if tokens[mint] == nil {
					tokens[mint] = new(big.Int)
				}
				tokens[mint].Add(tokens[mint], new(big.Int).SetUint64(u.Amounts[1]))
			}
			out.Utxos = append(out.Utxos, outputViewed{
				Leaf:   v.LeafIndex,
				Prefix: v.PrefixIndex,
				Asset:  asset,
				Native: fmt.Sprint(u.Amounts[0]),
				Amount: fmt.Sprint(u.Amounts[1]),
			})
		}
		out.Native = native.String()
		for mint, total := range tokens {
			out.Tokens[mint.String()] = total.String()
		}

		if c.Bool(jsonFlag.Name) {
			return json.NewEncoder(c.App.Writer).Encode(out)
		}
		fmt.Fprintf(c.App.Writer, "pool %s: %d outputs, native received %s\n", out.Pool, len(out.Utxos), out.Native)
		for mint, total := range out.Tokens {
			fmt.Fprintf(c.App.Writer, "%-44s received %s\n", mint, total)
		}
		for _, u := range out.Utxos {
			fmt.Fprintf(c.App.Writer, "leaf %-6d prefix %-4d %-44s native=%s amount=%s\n", u.Leaf, u.Prefix, u.Asset, u.Native, u.Amount)
		}
		return nil
	},
}
