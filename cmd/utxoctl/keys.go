package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/urfave/cli/v2"

	"zkutxo/internal/account"
	"zkutxo/internal/utxo"
)

type outputAccount struct {
	Account   string `json:"account"`
	Owner     string `json:"owner"`
	PublicKey string `json:"publicKey"`
}

var (
	seedFlag = &cli.StringFlag{
		Name:  "seed",
		Usage: "hex seed to import instead of generating one",
	}
	burnerFlag = &cli.Uint64Flag{
		Name:  "burner",
		Usage: "derive the burner account with this index from the --account seed",
	}
	forceFlag = &cli.BoolFlag{
		Name:  "force",
		Usage: "overwrite an existing seed file",
	}
	solFlag = &cli.Uint64Flag{
		Name:  "sol",
		Usage: "native amount in lamports",
	}
	splFlag = &cli.Uint64Flag{
		Name:  "spl",
		Usage: "token amount",
	}
	mintFlag = &cli.StringFlag{
		Name:  "mint",
		Usage: "base58 token mint",
	}
)

var commandKeygen = &cli.Command{
	Name:  "keygen",
	Usage: "create a spend account",
	Description: `
Generate a random seed, or import one with --seed, and store it hex encoded
under paths.key_dir as <account>.seed. The account's public key is what
senders pass to "send --to".

With --burner N the N-th burner account of the existing --account seed is
stored as <account>.burnerN.seed and can be used as "--account <account>.burnerN".
Burners are unlinkable to their parent without its seed.`,
	Flags: []cli.Flag{seedFlag, burnerFlag, forceFlag, jsonFlag},
	Action: func(c *cli.Context) error {
		e := envFrom(c)
		name := c.String(accountFlag.Name)
		burner := c.IsSet(burnerFlag.Name)
		if burner {
			if c.IsSet(seedFlag.Name) {
				return fmt.Errorf("--seed and --burner are exclusive")
			}
			name = fmt.Sprintf("%s.burner%d", name, c.Uint64(burnerFlag.Name))
		}
		path := seedPath(e, name)
		if _, err := os.Stat(path); err == nil && !c.Bool(forceFlag.Name) {
			return fmt.Errorf("seed file %s already exists", path)
		}

		var seed []byte
		var err error
		if burner {
			parent, err := readSeed(seedPath(e, c.String(accountFlag.Name)))
			if err != nil {
				return err
			}
			derived, err := account.BurnerSeed(parent, c.Uint64(burnerFlag.Name))
			if err != nil {
				return err
			}
			seed = derived[:]
		} else if s := c.String(seedFlag.Name); s != "" {
			seed, err = hex.DecodeString(s)
			if err != nil {
				return fmt.Errorf("invalid --seed: %w", err)
			}
		} else if seed, err = newSeed(); err != nil {
			return err
		}
		acct, err := account.FromSeed(e.hasher, seed)
		if err != nil {
			return err
		}
		if err := writeSeed(path, seed); err != nil {
			return fmt.Errorf("failed to write seed: %w", err)
		}
		e.log.Audit("keygen", map[string]any{"account": name, "owner": acct.Owner().String()})

		out := outputAccount{Account: name, Owner: acct.Owner().String(), PublicKey: acct.PublicKey()}
		if c.Bool(jsonFlag.Name) {
			return json.NewEncoder(c.App.Writer).Encode(out)
		}
		fmt.Fprintf(c.App.Writer, "Account:    %s\nOwner:      %s\nPublic key: %s\n", out.Account, out.Owner, out.PublicKey)
		return nil
	},
}

var (
	ownerFlag = &cli.StringFlag{
		Name:  "owner",
		Usage: "account public key owning the UTXO (defaults to --account)",
	}
	blindingFlag = &cli.StringFlag{
		Name:  "blinding",
		Usage: "decimal blinding factor (random when empty)",
	}
)

var commandCommitment = &cli.Command{
	Name:  "commitment",
	Usage: "compute the commitment of a UTXO",
	Flags: []cli.Flag{ownerFlag, solFlag, splFlag, mintFlag, blindingFlag, jsonFlag},
	Action: func(c *cli.Context) error {
		e := envFrom(c)
		var owner *account.Account
		var err error
		if pk := c.String(ownerFlag.Name); pk != "" {
			owner, err = account.FromPublicKey(pk)
		} else {
			owner, err = loadAccount(c)
		}
		if err != nil {
			return err
		}

		p := utxo.OutUtxoParams{
			Owner:   owner.Owner(),
			Amounts: []uint64{c.Uint64(solFlag.Name)},
		}
		if m := c.String(mintFlag.Name); m != "" {
			mint, err := utxo.ParsePubkey(m)
			if err != nil {
				return fmt.Errorf("invalid --mint: %w", err)
			}
			p.Assets = []utxo.Pubkey{utxo.NativeAsset, mint}
			p.Amounts = append(p.Amounts, c.Uint64(splFlag.Name))
		}
		if b := c.String(blindingFlag.Name); b != "" {
			v, ok := new(big.Int).SetString(b, 10)
			if !ok {
				return fmt.Errorf("invalid --blinding %q", b)
			}
			p.Blinding = v
		}
		u, err := utxo.NewOutUtxo(e.hasher, p)
		if err != nil {
			return err
		}

		if c.Bool(jsonFlag.Name) {
			return json.NewEncoder(c.App.Writer).Encode(map[string]string{
				"commitment": u.Commitment.String(),
				"blinding":   u.Blinding.String(),
			})
		}
		fmt.Fprintf(c.App.Writer, "Commitment: %s\nBlinding:   %s\n", u.Commitment, u.Blinding)
		return nil
	},
}
