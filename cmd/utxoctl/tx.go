// tx.go - Building, proving and settling transactions.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/urfave/cli/v2"

	"zkutxo/internal/account"
	"zkutxo/internal/merkle"
	"zkutxo/internal/prover"
	"zkutxo/internal/transaction"
	"zkutxo/internal/utxo"
)

// defaultRelayer receives the relayer fee when --relayer is not given.
var defaultRelayer = utxo.Pubkey{31: 2}

var (
	actionFlag = &cli.StringFlag{
		Name:  "action",
		Usage: "unshield or transfer",
		Value: "transfer",
	}
	toFlag = &cli.StringFlag{
		Name:  "to",
		Usage: "recipient account public key (transfer)",
	}
	publicFlag = &cli.StringFlag{
		Name:  "public",
		Usage: "base58 public account funds leave from (shield) or go to (unshield); defaults to the owner bytes",
	}
	relayerFlag = &cli.StringFlag{
		Name:  "relayer",
		Usage: "base58 relayer account paid the relayer fee",
		Value: defaultRelayer.String(),
	}
	circuitFlag = &cli.StringFlag{
		Name:  "circuit",
		Usage: "prove with the circuit keys <id>.{ccs,pk,vk} under paths.key_dir",
	}
	proofOutFlag = &cli.StringFlag{
		Name:  "proof-out",
		Usage: "write the proof to this file, and its public witness to <file>.pub",
		Value: "proof.bin",
	}
	inputsOutFlag = &cli.StringFlag{
		Name:  "inputs-out",
		Usage: "write the circuit inputs as JSON to this file",
	}
	messageFlag = &cli.StringFlag{
		Name:  "message",
		Usage: "message bound to the transaction integrity hash",
	}
)

var txFlags = []cli.Flag{solFlag, splFlag, mintFlag, publicFlag, circuitFlag, proofOutFlag, inputsOutFlag, messageFlag, jsonFlag}

var commandShield = &cli.Command{
	Name:  "shield",
	Usage: "deposit public funds into the pool",
	Flags: txFlags,
	Action: func(c *cli.Context) error {
		return runTx(c, transaction.ActionShield)
	},
}

var commandSend = &cli.Command{
	Name:  "send",
	Usage: "transfer inside the pool or unshield to a public account",
	Description: `
A transfer pays --sol and --spl of --mint to the account given by --to. An
unshield withdraws them to --public. Both pay fees.relayer_fee to --relayer.`,
	Flags: append([]cli.Flag{actionFlag, toFlag, relayerFlag}, txFlags...),
	Action: func(c *cli.Context) error {
		action, err := transaction.ParseAction(c.String(actionFlag.Name))
		if err != nil {
			return err
		}
		if action == transaction.ActionShield {
			return fmt.Errorf("use the shield command to deposit")
		}
		return runTx(c, action)
	},
}

var commandSelect = &cli.Command{
	Name:  "select",
	Usage: "show which UTXOs a transaction would spend",
	Flags: []cli.Flag{actionFlag, toFlag, solFlag, splFlag, mintFlag, jsonFlag},
	Action: func(c *cli.Context) error {
		e := envFrom(c)
		action, err := transaction.ParseAction(c.String(actionFlag.Name))
		if err != nil {
			return err
		}
		w, err := openWallet(c)
		if err != nil {
			return err
		}
		defer w.Close()
		req, err := parseRequest(c, e, w.acct, action)
		if err != nil {
			return err
		}
		selected, err := transaction.SelectInUtxos(req.selectParams(e, w))
		if err != nil {
			return err
		}

		if c.Bool(jsonFlag.Name) {
			keys := make([]string, len(selected))
			for i, u := range selected {
				keys[i] = u.Key()
			}
			return json.NewEncoder(c.App.Writer).Encode(keys)
		}
		for _, u := range selected {
			fmt.Fprintf(c.App.Writer, "%s  leaf=%d sol=%d spl=%d mint=%s\n",
				u.Key(), u.MerkleTreeLeafIndex, u.Amounts[0], u.Amounts[1], u.TokenAsset())
		}
		return nil
	},
}

// txRequest is a parsed transaction command line.
type txRequest struct {
	action     transaction.Action
	mint       utxo.Pubkey
	sol, spl   uint64
	fee        uint64
	public     utxo.Pubkey
	relayer    utxo.Pubkey
	recipients []*utxo.OutUtxo
	message    []byte
}

func parseRequest(c *cli.Context, e *env, acct *account.Account, action transaction.Action) (*txRequest, error) {
	req := &txRequest{
		action:  action,
		sol:     c.Uint64(solFlag.Name),
		spl:     c.Uint64(splFlag.Name),
		public:  utxo.Pubkey(acct.OwnerBytes()),
		relayer: defaultRelayer,
		message: []byte(c.String(messageFlag.Name)),
	}
	var err error
	if m := c.String(mintFlag.Name); m != "" {
		if req.mint, err = utxo.ParsePubkey(m); err != nil {
			return nil, fmt.Errorf("invalid --mint: %w", err)
		}
	}
	if s := c.String(publicFlag.Name); s != "" {
		if req.public, err = utxo.ParsePubkey(s); err != nil {
			return nil, fmt.Errorf("invalid --public: %w", err)
		}
	}
	if s := c.String(relayerFlag.Name); s != "" {
		if req.relayer, err = utxo.ParsePubkey(s); err != nil {
			return nil, fmt.Errorf("invalid --relayer: %w", err)
		}
	}
	if action != transaction.ActionShield {
		req.fee = e.cfg.Fees.RelayerFee
	}

	if action == transaction.ActionTransfer {
		to := c.String(toFlag.Name)
		if to == "" {
			return nil, fmt.Errorf("transfer needs --to")
		}
		recipient, err := account.FromPublicKey(to)
		if err != nil {
			return nil, err
		}
		outs, err := transaction.CreateRecipientUtxos(e.hasher, []transaction.Recipient{{
			Account:   recipient,
			Mint:      req.mint,
			SolAmount: req.sol,
			SplAmount: req.spl,
		}})
		if err != nil {
			return nil, err
		}
		// amounts move privately
		req.recipients = outs
		req.mint, req.sol, req.spl = utxo.Pubkey{}, 0, 0
	}
	return req, nil
}

func (r *txRequest) selectParams(e *env, w *wallet) transaction.SelectInUtxosParams {
	return transaction.SelectInUtxosParams{
		Utxos:             w.balance.UnspentUtxos(),
		PublicMint:        r.mint,
		PublicAmountSpl:   r.spl,
		PublicAmountSol:   r.sol,
		RelayerFee:        r.fee,
		Action:            r.action,
		NumberMaxInUtxos:  e.cfg.Circuit.Inputs,
		NumberMaxOutUtxos: e.cfg.Circuit.Outputs,
		Recipients:        r.recipients,
	}
}

// build selects inputs, lays out change and derives the transaction
// parameters.
func (r *txRequest) build(e *env, w *wallet, tree merkle.Tree) (*transaction.Parameters, error) {
	inputs, err := transaction.SelectInUtxos(r.selectParams(e, w))
	if err != nil {
		return nil, err
	}
	outputs, err := transaction.CreateOutUtxos(e.hasher, transaction.CreateOutUtxosParams{
		InUtxos:           inputs,
		OutUtxos:          r.recipients,
		PublicMint:        r.mint,
		PublicAmountSpl:   r.spl,
		PublicAmountSol:   r.sol,
		RelayerFee:        r.fee,
		ChangeUtxoAccount: w.acct,
		Action:            r.action,
		MaxOutUtxos:       e.cfg.Circuit.Outputs,
		AssetLookupTable:  e.assets,
		SeparateSolUtxo:   e.cfg.Fees.SeparateNativeUtxo,
		MinimumReserve:    e.cfg.Fees.MinimumReserve,
		ReserveMultiplier: e.cfg.Fees.ReserveMultiplier,
		Log:               e.log.Component("outputs"),
	})
	if err != nil {
		return nil, err
	}

	in := transaction.ParametersInput{
		InputUtxos:       inputs,
		OutputUtxos:      outputs,
		Action:           r.action,
		Message:          r.message,
		PoolKey:          e.pool,
		Arity:            transaction.Arity{Inputs: e.cfg.Circuit.Inputs, Outputs: e.cfg.Circuit.Outputs},
		Account:          w.acct,
		AssetLookupTable: e.assets,
		MerkleTree:       tree,
		Codec:            e.codec,
		PrefixIndex:      w.balance.PrefixIndex(e.pool),
	}
	switch r.action {
	case transaction.ActionShield:
		in.SenderSol, in.SenderSpl = r.public, r.public
	case transaction.ActionUnshield:
		in.RecipientSol, in.RecipientSpl = r.public, r.public
		in.Relayer = &transaction.Relayer{Pubkey: r.relayer, Fee: r.fee}
	case transaction.ActionTransfer:
		in.Relayer = &transaction.Relayer{Pubkey: r.relayer, Fee: r.fee}
	}
	return transaction.NewParameters(e.hasher, in)
}

type outputTx struct {
	Action          string   `json:"action"`
	TransactionHash string   `json:"transactionHash"`
	FirstLeaf       uint64   `json:"firstLeaf"`
	Spent           []string `json:"spent"`
	Created         []string `json:"created"`
	WithdrawnSol    string   `json:"withdrawnSol,omitempty"`
	Proof           string   `json:"proof,omitempty"`
}

// runTx syncs the wallet, builds the transaction, optionally proves it,
// settles it on the backend and syncs again.
func runTx(c *cli.Context, action transaction.Action) error {
	e := envFrom(c)
	ctx := c.Context
	log := e.log.Component("tx")

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
	if _, err := e.syncer(be.client, tree, w.acct).Sync(ctx, w.balance); err != nil {
		return fmt.Errorf("sync before %s: %w", action, err)
	}

	req, err := parseRequest(c, e, w.acct, action)
	if err != nil {
		return err
	}
	params, err := req.build(e, w, tree)
	if err != nil {
		return err
	}

	result := outputTx{Action: action.String(), TransactionHash: params.TransactionHash.String()}
	if path := c.String(inputsOutFlag.Name); path != "" {
		if err := writeProofInputs(path, params); err != nil {
			return err
		}
	}
	if id := c.String(circuitFlag.Name); id != "" {
		path := c.String(proofOutFlag.Name)
		if err := prove(ctx, e, id, params, path); err != nil {
			return err
		}
		result.Proof = path
	}

	nullifiers := make([]*big.Int, len(params.InputUtxos))
	for i, u := range params.InputUtxos {
		nullifiers[i] = u.Nullifier
		if !u.IsFilling {
			result.Spent = append(result.Spent, u.Key())
		}
	}
	commitments := make([]*big.Int, len(params.OutputUtxos))
	for i, u := range params.OutputUtxos {
		commitments[i] = u.Commitment
		if !u.IsFilling {
			result.Created = append(result.Created, u.Key())
		}
	}
	ciphertexts, err := splitCiphertexts(params.EncryptedUtxos, len(params.OutputUtxos))
	if err != nil {
		return err
	}
	first, err := be.submit(ctx, e, tree, action.String(), params.TransactionHash, params.Relayer.Fee, nullifiers, commitments, ciphertexts)
	if err != nil {
		return fmt.Errorf("failed to settle transaction: %w", err)
	}
	result.FirstLeaf = first
	if action == transaction.ActionUnshield {
		result.WithdrawnSol = params.WithdrawnSol().String()
	}
	log.Info().
		Str("action", action.String()).
		Str("tx", result.TransactionHash).
		Uint64("first_leaf", first).
		Int("spent", len(result.Spent)).
		Int("created", len(result.Created)).
		Msg("transaction settled")
	e.log.Audit("transaction", map[string]any{
		"action":  action.String(),
		"tx_hash": result.TransactionHash,
		"owner":   w.acct.Owner().String(),
	})

	if _, err := tree.Insert(commitments...); err != nil {
		return err
	}
	if _, err := e.syncer(be.client, tree, w.acct).Sync(ctx, w.balance); err != nil {
		return fmt.Errorf("sync after %s: %w", action, err)
	}
	if err := w.save(e); err != nil {
		return err
	}

	if c.Bool(jsonFlag.Name) {
		return json.NewEncoder(c.App.Writer).Encode(result)
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", result.Action, result.TransactionHash)
	for _, k := range result.Spent {
		fmt.Fprintf(c.App.Writer, "  spent   %s\n", k)
	}
	for _, k := range result.Created {
		fmt.Fprintf(c.App.Writer, "  created %s\n", k)
	}
	if result.WithdrawnSol != "" {
		fmt.Fprintf(c.App.Writer, "  withdrawn %s lamports\n", result.WithdrawnSol)
	}
	return nil
}

func writeProofInputs(path string, params *transaction.Parameters) error {
	inputs, err := params.ProofInputs()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(inputs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// prove proves params with the circuit id and writes the proof and its public
// witness next to each other.
func prove(ctx context.Context, e *env, id string, params *transaction.Parameters, path string) error {
	p := prover.NewGroth16Prover(e.log.Component("prover"))
	if err := p.LoadKeys(id, e.cfg.Paths.KeyDir); err != nil {
		return err
	}
	inputs, err := params.ProofInputs()
	if err != nil {
		return err
	}
	proof, err := p.Prove(ctx, id, inputs)
	if err != nil {
		return err
	}
	raw, err := proof.Bytes()
	if err != nil {
		return err
	}
	pub, err := proof.PublicBytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return err
	}
	return os.WriteFile(path+".pub", pub, 0o644)
}

var (
	proofFlag = &cli.StringFlag{
		Name:  "proof",
		Usage: "proof file written by --proof-out",
		Value: "proof.bin",
	}
)

var commandVerify = &cli.Command{
	Name:      "verify",
	Usage:     "verify a proof against a circuit's verifying key",
	ArgsUsage: "<circuit id>",
	Flags:     []cli.Flag{proofFlag},
	Action: func(c *cli.Context) error {
		e := envFrom(c)
		if c.NArg() != 1 {
			return fmt.Errorf("usage: verify <circuit id>")
		}
		id := c.Args().First()
		p := prover.NewGroth16Prover(e.log.Component("prover"))
		if err := p.LoadKeys(id, e.cfg.Paths.KeyDir); err != nil {
			return err
		}
		path := c.String(proofFlag.Name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		pub, err := os.ReadFile(path + ".pub")
		if err != nil {
			return err
		}
		proof, err := prover.ParseProof(raw)
		if err != nil {
			return err
		}
		public, err := prover.ParsePublic(pub)
		if err != nil {
			return err
		}
		if err := p.Verify(&prover.Proof{CircuitID: id, Proof: proof, Public: public}); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "proof is valid")
		return nil
	},
}
