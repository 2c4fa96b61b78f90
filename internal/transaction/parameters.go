package transaction

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"zkutxo/internal/account"
	"zkutxo/internal/hashing"
	"zkutxo/internal/merkle"
	"zkutxo/internal/utxo"
	"zkutxo/internal/zkerr"
)

const (
	// NAssetPubkeys is the number of asset slots a transaction commits to.
	NAssetPubkeys = 3
	// EncryptedUtxoSlot is the space reserved per output in EncryptedUtxos.
	EncryptedUtxoSlot = 128
)

// Relayer submits the transaction and is paid Fee lamports out of the pool.
type Relayer struct {
	Pubkey utxo.Pubkey
	Fee    uint64
}

// Arity is the number of inputs and outputs a circuit takes.
type Arity struct {
	Inputs  int
	Outputs int
}

var (
	Arity2x2  = Arity{Inputs: 2, Outputs: 2}
	Arity10x2 = Arity{Inputs: 10, Outputs: 2}
)

// ParametersInput is everything needed to assemble one transaction.
type ParametersInput struct {
	InputUtxos  []*utxo.Utxo
	OutputUtxos []*utxo.OutUtxo
	Action      Action
	Relayer     *Relayer

	RecipientSol utxo.Pubkey
	RecipientSpl utxo.Pubkey
	SenderSol    utxo.Pubkey
	SenderSpl    utxo.Pubkey

	Message        []byte
	EncryptedUtxos []byte // encrypted here when empty and Codec is set
	PoolKey        utxo.Pubkey
	Arity          Arity

	Account          *account.Account
	AssetLookupTable *utxo.AssetLookupTable
	MerkleTree       merkle.Tree
	Codec            *utxo.Codec
	PrefixIndex      uint64 // first AES prefix index for the account's own outputs
}

// Parameters are validated transaction inputs, padded to the circuit arity.
type Parameters struct {
	Action      Action
	InputUtxos  []*utxo.Utxo
	OutputUtxos []*utxo.OutUtxo
	Relayer     Relayer

	RecipientSol utxo.Pubkey
	RecipientSpl utxo.Pubkey
	SenderSol    utxo.Pubkey
	SenderSpl    utxo.Pubkey

	Message        []byte
	EncryptedUtxos []byte
	PoolKey        utxo.Pubkey
	Arity          Arity
	Account        *account.Account

	AssetPubkeys        []utxo.Pubkey // native first, unpadded
	AssetPubkeysCircuit []*big.Int    // NAssetPubkeys entries, zero padded

	PublicAmountSpl *big.Int
	PublicAmountSol *big.Int
	TxIntegrityHash *big.Int
	TransactionHash *big.Int
	Root            *big.Int

	// PrefixIndicesUsed counts the AES prefix indices consumed while
	// encrypting the account's own outputs.
	PrefixIndicesUsed uint64

	hasher     hashing.Hasher
	treeHeight int
}

// NewParameters validates in and derives the public values of the
// transaction.
func NewParameters(h hashing.Hasher, in ParametersInput) (*Parameters, error) {
	const op = "NewParameters"
	if in.Action == ActionUndefined {
		return nil, zkerr.New(zkerr.CodeActionUndefined, op, "action is undefined")
	}
	if in.Account == nil {
		return nil, zkerr.New(zkerr.CodeAccountUndefined, op, "account is undefined")
	}
	if in.PoolKey.IsZero() {
		return nil, zkerr.New(zkerr.CodePoolKeyUndefined, op, "pool key is undefined")
	}
	arity := in.Arity
	if arity.Inputs <= 0 || arity.Outputs <= 0 {
		arity = Arity2x2
	}
	if len(in.InputUtxos) > arity.Inputs {
		return nil, zkerr.New(zkerr.CodeInvalidNumberOfInputs, op, "%d inputs, at most %d", len(in.InputUtxos), arity.Inputs)
	}
	if len(in.OutputUtxos) > arity.Outputs {
		return nil, zkerr.New(zkerr.CodeInvalidNumberOfOutputs, op, "%d outputs, at most %d", len(in.OutputUtxos), arity.Outputs)
	}

	height := merkle.DefaultHeight
	if in.MerkleTree != nil {
		height = in.MerkleTree.Height()
	}
	p := &Parameters{
		Action:       in.Action,
		RecipientSol: in.RecipientSol,
		RecipientSpl: in.RecipientSpl,
		SenderSol:    in.SenderSol,
		SenderSpl:    in.SenderSpl,
		Message:      in.Message,
		PoolKey:      in.PoolKey,
		Arity:        arity,
		Account:      in.Account,
		Root:         new(big.Int),
		hasher:       h,
		treeHeight:   height,
	}
	if in.Relayer != nil {
		p.Relayer = *in.Relayer
	}
	if in.MerkleTree != nil {
		p.Root = in.MerkleTree.Root()
	}

	var err error
	if p.InputUtxos, err = padInputs(h, in, height); err != nil {
		return nil, err
	}
	if p.OutputUtxos, err = padOutputs(h, in); err != nil {
		return nil, err
	}

	p.AssetPubkeys, p.AssetPubkeysCircuit, err = GetAssetPubkeys(p.InputUtxos, p.OutputUtxos)
	if err != nil {
		return nil, err
	}
	if in.AssetLookupTable != nil {
		for _, a := range p.AssetPubkeys {
			if _, ok := in.AssetLookupTable.IndexOf(a); !ok {
				return nil, zkerr.New(zkerr.CodeAssetNotFound, op, "asset %s is not in the lookup table", a)
			}
		}
	}

	diffSol, diffSpl, err := p.publicDiffs()
	if err != nil {
		return nil, err
	}
	p.PublicAmountSol = toField(diffSol)
	p.PublicAmountSpl = toField(diffSpl)
	if err := p.checkAction(in.Relayer, diffSol, diffSpl); err != nil {
		return nil, err
	}

	if err := p.setEncryptedUtxos(in); err != nil {
		return nil, err
	}
	p.TxIntegrityHash = p.integrityHash()
	if p.TransactionHash, err = p.transactionHash(); err != nil {
		return nil, err
	}
	return p, nil
}

func padInputs(h hashing.Hasher, in ParametersInput, height int) ([]*utxo.Utxo, error) {
	inputs := make([]*utxo.Utxo, 0, in.Arity.Inputs)
	for _, u := range in.InputUtxos {
		if len(u.MerkleProof) == 0 && in.MerkleTree != nil && !u.IsFilling {
			path, err := in.MerkleTree.Path(u.MerkleTreeLeafIndex)
			if err != nil {
				return nil, err
			}
			cp := *u
			cp.MerkleProof = path
			u = &cp
		}
		inputs = append(inputs, u)
	}
	arity := in.Arity
	if arity.Inputs <= 0 {
		arity = Arity2x2
	}
	for len(inputs) < arity.Inputs {
		f, err := utxo.NewFillingUtxo(h, in.Account, height)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, f)
	}
	return inputs, nil
}

func padOutputs(h hashing.Hasher, in ParametersInput) ([]*utxo.OutUtxo, error) {
	outputs := append([]*utxo.OutUtxo(nil), in.OutputUtxos...)
	arity := in.Arity
	if arity.Outputs <= 0 {
		arity = Arity2x2
	}
	for len(outputs) < arity.Outputs {
		f, err := utxo.NewFillingOutUtxo(h, in.Account.Owner())
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, f)
	}
	return outputs, nil
}

// GetAssetPubkeys lists the distinct assets of a transaction, native first,
// and their circuit form padded with zeros to NAssetPubkeys.
func GetAssetPubkeys(in []*utxo.Utxo, out []*utxo.OutUtxo) ([]utxo.Pubkey, []*big.Int, error) {
	assets := assetUniverse(in, utxo.Pubkey{})
	for _, u := range out {
		if t := u.TokenAsset(); !containsAsset(assets, t) {
			assets = append(assets, t)
		}
	}
	if len(assets) > NAssetPubkeys {
		return nil, nil, zkerr.New(zkerr.CodeExceededMaxAssets, "GetAssetPubkeys", "%d assets, at most %d", len(assets), NAssetPubkeys)
	}
	circuit := make([]*big.Int, NAssetPubkeys)
	for i := range circuit {
		if i < len(assets) {
			circuit[i] = assets[i].Circuit()
		} else {
			circuit[i] = new(big.Int)
		}
	}
	return assets, circuit, nil
}

// publicDiffs returns the signed Σout − Σin of the native asset and of the
// token in slot 1. Tokens in later slots must balance.
func (p *Parameters) publicDiffs() (*big.Int, *big.Int, error) {
	const op = "NewParameters"
	ins, outs := inOuts(p.InputUtxos), p.OutputUtxos
	diff := func(a utxo.Pubkey) *big.Int {
		return new(big.Int).Sub(sumAmounts(a, outs), sumAmounts(a, ins))
	}

	diffSol := diff(utxo.NativeAsset)
	diffSpl := new(big.Int)
	if len(p.AssetPubkeys) > 1 {
		diffSpl = diff(p.AssetPubkeys[1])
	}
	for _, a := range p.AssetPubkeys[min(2, len(p.AssetPubkeys)):] {
		if d := diff(a); d.Sign() != 0 {
			return nil, nil, zkerr.New(zkerr.CodeRecipientsSumAmountMismatch, op, "asset %s is unbalanced by %s", a, d)
		}
	}

	limit := new(big.Int).Lsh(big.NewInt(1), 64)
	for _, d := range []*big.Int{diffSol, diffSpl} {
		if new(big.Int).Abs(d).Cmp(limit) >= 0 {
			return nil, nil, zkerr.New(zkerr.CodePublicAmountTooLarge, op, "public amount %s does not fit 64 bits", d)
		}
	}
	return diffSol, diffSpl, nil
}

func (p *Parameters) checkAction(relayer *Relayer, diffSol, diffSpl *big.Int) error {
	const op = "NewParameters"
	fail := func(code zkerr.Code, format string, args ...any) error {
		return zkerr.New(code, op, format, args...)
	}
	fee := u64(p.Relayer.Fee)

	switch p.Action {
	case ActionShield:
		if p.Relayer.Fee != 0 {
			return fail(zkerr.CodeRelayerFeeDefined, "shield pays no relayer")
		}
		if diffSol.Sign() < 0 || diffSpl.Sign() < 0 {
			return fail(zkerr.CodeInvalidPublicAmount, "shield with outflow sol %s spl %s", diffSol, diffSpl)
		}
		if !p.RecipientSol.IsZero() {
			return fail(zkerr.CodeSolRecipientDefined, "shield has no sol recipient")
		}
		if !p.RecipientSpl.IsZero() {
			return fail(zkerr.CodeSplRecipientDefined, "shield has no spl recipient")
		}
		if diffSol.Sign() > 0 && p.SenderSol.IsZero() {
			return fail(zkerr.CodeSolSenderUndefined, "shielding %s sol without sender", diffSol)
		}
		if diffSpl.Sign() > 0 && p.SenderSpl.IsZero() {
			return fail(zkerr.CodeSplSenderUndefined, "shielding %s spl without sender", diffSpl)
		}

	case ActionUnshield:
		if relayer == nil {
			return fail(zkerr.CodeRelayerUndefined, "unshield needs a relayer")
		}
		if diffSol.Sign() > 0 || diffSpl.Sign() > 0 {
			return fail(zkerr.CodeInvalidPublicAmount, "unshield with inflow sol %s spl %s", diffSol, diffSpl)
		}
		out := new(big.Int).Neg(diffSol)
		if out.Cmp(fee) < 0 {
			return fail(zkerr.CodeInvalidPublicAmount, "outflow %s does not cover the relayer fee %s", out, fee)
		}
		if diffSol.Sign() != 0 && p.RecipientSol.IsZero() {
			return fail(zkerr.CodeSolRecipientUndefined, "unshielding %s sol without recipient", out)
		}
		if diffSpl.Sign() < 0 && p.RecipientSpl.IsZero() {
			return fail(zkerr.CodeSplRecipientUndefined, "unshielding spl without recipient")
		}
		if !p.SenderSol.IsZero() {
			return fail(zkerr.CodeSolSenderDefined, "unshield has no sol sender")
		}
		if !p.SenderSpl.IsZero() {
			return fail(zkerr.CodeSplSenderDefined, "unshield has no spl sender")
		}

	case ActionTransfer:
		if relayer == nil {
			return fail(zkerr.CodeRelayerUndefined, "transfer needs a relayer")
		}
		if diffSpl.Sign() != 0 {
			return fail(zkerr.CodeInvalidPublicAmount, "transfer moves %s spl publicly", diffSpl)
		}
		if new(big.Int).Neg(diffSol).Cmp(fee) != 0 {
			return fail(zkerr.CodeInvalidPublicAmount, "transfer outflow %s is not the relayer fee %s", new(big.Int).Neg(diffSol), fee)
		}
		switch {
		case !p.RecipientSol.IsZero():
			return fail(zkerr.CodeSolRecipientDefined, "transfer has no sol recipient")
		case !p.RecipientSpl.IsZero():
			return fail(zkerr.CodeSplRecipientDefined, "transfer has no spl recipient")
		case !p.SenderSol.IsZero():
			return fail(zkerr.CodeSolSenderDefined, "transfer has no sol sender")
		case !p.SenderSpl.IsZero():
			return fail(zkerr.CodeSplSenderDefined, "transfer has no spl sender")
		}

	default:
		return fail(zkerr.CodeActionUndefined, "unknown action %d", p.Action)
	}
	return nil
}

func (p *Parameters) setEncryptedUtxos(in ParametersInput) error {
	size := EncryptedUtxoSlot * p.Arity.Outputs
	data := in.EncryptedUtxos
	if len(data) == 0 && in.Codec != nil {
		next := in.PrefixIndex
		for _, out := range p.OutputUtxos {
			ct, err := in.Codec.Encrypt(out, utxo.EncryptParams{
				Account:     p.Account,
				PoolKey:     p.PoolKey,
				PrefixIndex: next,
				Compressed:  true,
			})
			if err != nil {
				return err
			}
			if out.EncryptionPublicKey == nil && !out.IsFilling {
				next++
			}
			data = append(data, ct...)
		}
		p.PrefixIndicesUsed = next - in.PrefixIndex
	}
	if len(data) > size {
		return zkerr.New(zkerr.CodeEncryptedUtxosTooLarge, "NewParameters", "%d bytes of encrypted utxos, at most %d", len(data), size)
	}
	p.EncryptedUtxos = make([]byte, size)
	copy(p.EncryptedUtxos, data)
	return nil
}

// integrityHash binds the public, non-circuit data of the transaction.
func (p *Parameters) integrityHash() *big.Int {
	var messageHash [32]byte
	if len(p.Message) > 0 {
		messageHash = sha256.Sum256(p.Message)
	}
	hsh := sha256.New()
	hsh.Write(messageHash[:])
	hsh.Write(p.RecipientSpl[:])
	hsh.Write(p.RecipientSol[:])
	hsh.Write(p.Relayer.Pubkey[:])
	hsh.Write(binary.LittleEndian.AppendUint64(nil, p.Relayer.Fee))
	hsh.Write(p.EncryptedUtxos)
	return hashing.Mod(new(big.Int).SetBytes(hsh.Sum(nil)))
}

func (p *Parameters) transactionHash() (*big.Int, error) {
	inCms := make([]*big.Int, len(p.InputUtxos))
	for i, u := range p.InputUtxos {
		inCms[i] = u.Commitment
	}
	outCms := make([]*big.Int, len(p.OutputUtxos))
	for i, u := range p.OutputUtxos {
		outCms[i] = u.Commitment
	}
	inHash, err := p.hasher.Hash(inCms...)
	if err != nil {
		return nil, err
	}
	outHash, err := p.hasher.Hash(outCms...)
	if err != nil {
		return nil, err
	}
	return p.hasher.Hash(inHash, outHash, p.TxIntegrityHash)
}

// WithdrawnSol is the native amount paid to RecipientSol on an unshield.
func (p *Parameters) WithdrawnSol() *big.Int {
	if p.PublicAmountSol.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Sub(hashing.FieldSize, p.PublicAmountSol)
	return out.Sub(out, u64(p.Relayer.Fee))
}

// toField maps a signed amount to (d + FIELD) mod FIELD.
func toField(d *big.Int) *big.Int {
	return hashing.Mod(new(big.Int).Add(d, hashing.FieldSize))
}
