package transaction

import (
	"math/big"

	"github.com/rs/zerolog"

	"zkutxo/internal/account"
	"zkutxo/internal/hashing"
	"zkutxo/internal/utxo"
	"zkutxo/internal/zkerr"
)

const (
	// DefaultMaxOutUtxos is the output arity of the standard circuits.
	DefaultMaxOutUtxos = 2
	// DefaultReserveMultiplier scales MinimumReserve when a separate native
	// change UTXO is kept.
	DefaultReserveMultiplier = 2
)

// Recipient is a payment to an account known only by its public keys.
type Recipient struct {
	Account   *account.Account
	Mint      utxo.Pubkey // zero for native-only payments
	SolAmount uint64
	SplAmount uint64
}

// CreateOutUtxosParams describe the outputs of one transaction.
type CreateOutUtxosParams struct {
	InUtxos  []*utxo.Utxo
	OutUtxos []*utxo.OutUtxo // explicit recipients

	PublicMint      utxo.Pubkey
	PublicAmountSpl uint64
	PublicAmountSol uint64
	RelayerFee      uint64

	ChangeUtxoAccount *account.Account
	Action            Action
	MaxOutUtxos       int
	AssetLookupTable  *utxo.AssetLookupTable

	SeparateSolUtxo   bool
	MinimumReserve    uint64
	ReserveMultiplier uint64

	Log zerolog.Logger
}

// CreateOutUtxos returns the explicit outputs followed by the change outputs
// that balance the transaction. Per asset, inputs plus public inflow equal
// outputs plus public outflow plus the relayer fee on native.
func CreateOutUtxos(h hashing.Hasher, p CreateOutUtxosParams) ([]*utxo.OutUtxo, error) {
	const op = "CreateOutUtxos"
	maxOut := p.MaxOutUtxos
	if maxOut <= 0 {
		maxOut = DefaultMaxOutUtxos
	}

	switch p.Action {
	case ActionShield, ActionUnshield:
		if p.PublicAmountSol == 0 && p.PublicAmountSpl == 0 && p.RelayerFee == 0 {
			return nil, zkerr.New(zkerr.CodeNoPublicAmountsProvided, op, "%s without public amounts", p.Action)
		}
	case ActionTransfer:
	default:
		return nil, zkerr.New(zkerr.CodeActionUndefined, op, "action is undefined")
	}
	if p.PublicAmountSpl > 0 && p.PublicMint.IsZero() {
		return nil, zkerr.New(zkerr.CodeNoPublicMintProvided, op, "public spl amount %d without mint", p.PublicAmountSpl)
	}
	if len(p.OutUtxos) > maxOut {
		return nil, zkerr.New(zkerr.CodeInvalidNumberOfRecipients, op, "%d recipients, at most %d", len(p.OutUtxos), maxOut)
	}

	assets := assetUniverse(p.InUtxos, p.PublicMint)
	for _, out := range p.OutUtxos {
		token := out.TokenAsset()
		if token == utxo.NativeAsset {
			continue
		}
		if !containsAsset(assets, token) {
			return nil, zkerr.New(zkerr.CodeInvalidRecipientMint, op, "recipient mint %s is not among the transaction assets", token)
		}
		if out.Amounts[1] == 0 {
			return nil, zkerr.New(zkerr.CodeSplAmountUndefined, op, "recipient %s has mint %s but no token amount", out.Key(), token)
		}
	}

	adjust := publicAdjust(p)
	if err := ValidateUtxoAmounts(assets, p.InUtxos, p.OutUtxos, adjust); err != nil {
		return nil, err
	}

	remain := remainders(assets, p.InUtxos, p.OutUtxos, adjust)
	change, err := changeLayout(assets, remain, maxOut-len(p.OutUtxos), p)
	if err != nil {
		return nil, err
	}

	outs := append([]*utxo.OutUtxo(nil), p.OutUtxos...)
	if len(change) == 0 {
		return outs, nil
	}
	if p.ChangeUtxoAccount == nil {
		return nil, zkerr.New(zkerr.CodeAccountUndefined, op, "change account is undefined")
	}
	for _, c := range change {
		if p.AssetLookupTable != nil {
			if _, ok := p.AssetLookupTable.IndexOf(c.asset); !ok {
				return nil, zkerr.New(zkerr.CodeAssetNotFound, op, "change asset %s is not in the lookup table", c.asset)
			}
		}
		params := utxo.OutUtxoParams{
			Owner:   p.ChangeUtxoAccount.Owner(),
			Amounts: []uint64{c.native},
		}
		if c.asset != utxo.NativeAsset {
			params.Amounts = append(params.Amounts, c.token)
			params.Assets = []utxo.Pubkey{utxo.NativeAsset, c.asset}
		}
		out, err := utxo.NewOutUtxo(h, params)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// ValidateUtxoAmounts checks, per asset, that the inputs adjusted by the
// public amounts are non-negative and cover the outputs.
func ValidateUtxoAmounts(assets []utxo.Pubkey, in []*utxo.Utxo, out []*utxo.OutUtxo, adjust map[utxo.Pubkey]*big.Int) error {
	for _, a := range assets {
		sumIn := sumAmounts(a, inOuts(in))
		if adj, ok := adjust[a]; ok {
			sumIn.Add(sumIn, adj)
		}
		sumOut := sumAmounts(a, out)
		if sumIn.Sign() < 0 || sumIn.Cmp(sumOut) < 0 {
			return zkerr.New(zkerr.CodeRecipientsSumAmountMismatch, "ValidateUtxoAmounts",
				"asset %s: inputs %s do not cover outputs %s", a, sumIn, sumOut)
		}
	}
	return nil
}

// CreateRecipientUtxos builds one boxed output per recipient.
func CreateRecipientUtxos(h hashing.Hasher, recipients []Recipient) ([]*utxo.OutUtxo, error) {
	const op = "CreateRecipientUtxos"
	outs := make([]*utxo.OutUtxo, 0, len(recipients))
	for _, r := range recipients {
		if r.Account == nil {
			return nil, zkerr.New(zkerr.CodeAccountUndefined, op, "recipient account is undefined")
		}
		key := r.Account.EncryptionPublicKey()
		params := utxo.OutUtxoParams{
			Owner:               r.Account.Owner(),
			Amounts:             []uint64{r.SolAmount},
			EncryptionPublicKey: &key,
		}
		if !r.Mint.IsZero() {
			if r.SplAmount == 0 {
				return nil, zkerr.New(zkerr.CodeSplAmountUndefined, op, "recipient with mint %s has no spl amount", r.Mint)
			}
			params.Amounts = append(params.Amounts, r.SplAmount)
			params.Assets = []utxo.Pubkey{utxo.NativeAsset, r.Mint}
		}
		out, err := utxo.NewOutUtxo(h, params)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

type changeOutput struct {
	asset  utxo.Pubkey
	native uint64
	token  uint64
}

func changeLayout(assets []utxo.Pubkey, remain map[utxo.Pubkey]*big.Int, room int, p CreateOutUtxosParams) ([]changeOutput, error) {
	const op = "CreateOutUtxos"
	for _, a := range assets {
		if !remain[a].IsUint64() {
			return nil, zkerr.New(zkerr.CodeAmountOverflow, op, "change of %s is %s", a, remain[a])
		}
	}

	var change []changeOutput
	for _, a := range assets[1:] {
		if v := remain[a].Uint64(); v > 0 {
			change = append(change, changeOutput{asset: a, token: v})
		}
	}
	native := remain[utxo.NativeAsset].Uint64()
	if len(change) == 0 {
		if native > 0 {
			change = append(change, changeOutput{asset: utxo.NativeAsset, native: native})
		}
		return checkRoom(change, room)
	}

	mult := p.ReserveMultiplier
	if mult == 0 {
		mult = DefaultReserveMultiplier
	}
	reserve := new(big.Int).Mul(new(big.Int).SetUint64(mult), new(big.Int).SetUint64(p.MinimumReserve))
	separate := p.SeparateSolUtxo && reserve.Sign() > 0 && reserve.IsUint64() && native >= reserve.Uint64()
	if separate && len(change)+1 > room {
		p.Log.Warn().
			Int("room", room).
			Uint64("reserve", reserve.Uint64()).
			Msg("no room for a separate native change utxo, merging")
		separate = false
	}
	if separate {
		r := reserve.Uint64()
		change[0].native = native - r
		change = append(change, changeOutput{asset: utxo.NativeAsset, native: r})
	} else {
		change[0].native = native
	}
	return checkRoom(change, room)
}

func checkRoom(change []changeOutput, room int) ([]changeOutput, error) {
	if len(change) > room {
		return nil, zkerr.New(zkerr.CodeInvalidOutputUtxoLength, "CreateOutUtxos",
			"%d change outputs do not fit in %d free slots", len(change), room)
	}
	return change, nil
}

// assetUniverse lists native, then the input tokens in order of appearance,
// then the public mint.
func assetUniverse(in []*utxo.Utxo, mint utxo.Pubkey) []utxo.Pubkey {
	assets := []utxo.Pubkey{utxo.NativeAsset}
	for _, u := range in {
		if t := u.TokenAsset(); !containsAsset(assets, t) {
			assets = append(assets, t)
		}
	}
	if !mint.IsZero() && !containsAsset(assets, mint) {
		assets = append(assets, mint)
	}
	return assets
}

func containsAsset(assets []utxo.Pubkey, a utxo.Pubkey) bool {
	for _, x := range assets {
		if x == a {
			return true
		}
	}
	return false
}

func publicAdjust(p CreateOutUtxosParams) map[utxo.Pubkey]*big.Int {
	sol := new(big.Int).SetUint64(p.PublicAmountSol)
	spl := new(big.Int).SetUint64(p.PublicAmountSpl)
	if p.Action.withdraws() {
		sol.Add(sol, new(big.Int).SetUint64(p.RelayerFee))
		sol.Neg(sol)
		spl.Neg(spl)
	}
	adjust := map[utxo.Pubkey]*big.Int{utxo.NativeAsset: sol}
	if !p.PublicMint.IsZero() {
		adjust[p.PublicMint] = spl
	}
	return adjust
}

func remainders(assets []utxo.Pubkey, in []*utxo.Utxo, out []*utxo.OutUtxo, adjust map[utxo.Pubkey]*big.Int) map[utxo.Pubkey]*big.Int {
	remain := make(map[utxo.Pubkey]*big.Int, len(assets))
	for _, a := range assets {
		r := sumAmounts(a, inOuts(in))
		if adj, ok := adjust[a]; ok {
			r.Add(r, adj)
		}
		remain[a] = r.Sub(r, sumAmounts(a, out))
	}
	return remain
}

// sumAmounts adds the native slot for the native asset and the token slot
// of every output holding asset otherwise.
func sumAmounts(asset utxo.Pubkey, outs []*utxo.OutUtxo) *big.Int {
	sum := new(big.Int)
	for _, u := range outs {
		switch {
		case asset == utxo.NativeAsset:
			sum.Add(sum, new(big.Int).SetUint64(u.Amounts[0]))
		case u.TokenAsset() == asset:
			sum.Add(sum, new(big.Int).SetUint64(u.Amounts[1]))
		}
	}
	return sum
}

func inOuts(in []*utxo.Utxo) []*utxo.OutUtxo {
	outs := make([]*utxo.OutUtxo, len(in))
	for i, u := range in {
		outs[i] = &u.OutUtxo
	}
	return outs
}
