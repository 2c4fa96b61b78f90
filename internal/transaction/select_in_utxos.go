package transaction

import (
	"math/big"
	"sort"

	"zkutxo/internal/utxo"
	"zkutxo/internal/zkerr"
)

// DefaultMaxInUtxos is the input arity of the standard circuit.
const DefaultMaxInUtxos = 2

// maxSearchUtxos bounds the exhaustive fallback of SelectInUtxos.
const maxSearchUtxos = 24

// SelectInUtxosParams describe what the selected inputs must cover.
type SelectInUtxosParams struct {
	Utxos []*utxo.Utxo

	PublicMint      utxo.Pubkey
	PublicAmountSpl uint64
	PublicAmountSol uint64
	RelayerFee      uint64
	Action          Action

	NumberMaxInUtxos  int
	NumberMaxOutUtxos int
	Recipients        []*utxo.OutUtxo
}

// SelectInUtxos picks at most NumberMaxInUtxos UTXOs that cover the public
// outflow, the recipients and the relayer fee. A shield selects at most one
// UTXO of the shielded mint to merge into.
func SelectInUtxos(p SelectInUtxosParams) ([]*utxo.Utxo, error) {
	const op = "SelectInUtxos"
	maxIn := p.NumberMaxInUtxos
	if maxIn <= 0 {
		maxIn = DefaultMaxInUtxos
	}
	maxOut := p.NumberMaxOutUtxos
	if maxOut <= 0 {
		maxOut = DefaultMaxOutUtxos
	}

	switch p.Action {
	case ActionShield:
		if p.RelayerFee != 0 {
			return nil, zkerr.New(zkerr.CodeRelayerFeeDefined, op, "shield pays no relayer")
		}
	case ActionUnshield, ActionTransfer:
		if p.RelayerFee == 0 {
			return nil, zkerr.New(zkerr.CodeRelayerFeeUndefined, op, "%s needs a relayer fee", p.Action)
		}
	default:
		return nil, zkerr.New(zkerr.CodeActionUndefined, op, "action is undefined")
	}
	if p.Action != ActionTransfer && p.PublicAmountSol == 0 && p.PublicAmountSpl == 0 {
		return nil, zkerr.New(zkerr.CodeNoPublicAmountsProvided, op, "%s without public amounts", p.Action)
	}
	if p.PublicAmountSpl > 0 && p.PublicMint.IsZero() {
		return nil, zkerr.New(zkerr.CodeNoPublicMintProvided, op, "public spl amount without mint")
	}
	if p.Action != ActionTransfer && !p.PublicMint.IsZero() && p.PublicAmountSpl == 0 {
		return nil, zkerr.New(zkerr.CodePublicSplAmountUndefined, op, "mint %s without public spl amount", p.PublicMint)
	}
	if len(p.Recipients) > maxOut || (p.Action == ActionTransfer && len(p.Recipients) == 0) {
		return nil, zkerr.New(zkerr.CodeInvalidNumberOfRecipients, op, "%d recipients for %s, at most %d", len(p.Recipients), p.Action, maxOut)
	}

	if p.Action == ActionShield {
		return selectTopUp(p.Utxos, p.PublicMint), nil
	}
	if len(p.Utxos) == 0 {
		return nil, zkerr.New(zkerr.CodeNoUtxosProvided, op, "no utxos to spend")
	}

	mint, needSpl, needSol := requirements(p)
	s := selector{maxIn: maxIn, maxTokens: maxOut - len(p.Recipients)}

	var selected []*utxo.Utxo
	if needSpl.Sign() > 0 {
		candidates := filter(p.Utxos, func(u *utxo.Utxo) bool { return u.TokenAsset() == mint })
		sortDesc(candidates, tokenAmount)
		selected = s.cover(nil, candidates, tokenAmount, needSpl)
		if selected == nil {
			return s.searchOrFail(op, p.Utxos, mint, needSpl, needSol)
		}
	}

	if total(selected, nativeAmount).Cmp(needSol) >= 0 {
		return selected, nil
	}
	rest := filter(p.Utxos, func(u *utxo.Utxo) bool { return !contains(selected, u) && s.fits(selected, u) })
	if len(selected) == 0 {
		sortDesc(rest, nativeAmount)
		if selected = s.cover(nil, rest, nativeAmount, needSol); selected == nil {
			return s.searchOrFail(op, p.Utxos, mint, needSpl, needSol)
		}
		return selected, nil
	}
	if found := s.topUpNative(selected, rest, mint, needSpl, needSol); found != nil {
		return found, nil
	}
	return s.searchOrFail(op, p.Utxos, mint, needSpl, needSol)
}

type amountFn func(*utxo.Utxo) uint64

func nativeAmount(u *utxo.Utxo) uint64 { return u.Amounts[0] }
func tokenAmount(u *utxo.Utxo) uint64  { return u.Amounts[1] }

type selector struct {
	maxIn     int
	maxTokens int // distinct tokens the change outputs can carry
}

// cover seeds with the largest candidate, then pairs it with the smallest
// candidate that completes the amount, then falls back to adding candidates
// largest first. Candidates must be sorted descending by amount.
func (s selector) cover(base, candidates []*utxo.Utxo, amount amountFn, need *big.Int) []*utxo.Utxo {
	if len(candidates) == 0 || len(base) >= s.maxIn {
		return nil
	}
	selected := append(append([]*utxo.Utxo(nil), base...), candidates[0])
	sum := total(selected, amount)
	if sum.Cmp(need) >= 0 {
		return selected
	}
	if len(selected) < s.maxIn {
		for i := len(candidates) - 1; i >= 1; i-- {
			c := candidates[i]
			if !s.fits(selected, c) {
				continue
			}
			if new(big.Int).Add(sum, u64(amount(c))).Cmp(need) >= 0 {
				return append(selected, c)
			}
		}
	}
	for _, c := range candidates[1:] {
		if len(selected) >= s.maxIn {
			break
		}
		if !s.fits(selected, c) {
			continue
		}
		selected = append(selected, c)
		if sum.Add(sum, u64(amount(c))).Cmp(need) >= 0 {
			return selected
		}
	}
	return nil
}

// topUpNative completes the native amount of a token selection: it appends
// the smallest sufficient UTXO when there is room, and otherwise swaps it
// for the last selected one as long as the token amount stays covered.
func (s selector) topUpNative(selected, rest []*utxo.Utxo, mint utxo.Pubkey, needSpl, needSol *big.Int) []*utxo.Utxo {
	sort.SliceStable(rest, func(i, j int) bool { return nativeAmount(rest[i]) < nativeAmount(rest[j]) })
	covers := func(set []*utxo.Utxo) bool { return covers(set, mint, needSpl, needSol) }

	if len(selected) < s.maxIn {
		for _, c := range rest {
			if trial := append(append([]*utxo.Utxo(nil), selected...), c); covers(trial) {
				return trial
			}
		}
	}
	if len(selected) >= 2 {
		head := selected[:len(selected)-1]
		for _, c := range rest {
			if !s.fits(head, c) {
				continue
			}
			if trial := append(append([]*utxo.Utxo(nil), head...), c); covers(trial) {
				return trial
			}
		}
	}
	return nil
}

// searchOrFail runs search and reports FailedToFindUtxoCombination when it
// finds nothing.
func (s selector) searchOrFail(op string, utxos []*utxo.Utxo, mint utxo.Pubkey, needSpl, needSol *big.Int) ([]*utxo.Utxo, error) {
	if found := s.search(utxos, mint, needSpl, needSol); found != nil {
		return found, nil
	}
	return nil, failed(op, mint, needSpl, needSol)
}

// search tries every subset of at most maxIn UTXOs, smallest subsets first,
// among the maxSearchUtxos largest UTXOs holding native or the mint.
func (s selector) search(utxos []*utxo.Utxo, mint utxo.Pubkey, needSpl, needSol *big.Int) []*utxo.Utxo {
	candidates := filter(utxos, func(u *utxo.Utxo) bool {
		return nativeAmount(u) > 0 || (u.TokenAsset() == mint && tokenAmount(u) > 0)
	})
	splOf := func(u *utxo.Utxo) uint64 {
		if u.TokenAsset() == mint {
			return tokenAmount(u)
		}
		return 0
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if splOf(a) != splOf(b) {
			return splOf(a) > splOf(b)
		}
		return nativeAmount(a) > nativeAmount(b)
	})
	if len(candidates) > maxSearchUtxos {
		candidates = candidates[:maxSearchUtxos]
	}

	var pick func(start, size int, set []*utxo.Utxo) []*utxo.Utxo
	pick = func(start, size int, set []*utxo.Utxo) []*utxo.Utxo {
		if len(set) == size {
			if covers(set, mint, needSpl, needSol) {
				return append([]*utxo.Utxo(nil), set...)
			}
			return nil
		}
		for i := start; i < len(candidates); i++ {
			if !s.fits(set, candidates[i]) {
				continue
			}
			if found := pick(i+1, size, append(set, candidates[i])); found != nil {
				return found
			}
		}
		return nil
	}
	for size := 1; size <= s.maxIn && size <= len(candidates); size++ {
		if found := pick(0, size, make([]*utxo.Utxo, 0, size)); found != nil {
			return found
		}
	}
	return nil
}

// covers reports whether set holds needSol native and needSpl of mint.
func covers(set []*utxo.Utxo, mint utxo.Pubkey, needSpl, needSol *big.Int) bool {
	spl := total(filter(set, func(u *utxo.Utxo) bool { return u.TokenAsset() == mint }), tokenAmount)
	return total(set, nativeAmount).Cmp(needSol) >= 0 && spl.Cmp(needSpl) >= 0
}

// fits reports whether adding u keeps the distinct token count within what
// the change outputs can hold.
func (s selector) fits(selected []*utxo.Utxo, u *utxo.Utxo) bool {
	tokens := map[utxo.Pubkey]struct{}{}
	if t := u.TokenAsset(); t != utxo.NativeAsset {
		tokens[t] = struct{}{}
	}
	for _, x := range selected {
		if t := x.TokenAsset(); t != utxo.NativeAsset {
			tokens[t] = struct{}{}
		}
	}
	limit := s.maxTokens
	if limit < 1 {
		limit = 1
	}
	return len(tokens) <= limit
}

// selectTopUp returns the largest UTXO of mint, if any, so a shield merges
// into it.
func selectTopUp(utxos []*utxo.Utxo, mint utxo.Pubkey) []*utxo.Utxo {
	amount := tokenAmount
	if mint.IsZero() {
		amount = nativeAmount
	}
	var best *utxo.Utxo
	for _, u := range utxos {
		if u.TokenAsset() != mint {
			continue
		}
		if best == nil || amount(u) > amount(best) {
			best = u
		}
	}
	if best == nil {
		return nil
	}
	return []*utxo.Utxo{best}
}

// requirements returns the token to cover and the spl and native amounts
// the inputs must hold.
func requirements(p SelectInUtxosParams) (utxo.Pubkey, *big.Int, *big.Int) {
	mint := p.PublicMint
	needSpl := u64(p.PublicAmountSpl)
	needSol := new(big.Int).Add(u64(p.PublicAmountSol), u64(p.RelayerFee))
	for _, r := range p.Recipients {
		needSol.Add(needSol, u64(r.Amounts[0]))
		t := r.TokenAsset()
		if t == utxo.NativeAsset {
			continue
		}
		if mint.IsZero() {
			mint = t
		}
		if t == mint {
			needSpl.Add(needSpl, u64(r.Amounts[1]))
		}
	}
	return mint, needSpl, needSol
}

func failed(op string, mint utxo.Pubkey, spl, sol *big.Int) error {
	return zkerr.New(zkerr.CodeFailedToFindUtxoCombination, op,
		"no combination covers %s of %s and %s native", spl, mint, sol)
}

func filter(utxos []*utxo.Utxo, keep func(*utxo.Utxo) bool) []*utxo.Utxo {
	var out []*utxo.Utxo
	for _, u := range utxos {
		if keep(u) {
			out = append(out, u)
		}
	}
	return out
}

func contains(utxos []*utxo.Utxo, u *utxo.Utxo) bool {
	for _, x := range utxos {
		if x == u {
			return true
		}
	}
	return false
}

func sortDesc(utxos []*utxo.Utxo, amount amountFn) {
	sort.SliceStable(utxos, func(i, j int) bool { return amount(utxos[i]) > amount(utxos[j]) })
}

func total(utxos []*utxo.Utxo, amount amountFn) *big.Int {
	sum := new(big.Int)
	for _, u := range utxos {
		sum.Add(sum, u64(amount(u)))
	}
	return sum
}

func u64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
