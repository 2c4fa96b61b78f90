package transaction

import (
	"bytes"
	"math/big"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkutxo/internal/account"
	"zkutxo/internal/hashing"
	"zkutxo/internal/utxo"
	"zkutxo/internal/zkerr"
)

var (
	testMint  = utxo.Pubkey{0: 0xbb, 31: 0x02}
	otherMint = utxo.Pubkey{0: 0xcc, 31: 0x03}
	testPool  = utxo.Pubkey{31: 0x09}
	poseidon  = hashing.PoseidonHasher{}
)

func testAccount(t *testing.T, b byte) *account.Account {
	t.Helper()
	a, err := account.FromSeed(poseidon, bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return a
}

func outParams(acct *account.Account, native, spl uint64, mint utxo.Pubkey) utxo.OutUtxoParams {
	p := utxo.OutUtxoParams{Owner: acct.Owner(), Amounts: []uint64{native}}
	if !mint.IsZero() {
		p.Amounts = append(p.Amounts, spl)
		p.Assets = []utxo.Pubkey{utxo.NativeAsset, mint}
	}
	return p
}

func testOut(t *testing.T, acct *account.Account, native, spl uint64, mint utxo.Pubkey) *utxo.OutUtxo {
	t.Helper()
	out, err := utxo.NewOutUtxo(poseidon, outParams(acct, native, spl, mint))
	require.NoError(t, err)
	return out
}

func testUtxo(t *testing.T, acct *account.Account, native, spl uint64, mint utxo.Pubkey, leaf int64) *utxo.Utxo {
	t.Helper()
	u, err := utxo.NewUtxo(poseidon, testOut(t, acct, native, spl, mint), acct, leaf, nil)
	require.NoError(t, err)
	return u
}

func amounts(outs []*utxo.OutUtxo) [][2]uint64 {
	res := make([][2]uint64, len(outs))
	for i, o := range outs {
		res[i] = o.Amounts
	}
	return res
}

// requireConserved checks Σin + pIn == Σout + pOut (+ fee on native) per asset.
func requireConserved(t *testing.T, p CreateOutUtxosParams, outs []*utxo.OutUtxo) {
	t.Helper()
	for _, a := range assetUniverse(p.InUtxos, p.PublicMint) {
		left := sumAmounts(a, inOuts(p.InUtxos))
		right := sumAmounts(a, outs)
		pub := new(big.Int)
		if a == utxo.NativeAsset {
			pub.SetUint64(p.PublicAmountSol)
		} else if a == p.PublicMint {
			pub.SetUint64(p.PublicAmountSpl)
		}
		if p.Action == ActionShield {
			left.Add(left, pub)
		} else {
			right.Add(right, pub)
			if a == utxo.NativeAsset {
				right.Add(right, new(big.Int).SetUint64(p.RelayerFee))
			}
		}
		require.Equal(t, left.String(), right.String(), "asset %s", a)
	}
}

func TestCreateOutUtxosShield(t *testing.T) {
	acct := testAccount(t, 1)
	p := CreateOutUtxosParams{
		PublicMint:        testMint,
		PublicAmountSpl:   100,
		PublicAmountSol:   50,
		ChangeUtxoAccount: acct,
		Action:            ActionShield,
		AssetLookupTable:  utxo.NewAssetLookupTable(testMint),
	}
	outs, err := CreateOutUtxos(poseidon, p)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, [2]uint64{50, 100}, outs[0].Amounts)
	assert.Equal(t, testMint, outs[0].TokenAsset())
	assert.Equal(t, acct.Owner().String(), outs[0].Owner.String())
	assert.Nil(t, outs[0].EncryptionPublicKey)
	requireConserved(t, p, outs)

	// top-up merges the existing utxo
	p.InUtxos = []*utxo.Utxo{testUtxo(t, acct, 10, 5, testMint, 0)}
	outs, err = CreateOutUtxos(poseidon, p)
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{60, 105}}, amounts(outs))
	requireConserved(t, p, outs)
}

func TestCreateOutUtxosUnshield(t *testing.T) {
	acct := testAccount(t, 1)
	p := CreateOutUtxosParams{
		InUtxos:           []*utxo.Utxo{testUtxo(t, acct, 1_000_000, 6, testMint, 0)},
		PublicMint:        testMint,
		PublicAmountSpl:   3,
		RelayerFee:        5000,
		ChangeUtxoAccount: acct,
		Action:            ActionUnshield,
	}
	outs, err := CreateOutUtxos(poseidon, p)
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{995_000, 3}}, amounts(outs))
	requireConserved(t, p, outs)

	// everything out leaves no change
	p.PublicAmountSpl = 6
	p.PublicAmountSol = 995_000
	outs, err = CreateOutUtxos(poseidon, p)
	require.NoError(t, err)
	assert.Empty(t, outs)

	p.PublicAmountSol = 995_001
	_, err = CreateOutUtxos(poseidon, p)
	require.ErrorIs(t, err, zkerr.ErrRecipientsSumAmountMismatch)
	k, _ := zkerr.KindOf(err)
	assert.Equal(t, zkerr.KindConservation, k)
}

func TestCreateOutUtxosTransfer(t *testing.T) {
	acct := testAccount(t, 1)
	recipient := testAccount(t, 2)
	key := recipient.EncryptionPublicKey()
	rp := outParams(recipient, 1000, 2, testMint)
	rp.EncryptionPublicKey = &key
	to, err := utxo.NewOutUtxo(poseidon, rp)
	require.NoError(t, err)

	p := CreateOutUtxosParams{
		InUtxos:           []*utxo.Utxo{testUtxo(t, acct, 1_000_000, 6, testMint, 0)},
		OutUtxos:          []*utxo.OutUtxo{to},
		RelayerFee:        5000,
		ChangeUtxoAccount: acct,
		Action:            ActionTransfer,
	}
	outs, err := CreateOutUtxos(poseidon, p)
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Same(t, to, outs[0])
	assert.Equal(t, [2]uint64{994_000, 4}, outs[1].Amounts)
	assert.Equal(t, acct.Owner().String(), outs[1].Owner.String())
	requireConserved(t, p, outs)
}

func TestCreateOutUtxosSeparateNative(t *testing.T) {
	acct := testAccount(t, 1)
	p := CreateOutUtxosParams{
		InUtxos:           []*utxo.Utxo{testUtxo(t, acct, 1_000_000, 6, testMint, 0)},
		PublicMint:        testMint,
		PublicAmountSpl:   3,
		RelayerFee:        5000,
		ChangeUtxoAccount: acct,
		Action:            ActionUnshield,
		SeparateSolUtxo:   true,
		MinimumReserve:    1000,
		Log:               zerolog.Nop(),
	}
	outs, err := CreateOutUtxos(poseidon, p)
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{993_000, 3}, {2000, 0}}, amounts(outs))
	assert.Equal(t, utxo.NativeAsset, outs[1].TokenAsset())
	requireConserved(t, p, outs)

	// not enough native for the reserve
	p.ReserveMultiplier = 1000
	outs, err = CreateOutUtxos(poseidon, p)
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{995_000, 3}}, amounts(outs))

	// no room next to a recipient: merged
	p.ReserveMultiplier = 0
	p.Action = ActionTransfer
	p.PublicMint, p.PublicAmountSpl = utxo.Pubkey{}, 0
	p.OutUtxos = []*utxo.OutUtxo{testOut(t, testAccount(t, 2), 10, 0, utxo.Pubkey{})}
	outs, err = CreateOutUtxos(poseidon, p)
	require.NoError(t, err)
	assert.Equal(t, [][2]uint64{{10, 0}, {994_990, 6}}, amounts(outs))
	requireConserved(t, p, outs)
}

func TestCreateOutUtxosConservesAcrossAmounts(t *testing.T) {
	acct := testAccount(t, 1)
	other := testAccount(t, 2)
	rng := rand.New(rand.NewSource(11))
	actions := []Action{ActionShield, ActionUnshield, ActionTransfer}

	for round := 0; round < 90; round++ {
		action := actions[round%len(actions)]
		n := 1 + rng.Intn(2)
		if action == ActionShield {
			n = rng.Intn(2)
		}
		var in []*utxo.Utxo
		var native, spl uint64
		for i := 0; i < n; i++ {
			u := testUtxo(t, acct, uint64(10_000+rng.Intn(1_000_000)), 0, utxo.Pubkey{}, int64(i))
			if rng.Intn(3) > 0 {
				u = testUtxo(t, acct, uint64(10_000+rng.Intn(1_000_000)), uint64(1+rng.Intn(50)), testMint, int64(i))
			}
			in = append(in, u)
			native += u.Amounts[0]
			spl += u.Amounts[1]
		}

		p := CreateOutUtxosParams{
			InUtxos:           in,
			ChangeUtxoAccount: acct,
			Action:            action,
			AssetLookupTable:  utxo.NewAssetLookupTable(testMint),
			SeparateSolUtxo:   rng.Intn(2) == 0,
			MinimumReserve:    100,
			Log:               zerolog.Nop(),
		}
		switch action {
		case ActionShield:
			p.PublicMint = testMint
			p.PublicAmountSpl = uint64(1 + rng.Intn(100))
			p.PublicAmountSol = uint64(rng.Intn(100))
		case ActionUnshield:
			p.RelayerFee = 5000
			p.PublicAmountSol = uint64(rng.Int63n(int64(native - 5000 + 1)))
			if spl > 0 {
				p.PublicMint = testMint
				p.PublicAmountSpl = uint64(1 + rng.Intn(int(spl)))
			}
		case ActionTransfer:
			p.RelayerFee = 5000
			sol := uint64(rng.Int63n(int64(native - 5000 + 1)))
			if spl > 0 && rng.Intn(2) == 0 {
				p.OutUtxos = []*utxo.OutUtxo{testOut(t, other, sol, uint64(1+rng.Intn(int(spl))), testMint)}
			} else {
				p.OutUtxos = []*utxo.OutUtxo{testOut(t, other, sol, 0, utxo.Pubkey{})}
			}
		}

		outs, err := CreateOutUtxos(poseidon, p)
		require.NoError(t, err, "round %d", round)
		assert.LessOrEqual(t, len(outs), DefaultMaxOutUtxos, "round %d", round)
		requireConserved(t, p, outs)
	}
}

func TestCreateOutUtxosErrors(t *testing.T) {
	acct := testAccount(t, 1)
	in := []*utxo.Utxo{testUtxo(t, acct, 1_000_000, 6, testMint, 0)}
	base := func() CreateOutUtxosParams {
		return CreateOutUtxosParams{
			InUtxos:           in,
			RelayerFee:        5000,
			ChangeUtxoAccount: acct,
			Action:            ActionTransfer,
		}
	}

	tests := []struct {
		name   string
		modify func(p *CreateOutUtxosParams)
		want   error
	}{
		{
			name: "shield without amounts",
			modify: func(p *CreateOutUtxosParams) {
				p.Action, p.RelayerFee, p.InUtxos = ActionShield, 0, nil
			},
			want: zkerr.ErrNoPublicAmountsProvided,
		},
		{
			name:   "spl without mint",
			modify: func(p *CreateOutUtxosParams) { p.Action, p.PublicAmountSpl = ActionUnshield, 1 },
			want:   zkerr.ErrNoPublicMintProvided,
		},
		{
			name: "too many recipients",
			modify: func(p *CreateOutUtxosParams) {
				o := testOut(t, acct, 1, 0, utxo.Pubkey{})
				p.OutUtxos = []*utxo.OutUtxo{o, o, o}
			},
			want: zkerr.ErrInvalidNumberOfRecipients,
		},
		{
			name: "recipient mint not in inputs",
			modify: func(p *CreateOutUtxosParams) {
				p.OutUtxos = []*utxo.OutUtxo{testOut(t, acct, 1, 1, otherMint)}
			},
			want: zkerr.ErrInvalidRecipientMint,
		},
		{
			name: "recipient mint without amount",
			modify: func(p *CreateOutUtxosParams) {
				p.OutUtxos = []*utxo.OutUtxo{testOut(t, acct, 1, 0, testMint)}
			},
			want: zkerr.ErrSplAmountUndefined,
		},
		{
			name: "recipients exceed inputs",
			modify: func(p *CreateOutUtxosParams) {
				p.OutUtxos = []*utxo.OutUtxo{testOut(t, acct, 1, 7, testMint)}
			},
			want: zkerr.ErrRecipientsSumAmountMismatch,
		},
		{
			name: "change does not fit",
			modify: func(p *CreateOutUtxosParams) {
				p.InUtxos = append(p.InUtxos, testUtxo(t, acct, 1_000_000, 4, otherMint, 1))
				p.OutUtxos = []*utxo.OutUtxo{testOut(t, acct, 1000, 0, utxo.Pubkey{})}
			},
			want: zkerr.ErrInvalidOutputUtxoLength,
		},
		{
			name:   "no change account",
			modify: func(p *CreateOutUtxosParams) { p.ChangeUtxoAccount = nil },
			want:   zkerr.ErrAccountUndefined,
		},
		{
			name:   "change asset unknown to the table",
			modify: func(p *CreateOutUtxosParams) { p.AssetLookupTable = utxo.NewAssetLookupTable() },
			want:   zkerr.ErrAssetNotFound,
		},
		{
			name:   "no action",
			modify: func(p *CreateOutUtxosParams) { p.Action = ActionUndefined },
			want:   zkerr.ErrActionUndefined,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base()
			tc.modify(&p)
			_, err := CreateOutUtxos(poseidon, p)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateRecipientUtxos(t *testing.T) {
	full := testAccount(t, 3)
	public, err := account.FromPublicKey(full.PublicKey())
	require.NoError(t, err)

	outs, err := CreateRecipientUtxos(poseidon, []Recipient{
		{Account: public, SolAmount: 7},
		{Account: public, Mint: testMint, SolAmount: 1, SplAmount: 9},
	})
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, [][2]uint64{{7, 0}, {1, 9}}, amounts(outs))
	assert.Equal(t, full.Owner().String(), outs[1].Owner.String())
	require.NotNil(t, outs[0].EncryptionPublicKey)
	assert.Equal(t, full.EncryptionPublicKey(), *outs[0].EncryptionPublicKey)

	_, err = CreateRecipientUtxos(poseidon, []Recipient{{Account: public, Mint: testMint, SolAmount: 1}})
	require.ErrorIs(t, err, zkerr.ErrSplAmountUndefined)
	_, err = CreateRecipientUtxos(poseidon, []Recipient{{SolAmount: 1}})
	require.ErrorIs(t, err, zkerr.ErrAccountUndefined)
}
