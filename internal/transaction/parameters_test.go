package transaction

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkutxo/internal/account"
	"zkutxo/internal/hashing"
	"zkutxo/internal/merkle"
	"zkutxo/internal/utxo"
	"zkutxo/internal/zkerr"
)

const testHeight = 8

var (
	relayerKey = utxo.Pubkey{0: 0x0e}
	userKey    = utxo.Pubkey{0: 0x0f}
)

type paramsFixture struct {
	acct  *account.Account
	tree  *merkle.PoseidonTree
	codec *utxo.Codec
}

func newParamsFixture(t *testing.T) *paramsFixture {
	tree, err := merkle.NewPoseidonTree(poseidon, testHeight)
	require.NoError(t, err)
	return &paramsFixture{
		acct:  testAccount(t, 1),
		tree:  tree,
		codec: utxo.NewCodec(poseidon, utxo.NewAssetLookupTable(testMint), nil),
	}
}

// spendable inserts a fresh utxo into the tree.
func (f *paramsFixture) spendable(t *testing.T, native, spl uint64, mint utxo.Pubkey) *utxo.Utxo {
	out := testOut(t, f.acct, native, spl, mint)
	idx, err := f.tree.Insert(out.Commitment)
	require.NoError(t, err)
	u, err := utxo.NewUtxo(poseidon, out, f.acct, int64(idx), nil)
	require.NoError(t, err)
	return u
}

func (f *paramsFixture) input(in []*utxo.Utxo, out []*utxo.OutUtxo, action Action) ParametersInput {
	return ParametersInput{
		InputUtxos:       in,
		OutputUtxos:      out,
		Action:           action,
		PoolKey:          testPool,
		Account:          f.acct,
		AssetLookupTable: utxo.NewAssetLookupTable(testMint),
		MerkleTree:       f.tree,
		Codec:            f.codec,
	}
}

func negField(v int64) string {
	return new(big.Int).Sub(hashing.FieldSize, big.NewInt(v)).String()
}

func TestParametersShield(t *testing.T) {
	f := newParamsFixture(t)
	in := f.input(nil, []*utxo.OutUtxo{testOut(t, f.acct, 50, 100, testMint)}, ActionShield)
	in.SenderSol, in.SenderSpl = userKey, userKey
	in.PrefixIndex = 4

	p, err := NewParameters(poseidon, in)
	require.NoError(t, err)
	assert.Len(t, p.InputUtxos, 2)
	assert.Len(t, p.OutputUtxos, 2)
	assert.True(t, p.InputUtxos[0].IsFilling)
	assert.True(t, p.OutputUtxos[1].IsFilling)
	assert.Equal(t, "50", p.PublicAmountSol.String())
	assert.Equal(t, "100", p.PublicAmountSpl.String())
	assert.Equal(t, []utxo.Pubkey{utxo.NativeAsset, testMint}, p.AssetPubkeys)
	require.Len(t, p.AssetPubkeysCircuit, NAssetPubkeys)
	assert.Equal(t, "0", p.AssetPubkeysCircuit[2].String())
	assert.Len(t, p.EncryptedUtxos, 2*EncryptedUtxoSlot)
	assert.Equal(t, uint64(1), p.PrefixIndicesUsed)
	assert.Equal(t, f.tree.Root().String(), p.Root.String())

	// the encrypted output opens to the first output
	ct := p.EncryptedUtxos[:utxo.PrefixLength+utxo.EncryptedCompressedLength]
	prefix := f.acct.UtxoPrefix(testPool, 4)
	assert.Equal(t, prefix[:], ct[:utxo.PrefixLength])
	got, err := f.codec.Decrypt(ct, utxo.DecryptParams{
		Account:    f.acct,
		PoolKey:    testPool,
		Commitment: p.OutputUtxos[0].Commitment,
		Aes:        true,
		Compressed: true,
	})
	require.NoError(t, err)
	assert.Equal(t, p.OutputUtxos[0].Key(), got.Key())

	inputs, err := p.ProofInputs()
	require.NoError(t, err)
	var names []string
	for _, in := range inputs.Public {
		names = append(names, in.Name)
	}
	assert.Equal(t, PublicOrder, names)
	assert.Equal(t, 1+1+1+1+1+2+2, Len(inputs.Public))
	assert.Equal(t, testMint.Circuit().String(), inputs.Public[4].Values[0].String())
	for _, in := range inputs.Private {
		if in.Name == "inPathElements" {
			assert.Len(t, in.Values, 2*testHeight)
		}
	}
}

func TestParametersShieldErrors(t *testing.T) {
	f := newParamsFixture(t)
	in := f.input(nil, []*utxo.OutUtxo{testOut(t, f.acct, 50, 100, testMint)}, ActionShield)

	_, err := NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrSolSenderUndefined)

	in.SenderSol = userKey
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrSplSenderUndefined)

	in.SenderSpl = userKey
	in.RecipientSol = userKey
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrSolRecipientDefined)

	in.RecipientSol = utxo.Pubkey{}
	in.Relayer = &Relayer{Pubkey: relayerKey, Fee: 1}
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrRelayerFeeDefined)
}

func TestParametersUnshield(t *testing.T) {
	f := newParamsFixture(t)
	spent := f.spendable(t, 1_000_000, 0, utxo.Pubkey{})
	change := testOut(t, f.acct, 994_000, 0, utxo.Pubkey{})

	in := f.input([]*utxo.Utxo{spent}, []*utxo.OutUtxo{change}, ActionUnshield)
	in.Relayer = &Relayer{Pubkey: relayerKey, Fee: 5000}
	_, err := NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrSolRecipientUndefined)

	in.RecipientSol = userKey
	p, err := NewParameters(poseidon, in)
	require.NoError(t, err)
	assert.Equal(t, negField(6000), p.PublicAmountSol.String())
	assert.Equal(t, "0", p.PublicAmountSpl.String())
	assert.Equal(t, "1000", p.WithdrawnSol().String())

	// the missing proof is filled from the tree
	u := p.InputUtxos[0]
	require.Len(t, u.MerkleProof, testHeight)
	assert.True(t, merkle.Verify(poseidon, u.Commitment, u.MerkleTreeLeafIndex, u.MerkleProof, p.Root))
	assert.Nil(t, spent.MerkleProof, "caller's utxo is not modified")

	in.SenderSol = userKey
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrSolSenderDefined)

	in.SenderSol = utxo.Pubkey{}
	in.Relayer = nil
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrRelayerUndefined)
}

func TestParametersUnshieldSplOnly(t *testing.T) {
	f := newParamsFixture(t)
	spent := f.spendable(t, 1_000_000, 6, testMint)
	change := testOut(t, f.acct, 995_000, 3, testMint)

	in := f.input([]*utxo.Utxo{spent}, []*utxo.OutUtxo{change}, ActionUnshield)
	in.Relayer = &Relayer{Pubkey: relayerKey, Fee: 5000}
	in.RecipientSpl = userKey
	// only the relayer fee leaves in sol, a sol recipient is still required
	_, err := NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrSolRecipientUndefined)

	in.RecipientSol = userKey
	p, err := NewParameters(poseidon, in)
	require.NoError(t, err)
	assert.Equal(t, negField(5000), p.PublicAmountSol.String())
	assert.Equal(t, negField(3), p.PublicAmountSpl.String())
	assert.Equal(t, "0", p.WithdrawnSol().String())

	in.RecipientSpl = utxo.Pubkey{}
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrSplRecipientUndefined)
}

func TestParametersTransfer(t *testing.T) {
	f := newParamsFixture(t)
	spent := f.spendable(t, 1_000_000, 6, testMint)
	to := testOut(t, testAccount(t, 2), 1000, 2, testMint)
	change := testOut(t, f.acct, 994_000, 4, testMint)

	in := f.input([]*utxo.Utxo{spent}, []*utxo.OutUtxo{to, change}, ActionTransfer)
	in.Relayer = &Relayer{Pubkey: relayerKey, Fee: 5000}
	p, err := NewParameters(poseidon, in)
	require.NoError(t, err)
	assert.Equal(t, negField(5000), p.PublicAmountSol.String())
	assert.Equal(t, "0", p.PublicAmountSpl.String())
	assert.NotNil(t, p.TransactionHash)

	in.Relayer.Fee = 4000
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrInvalidPublicAmount)

	in.Relayer.Fee = 5000
	in.RecipientSpl = userKey
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrSplRecipientDefined)
}

func TestParametersLimits(t *testing.T) {
	f := newParamsFixture(t)
	u := f.spendable(t, 10, 0, utxo.Pubkey{})
	out := testOut(t, f.acct, 10, 0, utxo.Pubkey{})

	in := f.input([]*utxo.Utxo{u, u, u}, nil, ActionTransfer)
	_, err := NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrInvalidNumberOfInputs)

	in = f.input(nil, []*utxo.OutUtxo{out, out, out}, ActionShield)
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrInvalidNumberOfOutputs)

	in = f.input([]*utxo.Utxo{u}, []*utxo.OutUtxo{out}, ActionTransfer)
	in.Relayer = &Relayer{Pubkey: relayerKey}
	in.EncryptedUtxos = make([]byte, 2*EncryptedUtxoSlot+1)
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrEncryptedUtxosTooLarge)

	in.PoolKey = utxo.Pubkey{}
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrPoolKeyUndefined)

	in = f.input([]*utxo.Utxo{u}, []*utxo.OutUtxo{out}, ActionUndefined)
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrActionUndefined)

	in = f.input(nil, []*utxo.OutUtxo{testOut(t, f.acct, 1, 1, otherMint)}, ActionShield)
	in.SenderSol, in.SenderSpl = userKey, userKey
	_, err = NewParameters(poseidon, in)
	require.ErrorIs(t, err, zkerr.ErrAssetNotFound)
}

func TestIntegrityHashBindsMessage(t *testing.T) {
	f := newParamsFixture(t)
	u := f.spendable(t, 10, 0, utxo.Pubkey{})
	out := testOut(t, f.acct, 5, 0, utxo.Pubkey{})

	in := f.input([]*utxo.Utxo{u}, []*utxo.OutUtxo{out}, ActionTransfer)
	in.Relayer = &Relayer{Pubkey: relayerKey, Fee: 5}
	in.EncryptedUtxos = []byte{1, 2, 3}

	a, err := NewParameters(poseidon, in)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, a.EncryptedUtxos[:3])
	assert.Len(t, a.EncryptedUtxos, 2*EncryptedUtxoSlot)
	assert.True(t, hashing.InField(a.TxIntegrityHash))

	in.Message = []byte("memo")
	b, err := NewParameters(poseidon, in)
	require.NoError(t, err)
	assert.NotEqual(t, a.TxIntegrityHash.String(), b.TxIntegrityHash.String())

	in.Message = nil
	c, err := NewParameters(poseidon, in)
	require.NoError(t, err)
	assert.Equal(t, a.TxIntegrityHash.String(), c.TxIntegrityHash.String())
}

func TestGetAssetPubkeys(t *testing.T) {
	acct := testAccount(t, 1)
	third := utxo.Pubkey{0: 0xdd}
	in := []*utxo.Utxo{testUtxo(t, acct, 1, 1, testMint, 0), testUtxo(t, acct, 1, 1, otherMint, 1)}

	assets, circuit, err := GetAssetPubkeys(in, nil)
	require.NoError(t, err)
	assert.Equal(t, []utxo.Pubkey{utxo.NativeAsset, testMint, otherMint}, assets)
	assert.Equal(t, otherMint.Circuit().String(), circuit[2].String())

	_, _, err = GetAssetPubkeys(in, []*utxo.OutUtxo{testOut(t, acct, 1, 1, third)})
	require.ErrorIs(t, err, zkerr.ErrExceededMaxAssets)
}
