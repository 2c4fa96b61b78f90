// utxo.go - Shielded UTXO types for the confidential asset pool.
//
// An OutUtxo is a freshly built output: a hiding commitment to an owner, up to
// two asset amounts, and optional program data. Once it is inserted into the
// Merkle tree it becomes a Utxo, which additionally knows its leaf index,
// inclusion proof, and nullifier.

package utxo

import (
	"crypto/rand"
	"math/big"

	"zkutxo/internal/account"
	"zkutxo/internal/hashing"
	"zkutxo/internal/zkerr"
)

// BlindingLength is the byte length of a UTXO blinding factor.
const BlindingLength = 31

// MaxVersion is the largest version the one-nibble header can carry.
const MaxVersion = 0x0f

// OutUtxo is an unspent output not yet positioned in the Merkle tree.
type OutUtxo struct {
	Owner               *big.Int  // Hash of the owner's spend public key
	Amounts             [2]uint64 // Native amount, token amount
	Assets              [2]Pubkey // Native asset, token asset (native when unused)
	Blinding            *big.Int  // Random hiding factor, < 2^248
	PoolType            uint8
	Version             uint8
	DataHash            *big.Int  // Hash of Data, zero for plain UTXOs
	ProgramAddress      Pubkey    // Owning program, zero for plain UTXOs
	EncryptionPublicKey *[32]byte // Set when the output is boxed to a third party
	IsFilling           bool      // Zero-value padding output
	Data                *AppData  // Program UTXOs only
	Commitment          *big.Int
}

// OutUtxoParams are the inputs of NewOutUtxo. Zero values select defaults:
// native-only assets, zero amounts, a random blinding.
type OutUtxoParams struct {
	Owner               *big.Int
	Amounts             []uint64
	Assets              []Pubkey
	Blinding            *big.Int
	PoolType            uint8
	Version             uint8
	ProgramAddress      Pubkey
	Data                *AppData
	EncryptionPublicKey *[32]byte
	IsFilling           bool
}

// NewOutUtxo validates p and computes the commitment.
func NewOutUtxo(h hashing.Hasher, p OutUtxoParams) (*OutUtxo, error) {
	const op = "NewOutUtxo"
	if p.Owner == nil {
		return nil, zkerr.New(zkerr.CodeAccountUndefined, op, "owner is undefined")
	}
	if !hashing.InField(p.Owner) {
		return nil, zkerr.New(zkerr.CodeFieldOverflow, op, "owner is not a field element")
	}
	if len(p.Amounts) > 2 || len(p.Assets) > 2 {
		return nil, zkerr.New(zkerr.CodeInvalidAssetCount, op, "%d amounts and %d assets, at most 2 each", len(p.Amounts), len(p.Assets))
	}
	if p.Version > MaxVersion {
		return nil, zkerr.New(zkerr.CodeFieldOverflow, op, "version %d exceeds %d", p.Version, MaxVersion)
	}

	u := &OutUtxo{
		Owner:          new(big.Int).Set(p.Owner),
		PoolType:       p.PoolType,
		Version:        p.Version,
		ProgramAddress: p.ProgramAddress,
		IsFilling:      p.IsFilling,
		Data:           p.Data,
		DataHash:       new(big.Int),
	}
	copy(u.Amounts[:], p.Amounts)
	copy(u.Assets[:], p.Assets)
	if u.Assets[0] != NativeAsset {
		return nil, zkerr.New(zkerr.CodeInvalidAssetCount, op, "first asset must be native, got %s", u.Assets[0])
	}
	if u.Assets[1] == NativeAsset && u.Amounts[1] != 0 {
		return nil, zkerr.New(zkerr.CodeInvalidAssetCount, op, "token amount %d without token asset", u.Amounts[1])
	}
	if p.EncryptionPublicKey != nil {
		k := *p.EncryptionPublicKey
		u.EncryptionPublicKey = &k
	}

	if p.Blinding == nil {
		b, err := RandomBlinding()
		if err != nil {
			return nil, err
		}
		u.Blinding = b
	} else {
		if p.Blinding.Sign() < 0 || p.Blinding.BitLen() > 8*BlindingLength {
			return nil, zkerr.New(zkerr.CodeFieldOverflow, op, "blinding exceeds %d bytes", BlindingLength)
		}
		u.Blinding = new(big.Int).Set(p.Blinding)
	}

	if p.Data != nil {
		if p.ProgramAddress.IsZero() {
			return nil, zkerr.New(zkerr.CodeInvalidAppData, op, "app data without program address")
		}
		dh, err := p.Data.Hash(h)
		if err != nil {
			return nil, err
		}
		u.DataHash = dh
	}

	cm, err := ComputeCommitment(h, u)
	if err != nil {
		return nil, err
	}
	u.Commitment = cm
	return u, nil
}

// NewFillingOutUtxo returns a zero-value padding output owned by owner.
func NewFillingOutUtxo(h hashing.Hasher, owner *big.Int) (*OutUtxo, error) {
	return NewOutUtxo(h, OutUtxoParams{Owner: owner, IsFilling: true})
}

// RandomBlinding draws a uniformly random 31-byte blinding factor.
func RandomBlinding() (*big.Int, error) {
	b := make([]byte, BlindingLength)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// IsProgram reports whether u carries application data.
func (u *OutUtxo) IsProgram() bool { return u.Data != nil }

// CommitmentBytes returns the commitment as 32 bytes big-endian.
func (u *OutUtxo) CommitmentBytes() [32]byte { return hashing.ToBytes32(u.Commitment) }

// Key returns the decimal commitment, used as the map key in balances.
func (u *OutUtxo) Key() string { return u.Commitment.String() }

// TokenAsset returns the second asset, NativeAsset for native-only UTXOs.
func (u *OutUtxo) TokenAsset() Pubkey { return u.Assets[1] }

// Utxo is an output confirmed at a Merkle tree leaf and therefore spendable.
type Utxo struct {
	OutUtxo
	Nullifier           *big.Int
	MerkleTreeLeafIndex uint64
	MerkleProof         []*big.Int
}

// NewUtxo positions out at leafIndex and derives its nullifier with acct.
// A negative leafIndex means the position is unknown.
func NewUtxo(h hashing.Hasher, out *OutUtxo, acct *account.Account, leafIndex int64, proof []*big.Int) (*Utxo, error) {
	if leafIndex < 0 {
		return nil, zkerr.New(zkerr.CodeIndexNotProvided, "NewUtxo", "leaf index of %s is unknown", out.Key())
	}
	nf, err := ComputeNullifier(h, out.Commitment, uint64(leafIndex), acct)
	if err != nil {
		return nil, err
	}
	return &Utxo{
		OutUtxo:             *out,
		Nullifier:           nf,
		MerkleTreeLeafIndex: uint64(leafIndex),
		MerkleProof:         proof,
	}, nil
}

// NewFillingUtxo returns a zero-value padding input for acct, positioned at
// leaf 0 with an all-zero proof of the given height.
func NewFillingUtxo(h hashing.Hasher, acct *account.Account, treeHeight int) (*Utxo, error) {
	if acct == nil {
		return nil, zkerr.New(zkerr.CodeAccountUndefined, "NewFillingUtxo", "account is undefined")
	}
	out, err := NewFillingOutUtxo(h, acct.Owner())
	if err != nil {
		return nil, err
	}
	proof := make([]*big.Int, treeHeight)
	for i := range proof {
		proof[i] = new(big.Int)
	}
	return NewUtxo(h, out, acct, 0, proof)
}
