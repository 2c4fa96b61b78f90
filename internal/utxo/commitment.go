package utxo

import (
	"math/big"

	"zkutxo/internal/account"
	"zkutxo/internal/hashing"
	"zkutxo/internal/zkerr"
)

// AssetsCircuit returns the field-element form of a UTXO's asset pair. The
// token slot is zero when it holds the native asset.
func AssetsCircuit(assets [2]Pubkey) [2]*big.Int {
	second := new(big.Int)
	if assets[1] != NativeAsset {
		second = assets[1].Circuit()
	}
	return [2]*big.Int{assets[0].Circuit(), second}
}

// ProgramAddressCircuit returns the field-element form of a program address,
// zero when there is none.
func ProgramAddressCircuit(p Pubkey) *big.Int {
	if p.IsZero() {
		return new(big.Int)
	}
	return p.Circuit()
}

// ComputeCommitment hashes the committed fields of u:
//
//	H(version, H(amounts), owner, blinding, H(assetsCircuit), dataHash, poolType, programAddressCircuit)
func ComputeCommitment(h hashing.Hasher, u *OutUtxo) (*big.Int, error) {
	if u.Owner == nil {
		return nil, zkerr.New(zkerr.CodeAccountUndefined, "ComputeCommitment", "owner is undefined")
	}
	amountHash, err := h.Hash(hashing.Uint64(u.Amounts[0]), hashing.Uint64(u.Amounts[1]))
	if err != nil {
		return nil, err
	}
	ac := AssetsCircuit(u.Assets)
	assetHash, err := h.Hash(ac[0], ac[1])
	if err != nil {
		return nil, err
	}
	dataHash := u.DataHash
	if dataHash == nil {
		dataHash = new(big.Int)
	}
	return h.Hash(
		big.NewInt(int64(u.Version)),
		amountHash,
		u.Owner,
		u.Blinding,
		assetHash,
		dataHash,
		big.NewInt(int64(u.PoolType)),
		ProgramAddressCircuit(u.ProgramAddress),
	)
}

// ComputeNullifier returns H(commitment, leafIndex, signature), where
// signature is acct's deterministic spend signature over the same pair.
func ComputeNullifier(h hashing.Hasher, commitment *big.Int, leafIndex uint64, acct *account.Account) (*big.Int, error) {
	if acct == nil {
		return nil, zkerr.New(zkerr.CodeAccountUndefined, "ComputeNullifier", "account is undefined")
	}
	sig, err := acct.Sign(commitment, leafIndex)
	if err != nil {
		return nil, err
	}
	return h.Hash(commitment, hashing.Uint64(leafIndex), sig)
}
