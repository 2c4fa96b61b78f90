package transaction

import (
	"math/big"

	"zkutxo/internal/hashing"
	"zkutxo/internal/utxo"
)

// Input is one named circuit input, flattened to field elements.
type Input struct {
	Name   string
	Values []*big.Int
}

// ProofInputs are the circuit inputs in witness order.
type ProofInputs struct {
	Public  []Input
	Private []Input
}

// PublicOrder is the order of the public circuit inputs.
var PublicOrder = []string{
	"root",
	"publicAmountSpl",
	"txIntegrityHash",
	"publicAmountSol",
	"publicMintPubkey",
	"inputNullifier",
	"outputCommitment",
}

// PrivateOrder is the order of the private circuit inputs.
var PrivateOrder = []string{
	"assetPubkeys",
	"inAmount",
	"inOwner",
	"inBlinding",
	"inAssets",
	"inDataHash",
	"inPoolType",
	"inProgramAddress",
	"inPathIndices",
	"inPathElements",
	"inSignature",
	"spendPublicKey",
	"outAmount",
	"outOwner",
	"outBlinding",
	"outAssets",
	"outDataHash",
	"outPoolType",
	"outProgramAddress",
	"transactionVersion",
}

// Len returns the number of field elements in inputs.
func Len(inputs []Input) int {
	n := 0
	for _, in := range inputs {
		n += len(in.Values)
	}
	return n
}

// ProofInputs derives the circuit inputs. Each input signs its commitment
// and leaf index, so the account must hold its private keys.
func (p *Parameters) ProofInputs() (*ProofInputs, error) {
	publicMint := new(big.Int)
	if len(p.AssetPubkeys) > 1 {
		publicMint = p.AssetPubkeysCircuit[1]
	}

	var nullifiers, outCms []*big.Int
	for _, u := range p.InputUtxos {
		nullifiers = append(nullifiers, u.Nullifier)
	}
	for _, u := range p.OutputUtxos {
		outCms = append(outCms, u.Commitment)
	}

	public := map[string][]*big.Int{
		"root":             {p.Root},
		"publicAmountSpl":  {p.PublicAmountSpl},
		"txIntegrityHash":  {p.TxIntegrityHash},
		"publicAmountSol":  {p.PublicAmountSol},
		"publicMintPubkey": {publicMint},
		"inputNullifier":   nullifiers,
		"outputCommitment": outCms,
	}

	private := map[string][]*big.Int{
		"assetPubkeys":       p.AssetPubkeysCircuit,
		"transactionVersion": {new(big.Int)},
	}
	add := func(name string, v ...*big.Int) { private[name] = append(private[name], v...) }

	for _, u := range p.InputUtxos {
		ac := utxo.AssetsCircuit(u.Assets)
		add("inAmount", hashing.Uint64(u.Amounts[0]), hashing.Uint64(u.Amounts[1]))
		add("inOwner", u.Owner)
		add("inBlinding", u.Blinding)
		add("inAssets", ac[0], ac[1])
		add("inDataHash", u.DataHash)
		add("inPoolType", big.NewInt(int64(u.PoolType)))
		add("inProgramAddress", utxo.ProgramAddressCircuit(u.ProgramAddress))
		add("inPathIndices", hashing.Uint64(u.MerkleTreeLeafIndex))
		add("inPathElements", p.pathElements(u)...)

		sig, err := p.Account.SignatureFor(u.Commitment, u.MerkleTreeLeafIndex)
		if err != nil {
			return nil, err
		}
		add("inSignature", sig.R8.X, sig.R8.Y, sig.S)
	}
	pub := p.Account.SpendPublicKey()
	add("spendPublicKey", pub.X, pub.Y)

	for _, u := range p.OutputUtxos {
		ac := utxo.AssetsCircuit(u.Assets)
		add("outAmount", hashing.Uint64(u.Amounts[0]), hashing.Uint64(u.Amounts[1]))
		add("outOwner", u.Owner)
		add("outBlinding", u.Blinding)
		add("outAssets", ac[0], ac[1])
		add("outDataHash", u.DataHash)
		add("outPoolType", big.NewInt(int64(u.PoolType)))
		add("outProgramAddress", utxo.ProgramAddressCircuit(u.ProgramAddress))
	}

	res := &ProofInputs{}
	for _, name := range PublicOrder {
		res.Public = append(res.Public, Input{Name: name, Values: public[name]})
	}
	for _, name := range PrivateOrder {
		res.Private = append(res.Private, Input{Name: name, Values: private[name]})
	}
	return res, nil
}

// pathElements returns u's proof padded with zeros to the tree height.
func (p *Parameters) pathElements(u *utxo.Utxo) []*big.Int {
	out := make([]*big.Int, p.treeHeight)
	for i := range out {
		if i < len(u.MerkleProof) && u.MerkleProof[i] != nil {
			out[i] = u.MerkleProof[i]
		} else {
			out[i] = new(big.Int)
		}
	}
	return out
}
