// codec.go - Fixed-layout byte encoding of UTXOs.
//
// Layout (integers little-endian, field elements 32 bytes big-endian):
//
//	[0,16)    amounts[0], amounts[1]
//	[16,24)   asset lookup table index of assets[1]
//	[24,55)   blinding
//	[55]      header: low nibble version, bit 7 isFilling
//	--------  compressed form ends here (56 bytes)
//	[56,88)   dataHash
//	[88,120)  owner
//	[120,152) encryption public key, zero when unset
//	[152,184) program address, zero when unset
//	[184]     poolType
//	--------  uncompressed form ends here (185 bytes)
//	[185,...) program UTXOs only: app data values in schema order
//
// The compressed form omits everything the owner can supply or that plain
// UTXOs leave at zero; decoding it needs the owning account.

package utxo

import (
	"encoding/binary"
	"math/big"

	"zkutxo/internal/account"
	"zkutxo/internal/hashing"
	"zkutxo/internal/zkerr"
)

const (
	CompressedLength   = 56
	UncompressedLength = 185
	fieldLength        = 32

	offAmounts    = 0
	offAssetIndex = 16
	offBlinding   = 24
	offHeader     = 55
	offDataHash   = 56
	offOwner      = 88
	offEncKey     = 120
	offProgram    = 152
	offPoolType   = 184

	fillingFlag = 0x80
)

// Codec encodes and decodes UTXOs against a shared asset table and program
// registry.
type Codec struct {
	Hasher   hashing.Hasher
	Assets   *AssetLookupTable
	Programs *ProgramRegistry
}

// NewCodec returns a Codec. A nil programs registry disables program UTXOs.
func NewCodec(h hashing.Hasher, assets *AssetLookupTable, programs *ProgramRegistry) *Codec {
	if programs == nil {
		programs = NewProgramRegistry()
	}
	return &Codec{Hasher: h, Assets: assets, Programs: programs}
}

// EncodedLength returns the byte length Encode produces for u.
func EncodedLength(u *OutUtxo, compressed bool) int {
	if compressed {
		return CompressedLength
	}
	n := UncompressedLength
	if u.Data != nil {
		n += fieldLength * len(u.Data.Values)
	}
	return n
}

// Encode serializes u.
func (c *Codec) Encode(u *OutUtxo, compressed bool) ([]byte, error) {
	const op = "Encode"
	if compressed && !isPlain(u) {
		return nil, zkerr.New(zkerr.CodeCompressedProgramUtxo, op, "utxo %s carries program fields", u.Key())
	}
	idx, ok := c.Assets.IndexOf(u.Assets[1])
	if !ok {
		return nil, zkerr.New(zkerr.CodeAssetNotFound, op, "asset %s is not in the lookup table", u.Assets[1])
	}

	buf := make([]byte, EncodedLength(u, compressed))
	binary.LittleEndian.PutUint64(buf[offAmounts:], u.Amounts[0])
	binary.LittleEndian.PutUint64(buf[offAmounts+8:], u.Amounts[1])
	binary.LittleEndian.PutUint64(buf[offAssetIndex:], idx)
	u.Blinding.FillBytes(buf[offBlinding:offHeader])
	buf[offHeader] = u.Version & MaxVersion
	if u.IsFilling {
		buf[offHeader] |= fillingFlag
	}
	if compressed {
		return buf, nil
	}

	if u.DataHash != nil {
		u.DataHash.FillBytes(buf[offDataHash:offOwner])
	}
	u.Owner.FillBytes(buf[offOwner:offEncKey])
	if u.EncryptionPublicKey != nil {
		copy(buf[offEncKey:offProgram], u.EncryptionPublicKey[:])
	}
	copy(buf[offProgram:offPoolType], u.ProgramAddress[:])
	buf[offPoolType] = u.PoolType
	if u.Data != nil {
		for i, v := range u.Data.Values {
			start := UncompressedLength + i*fieldLength
			v.FillBytes(buf[start : start+fieldLength])
		}
	}
	return buf, nil
}

// Decode parses b. Compressed buffers take their owner from acct; for
// uncompressed buffers acct is ignored. The commitment is recomputed.
func (c *Codec) Decode(b []byte, compressed bool, acct *account.Account) (*OutUtxo, error) {
	var owner *[32]byte
	if acct != nil {
		o := acct.OwnerBytes()
		owner = &o
	}
	return c.decode(b, compressed, owner)
}

func (c *Codec) decode(b []byte, compressed bool, owner *[32]byte) (*OutUtxo, error) {
	const op = "Decode"
	if compressed {
		if owner == nil {
			return nil, zkerr.New(zkerr.CodeAccountUndefined, op, "compressed utxo needs the owning account")
		}
		if len(b) != CompressedLength {
			return nil, zkerr.New(zkerr.CodeInvalidLength, op, "compressed utxo is %d bytes, want %d", len(b), CompressedLength)
		}
		full := make([]byte, UncompressedLength)
		copy(full, b)
		copy(full[offOwner:offEncKey], owner[:])
		b = full
	} else if len(b) < UncompressedLength {
		return nil, zkerr.New(zkerr.CodeInvalidLength, op, "utxo is %d bytes, want at least %d", len(b), UncompressedLength)
	}

	assetIdx := binary.LittleEndian.Uint64(b[offAssetIndex:])
	token, ok := c.Assets.At(assetIdx)
	if !ok {
		return nil, zkerr.New(zkerr.CodeAssetNotFound, op, "asset index %d is outside the lookup table", assetIdx)
	}

	header := b[offHeader]
	p := OutUtxoParams{
		Owner: new(big.Int).SetBytes(b[offOwner:offEncKey]),
		Amounts: []uint64{
			binary.LittleEndian.Uint64(b[offAmounts:]),
			binary.LittleEndian.Uint64(b[offAmounts+8:]),
		},
		Assets:    []Pubkey{NativeAsset, token},
		Blinding:  new(big.Int).SetBytes(b[offBlinding:offHeader]),
		Version:   header & MaxVersion,
		IsFilling: header&fillingFlag != 0,
		PoolType:  b[offPoolType],
	}
	if header&^(MaxVersion|fillingFlag) != 0 {
		return nil, zkerr.New(zkerr.CodeMalformedBuffer, op, "reserved header bits set: %#x", header)
	}
	var encKey [32]byte
	copy(encKey[:], b[offEncKey:offProgram])
	if encKey != ([32]byte{}) {
		p.EncryptionPublicKey = &encKey
	}
	copy(p.ProgramAddress[:], b[offProgram:offPoolType])
	dataHash := new(big.Int).SetBytes(b[offDataHash:offOwner])

	extra := len(b) - UncompressedLength
	switch {
	case p.ProgramAddress.IsZero():
		if extra != 0 {
			return nil, zkerr.New(zkerr.CodeInvalidLength, op, "plain utxo has %d trailing bytes", extra)
		}
		if dataHash.Sign() != 0 {
			return nil, zkerr.New(zkerr.CodeMalformedBuffer, op, "data hash without program")
		}
	default:
		schema, ok := c.Programs.Lookup(p.ProgramAddress)
		if !ok {
			return nil, zkerr.New(zkerr.CodeProgramNotFound, op, "program %s is not registered", p.ProgramAddress)
		}
		if extra != fieldLength*len(schema.Fields) {
			return nil, zkerr.New(zkerr.CodeInvalidLength, op, "program utxo carries %d data bytes, schema %q needs %d", extra, schema.ID, fieldLength*len(schema.Fields))
		}
		values := make([]*big.Int, len(schema.Fields))
		for i := range values {
			start := UncompressedLength + i*fieldLength
			values[i] = new(big.Int).SetBytes(b[start : start+fieldLength])
		}
		data, err := schema.FromValues(values)
		if err != nil {
			return nil, err
		}
		p.Data = data
	}

	u, err := NewOutUtxo(c.Hasher, p)
	if err != nil {
		return nil, zkerr.Wrap(zkerr.CodeMalformedBuffer, op, err, "invalid utxo fields")
	}
	if u.DataHash.Cmp(dataHash) != 0 {
		return nil, zkerr.New(zkerr.CodeMalformedBuffer, op, "data hash does not match app data")
	}
	return u, nil
}

// isPlain reports whether u can be carried in the compressed form.
func isPlain(u *OutUtxo) bool {
	return u.Data == nil &&
		u.ProgramAddress.IsZero() &&
		u.PoolType == 0 &&
		(u.DataHash == nil || u.DataHash.Sign() == 0)
}
