package hashing

import (
	"crypto/sha256"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// FieldSize is the BN254 scalar field modulus.
var FieldSize = fr.Modulus()

// InField reports whether x is a canonical field element.
func InField(x *big.Int) bool {
	return x.Sign() >= 0 && x.Cmp(FieldSize) < 0
}

// Mod reduces x into [0, FieldSize).
func Mod(x *big.Int) *big.Int {
	r := new(big.Int).Mod(x, FieldSize)
	return r
}

// HashAndTruncateToCircuit maps arbitrary bytes (typically a 32-byte
// address, which may exceed the modulus) to a field element by hashing with
// sha256 and dropping the most significant byte.
func HashAndTruncateToCircuit(data []byte) *big.Int {
	sum := sha256.Sum256(data)
	return new(big.Int).SetBytes(sum[1:])
}

// ToBytes32 returns x as a 32-byte big-endian array.
func ToBytes32(x *big.Int) [32]byte {
	var out [32]byte
	if x != nil {
		x.FillBytes(out[:])
	}
	return out
}

// FromBytes32 parses a 32-byte big-endian value.
func FromBytes32(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// Uint64 lifts an amount into the field.
func Uint64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
