// account.go - Shielded account key material.
//
// An Account is derived deterministically from a seed. It owns a BabyJubJub
// spend key (the owner field of every UTXO is the hash of its public point),
// an X25519 keypair for asymmetric UTXO encryption, and two symmetric
// secrets: one for AES viewing keys and one for scannable ciphertext prefixes.
//
// Accounts parsed from a public key carry only the owner and the encryption
// public key; they can receive UTXOs but cannot sign or decrypt.

package account

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"

	"zkutxo/internal/hashing"
	"zkutxo/internal/zkerr"
)

// MinSeedLength is the shortest seed accepted by FromSeed.
const MinSeedLength = 32

// PublicKeyLength is the decoded length of an account public key:
// owner (32 bytes BE) followed by the X25519 encryption public key.
const PublicKeyLength = 64

// Domain separators for the per-purpose secrets.
const (
	domainSpend      = "shielded"
	domainEncryption = "encryption"
	domainAes        = "aes"
	domainHashing    = "hashing"
	domainBurner     = "burnerSeed"
)

// Account holds the keys of one shielded identity.
type Account struct {
	hasher hashing.Hasher

	spendKey *babyjub.PrivateKey // nil for public-only accounts
	spendPub *babyjub.PublicKey
	owner    *big.Int

	encSecret *[32]byte // nil for public-only accounts
	encPublic [32]byte

	aesSecret     [32]byte
	hashingSecret [32]byte
}

// FromSeed derives a full account from seed.
func FromSeed(h hashing.Hasher, seed []byte) (*Account, error) {
	if h == nil {
		return nil, fmt.Errorf("account: hasher is nil")
	}
	if len(seed) < MinSeedLength {
		return nil, zkerr.New(zkerr.CodeInvalidSeed, "FromSeed", "seed is %d bytes, need at least %d", len(seed), MinSeedLength)
	}

	spendSeed := derive(seed, domainSpend)
	sk := babyjub.PrivateKey(spendSeed)
	pub := sk.Public()
	owner, err := h.Hash(pub.X, pub.Y)
	if err != nil {
		return nil, fmt.Errorf("account: owner hash: %w", err)
	}

	encSecret := derive(seed, domainEncryption)
	encPub, err := curve25519.X25519(encSecret[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("account: encryption key: %w", err)
	}

	a := &Account{
		hasher:        h,
		spendKey:      &sk,
		spendPub:      pub,
		owner:         owner,
		encSecret:     &encSecret,
		aesSecret:     derive(seed, domainAes),
		hashingSecret: derive(seed, domainHashing),
	}
	copy(a.encPublic[:], encPub)
	return a, nil
}

// CreateBurner derives the index-th burner account of seed. Burner accounts
// are unlinkable to their parent without the seed.
func CreateBurner(h hashing.Hasher, seed []byte, index uint64) (*Account, error) {
	burnerSeed, err := BurnerSeed(seed, index)
	if err != nil {
		return nil, err
	}
	return FromSeed(h, burnerSeed[:])
}

// BurnerSeed returns the seed of the index-th burner account of seed.
func BurnerSeed(seed []byte, index uint64) ([32]byte, error) {
	if len(seed) < MinSeedLength {
		return [32]byte{}, zkerr.New(zkerr.CodeInvalidSeed, "CreateBurner", "seed is %d bytes, need at least %d", len(seed), MinSeedLength)
	}
	return derive(seed, domainBurner+strconv.FormatUint(index, 10)), nil
}

// FromPublicKey parses a base58 account public key produced by PublicKey.
func FromPublicKey(s string) (*Account, error) {
	raw := base58.Decode(s)
	if len(raw) != PublicKeyLength {
		return nil, zkerr.New(zkerr.CodeInvalidPublicKey, "FromPublicKey", "decoded length %d, want %d", len(raw), PublicKeyLength)
	}
	owner := new(big.Int).SetBytes(raw[:32])
	if !hashing.InField(owner) {
		return nil, zkerr.New(zkerr.CodeInvalidPublicKey, "FromPublicKey", "owner is not a field element")
	}
	a := &Account{owner: owner}
	copy(a.encPublic[:], raw[32:])
	return a, nil
}

// derive returns blake2b-256(seed || domain).
func derive(seed []byte, domain string) [32]byte {
	buf := make([]byte, 0, len(seed)+len(domain))
	buf = append(buf, seed...)
	buf = append(buf, domain...)
	return blake2b.Sum256(buf)
}

// Owner returns the owner field element committed to by this account's UTXOs.
func (a *Account) Owner() *big.Int { return new(big.Int).Set(a.owner) }

// OwnerBytes returns the owner as 32 bytes big-endian.
func (a *Account) OwnerBytes() [32]byte { return hashing.ToBytes32(a.owner) }

// EncryptionPublicKey returns the X25519 public key UTXOs are boxed to.
func (a *Account) EncryptionPublicKey() [32]byte { return a.encPublic }

// SpendPublicKey returns the BabyJubJub public point, or nil for public-only accounts.
func (a *Account) SpendPublicKey() *babyjub.PublicKey { return a.spendPub }

// HasPrivateKeys reports whether a can sign and decrypt.
func (a *Account) HasPrivateKeys() bool { return a.spendKey != nil }

// Hasher returns the hasher a was derived with (nil for public-only accounts).
func (a *Account) Hasher() hashing.Hasher { return a.hasher }

// PublicKey returns the base58 encoding of owner || encryption public key.
func (a *Account) PublicKey() string {
	owner := a.OwnerBytes()
	return base58.Encode(append(owner[:], a.encPublic[:]...))
}

// Equal reports whether a and b share the same public identity.
func (a *Account) Equal(b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.owner.Cmp(b.owner) == 0 && bytes.Equal(a.encPublic[:], b.encPublic[:])
}

// Sign produces the deterministic spend signature binding a commitment to its
// Merkle tree position. The returned scalar is H(R8.x, R8.y, S) of the
// EdDSA-Poseidon signature over H(commitment, leafIndex).
func (a *Account) Sign(commitment *big.Int, leafIndex uint64) (*big.Int, error) {
	sig, err := a.SignatureFor(commitment, leafIndex)
	if err != nil {
		return nil, err
	}
	out, err := a.hasher.Hash(sig.R8.X, sig.R8.Y, sig.S)
	if err != nil {
		return nil, fmt.Errorf("account: signature hash: %w", err)
	}
	return out, nil
}

// SignatureFor returns the raw EdDSA signature used by Sign.
func (a *Account) SignatureFor(commitment *big.Int, leafIndex uint64) (*babyjub.Signature, error) {
	if !a.HasPrivateKeys() {
		return nil, zkerr.New(zkerr.CodePrivateKeyUndefined, "Sign", "account has no spend key")
	}
	msg, err := a.hasher.Hash(commitment, hashing.Uint64(leafIndex))
	if err != nil {
		return nil, fmt.Errorf("account: sign message: %w", err)
	}
	return a.spendKey.SignPoseidon(msg), nil
}
