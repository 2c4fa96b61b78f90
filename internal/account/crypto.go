// crypto.go - Ciphertext primitives used to publish UTXOs.
//
// Box: NaCl box to the recipient's X25519 key, sealed with a public constant
// sender key; the nonce is the first 24 bytes of the UTXO commitment.
// AES: AES-256-CBC under a per-commitment key derived from the account's
// per-pool ViewingKey; the IV is the first 16 bytes of the commitment.

package account

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"zkutxo/internal/zkerr"
)

// PrefixLength is the length of the scannable ciphertext prefix.
const PrefixLength = 4

// BoxOverhead is the authenticator length added by box.Seal.
const BoxOverhead = box.Overhead

var (
	authSecret [32]byte
	authPublic [32]byte
)

func init() {
	// The sender key is public: ciphertext integrity comes from the proof
	// binding a hash of every published ciphertext.
	authSecret = blake2b.Sum256([]byte("zkutxo/authkey"))
	pub, err := curve25519.X25519(authSecret[:], curve25519.Basepoint)
	if err != nil {
		panic(err)
	}
	copy(authPublic[:], pub)
}

// EncryptBox seals plaintext to recipient. commitment supplies the nonce.
func EncryptBox(recipient [32]byte, plaintext []byte, commitment [32]byte) []byte {
	var nonce [24]byte
	copy(nonce[:], commitment[:24])
	return box.Seal(nil, plaintext, &nonce, &recipient, &authSecret)
}

// DecryptBox opens a ciphertext produced by EncryptBox for this account.
func (a *Account) DecryptBox(ciphertext []byte, commitment [32]byte) ([]byte, error) {
	if a.encSecret == nil {
		return nil, zkerr.New(zkerr.CodePrivateKeyUndefined, "DecryptBox", "account has no encryption secret")
	}
	var nonce [24]byte
	copy(nonce[:], commitment[:24])
	out, ok := box.Open(nil, ciphertext, &nonce, &authPublic, a.encSecret)
	if !ok {
		return nil, zkerr.New(zkerr.CodeDecryptionFailed, "DecryptBox", "box open failed")
	}
	return out, nil
}

// ViewingKey is the view-only capability of an account in one pool. It
// matches the account's AES prefixes there and opens its AES ciphertexts,
// but cannot spend, open boxes or derive nullifiers.
type ViewingKey struct {
	Pool   [32]byte
	Owner  [32]byte
	Aes    [32]byte
	Prefix [32]byte
}

// ViewingKeyLength is the length of an encoded ViewingKey.
const ViewingKeyLength = 128

// ViewingKey exports the viewing capability of a in poolKey.
func (a *Account) ViewingKey(poolKey [32]byte) (ViewingKey, error) {
	if !a.HasPrivateKeys() {
		return ViewingKey{}, zkerr.New(zkerr.CodePrivateKeyUndefined, "ViewingKey", "account has no aes secret")
	}
	return a.viewingKey(poolKey), nil
}

func (a *Account) viewingKey(poolKey [32]byte) ViewingKey {
	return ViewingKey{
		Pool:   poolKey,
		Owner:  a.OwnerBytes(),
		Aes:    blake2b.Sum256(append(a.aesSecret[:], poolKey[:]...)),
		Prefix: blake2b.Sum256(append(a.hashingSecret[:], poolKey[:]...)),
	}
}

// Bytes encodes vk as pool || owner || aes || prefix.
func (vk ViewingKey) Bytes() []byte {
	out := make([]byte, 0, ViewingKeyLength)
	out = append(out, vk.Pool[:]...)
	out = append(out, vk.Owner[:]...)
	out = append(out, vk.Aes[:]...)
	return append(out, vk.Prefix[:]...)
}

func (vk ViewingKey) String() string { return hex.EncodeToString(vk.Bytes()) }

// ParseViewingKey decodes the hex form produced by ViewingKey.String.
func ParseViewingKey(s string) (ViewingKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != ViewingKeyLength {
		return ViewingKey{}, zkerr.New(zkerr.CodeInvalidPublicKey, "ParseViewingKey", "want %d hex-encoded bytes", ViewingKeyLength)
	}
	var vk ViewingKey
	copy(vk.Pool[:], raw[0:32])
	copy(vk.Owner[:], raw[32:64])
	copy(vk.Aes[:], raw[64:96])
	copy(vk.Prefix[:], raw[96:128])
	return vk, nil
}

// aesKey derives the key of one commitment.
func (vk ViewingKey) aesKey(commitment [32]byte) [32]byte {
	return blake2b.Sum256(append(vk.Aes[:], commitment[:]...))
}

// EncryptAes encrypts plaintext under the key of commitment.
func (vk ViewingKey) EncryptAes(plaintext []byte, commitment [32]byte) ([]byte, error) {
	key := vk.aesKey(commitment)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, commitment[:aes.BlockSize]).CryptBlocks(out, padded)
	return out, nil
}

// DecryptAes reverses EncryptAes.
func (vk ViewingKey) DecryptAes(ciphertext []byte, commitment [32]byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, zkerr.New(zkerr.CodeDecryptionFailed, "DecryptAes", "ciphertext length %d is not a block multiple", len(ciphertext))
	}
	key := vk.aesKey(commitment)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, commitment[:aes.BlockSize]).CryptBlocks(out, ciphertext)
	plain, ok := pkcs7Unpad(out, aes.BlockSize)
	if !ok {
		return nil, zkerr.New(zkerr.CodeDecryptionFailed, "DecryptAes", "bad padding")
	}
	return plain, nil
}

// UtxoPrefix returns the AES ciphertext prefix of the index-th UTXO the
// account publishes in vk.Pool.
func (vk ViewingKey) UtxoPrefix(index uint64) [PrefixLength]byte {
	h, err := blake2b.New(PrefixLength, vk.Prefix[:])
	if err != nil {
		// size and key length are constants within blake2b limits
		panic(err)
	}
	var idx [8]byte
	binary.LittleEndian.PutUint64(idx[:], index)
	h.Write(idx[:])
	var out [PrefixLength]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PrefixCandidates returns the prefixes for indices [from, from+n), keyed by
// prefix, so a scanner can match ciphertexts before decrypting.
func (vk ViewingKey) PrefixCandidates(from uint64, n int) map[[PrefixLength]byte]uint64 {
	out := make(map[[PrefixLength]byte]uint64, n)
	for i := 0; i < n; i++ {
		idx := from + uint64(i)
		p := vk.UtxoPrefix(idx)
		if _, dup := out[p]; !dup {
			out[p] = idx
		}
	}
	return out
}

// EncryptAes encrypts plaintext for this account's own later recovery.
func (a *Account) EncryptAes(plaintext []byte, poolKey, commitment [32]byte) ([]byte, error) {
	if !a.HasPrivateKeys() {
		return nil, zkerr.New(zkerr.CodePrivateKeyUndefined, "EncryptAes", "account has no aes secret")
	}
	return a.viewingKey(poolKey).EncryptAes(plaintext, commitment)
}

// DecryptAes reverses EncryptAes.
func (a *Account) DecryptAes(ciphertext []byte, poolKey, commitment [32]byte) ([]byte, error) {
	if !a.HasPrivateKeys() {
		return nil, zkerr.New(zkerr.CodePrivateKeyUndefined, "DecryptAes", "account has no aes secret")
	}
	return a.viewingKey(poolKey).DecryptAes(ciphertext, commitment)
}

func (a *Account) UtxoPrefix(poolKey [32]byte, index uint64) [PrefixLength]byte {
	return a.viewingKey(poolKey).UtxoPrefix(index)
}

func (a *Account) PrefixCandidates(poolKey [32]byte, from uint64, n int) map[[PrefixLength]byte]uint64 {
	return a.viewingKey(poolKey).PrefixCandidates(from, n)
}

// BoxPrefix is the prefix of box ciphertexts addressed to this account.
func (a *Account) BoxPrefix() [PrefixLength]byte {
	owner := a.OwnerBytes()
	var out [PrefixLength]byte
	copy(out[:], owner[:PrefixLength])
	return out
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, bool) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
