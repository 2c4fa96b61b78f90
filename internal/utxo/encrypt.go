// encrypt.go - Publishing UTXOs as scannable ciphertexts.
//
// Outputs addressed to a third party (EncryptionPublicKey set) are boxed to
// that key; outputs the sender keeps are AES-encrypted under its own viewing
// key for the pool. Every ciphertext starts with a 4-byte prefix that lets the
// intended reader skip foreign ciphertexts without attempting decryption.

package utxo

import (
	"bytes"
	"crypto/rand"
	"math/big"

	"golang.org/x/crypto/blake2b"

	"zkutxo/internal/account"
	"zkutxo/internal/hashing"
	"zkutxo/internal/zkerr"
)

const (
	// PrefixLength is the length of the scannable prefix.
	PrefixLength = account.PrefixLength
	// AesTailLength pads compressed AES ciphertexts to the box length.
	AesTailLength = 8
	// EncryptedCompressedLength is the ciphertext length (without prefix) of
	// a compressed UTXO under either scheme.
	EncryptedCompressedLength = CompressedLength + account.BoxOverhead

	aesCompressedBodyLength = EncryptedCompressedLength - AesTailLength
)

// EncryptParams select how an output is published.
type EncryptParams struct {
	Account     *account.Account // Sender, required for AES
	PoolKey     Pubkey           // Merkle tree pool the output is inserted into
	PrefixIndex uint64           // Rolling AES prefix index of the sender in PoolKey
	Compressed  bool
}

// DecryptParams describe a ciphertext found on chain. Viewer replaces
// Account for AES ciphertexts; its pool overrides PoolKey.
type DecryptParams struct {
	Account    *account.Account
	Viewer     *account.ViewingKey
	PoolKey    Pubkey
	Commitment *big.Int // Commitment published next to the ciphertext
	Aes        bool
	Compressed bool
}

// Encrypt encodes and encrypts u, returning prefix || ciphertext.
func (c *Codec) Encrypt(u *OutUtxo, p EncryptParams) ([]byte, error) {
	const op = "Encrypt"
	plain, err := c.Encode(u, p.Compressed)
	if err != nil {
		return nil, err
	}
	commitment := u.CommitmentBytes()

	if u.EncryptionPublicKey != nil {
		ct := account.EncryptBox(*u.EncryptionPublicKey, plain, commitment)
		prefix, err := boxPrefix(u)
		if err != nil {
			return nil, err
		}
		return append(prefix, ct...), nil
	}

	if p.Account == nil {
		return nil, zkerr.New(zkerr.CodeAccountUndefined, op, "neither an encryption public key nor an account is set")
	}
	if p.PoolKey.IsZero() {
		return nil, zkerr.New(zkerr.CodePoolKeyUndefined, op, "aes encryption needs the pool key")
	}
	ct, err := p.Account.EncryptAes(plain, p.PoolKey, commitment)
	if err != nil {
		return nil, err
	}
	var prefix []byte
	if u.IsFilling {
		if prefix, err = randomPrefix(); err != nil {
			return nil, err
		}
	} else {
		pp := p.Account.UtxoPrefix(p.PoolKey, p.PrefixIndex)
		prefix = pp[:]
	}
	out := append(append([]byte{}, prefix...), ct...)
	if p.Compressed {
		out = append(out, aesTail(commitment, plain)...)
	}
	return out, nil
}

// Decrypt reverses Encrypt for p.Account or p.Viewer. Ciphertexts that are not addressed
// to the account, are corrupt, or do not open to p.Commitment yield an error
// matching zkerr.ErrDecryptionFailed or zkerr.ErrCommitmentMismatch; both are
// recoverable (zkerr.IsRecoverable) and expected during scanning.
func (c *Codec) Decrypt(ciphertext []byte, p DecryptParams) (*OutUtxo, error) {
	const op = "Decrypt"
	if p.Viewer != nil {
		if !p.Aes {
			return nil, zkerr.New(zkerr.CodePrivateKeyUndefined, op, "a viewing key opens aes ciphertexts only")
		}
		p.PoolKey = p.Viewer.Pool
	} else if p.Account == nil {
		return nil, zkerr.New(zkerr.CodeAccountUndefined, op, "account is undefined")
	}
	if p.Commitment == nil {
		return nil, zkerr.New(zkerr.CodeDecryptionFailed, op, "commitment is undefined")
	}
	if p.Aes && p.PoolKey.IsZero() {
		return nil, zkerr.New(zkerr.CodePoolKeyUndefined, op, "aes decryption needs the pool key")
	}
	if len(ciphertext) <= PrefixLength {
		return nil, zkerr.New(zkerr.CodeDecryptionFailed, op, "ciphertext too short")
	}
	body := ciphertext[PrefixLength:]
	if p.Compressed {
		if len(body) < EncryptedCompressedLength {
			return nil, zkerr.New(zkerr.CodeDecryptionFailed, op, "compressed ciphertext is %d bytes, want %d", len(body), EncryptedCompressedLength)
		}
		body = body[:EncryptedCompressedLength]
	}
	commitment := hashing.ToBytes32(p.Commitment)

	openAes := func(ct []byte) ([]byte, error) {
		if p.Viewer != nil {
			return p.Viewer.DecryptAes(ct, commitment)
		}
		return p.Account.DecryptAes(ct, p.PoolKey, commitment)
	}
	var plain []byte
	var err error
	if p.Aes {
		if p.Compressed {
			tail := body[aesCompressedBodyLength:]
			body = body[:aesCompressedBodyLength]
			plain, err = openAes(body)
			if err == nil && !bytes.Equal(tail, aesTail(commitment, plain)) {
				err = zkerr.New(zkerr.CodeDecryptionFailed, op, "padding tail mismatch")
			}
		} else {
			plain, err = openAes(body)
		}
	} else {
		plain, err = p.Account.DecryptBox(body, commitment)
	}
	if err != nil {
		return nil, err
	}

	var owner *[32]byte
	if p.Viewer != nil {
		owner = &p.Viewer.Owner
	} else {
		o := p.Account.OwnerBytes()
		owner = &o
	}
	u, err := c.decode(plain, p.Compressed, owner)
	if err != nil {
		return nil, zkerr.Wrap(zkerr.CodeDecryptionFailed, op, err, "plaintext does not decode")
	}
	if u.Commitment.Cmp(p.Commitment) != 0 {
		return nil, zkerr.New(zkerr.CodeCommitmentMismatch, op, "decrypted utxo commits to %s, want %s", u.Commitment, p.Commitment)
	}
	if !p.Aes && u.EncryptionPublicKey == nil {
		k := p.Account.EncryptionPublicKey()
		u.EncryptionPublicKey = &k
	}
	return u, nil
}

func boxPrefix(u *OutUtxo) ([]byte, error) {
	if u.IsFilling {
		return randomPrefix()
	}
	owner := hashing.ToBytes32(u.Owner)
	return append([]byte{}, owner[:PrefixLength]...), nil
}

func randomPrefix() ([]byte, error) {
	b := make([]byte, PrefixLength)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func aesTail(commitment [32]byte, plain []byte) []byte {
	buf := make([]byte, 0, len(commitment)+len(plain))
	buf = append(buf, commitment[:]...)
	buf = append(buf, plain...)
	sum := blake2b.Sum256(buf)
	return sum[:AesTailLength]
}
