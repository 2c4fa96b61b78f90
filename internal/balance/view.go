package balance

import (
	"context"
	"fmt"

	"zkutxo/internal/account"
	"zkutxo/internal/chain"
	"zkutxo/internal/utxo"
	"zkutxo/internal/zkerr"
)

// ViewedUtxo is an output recovered with a viewing key.
type ViewedUtxo struct {
	LeafIndex   uint64
	PrefixIndex uint64
	Utxo        *utxo.OutUtxo
}

// View recovers the AES outputs an account published in vk.Pool using only
// its viewing key. A viewer cannot derive nullifiers, so spent outputs are
// included.
func View(ctx context.Context, client chain.Client, codec *utxo.Codec, vk account.ViewingKey, compressed bool, window int) ([]ViewedUtxo, error) {
	if window <= 0 {
		window = DefaultPrefixWindow
	}
	items, err := client.EncryptedUtxos(ctx, vk.Pool, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch encrypted utxos: %w", err)
	}

	scanned := uint64(window)
	candidates := vk.PrefixCandidates(0, window)
	var out []ViewedUtxo
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(item.Ciphertext) < utxo.PrefixLength {
			continue
		}
		var prefix [utxo.PrefixLength]byte
		copy(prefix[:], item.Ciphertext)
		index, ok := candidates[prefix]
		if !ok {
			continue
		}
		u, err := codec.Decrypt(item.Ciphertext, utxo.DecryptParams{
			Viewer:     &vk,
			Commitment: item.Commitment,
			Aes:        true,
			Compressed: compressed,
		})
		if err != nil {
			if zkerr.IsRecoverable(err) {
				continue
			}
			return nil, err
		}
		out = append(out, ViewedUtxo{LeafIndex: item.LeafIndex, PrefixIndex: index, Utxo: u})
		if end := index + 1 + uint64(window); end > scanned {
			for p, i := range vk.PrefixCandidates(scanned, int(end-scanned)) {
				candidates[p] = i
			}
			scanned = end
		}
	}
	return out, nil
}
