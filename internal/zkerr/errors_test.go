package zkerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelByCode(t *testing.T) {
	err := New(CodeAssetNotFound, "Encode", "asset %s missing", "abc")
	require.ErrorIs(t, err, ErrAssetNotFound)
	assert.NotErrorIs(t, err, ErrInvalidLength)

	wrapped := fmt.Errorf("encrypt output 1: %w", err)
	require.ErrorIs(t, wrapped, ErrAssetNotFound)

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindEncoding, kind)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(CodeProofFailed, "Prove", cause, "circuit %q", "2in2out")
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrProofFailed)
	assert.Contains(t, err.Error(), "ProofError [PROOF_FAILED] in Prove: circuit \"2in2out\": boom")
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(New(CodeDecryptionFailed, "Decrypt", "box open failed")))
	assert.True(t, IsRecoverable(fmt.Errorf("item 3: %w", New(CodeCommitmentMismatch, "Decrypt", ""))))
	assert.False(t, IsRecoverable(New(CodeAssetNotFound, "Decode", "")))
	assert.False(t, IsRecoverable(errors.New("plain")))
}

func TestEveryCodeHasAKind(t *testing.T) {
	for code, kind := range kinds {
		assert.NotEmpty(t, kind, "code %s", code)
		assert.Equal(t, kind, KindFor(code))
	}
	code, ok := CodeOf(ErrFailedToFindUtxoCombination)
	require.True(t, ok)
	assert.Equal(t, CodeFailedToFindUtxoCombination, code)
	assert.Equal(t, KindSelection, ErrFailedToFindUtxoCombination.Kind)
}
