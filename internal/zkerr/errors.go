// Package zkerr defines the typed error taxonomy shared by the UTXO core.
//
// Every failure carries a Code. Each Code belongs to exactly one Kind, so
// callers can branch either on the precise condition (errors.Is against one
// of the exported sentinels) or on the broad category (KindOf).
package zkerr

import (
	"errors"
	"fmt"
)

// Kind is the broad category of a failure.
type Kind string

const (
	KindValidation   Kind = "ValidationError"
	KindConservation Kind = "ConservationError"
	KindEncoding     Kind = "EncodingError"
	KindCrypto       Kind = "CryptoError"
	KindSelection    Kind = "SelectionError"
	KindProof        Kind = "ProofError"
	KindStorage      Kind = "StorageError"
)

// Code identifies a specific failure condition.
type Code string

const (
	// Validation
	CodeAccountUndefined          Code = "ACCOUNT_UNDEFINED"
	CodePrivateKeyUndefined       Code = "PRIVATE_KEY_UNDEFINED"
	CodeInvalidSeed               Code = "INVALID_SEED"
	CodeInvalidPublicKey          Code = "INVALID_PUBLIC_KEY"
	CodeInvalidAppData            Code = "INVALID_APP_DATA"
	CodeIndexNotProvided          Code = "INDEX_NOT_PROVIDED"
	CodeInvalidAssetCount         Code = "INVALID_ASSET_COUNT"
	CodeInvalidRecipientMint      Code = "INVALID_RECIPIENT_MINT"
	CodeSplAmountUndefined        Code = "SPL_AMOUNT_UNDEFINED"
	CodeInvalidNumberOfRecipients Code = "INVALID_NUMBER_OF_RECIPIENTS"
	CodeInvalidOutputUtxoLength   Code = "INVALID_OUTPUT_UTXO_LENGTH"
	CodeNoPublicAmountsProvided   Code = "NO_PUBLIC_AMOUNTS_PROVIDED"
	CodeNoPublicMintProvided      Code = "NO_PUBLIC_MINT_PROVIDED"
	CodePublicSplAmountUndefined  Code = "PUBLIC_SPL_AMOUNT_UNDEFINED"
	CodeRelayerFeeUndefined       Code = "RELAYER_FEE_UNDEFINED"
	CodeRelayerFeeDefined         Code = "RELAYER_FEE_DEFINED"
	CodeNoUtxosProvided           Code = "NO_UTXOS_PROVIDED"
	CodeActionUndefined           Code = "ACTION_UNDEFINED"
	CodeInvalidNumberOfInputs     Code = "INVALID_NUMBER_OF_INPUTS"
	CodeInvalidNumberOfOutputs    Code = "INVALID_NUMBER_OF_OUTPUTS"
	CodeSolRecipientDefined       Code = "SOL_RECIPIENT_DEFINED"
	CodeSolRecipientUndefined     Code = "SOL_RECIPIENT_UNDEFINED"
	CodeSplRecipientDefined       Code = "SPL_RECIPIENT_DEFINED"
	CodeSplRecipientUndefined     Code = "SPL_RECIPIENT_UNDEFINED"
	CodeSolSenderDefined          Code = "SOL_SENDER_DEFINED"
	CodeSolSenderUndefined        Code = "SOL_SENDER_UNDEFINED"
	CodeSplSenderDefined          Code = "SPL_SENDER_DEFINED"
	CodeSplSenderUndefined        Code = "SPL_SENDER_UNDEFINED"
	CodeRelayerUndefined          Code = "RELAYER_UNDEFINED"
	CodeInvalidPublicAmount       Code = "INVALID_PUBLIC_AMOUNT"
	CodePublicAmountTooLarge      Code = "PUBLIC_AMOUNT_TOO_LARGE"
	CodeExceededMaxAssets         Code = "EXCEEDED_MAX_ASSETS"
	CodePoolKeyUndefined          Code = "POOL_KEY_UNDEFINED"
	CodeFieldOverflow             Code = "FIELD_OVERFLOW"

	// Conservation
	CodeRecipientsSumAmountMismatch Code = "RECIPIENTS_SUM_AMOUNT_MISMATCH"
	CodeAmountOverflow              Code = "AMOUNT_OVERFLOW"

	// Encoding
	CodeAssetNotFound          Code = "ASSET_NOT_FOUND"
	CodeProgramNotFound        Code = "PROGRAM_NOT_FOUND"
	CodeInvalidLength          Code = "INVALID_LENGTH"
	CodeMalformedBuffer        Code = "MALFORMED_BUFFER"
	CodeCompressedProgramUtxo  Code = "COMPRESSED_PROGRAM_UTXO"
	CodeEncryptedUtxosTooLarge Code = "ENCRYPTED_UTXOS_TOO_LARGE"

	// Crypto
	CodeDecryptionFailed   Code = "DECRYPTION_FAILED"
	CodeCommitmentMismatch Code = "COMMITMENT_MISMATCH"

	// Selection
	CodeFailedToFindUtxoCombination Code = "FAILED_TO_FIND_UTXO_COMBINATION"

	// Proof
	CodeCircuitNotRegistered Code = "CIRCUIT_NOT_REGISTERED"
	CodeInvalidWitness       Code = "INVALID_WITNESS"
	CodeProofFailed          Code = "PROOF_FAILED"
	CodeVerificationFailed   Code = "VERIFICATION_FAILED"

	// Storage
	CodeStorageFailure Code = "STORAGE_FAILURE"
)

var kinds = map[Code]Kind{
	CodeAccountUndefined:          KindValidation,
	CodePrivateKeyUndefined:       KindValidation,
	CodeInvalidSeed:               KindValidation,
	CodeInvalidPublicKey:          KindValidation,
	CodeInvalidAppData:            KindValidation,
	CodeIndexNotProvided:          KindValidation,
	CodeInvalidAssetCount:         KindValidation,
	CodeInvalidRecipientMint:      KindValidation,
	CodeSplAmountUndefined:        KindValidation,
	CodeInvalidNumberOfRecipients: KindValidation,
	CodeInvalidOutputUtxoLength:   KindValidation,
	CodeNoPublicAmountsProvided:   KindValidation,
	CodeNoPublicMintProvided:      KindValidation,
	CodePublicSplAmountUndefined:  KindValidation,
	CodeRelayerFeeUndefined:       KindValidation,
	CodeRelayerFeeDefined:         KindValidation,
	CodeNoUtxosProvided:           KindValidation,
	CodeActionUndefined:           KindValidation,
	CodeInvalidNumberOfInputs:     KindValidation,
	CodeInvalidNumberOfOutputs:    KindValidation,
	CodeSolRecipientDefined:       KindValidation,
	CodeSolRecipientUndefined:     KindValidation,
	CodeSplRecipientDefined:       KindValidation,
	CodeSplRecipientUndefined:     KindValidation,
	CodeSolSenderDefined:          KindValidation,
	CodeSolSenderUndefined:        KindValidation,
	CodeSplSenderDefined:          KindValidation,
	CodeSplSenderUndefined:        KindValidation,
	CodeRelayerUndefined:          KindValidation,
	CodeInvalidPublicAmount:       KindValidation,
	CodePublicAmountTooLarge:      KindValidation,
	CodeExceededMaxAssets:         KindValidation,
	CodePoolKeyUndefined:          KindValidation,
	CodeFieldOverflow:             KindValidation,

	CodeRecipientsSumAmountMismatch: KindConservation,
	CodeAmountOverflow:              KindConservation,

	CodeAssetNotFound:          KindEncoding,
	CodeProgramNotFound:        KindEncoding,
	CodeInvalidLength:          KindEncoding,
	CodeMalformedBuffer:        KindEncoding,
	CodeCompressedProgramUtxo:  KindEncoding,
	CodeEncryptedUtxosTooLarge: KindEncoding,

	CodeDecryptionFailed:   KindCrypto,
	CodeCommitmentMismatch: KindCrypto,

	CodeFailedToFindUtxoCombination: KindSelection,

	CodeCircuitNotRegistered: KindProof,
	CodeInvalidWitness:       KindProof,
	CodeProofFailed:          KindProof,
	CodeVerificationFailed:   KindProof,

	CodeStorageFailure: KindStorage,
}

// Error is the concrete error type returned by the core packages.
type Error struct {
	Kind    Kind   // Broad category, derived from Code
	Code    Code   // Specific failure condition
	Op      string // Operation that failed (e.g. "CreateOutUtxos")
	Message string // Human-readable detail
	Cause   error  // Underlying error (if any)
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s [%s]", e.Kind, e.Code)
	if e.Op != "" {
		msg += " in " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same Code, so the exported sentinels
// work with errors.Is regardless of Op, Message or Cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New builds an error for code raised by op.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{
		Kind:    KindFor(code),
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap builds an error for code raised by op with an underlying cause.
func Wrap(code Code, op string, cause error, format string, args ...any) *Error {
	e := New(code, op, format, args...)
	e.Cause = cause
	return e
}

// KindFor returns the Kind a Code belongs to.
func KindFor(code Code) Kind {
	if k, ok := kinds[code]; ok {
		return k
	}
	return KindValidation
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// CodeOf returns the Code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsRecoverable reports whether err is an expected per-item failure that
// batch operations (bulk decryption, sync) skip instead of aborting.
func IsRecoverable(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindCrypto
}

func sentinel(code Code) *Error { return &Error{Kind: KindFor(code), Code: code} }

// Sentinels for errors.Is.
var (
	ErrAccountUndefined          = sentinel(CodeAccountUndefined)
	ErrPrivateKeyUndefined       = sentinel(CodePrivateKeyUndefined)
	ErrInvalidSeed               = sentinel(CodeInvalidSeed)
	ErrInvalidPublicKey          = sentinel(CodeInvalidPublicKey)
	ErrInvalidAppData            = sentinel(CodeInvalidAppData)
	ErrIndexNotProvided          = sentinel(CodeIndexNotProvided)
	ErrInvalidAssetCount         = sentinel(CodeInvalidAssetCount)
	ErrInvalidRecipientMint      = sentinel(CodeInvalidRecipientMint)
	ErrSplAmountUndefined        = sentinel(CodeSplAmountUndefined)
	ErrInvalidNumberOfRecipients = sentinel(CodeInvalidNumberOfRecipients)
	ErrInvalidOutputUtxoLength   = sentinel(CodeInvalidOutputUtxoLength)
	ErrNoPublicAmountsProvided   = sentinel(CodeNoPublicAmountsProvided)
	ErrNoPublicMintProvided      = sentinel(CodeNoPublicMintProvided)
	ErrPublicSplAmountUndefined  = sentinel(CodePublicSplAmountUndefined)
	ErrRelayerFeeUndefined       = sentinel(CodeRelayerFeeUndefined)
	ErrRelayerFeeDefined         = sentinel(CodeRelayerFeeDefined)
	ErrNoUtxosProvided           = sentinel(CodeNoUtxosProvided)
	ErrActionUndefined           = sentinel(CodeActionUndefined)
	ErrInvalidNumberOfInputs     = sentinel(CodeInvalidNumberOfInputs)
	ErrInvalidNumberOfOutputs    = sentinel(CodeInvalidNumberOfOutputs)
	ErrSolRecipientDefined       = sentinel(CodeSolRecipientDefined)
	ErrSolRecipientUndefined     = sentinel(CodeSolRecipientUndefined)
	ErrSplRecipientDefined       = sentinel(CodeSplRecipientDefined)
	ErrSplRecipientUndefined     = sentinel(CodeSplRecipientUndefined)
	ErrSolSenderDefined          = sentinel(CodeSolSenderDefined)
	ErrSolSenderUndefined        = sentinel(CodeSolSenderUndefined)
	ErrSplSenderDefined          = sentinel(CodeSplSenderDefined)
	ErrSplSenderUndefined        = sentinel(CodeSplSenderUndefined)
	ErrRelayerUndefined          = sentinel(CodeRelayerUndefined)
	ErrInvalidPublicAmount       = sentinel(CodeInvalidPublicAmount)
	ErrPublicAmountTooLarge      = sentinel(CodePublicAmountTooLarge)
	ErrExceededMaxAssets         = sentinel(CodeExceededMaxAssets)
	ErrPoolKeyUndefined          = sentinel(CodePoolKeyUndefined)
	ErrFieldOverflow             = sentinel(CodeFieldOverflow)

	ErrRecipientsSumAmountMismatch = sentinel(CodeRecipientsSumAmountMismatch)
	ErrAmountOverflow              = sentinel(CodeAmountOverflow)

	ErrAssetNotFound          = sentinel(CodeAssetNotFound)
	ErrProgramNotFound        = sentinel(CodeProgramNotFound)
	ErrInvalidLength          = sentinel(CodeInvalidLength)
	ErrMalformedBuffer        = sentinel(CodeMalformedBuffer)
	ErrCompressedProgramUtxo  = sentinel(CodeCompressedProgramUtxo)
	ErrEncryptedUtxosTooLarge = sentinel(CodeEncryptedUtxosTooLarge)

	ErrDecryptionFailed   = sentinel(CodeDecryptionFailed)
	ErrCommitmentMismatch = sentinel(CodeCommitmentMismatch)

	ErrFailedToFindUtxoCombination = sentinel(CodeFailedToFindUtxoCombination)

	ErrCircuitNotRegistered = sentinel(CodeCircuitNotRegistered)
	ErrInvalidWitness       = sentinel(CodeInvalidWitness)
	ErrProofFailed          = sentinel(CodeProofFailed)
	ErrVerificationFailed   = sentinel(CodeVerificationFailed)

	ErrStorageFailure = sentinel(CodeStorageFailure)
)
