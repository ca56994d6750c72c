package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrValidation is returned for malformed input: bad amounts, bad
	// addresses or unparseable requests.
	ErrValidation = errors.New("validation failed")
	// ErrNotRegistered is returned when an operation involves an account
	// that is not registered in the registrar.
	ErrNotRegistered = errors.New("account not registered")
	// ErrInsufficientBalance is returned when the public or shadow balance
	// cannot cover the requested amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrKeyMismatch is returned when a freshly derived shielded key does not
	// match the key registered for the account. It is not retryable.
	ErrKeyMismatch = errors.New("shielded key mismatch")
	// ErrSignatureVerification is returned when a registration signature
	// does not recover to the claimed address.
	ErrSignatureVerification = errors.New("signature verification failed")
	// ErrKeyDerivation is returned when a signature cannot be turned into a
	// shielded keypair.
	ErrKeyDerivation = errors.New("key derivation failed")
	// ErrProofGeneration is returned when the proving service fails or its
	// output does not pass validation.
	ErrProofGeneration = errors.New("proof generation failed")
	// ErrLedgerSubmission is returned when the ledger rejects or reverts a
	// transaction.
	ErrLedgerSubmission = errors.New("ledger submission failed")
	// ErrConfirmationTimeout is returned when a broadcast transaction was
	// not confirmed in time. Its outcome is unknown and must be reconciled
	// before retrying.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// OperationError carries the context of a failed sequencer operation. It
// wraps one of the package sentinel errors.
type OperationError struct {
	Op     Operation
	State  OperationState
	TxHash *common.Hash
	Err    error
}

func (e *OperationError) Error() string {
	if e.TxHash != nil {
		return fmt.Sprintf("%s failed at %s (tx %s): %v", e.Op, e.State, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("%s failed at %s: %v", e.Op, e.State, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether submitting the same operation again is safe and
// may succeed. Confirmation timeouts are not retryable until reconciled.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrKeyMismatch),
		errors.Is(err, ErrSignatureVerification),
		errors.Is(err, ErrKeyDerivation),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfirmationTimeout):
		return false
	case errors.Is(err, ErrProofGeneration),
		errors.Is(err, ErrLedgerSubmission),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrNotRegistered):
		return true
	default:
		return false
	}
}
