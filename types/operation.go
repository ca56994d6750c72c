package types

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Operation identifies a balance-changing protocol action.
type Operation uint8

const (
	OperationRegister Operation = iota
	OperationDeposit
	OperationWithdraw
	OperationTransfer
	OperationApprove
)

var operationNames = map[Operation]string{
	OperationRegister: "register",
	OperationDeposit:  "deposit",
	OperationWithdraw: "withdraw",
	OperationTransfer: "transfer",
	OperationApprove:  "approve",
}

func (o Operation) String() string {
	if name, ok := operationNames[o]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", uint8(o))
}

func (o Operation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Operation) UnmarshalText(data []byte) error {
	for op, name := range operationNames {
		if name == string(data) {
			*o = op
			return nil
		}
	}
	return fmt.Errorf("unknown operation %q", data)
}

// RegistrationState is the lifecycle of an account in the registrar.
type RegistrationState uint8

const (
	Unregistered RegistrationState = iota
	Registering
	Registered
)

func (s RegistrationState) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	default:
		return fmt.Sprintf("registrationState(%d)", uint8(s))
	}
}

func (s RegistrationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RegistrationState) UnmarshalText(data []byte) error {
	switch string(data) {
	case "unregistered":
		*s = Unregistered
	case "registering":
		*s = Registering
	case "registered":
		*s = Registered
	default:
		return fmt.Errorf("unknown registration state %q", data)
	}
	return nil
}

// OperationState is the state of a single in-flight operation in the
// sequencer. Confirmed and Failed are terminal.
type OperationState uint8

const (
	StateIdle OperationState = iota
	StateValidating
	StateProofPending
	StateSubmitted
	StateConfirmed
	StateFailed
)

var operationStateNames = map[OperationState]string{
	StateIdle:         "idle",
	StateValidating:   "validating",
	StateProofPending: "proofPending",
	StateSubmitted:    "submitted",
	StateConfirmed:    "confirmed",
	StateFailed:       "failed",
}

func (s OperationState) String() string {
	if name, ok := operationStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("operationState(%d)", uint8(s))
}

func (s OperationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OperationState) UnmarshalText(data []byte) error {
	for state, name := range operationStateNames {
		if name == string(data) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown operation state %q", data)
}

// Terminal reports whether no further transition is allowed from s.
func (s OperationState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// CanTransition reports whether moving from s to next is a legal step of
// the operation state machine.
func (s OperationState) CanTransition(next OperationState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	return next == s+1
}

// BalanceSnapshot is the shadow balance of one (account, token) pair right
// after a transaction was confirmed.
type BalanceSnapshot struct {
	Account   common.Address `json:"account" cbor:"0,keyasint"`
	Token     common.Address `json:"token" cbor:"1,keyasint"`
	Confirmed *BigInt        `json:"confirmed" cbor:"2,keyasint"`
}

// TransactionRecord is the immutable local record of a confirmed ledger
// transaction.
type TransactionRecord struct {
	Hash        common.Hash       `json:"hash" cbor:"0,keyasint"`
	BlockNumber uint64            `json:"blockNumber" cbor:"1,keyasint"`
	Operation   Operation         `json:"operation" cbor:"2,keyasint"`
	From        common.Address    `json:"from" cbor:"3,keyasint"`
	To          common.Address    `json:"to,omitempty" cbor:"4,keyasint,omitempty"`
	Amount      *BigInt           `json:"amount,omitempty" cbor:"5,keyasint,omitempty"`
	Balances    []BalanceSnapshot `json:"balances,omitempty" cbor:"6,keyasint,omitempty"`
	Timestamp   time.Time         `json:"timestamp" cbor:"7,keyasint"`
}

// AmountBig returns the record amount as a *big.Int, zero if unset.
func (r *TransactionRecord) AmountBig() *big.Int {
	if r.Amount == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.Amount.MathBigInt())
}
