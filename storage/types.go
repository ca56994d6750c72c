package storage

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/types"
)

// Account is the persisted registration view of an address.
type Account struct {
	Address   common.Address          `cbor:"0,keyasint"`
	PublicKey *bjj.Point              `cbor:"1,keyasint,omitempty"`
	State     types.RegistrationState `cbor:"2,keyasint"`
	// RegistrationTx is the hash of the registration transaction, set while
	// the account is Registering and kept once Registered.
	RegistrationTx *common.Hash `cbor:"3,keyasint,omitempty"`
	UpdatedAt      time.Time    `cbor:"4,keyasint"`
}

// Balance is the confirmed shadow balance of an (account, token) pair.
type Balance struct {
	Account   common.Address `cbor:"0,keyasint"`
	Token     common.Address `cbor:"1,keyasint"`
	Confirmed *types.BigInt  `cbor:"2,keyasint"`
}

// Delta is a signed change of one (account, token) shadow balance.
type Delta struct {
	Account common.Address `cbor:"0,keyasint"`
	Token   common.Address `cbor:"1,keyasint"`
	Amount  *types.BigInt  `cbor:"2,keyasint"`
}

// ParkedReservation is a reservation whose transaction was broadcast but not
// confirmed in time. It stays until reconciliation commits or rolls it back.
type ParkedReservation struct {
	ID        string          `cbor:"0,keyasint"`
	TxHash    common.Hash     `cbor:"1,keyasint"`
	Operation types.Operation `cbor:"2,keyasint"`
	Deltas    []Delta         `cbor:"3,keyasint"`
	ParkedAt  time.Time       `cbor:"4,keyasint"`
}
