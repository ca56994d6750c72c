package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/sequencer"
	"github.com/vocdoni/eerc-client/types"
)

// Registration methods reported back to the caller.
const (
	MethodSignature  = "signature"
	MethodPrivateKey = "privateKey"
)

// Credentials identify the caller of an operation. Address and Signature
// (the signature of the registration message) are the production method.
// PrivateKey is only accepted when the service runs in development mode.
type Credentials struct {
	Address    *common.Address `json:"address,omitempty"`
	Signature  string          `json:"signature,omitempty"`
	PrivateKey string          `json:"privateKey,omitempty"`
}

// RegisterRequest is the body of a registration request.
type RegisterRequest struct {
	Credentials
}

// RegisterResponse is the outcome of a registration.
type RegisterResponse struct {
	*sequencer.RegisterResult
	Method string `json:"registrationMethod"`
}

// AmountRequest is the body of a deposit or a withdrawal. Amount is a
// decimal string in whole tokens, as in "12.5".
type AmountRequest struct {
	Credentials
	Amount string `json:"amount"`
}

// TransferRequest is the body of a shielded transfer.
type TransferRequest struct {
	Credentials
	To     common.Address `json:"to"`
	Amount string         `json:"amount"`
}

// FaucetRequest is the body of a faucet request.
type FaucetRequest struct {
	Address common.Address `json:"address"`
}

// FaucetResponse is the outcome of a faucet request.
type FaucetResponse struct {
	Address         common.Address `json:"address"`
	Token           common.Address `json:"token"`
	Amount          *types.BigInt  `json:"amount"`
	AmountFormatted string         `json:"amountFormatted"`
	TxHash          common.Hash    `json:"txHash"`
	BlockNumber     uint64         `json:"blockNumber"`
}

// UserStatus is the registration status of an address.
type UserStatus struct {
	Address        common.Address          `json:"address"`
	Registered     bool                    `json:"isRegistered"`
	State          types.RegistrationState `json:"state"`
	PublicKey      *bjj.Point              `json:"publicKey,omitempty"`
	RegistrationTx *common.Hash            `json:"registrationTx,omitempty"`
}

// Transactions is a list of confirmed transaction records.
type Transactions struct {
	Transactions []*types.TransactionRecord `json:"transactions"`
}

// ContractsInfo describes the deployment the service is bound to.
type ContractsInfo struct {
	ChainID             uint64         `json:"chainId"`
	Network             string         `json:"network,omitempty"`
	Registrar           common.Address `json:"registrar"`
	EncryptedERC        common.Address `json:"encryptedERC"`
	Token               common.Address `json:"token"`
	DeploymentTimestamp string         `json:"deploymentTimestamp,omitempty"`
}

// Health is the response of the health endpoint.
type Health struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	ChainID   string    `json:"chainId"`
	Timestamp time.Time `json:"timestamp"`
}
