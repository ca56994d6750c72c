// Package ledger defines the boundary between the protocol client and the
// chain: the read and write operations on the registrar, the encrypted ERC
// and the underlying ERC20 contracts. The web3 package provides the
// go-ethereum implementation and Mock an in-memory one.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/crypto/bjj"
)

var (
	// ErrTxNotFound is returned by Receipt while a transaction is unknown
	// or still pending.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrWaitTimeout is returned by WaitTx when no receipt arrived in time.
	ErrWaitTimeout = errors.New("timeout waiting for transaction")
)

// Wallet signs transactions on behalf of a public address.
type Wallet interface {
	Address() common.Address
	TransactOpts(chainID *big.Int) (*bind.TransactOpts, error)
}

// Proof is a Groth16 proof with its public signals, in the layout the
// verifier contracts take: the proof flattened to eight uint256 values.
type Proof struct {
	Points        [8]*big.Int
	PublicSignals []*big.Int
}

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	Hash        common.Hash
	BlockNumber uint64
	Success     bool
}

// TokenInfo is the metadata of the underlying ERC20 token.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Registration is a registration observed on chain.
type Registration struct {
	Address     common.Address
	PublicKey   *bjj.Point
	BlockNumber uint64
}

// Gateway is every ledger interaction the client needs.
type Gateway interface {
	ChainID() *big.Int
	Token() common.Address

	IsRegistered(ctx context.Context, addr common.Address) (bool, error)
	PublicKey(ctx context.Context, addr common.Address) (*bjj.Point, error)
	AuditorPublicKey(ctx context.Context) (*bjj.Point, error)
	TokenID(ctx context.Context) (*big.Int, error)
	TokenInfo(ctx context.Context) (*TokenInfo, error)
	Allowance(ctx context.Context, owner common.Address) (*big.Int, error)
	PublicBalanceOf(ctx context.Context, addr common.Address) (*big.Int, error)

	SubmitRegistration(ctx context.Context, w Wallet, publicKey *bjj.Point, proof *Proof) (common.Hash, error)
	SubmitApproval(ctx context.Context, w Wallet, amount *big.Int) (common.Hash, error)
	SubmitDeposit(ctx context.Context, w Wallet, amount *big.Int, proof *Proof) (common.Hash, error)
	SubmitWithdraw(ctx context.Context, w Wallet, amount *big.Int, proof *Proof) (common.Hash, error)
	SubmitTransfer(ctx context.Context, w Wallet, to common.Address, proof *Proof) (common.Hash, error)

	// WaitTx blocks until the transaction is mined, ctx is done or timeout
	// elapses, in which case it returns ErrWaitTimeout.
	WaitTx(ctx context.Context, hash common.Hash, timeout time.Duration) (*Receipt, error)
	// Receipt returns the receipt if the transaction is mined, or
	// ErrTxNotFound.
	Receipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}
