package web3

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/web3/rpc"
)

const (
	// web3QueryTimeout bounds a single contract read.
	web3QueryTimeout = 10 * time.Second
	// DefaultGasLimit is the gas limit of every transaction. Groth16
	// verification on chain is expensive, so it is not estimated.
	DefaultGasLimit = 10_000_000
	// DefaultPollInterval is the period between two receipt queries.
	DefaultPollInterval = 2 * time.Second
)

var _ ledger.Gateway = (*Contracts)(nil)

// Addresses contains the addresses of the contracts deployed in the network.
type Addresses struct {
	Registrar    common.Address
	EncryptedERC common.Address
	Token        common.Address
}

// Backend is what Contracts needs from the chain: the contract backends
// plus receipts and block numbers.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Contracts contains the bindings to the deployed contracts. It implements
// ledger.Gateway.
type Contracts struct {
	chainID      *big.Int
	addresses    Addresses
	registrar    *bind.BoundContract
	encryptedERC *bind.BoundContract
	token        *bind.BoundContract
	backend      Backend
	web3pool     *rpc.Web3Pool
	gasLimit     uint64
	pollInterval time.Duration

	nonceMu    sync.Mutex
	nonceLocks map[common.Address]*sync.Mutex
}

// NewContracts creates a new Contracts instance with the given web3 endpoint.
func NewContracts(addresses *Addresses, web3rpc string) (*Contracts, error) {
	w3pool := rpc.NewWeb3Pool()
	chainID, err := w3pool.AddEndpoint(web3rpc)
	if err != nil {
		return nil, fmt.Errorf("failed to add web3 endpoint: %w", err)
	}
	cli, err := w3pool.Client(chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	c := newContracts(addresses, chainID, cli)
	c.web3pool = w3pool
	return c, nil
}

// newContracts binds the contracts on backend.
func newContracts(addresses *Addresses, chainID uint64, backend Backend) *Contracts {
	bound := func(addr common.Address, parsed abi.ABI) *bind.BoundContract {
		return bind.NewBoundContract(addr, parsed, backend, backend, backend)
	}
	return &Contracts{
		chainID:      new(big.Int).SetUint64(chainID),
		addresses:    *addresses,
		registrar:    bound(addresses.Registrar, registrarContractABI),
		encryptedERC: bound(addresses.EncryptedERC, encryptedERCContractABI),
		token:        bound(addresses.Token, erc20ContractABI),
		backend:      backend,
		gasLimit:     DefaultGasLimit,
		pollInterval: DefaultPollInterval,
		nonceLocks:   make(map[common.Address]*sync.Mutex),
	}
}

// AddWeb3Endpoint adds a new web3 endpoint to the pool.
func (c *Contracts) AddWeb3Endpoint(web3rpc string) error {
	if c.web3pool == nil {
		return fmt.Errorf("contracts not backed by a web3 pool")
	}
	chainID, err := c.web3pool.AddEndpoint(web3rpc)
	if err != nil {
		return err
	}
	if chainID != c.chainID.Uint64() {
		return fmt.Errorf("endpoint %s is on chain %d, expected %s", web3rpc, chainID, c.chainID)
	}
	return nil
}

// SetGasLimit changes the gas limit of the transactions sent.
func (c *Contracts) SetGasLimit(limit uint64) {
	c.gasLimit = limit
}

// SetPollInterval changes the period between two receipt queries.
func (c *Contracts) SetPollInterval(interval time.Duration) {
	c.pollInterval = interval
}

// Addresses returns the addresses of the bound contracts.
func (c *Contracts) Addresses() Addresses {
	return c.addresses
}

// Close releases the web3 clients.
func (c *Contracts) Close() {
	if c.web3pool != nil {
		c.web3pool.Close()
	}
}

// ChainID returns the chain the contracts are deployed on.
func (c *Contracts) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Token returns the address of the underlying ERC20 token.
func (c *Contracts) Token() common.Address {
	return c.addresses.Token
}

// nonceLock returns the lock serializing the transactions of addr, so two
// concurrent operations of the same wallet never get the same nonce.
func (c *Contracts) nonceLock(addr common.Address) *sync.Mutex {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	l, ok := c.nonceLocks[addr]
	if !ok {
		l = &sync.Mutex{}
		c.nonceLocks[addr] = l
	}
	return l
}

// authTransactOpts helper method creates the transact options of w. It
// sets the nonce, the gas tip cap and the gas limit. The caller must hold
// the nonce lock of the wallet until the transaction is sent.
func (c *Contracts) authTransactOpts(ctx context.Context, w ledger.Wallet) (*bind.TransactOpts, error) {
	auth, err := w.TransactOpts(c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	qctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	defer cancel()
	// set the nonce
	log.Debugw("getting nonce", "address", w.Address().Hex())
	nonce, err := c.backend.PendingNonceAt(qctx, w.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	auth.Nonce = new(big.Int).SetUint64(nonce)
	// set the gas tip cap
	if auth.GasTipCap, err = c.backend.SuggestGasTipCap(qctx); err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	// set the gas limit
	auth.GasLimit = c.gasLimit
	auth.Context = ctx
	return auth, nil
}

// transact sends a transaction calling method of contract, signed by w.
func (c *Contracts) transact(ctx context.Context, w ledger.Wallet, contract *bind.BoundContract,
	method string, args ...any,
) (common.Hash, error) {
	lock := c.nonceLock(w.Address())
	lock.Lock()
	defer lock.Unlock()
	opts, err := c.authTransactOpts(ctx, w)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := contract.Transact(opts, method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send %s: %w", method, err)
	}
	log.Debugw("transaction sent",
		"method", method,
		"from", w.Address().Hex(),
		"nonce", tx.Nonce(),
		"hash", tx.Hash().Hex())
	return tx.Hash(), nil
}

// call reads method of contract into a single output value.
func call[T any](ctx context.Context, contract *bind.BoundContract, method string, args ...any) (T, error) {
	var zero T
	qctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	defer cancel()
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: qctx}, &out, method, args...); err != nil {
		return zero, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(out) == 0 {
		return zero, fmt.Errorf("empty result from %s", method)
	}
	v, ok := abi.ConvertType(out[0], new(T)).(*T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T from %s", out[0], method)
	}
	return *v, nil
}

// Receipt returns the receipt of a mined transaction, or
// ledger.ErrTxNotFound while it is unknown or pending.
func (c *Contracts) Receipt(ctx context.Context, hash common.Hash) (*ledger.Receipt, error) {
	r, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if err == ethereum.NotFound || rpc.IsNotFound(err) {
			return nil, ledger.ErrTxNotFound
		}
		return nil, fmt.Errorf("failed to get receipt of %s: %w", hash.Hex(), err)
	}
	return &ledger.Receipt{
		Hash:        hash,
		BlockNumber: r.BlockNumber.Uint64(),
		Success:     r.Status == types.ReceiptStatusSuccessful,
	}, nil
}

// WaitTx polls the receipt of hash until it is mined, ctx is done or
// timeout elapses.
func (c *Contracts) WaitTx(ctx context.Context, hash common.Hash, timeout time.Duration) (*ledger.Receipt, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		r, err := c.Receipt(ctx, hash)
		switch {
		case err == nil:
			return r, nil
		case err != ledger.ErrTxNotFound:
			log.Warnw("failed to get receipt, retrying", "hash", hash.Hex(), "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ledger.ErrWaitTimeout
		case <-ticker.C:
		}
	}
}
