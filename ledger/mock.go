package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/types"
)

// MockWallet is a Wallet that only knows its address. Mock does not check
// signatures.
type MockWallet common.Address

func (w MockWallet) Address() common.Address {
	return common.Address(w)
}

func (w MockWallet) TransactOpts(_ *big.Int) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{From: common.Address(w)}, nil
}

type mockTx struct {
	hash    common.Hash
	op      types.Operation
	from    common.Address
	apply   func()
	receipt *Receipt
	mined   chan struct{}
}

// Mock is an in-memory Gateway for tests. Transactions are mined as soon as
// they are submitted unless their operation is stalled, and they revert if
// their operation is set to revert.
type Mock struct {
	mu          sync.Mutex
	chainID     *big.Int
	token       common.Address
	tokenID     *big.Int
	info        TokenInfo
	auditor     *bjj.Point
	keys        map[common.Address]*bjj.Point
	public      map[common.Address]*big.Int
	allowances  map[common.Address]*big.Int
	txs         map[common.Hash]*mockTx
	submissions map[types.Operation]int
	stalled     map[types.Operation]bool
	reverting   map[types.Operation]bool
	events      []*Registration
	nonce       uint64
	block       uint64
}

// NewMock returns an empty mock ledger for the given chain and token.
func NewMock(chainID uint64, token common.Address, auditor *bjj.Point) *Mock {
	return &Mock{
		chainID:     new(big.Int).SetUint64(chainID),
		token:       token,
		tokenID:     big.NewInt(1),
		info:        TokenInfo{Address: token, Name: "Test Token", Symbol: "TEST", Decimals: 2},
		auditor:     auditor,
		keys:        make(map[common.Address]*bjj.Point),
		public:      make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]*big.Int),
		txs:         make(map[common.Hash]*mockTx),
		submissions: make(map[types.Operation]int),
		stalled:     make(map[types.Operation]bool),
		reverting:   make(map[types.Operation]bool),
	}
}

// SetDecimals changes the decimals reported by TokenInfo.
func (m *Mock) SetDecimals(decimals uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info.Decimals = decimals
}

// SetPublicBalance sets the ERC20 balance of addr.
func (m *Mock) SetPublicBalance(addr common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.public[addr] = new(big.Int).Set(amount)
}

// SetRegistered registers addr with pk directly, without a transaction.
func (m *Mock) SetRegistered(addr common.Address, pk *bjj.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[addr] = pk
}

// SetAuditor replaces the auditor public key.
func (m *Mock) SetAuditor(pk *bjj.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditor = pk
}

// Stall makes transactions of op stay pending until Mine is called.
func (m *Mock) Stall(op types.Operation, stall bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stalled[op] = stall
}

// Revert makes transactions of op be mined with a failed status.
func (m *Mock) Revert(op types.Operation, revert bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reverting[op] = revert
}

// Submissions returns how many transactions of op were submitted.
func (m *Mock) Submissions(op types.Operation) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submissions[op]
}

// Mine mines a stalled transaction.
func (m *Mock) Mine(hash common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[hash]
	if !ok {
		return fmt.Errorf("unknown transaction %s", hash.Hex())
	}
	if tx.receipt != nil {
		return nil
	}
	m.mineLocked(tx, !m.reverting[tx.op])
	return nil
}

func (m *Mock) mineLocked(tx *mockTx, success bool) {
	m.block++
	if success && tx.apply != nil {
		tx.apply()
	}
	tx.receipt = &Receipt{Hash: tx.hash, BlockNumber: m.block, Success: success}
	close(tx.mined)
	log.Debugw("mock transaction mined", "hash", tx.hash.Hex(), "op", tx.op.String(), "success", success)
}

func (m *Mock) submitLocked(op types.Operation, from common.Address, apply func()) common.Hash {
	m.nonce++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, m.nonce)
	tx := &mockTx{
		hash:  common.BytesToHash(crypto.Keccak256(from.Bytes(), buf)),
		op:    op,
		from:  from,
		apply: apply,
		mined: make(chan struct{}),
	}
	m.txs[tx.hash] = tx
	m.submissions[op]++
	if !m.stalled[op] {
		m.mineLocked(tx, !m.reverting[op])
	}
	return tx.hash
}

func (m *Mock) ChainID() *big.Int {
	return new(big.Int).Set(m.chainID)
}

func (m *Mock) Token() common.Address {
	return m.token
}

func (m *Mock) IsRegistered(_ context.Context, addr common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[addr]
	return ok, nil
}

func (m *Mock) PublicKey(_ context.Context, addr common.Address) (*bjj.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pk, ok := m.keys[addr]; ok {
		return pk, nil
	}
	return bjj.New(new(big.Int), new(big.Int)), nil
}

func (m *Mock) AuditorPublicKey(_ context.Context) (*bjj.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auditor == nil {
		return nil, fmt.Errorf("auditor key not set")
	}
	return m.auditor, nil
}

func (m *Mock) TokenID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.tokenID), nil
}

func (m *Mock) TokenInfo(_ context.Context) (*TokenInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.info
	return &info, nil
}

func (m *Mock) Allowance(_ context.Context, owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(m.allowances, owner), nil
}

func (m *Mock) PublicBalanceOf(_ context.Context, addr common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(m.public, addr), nil
}

func (m *Mock) balanceLocked(balances map[common.Address]*big.Int, addr common.Address) *big.Int {
	if b, ok := balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (m *Mock) SubmitRegistration(_ context.Context, w Wallet, publicKey *bjj.Point, proof *Proof) (common.Hash, error) {
	if proof == nil || publicKey == nil {
		return common.Hash{}, fmt.Errorf("missing registration proof")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := w.Address()
	if _, ok := m.keys[addr]; ok {
		return common.Hash{}, fmt.Errorf("execution reverted: user already registered")
	}
	return m.submitLocked(types.OperationRegister, addr, func() {
		m.keys[addr] = publicKey
		m.events = append(m.events, &Registration{Address: addr, PublicKey: publicKey, BlockNumber: m.block})
	}), nil
}

func (m *Mock) SubmitApproval(_ context.Context, w Wallet, amount *big.Int) (common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := w.Address()
	allowance := new(big.Int).Set(amount)
	return m.submitLocked(types.OperationApprove, addr, func() {
		m.allowances[addr] = allowance
	}), nil
}

func (m *Mock) SubmitDeposit(_ context.Context, w Wallet, amount *big.Int, proof *Proof) (common.Hash, error) {
	if proof == nil {
		return common.Hash{}, fmt.Errorf("missing deposit proof")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := w.Address()
	if m.balanceLocked(m.allowances, addr).Cmp(amount) < 0 {
		return common.Hash{}, fmt.Errorf("execution reverted: insufficient allowance")
	}
	if m.balanceLocked(m.public, addr).Cmp(amount) < 0 {
		return common.Hash{}, fmt.Errorf("execution reverted: insufficient balance")
	}
	amt := new(big.Int).Set(amount)
	return m.submitLocked(types.OperationDeposit, addr, func() {
		m.public[addr] = new(big.Int).Sub(m.balanceLocked(m.public, addr), amt)
		m.allowances[addr] = new(big.Int).Sub(m.balanceLocked(m.allowances, addr), amt)
	}), nil
}

func (m *Mock) SubmitWithdraw(_ context.Context, w Wallet, amount *big.Int, proof *Proof) (common.Hash, error) {
	if proof == nil {
		return common.Hash{}, fmt.Errorf("missing withdraw proof")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := w.Address()
	amt := new(big.Int).Set(amount)
	return m.submitLocked(types.OperationWithdraw, addr, func() {
		m.public[addr] = new(big.Int).Add(m.balanceLocked(m.public, addr), amt)
	}), nil
}

func (m *Mock) SubmitTransfer(_ context.Context, w Wallet, to common.Address, proof *Proof) (common.Hash, error) {
	if proof == nil {
		return common.Hash{}, fmt.Errorf("missing transfer proof")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[to]; !ok {
		return common.Hash{}, fmt.Errorf("execution reverted: receiver not registered")
	}
	return m.submitLocked(types.OperationTransfer, w.Address(), nil), nil
}

func (m *Mock) WaitTx(ctx context.Context, hash common.Hash, timeout time.Duration) (*Receipt, error) {
	m.mu.Lock()
	tx, ok := m.txs[hash]
	m.mu.Unlock()
	if !ok {
		return nil, ErrTxNotFound
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tx.mined:
		m.mu.Lock()
		defer m.mu.Unlock()
		r := *tx.receipt
		return &r, nil
	case <-timer.C:
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Mock) Receipt(_ context.Context, hash common.Hash) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[hash]
	if !ok || tx.receipt == nil {
		return nil, ErrTxNotFound
	}
	r := *tx.receipt
	return &r, nil
}

// MonitorRegistrations sends every registration mined from now on, polling
// every interval.
func (m *Mock) MonitorRegistrations(ctx context.Context, interval time.Duration) (<-chan *Registration, error) {
	m.mu.Lock()
	next := len(m.events)
	m.mu.Unlock()
	ch := make(chan *Registration)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				events := append([]*Registration{}, m.events[next:]...)
				next = len(m.events)
				m.mu.Unlock()
				for _, ev := range events {
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}
