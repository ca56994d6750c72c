// Package sequencer drives the protocol operations of the encrypted ERC
// client: registration, deposit, withdraw and transfer. Each operation walks
// the same state machine:
//
//	Idle -> Validating -> ProofPending -> Submitted -> Confirmed
//
// and moves to Failed from any non terminal state. Validation happens before
// any proof is requested, shadow balance reservations are taken before the
// proof and resolved only once the ledger outcome is known, and transactions
// whose outcome is unknown after the confirmation timeout are parked until
// Reconcile (or the background reconciler) learns it.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/proofs"
	"github.com/vocdoni/eerc-client/registry"
	"github.com/vocdoni/eerc-client/shadow"
	"github.com/vocdoni/eerc-client/storage"
	"github.com/vocdoni/eerc-client/types"
)

const (
	// DefaultConfirmationTimeout bounds the wait for a transaction receipt.
	DefaultConfirmationTimeout = 2 * time.Minute
	// DefaultReconcileInterval is the period of the background reconciler.
	DefaultReconcileInterval = 30 * time.Second
)

// Config tunes a Sequencer. Zero values take the defaults.
type Config struct {
	ConfirmationTimeout time.Duration
	ReconcileInterval   time.Duration
	TrackedOperations   int
}

// Sequencer runs protocol operations against a ledger.
type Sequencer struct {
	gw       ledger.Gateway
	registry *registry.Registry
	shadow   *shadow.Store
	proofs   *proofs.Orchestrator
	stg      *storage.Storage
	ops      *tracker

	confirmationTimeout time.Duration
	reconcileInterval   time.Duration

	registeringMu sync.Mutex
	registering   map[common.Address]struct{}

	tokenMu sync.Mutex
	token   *ledger.TokenInfo

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Sequencer over the given components.
//
// Parameters:
//   - gw: ledger gateway used for reads and submissions
//   - reg: account registry, also used by the proof orchestrator
//   - sh: shadow balance store
//   - orch: proof orchestrator
//   - stg: storage where transaction records are written
//   - conf: timeouts and tracking limits
func New(gw ledger.Gateway, reg *registry.Registry, sh *shadow.Store, orch *proofs.Orchestrator,
	stg *storage.Storage, conf Config,
) (*Sequencer, error) {
	switch {
	case gw == nil:
		return nil, fmt.Errorf("ledger gateway cannot be nil")
	case reg == nil:
		return nil, fmt.Errorf("registry cannot be nil")
	case sh == nil:
		return nil, fmt.Errorf("shadow store cannot be nil")
	case orch == nil:
		return nil, fmt.Errorf("proof orchestrator cannot be nil")
	case stg == nil:
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if conf.ConfirmationTimeout <= 0 {
		conf.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if conf.ReconcileInterval <= 0 {
		conf.ReconcileInterval = DefaultReconcileInterval
	}
	ops, err := newTracker(conf.TrackedOperations)
	if err != nil {
		return nil, err
	}
	s := &Sequencer{
		gw:                  gw,
		registry:            reg,
		shadow:              sh,
		proofs:              orch,
		stg:                 stg,
		ops:                 ops,
		confirmationTimeout: conf.ConfirmationTimeout,
		reconcileInterval:   conf.ReconcileInterval,
		registering:         make(map[common.Address]struct{}),
	}
	log.Debugw("sequencer created",
		"chainID", gw.ChainID().String(),
		"token", gw.Token().Hex(),
		"confirmationTimeout", conf.ConfirmationTimeout.String())
	return s, nil
}

// Start launches the background reconciler, which periodically resolves the
// parked transactions. It runs until ctx is canceled or Stop is called.
func (s *Sequencer) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("context cannot be nil")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	ticker := time.NewTicker(s.reconcileInterval)
	go func() {
		defer ticker.Stop()
		log.Infow("reconciler started", "interval", s.reconcileInterval.String())
		for {
			select {
			case <-s.ctx.Done():
				log.Infow("reconciler stopped")
				return
			case <-ticker.C:
				s.reconcileParked(s.ctx)
			}
		}
	}()
	return nil
}

// Stop cancels the background reconciler. It is safe to call Stop multiple
// times.
func (s *Sequencer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Operation returns the tracked operation id.
func (s *Sequencer) Operation(id string) (*Operation, bool) {
	return s.ops.get(id)
}

// Registry returns the account registry.
func (s *Sequencer) Registry() *registry.Registry {
	return s.registry
}

// Gateway returns the ledger gateway.
func (s *Sequencer) Gateway() ledger.Gateway {
	return s.gw
}

// TokenInfo returns the metadata of the underlying token. It is fetched
// once and kept for the life of the sequencer.
func (s *Sequencer) TokenInfo(ctx context.Context) (*ledger.TokenInfo, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if s.token != nil {
		return s.token, nil
	}
	info, err := s.gw.TokenInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("query token info: %w", err)
	}
	s.token = info
	return info, nil
}

// parseAmount converts a decimal amount to token units and requires it to
// be positive.
func (s *Sequencer) parseAmount(ctx context.Context, amount string) (*big.Int, error) {
	info, err := s.TokenInfo(ctx)
	if err != nil {
		return nil, err
	}
	v, err := types.ParseUnits(amount, info.Decimals)
	if err != nil {
		return nil, err
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", types.ErrValidation)
	}
	return v, nil
}

// registeredKey returns the key registered for the credentials address and
// checks the credentials derive the same key.
func (s *Sequencer) registeredKey(ctx context.Context, creds *Credentials) error {
	pk, err := s.registry.RegisteredKey(ctx, creds.Address())
	if err != nil {
		return err
	}
	if !pk.Equal(creds.Keypair.PublicKey) {
		return fmt.Errorf("%w: derived key %s, registered key %s", types.ErrKeyMismatch, creds.Keypair.PublicKey, pk)
	}
	return nil
}

// await waits for the receipt of hash. The wait is detached from the
// cancellation of ctx: once a transaction is broadcast its outcome has to
// be learned, so only the confirmation timeout bounds it.
func (s *Sequencer) await(ctx context.Context, hash common.Hash) (*ledger.Receipt, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.confirmationTimeout)
	defer cancel()
	return s.gw.WaitTx(wctx, hash, s.confirmationTimeout)
}

// settle resolves the reservation of a broadcast transaction: commit on
// success, rollback on revert and park when the outcome is unknown.
func (s *Sequencer) settle(ctx context.Context, o *Operation, r *shadow.Reservation,
	hash common.Hash, rec *types.TransactionRecord,
) (*types.TransactionRecord, error) {
	receipt, err := s.await(ctx, hash)
	if err != nil {
		if perr := s.shadow.Park(r, hash); perr != nil {
			log.Errorw(perr, "cannot park reservation", "tx", hash.Hex(), "reservation", r.ID)
		}
		return nil, s.ops.fail(o, fmt.Errorf("%w: %v", types.ErrConfirmationTimeout, err))
	}
	if !receipt.Success {
		if rerr := s.shadow.Rollback(r); rerr != nil {
			log.Errorw(rerr, "cannot roll back reservation", "tx", hash.Hex(), "reservation", r.ID)
		}
		// a stale auditor key is the usual cause of a rejected proof
		s.proofs.Auditor().Invalidate()
		return nil, s.ops.fail(o, fmt.Errorf("%w: transaction %s reverted", types.ErrLedgerSubmission, hash.Hex()))
	}
	rec.BlockNumber = receipt.BlockNumber
	rec.Timestamp = time.Now()
	if err := s.shadow.Commit(context.WithoutCancel(ctx), r, rec); err != nil {
		// the chain applied it, keep the deltas pending until reconciled
		if perr := s.shadow.Park(r, hash); perr != nil {
			log.Errorw(perr, "cannot park reservation", "tx", hash.Hex(), "reservation", r.ID)
		}
		return nil, s.ops.fail(o, fmt.Errorf("record confirmed transaction %s: %w", hash.Hex(), err))
	}
	s.ops.transition(o, types.StateConfirmed)
	log.Infow("operation confirmed",
		"id", o.ID,
		"op", o.Op.String(),
		"tx", hash.Hex(),
		"block", receipt.BlockNumber)
	return rec, nil
}

// rollbackAndFail rolls back r, if any, and fails o with err.
func (s *Sequencer) rollbackAndFail(o *Operation, r *shadow.Reservation, err error) error {
	if r != nil {
		if rerr := s.shadow.Rollback(r); rerr != nil && !errors.Is(rerr, shadow.ErrReservationDone) {
			log.Errorw(rerr, "cannot roll back reservation", "reservation", r.ID)
		}
	}
	return s.ops.fail(o, err)
}

// submitted moves o to Submitted, failing it if ctx was canceled while the
// proof was generated.
func (s *Sequencer) submitted(ctx context.Context, o *Operation, r *shadow.Reservation) error {
	if err := ctx.Err(); err != nil {
		return s.rollbackAndFail(o, r, err)
	}
	s.ops.transition(o, types.StateSubmitted)
	return nil
}

// Balance is the balance view of an address.
type Balance struct {
	Address      common.Address    `json:"address"`
	Token        *ledger.TokenInfo `json:"token"`
	Registered   bool              `json:"registered"`
	Public       *types.BigInt     `json:"public"`
	PublicText   string            `json:"publicFormatted"`
	Shielded     *types.BigInt     `json:"shielded"`
	ShieldedText string            `json:"shieldedFormatted"`
	PendingDelta *types.BigInt     `json:"pendingDelta"`
}

// Balance returns the public token balance of addr and its shadow balance
// on the encrypted token.
func (s *Sequencer) Balance(ctx context.Context, addr common.Address) (*Balance, error) {
	info, err := s.TokenInfo(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := s.registry.Status(ctx, addr)
	if err != nil {
		return nil, err
	}
	public, err := s.gw.PublicBalanceOf(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("query public balance of %s: %w", addr.Hex(), err)
	}
	sb, err := s.shadow.Balance(shadow.Key{Account: addr, Token: s.gw.Token()})
	if err != nil {
		return nil, fmt.Errorf("read shadow balance of %s: %w", addr.Hex(), err)
	}
	return &Balance{
		Address:      addr,
		Token:        info,
		Registered:   acc.State == types.Registered,
		Public:       types.BigIntFrom(public),
		PublicText:   types.FormatUnits(public, info.Decimals),
		Shielded:     types.BigIntFrom(sb.Confirmed),
		ShieldedText: types.FormatUnits(sb.Confirmed, info.Decimals),
		PendingDelta: types.BigIntFrom(sb.PendingDelta),
	}, nil
}

// Result is the outcome of a confirmed operation.
type Result struct {
	OperationID string                   `json:"operationId"`
	Record      *types.TransactionRecord `json:"transaction"`
}
