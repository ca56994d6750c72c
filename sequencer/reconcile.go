package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/registry"
	"github.com/vocdoni/eerc-client/shadow"
	"github.com/vocdoni/eerc-client/storage"
	"github.com/vocdoni/eerc-client/types"
)

// ReconcileStatus is the outcome of reconciling a transaction.
type ReconcileStatus string

const (
	// ReconcileConfirmed means the transaction succeeded and its deltas
	// were committed.
	ReconcileConfirmed ReconcileStatus = "confirmed"
	// ReconcileReverted means the transaction failed and its deltas were
	// rolled back.
	ReconcileReverted ReconcileStatus = "reverted"
	// ReconcilePending means the ledger does not know the outcome yet.
	ReconcilePending ReconcileStatus = "pending"
)

// ReconcileResult is the outcome of Reconcile.
type ReconcileResult struct {
	TxHash common.Hash              `json:"txHash"`
	Status ReconcileStatus          `json:"status"`
	Record *types.TransactionRecord `json:"transaction,omitempty"`
}

// Reconcile learns the outcome of a transaction that timed out. A parked
// reservation is committed if the transaction succeeded, rolled back if it
// reverted and left untouched while the ledger has no receipt. A pending
// registration is resolved the same way. Reconciling a transaction already
// recorded returns its record.
func (s *Sequencer) Reconcile(ctx context.Context, hash common.Hash) (*ReconcileResult, error) {
	if r, ok := s.shadow.ParkedByTx(hash); ok {
		return s.reconcileReservation(ctx, r)
	}
	accounts, err := s.registry.Accounts()
	if err != nil {
		return nil, err
	}
	for _, acc := range accounts {
		if acc.State != types.Registering || acc.RegistrationTx == nil || *acc.RegistrationTx != hash {
			continue
		}
		return s.reconcileRegistration(ctx, acc)
	}
	return s.recorded(hash)
}

// reconcileRegistration resolves the pending registration of acc. A
// registration whose Register call is still waiting for it is reported as
// pending and left to that call.
func (s *Sequencer) reconcileRegistration(ctx context.Context, acc *registry.Account) (*ReconcileResult, error) {
	hash := *acc.RegistrationTx
	if !s.lockRegistration(acc.Address) {
		return &ReconcileResult{TxHash: hash, Status: ReconcilePending}, nil
	}
	defer s.unlockRegistration(acc.Address)
	// the Register call that held the address may have resolved it
	stored, err := s.stg.Account(acc.Address)
	if err != nil {
		return nil, fmt.Errorf("read account %s: %w", acc.Address.Hex(), err)
	}
	if stored.State != types.Registering || stored.RegistrationTx == nil || *stored.RegistrationTx != hash {
		return s.recorded(hash)
	}
	resolved, err := s.resolvePendingRegistration(ctx, acc)
	if errors.Is(err, types.ErrConfirmationTimeout) {
		return &ReconcileResult{TxHash: hash, Status: ReconcilePending}, nil
	}
	if err != nil {
		return nil, err
	}
	if resolved.State != types.Registered {
		return &ReconcileResult{TxHash: hash, Status: ReconcileReverted}, nil
	}
	return s.recorded(hash)
}

// recorded returns the stored record of hash as a confirmed result.
func (s *Sequencer) recorded(hash common.Hash) (*ReconcileResult, error) {
	rec, err := s.stg.Transaction(hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown transaction %s", types.ErrValidation, hash.Hex())
		}
		return nil, err
	}
	return &ReconcileResult{TxHash: hash, Status: ReconcileConfirmed, Record: rec}, nil
}

func (s *Sequencer) reconcileReservation(ctx context.Context, r *shadow.Reservation) (*ReconcileResult, error) {
	res := &ReconcileResult{TxHash: r.TxHash}
	receipt, err := s.gw.Receipt(ctx, r.TxHash)
	switch {
	case errors.Is(err, ledger.ErrTxNotFound):
		res.Status = ReconcilePending
		return res, nil
	case err != nil:
		return nil, fmt.Errorf("query receipt %s: %w", r.TxHash.Hex(), err)
	case !receipt.Success:
		if err := s.shadow.Rollback(r); err != nil {
			return nil, fmt.Errorf("roll back %s: %w", r.TxHash.Hex(), err)
		}
		s.proofs.Auditor().Invalidate()
		log.Infow("parked transaction reverted", "tx", r.TxHash.Hex(), "op", r.Operation.String())
		res.Status = ReconcileReverted
		return res, nil
	}
	rec := recordOf(r, receipt)
	if err := s.shadow.Commit(ctx, r, rec); err != nil {
		return nil, fmt.Errorf("commit %s: %w", r.TxHash.Hex(), err)
	}
	log.Infow("parked transaction confirmed", "tx", r.TxHash.Hex(), "op", r.Operation.String(), "block", receipt.BlockNumber)
	res.Status = ReconcileConfirmed
	res.Record = rec
	return res, nil
}

// recordOf rebuilds the transaction record of a parked reservation from its
// deltas: the debited account is the sender, the credited one the
// receiver, and a deposit only has a credit.
func recordOf(r *shadow.Reservation, receipt *ledger.Receipt) *types.TransactionRecord {
	rec := &types.TransactionRecord{
		Hash:        r.TxHash,
		BlockNumber: receipt.BlockNumber,
		Operation:   r.Operation,
		Timestamp:   time.Now(),
	}
	for _, d := range r.Deltas() {
		switch d.Amount.Sign() {
		case -1:
			rec.From = d.Account
			rec.Amount = types.BigIntFrom(new(big.Int).Neg(d.Amount))
		case 1:
			if r.Operation == types.OperationTransfer {
				rec.To = d.Account
			} else {
				rec.From = d.Account
			}
			if rec.Amount == nil {
				rec.Amount = types.BigIntFrom(d.Amount)
			}
		}
	}
	return rec
}

// reconcileParked runs Reconcile over every parked reservation and every
// registration left pending.
func (s *Sequencer) reconcileParked(ctx context.Context) {
	hashes := make(map[common.Hash]struct{})
	for _, r := range s.shadow.Parked() {
		hashes[r.TxHash] = struct{}{}
	}
	accounts, err := s.registry.Accounts()
	if err != nil {
		log.Warnw("cannot list accounts", "error", err.Error())
	}
	for _, acc := range accounts {
		if acc.State == types.Registering && acc.RegistrationTx != nil && !s.registrationInFlight(acc.Address) {
			hashes[*acc.RegistrationTx] = struct{}{}
		}
	}
	for hash := range hashes {
		if ctx.Err() != nil {
			return
		}
		res, err := s.Reconcile(ctx, hash)
		if err != nil {
			log.Warnw("reconcile failed", "tx", hash.Hex(), "error", err.Error())
			continue
		}
		if res.Status != ReconcilePending {
			log.Infow("transaction reconciled", "tx", hash.Hex(), "status", string(res.Status))
		}
	}
}
