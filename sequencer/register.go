package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/registry"
	"github.com/vocdoni/eerc-client/types"
)

// RegisterResult is the outcome of Register.
type RegisterResult struct {
	OperationID       string         `json:"operationId,omitempty"`
	Address           common.Address `json:"address"`
	PublicKey         *bjj.Point     `json:"publicKey"`
	TxHash            *common.Hash   `json:"txHash,omitempty"`
	AlreadyRegistered bool           `json:"alreadyRegistered"`
}

// Register registers the shielded key of creds. Registering an address
// that is already registered with the same key returns without submitting
// anything. A registration left pending by an earlier call is resolved
// first.
func (s *Sequencer) Register(ctx context.Context, creds *Credentials) (*RegisterResult, error) {
	addr := creds.Address()
	pk := creds.Keypair.PublicKey
	preErr := func(err error) error {
		return &types.OperationError{Op: types.OperationRegister, State: types.StateValidating, Err: err}
	}

	if !s.lockRegistration(addr) {
		return nil, preErr(fmt.Errorf("%w: %s", registry.ErrRegistrationInProgress, addr.Hex()))
	}
	defer s.unlockRegistration(addr)

	acc, err := s.registry.Status(ctx, addr)
	if err != nil {
		return nil, preErr(err)
	}
	if acc.State == types.Registering {
		if acc, err = s.resolvePendingRegistration(ctx, acc); err != nil {
			return nil, preErr(err)
		}
	}
	if acc.State == types.Registered {
		if !acc.PublicKey.Equal(pk) {
			return nil, preErr(fmt.Errorf("%w: derived key %s, registered key %s", types.ErrKeyMismatch, pk, acc.PublicKey))
		}
		log.Debugw("account already registered", "address", addr.Hex())
		return &RegisterResult{
			Address:           addr,
			PublicKey:         acc.PublicKey,
			TxHash:            acc.RegistrationTx,
			AlreadyRegistered: true,
		}, nil
	}

	o := s.ops.start(types.OperationRegister, addr, nil)
	s.ops.transition(o, types.StateValidating)
	if err := s.registry.BeginRegistration(addr, pk); err != nil {
		return nil, s.ops.fail(o, err)
	}
	abort := func(err error) error {
		if aerr := s.registry.AbortRegistration(addr); aerr != nil {
			log.Errorw(aerr, "cannot abort registration", "address", addr.Hex())
		}
		return s.ops.fail(o, err)
	}

	s.ops.transition(o, types.StateProofPending)
	proof, err := s.proofs.Register(ctx, creds.Keypair, addr, s.gw.ChainID())
	if err != nil {
		return nil, abort(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, abort(err)
	}

	s.ops.transition(o, types.StateSubmitted)
	hash, err := s.gw.SubmitRegistration(ctx, creds.Wallet, pk, proof)
	if err != nil {
		return nil, abort(fmt.Errorf("%w: %v", types.ErrLedgerSubmission, err))
	}
	s.ops.setTx(o, hash)
	if err := s.registry.SetRegistrationTx(addr, hash); err != nil {
		log.Errorw(err, "cannot store registration transaction", "address", addr.Hex(), "tx", hash.Hex())
	}
	log.Infow("registration submitted", "id", o.ID, "address", addr.Hex(), "tx", hash.Hex())

	receipt, err := s.await(ctx, hash)
	if err != nil {
		// the account stays registering, the next Register or the
		// reconciler resolves it from the stored transaction
		return nil, s.ops.fail(o, fmt.Errorf("%w: %v", types.ErrConfirmationTimeout, err))
	}
	if !receipt.Success {
		return nil, abort(fmt.Errorf("%w: registration %s reverted", types.ErrLedgerSubmission, hash.Hex()))
	}
	if err := s.confirmRegistration(addr, pk, receipt); err != nil {
		return nil, s.ops.fail(o, err)
	}
	s.ops.transition(o, types.StateConfirmed)
	return &RegisterResult{
		OperationID: o.ID,
		Address:     addr,
		PublicKey:   pk,
		TxHash:      &hash,
	}, nil
}

// confirmRegistration marks the account registered and writes the
// transaction record.
func (s *Sequencer) confirmRegistration(addr common.Address, pk *bjj.Point, receipt *ledger.Receipt) error {
	if err := s.registry.ConfirmRegistration(addr, pk, receipt.Hash); err != nil {
		return err
	}
	rec := &types.TransactionRecord{
		Hash:        receipt.Hash,
		BlockNumber: receipt.BlockNumber,
		Operation:   types.OperationRegister,
		From:        addr,
		Timestamp:   time.Now(),
	}
	if err := s.stg.AddTransaction(rec); err != nil {
		log.Warnw("cannot store registration record", "tx", receipt.Hash.Hex(), "error", err.Error())
	}
	return nil
}

// resolvePendingRegistration learns the outcome of the registration of a
// registering account. Success confirms it, a revert or a missing
// transaction moves it back to unregistered, and a transaction still
// unknown to the ledger fails with ErrConfirmationTimeout.
func (s *Sequencer) resolvePendingRegistration(ctx context.Context, acc *registry.Account) (*registry.Account, error) {
	if acc.RegistrationTx == nil {
		log.Warnw("aborting registration without transaction", "address", acc.Address.Hex())
		if err := s.registry.AbortRegistration(acc.Address); err != nil {
			return nil, err
		}
		return s.registry.Status(ctx, acc.Address)
	}
	hash := *acc.RegistrationTx
	receipt, err := s.gw.Receipt(ctx, hash)
	switch {
	case errors.Is(err, ledger.ErrTxNotFound):
		return nil, fmt.Errorf("%w: registration %s still pending", types.ErrConfirmationTimeout, hash.Hex())
	case err != nil:
		return nil, fmt.Errorf("query registration receipt %s: %w", hash.Hex(), err)
	case receipt.Success:
		if err := s.confirmRegistration(acc.Address, acc.PublicKey, receipt); err != nil {
			return nil, err
		}
	default:
		log.Infow("pending registration reverted", "address", acc.Address.Hex(), "tx", hash.Hex())
		if err := s.registry.AbortRegistration(acc.Address); err != nil {
			return nil, err
		}
	}
	return s.registry.Status(ctx, acc.Address)
}

func (s *Sequencer) lockRegistration(addr common.Address) bool {
	s.registeringMu.Lock()
	defer s.registeringMu.Unlock()
	if _, ok := s.registering[addr]; ok {
		return false
	}
	s.registering[addr] = struct{}{}
	return true
}

func (s *Sequencer) unlockRegistration(addr common.Address) {
	s.registeringMu.Lock()
	defer s.registeringMu.Unlock()
	delete(s.registering, addr)
}

func (s *Sequencer) registrationInFlight(addr common.Address) bool {
	s.registeringMu.Lock()
	defer s.registeringMu.Unlock()
	_, ok := s.registering[addr]
	return ok
}
