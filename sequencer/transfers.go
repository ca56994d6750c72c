package sequencer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/shadow"
	"github.com/vocdoni/eerc-client/types"
)

// Deposit moves amount of the public token of creds into its encrypted
// balance. If the allowance of the encrypted token is below amount an
// approval is submitted and confirmed first.
func (s *Sequencer) Deposit(ctx context.Context, creds *Credentials, amount string) (*Result, error) {
	addr := creds.Address()
	token := s.gw.Token()
	o := s.ops.start(types.OperationDeposit, addr, nil)
	s.ops.transition(o, types.StateValidating)

	amt, err := s.parseAmount(ctx, amount)
	if err != nil {
		return nil, s.ops.fail(o, err)
	}
	s.ops.setAmount(o, amt)
	if err := s.registeredKey(ctx, creds); err != nil {
		return nil, s.ops.fail(o, err)
	}
	if err := s.checkPublicBalance(ctx, addr, amt); err != nil {
		return nil, s.ops.fail(o, err)
	}
	r, err := s.shadow.Reserve(ctx, types.OperationDeposit, shadow.Credit(addr, token, amt))
	if err != nil {
		return nil, s.ops.fail(o, err)
	}
	// a deposit that held the pair meanwhile may have spent the public
	// balance read above
	if err := s.checkPublicBalance(ctx, addr, amt); err != nil {
		return nil, s.rollbackAndFail(o, r, err)
	}

	s.ops.transition(o, types.StateProofPending)
	proof, err := s.proofs.Deposit(ctx, creds.Keypair, addr, amt)
	if err != nil {
		return nil, s.rollbackAndFail(o, r, err)
	}

	if err := s.submitted(ctx, o, r); err != nil {
		return nil, err
	}
	if err := s.ensureAllowance(ctx, creds.Wallet, amt); err != nil {
		return nil, s.rollbackAndFail(o, r, err)
	}
	hash, err := s.gw.SubmitDeposit(ctx, creds.Wallet, amt, proof)
	if err != nil {
		return nil, s.rollbackAndFail(o, r, fmt.Errorf("%w: %v", types.ErrLedgerSubmission, err))
	}
	s.ops.setTx(o, hash)
	log.Infow("deposit submitted", "id", o.ID, "address", addr.Hex(), "amount", amt.String(), "tx", hash.Hex())

	rec, err := s.settle(ctx, o, r, hash, &types.TransactionRecord{
		Hash:      hash,
		Operation: types.OperationDeposit,
		From:      addr,
		Amount:    types.BigIntFrom(amt),
	})
	if err != nil {
		return nil, err
	}
	return &Result{OperationID: o.ID, Record: rec}, nil
}

func (s *Sequencer) checkPublicBalance(ctx context.Context, addr common.Address, amount *big.Int) error {
	public, err := s.gw.PublicBalanceOf(ctx, addr)
	if err != nil {
		return fmt.Errorf("query public balance: %w", err)
	}
	if public.Cmp(amount) < 0 {
		return fmt.Errorf("%w: public balance %s, deposit %s", types.ErrInsufficientBalance, public, amount)
	}
	return nil
}

// ensureAllowance submits and confirms an approval of amount when the
// current allowance is below it.
func (s *Sequencer) ensureAllowance(ctx context.Context, w ledger.Wallet, amount *big.Int) error {
	allowance, err := s.gw.Allowance(ctx, w.Address())
	if err != nil {
		return fmt.Errorf("%w: query allowance: %v", types.ErrLedgerSubmission, err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	hash, err := s.gw.SubmitApproval(ctx, w, amount)
	if err != nil {
		return fmt.Errorf("%w: approval: %v", types.ErrLedgerSubmission, err)
	}
	log.Debugw("approval submitted", "address", w.Address().Hex(), "amount", amount.String(), "tx", hash.Hex())
	receipt, err := s.await(ctx, hash)
	if err != nil {
		return fmt.Errorf("%w: approval %s: %v", types.ErrConfirmationTimeout, hash.Hex(), err)
	}
	if !receipt.Success {
		return fmt.Errorf("%w: approval %s reverted", types.ErrLedgerSubmission, hash.Hex())
	}
	return nil
}

// Withdraw moves amount from the encrypted balance of creds back to its
// public token balance.
func (s *Sequencer) Withdraw(ctx context.Context, creds *Credentials, amount string) (*Result, error) {
	addr := creds.Address()
	token := s.gw.Token()
	o := s.ops.start(types.OperationWithdraw, addr, nil)
	s.ops.transition(o, types.StateValidating)

	amt, err := s.parseAmount(ctx, amount)
	if err != nil {
		return nil, s.ops.fail(o, err)
	}
	s.ops.setAmount(o, amt)
	if err := s.registeredKey(ctx, creds); err != nil {
		return nil, s.ops.fail(o, err)
	}
	tokenID, err := s.gw.TokenID(ctx)
	if err != nil {
		return nil, s.ops.fail(o, fmt.Errorf("query token id: %w", err))
	}
	r, err := s.shadow.Reserve(ctx, types.OperationWithdraw, shadow.Debit(addr, token, amt))
	if err != nil {
		return nil, s.ops.fail(o, err)
	}

	s.ops.transition(o, types.StateProofPending)
	proof, err := s.proofs.Withdraw(ctx, creds.Keypair, addr, amt, tokenID)
	if err != nil {
		return nil, s.rollbackAndFail(o, r, err)
	}

	if err := s.submitted(ctx, o, r); err != nil {
		return nil, err
	}
	hash, err := s.gw.SubmitWithdraw(ctx, creds.Wallet, amt, proof)
	if err != nil {
		return nil, s.rollbackAndFail(o, r, fmt.Errorf("%w: %v", types.ErrLedgerSubmission, err))
	}
	s.ops.setTx(o, hash)
	log.Infow("withdraw submitted", "id", o.ID, "address", addr.Hex(), "amount", amt.String(), "tx", hash.Hex())

	rec, err := s.settle(ctx, o, r, hash, &types.TransactionRecord{
		Hash:      hash,
		Operation: types.OperationWithdraw,
		From:      addr,
		Amount:    types.BigIntFrom(amt),
	})
	if err != nil {
		return nil, err
	}
	return &Result{OperationID: o.ID, Record: rec}, nil
}

// Transfer moves amount from the encrypted balance of creds to the
// encrypted balance of to. Both accounts must be registered. The debit and
// the credit are reserved together and resolved together.
func (s *Sequencer) Transfer(ctx context.Context, creds *Credentials, to common.Address, amount string) (*Result, error) {
	from := creds.Address()
	token := s.gw.Token()
	o := s.ops.start(types.OperationTransfer, from, &to)
	s.ops.transition(o, types.StateValidating)

	if from == to {
		return nil, s.ops.fail(o, fmt.Errorf("%w: sender and receiver are the same account", types.ErrValidation))
	}
	if to == (common.Address{}) {
		return nil, s.ops.fail(o, fmt.Errorf("%w: empty receiver address", types.ErrValidation))
	}
	amt, err := s.parseAmount(ctx, amount)
	if err != nil {
		return nil, s.ops.fail(o, err)
	}
	s.ops.setAmount(o, amt)

	var receiverPK *bjj.Point
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.registeredKey(gctx, creds)
	})
	g.Go(func() error {
		pk, err := s.registry.RegisteredKey(gctx, to)
		if err != nil {
			return fmt.Errorf("receiver: %w", err)
		}
		receiverPK = pk
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, s.ops.fail(o, err)
	}
	r, err := s.shadow.Reserve(ctx, types.OperationTransfer,
		shadow.Debit(from, token, amt),
		shadow.Credit(to, token, amt))
	if err != nil {
		return nil, s.ops.fail(o, err)
	}

	s.ops.transition(o, types.StateProofPending)
	proof, err := s.proofs.Transfer(ctx, creds.Keypair, from, to, receiverPK, amt)
	if err != nil {
		return nil, s.rollbackAndFail(o, r, err)
	}

	if err := s.submitted(ctx, o, r); err != nil {
		return nil, err
	}
	hash, err := s.gw.SubmitTransfer(ctx, creds.Wallet, to, proof)
	if err != nil {
		return nil, s.rollbackAndFail(o, r, fmt.Errorf("%w: %v", types.ErrLedgerSubmission, err))
	}
	s.ops.setTx(o, hash)
	log.Infow("transfer submitted",
		"id", o.ID,
		"from", from.Hex(),
		"to", to.Hex(),
		"amount", amt.String(),
		"tx", hash.Hex())

	rec, err := s.settle(ctx, o, r, hash, &types.TransactionRecord{
		Hash:      hash,
		Operation: types.OperationTransfer,
		From:      from,
		To:        to,
		Amount:    types.BigIntFrom(amt),
	})
	if err != nil {
		return nil, err
	}
	return &Result{OperationID: o.ID, Record: rec}, nil
}
