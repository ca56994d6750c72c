package shadow

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/eerc-client/storage"
	"github.com/vocdoni/eerc-client/types"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	token = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func seed(c *qt.C, stg *storage.Storage, account common.Address, amount int64) {
	b := stg.NewBatch()
	c.Assert(b.SetBalance(account, token, big.NewInt(amount)), qt.IsNil)
	c.Assert(b.Commit(), qt.IsNil)
}

func assertBalance(c *qt.C, s *Store, account common.Address, confirmed, pending int64) {
	c.Helper()
	bal, err := s.Balance(Key{account, token})
	c.Assert(err, qt.IsNil)
	c.Assert(bal.Confirmed.Int64(), qt.Equals, confirmed)
	c.Assert(bal.PendingDelta.Int64(), qt.Equals, pending)
}

func TestWithdrawCommit(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	stg := storage.New(metadb.NewTest(t))
	seed(c, stg, alice, 15)
	s, err := New(stg)
	c.Assert(err, qt.IsNil)

	_, err = s.Reserve(ctx, types.OperationWithdraw, Debit(alice, token, big.NewInt(16)))
	c.Assert(err, qt.ErrorIs, types.ErrInsufficientBalance)
	assertBalance(c, s, alice, 15, 0)

	r, err := s.Reserve(ctx, types.OperationWithdraw, Debit(alice, token, big.NewInt(8)))
	c.Assert(err, qt.IsNil)
	assertBalance(c, s, alice, 15, -8)

	rec := &types.TransactionRecord{Hash: common.HexToHash("0x01"), Operation: types.OperationWithdraw, From: alice}
	c.Assert(s.Commit(ctx, r, rec), qt.IsNil)
	assertBalance(c, s, alice, 7, 0)
	c.Assert(rec.Balances, qt.HasLen, 1)
	c.Assert(rec.Balances[0].Confirmed.MathBigInt().Int64(), qt.Equals, int64(7))

	stored, err := stg.Transaction(rec.Hash)
	c.Assert(err, qt.IsNil)
	c.Assert(stored.Balances, qt.HasLen, 1)

	c.Assert(s.Commit(ctx, r, nil), qt.ErrorIs, ErrReservationDone)
	c.Assert(s.Rollback(r), qt.ErrorIs, ErrReservationDone)
}

func TestParkSurvivesRestart(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	stg := storage.New(metadb.NewTest(t))
	seed(c, stg, alice, 15)
	s, err := New(stg)
	c.Assert(err, qt.IsNil)

	r, err := s.Reserve(ctx, types.OperationWithdraw, Debit(alice, token, big.NewInt(8)))
	c.Assert(err, qt.IsNil)
	hash := common.HexToHash("0xabcd")
	c.Assert(s.Park(r, hash), qt.IsNil)
	assertBalance(c, s, alice, 15, -8)

	// the pair is free again, but the parked debit still counts
	_, err = s.Reserve(ctx, types.OperationWithdraw, Debit(alice, token, big.NewInt(8)))
	c.Assert(err, qt.ErrorIs, types.ErrInsufficientBalance)
	r2, err := s.Reserve(ctx, types.OperationWithdraw, Debit(alice, token, big.NewInt(7)))
	c.Assert(err, qt.IsNil)
	c.Assert(s.Rollback(r2), qt.IsNil)

	// a new store over the same storage restores the parked reservation
	s2, err := New(stg)
	c.Assert(err, qt.IsNil)
	assertBalance(c, s2, alice, 15, -8)
	parked, ok := s2.ParkedByTx(hash)
	c.Assert(ok, qt.IsTrue)
	c.Assert(parked.ID, qt.Equals, r.ID)
	c.Assert(parked.Deltas(), qt.HasLen, 1)
	c.Assert(s2.Parked(), qt.HasLen, 1)

	c.Assert(s2.Commit(ctx, parked, nil), qt.IsNil)
	assertBalance(c, s2, alice, 7, 0)
	c.Assert(s2.Parked(), qt.HasLen, 0)
	all, err := stg.ParkedReservations()
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 0)
}

func TestParkedRollback(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	stg := storage.New(metadb.NewTest(t))
	seed(c, stg, alice, 15)
	s, err := New(stg)
	c.Assert(err, qt.IsNil)

	r, err := s.Reserve(ctx, types.OperationWithdraw, Debit(alice, token, big.NewInt(8)))
	c.Assert(err, qt.IsNil)
	c.Assert(s.Park(r, common.HexToHash("0x01")), qt.IsNil)
	c.Assert(s.Park(r, common.HexToHash("0x01")), qt.IsNotNil)
	c.Assert(s.Rollback(r), qt.IsNil)
	assertBalance(c, s, alice, 15, 0)
	_, ok := s.ParkedByTx(common.HexToHash("0x01"))
	c.Assert(ok, qt.IsFalse)
}

func TestTransferBothLegs(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	stg := storage.New(metadb.NewTest(t))
	seed(c, stg, alice, 15)
	seed(c, stg, bob, 2)
	s, err := New(stg)
	c.Assert(err, qt.IsNil)

	r, err := s.Reserve(ctx, types.OperationTransfer,
		Debit(alice, token, big.NewInt(5)),
		Credit(bob, token, big.NewInt(5)))
	c.Assert(err, qt.IsNil)
	assertBalance(c, s, alice, 15, -5)
	assertBalance(c, s, bob, 2, 5)

	// bob is locked while the transfer is active
	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = s.Reserve(tctx, types.OperationWithdraw, Debit(bob, token, big.NewInt(1)))
	c.Assert(err, qt.ErrorIs, context.DeadlineExceeded)

	// once parked, the pending credit can still not be spent
	c.Assert(s.Park(r, common.HexToHash("0x05")), qt.IsNil)
	_, err = s.Reserve(ctx, types.OperationWithdraw, Debit(bob, token, big.NewInt(3)))
	c.Assert(err, qt.ErrorIs, types.ErrInsufficientBalance)

	rec := &types.TransactionRecord{Hash: common.HexToHash("0x05"), Operation: types.OperationTransfer, From: alice, To: bob}
	c.Assert(s.Commit(ctx, r, rec), qt.IsNil)
	assertBalance(c, s, alice, 10, 0)
	assertBalance(c, s, bob, 7, 0)
	c.Assert(rec.Balances, qt.HasLen, 2)

	// a commit that can not store its record changes no balance
	r, err = s.Reserve(ctx, types.OperationTransfer,
		Debit(alice, token, big.NewInt(1)),
		Credit(bob, token, big.NewInt(1)))
	c.Assert(err, qt.IsNil)
	dup := &types.TransactionRecord{Hash: rec.Hash, Operation: types.OperationTransfer}
	c.Assert(s.Commit(ctx, r, dup), qt.ErrorIs, storage.ErrAlreadyExists)
	assertBalance(c, s, alice, 10, -1)
	c.Assert(s.Rollback(r), qt.IsNil)
	assertBalance(c, s, alice, 10, 0)
	assertBalance(c, s, bob, 7, 0)
}

func TestReserveWaitsForPair(t *testing.T) {
	c := qt.New(t)
	stg := storage.New(metadb.NewTest(t))
	seed(c, stg, alice, 10)
	s, err := New(stg)
	c.Assert(err, qt.IsNil)

	r, err := s.Reserve(context.Background(), types.OperationWithdraw, Debit(alice, token, big.NewInt(4)))
	c.Assert(err, qt.IsNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Reserve(ctx, types.OperationWithdraw, Debit(alice, token, big.NewInt(1)))
	c.Assert(err, qt.ErrorIs, context.DeadlineExceeded)

	// other accounts are not blocked
	_, err = s.Reserve(context.Background(), types.OperationDeposit, Credit(bob, token, big.NewInt(1)))
	c.Assert(err, qt.IsNil)

	got := make(chan *Reservation, 1)
	go func() {
		r2, err := s.Reserve(context.Background(), types.OperationWithdraw, Debit(alice, token, big.NewInt(6)))
		c.Check(err, qt.IsNil)
		got <- r2
	}()
	select {
	case <-got:
		c.Fatal("reservation acquired a locked pair")
	case <-time.After(20 * time.Millisecond):
	}
	c.Assert(s.Commit(context.Background(), r, nil), qt.IsNil)
	select {
	case r2 := <-got:
		c.Assert(r2, qt.IsNotNil)
		assertBalance(c, s, alice, 6, -6)
	case <-time.After(time.Second):
		c.Fatal("reservation not acquired after commit")
	}
}

func TestCommitHandsOverPairWithoutStalePending(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	stg := storage.New(metadb.NewTest(t))
	s, err := New(stg)
	c.Assert(err, qt.IsNil)

	for i := 0; i < 500; i++ {
		seed(c, stg, alice, 10)
		r, err := s.Reserve(ctx, types.OperationWithdraw, Debit(alice, token, big.NewInt(4)))
		c.Assert(err, qt.IsNil)

		// confirmed + pending is 6 before and after the commit, and 0 once
		// the waiting reservation holds the pair
		stop := make(chan struct{})
		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				select {
				case <-stop:
					return
				default:
				}
				bal, err := s.Balance(Key{alice, token})
				if !c.Check(err, qt.IsNil) {
					return
				}
				available := new(big.Int).Add(bal.Confirmed, bal.PendingDelta).Int64()
				if !c.Check(available == 6 || available == 0, qt.IsTrue,
					qt.Commentf("iteration %d: confirmed %s pending %s", i, bal.Confirmed, bal.PendingDelta)) {
					return
				}
			}
		}()

		errs := make(chan error, 1)
		waiting := make(chan *Reservation, 1)
		go func() {
			r2, err := s.Reserve(ctx, types.OperationWithdraw, Debit(alice, token, big.NewInt(6)))
			errs <- err
			waiting <- r2
		}()
		c.Assert(s.Commit(ctx, r, nil), qt.IsNil)
		c.Assert(<-errs, qt.IsNil, qt.Commentf("iteration %d", i))
		r2 := <-waiting
		close(stop)
		<-readerDone
		assertBalance(c, s, alice, 6, -6)
		c.Assert(s.Rollback(r2), qt.IsNil)
	}
}
