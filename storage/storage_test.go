package storage

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"github.com/vocdoni/arbo/memdb"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/types"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	token = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestAccounts(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	_, err := stg.Account(alice)
	c.Assert(err, qt.ErrorIs, ErrNotFound)

	pk := bjj.ScalarBaseMult(big.NewInt(42))
	hash := common.HexToHash("0xaa")
	c.Assert(stg.SetAccount(&Account{
		Address:        alice,
		PublicKey:      pk,
		State:          types.Registered,
		RegistrationTx: &hash,
	}), qt.IsNil)

	acc, err := stg.Account(alice)
	c.Assert(err, qt.IsNil)
	c.Assert(acc.Address, qt.Equals, alice)
	c.Assert(acc.State, qt.Equals, types.Registered)
	c.Assert(acc.PublicKey.Equal(pk), qt.IsTrue)
	c.Assert(*acc.RegistrationTx, qt.Equals, hash)
	c.Assert(acc.UpdatedAt.IsZero(), qt.IsFalse)

	c.Assert(stg.SetAccount(&Account{Address: bob, State: types.Registering}), qt.IsNil)
	accounts, err := stg.Accounts()
	c.Assert(err, qt.IsNil)
	c.Assert(accounts, qt.HasLen, 2)
}

func TestBalancesBatch(t *testing.T) {
	c := qt.New(t)
	stg := New(memdb.New())

	bal, err := stg.Balance(alice, token)
	c.Assert(err, qt.IsNil)
	c.Assert(bal.Sign(), qt.Equals, 0)

	// both legs of a transfer land in the same batch
	b := stg.NewBatch()
	c.Assert(b.SetBalance(alice, token, big.NewInt(10)), qt.IsNil)
	c.Assert(b.SetBalance(bob, token, big.NewInt(7)), qt.IsNil)
	c.Assert(b.AddTransaction(&types.TransactionRecord{
		Hash:      common.HexToHash("0x01"),
		Operation: types.OperationTransfer,
		From:      alice,
		To:        bob,
		Amount:    types.NewInt(5),
		Timestamp: time.Now(),
	}), qt.IsNil)
	c.Assert(b.Commit(), qt.IsNil)

	bal, err = stg.Balance(alice, token)
	c.Assert(err, qt.IsNil)
	c.Assert(bal.Int64(), qt.Equals, int64(10))
	bal, err = stg.Balance(bob, token)
	c.Assert(err, qt.IsNil)
	c.Assert(bal.Int64(), qt.Equals, int64(7))

	balances, err := stg.Balances()
	c.Assert(err, qt.IsNil)
	c.Assert(balances, qt.HasLen, 2)

	// a discarded batch leaves no trace
	b = stg.NewBatch()
	c.Assert(b.SetBalance(alice, token, big.NewInt(99)), qt.IsNil)
	b.Discard()
	bal, err = stg.Balance(alice, token)
	c.Assert(err, qt.IsNil)
	c.Assert(bal.Int64(), qt.Equals, int64(10))

	b = stg.NewBatch()
	c.Assert(b.SetBalance(alice, token, big.NewInt(-1)), qt.Not(qt.IsNil))
	b.Discard()
	c.Assert(b.Commit(), qt.Not(qt.IsNil))
}

func TestTransactionRecordsAreImmutable(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	rec := &types.TransactionRecord{
		Hash:        common.HexToHash("0xbeef"),
		BlockNumber: 12,
		Operation:   types.OperationWithdraw,
		From:        alice,
		Amount:      types.NewInt(8),
		Balances: []types.BalanceSnapshot{
			{Account: alice, Token: token, Confirmed: types.NewInt(7)},
		},
		Timestamp: time.Now(),
	}
	c.Assert(stg.AddTransaction(rec), qt.IsNil)

	got, err := stg.Transaction(rec.Hash)
	c.Assert(err, qt.IsNil)
	c.Assert(got.BlockNumber, qt.Equals, uint64(12))
	c.Assert(got.Operation, qt.Equals, types.OperationWithdraw)
	c.Assert(got.AmountBig().Int64(), qt.Equals, int64(8))
	c.Assert(got.Balances, qt.HasLen, 1)
	c.Assert(got.Balances[0].Confirmed.MathBigInt().Int64(), qt.Equals, int64(7))

	// second write of the same hash fails and leaves the balance untouched
	b := stg.NewBatch()
	c.Assert(b.SetBalance(alice, token, big.NewInt(1000)), qt.IsNil)
	c.Assert(b.AddTransaction(rec), qt.IsNil)
	c.Assert(b.Commit(), qt.ErrorIs, ErrAlreadyExists)
	bal, err := stg.Balance(alice, token)
	c.Assert(err, qt.IsNil)
	c.Assert(bal.Sign(), qt.Equals, 0)

	b = stg.NewBatch()
	c.Assert(b.AddTransaction(&types.TransactionRecord{Hash: common.HexToHash("0x02")}), qt.IsNil)
	c.Assert(b.AddTransaction(&types.TransactionRecord{Hash: common.HexToHash("0x02")}), qt.ErrorIs, ErrAlreadyExists)
	b.Discard()

	records, err := stg.Transactions(alice)
	c.Assert(err, qt.IsNil)
	c.Assert(records, qt.HasLen, 1)
	records, err = stg.Transactions(bob)
	c.Assert(err, qt.IsNil)
	c.Assert(records, qt.HasLen, 0)

	_, err = stg.Transaction(common.HexToHash("0x03"))
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestParkedReservations(t *testing.T) {
	c := qt.New(t)
	stg := New(metadb.NewTest(t))

	pr := &ParkedReservation{
		ID:        "res-1",
		TxHash:    common.HexToHash("0xcafe"),
		Operation: types.OperationTransfer,
		Deltas: []Delta{
			{Account: alice, Token: token, Amount: types.NewInt(-5)},
			{Account: bob, Token: token, Amount: types.NewInt(5)},
		},
	}
	c.Assert(stg.ParkReservation(pr), qt.IsNil)
	c.Assert(stg.ParkReservation(&ParkedReservation{}), qt.Not(qt.IsNil))

	got, err := stg.ParkedReservation("res-1")
	c.Assert(err, qt.IsNil)
	c.Assert(got.TxHash, qt.Equals, pr.TxHash)
	c.Assert(got.Deltas, qt.HasLen, 2)
	c.Assert(got.Deltas[0].Amount.MathBigInt().Int64(), qt.Equals, int64(-5))

	all, err := stg.ParkedReservations()
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 1)

	b := stg.NewBatch()
	c.Assert(b.DeleteParked("res-1"), qt.IsNil)
	c.Assert(b.Commit(), qt.IsNil)
	_, err = stg.ParkedReservation("res-1")
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}
