package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/types"
)

var (
	alice = MockWallet(common.HexToAddress("0x1111111111111111111111111111111111111111"))
	bob   = MockWallet(common.HexToAddress("0x2222222222222222222222222222222222222222"))
	token = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestMockRegistration(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	m := NewMock(43113, token, bjj.ScalarBaseMult(big.NewInt(7)))

	ok, err := m.IsRegistered(ctx, alice.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
	pk, err := m.PublicKey(ctx, alice.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(pk.IsZero(), qt.IsTrue)

	key := bjj.ScalarBaseMult(big.NewInt(11))
	events, err := m.MonitorRegistrations(ctx, 10*time.Millisecond)
	c.Assert(err, qt.IsNil)

	hash, err := m.SubmitRegistration(ctx, alice, key, &Proof{})
	c.Assert(err, qt.IsNil)
	r, err := m.WaitTx(ctx, hash, time.Second)
	c.Assert(err, qt.IsNil)
	c.Assert(r.Success, qt.IsTrue)

	pk, err = m.PublicKey(ctx, alice.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(pk.Equal(key), qt.IsTrue)

	select {
	case ev := <-events:
		c.Assert(ev.Address, qt.Equals, alice.Address())
		c.Assert(ev.PublicKey.Equal(key), qt.IsTrue)
	case <-time.After(time.Second):
		c.Fatal("registration event not received")
	}

	_, err = m.SubmitRegistration(ctx, alice, key, &Proof{})
	c.Assert(err, qt.ErrorMatches, ".*already registered")
	c.Assert(m.Submissions(types.OperationRegister), qt.Equals, 1)
}

func TestMockDepositNeedsAllowance(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	m := NewMock(1, token, nil)
	m.SetPublicBalance(alice.Address(), big.NewInt(100))

	_, err := m.SubmitDeposit(ctx, alice, big.NewInt(40), &Proof{})
	c.Assert(err, qt.ErrorMatches, ".*insufficient allowance")

	hash, err := m.SubmitApproval(ctx, alice, big.NewInt(40))
	c.Assert(err, qt.IsNil)
	_, err = m.WaitTx(ctx, hash, time.Second)
	c.Assert(err, qt.IsNil)

	hash, err = m.SubmitDeposit(ctx, alice, big.NewInt(40), &Proof{})
	c.Assert(err, qt.IsNil)
	_, err = m.WaitTx(ctx, hash, time.Second)
	c.Assert(err, qt.IsNil)

	bal, err := m.PublicBalanceOf(ctx, alice.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(bal.Int64(), qt.Equals, int64(60))
	allowance, err := m.Allowance(ctx, alice.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(allowance.Sign(), qt.Equals, 0)
}

func TestMockStallAndRevert(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	m := NewMock(1, token, nil)

	m.Stall(types.OperationWithdraw, true)
	hash, err := m.SubmitWithdraw(ctx, alice, big.NewInt(5), &Proof{})
	c.Assert(err, qt.IsNil)

	_, err = m.WaitTx(ctx, hash, 20*time.Millisecond)
	c.Assert(err, qt.ErrorIs, ErrWaitTimeout)
	_, err = m.Receipt(ctx, hash)
	c.Assert(err, qt.ErrorIs, ErrTxNotFound)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.WaitTx(cctx, hash, time.Second)
	c.Assert(err, qt.ErrorIs, context.Canceled)

	c.Assert(m.Mine(hash), qt.IsNil)
	r, err := m.Receipt(ctx, hash)
	c.Assert(err, qt.IsNil)
	c.Assert(r.Success, qt.IsTrue)
	bal, err := m.PublicBalanceOf(ctx, alice.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(bal.Int64(), qt.Equals, int64(5))

	m.SetRegistered(bob.Address(), bjj.ScalarBaseMult(big.NewInt(3)))
	m.Revert(types.OperationTransfer, true)
	hash, err = m.SubmitTransfer(ctx, alice, bob.Address(), &Proof{})
	c.Assert(err, qt.IsNil)
	r, err = m.WaitTx(ctx, hash, time.Second)
	c.Assert(err, qt.IsNil)
	c.Assert(r.Success, qt.IsFalse)

	_, err = m.SubmitTransfer(ctx, alice, common.HexToAddress("0x99"), &Proof{})
	c.Assert(err, qt.ErrorMatches, ".*receiver not registered")
	c.Assert(m.Submissions(types.OperationTransfer), qt.Equals, 1)
}
