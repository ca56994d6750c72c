package sequencer

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/crypto/ethereum"
	"github.com/vocdoni/eerc-client/keys"
	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/proofs"
	"github.com/vocdoni/eerc-client/prover"
	"github.com/vocdoni/eerc-client/registry"
	"github.com/vocdoni/eerc-client/shadow"
	"github.com/vocdoni/eerc-client/storage"
	"github.com/vocdoni/eerc-client/types"
)

const (
	aliceKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	bobKey   = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
)

var testToken = common.HexToAddress("0x3333333333333333333333333333333333333333")

type testEnv struct {
	seq    *Sequencer
	gw     *ledger.Mock
	prover *prover.Mock
	stg    *storage.Storage
}

func newTestEnv(t *testing.T, conf Config) *testEnv {
	t.Helper()
	gw := ledger.NewMock(31337, testToken, bjj.ScalarBaseMult(big.NewInt(99)))
	gw.SetDecimals(0)
	stg := storage.New(metadb.NewTest(t))
	reg, err := registry.New(gw, stg, 0)
	qt.Assert(t, err, qt.IsNil)
	sh, err := shadow.New(stg)
	qt.Assert(t, err, qt.IsNil)
	pm := prover.NewMock()
	orch := proofs.New(pm, reg, proofs.NewAuditorKeyCache(gw), 0)
	if conf.ConfirmationTimeout == 0 {
		conf.ConfirmationTimeout = time.Second
	}
	seq, err := New(gw, reg, sh, orch, stg, conf)
	qt.Assert(t, err, qt.IsNil)
	return &testEnv{seq: seq, gw: gw, prover: pm, stg: stg}
}

func devCredentials(t *testing.T, key string) *Credentials {
	t.Helper()
	creds, err := (&DevelopmentPrivateKey{PrivateKey: key}).Resolve(nil)
	qt.Assert(t, err, qt.IsNil)
	return creds
}

// registered returns the credentials of key, registered and with amount
// deposited into the encrypted balance.
func (e *testEnv) registered(t *testing.T, key string, amount int64) *Credentials {
	t.Helper()
	ctx := context.Background()
	creds := devCredentials(t, key)
	_, err := e.seq.Register(ctx, creds)
	qt.Assert(t, err, qt.IsNil)
	if amount > 0 {
		e.gw.SetPublicBalance(creds.Address(), big.NewInt(amount))
		_, err := e.seq.Deposit(ctx, creds, big.NewInt(amount).String())
		qt.Assert(t, err, qt.IsNil)
	}
	return creds
}

func assertShielded(c *qt.C, e *testEnv, addr common.Address, confirmed, pending int64) {
	c.Helper()
	bal, err := e.seq.Balance(context.Background(), addr)
	c.Assert(err, qt.IsNil)
	c.Assert(bal.Shielded.MathBigInt().Int64(), qt.Equals, confirmed)
	c.Assert(bal.PendingDelta.MathBigInt().Int64(), qt.Equals, pending)
}

func TestRegisterIsIdempotent(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{})
	creds := devCredentials(t, aliceKey)

	res, err := e.seq.Register(ctx, creds)
	c.Assert(err, qt.IsNil)
	c.Assert(res.AlreadyRegistered, qt.IsFalse)
	c.Assert(res.TxHash, qt.IsNotNil)
	c.Assert(res.PublicKey.Equal(creds.Keypair.PublicKey), qt.IsTrue)

	op, ok := e.seq.Operation(res.OperationID)
	c.Assert(ok, qt.IsTrue)
	c.Assert(op.State, qt.Equals, types.StateConfirmed)

	again, err := e.seq.Register(ctx, creds)
	c.Assert(err, qt.IsNil)
	c.Assert(again.AlreadyRegistered, qt.IsTrue)
	c.Assert(*again.TxHash, qt.Equals, *res.TxHash)
	c.Assert(e.gw.Submissions(types.OperationRegister), qt.Equals, 1)
	c.Assert(e.prover.Calls(prover.CircuitRegistration), qt.Equals, 1)

	rec, err := e.stg.Transaction(*res.TxHash)
	c.Assert(err, qt.IsNil)
	c.Assert(rec.Operation, qt.Equals, types.OperationRegister)
	c.Assert(rec.From, qt.Equals, creds.Address())
}

func TestRegisterKeyMismatch(t *testing.T) {
	c := qt.New(t)
	e := newTestEnv(t, Config{})
	creds := devCredentials(t, aliceKey)
	e.gw.SetRegistered(creds.Address(), bjj.ScalarBaseMult(big.NewInt(1234)))

	_, err := e.seq.Register(context.Background(), creds)
	c.Assert(err, qt.ErrorIs, types.ErrKeyMismatch)
	c.Assert(types.Retryable(err), qt.IsFalse)
	c.Assert(e.gw.Submissions(types.OperationRegister), qt.Equals, 0)
}

func TestRegisterTimeoutThenReconcile(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{ConfirmationTimeout: 50 * time.Millisecond})
	creds := devCredentials(t, aliceKey)
	e.gw.Stall(types.OperationRegister, true)

	_, err := e.seq.Register(ctx, creds)
	c.Assert(err, qt.ErrorIs, types.ErrConfirmationTimeout)
	var opErr *types.OperationError
	c.Assert(errors.As(err, &opErr), qt.IsTrue)
	c.Assert(opErr.State, qt.Equals, types.StateSubmitted)
	c.Assert(opErr.TxHash, qt.IsNotNil)
	hash := *opErr.TxHash

	acc, err := e.seq.Registry().Status(ctx, creds.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(acc.State, qt.Equals, types.Registering)

	// a new attempt does not submit a second registration
	_, err = e.seq.Register(ctx, creds)
	c.Assert(err, qt.ErrorIs, types.ErrConfirmationTimeout)
	c.Assert(e.gw.Submissions(types.OperationRegister), qt.Equals, 1)

	res, err := e.seq.Reconcile(ctx, hash)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, ReconcilePending)

	c.Assert(e.gw.Mine(hash), qt.IsNil)
	res, err = e.seq.Reconcile(ctx, hash)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, ReconcileConfirmed)
	c.Assert(res.Record.Operation, qt.Equals, types.OperationRegister)

	again, err := e.seq.Register(ctx, creds)
	c.Assert(err, qt.IsNil)
	c.Assert(again.AlreadyRegistered, qt.IsTrue)
}

func TestReconcileLeavesInFlightRegistration(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{ConfirmationTimeout: 50 * time.Millisecond})
	creds := devCredentials(t, aliceKey)
	e.gw.Stall(types.OperationRegister, true)

	_, err := e.seq.Register(ctx, creds)
	c.Assert(err, qt.ErrorIs, types.ErrConfirmationTimeout)
	var opErr *types.OperationError
	c.Assert(errors.As(err, &opErr), qt.IsTrue)
	hash := *opErr.TxHash
	c.Assert(e.gw.Mine(hash), qt.IsNil)

	// a Register call owning the address resolves the transaction itself
	c.Assert(e.seq.lockRegistration(creds.Address()), qt.IsTrue)
	res, err := e.seq.Reconcile(ctx, hash)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, ReconcilePending)
	stored, err := e.stg.Account(creds.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(stored.State, qt.Equals, types.Registering)
	_, err = e.stg.Transaction(hash)
	c.Assert(err, qt.ErrorIs, storage.ErrNotFound)
	e.seq.unlockRegistration(creds.Address())

	res, err = e.seq.Reconcile(ctx, hash)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, ReconcileConfirmed)
	c.Assert(res.Record.Operation, qt.Equals, types.OperationRegister)
	stored, err = e.stg.Account(creds.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(stored.State, qt.Equals, types.Registered)
}

func TestDepositWithApproval(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{})
	creds := e.registered(t, aliceKey, 0)
	e.gw.SetPublicBalance(creds.Address(), big.NewInt(20))

	res, err := e.seq.Deposit(ctx, creds, "15")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Record.Amount.MathBigInt().Int64(), qt.Equals, int64(15))
	c.Assert(e.gw.Submissions(types.OperationApprove), qt.Equals, 1)
	assertShielded(c, e, creds.Address(), 15, 0)

	bal, err := e.seq.Balance(ctx, creds.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(bal.Public.MathBigInt().Int64(), qt.Equals, int64(5))
	c.Assert(bal.Registered, qt.IsTrue)
	c.Assert(bal.Token.Symbol, qt.Equals, "TEST")
}

func TestDepositAbovePublicBalance(t *testing.T) {
	c := qt.New(t)
	e := newTestEnv(t, Config{})
	creds := e.registered(t, aliceKey, 0)
	e.gw.SetPublicBalance(creds.Address(), big.NewInt(10))

	_, err := e.seq.Deposit(context.Background(), creds, "11")
	c.Assert(err, qt.ErrorIs, types.ErrInsufficientBalance)
	var opErr *types.OperationError
	c.Assert(errors.As(err, &opErr), qt.IsTrue)
	c.Assert(opErr.State, qt.Equals, types.StateValidating)
	c.Assert(e.prover.Calls(prover.CircuitMint), qt.Equals, 0)
	c.Assert(e.gw.Submissions(types.OperationDeposit), qt.Equals, 0)
}

func TestConcurrentDepositsRecheckPublicBalance(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{})
	creds := e.registered(t, aliceKey, 0)
	e.gw.SetPublicBalance(creds.Address(), big.NewInt(20))

	release := e.prover.Hold()
	defer release()
	first := make(chan error, 1)
	go func() {
		_, err := e.seq.Deposit(ctx, creds, "15")
		first <- err
	}()
	for e.prover.Calls(prover.CircuitMint) == 0 {
		time.Sleep(time.Millisecond)
	}

	// the second deposit still sees a public balance of 20 and waits for
	// the pair held by the first one
	second := make(chan error, 1)
	go func() {
		_, err := e.seq.Deposit(ctx, creds, "15")
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)
	release()

	c.Assert(<-first, qt.IsNil)
	err := <-second
	c.Assert(err, qt.ErrorIs, types.ErrInsufficientBalance)
	var opErr *types.OperationError
	c.Assert(errors.As(err, &opErr), qt.IsTrue)
	c.Assert(opErr.State, qt.Equals, types.StateValidating)
	c.Assert(e.prover.Calls(prover.CircuitMint), qt.Equals, 1)
	c.Assert(e.gw.Submissions(types.OperationDeposit), qt.Equals, 1)
	c.Assert(e.gw.Submissions(types.OperationApprove), qt.Equals, 1)
	assertShielded(c, e, creds.Address(), 15, 0)
}

func TestInvalidAmounts(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{})
	creds := e.registered(t, aliceKey, 10)

	for _, amount := range []string{"0", "-1", "1.5", "abc", ""} {
		_, err := e.seq.Withdraw(ctx, creds, amount)
		c.Assert(err, qt.ErrorIs, types.ErrValidation, qt.Commentf("amount %q", amount))
	}
	c.Assert(e.prover.Calls(prover.CircuitWithdraw), qt.Equals, 0)
}

func TestWithdraw(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{})
	creds := e.registered(t, aliceKey, 15)

	_, err := e.seq.Withdraw(ctx, creds, "16")
	c.Assert(err, qt.ErrorIs, types.ErrInsufficientBalance)
	c.Assert(e.prover.Calls(prover.CircuitWithdraw), qt.Equals, 0)

	res, err := e.seq.Withdraw(ctx, creds, "8")
	c.Assert(err, qt.IsNil)
	assertShielded(c, e, creds.Address(), 7, 0)
	c.Assert(res.Record.Balances, qt.HasLen, 1)
	c.Assert(res.Record.Balances[0].Confirmed.MathBigInt().Int64(), qt.Equals, int64(7))

	public, err := e.gw.PublicBalanceOf(ctx, creds.Address())
	c.Assert(err, qt.IsNil)
	c.Assert(public.Int64(), qt.Equals, int64(8))

	op, ok := e.seq.Operation(res.OperationID)
	c.Assert(ok, qt.IsTrue)
	c.Assert(op.State, qt.Equals, types.StateConfirmed)
	c.Assert(op.Amount.MathBigInt().Int64(), qt.Equals, int64(8))
}

func TestWithdrawTimeoutParksReservation(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{ConfirmationTimeout: 50 * time.Millisecond})
	creds := e.registered(t, aliceKey, 15)
	e.gw.Stall(types.OperationWithdraw, true)

	_, err := e.seq.Withdraw(ctx, creds, "8")
	c.Assert(err, qt.ErrorIs, types.ErrConfirmationTimeout)
	c.Assert(types.Retryable(err), qt.IsFalse)
	var opErr *types.OperationError
	c.Assert(errors.As(err, &opErr), qt.IsTrue)
	hash := *opErr.TxHash
	assertShielded(c, e, creds.Address(), 15, -8)

	// the parked debit is not spendable
	_, err = e.seq.Withdraw(ctx, creds, "8")
	c.Assert(err, qt.ErrorIs, types.ErrInsufficientBalance)

	res, err := e.seq.Reconcile(ctx, hash)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, ReconcilePending)
	assertShielded(c, e, creds.Address(), 15, -8)

	c.Assert(e.gw.Mine(hash), qt.IsNil)
	res, err = e.seq.Reconcile(ctx, hash)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, ReconcileConfirmed)
	c.Assert(res.Record.From, qt.Equals, creds.Address())
	c.Assert(res.Record.Amount.MathBigInt().Int64(), qt.Equals, int64(8))
	assertShielded(c, e, creds.Address(), 7, 0)

	// reconciling again returns the stored record
	res, err = e.seq.Reconcile(ctx, hash)
	c.Assert(err, qt.IsNil)
	c.Assert(res.Status, qt.Equals, ReconcileConfirmed)
}

func TestBackgroundReconciler(t *testing.T) {
	c := qt.New(t)
	e := newTestEnv(t, Config{
		ConfirmationTimeout: 50 * time.Millisecond,
		ReconcileInterval:   10 * time.Millisecond,
	})
	creds := e.registered(t, aliceKey, 15)
	e.gw.Stall(types.OperationWithdraw, true)
	_, err := e.seq.Withdraw(context.Background(), creds, "8")
	c.Assert(err, qt.ErrorIs, types.ErrConfirmationTimeout)
	var opErr *types.OperationError
	c.Assert(errors.As(err, &opErr), qt.IsTrue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Assert(e.seq.Start(ctx), qt.IsNil)
	defer func() { c.Assert(e.seq.Stop(), qt.IsNil) }()
	c.Assert(e.gw.Mine(*opErr.TxHash), qt.IsNil)

	deadline := time.After(2 * time.Second)
	for {
		bal, err := e.seq.Balance(context.Background(), creds.Address())
		c.Assert(err, qt.IsNil)
		if bal.Shielded.MathBigInt().Int64() == 7 {
			c.Assert(bal.PendingDelta.MathBigInt().Sign(), qt.Equals, 0)
			return
		}
		select {
		case <-deadline:
			c.Fatal("parked withdraw not reconciled")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTransfer(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{})
	alice := e.registered(t, aliceKey, 15)
	bob := e.registered(t, bobKey, 2)

	res, err := e.seq.Transfer(ctx, alice, bob.Address(), "5")
	c.Assert(err, qt.IsNil)
	c.Assert(res.Record.To, qt.Equals, bob.Address())
	c.Assert(res.Record.Balances, qt.HasLen, 2)
	assertShielded(c, e, alice.Address(), 10, 0)
	assertShielded(c, e, bob.Address(), 7, 0)

	_, err = e.seq.Transfer(ctx, alice, alice.Address(), "1")
	c.Assert(err, qt.ErrorIs, types.ErrValidation)

	carol := common.HexToAddress("0x4444444444444444444444444444444444444444")
	_, err = e.seq.Transfer(ctx, alice, carol, "1")
	c.Assert(err, qt.ErrorIs, types.ErrNotRegistered)
	c.Assert(e.prover.Calls(prover.CircuitTransfer), qt.Equals, 1)
}

func TestTransferRevertRollsBack(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{})
	alice := e.registered(t, aliceKey, 15)
	bob := e.registered(t, bobKey, 2)
	e.gw.Revert(types.OperationTransfer, true)

	_, err := e.seq.Transfer(ctx, alice, bob.Address(), "5")
	c.Assert(err, qt.ErrorIs, types.ErrLedgerSubmission)
	c.Assert(types.Retryable(err), qt.IsTrue)
	assertShielded(c, e, alice.Address(), 15, 0)
	assertShielded(c, e, bob.Address(), 2, 0)
}

func TestProofFailureRollsBack(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newTestEnv(t, Config{})
	creds := e.registered(t, aliceKey, 15)
	e.prover.SetError(errors.New("prover crashed"))

	_, err := e.seq.Withdraw(ctx, creds, "8")
	c.Assert(err, qt.ErrorIs, types.ErrProofGeneration)
	var opErr *types.OperationError
	c.Assert(errors.As(err, &opErr), qt.IsTrue)
	c.Assert(opErr.State, qt.Equals, types.StateProofPending)
	c.Assert(e.gw.Submissions(types.OperationWithdraw), qt.Equals, 0)
	assertShielded(c, e, creds.Address(), 15, 0)

	e.prover.SetError(nil)
	_, err = e.seq.Withdraw(ctx, creds, "8")
	c.Assert(err, qt.IsNil)
	assertShielded(c, e, creds.Address(), 7, 0)
}

func TestSignatureCredentials(t *testing.T) {
	c := qt.New(t)
	signer := ethereum.NewSignKeys()
	c.Assert(signer.AddHexKey(aliceKey), qt.IsNil)
	other := ethereum.NewSignKeys()
	c.Assert(other.AddHexKey(bobKey), qt.IsNil)
	wallets := WalletProviderFunc(func(addr common.Address) (ledger.Wallet, error) {
		return ledger.MockWallet(addr), nil
	})

	sig, err := signer.SignMessage(keys.RegistrationMessage(signer.Address()))
	c.Assert(err, qt.IsNil)
	creds, err := (&SignatureBased{Address: signer.Address(), Signature: "0x" + hex.EncodeToString(sig)}).Resolve(wallets)
	c.Assert(err, qt.IsNil)
	c.Assert(creds.Address(), qt.Equals, signer.Address())

	// both methods derive the same key for the same account
	dev := devCredentials(t, aliceKey)
	c.Assert(creds.Keypair.PublicKey.Equal(dev.Keypair.PublicKey), qt.IsTrue)

	// a signature over the message of another address is rejected
	sig, err = signer.SignMessage(keys.RegistrationMessage(other.Address()))
	c.Assert(err, qt.IsNil)
	_, err = (&SignatureBased{Address: other.Address(), Signature: hex.EncodeToString(sig)}).Resolve(wallets)
	c.Assert(err, qt.ErrorIs, types.ErrSignatureVerification)

	_, err = (&SignatureBased{Address: signer.Address(), Signature: "zz"}).Resolve(wallets)
	c.Assert(err, qt.ErrorIs, types.ErrValidation)
	_, err = (&DevelopmentPrivateKey{PrivateKey: "0x1234"}).Resolve(nil)
	c.Assert(err, qt.ErrorIs, types.ErrValidation)
}
