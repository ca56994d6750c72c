package registry

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/storage"
	"github.com/vocdoni/eerc-client/types"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type countingLedger struct {
	*ledger.Mock
	queries atomic.Int32
}

func (l *countingLedger) IsRegistered(ctx context.Context, addr common.Address) (bool, error) {
	l.queries.Add(1)
	return l.Mock.IsRegistered(ctx, addr)
}

func newTestRegistry(t *testing.T) (*Registry, *countingLedger, *storage.Storage) {
	l := &countingLedger{Mock: ledger.NewMock(1, common.Address{}, nil)}
	stg := storage.New(metadb.NewTest(t))
	r, err := New(l, stg, 0)
	qt.Assert(t, err, qt.IsNil)
	return r, l, stg
}

func TestStatusCache(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	r, l, _ := newTestRegistry(t)
	pk := bjj.ScalarBaseMult(big.NewInt(5))
	l.SetRegistered(alice, pk)

	acc, err := r.Status(ctx, alice)
	c.Assert(err, qt.IsNil)
	c.Assert(acc.State, qt.Equals, types.Registered)
	c.Assert(acc.PublicKey.Equal(pk), qt.IsTrue)

	key, err := r.RegisteredKey(ctx, alice)
	c.Assert(err, qt.IsNil)
	c.Assert(key.Equal(pk), qt.IsTrue)
	c.Assert(l.queries.Load(), qt.Equals, int32(1))

	_, err = r.RegisteredKey(ctx, bob)
	c.Assert(err, qt.ErrorIs, types.ErrNotRegistered)

	// bob registers elsewhere, the cached status is stale until invalidated
	l.SetRegistered(bob, bjj.ScalarBaseMult(big.NewInt(6)))
	acc, err = r.Status(ctx, bob)
	c.Assert(err, qt.IsNil)
	c.Assert(acc.State, qt.Equals, types.Unregistered)
	r.Invalidate(bob)
	acc, err = r.Status(ctx, bob)
	c.Assert(err, qt.IsNil)
	c.Assert(acc.State, qt.Equals, types.Registered)
}

func TestRegistrationLifecycle(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	r, l, _ := newTestRegistry(t)
	pk := bjj.ScalarBaseMult(big.NewInt(5))

	c.Assert(r.BeginRegistration(alice, pk), qt.IsNil)
	c.Assert(r.BeginRegistration(alice, pk), qt.ErrorIs, ErrRegistrationInProgress)
	hash := common.HexToHash("0xaa")
	c.Assert(r.SetRegistrationTx(alice, hash), qt.IsNil)

	acc, err := r.Status(ctx, alice)
	c.Assert(err, qt.IsNil)
	c.Assert(acc.State, qt.Equals, types.Registering)
	c.Assert(*acc.RegistrationTx, qt.Equals, hash)
	_, err = r.RegisteredKey(ctx, alice)
	c.Assert(err, qt.ErrorIs, types.ErrNotRegistered)

	l.SetRegistered(alice, pk)
	c.Assert(r.ConfirmRegistration(alice, pk, hash), qt.IsNil)
	acc, err = r.Status(ctx, alice)
	c.Assert(err, qt.IsNil)
	c.Assert(acc.State, qt.Equals, types.Registered)
	c.Assert(*acc.RegistrationTx, qt.Equals, hash)

	accounts, err := r.Accounts()
	c.Assert(err, qt.IsNil)
	c.Assert(accounts, qt.HasLen, 1)

	// abort only applies to registering accounts
	c.Assert(r.AbortRegistration(alice), qt.IsNil)
	c.Assert(r.BeginRegistration(bob, pk), qt.IsNil)
	c.Assert(r.AbortRegistration(bob), qt.IsNil)
	acc, err = r.Status(ctx, bob)
	c.Assert(err, qt.IsNil)
	c.Assert(acc.State, qt.Equals, types.Unregistered)
	c.Assert(acc.PublicKey, qt.IsNil)
}

func TestKeyMismatch(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	r, l, stg := newTestRegistry(t)

	c.Assert(stg.SetAccount(&storage.Account{
		Address:   alice,
		PublicKey: bjj.ScalarBaseMult(big.NewInt(5)),
		State:     types.Registered,
	}), qt.IsNil)
	l.SetRegistered(alice, bjj.ScalarBaseMult(big.NewInt(6)))

	_, err := r.Status(ctx, alice)
	c.Assert(err, qt.ErrorIs, types.ErrKeyMismatch)
	_, err = r.RegisteredKey(ctx, alice)
	c.Assert(err, qt.ErrorIs, types.ErrKeyMismatch)

	c.Assert(r.ConfirmRegistration(alice, bjj.ScalarBaseMult(big.NewInt(7)), common.Hash{}), qt.ErrorIs, types.ErrKeyMismatch)
}
