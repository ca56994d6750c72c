package service

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/proofs"
	"github.com/vocdoni/eerc-client/prover"
	"github.com/vocdoni/eerc-client/registry"
	"github.com/vocdoni/eerc-client/sequencer"
	"github.com/vocdoni/eerc-client/shadow"
	"github.com/vocdoni/eerc-client/storage"
)

var testToken = common.HexToAddress("0x3333333333333333333333333333333333333333")

type testEnv struct {
	gw  *ledger.Mock
	stg *storage.Storage
	reg *registry.Registry
	seq *sequencer.Sequencer
}

func newTestEnv(c *qt.C) *testEnv {
	gw := ledger.NewMock(31337, testToken, bjj.ScalarBaseMult(big.NewInt(99)))
	stg := storage.New(metadb.NewTest(c))
	reg, err := registry.New(gw, stg, 0)
	c.Assert(err, qt.IsNil)
	sh, err := shadow.New(stg)
	c.Assert(err, qt.IsNil)
	orch := proofs.New(prover.NewMock(), reg, proofs.NewAuditorKeyCache(gw), 0)
	seq, err := sequencer.New(gw, reg, sh, orch, stg, sequencer.Config{})
	c.Assert(err, qt.IsNil)
	return &testEnv{gw: gw, stg: stg, reg: reg, seq: seq}
}
