package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/eerc-client/prover"
)

func TestLoadArtifacts(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	for _, circuit := range []prover.Circuit{prover.CircuitMint, prover.CircuitWithdraw} {
		c.Assert(os.WriteFile(filepath.Join(dir, string(circuit)+".wasm"), []byte("wasm"), 0o600), qt.IsNil)
		c.Assert(os.WriteFile(filepath.Join(dir, string(circuit)+".zkey"), []byte("zkey"), 0o600), qt.IsNil)
	}
	artifacts := map[prover.Circuit]*prover.CircuitArtifacts{
		prover.CircuitMint:     prover.LocalCircuitArtifacts(dir, prover.CircuitMint),
		prover.CircuitWithdraw: prover.LocalCircuitArtifacts(dir, prover.CircuitWithdraw),
	}
	c.Assert(LoadArtifacts(artifacts, time.Minute), qt.IsNil)
	c.Assert(string(artifacts[prover.CircuitMint].Wasm.Content), qt.Equals, "wasm")
	c.Assert(string(artifacts[prover.CircuitWithdraw].ProvingKey.Content), qt.Equals, "zkey")

	artifacts[prover.CircuitTransfer] = prover.LocalCircuitArtifacts(dir, prover.CircuitTransfer)
	c.Assert(LoadArtifacts(artifacts, time.Minute), qt.ErrorMatches, "circuit transfer: .*")
}
