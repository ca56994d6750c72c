package config

import (
	"github.com/vocdoni/eerc-client/prover"
)

// CircuitArtifacts returns the artifacts of every protocol circuit found in
// CircuitsDir. Each circuit is expected with its build names, for example
// registration.wasm, registration.zkey and registration_vkey.json.
func (c *Config) CircuitArtifacts() map[prover.Circuit]*prover.CircuitArtifacts {
	artifacts := make(map[prover.Circuit]*prover.CircuitArtifacts, len(prover.Circuits))
	for _, circuit := range prover.Circuits {
		artifacts[circuit] = prover.LocalCircuitArtifacts(c.CircuitsDir, circuit)
	}
	return artifacts
}
