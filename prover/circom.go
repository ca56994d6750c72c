package prover

import (
	"context"
	"fmt"
	"time"

	"github.com/iden3/go-rapidsnark/prover"
	"github.com/iden3/go-rapidsnark/witness"
	"github.com/vocdoni/circom2gnark/parser"

	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
)

// Circom proves the compiled circom circuits with rapidsnark. When a
// verification key is available and Verify is set, every proof is checked
// locally before it is returned.
type Circom struct {
	circuits map[Circuit]*CircuitArtifacts
	verify   bool
}

// NewCircom loads the artifacts of every circuit provided.
func NewCircom(ctx context.Context, artifacts map[Circuit]*CircuitArtifacts, verify bool) (*Circom, error) {
	for circuit, ca := range artifacts {
		if _, err := LayoutOf(circuit); err != nil {
			return nil, err
		}
		if err := ca.LoadAll(ctx); err != nil {
			return nil, fmt.Errorf("circuit %s: %w", circuit, err)
		}
		if verify && ca.VerifyingKey == nil {
			log.Warnw("no verification key, proofs will not be verified locally", "circuit", circuit)
		}
	}
	return &Circom{circuits: artifacts, verify: verify}, nil
}

// GenerateProof calculates the witness of the circuit for the inputs and
// proves it. The call blocks until rapidsnark finishes, ctx is only checked
// before starting.
func (p *Circom) GenerateProof(ctx context.Context, circuit Circuit, inputs map[string]any) (*ledger.Proof, error) {
	ca, ok := p.circuits[circuit]
	if !ok {
		return nil, fmt.Errorf("no artifacts for circuit %s", circuit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	startTime := time.Now()
	rawInputs, err := EncodeInputs(inputs)
	if err != nil {
		return nil, err
	}
	parsedInputs, err := witness.ParseInputs(rawInputs)
	if err != nil {
		return nil, fmt.Errorf("error parsing inputs: %w", err)
	}
	calc, err := witness.NewCircom2WitnessCalculator(ca.Wasm.Content, true)
	if err != nil {
		return nil, fmt.Errorf("error loading witness calculator: %w", err)
	}
	wtns, err := calc.CalculateWTNSBin(parsedInputs, true)
	if err != nil {
		return nil, fmt.Errorf("error calculating witness: %w", err)
	}
	proofJSON, pubSignalsJSON, err := prover.Groth16ProverRaw(ca.ProvingKey.Content, wtns)
	if err != nil {
		return nil, fmt.Errorf("error generating proof: %w", err)
	}
	proof, err := parser.UnmarshalCircomProofJSON([]byte(proofJSON))
	if err != nil {
		return nil, fmt.Errorf("error parsing proof: %w", err)
	}
	pubSignals, err := parser.UnmarshalCircomPublicSignalsJSON([]byte(pubSignalsJSON))
	if err != nil {
		return nil, fmt.Errorf("error parsing public signals: %w", err)
	}
	if p.verify && ca.VerifyingKey != nil {
		if err := verify(ca.VerifyingKey.Content, proof, pubSignals); err != nil {
			return nil, err
		}
	}
	log.Debugw("proof generated", "circuit", circuit, "signals", len(pubSignals), "took", time.Since(startTime).String())
	return SolidityProof(proof, pubSignals)
}

func verify(vkey []byte, proof *parser.CircomProof, pubSignals []string) error {
	vk, err := parser.UnmarshalCircomVerificationKeyJSON(vkey)
	if err != nil {
		return fmt.Errorf("error parsing verification key: %w", err)
	}
	gnarkProof, err := parser.ConvertCircomToGnark(vk, proof, pubSignals)
	if err != nil {
		return fmt.Errorf("error converting proof: %w", err)
	}
	if ok, err := parser.VerifyProof(gnarkProof); !ok || err != nil {
		return fmt.Errorf("proof verification failed: %v", err)
	}
	return nil
}
