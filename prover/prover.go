// Package prover generates the Groth16 proofs of the eERC circuits. Circom
// runs the compiled circuits with rapidsnark and Mock produces proofs with
// well formed public signals for tests and local development.
package prover

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/vocdoni/circom2gnark/parser"

	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/util"
)

// Circuit names one of the eERC circuits.
type Circuit string

const (
	CircuitRegistration Circuit = "registration"
	CircuitMint         Circuit = "mint"
	CircuitWithdraw     Circuit = "withdraw"
	CircuitTransfer     Circuit = "transfer"
)

// Circuits lists every circuit the client proves.
var Circuits = []Circuit{CircuitRegistration, CircuitMint, CircuitWithdraw, CircuitTransfer}

// NotExposed marks a value the circuit does not expose as a public signal.
const NotExposed = -1

// Layout locates the values the client checks in the public signals of a
// circuit. Points are located by the index of their X coordinate, Y follows.
type Layout struct {
	Signals          int
	PublicKey        int
	Receiver         int
	Auditor          int
	Amount           int
	Address          int
	ChainID          int
	RegistrationHash int
}

var layouts = map[Circuit]Layout{
	CircuitRegistration: {
		Signals:          5,
		PublicKey:        0,
		Receiver:         NotExposed,
		Auditor:          NotExposed,
		Amount:           NotExposed,
		Address:          2,
		ChainID:          3,
		RegistrationHash: 4,
	},
	CircuitMint: {
		Signals:          24,
		PublicKey:        2,
		Receiver:         NotExposed,
		Auditor:          15,
		Amount:           NotExposed,
		Address:          NotExposed,
		ChainID:          NotExposed,
		RegistrationHash: NotExposed,
	},
	CircuitWithdraw: {
		Signals:          16,
		PublicKey:        1,
		Receiver:         NotExposed,
		Auditor:          7,
		Amount:           0,
		Address:          NotExposed,
		ChainID:          NotExposed,
		RegistrationHash: NotExposed,
	},
	CircuitTransfer: {
		Signals:          32,
		PublicKey:        0,
		Receiver:         10,
		Auditor:          23,
		Amount:           NotExposed,
		Address:          NotExposed,
		ChainID:          NotExposed,
		RegistrationHash: NotExposed,
	},
}

// LayoutOf returns the public signal layout of the circuit.
func LayoutOf(c Circuit) (Layout, error) {
	l, ok := layouts[c]
	if !ok {
		return Layout{}, fmt.Errorf("unknown circuit %q", c)
	}
	return l, nil
}

// EncodeInputs encodes the circuit inputs as the JSON object the witness
// calculator takes. Numbers are encoded as decimal strings.
func EncodeInputs(inputs map[string]any) ([]byte, error) {
	normalized := make(map[string]any, len(inputs))
	for k, v := range inputs {
		n, err := normalizeInput(v)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", k, err)
		}
		normalized[k] = n
	}
	return json.Marshal(normalized)
}

func normalizeInput(v any) (any, error) {
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return nil, fmt.Errorf("nil value")
		}
		return t.String(), nil
	case []*big.Int:
		return util.BigIntsToStrings(t), nil
	case [2]*big.Int:
		return util.BigIntsToStrings(t[:]), nil
	case string, []string:
		return t, nil
	case int:
		return big.NewInt(int64(t)).String(), nil
	case uint64:
		return new(big.Int).SetUint64(t).String(), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// InputBig returns the input with the given name as a big.Int.
func InputBig(inputs map[string]any, name string) (*big.Int, error) {
	v, ok := inputs[name]
	if !ok {
		return nil, fmt.Errorf("missing input %s", name)
	}
	switch t := v.(type) {
	case *big.Int:
		if t == nil {
			return nil, fmt.Errorf("nil input %s", name)
		}
		return t, nil
	case string:
		n, ok := new(big.Int).SetString(t, 10)
		if !ok {
			return nil, fmt.Errorf("invalid input %s: %q", name, t)
		}
		return n, nil
	case int:
		return big.NewInt(int64(t)), nil
	case uint64:
		return new(big.Int).SetUint64(t), nil
	default:
		return nil, fmt.Errorf("unsupported input %s of type %T", name, v)
	}
}

// SolidityProof flattens a circom proof into the eight values the Groth16
// verifier contracts take. The coordinates of each pi_b element are swapped
// to match the G2 encoding of the precompile.
func SolidityProof(proof *parser.CircomProof, pubSignals []string) (*ledger.Proof, error) {
	if proof == nil {
		return nil, fmt.Errorf("nil proof")
	}
	if len(proof.PiA) < 2 || len(proof.PiC) < 2 || len(proof.PiB) < 2 ||
		len(proof.PiB[0]) < 2 || len(proof.PiB[1]) < 2 {
		return nil, fmt.Errorf("malformed proof")
	}
	points, err := util.StringsToBigInts([]string{
		proof.PiA[0], proof.PiA[1],
		proof.PiB[0][1], proof.PiB[0][0],
		proof.PiB[1][1], proof.PiB[1][0],
		proof.PiC[0], proof.PiC[1],
	})
	if err != nil {
		return nil, fmt.Errorf("invalid proof point: %w", err)
	}
	signals, err := util.StringsToBigInts(pubSignals)
	if err != nil {
		return nil, fmt.Errorf("invalid public signal: %w", err)
	}
	res := &ledger.Proof{PublicSignals: signals}
	copy(res.Points[:], points)
	return res, nil
}
