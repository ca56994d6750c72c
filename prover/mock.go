package prover

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/poseidon"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/util"
)

// Mock generates proofs without running the circuits. The public signals
// follow the layout of each circuit and the key constraints are enforced
// (the private key must match the public key) so callers see the same
// failures as with the real circuits. Signals the client does not inspect
// are filled with deterministic field elements.
type Mock struct {
	mu     sync.Mutex
	err    error
	hold   chan struct{}
	tamper func(Circuit, *ledger.Proof)
	calls  map[Circuit]int
}

// NewMock returns a ready to use Mock prover.
func NewMock() *Mock {
	return &Mock{calls: make(map[Circuit]int)}
}

// SetError makes every following proof fail with err, nil restores it.
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetTamper registers a function that can modify each proof before it is
// returned.
func (m *Mock) SetTamper(fn func(Circuit, *ledger.Proof)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tamper = fn
}

// Hold makes GenerateProof block, ignoring its context like a running
// prover does, until the returned function is called.
func (m *Mock) Hold() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.hold = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.hold == ch {
				m.hold = nil
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many proofs of circuit were requested.
func (m *Mock) Calls(circuit Circuit) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[circuit]
}

func (m *Mock) GenerateProof(ctx context.Context, circuit Circuit, inputs map[string]any) (*ledger.Proof, error) {
	m.mu.Lock()
	m.calls[circuit]++
	err, hold, tamper := m.err, m.hold, m.tamper
	m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hold != nil {
		<-hold
	}
	if err != nil {
		return nil, err
	}
	layout, err := LayoutOf(circuit)
	if err != nil {
		return nil, err
	}
	signals, err := mockSignals(circuit, layout, inputs)
	if err != nil {
		return nil, err
	}
	proof := &ledger.Proof{PublicSignals: signals}
	for i := range proof.Points {
		proof.Points[i] = filler(circuit, 1000+i, signals)
	}
	if tamper != nil {
		tamper(circuit, proof)
	}
	return proof, nil
}

func mockSignals(circuit Circuit, layout Layout, inputs map[string]any) ([]*big.Int, error) {
	skName, pkName := "userPrivateKey", "userPublicKey"
	switch circuit {
	case CircuitRegistration:
		skName, pkName = "privateKey", ""
	case CircuitTransfer:
		skName, pkName = "senderPrivateKey", "senderPublicKey"
	}
	sk, err := InputBig(inputs, skName)
	if err != nil {
		return nil, err
	}
	if sk.Sign() <= 0 || sk.Cmp(bjj.SubOrder()) >= 0 {
		return nil, fmt.Errorf("constraint not satisfied: private key out of range")
	}
	pk := bjj.ScalarBaseMult(sk)
	if pkName != "" {
		claimed, err := inputPoint(inputs, pkName)
		if err != nil {
			return nil, err
		}
		if !claimed.Equal(pk) {
			return nil, fmt.Errorf("constraint not satisfied: public key does not match private key")
		}
	}

	signals := make([]*big.Int, layout.Signals)
	set := func(i int, v *big.Int) {
		if i != NotExposed {
			signals[i] = new(big.Int).Set(v)
		}
	}
	setPoint := func(i int, p *bjj.Point) {
		if i != NotExposed {
			c := p.Coords()
			signals[i], signals[i+1] = c[0], c[1]
		}
	}
	setPoint(layout.PublicKey, pk)
	if layout.Auditor != NotExposed {
		auditor, err := inputPoint(inputs, "auditorPublicKey")
		if err != nil {
			return nil, err
		}
		setPoint(layout.Auditor, auditor)
	}
	if layout.Receiver != NotExposed {
		receiver, err := inputPoint(inputs, "receiverPublicKey")
		if err != nil {
			return nil, err
		}
		setPoint(layout.Receiver, receiver)
	}
	if layout.Amount != NotExposed {
		amount, err := InputBig(inputs, "amount")
		if err != nil {
			return nil, err
		}
		set(layout.Amount, amount)
	}
	if circuit == CircuitRegistration {
		chainID, err := InputBig(inputs, "chainId")
		if err != nil {
			return nil, err
		}
		addr, err := InputBig(inputs, "userAddress")
		if err != nil {
			return nil, err
		}
		regHash, err := poseidon.Hash([]*big.Int{chainID, sk, addr})
		if err != nil {
			return nil, fmt.Errorf("constraint not satisfied: %w", err)
		}
		set(layout.Address, addr)
		set(layout.ChainID, chainID)
		set(layout.RegistrationHash, regHash)
	}
	for i := range signals {
		if signals[i] == nil {
			signals[i] = filler(circuit, i, signals[:0])
		}
	}
	return signals, nil
}

func inputPoint(inputs map[string]any, name string) (*bjj.Point, error) {
	x, err := InputBig(inputs, name+"X")
	if err != nil {
		return nil, err
	}
	y, err := InputBig(inputs, name+"Y")
	if err != nil {
		return nil, err
	}
	return bjj.New(x, y), nil
}

// filler returns a deterministic field element for position i of circuit.
func filler(circuit Circuit, i int, seed []*big.Int) *big.Int {
	idx := make([]byte, 8)
	binary.BigEndian.PutUint64(idx, uint64(i))
	data := [][]byte{[]byte(circuit), idx}
	for _, s := range seed {
		if s != nil {
			data = append(data, s.Bytes())
		}
	}
	return util.BigToFF(new(big.Int).SetBytes(crypto.Keccak256(data...)))
}
