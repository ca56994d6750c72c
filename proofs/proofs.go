// Package proofs builds the inputs of the eERC circuits, requests the
// proofs and checks that their public signals commit to the values the
// caller asked for before anything is sent to the chain.
package proofs

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/keys"
	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/prover"
	"github.com/vocdoni/eerc-client/types"
	"github.com/vocdoni/eerc-client/util"
)

// DefaultMaxConcurrentProofs bounds the proofs generated at the same time.
const DefaultMaxConcurrentProofs = 2

// Prover generates a proof of circuit for the inputs.
type Prover interface {
	GenerateProof(ctx context.Context, circuit prover.Circuit, inputs map[string]any) (*ledger.Proof, error)
}

// KeyRegistry returns the shielded public key registered for an address.
type KeyRegistry interface {
	RegisteredKey(ctx context.Context, addr common.Address) (*bjj.Point, error)
}

// Request is a proof request. Private inputs are never logged.
type Request struct {
	Operation types.Operation
	Circuit   prover.Circuit
	Public    map[string]any
	Private   map[string]any
}

func (r *Request) inputs() map[string]any {
	in := make(map[string]any, len(r.Public)+len(r.Private))
	for k, v := range r.Public {
		in[k] = v
	}
	for k, v := range r.Private {
		in[k] = v
	}
	return in
}

// expectations are the values the public signals must carry.
type expectations struct {
	publicKey        *bjj.Point
	receiver         *bjj.Point
	auditor          *bjj.Point
	amount           *big.Int
	address          *big.Int
	chainID          *big.Int
	registrationHash *big.Int
}

// Orchestrator turns protocol operations into validated proofs.
type Orchestrator struct {
	prover   Prover
	registry KeyRegistry
	auditor  *AuditorKeyCache
	sem      *semaphore.Weighted
}

// New returns an Orchestrator. maxConcurrent bounds the proofs running at
// the same time, values below one use DefaultMaxConcurrentProofs.
func New(p Prover, registry KeyRegistry, auditor *AuditorKeyCache, maxConcurrent int64) *Orchestrator {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrentProofs
	}
	return &Orchestrator{
		prover:   p,
		registry: registry,
		auditor:  auditor,
		sem:      semaphore.NewWeighted(maxConcurrent),
	}
}

// Auditor returns the auditor key cache used by the orchestrator.
func (o *Orchestrator) Auditor() *AuditorKeyCache {
	return o.auditor
}

// Register proves the registration of kp for addr on chainID.
func (o *Orchestrator) Register(ctx context.Context, kp *keys.Keypair, addr common.Address, chainID *big.Int) (*ledger.Proof, error) {
	regHash, err := keys.RegistrationHash(chainID, kp.PrivateKey, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: registration hash: %v", types.ErrProofGeneration, err)
	}
	addrInt := util.AddressToBig(addr)
	req := &Request{
		Operation: types.OperationRegister,
		Circuit:   prover.CircuitRegistration,
		Public: map[string]any{
			"chainId":     chainID,
			"userAddress": addrInt,
		},
		Private: map[string]any{"privateKey": kp.PrivateKey},
	}
	return o.prove(ctx, req, &expectations{
		publicKey:        kp.PublicKey,
		address:          addrInt,
		chainID:          chainID,
		registrationHash: regHash,
	})
}

// Deposit proves the encrypted amount credited to owner by a deposit.
func (o *Orchestrator) Deposit(ctx context.Context, kp *keys.Keypair, owner common.Address, amount *big.Int) (*ledger.Proof, error) {
	auditor, err := o.prepare(ctx, kp, owner)
	if err != nil {
		return nil, err
	}
	req := &Request{
		Operation: types.OperationDeposit,
		Circuit:   prover.CircuitMint,
		Public:    userInputs("user", amount, kp.PublicKey, auditor),
		Private:   map[string]any{"userPrivateKey": kp.PrivateKey},
	}
	return o.prove(ctx, req, &expectations{publicKey: kp.PublicKey, auditor: auditor})
}

// Withdraw proves that owner can withdraw amount of the token tokenID.
func (o *Orchestrator) Withdraw(ctx context.Context, kp *keys.Keypair, owner common.Address, amount, tokenID *big.Int) (*ledger.Proof, error) {
	auditor, err := o.prepare(ctx, kp, owner)
	if err != nil {
		return nil, err
	}
	public := userInputs("user", amount, kp.PublicKey, auditor)
	public["tokenId"] = tokenID
	req := &Request{
		Operation: types.OperationWithdraw,
		Circuit:   prover.CircuitWithdraw,
		Public:    public,
		Private:   map[string]any{"userPrivateKey": kp.PrivateKey},
	}
	return o.prove(ctx, req, &expectations{publicKey: kp.PublicKey, auditor: auditor, amount: amount})
}

// Transfer proves a transfer of amount from sender to receiver, whose
// registered key is receiverPK.
func (o *Orchestrator) Transfer(ctx context.Context, kp *keys.Keypair, sender, receiver common.Address,
	receiverPK *bjj.Point, amount *big.Int,
) (*ledger.Proof, error) {
	if receiverPK.IsZero() || !receiverPK.Valid() {
		return nil, fmt.Errorf("%w: invalid public key for receiver %s", types.ErrValidation, receiver.Hex())
	}
	auditor, err := o.prepare(ctx, kp, sender)
	if err != nil {
		return nil, err
	}
	public := userInputs("sender", amount, kp.PublicKey, auditor)
	rc := receiverPK.Coords()
	public["receiverPublicKeyX"] = rc[0]
	public["receiverPublicKeyY"] = rc[1]
	req := &Request{
		Operation: types.OperationTransfer,
		Circuit:   prover.CircuitTransfer,
		Public:    public,
		Private:   map[string]any{"senderPrivateKey": kp.PrivateKey},
	}
	return o.prove(ctx, req, &expectations{publicKey: kp.PublicKey, receiver: receiverPK, auditor: auditor})
}

func userInputs(role string, amount *big.Int, pk, auditor *bjj.Point) map[string]any {
	uc, ac := pk.Coords(), auditor.Coords()
	return map[string]any{
		"amount":            amount,
		role + "PublicKeyX": uc[0],
		role + "PublicKeyY": uc[1],
		"auditorPublicKeyX": ac[0],
		"auditorPublicKeyY": ac[1],
	}
}

// prepare checks that kp is the key registered for addr and returns the
// auditor key.
func (o *Orchestrator) prepare(ctx context.Context, kp *keys.Keypair, addr common.Address) (*bjj.Point, error) {
	registered, err := o.registry.RegisteredKey(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !registered.Equal(kp.PublicKey) {
		return nil, fmt.Errorf("%w: derived key %s, registered key %s", types.ErrKeyMismatch, kp.PublicKey, registered)
	}
	auditor, err := o.auditor.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProofGeneration, err)
	}
	return auditor, nil
}

type proofResult struct {
	proof *ledger.Proof
	err   error
}

// prove runs the prover in its own goroutine, so a canceled caller returns
// at once while the prover finishes and releases its slot.
func (o *Orchestrator) prove(ctx context.Context, req *Request, expect *expectations) (*ledger.Proof, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrProofGeneration, err)
	}
	startTime := time.Now()
	results := make(chan proofResult, 1)
	go func() {
		defer o.sem.Release(1)
		proof, err := o.prover.GenerateProof(ctx, req.Circuit, req.inputs())
		results <- proofResult{proof, err}
	}()
	var res proofResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", types.ErrProofGeneration, ctx.Err())
	}
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", types.ErrProofGeneration, res.err)
		}
		return nil, fmt.Errorf("%w: %s: %v", types.ErrProofGeneration, req.Circuit, res.err)
	}
	if err := validate(req.Circuit, res.proof, expect); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrProofGeneration, req.Circuit, err)
	}
	log.Debugw("proof ready", "operation", req.Operation.String(), "circuit", string(req.Circuit),
		"took", time.Since(startTime).String())
	return res.proof, nil
}

// validate checks the public signals of proof against the circuit layout
// and the expected values.
func validate(circuit prover.Circuit, proof *ledger.Proof, expect *expectations) error {
	layout, err := prover.LayoutOf(circuit)
	if err != nil {
		return err
	}
	if proof == nil {
		return fmt.Errorf("empty proof")
	}
	signals := proof.PublicSignals
	if len(signals) != layout.Signals {
		return fmt.Errorf("expected %d public signals, got %d", layout.Signals, len(signals))
	}
	for i, s := range signals {
		if !util.InScalarField(s) {
			return fmt.Errorf("public signal %d is not a field element", i)
		}
	}
	for i, p := range proof.Points {
		if p == nil || p.Sign() < 0 {
			return fmt.Errorf("invalid proof point %d", i)
		}
	}
	checkPoint := func(name string, idx int, want *bjj.Point) error {
		if want == nil || idx == prover.NotExposed {
			return nil
		}
		got := bjj.New(signals[idx], signals[idx+1])
		if !got.Equal(want) {
			return fmt.Errorf("%s mismatch", name)
		}
		return nil
	}
	checkValue := func(name string, idx int, want *big.Int) error {
		if want == nil || idx == prover.NotExposed {
			return nil
		}
		if signals[idx].Cmp(want) != 0 {
			return fmt.Errorf("%s mismatch", name)
		}
		return nil
	}
	for _, err := range []error{
		checkPoint("public key", layout.PublicKey, expect.publicKey),
		checkPoint("receiver public key", layout.Receiver, expect.receiver),
		checkPoint("auditor public key", layout.Auditor, expect.auditor),
		checkValue("amount", layout.Amount, expect.amount),
		checkValue("address", layout.Address, expect.address),
		checkValue("chain id", layout.ChainID, expect.chainID),
		checkValue("registration hash", layout.RegistrationHash, expect.registrationHash),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
