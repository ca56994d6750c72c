package sequencer

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/types"
)

// DefaultTrackedOperations is the number of operations kept queryable.
const DefaultTrackedOperations = 4096

// Operation is the tracked view of a single register, deposit, withdraw or
// transfer request.
type Operation struct {
	ID        string               `json:"id"`
	Op        types.Operation      `json:"operation"`
	State     types.OperationState `json:"state"`
	From      common.Address       `json:"from"`
	To        *common.Address      `json:"to,omitempty"`
	Amount    *types.BigInt        `json:"amount,omitempty"`
	TxHash    *common.Hash         `json:"txHash,omitempty"`
	Error     string               `json:"error,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// tracker keeps the most recent operations in memory.
type tracker struct {
	mu  sync.Mutex
	ops *lru.Cache[string, *Operation]
}

func newTracker(size int) (*tracker, error) {
	if size <= 0 {
		size = DefaultTrackedOperations
	}
	ops, err := lru.New[string, *Operation](size)
	if err != nil {
		return nil, fmt.Errorf("create operation tracker: %w", err)
	}
	return &tracker{ops: ops}, nil
}

func (t *tracker) start(op types.Operation, from common.Address, to *common.Address) *Operation {
	now := time.Now()
	o := &Operation{
		ID:        uuid.NewString(),
		Op:        op,
		State:     types.StateIdle,
		From:      from,
		To:        to,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops.Add(o.ID, o)
	return o
}

// transition moves o to next. An illegal transition is a bug in the
// sequencer, not an input error, so it panics.
func (t *tracker) transition(o *Operation, next types.OperationState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !o.State.CanTransition(next) {
		panic(fmt.Sprintf("operation %s: invalid transition %s -> %s", o.ID, o.State, next))
	}
	log.Debugw("operation transition", "id", o.ID, "op", o.Op.String(), "from", o.State.String(), "to", next.String())
	o.State = next
	o.UpdatedAt = time.Now()
}

func (t *tracker) state(o *Operation) types.OperationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return o.State
}

func (t *tracker) setAmount(o *Operation, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o.Amount = types.BigIntFrom(amount)
}

func (t *tracker) setTx(o *Operation, hash common.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o.TxHash = &hash
	o.UpdatedAt = time.Now()
}

// fail moves o to Failed and returns err wrapped as an OperationError
// carrying the state the operation failed at.
func (t *tracker) fail(o *Operation, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	opErr := &types.OperationError{Op: o.Op, State: o.State, TxHash: o.TxHash, Err: err}
	if !o.State.CanTransition(types.StateFailed) {
		panic(fmt.Sprintf("operation %s: cannot fail from %s", o.ID, o.State))
	}
	o.State = types.StateFailed
	o.Error = err.Error()
	o.UpdatedAt = time.Now()
	log.Warnw("operation failed", "id", o.ID, "op", o.Op.String(), "at", opErr.State.String(), "error", err.Error())
	return opErr
}

// get returns a copy of the operation id.
func (t *tracker) get(id string) (*Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.ops.Get(id)
	if !ok {
		return nil, false
	}
	c := *o
	return &c, true
}
