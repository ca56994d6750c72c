// Package shadow keeps the local view of the confidential balances. Every
// balance-changing operation reserves its deltas before proving, and the
// reservation is committed or rolled back once the ledger outcome is known.
// A reservation whose outcome is unknown is parked: its deltas stay pending
// and are persisted until reconciliation resolves them.
package shadow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/storage"
	"github.com/vocdoni/eerc-client/types"
)

// ErrReservationDone is returned when resolving a reservation that was
// already committed or rolled back.
var ErrReservationDone = errors.New("reservation already resolved")

// Key identifies a shadow balance.
type Key struct {
	Account common.Address
	Token   common.Address
}

func (k Key) String() string {
	return k.Account.Hex() + "/" + k.Token.Hex()
}

func (k Key) less(o Key) bool {
	if c := bytes.Compare(k.Account.Bytes(), o.Account.Bytes()); c != 0 {
		return c < 0
	}
	return bytes.Compare(k.Token.Bytes(), o.Token.Bytes()) < 0
}

// Delta is a signed change of a shadow balance.
type Delta struct {
	Key
	Amount *big.Int
}

// Debit returns the delta that subtracts amount from the balance of key.
func Debit(account, token common.Address, amount *big.Int) Delta {
	return Delta{Key: Key{account, token}, Amount: new(big.Int).Neg(amount)}
}

// Credit returns the delta that adds amount to the balance of key.
func Credit(account, token common.Address, amount *big.Int) Delta {
	return Delta{Key: Key{account, token}, Amount: new(big.Int).Set(amount)}
}

// Balance is the shadow balance of a key: the amount confirmed on chain and
// the sum of the deltas not resolved yet.
type Balance struct {
	Confirmed    *big.Int
	PendingDelta *big.Int
}

type reservationState int

const (
	reservationActive reservationState = iota
	reservationParked
	reservationDone
)

// Reservation holds the deltas of one operation. While active it owns the
// locks of every key it touches.
type Reservation struct {
	ID        string
	Operation types.Operation
	TxHash    common.Hash
	deltas    map[Key]*big.Int
	keys      []Key
	state     reservationState
}

// Deltas returns the net delta of every key of the reservation.
func (r *Reservation) Deltas() []Delta {
	deltas := make([]Delta, 0, len(r.keys))
	for _, k := range r.keys {
		deltas = append(deltas, Delta{Key: k, Amount: new(big.Int).Set(r.deltas[k])})
	}
	return deltas
}

// Store is the shadow balance store.
type Store struct {
	stg *storage.Storage

	locksMu sync.Mutex
	locks   map[Key]chan struct{}

	mu      sync.RWMutex
	pending map[Key]*big.Int
	debits  map[Key]*big.Int
	parked  map[string]*Reservation
}

// New returns a Store over stg and restores the reservations parked before
// a restart.
func New(stg *storage.Storage) (*Store, error) {
	s := &Store{
		stg:     stg,
		locks:   make(map[Key]chan struct{}),
		pending: make(map[Key]*big.Int),
		debits:  make(map[Key]*big.Int),
		parked:  make(map[string]*Reservation),
	}
	parked, err := stg.ParkedReservations()
	if err != nil {
		return nil, fmt.Errorf("load parked reservations: %w", err)
	}
	for _, pr := range parked {
		r := &Reservation{
			ID:        pr.ID,
			Operation: pr.Operation,
			TxHash:    pr.TxHash,
			deltas:    make(map[Key]*big.Int),
			state:     reservationParked,
		}
		for _, d := range pr.Deltas {
			r.add(Key{d.Account, d.Token}, d.Amount.MathBigInt())
		}
		r.sortKeys()
		s.addPending(r)
		s.parked[r.ID] = r
	}
	if len(parked) > 0 {
		log.Infow("restored parked reservations", "count", len(parked))
	}
	return s, nil
}

func (r *Reservation) add(k Key, amount *big.Int) {
	if cur, ok := r.deltas[k]; ok {
		cur.Add(cur, amount)
		return
	}
	r.deltas[k] = new(big.Int).Set(amount)
}

func (r *Reservation) sortKeys() {
	r.keys = r.keys[:0]
	for k := range r.deltas {
		r.keys = append(r.keys, k)
	}
	sort.Slice(r.keys, func(i, j int) bool { return r.keys[i].less(r.keys[j]) })
}

func (s *Store) lockOf(k Key) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[k] = l
	}
	return l
}

// lockKeys acquires the locks of keys, which must be sorted, so two
// reservations sharing keys can never wait on each other.
func (s *Store) lockKeys(ctx context.Context, keys []Key) error {
	for i, k := range keys {
		select {
		case s.lockOf(k) <- struct{}{}:
		case <-ctx.Done():
			s.unlockKeys(keys[:i])
			return ctx.Err()
		}
	}
	return nil
}

func (s *Store) unlockKeys(keys []Key) {
	for i := len(keys) - 1; i >= 0; i-- {
		<-s.lockOf(keys[i])
	}
}

func (s *Store) addPending(r *Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range r.deltas {
		addTo(s.pending, k, d)
		if d.Sign() < 0 {
			addTo(s.debits, k, d)
		}
	}
}

func (s *Store) removePending(r *Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removePendingLocked(r)
}

// removePendingLocked must be called with s.mu held.
func (s *Store) removePendingLocked(r *Reservation) {
	for k, d := range r.deltas {
		addTo(s.pending, k, new(big.Int).Neg(d))
		if s.pending[k].Sign() == 0 {
			delete(s.pending, k)
		}
		if d.Sign() < 0 {
			addTo(s.debits, k, new(big.Int).Neg(d))
			if s.debits[k].Sign() == 0 {
				delete(s.debits, k)
			}
		}
	}
}

func addTo(m map[Key]*big.Int, k Key, v *big.Int) {
	if cur, ok := m[k]; ok {
		cur.Add(cur, v)
		return
	}
	m[k] = new(big.Int).Set(v)
}

// Reserve waits until every key touched by deltas is free, checks that no
// balance can go negative and records the deltas as pending. A debit is
// accepted only if confirmed + pending debits + delta >= 0, so credits that
// are not confirmed yet can not be spent.
func (s *Store) Reserve(ctx context.Context, op types.Operation, deltas ...Delta) (*Reservation, error) {
	if len(deltas) == 0 {
		return nil, fmt.Errorf("%w: empty reservation", types.ErrValidation)
	}
	r := &Reservation{
		ID:        uuid.NewString(),
		Operation: op,
		deltas:    make(map[Key]*big.Int),
	}
	for _, d := range deltas {
		if d.Amount == nil {
			return nil, fmt.Errorf("%w: nil delta for %s", types.ErrValidation, d.Key)
		}
		r.add(d.Key, d.Amount)
	}
	r.sortKeys()
	if err := s.lockKeys(ctx, r.keys); err != nil {
		return nil, err
	}
	for _, k := range r.keys {
		d := r.deltas[k]
		if d.Sign() >= 0 {
			continue
		}
		confirmed, err := s.stg.Balance(k.Account, k.Token)
		if err != nil {
			s.unlockKeys(r.keys)
			return nil, fmt.Errorf("read balance %s: %w", k, err)
		}
		available := new(big.Int).Add(confirmed, s.pendingDebits(k))
		if available.Add(available, d).Sign() < 0 {
			s.unlockKeys(r.keys)
			return nil, fmt.Errorf("%w: %s has %s available, needs %s", types.ErrInsufficientBalance,
				k, new(big.Int).Sub(available, d), new(big.Int).Neg(d))
		}
	}
	s.addPending(r)
	log.Debugw("reservation created", "id", r.ID, "operation", op.String(), "keys", len(r.keys))
	return r, nil
}

func (s *Store) resolved(r *Reservation) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return r.state == reservationDone
}

func (s *Store) pendingDebits(k Key) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.debits[k]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

// Commit folds the deltas of r into the confirmed balances. Every key and
// the transaction record, if any, are written in a single batch, so either
// all legs of an operation are committed or none is. The record gets the
// resulting balances as its snapshot.
func (s *Store) Commit(ctx context.Context, r *Reservation, rec *types.TransactionRecord) error {
	s.mu.RLock()
	state := r.state
	s.mu.RUnlock()
	switch state {
	case reservationDone:
		return ErrReservationDone
	case reservationParked:
		// the locks were released when parking
		if err := s.lockKeys(ctx, r.keys); err != nil {
			return err
		}
		if s.resolved(r) {
			s.unlockKeys(r.keys)
			return ErrReservationDone
		}
	}
	// an active reservation keeps its locks on failure, so the caller can
	// still roll it back or park it
	batch := s.stg.NewBatch()
	fail := func(err error) error {
		batch.Discard()
		if state == reservationParked {
			s.unlockKeys(r.keys)
		}
		return err
	}
	var snapshot []types.BalanceSnapshot
	for _, k := range r.keys {
		confirmed, err := s.stg.Balance(k.Account, k.Token)
		if err != nil {
			return fail(fmt.Errorf("read balance %s: %w", k, err))
		}
		confirmed.Add(confirmed, r.deltas[k])
		if err := batch.SetBalance(k.Account, k.Token, confirmed); err != nil {
			return fail(err)
		}
		snapshot = append(snapshot, types.BalanceSnapshot{
			Account:   k.Account,
			Token:     k.Token,
			Confirmed: types.BigIntFrom(confirmed),
		})
	}
	if state == reservationParked {
		if err := batch.DeleteParked(r.ID); err != nil {
			return fail(err)
		}
	}
	if rec != nil {
		rec.Balances = snapshot
		if err := batch.AddTransaction(rec); err != nil {
			return fail(err)
		}
	}
	// the confirmed balances and the pending deltas change together under
	// s.mu, and the keys are released only once both are applied
	s.mu.Lock()
	if err := batch.Commit(); err != nil {
		s.mu.Unlock()
		return fail(fmt.Errorf("commit reservation %s: %w", r.ID, err))
	}
	s.removePendingLocked(r)
	r.state = reservationDone
	delete(s.parked, r.ID)
	s.mu.Unlock()
	s.unlockKeys(r.keys)
	log.Debugw("reservation committed", "id", r.ID, "operation", r.Operation.String())
	return nil
}

// Rollback discards the deltas of r.
func (s *Store) Rollback(r *Reservation) error {
	s.mu.RLock()
	state := r.state
	s.mu.RUnlock()
	switch state {
	case reservationDone:
		return ErrReservationDone
	case reservationParked:
		if err := s.lockKeys(context.Background(), r.keys); err != nil {
			return err
		}
		if s.resolved(r) {
			s.unlockKeys(r.keys)
			return ErrReservationDone
		}
		b := s.stg.NewBatch()
		if err := b.DeleteParked(r.ID); err != nil {
			b.Discard()
			s.unlockKeys(r.keys)
			return err
		}
		if err := b.Commit(); err != nil {
			s.unlockKeys(r.keys)
			return fmt.Errorf("delete parked reservation %s: %w", r.ID, err)
		}
	}
	s.removePending(r)
	s.mu.Lock()
	r.state = reservationDone
	delete(s.parked, r.ID)
	s.mu.Unlock()
	s.unlockKeys(r.keys)
	log.Debugw("reservation rolled back", "id", r.ID, "operation", r.Operation.String())
	return nil
}

// Park keeps the deltas of r pending until its transaction outcome is
// known, persists it and frees its keys for other operations.
func (s *Store) Park(r *Reservation, txHash common.Hash) error {
	s.mu.RLock()
	state := r.state
	s.mu.RUnlock()
	if state != reservationActive {
		return fmt.Errorf("reservation %s is not active", r.ID)
	}
	pr := &storage.ParkedReservation{
		ID:        r.ID,
		TxHash:    txHash,
		Operation: r.Operation,
		ParkedAt:  time.Now().UTC(),
	}
	for _, d := range r.Deltas() {
		pr.Deltas = append(pr.Deltas, storage.Delta{
			Account: d.Account,
			Token:   d.Token,
			Amount:  types.BigIntFrom(d.Amount),
		})
	}
	if err := s.stg.ParkReservation(pr); err != nil {
		return fmt.Errorf("park reservation %s: %w", r.ID, err)
	}
	s.mu.Lock()
	r.TxHash = txHash
	r.state = reservationParked
	s.parked[r.ID] = r
	s.mu.Unlock()
	s.unlockKeys(r.keys)
	log.Infow("reservation parked", "id", r.ID, "operation", r.Operation.String(), "tx", txHash.Hex())
	return nil
}

// Parked returns the parked reservations.
func (s *Store) Parked() []*Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parked := make([]*Reservation, 0, len(s.parked))
	for _, r := range s.parked {
		parked = append(parked, r)
	}
	sort.Slice(parked, func(i, j int) bool { return parked[i].ID < parked[j].ID })
	return parked
}

// ParkedByTx returns the parked reservation waiting for txHash, if any.
func (s *Store) ParkedByTx(txHash common.Hash) (*Reservation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.parked {
		if r.TxHash == txHash {
			return r, true
		}
	}
	return nil, false
}

// Balance returns the shadow balance of key. It does not wait for the key
// lock.
func (s *Store) Balance(k Key) (*Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	confirmed, err := s.stg.Balance(k.Account, k.Token)
	if err != nil {
		return nil, err
	}
	pending := new(big.Int)
	if p, ok := s.pending[k]; ok {
		pending.Set(p)
	}
	return &Balance{Confirmed: confirmed, PendingDelta: pending}, nil
}
