// storage package persists the local view of the protocol client: the
// registration state of the accounts it handles, the confirmed shadow
// balances, the reservations parked while their transaction outcome is
// unknown and the records of confirmed transactions. The following prefixes
// are used:
//   - 'a/' for accounts
//   - 'b/' for shadow balances (account || token)
//   - 'r/' for parked reservations
//   - 't/' for transaction records (immutable)
//
// Writes that touch several prefixes go through a Batch so they are
// committed in a single database transaction.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vocdoni/eerc-client/log"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/prefixeddb"
)

var (
	// ErrNotFound is returned when the requested artifact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when writing an immutable artifact that
	// is already stored.
	ErrAlreadyExists = errors.New("already exists")
)

var (
	// Prefixes for the keys in the database.
	accountPrefix     = []byte("a/")
	balancePrefix     = []byte("b/")
	reservationPrefix = []byte("r/")
	transactionPrefix = []byte("t/")
)

// Storage is the persistence layer of the client.
type Storage struct {
	db         db.Database
	globalLock sync.Mutex
}

// New creates a new Storage instance.
func New(db db.Database) *Storage {
	return &Storage{db: db}
}

// Close closes the storage.
func (s *Storage) Close() {
	if err := s.db.Close(); err != nil {
		log.Warnw("failed to close storage", "error", err)
	}
}

// getArtifact reads and decodes the artifact stored under prefix+key into
// out. It returns ErrNotFound if the key does not exist.
func (s *Storage) getArtifact(prefix, key []byte, out any) error {
	pr := prefixeddb.NewPrefixedReader(s.db, prefix)
	data, err := pr.Get(key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return decodeArtifact(data, out)
}

// setArtifact encodes and stores the artifact under prefix+key.
func (s *Storage) setArtifact(prefix, key []byte, artifact any) error {
	data, err := encodeArtifact(artifact)
	if err != nil {
		return err
	}
	wTx := prefixeddb.NewPrefixedWriteTx(s.db.WriteTx(), prefix)
	if err := wTx.Set(key, data); err != nil {
		wTx.Discard()
		return err
	}
	return wTx.Commit()
}

// iterateArtifacts calls fn with a copy of every key and its raw value
// under prefix. Returning false from fn stops the iteration.
func (s *Storage) iterateArtifacts(prefix []byte, fn func(k, v []byte) bool) error {
	pr := prefixeddb.NewPrefixedReader(s.db, prefix)
	return pr.Iterate(nil, func(k, v []byte) bool {
		// the iterator reuses its buffers
		key := make([]byte, len(k))
		copy(key, k)
		val := make([]byte, len(v))
		copy(val, v)
		return fn(key, val)
	})
}

// Batch groups writes across prefixes into a single database transaction.
// A Batch must be finished with Commit or Discard.
type Batch struct {
	s    *Storage
	tx   db.WriteTx
	txs  map[string]struct{}
	done bool
}

// NewBatch starts a new write batch.
func (s *Storage) NewBatch() *Batch {
	return &Batch{
		s:   s,
		tx:  s.db.WriteTx(),
		txs: make(map[string]struct{}),
	}
}

func (b *Batch) set(prefix, key []byte, artifact any) error {
	data, err := encodeArtifact(artifact)
	if err != nil {
		return err
	}
	return prefixeddb.NewPrefixedWriteTx(b.tx, prefix).Set(key, data)
}

func (b *Batch) delete(prefix, key []byte) error {
	return prefixeddb.NewPrefixedWriteTx(b.tx, prefix).Delete(key)
}

// Commit writes every change of the batch atomically. Immutable artifacts
// added to the batch are checked against the database under the storage
// lock, so two batches can not store the same transaction record.
func (b *Batch) Commit() error {
	if b.done {
		return fmt.Errorf("batch already finished")
	}
	b.done = true
	b.s.globalLock.Lock()
	defer b.s.globalLock.Unlock()
	pr := prefixeddb.NewPrefixedReader(b.s.db, transactionPrefix)
	for k := range b.txs {
		if _, err := pr.Get([]byte(k)); err == nil {
			b.tx.Discard()
			return fmt.Errorf("transaction record %x: %w", k, ErrAlreadyExists)
		} else if !errors.Is(err, db.ErrKeyNotFound) {
			b.tx.Discard()
			return err
		}
	}
	return b.tx.Commit()
}

// Discard drops every change of the batch.
func (b *Batch) Discard() {
	if b.done {
		return
	}
	b.done = true
	b.tx.Discard()
}
