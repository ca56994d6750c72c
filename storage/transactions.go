package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/types"
)

// Transaction returns the record of a confirmed transaction, or ErrNotFound.
func (s *Storage) Transaction(hash common.Hash) (*types.TransactionRecord, error) {
	rec := &types.TransactionRecord{}
	if err := s.getArtifact(transactionPrefix, hash.Bytes(), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Transactions returns the records involving addr, as sender or receiver.
func (s *Storage) Transactions(addr common.Address) ([]*types.TransactionRecord, error) {
	var records []*types.TransactionRecord
	var decodeErr error
	if err := s.iterateArtifacts(transactionPrefix, func(_, v []byte) bool {
		rec := &types.TransactionRecord{}
		if decodeErr = decodeArtifact(v, rec); decodeErr != nil {
			return false
		}
		if rec.From == addr || rec.To == addr {
			records = append(records, rec)
		}
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return records, nil
}

// AddTransaction adds a transaction record to the batch. Commit fails with
// ErrAlreadyExists if a record with the same hash is already stored.
func (b *Batch) AddTransaction(rec *types.TransactionRecord) error {
	if rec == nil {
		return fmt.Errorf("nil transaction record")
	}
	key := rec.Hash.Bytes()
	if _, ok := b.txs[string(key)]; ok {
		return fmt.Errorf("transaction record %s: %w", rec.Hash.Hex(), ErrAlreadyExists)
	}
	b.txs[string(key)] = struct{}{}
	return b.set(transactionPrefix, key, rec)
}

// AddTransaction stores a single transaction record.
func (s *Storage) AddTransaction(rec *types.TransactionRecord) error {
	b := s.NewBatch()
	if err := b.AddTransaction(rec); err != nil {
		b.Discard()
		return err
	}
	return b.Commit()
}
