package storage

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account returns the stored account for addr, or ErrNotFound.
func (s *Storage) Account(addr common.Address) (*Account, error) {
	acc := &Account{}
	if err := s.getArtifact(accountPrefix, addr.Bytes(), acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// SetAccount stores the account, overwriting any previous value.
func (s *Storage) SetAccount(acc *Account) error {
	if acc == nil {
		return fmt.Errorf("nil account")
	}
	acc.UpdatedAt = time.Now().UTC()
	return s.setArtifact(accountPrefix, acc.Address.Bytes(), acc)
}

// Accounts returns every stored account.
func (s *Storage) Accounts() ([]*Account, error) {
	var accounts []*Account
	var decodeErr error
	if err := s.iterateArtifacts(accountPrefix, func(_, v []byte) bool {
		acc := &Account{}
		if decodeErr = decodeArtifact(v, acc); decodeErr != nil {
			return false
		}
		accounts = append(accounts, acc)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return accounts, nil
}
