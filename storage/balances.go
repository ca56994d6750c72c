package storage

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/types"
)

// Balance returns the confirmed shadow balance of the pair. A pair never
// written has a zero balance.
func (s *Storage) Balance(account, token common.Address) (*big.Int, error) {
	b := &Balance{}
	if err := s.getArtifact(balancePrefix, balanceKey(account, token), b); err != nil {
		if errors.Is(err, ErrNotFound) {
			return new(big.Int), nil
		}
		return nil, err
	}
	if b.Confirmed == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(b.Confirmed.MathBigInt()), nil
}

// Balances returns every stored shadow balance.
func (s *Storage) Balances() ([]*Balance, error) {
	var balances []*Balance
	var iterErr error
	if err := s.iterateArtifacts(balancePrefix, func(k, v []byte) bool {
		if _, _, iterErr = splitBalanceKey(k); iterErr != nil {
			return false
		}
		b := &Balance{}
		if iterErr = decodeArtifact(v, b); iterErr != nil {
			return false
		}
		balances = append(balances, b)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	if iterErr != nil {
		return nil, iterErr
	}
	return balances, nil
}

// SetBalance adds the confirmed balance of the pair to the batch. Negative
// balances are rejected.
func (b *Batch) SetBalance(account, token common.Address, confirmed *big.Int) error {
	if confirmed == nil || confirmed.Sign() < 0 {
		return fmt.Errorf("invalid confirmed balance %v for %s/%s", confirmed, account.Hex(), token.Hex())
	}
	return b.set(balancePrefix, balanceKey(account, token), &Balance{
		Account:   account,
		Token:     token,
		Confirmed: types.BigIntFrom(confirmed),
	})
}
