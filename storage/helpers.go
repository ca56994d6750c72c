package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
)

// Artifact encoding/decoding
func encodeArtifact(a any) ([]byte, error) {
	encOpts := cbor.CoreDetEncOptions()
	em, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return em.Marshal(a)
}

func decodeArtifact(data []byte, out any) error {
	if err := cbor.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	return nil
}

// balanceKey is the 40 bytes concatenation of account and token addresses.
func balanceKey(account, token common.Address) []byte {
	key := make([]byte, 0, 2*common.AddressLength)
	key = append(key, account.Bytes()...)
	return append(key, token.Bytes()...)
}

func splitBalanceKey(key []byte) (common.Address, common.Address, error) {
	if len(key) != 2*common.AddressLength {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid balance key length %d", len(key))
	}
	return common.BytesToAddress(key[:common.AddressLength]),
		common.BytesToAddress(key[common.AddressLength:]), nil
}
