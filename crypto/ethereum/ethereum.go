// Package ethereum wraps the secp256k1 keys used to sign ledger transactions
// and wallet messages, and the EIP-191 helpers to recover signer addresses.
package ethereum

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vocdoni/eerc-client/util"
)

const (
	// SignatureLength is the size of an ECDSA signature in bytes: R, S and V.
	SignatureLength = crypto.SignatureLength
	// walletRecoveryOffset is added to V by wallets following the legacy
	// personal_sign convention (27/28 instead of 0/1).
	walletRecoveryOffset = 27
)

// SignKeys holds an ECDSA keypair and its Ethereum address.
type SignKeys struct {
	Public  ecdsa.PublicKey
	Private ecdsa.PrivateKey
	address common.Address
}

// NewSignKeys returns an empty SignKeys. Call Generate or AddHexKey before
// using it.
func NewSignKeys() *SignKeys {
	return &SignKeys{}
}

// Generate creates a new random keypair.
func (k *SignKeys) Generate() error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	k.setKey(key)
	return nil
}

// AddHexKey imports a hex encoded private key, with or without the 0x
// prefix.
func (k *SignKeys) AddHexKey(privHex string) error {
	key, err := crypto.HexToECDSA(util.TrimHex(privHex))
	if err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}
	k.setKey(key)
	return nil
}

func (k *SignKeys) setKey(key *ecdsa.PrivateKey) {
	k.Private = *key
	k.Public = key.PublicKey
	k.address = crypto.PubkeyToAddress(key.PublicKey)
}

// HexString returns the compressed public key and the private key as hex
// strings without prefix.
func (k *SignKeys) HexString() (string, string) {
	pub := hex.EncodeToString(crypto.CompressPubkey(&k.Public))
	priv := hex.EncodeToString(crypto.FromECDSA(&k.Private))
	return pub, priv
}

// PublicKey returns the compressed public key bytes.
func (k *SignKeys) PublicKey() []byte {
	return crypto.CompressPubkey(&k.Public)
}

// Address returns the Ethereum address of the keypair.
func (k *SignKeys) Address() common.Address {
	return k.address
}

// AddressString returns the checksummed address.
func (k *SignKeys) AddressString() string {
	return k.address.String()
}

// SignEthereum signs the EIP-191 hash of message. The recovery id of the
// returned signature is 0 or 1.
func (k *SignKeys) SignEthereum(message []byte) ([]byte, error) {
	if k.Private.D == nil {
		return nil, fmt.Errorf("no private key available")
	}
	return crypto.Sign(Hash(message), &k.Private)
}

// SignMessage signs message the way browser wallets do for personal_sign:
// EIP-191 hash with the recovery id shifted to 27 or 28.
func (k *SignKeys) SignMessage(message []byte) ([]byte, error) {
	sig, err := k.SignEthereum(message)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += walletRecoveryOffset
	return sig, nil
}

// TransactOpts returns a transactor signing with this keypair for chainID.
func (k *SignKeys) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	if k.Private.D == nil {
		return nil, fmt.Errorf("no private key available")
	}
	return bind.NewKeyedTransactorWithChainID(&k.Private, chainID)
}

// Hash returns the EIP-191 hash of data.
func Hash(data []byte) []byte {
	return accounts.TextHash(data)
}

// HashRaw returns the keccak256 hash of data.
func HashRaw(data []byte) []byte {
	return crypto.Keccak256(data)
}

// AddrFromPublicKey returns the address of a compressed or uncompressed
// public key.
func AddrFromPublicKey(pub []byte) (common.Address, error) {
	var (
		pubKey *ecdsa.PublicKey
		err    error
	)
	if len(pub) == 33 {
		pubKey, err = crypto.DecompressPubkey(pub)
	} else {
		pubKey, err = crypto.UnmarshalPubkey(pub)
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// AddrFromSignature recovers the address that signed the EIP-191 hash of
// message. Both 0/1 and 27/28 recovery ids are accepted.
func AddrFromSignature(message, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}
	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= walletRecoveryOffset {
		sig[crypto.RecoveryIDOffset] -= walletRecoveryOffset
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid signature recovery id %d", signature[crypto.RecoveryIDOffset])
	}
	pubKey, err := crypto.SigToPub(Hash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("cannot recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
