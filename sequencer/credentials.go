package sequencer

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/crypto/ethereum"
	"github.com/vocdoni/eerc-client/keys"
	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/types"
	"github.com/vocdoni/eerc-client/util"
)

// WalletProvider returns the wallet able to sign transactions for addr.
type WalletProvider interface {
	Wallet(addr common.Address) (ledger.Wallet, error)
}

// WalletProviderFunc adapts a function to a WalletProvider.
type WalletProviderFunc func(addr common.Address) (ledger.Wallet, error)

// Wallet calls f(addr).
func (f WalletProviderFunc) Wallet(addr common.Address) (ledger.Wallet, error) {
	return f(addr)
}

// Credentials are what an operation needs from its caller: a wallet to sign
// the ledger transactions and the shielded keypair of the same address.
type Credentials struct {
	Wallet  ledger.Wallet
	Keypair *keys.Keypair
}

// Address returns the public address of the credentials.
func (c *Credentials) Address() common.Address {
	return c.Wallet.Address()
}

// RegistrationMethod is the way a caller proves control of an address.
// SignatureBased is the production method. DevelopmentPrivateKey hands the
// raw key to the client and must only be enabled on test networks.
type RegistrationMethod interface {
	Resolve(wallets WalletProvider) (*Credentials, error)
}

// SignatureBased credentials carry the signature of the registration
// message by Address. The wallet signing transactions comes from the
// provider.
type SignatureBased struct {
	Address   common.Address
	Signature string
}

// Resolve verifies the signature, derives the keypair and looks up the
// wallet of the address.
func (m *SignatureBased) Resolve(wallets WalletProvider) (*Credentials, error) {
	sig, err := hex.DecodeString(util.TrimHex(strings.TrimSpace(m.Signature)))
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex: %v", types.ErrValidation, err)
	}
	if err := keys.VerifyRegistrationSignature(m.Address, sig); err != nil {
		return nil, err
	}
	kp, err := keys.DeriveFromBytes(sig)
	if err != nil {
		return nil, err
	}
	if wallets == nil {
		return nil, fmt.Errorf("%w: no wallet available for %s", types.ErrValidation, m.Address.Hex())
	}
	w, err := wallets.Wallet(m.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: wallet for %s: %v", types.ErrValidation, m.Address.Hex(), err)
	}
	if w.Address() != m.Address {
		return nil, fmt.Errorf("%w: wallet address %s does not match %s", types.ErrValidation, w.Address().Hex(), m.Address.Hex())
	}
	return &Credentials{Wallet: w, Keypair: kp}, nil
}

// DevelopmentPrivateKey credentials sign the registration message locally
// with the given hex private key and use the same key as wallet.
type DevelopmentPrivateKey struct {
	PrivateKey string
}

// Resolve loads the key, signs the registration message and derives the
// keypair from that signature. The provider is not used.
func (m *DevelopmentPrivateKey) Resolve(_ WalletProvider) (*Credentials, error) {
	signer := ethereum.NewSignKeys()
	if err := signer.AddHexKey(strings.TrimSpace(m.PrivateKey)); err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", types.ErrValidation, err)
	}
	sig, err := signer.SignMessage(keys.RegistrationMessage(signer.Address()))
	if err != nil {
		return nil, fmt.Errorf("%w: sign registration message: %v", types.ErrKeyDerivation, err)
	}
	kp, err := keys.DeriveFromBytes(sig)
	if err != nil {
		return nil, err
	}
	return &Credentials{Wallet: signer, Keypair: kp}, nil
}
