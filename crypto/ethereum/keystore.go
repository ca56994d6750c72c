package ethereum

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
)

// KeystoreWallet is an account of an encrypted keystore able to sign
// transactions once unlocked.
type KeystoreWallet struct {
	ks      *keystore.KeyStore
	account accounts.Account
}

// Address returns the account address.
func (w *KeystoreWallet) Address() common.Address {
	return w.account.Address
}

// TransactOpts returns a transactor signing through the keystore.
func (w *KeystoreWallet) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	return bind.NewKeyStoreTransactorWithChainID(w.ks, w.account, chainID)
}

// Keystore resolves addresses to unlocked keystore wallets. Accounts are
// unlocked lazily with the configured passphrase and kept unlocked.
type Keystore struct {
	ks         *keystore.KeyStore
	passphrase string
	mu         sync.Mutex
	unlocked   map[common.Address]*KeystoreWallet
}

// NewKeystore opens (or creates) the keystore directory dir.
func NewKeystore(dir, passphrase string) *Keystore {
	return newKeystore(dir, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
}

func newKeystore(dir, passphrase string, scryptN, scryptP int) *Keystore {
	return &Keystore{
		ks:         keystore.NewKeyStore(dir, scryptN, scryptP),
		passphrase: passphrase,
		unlocked:   make(map[common.Address]*KeystoreWallet),
	}
}

// Import stores the private key of keys in the keystore, encrypted with the
// configured passphrase.
func (k *Keystore) Import(keys *SignKeys) (common.Address, error) {
	acc, err := k.ks.ImportECDSA(&keys.Private, k.passphrase)
	if err != nil {
		return common.Address{}, fmt.Errorf("cannot import key: %w", err)
	}
	return acc.Address, nil
}

// Wallet returns the unlocked wallet for addr.
func (k *Keystore) Wallet(addr common.Address) (*KeystoreWallet, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.unlocked[addr]; ok {
		return w, nil
	}
	acc, err := k.ks.Find(accounts.Account{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("no keystore account for %s: %w", addr.Hex(), err)
	}
	if err := k.ks.Unlock(acc, k.passphrase); err != nil {
		return nil, fmt.Errorf("cannot unlock %s: %w", addr.Hex(), err)
	}
	w := &KeystoreWallet{ks: k.ks, account: acc}
	k.unlocked[addr] = w
	return w, nil
}
