// Package registry tracks the registration state and shielded public key of
// the accounts the client handles. The chain is the source of truth, a
// local Registering state covers the window between submitting a
// registration and its confirmation, and lookups are cached until the
// account changes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/storage"
	"github.com/vocdoni/eerc-client/types"
)

// DefaultCacheSize is the number of account statuses kept in memory.
const DefaultCacheSize = 1024

// ErrRegistrationInProgress is returned when starting a registration for an
// account that is already registering.
var ErrRegistrationInProgress = errors.New("registration in progress")

// Ledger is the part of the ledger the registry reads.
type Ledger interface {
	IsRegistered(ctx context.Context, addr common.Address) (bool, error)
	PublicKey(ctx context.Context, addr common.Address) (*bjj.Point, error)
}

// Account is the registration view of an address.
type Account struct {
	Address        common.Address          `json:"address"`
	PublicKey      *bjj.Point              `json:"publicKey,omitempty"`
	State          types.RegistrationState `json:"state"`
	RegistrationTx *common.Hash            `json:"registrationTx,omitempty"`
}

func (a *Account) copy() *Account {
	c := *a
	return &c
}

// Registry is the account registry.
type Registry struct {
	ledger Ledger
	stg    *storage.Storage
	cache  *lru.Cache[common.Address, *Account]
	mu     sync.RWMutex
}

// New returns a registry reading ledger and persisting to stg.
func New(ledger Ledger, stg *storage.Storage, cacheSize int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[common.Address, *Account](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create status cache: %w", err)
	}
	return &Registry{ledger: ledger, stg: stg, cache: cache}, nil
}

// Status returns the registration view of addr. A key stored locally that
// differs from the key registered on chain is reported as ErrKeyMismatch.
func (r *Registry) Status(ctx context.Context, addr common.Address) (*Account, error) {
	if acc, ok := r.cache.Get(addr); ok {
		return acc.copy(), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered, err := r.ledger.IsRegistered(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("query registration of %s: %w", addr.Hex(), err)
	}
	stored, err := r.stg.Account(addr)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read account %s: %w", addr.Hex(), err)
	}

	acc := &Account{Address: addr, State: types.Unregistered}
	if registered {
		pk, err := r.ledger.PublicKey(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("query public key of %s: %w", addr.Hex(), err)
		}
		if stored != nil && stored.PublicKey != nil && !stored.PublicKey.Equal(pk) {
			return nil, fmt.Errorf("%w: stored key %s, registered key %s", types.ErrKeyMismatch, stored.PublicKey, pk)
		}
		acc.PublicKey = pk
		acc.State = types.Registered
		if stored != nil {
			acc.RegistrationTx = stored.RegistrationTx
		}
		r.cache.Add(addr, acc.copy())
		return acc, nil
	}
	if stored != nil {
		switch stored.State {
		case types.Registering:
			acc.State = types.Registering
			acc.PublicKey = stored.PublicKey
			acc.RegistrationTx = stored.RegistrationTx
			// transient, not cached
			return acc, nil
		case types.Registered:
			log.Warnw("account stored as registered but not registered on chain", "address", addr.Hex())
		}
	}
	r.cache.Add(addr, acc.copy())
	return acc, nil
}

// RegisteredKey returns the key registered for addr, or ErrNotRegistered.
func (r *Registry) RegisteredKey(ctx context.Context, addr common.Address) (*bjj.Point, error) {
	acc, err := r.Status(ctx, addr)
	if err != nil {
		return nil, err
	}
	if acc.State != types.Registered || acc.PublicKey.IsZero() {
		return nil, fmt.Errorf("%w: %s", types.ErrNotRegistered, addr.Hex())
	}
	return acc.PublicKey, nil
}

// Invalidate drops the cached status of addr.
func (r *Registry) Invalidate(addr common.Address) {
	r.cache.Remove(addr)
}

// BeginRegistration moves addr from Unregistered to Registering with the
// key being registered. It fails if the account is already registering.
func (r *Registry) BeginRegistration(addr common.Address, pk *bjj.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.stg.Account(addr)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if stored != nil && stored.State == types.Registering {
		return fmt.Errorf("%w: %s", ErrRegistrationInProgress, addr.Hex())
	}
	r.cache.Remove(addr)
	return r.stg.SetAccount(&storage.Account{
		Address:   addr,
		PublicKey: pk,
		State:     types.Registering,
	})
}

// SetRegistrationTx records the hash of the registration transaction of a
// registering account.
func (r *Registry) SetRegistrationTx(addr common.Address, txHash common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.stg.Account(addr)
	if err != nil {
		return err
	}
	if stored.State != types.Registering {
		return fmt.Errorf("account %s is %s, not registering", addr.Hex(), stored.State)
	}
	stored.RegistrationTx = &txHash
	return r.stg.SetAccount(stored)
}

// ConfirmRegistration marks addr as registered with pk.
func (r *Registry) ConfirmRegistration(addr common.Address, pk *bjj.Point, txHash common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.stg.Account(addr)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if stored != nil && stored.PublicKey != nil && !stored.PublicKey.Equal(pk) {
		return fmt.Errorf("%w: registering key %s, confirmed key %s", types.ErrKeyMismatch, stored.PublicKey, pk)
	}
	acc := &storage.Account{
		Address:   addr,
		PublicKey: pk,
		State:     types.Registered,
	}
	if txHash != (common.Hash{}) {
		acc.RegistrationTx = &txHash
	}
	if err := r.stg.SetAccount(acc); err != nil {
		return err
	}
	r.cache.Remove(addr)
	log.Infow("account registered", "address", addr.Hex(), "publicKey", pk.String())
	return nil
}

// AbortRegistration moves a registering account back to Unregistered.
func (r *Registry) AbortRegistration(addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.stg.Account(addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if stored.State != types.Registering {
		return nil
	}
	r.cache.Remove(addr)
	return r.stg.SetAccount(&storage.Account{Address: addr, State: types.Unregistered})
}

// Accounts returns every account known locally.
func (r *Registry) Accounts() ([]*Account, error) {
	stored, err := r.stg.Accounts()
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(stored))
	for _, s := range stored {
		accounts = append(accounts, &Account{
			Address:        s.Address,
			PublicKey:      s.PublicKey,
			State:          s.State,
			RegistrationTx: s.RegistrationTx,
		})
	}
	return accounts, nil
}
