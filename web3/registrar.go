package web3

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
)

// registrationSignals is the number of public signals of the registration
// circuit.
const registrationSignals = 5

// registerEvent is the Register event of the Registrar contract.
type registerEvent struct {
	User      common.Address
	PublicKey [2]*big.Int
}

// IsRegistered returns whether addr has a public key in the Registrar.
func (c *Contracts) IsRegistered(ctx context.Context, addr common.Address) (bool, error) {
	return call[bool](ctx, c.registrar, "isUserRegistered", addr)
}

// PublicKey returns the public key registered by addr. Unregistered
// addresses get the zero point.
func (c *Contracts) PublicKey(ctx context.Context, addr common.Address) (*bjj.Point, error) {
	coords, err := call[[2]*big.Int](ctx, c.registrar, "getUserPublicKey", addr)
	if err != nil {
		return nil, err
	}
	return bjj.New(coords[0], coords[1]), nil
}

// AuditorPublicKey returns the public key of the auditor.
func (c *Contracts) AuditorPublicKey(ctx context.Context) (*bjj.Point, error) {
	coords, err := call[[2]*big.Int](ctx, c.registrar, "getAuditorPublicKey")
	if err != nil {
		return nil, err
	}
	return bjj.New(coords[0], coords[1]), nil
}

// SubmitRegistration sends the registration of publicKey for the wallet
// address. It returns the transaction hash.
func (c *Contracts) SubmitRegistration(ctx context.Context, w ledger.Wallet, publicKey *bjj.Point,
	proof *ledger.Proof,
) (common.Hash, error) {
	if proof == nil || len(proof.PublicSignals) != registrationSignals {
		return common.Hash{}, fmt.Errorf("registration proof must have %d public signals", registrationSignals)
	}
	var signals [registrationSignals]*big.Int
	copy(signals[:], proof.PublicSignals)
	return c.transact(ctx, w, c.registrar, "registerUser", publicKey.Coords(), signals, proof.Points)
}

// MonitorRegistrations monitors the registrations mined after the current
// block by polling the Registrar logs every interval.
func (c *Contracts) MonitorRegistrations(ctx context.Context, interval time.Duration) (<-chan *ledger.Registration, error) {
	qctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
	current, err := c.backend.BlockNumber(qctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}
	from := current + 1
	eventID := registrarContractABI.Events["Register"].ID
	ch := make(chan *ledger.Registration)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Warnw("exiting monitor registrations")
				return
			case <-ticker.C:
				qctx, cancel := context.WithTimeout(ctx, web3QueryTimeout)
				logs, err := c.backend.FilterLogs(qctx, ethereum.FilterQuery{
					FromBlock: new(big.Int).SetUint64(from),
					Addresses: []common.Address{c.addresses.Registrar},
					Topics:    [][]common.Hash{{eventID}},
				})
				cancel()
				if err != nil {
					log.Warnw("failed to filter registrations, retrying", "error", err.Error())
					continue
				}
				for _, l := range logs {
					var ev registerEvent
					if err := c.registrar.UnpackLog(&ev, "Register", l); err != nil {
						log.Warnw("failed to unpack registration", "tx", l.TxHash.Hex(), "error", err.Error())
						continue
					}
					reg := &ledger.Registration{
						Address:     ev.User,
						PublicKey:   bjj.New(ev.PublicKey[0], ev.PublicKey[1]),
						BlockNumber: l.BlockNumber,
					}
					select {
					case ch <- reg:
					case <-ctx.Done():
						return
					}
					from = l.BlockNumber + 1
				}
			}
		}
	}()
	return ch, nil
}
