package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/registry"
)

// RegistrationMonitor represents a service that follows the registrations
// mined on the registrar and refreshes the registry status of every
// registered address, including the ones registered by other clients.
type RegistrationMonitor struct {
	source   RegistrationSource
	registry *registry.Registry
	interval time.Duration
	mu       sync.Mutex
	cancel   context.CancelFunc
}

// NewRegistrationMonitor creates a new RegistrationMonitor service that
// polls source every interval.
func NewRegistrationMonitor(source RegistrationSource, reg *registry.Registry, interval time.Duration) *RegistrationMonitor {
	return &RegistrationMonitor{
		source:   source,
		registry: reg,
		interval: interval,
	}
}

// Start begins monitoring for new registrations. It returns an error if the
// service is already running or if it fails to start monitoring.
func (rm *RegistrationMonitor) Start(ctx context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.cancel != nil {
		return fmt.Errorf("service already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	rm.cancel = cancel

	ch, err := rm.source.MonitorRegistrations(ctx, rm.interval)
	if err != nil {
		cancel()
		rm.cancel = nil
		return fmt.Errorf("failed to start registration monitoring: %w", err)
	}

	go rm.monitorRegistrations(ctx, ch)
	return nil
}

// Stop halts the monitoring service.
func (rm *RegistrationMonitor) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.cancel != nil {
		rm.cancel()
		rm.cancel = nil
	}
}

func (rm *RegistrationMonitor) monitorRegistrations(ctx context.Context, ch <-chan *ledger.Registration) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			rm.registry.Invalidate(ev.Address)
			acc, err := rm.registry.Status(ctx, ev.Address)
			if err != nil {
				log.Warnw("failed to refresh registration status",
					"address", ev.Address.Hex(),
					"block", ev.BlockNumber,
					"error", err.Error())
				continue
			}
			log.Debugw("registration found",
				"address", ev.Address.Hex(),
				"block", ev.BlockNumber,
				"state", acc.State.String())
		}
	}
}
