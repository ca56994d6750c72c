package service

import (
	"context"
	"time"

	"github.com/vocdoni/eerc-client/ledger"
)

// RegistrationSource streams the registrations mined on the registrar.
type RegistrationSource interface {
	MonitorRegistrations(ctx context.Context, interval time.Duration) (<-chan *ledger.Registration, error)
}
