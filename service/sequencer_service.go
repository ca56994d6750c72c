package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/sequencer"
)

// SequencerService represents a service that runs the background
// reconciliation of the transactions whose confirmation timed out.
type SequencerService struct {
	sequencer *sequencer.Sequencer
	mu        sync.Mutex
	running   bool
}

// NewSequencer wraps an existing sequencer into a service.
func NewSequencer(s *sequencer.Sequencer) *SequencerService {
	return &SequencerService{sequencer: s}
}

// Start begins the reconciliation loop. It returns an error if the service
// is already running.
func (ss *SequencerService) Start(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.running {
		return fmt.Errorf("service already running")
	}
	if err := ss.sequencer.Start(ctx); err != nil {
		return err
	}
	ss.running = true
	return nil
}

// Stop halts the reconciliation loop.
func (ss *SequencerService) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if !ss.running {
		return
	}
	if err := ss.sequencer.Stop(); err != nil {
		log.Warnw("sequencer service stopped", "error", err)
	}
	ss.running = false
}
