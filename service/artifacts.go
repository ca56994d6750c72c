package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/eerc-client/prover"
)

// LoadArtifacts loads the artifacts of all the circuits concurrently.
func LoadArtifacts(artifacts map[prover.Circuit]*prover.CircuitArtifacts, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for circuit, ca := range artifacts {
		g.Go(func() error {
			if err := ca.LoadAll(ctx); err != nil {
				return fmt.Errorf("circuit %s: %w", circuit, err)
			}
			return nil
		})
	}
	return g.Wait()
}
