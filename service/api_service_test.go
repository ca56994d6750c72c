package service

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/eerc-client/api"
	"github.com/vocdoni/eerc-client/api/client"
)

func TestAPIService(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)

	// Port 0 lets the OS choose an available port
	apiService := NewAPI(&api.APIConfig{
		Host:      "127.0.0.1",
		Port:      0,
		Sequencer: env.seq,
		Storage:   env.stg,
	})
	ctx := context.Background()

	c.Assert(apiService.Addr(), qt.Equals, "")
	err := apiService.Start(ctx)
	c.Assert(err, qt.IsNil)
	defer apiService.Stop()

	cli, err := client.New("http://" + apiService.Addr())
	c.Assert(err, qt.IsNil)
	health, err := cli.Health()
	c.Assert(err, qt.IsNil)
	c.Assert(health.ChainID, qt.Equals, "31337")

	// Test stopping and restarting
	apiService.Stop()
	c.Assert(apiService.Addr(), qt.Equals, "")
	err = apiService.Start(ctx)
	c.Assert(err, qt.IsNil)
	_, err = client.New("http://" + apiService.Addr())
	c.Assert(err, qt.IsNil)

	// Test starting an already running service
	err = apiService.Start(ctx)
	c.Assert(err, qt.ErrorMatches, "service already running")

	host, port := apiService.HostPort()
	c.Assert(host, qt.Equals, "127.0.0.1")
	c.Assert(port, qt.Equals, 0)
}

func TestSequencerService(t *testing.T) {
	c := qt.New(t)
	env := newTestEnv(c)

	ss := NewSequencer(env.seq)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Assert(ss.Start(ctx), qt.IsNil)
	c.Assert(ss.Start(ctx), qt.ErrorMatches, "service already running")
	ss.Stop()
	ss.Stop()
	c.Assert(ss.Start(ctx), qt.IsNil)
	ss.Stop()
}
