package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum"
	qt "github.com/frankban/quicktest"
)

func TestWeb3Iterator(t *testing.T) {
	c := qt.New(t)
	it := NewWeb3Iterator(
		&Web3Endpoint{ChainID: 1, URI: "a"},
		&Web3Endpoint{ChainID: 1, URI: "b"},
	)
	it.Add(&Web3Endpoint{ChainID: 1, URI: "c"})

	var seen []string
	for i := 0; i < 4; i++ {
		e, err := it.Next()
		c.Assert(err, qt.IsNil)
		seen = append(seen, e.URI)
	}
	c.Assert(seen, qt.DeepEquals, []string{"a", "b", "c", "a"})

	it.Disable("b")
	c.Assert(it.Available(), qt.Equals, 2)
	c.Assert(it.Disabled(), qt.Equals, 1)
	e, err := it.Next()
	c.Assert(err, qt.IsNil)
	c.Assert(e.URI, qt.Equals, "c")

	// once every endpoint is disabled they are all enabled again
	it.Disable("a")
	it.Disable("c")
	c.Assert(it.Available(), qt.Equals, 0)
	_, err = it.Next()
	c.Assert(err, qt.IsNil)
	c.Assert(it.Available(), qt.Equals, 3)
	c.Assert(it.Disabled(), qt.Equals, 0)

	_, err = NewWeb3Iterator().Next()
	c.Assert(err, qt.IsNotNil)
}

func TestPoolWithoutEndpoints(t *testing.T) {
	c := qt.New(t)
	pool := NewWeb3Pool()
	_, err := pool.Client(5)
	c.Assert(err, qt.ErrorMatches, ".*no endpoint found for chainID 5.*")
	c.Assert(pool.NumberOfEndpoints(5, false), qt.Equals, 0)
}

type codedError struct{}

func (codedError) Error() string  { return "execution reverted" }
func (codedError) ErrorCode() int { return 3 }

func TestTransportError(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	c.Assert(transportError(ctx, errors.New("connection refused")), qt.IsTrue)
	c.Assert(transportError(ctx, ethereum.NotFound), qt.IsFalse)
	c.Assert(transportError(ctx, fmt.Errorf("call: %w", codedError{})), qt.IsFalse)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	c.Assert(transportError(canceled, errors.New("connection refused")), qt.IsFalse)

	c.Assert(IsNotFound(errors.New("transaction not found")), qt.IsTrue)
	c.Assert(IsNotFound(errors.New("receipt not be found")), qt.IsTrue)
	c.Assert(IsNotFound(errors.New("nonce too low")), qt.IsFalse)
	c.Assert(IsNotFound(nil), qt.IsFalse)
}
