package rpc

// This package contains the Web3Pool struct, a pool of web3 endpoints
// grouped by chainID, and Client, an implementation of the go-ethereum
// contract backends over the pool. Every call goes to the next available
// endpoint of the chain. Endpoints that fail at the transport level are
// flagged as disabled and the call is retried on the next one; if every
// endpoint of a chain is disabled the pool enables them all again.

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vocdoni/eerc-client/log"
)

const (
	// DefaultMaxWeb3ClientRetries is the default number of retries to connect to
	// a web3 provider.
	DefaultMaxWeb3ClientRetries = 5
	// checkWeb3EndpointsTimeout is the timeout to check the web3 endpoints.
	checkWeb3EndpointsTimeout = time.Second * 10
	// retryDelay is the pause between two attempts to dial a provider.
	retryDelay = 200 * time.Millisecond
)

// notFoundTxRgx matches the error message some providers return for an
// unknown transaction instead of the standard not found error.
var notFoundTxRgx = regexp.MustCompile(`not\s[be\s|]*found`)

// IsNotFound reports whether err is a not found error from a provider.
func IsNotFound(err error) bool {
	return err != nil && notFoundTxRgx.MatchString(err.Error())
}

// Web3Pool struct contains a map of chainID to the iterator of its endpoints.
// It supports multiple endpoints for the same chainID and switches between
// them looking for an available one.
type Web3Pool struct {
	mu        sync.RWMutex
	endpoints map[uint64]*Web3Iterator
}

// NewWeb3Pool method returns a new *Web3Pool instance.
func NewWeb3Pool() *Web3Pool {
	return &Web3Pool{
		endpoints: make(map[uint64]*Web3Iterator),
	}
}

// AddEndpoint method adds a new web3 provider URI to the Web3Pool.
// It returns the chainID of the endpoint added to the pool.
func (nm *Web3Pool) AddEndpoint(uri string) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), checkWeb3EndpointsTimeout)
	defer cancel()
	// init the web3 client
	client, err := connect(ctx, uri)
	if err != nil {
		return 0, err
	}
	// get the chainID from the web3 endpoint
	bChainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return 0, fmt.Errorf("error getting the chainID from the web3 provider '%s': %w", uri, err)
	}
	chainID := bChainID.Uint64()
	endpoint := &Web3Endpoint{
		ChainID: chainID,
		URI:     uri,
		client:  client,
	}
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if _, ok := nm.endpoints[chainID]; !ok {
		nm.endpoints[chainID] = NewWeb3Iterator(endpoint)
	} else {
		nm.endpoints[chainID].Add(endpoint)
	}
	log.Debugw("web3 endpoint added", "chainID", chainID, "uri", uri)
	return chainID, nil
}

// Endpoint method returns the next available Web3Endpoint configured for
// the chainID provided.
func (nm *Web3Pool) Endpoint(chainID uint64) (*Web3Endpoint, error) {
	nm.mu.RLock()
	endpoints, ok := nm.endpoints[chainID]
	nm.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no endpoint found for chainID %d", chainID)
	}
	e, err := endpoints.Next()
	if err != nil {
		return nil, fmt.Errorf("no endpoint available for chainID %d: %w", chainID, err)
	}
	return e, nil
}

// DisableEndpoint method sets the available flag to false for the URI provided
// in the chainID provided.
func (nm *Web3Pool) DisableEndpoint(chainID uint64, uri string) {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if endpoints, ok := nm.endpoints[chainID]; ok {
		log.Warnw("disabling web3 endpoint", "chainID", chainID, "uri", uri)
		endpoints.Disable(uri)
	}
}

// NumberOfEndpoints method returns the total number (or just the available ones)
// of endpoints for the chainID provided.
func (nm *Web3Pool) NumberOfEndpoints(chainID uint64, onlyAvailable bool) int {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	if endpoints, ok := nm.endpoints[chainID]; ok {
		n := endpoints.Available()
		if !onlyAvailable {
			n += endpoints.Disabled()
		}
		return n
	}
	return 0
}

// Client method returns a new *Client instance for the chainID provided.
// It returns an error if the endpoint is not found.
func (nm *Web3Pool) Client(chainID uint64) (*Client, error) {
	if _, err := nm.Endpoint(chainID); err != nil {
		return nil, fmt.Errorf("error getting endpoint for chainID %d: %w", chainID, err)
	}
	return &Client{w3p: nm, chainID: chainID}, nil
}

// Close closes every client of the pool.
func (nm *Web3Pool) Close() {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	for _, it := range nm.endpoints {
		it.mu.Lock()
		for _, e := range append(it.available, it.disabled...) {
			if e.client != nil {
				e.client.Close()
			}
		}
		it.mu.Unlock()
	}
	nm.endpoints = make(map[uint64]*Web3Iterator)
}

// connect method returns a new *ethclient.Client instance for the URI provided.
// It retries to connect to the web3 provider if it fails, up to the
// DefaultMaxWeb3ClientRetries times.
func connect(ctx context.Context, uri string) (client *ethclient.Client, err error) {
	for i := 0; i < DefaultMaxWeb3ClientRetries; i++ {
		if client, err = ethclient.DialContext(ctx, uri); err == nil {
			return client, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("error dialing web3 provider uri '%s': %w", uri, ctx.Err())
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("error dialing web3 provider uri '%s': %w", uri, err)
}
