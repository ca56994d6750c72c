package api

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/sequencer"
	"github.com/vocdoni/eerc-client/storage"
)

const (
	// DefaultRequestTimeout bounds a request. Operations include proving and
	// waiting for the ledger confirmation, so it is well above the usual
	// HTTP timeouts.
	DefaultRequestTimeout = 5 * time.Minute
	// FaucetConfirmationTimeout is how long a faucet request waits for its
	// transaction to be mined.
	FaucetConfirmationTimeout = 2 * time.Minute
)

// Faucet sends test tokens to an address.
type Faucet interface {
	Send(ctx context.Context, to common.Address) (common.Hash, *big.Int, error)
}

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host      string
	Port      int
	Sequencer *sequencer.Sequencer
	Storage   *storage.Storage
	// Wallets signs the transactions of signature based credentials.
	Wallets sequencer.WalletProvider
	// Faucet is optional, the faucet endpoint fails without it.
	Faucet Faucet
	// Contracts is optional deployment information.
	Contracts *ContractsInfo
	// AllowPrivateKeys enables the development credentials carrying a
	// private key. It must stay disabled outside test networks.
	AllowPrivateKeys bool
	Version          string
	RequestTimeout   time.Duration
}

// API type represents the API HTTP server.
type API struct {
	router    *chi.Mux
	server    *http.Server
	listener  net.Listener
	seq       *sequencer.Sequencer
	storage   *storage.Storage
	wallets   sequencer.WalletProvider
	faucet    Faucet
	contracts *ContractsInfo
	devKeys   bool
	version   string
	timeout   time.Duration
}

// New creates a new API instance with the given configuration and starts
// serving it. Port 0 picks a free port, see Addr.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Sequencer == nil {
		return nil, fmt.Errorf("missing sequencer instance")
	}
	if conf.Storage == nil {
		return nil, fmt.Errorf("missing storage instance")
	}
	a := &API{
		seq:       conf.Sequencer,
		storage:   conf.Storage,
		wallets:   conf.Wallets,
		faucet:    conf.Faucet,
		contracts: conf.Contracts,
		devKeys:   conf.AllowPrivateKeys,
		version:   conf.Version,
		timeout:   conf.RequestTimeout,
	}
	if a.timeout == 0 {
		a.timeout = DefaultRequestTimeout
	}
	if a.version == "" {
		a.version = "dev"
	}
	if a.devKeys {
		log.Warnw("private key credentials enabled, use only on test networks")
	}

	// Initialize router
	a.initRouter()

	var err error
	a.listener, err = net.Listen("tcp", net.JoinHostPort(conf.Host, fmt.Sprint(conf.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s:%d: %w", conf.Host, conf.Port, err)
	}
	a.server = &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("starting API server", "address", a.listener.Addr().String())
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw(err, "API server stopped")
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// Addr returns the address the server listens on.
func (a *API) Addr() string {
	return a.listener.Addr().String()
}

// Close stops the HTTP server, waiting for the ongoing requests until ctx
// is done.
func (a *API) Close(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	handlers := []struct {
		method   string
		endpoint string
		fn       http.HandlerFunc
	}{
		{http.MethodGet, PingEndpoint, func(w http.ResponseWriter, r *http.Request) { httpWriteOK(w) }},
		{http.MethodGet, HealthEndpoint, a.health},
		{http.MethodGet, ContractsInfoEndpoint, a.contractsInfo},
		{http.MethodPost, RegisterEndpoint, a.register},
		{http.MethodGet, UserEndpoint, a.userStatus},
		{http.MethodGet, UserBalanceEndpoint, a.balance},
		{http.MethodGet, UserTransactionsEndpoint, a.userTransactions},
		{http.MethodPost, DepositEndpoint, a.deposit},
		{http.MethodPost, WithdrawEndpoint, a.withdraw},
		{http.MethodPost, TransferEndpoint, a.transfer},
		{http.MethodPost, FaucetEndpoint, a.requestFaucet},
		{http.MethodGet, TransactionEndpoint, a.transaction},
		{http.MethodPost, ReconcileEndpoint, a.reconcile},
		{http.MethodGet, OperationEndpoint, a.operation},
	}
	for _, h := range handlers {
		log.Debugw("register handler", "endpoint", h.endpoint, "method", h.method)
		a.router.Method(h.method, h.endpoint, h.fn)
	}
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(a.timeout))

	// Register the API handlers
	a.registerHandlers()
}
