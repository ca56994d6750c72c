package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"

	"github.com/vocdoni/eerc-client/api"
	"github.com/vocdoni/eerc-client/config"
	"github.com/vocdoni/eerc-client/crypto/ethereum"
	"github.com/vocdoni/eerc-client/ledger"
	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/proofs"
	"github.com/vocdoni/eerc-client/prover"
	"github.com/vocdoni/eerc-client/registry"
	"github.com/vocdoni/eerc-client/sequencer"
	"github.com/vocdoni/eerc-client/service"
	"github.com/vocdoni/eerc-client/shadow"
	"github.com/vocdoni/eerc-client/storage"
	"github.com/vocdoni/eerc-client/web3"
)

// version of the build, set via linker flags
var version = "dev"

const artifactsLoadTimeout = 10 * time.Minute

var (
	web3RPCFlag = &cli.StringSliceFlag{
		Name:    "web3rpc",
		Usage:   "web3 rpc endpoint, can be repeated",
		EnvVars: []string{"EERC_WEB3_RPC"},
	}
	deploymentFlag = &cli.StringFlag{
		Name:    "deployment",
		Usage:   "deployment file with the contract addresses",
		Value:   "deployments/latest-fuji.json",
		EnvVars: []string{"EERC_DEPLOYMENT"},
	}
	datadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "data directory",
		Value:   defaultDatadir(),
		EnvVars: []string{"EERC_DATADIR"},
	}
	gasLimitFlag = &cli.Uint64Flag{
		Name:    "gasLimit",
		Usage:   "gas limit of the submitted transactions",
		Value:   config.DefaultGasLimit,
		EnvVars: []string{"EERC_GAS_LIMIT"},
	}
	hostFlag = &cli.StringFlag{
		Name:    "host",
		Usage:   "API listen host",
		Value:   config.DefaultAPIHost,
		EnvVars: []string{"EERC_API_HOST"},
	}
	portFlag = &cli.IntFlag{
		Name:    "port",
		Usage:   "API listen port",
		Value:   config.DefaultAPIPort,
		EnvVars: []string{"EERC_API_PORT"},
	}
	allowPrivateKeysFlag = &cli.BoolFlag{
		Name:    "allowPrivateKeys",
		Usage:   "accept private keys as credentials, only for test networks",
		EnvVars: []string{"EERC_ALLOW_PRIVATE_KEYS"},
	}
	keystoreFlag = &cli.StringFlag{
		Name:    "keystore",
		Usage:   "keystore directory with the wallets of the users registering by signature",
		EnvVars: []string{"EERC_KEYSTORE"},
	}
	keystorePasswordFlag = &cli.StringFlag{
		Name:    "keystorePassword",
		Usage:   "passphrase of the keystore wallets",
		EnvVars: []string{"EERC_KEYSTORE_PASSWORD"},
	}
	faucetKeyFlag = &cli.StringFlag{
		Name:    "faucetKey",
		Usage:   "hex private key of the faucet operator, the faucet is disabled if empty",
		EnvVars: []string{"EERC_FAUCET_KEY"},
	}
	circuitsFlag = &cli.StringFlag{
		Name:    "circuits",
		Usage:   "directory with the circuit wasm, zkey and verification key files",
		Value:   "circuits",
		EnvVars: []string{"EERC_CIRCUITS"},
	}
	verifyProofsFlag = &cli.BoolFlag{
		Name:    "verifyProofs",
		Usage:   "verify every proof locally before submitting it",
		Value:   true,
		EnvVars: []string{"EERC_VERIFY_PROOFS"},
	}
	proofConcurrencyFlag = &cli.Int64Flag{
		Name:    "proofConcurrency",
		Usage:   "maximum number of proofs generated at the same time, 0 for the default",
		EnvVars: []string{"EERC_PROOF_CONCURRENCY"},
	}
	registryCacheFlag = &cli.IntFlag{
		Name:    "registryCache",
		Usage:   "size of the registration status cache, 0 for the default",
		EnvVars: []string{"EERC_REGISTRY_CACHE"},
	}
	confirmationTimeoutFlag = &cli.DurationFlag{
		Name:    "confirmationTimeout",
		Usage:   "maximum wait for a transaction receipt",
		Value:   config.DefaultConfirmationTimeout,
		EnvVars: []string{"EERC_CONFIRMATION_TIMEOUT"},
	}
	pollIntervalFlag = &cli.DurationFlag{
		Name:    "pollInterval",
		Usage:   "receipt polling interval",
		Value:   config.DefaultPollInterval,
		EnvVars: []string{"EERC_POLL_INTERVAL"},
	}
	reconcileIntervalFlag = &cli.DurationFlag{
		Name:    "reconcileInterval",
		Usage:   "period of the reconciliation of unconfirmed transactions",
		Value:   config.DefaultReconcileInterval,
		EnvVars: []string{"EERC_RECONCILE_INTERVAL"},
	}
	requestTimeoutFlag = &cli.DurationFlag{
		Name:    "requestTimeout",
		Usage:   "maximum duration of an API request",
		Value:   config.DefaultRequestTimeout,
		EnvVars: []string{"EERC_REQUEST_TIMEOUT"},
	}
	monitorIntervalFlag = &cli.DurationFlag{
		Name:    "monitorInterval",
		Usage:   "polling interval of the registrar events",
		Value:   config.DefaultMonitorInterval,
		EnvVars: []string{"EERC_MONITOR_INTERVAL"},
	}
	logLevelFlag = &cli.StringFlag{
		Name:    "logLevel",
		Usage:   "log level (debug, info, warn, error)",
		Value:   "info",
		EnvVars: []string{"EERC_LOG_LEVEL"},
	}
	logOutputFlag = &cli.StringFlag{
		Name:    "logOutput",
		Usage:   "log output (stdout, stderr or a file path)",
		Value:   "stdout",
		EnvVars: []string{"EERC_LOG_OUTPUT"},
	}
	privateKeyFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "hex private key to import",
		EnvVars:  []string{"EERC_IMPORT_KEY"},
		Required: true,
	}
)

func main() {
	app := &cli.App{
		Name:    "eercd",
		Usage:   "encrypted ERC20 protocol client",
		Version: version,
		Flags: []cli.Flag{
			web3RPCFlag, deploymentFlag, datadirFlag, gasLimitFlag,
			hostFlag, portFlag, allowPrivateKeysFlag,
			keystoreFlag, keystorePasswordFlag, faucetKeyFlag,
			circuitsFlag, verifyProofsFlag, proofConcurrencyFlag, registryCacheFlag,
			confirmationTimeoutFlag, pollIntervalFlag, reconcileIntervalFlag,
			requestTimeoutFlag, monitorIntervalFlag,
			logLevelFlag, logOutputFlag,
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:   "import-key",
				Usage:  "import a private key into the keystore",
				Flags:  []cli.Flag{keystoreFlag, keystorePasswordFlag, privateKeyFlag},
				Action: importKey,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultDatadir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "eerc")
	}
	return filepath.Join(home, ".eerc")
}

// loadConfig builds the configuration from the flags and the deployment file.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	deployment, err := config.LoadDeployment(ctx.String(deploymentFlag.Name))
	if err != nil {
		return nil, err
	}
	conf := &config.Config{
		Web3RPCs:          ctx.StringSlice(web3RPCFlag.Name),
		Deployment:        *deployment,
		Datadir:           ctx.String(datadirFlag.Name),
		GasLimit:          ctx.Uint64(gasLimitFlag.Name),
		APIHost:           ctx.String(hostFlag.Name),
		APIPort:           ctx.Int(portFlag.Name),
		AllowPrivateKeys:  ctx.Bool(allowPrivateKeysFlag.Name),
		KeystoreDir:       ctx.String(keystoreFlag.Name),
		KeystorePassword:  ctx.String(keystorePasswordFlag.Name),
		FaucetKey:         ctx.String(faucetKeyFlag.Name),
		CircuitsDir:       ctx.String(circuitsFlag.Name),
		VerifyProofs:      ctx.Bool(verifyProofsFlag.Name),
		ProofConcurrency:  ctx.Int64(proofConcurrencyFlag.Name),
		RegistryCacheSize: ctx.Int(registryCacheFlag.Name),
		Timeouts: config.Timeouts{
			Confirmation: ctx.Duration(confirmationTimeoutFlag.Name),
			Poll:         ctx.Duration(pollIntervalFlag.Name),
			Reconcile:    ctx.Duration(reconcileIntervalFlag.Name),
			Request:      ctx.Duration(requestTimeoutFlag.Name),
			Monitor:      ctx.Duration(monitorIntervalFlag.Name),
		},
		LogLevel:  ctx.String(logLevelFlag.Name),
		LogOutput: ctx.String(logOutputFlag.Name),
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}

func run(cliCtx *cli.Context) error {
	conf, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}
	log.Init(conf.LogLevel, conf.LogOutput, nil)
	log.Infow("starting eercd", "version", version, "network", conf.Deployment.Network)

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()

	// storage
	if err := os.MkdirAll(conf.Datadir, 0o750); err != nil {
		return fmt.Errorf("create datadir: %w", err)
	}
	database, err := metadb.New(db.TypePebble, filepath.Join(conf.Datadir, "db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	stg := storage.New(database)
	defer stg.Close()

	// ledger
	contracts, err := web3.NewContracts(&web3.Addresses{
		Registrar:    conf.Deployment.Contracts.Registrar,
		EncryptedERC: conf.Deployment.Contracts.EncryptedERC,
		Token:        conf.Deployment.Contracts.Token,
	}, conf.Web3RPCs[0])
	if err != nil {
		return err
	}
	defer contracts.Close()
	for _, rpc := range conf.Web3RPCs[1:] {
		if err := contracts.AddWeb3Endpoint(rpc); err != nil {
			log.Warnw("failed to add endpoint", "rpc", rpc, "error", err.Error())
		}
	}
	contracts.SetGasLimit(conf.GasLimit)
	contracts.SetPollInterval(conf.Timeouts.Poll)
	log.Infow("contracts initialized", "chainId", contracts.ChainID().String())

	// proving
	artifacts := conf.CircuitArtifacts()
	if err := service.LoadArtifacts(artifacts, artifactsLoadTimeout); err != nil {
		return fmt.Errorf("load circuit artifacts: %w", err)
	}
	circom, err := prover.NewCircom(ctx, artifacts, conf.VerifyProofs)
	if err != nil {
		return err
	}

	// protocol
	reg, err := registry.New(contracts, stg, conf.RegistryCacheSize)
	if err != nil {
		return err
	}
	sh, err := shadow.New(stg)
	if err != nil {
		return err
	}
	orch := proofs.New(circom, reg, proofs.NewAuditorKeyCache(contracts), conf.ProofConcurrency)
	seq, err := sequencer.New(contracts, reg, sh, orch, stg, sequencer.Config{
		ConfirmationTimeout: conf.Timeouts.Confirmation,
		ReconcileInterval:   conf.Timeouts.Reconcile,
	})
	if err != nil {
		return err
	}

	apiConf := &api.APIConfig{
		Host:             conf.APIHost,
		Port:             conf.APIPort,
		Sequencer:        seq,
		Storage:          stg,
		AllowPrivateKeys: conf.AllowPrivateKeys,
		Version:          version,
		RequestTimeout:   conf.Timeouts.Request,
		Contracts: &api.ContractsInfo{
			ChainID:             contracts.ChainID().Uint64(),
			Network:             conf.Deployment.Network,
			Registrar:           conf.Deployment.Contracts.Registrar,
			EncryptedERC:        conf.Deployment.Contracts.EncryptedERC,
			Token:               conf.Deployment.Contracts.Token,
			DeploymentTimestamp: conf.Deployment.DeploymentTimestamp,
		},
	}
	if conf.KeystoreDir != "" {
		ks := ethereum.NewKeystore(conf.KeystoreDir, conf.KeystorePassword)
		apiConf.Wallets = sequencer.WalletProviderFunc(func(addr common.Address) (ledger.Wallet, error) {
			w, err := ks.Wallet(addr)
			if err != nil {
				return nil, err
			}
			return w, nil
		})
	}
	if conf.FaucetKey != "" {
		operator := ethereum.NewSignKeys()
		if err := operator.AddHexKey(conf.FaucetKey); err != nil {
			return fmt.Errorf("invalid faucet key: %w", err)
		}
		apiConf.Faucet = web3.NewFaucet(contracts, operator)
		log.Infow("faucet enabled", "operator", operator.AddressString())
	}

	// services
	seqService := service.NewSequencer(seq)
	if err := seqService.Start(ctx); err != nil {
		return err
	}
	defer seqService.Stop()

	monitor := service.NewRegistrationMonitor(contracts, reg, conf.Timeouts.Monitor)
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer monitor.Stop()

	apiService := service.NewAPI(apiConf)
	if err := apiService.Start(ctx); err != nil {
		return err
	}
	defer apiService.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Infow("received signal, shutting down", "signal", s.String())
	case <-ctx.Done():
	}
	return nil
}

func importKey(ctx *cli.Context) error {
	dir := ctx.String(keystoreFlag.Name)
	if dir == "" {
		return fmt.Errorf("keystore directory is required")
	}
	signer := ethereum.NewSignKeys()
	if err := signer.AddHexKey(ctx.String(privateKeyFlag.Name)); err != nil {
		return fmt.Errorf("invalid private key: %w", err)
	}
	addr, err := ethereum.NewKeystore(dir, ctx.String(keystorePasswordFlag.Name)).Import(signer)
	if err != nil {
		return err
	}
	fmt.Println(addr.Hex())
	return nil
}
