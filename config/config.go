package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultAPIHost             = "0.0.0.0"
	DefaultAPIPort             = 3000
	DefaultConfirmationTimeout = 2 * time.Minute
	DefaultPollInterval        = 2 * time.Second
	DefaultReconcileInterval   = 30 * time.Second
	DefaultRequestTimeout      = 5 * time.Minute
	DefaultMonitorInterval     = 10 * time.Second
	DefaultGasLimit            = 10_000_000
)

// Contracts are the addresses of a deployment. The JSON names follow the
// deployment files written by the deploy scripts.
type Contracts struct {
	Registrar    common.Address `json:"registrar"`
	EncryptedERC common.Address `json:"encryptedERC"`
	Token        common.Address `json:"testERC20"`
}

// Deployment is the content of a deployment file such as latest-fuji.json.
// Fields other than the ones below are ignored.
type Deployment struct {
	Network             string    `json:"network"`
	Deployer            string    `json:"deployer,omitempty"`
	DeploymentTimestamp string    `json:"deploymentTimestamp,omitempty"`
	Contracts           Contracts `json:"contracts"`
}

// LoadDeployment reads and decodes the deployment file at path.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment file: %w", err)
	}
	d := &Deployment{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("decode deployment file %s: %w", path, err)
	}
	return d, nil
}

// Timeouts bound the waits of the service.
type Timeouts struct {
	// Confirmation is the maximum wait for a transaction receipt.
	Confirmation time.Duration
	// Poll is the receipt polling interval.
	Poll time.Duration
	// Reconcile is the period of the background reconciliation of parked
	// transactions.
	Reconcile time.Duration
	// Request bounds a single API request.
	Request time.Duration
	// Monitor is the polling interval of the registration monitor.
	Monitor time.Duration
}

// Config holds everything the service needs to start. It is built once by
// the command line entry point and never modified afterwards.
type Config struct {
	Web3RPCs   []string
	Deployment Deployment
	Datadir    string
	GasLimit   uint64

	APIHost          string
	APIPort          int
	AllowPrivateKeys bool

	KeystoreDir      string
	KeystorePassword string
	FaucetKey        string

	CircuitsDir      string
	VerifyProofs     bool
	ProofConcurrency int64

	RegistryCacheSize int
	Timeouts          Timeouts

	LogLevel  string
	LogOutput string
}

// Validate fills the defaults of unset optional values and rejects the
// configurations the service cannot start with.
func (c *Config) Validate() error {
	if len(c.Web3RPCs) == 0 {
		return fmt.Errorf("at least one web3 rpc endpoint is required")
	}
	for name, addr := range map[string]common.Address{
		"registrar":    c.Deployment.Contracts.Registrar,
		"encryptedERC": c.Deployment.Contracts.EncryptedERC,
		"token":        c.Deployment.Contracts.Token,
	} {
		if addr == (common.Address{}) {
			return fmt.Errorf("missing %s contract address", name)
		}
	}
	if c.Datadir == "" {
		return fmt.Errorf("datadir is required")
	}
	if c.CircuitsDir == "" {
		return fmt.Errorf("circuits directory is required")
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid api port %d", c.APIPort)
	}
	if c.ProofConcurrency < 0 {
		return fmt.Errorf("proof concurrency cannot be negative")
	}
	if c.APIHost == "" {
		c.APIHost = DefaultAPIHost
	}
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
	setDefault(&c.Timeouts.Confirmation, DefaultConfirmationTimeout)
	setDefault(&c.Timeouts.Poll, DefaultPollInterval)
	setDefault(&c.Timeouts.Reconcile, DefaultReconcileInterval)
	setDefault(&c.Timeouts.Request, DefaultRequestTimeout)
	setDefault(&c.Timeouts.Monitor, DefaultMonitorInterval)
	if c.Timeouts.Poll >= c.Timeouts.Confirmation {
		return fmt.Errorf("poll interval %s must be shorter than the confirmation timeout %s",
			c.Timeouts.Poll, c.Timeouts.Confirmation)
	}
	return nil
}

func setDefault(d *time.Duration, v time.Duration) {
	if *d <= 0 {
		*d = v
	}
}
