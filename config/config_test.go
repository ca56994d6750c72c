package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"

	"github.com/vocdoni/eerc-client/prover"
)

const testDeployment = `{
  "network": "fuji",
  "deployer": "0x8AF2fA4F2D55dF4B6F8a9A8C4C52d7a0f2cEa9b1",
  "deploymentTimestamp": "2025-07-01T10:00:00.000Z",
  "contracts": {
    "registrationVerifier": "0x0000000000000000000000000000000000000001",
    "babyJubJub": "0x0000000000000000000000000000000000000002",
    "registrar": "0x1111111111111111111111111111111111111111",
    "encryptedERC": "0x2222222222222222222222222222222222222222",
    "testERC20": "0x3333333333333333333333333333333333333333"
  },
  "metadata": {
    "isConverter": true,
    "decimals": 2
  }
}`

func writeDeployment(c *qt.C, content string) string {
	path := filepath.Join(c.TempDir(), "latest-fuji.json")
	c.Assert(os.WriteFile(path, []byte(content), 0o600), qt.IsNil)
	return path
}

func validConfig(c *qt.C) *Config {
	d, err := LoadDeployment(writeDeployment(c, testDeployment))
	c.Assert(err, qt.IsNil)
	return &Config{
		Web3RPCs:    []string{"http://127.0.0.1:8545"},
		Deployment:  *d,
		Datadir:     c.TempDir(),
		CircuitsDir: c.TempDir(),
	}
}

func TestLoadDeployment(t *testing.T) {
	c := qt.New(t)

	d, err := LoadDeployment(writeDeployment(c, testDeployment))
	c.Assert(err, qt.IsNil)
	c.Assert(d.Network, qt.Equals, "fuji")
	c.Assert(d.DeploymentTimestamp, qt.Equals, "2025-07-01T10:00:00.000Z")
	c.Assert(d.Contracts.Registrar, qt.Equals, common.HexToAddress("0x1111111111111111111111111111111111111111"))
	c.Assert(d.Contracts.EncryptedERC, qt.Equals, common.HexToAddress("0x2222222222222222222222222222222222222222"))
	c.Assert(d.Contracts.Token, qt.Equals, common.HexToAddress("0x3333333333333333333333333333333333333333"))

	_, err = LoadDeployment(filepath.Join(c.TempDir(), "missing.json"))
	c.Assert(err, qt.ErrorMatches, "read deployment file.*")

	_, err = LoadDeployment(writeDeployment(c, `{"contracts": `))
	c.Assert(err, qt.ErrorMatches, "decode deployment file.*")
}

func TestValidate(t *testing.T) {
	c := qt.New(t)

	conf := validConfig(c)
	c.Assert(conf.Validate(), qt.IsNil)
	c.Assert(conf.APIHost, qt.Equals, DefaultAPIHost)
	c.Assert(conf.GasLimit, qt.Equals, uint64(DefaultGasLimit))
	c.Assert(conf.Timeouts.Confirmation, qt.Equals, DefaultConfirmationTimeout)
	c.Assert(conf.Timeouts.Poll, qt.Equals, DefaultPollInterval)
	c.Assert(conf.Timeouts.Reconcile, qt.Equals, DefaultReconcileInterval)
	c.Assert(conf.Timeouts.Request, qt.Equals, DefaultRequestTimeout)

	conf = validConfig(c)
	conf.Timeouts.Confirmation = time.Minute
	conf.Timeouts.Poll = 5 * time.Second
	c.Assert(conf.Validate(), qt.IsNil)
	c.Assert(conf.Timeouts.Confirmation, qt.Equals, time.Minute)

	conf = validConfig(c)
	conf.Web3RPCs = nil
	c.Assert(conf.Validate(), qt.ErrorMatches, "at least one web3 rpc endpoint is required")

	conf = validConfig(c)
	conf.Deployment.Contracts.EncryptedERC = common.Address{}
	c.Assert(conf.Validate(), qt.ErrorMatches, "missing encryptedERC contract address")

	conf = validConfig(c)
	conf.Datadir = ""
	c.Assert(conf.Validate(), qt.ErrorMatches, "datadir is required")

	conf = validConfig(c)
	conf.APIPort = 70000
	c.Assert(conf.Validate(), qt.ErrorMatches, "invalid api port 70000")

	conf = validConfig(c)
	conf.Timeouts.Confirmation = time.Second
	conf.Timeouts.Poll = 2 * time.Second
	c.Assert(conf.Validate(), qt.ErrorMatches, "poll interval .* must be shorter than the confirmation timeout .*")
}

func TestCircuitArtifacts(t *testing.T) {
	c := qt.New(t)
	conf := validConfig(c)
	c.Assert(os.WriteFile(filepath.Join(conf.CircuitsDir, "transfer_vkey.json"), []byte("{}"), 0o600), qt.IsNil)

	artifacts := conf.CircuitArtifacts()
	c.Assert(artifacts, qt.HasLen, len(prover.Circuits))
	reg := artifacts[prover.CircuitRegistration]
	c.Assert(reg.Wasm.LocalPath, qt.Equals, filepath.Join(conf.CircuitsDir, "registration.wasm"))
	c.Assert(reg.ProvingKey.LocalPath, qt.Equals, filepath.Join(conf.CircuitsDir, "registration.zkey"))
	c.Assert(reg.VerifyingKey, qt.IsNil)
	c.Assert(artifacts[prover.CircuitTransfer].VerifyingKey, qt.Not(qt.IsNil))
}
