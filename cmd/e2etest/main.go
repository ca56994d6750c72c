// Command e2etest runs register, faucet, deposit, transfer and withdraw
// against an eercd started with --allowPrivateKeys and a faucet key.
package main

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	flag "github.com/spf13/pflag"

	"github.com/vocdoni/eerc-client/api"
	"github.com/vocdoni/eerc-client/api/client"
	"github.com/vocdoni/eerc-client/crypto/ethereum"
	"github.com/vocdoni/eerc-client/log"
)

const (
	// hardhat default accounts #1 and #2
	testAliceKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	testBobKey   = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

func main() {
	host := flag.String("host", "http://localhost:3000", "eercd API endpoint")
	aliceKey := flag.String("alice", testAliceKey, "private key of the sender")
	bobKey := flag.String("bob", testBobKey, "private key of the receiver")
	deposit := flag.String("deposit", "10", "amount to deposit")
	transfer := flag.String("transfer", "4", "amount to transfer")
	withdraw := flag.String("withdraw", "1", "amount the receiver withdraws")
	flag.Parse()
	log.Init("debug", "stdout", nil)

	cli, err := client.New(*host)
	if err != nil {
		log.Fatal(err)
	}
	health, err := cli.Health()
	if err != nil {
		log.Fatal(err)
	}
	log.Infow("connected", "version", health.Version, "chainId", health.ChainID)

	alice, bob := api.Credentials{PrivateKey: *aliceKey}, api.Credentials{PrivateKey: *bobKey}
	aliceAddr, bobAddr := address(*aliceKey), address(*bobKey)

	for _, creds := range []api.Credentials{alice, bob} {
		start := time.Now()
		res, err := cli.Register(creds)
		if err != nil {
			log.Fatal(err)
		}
		log.Infow("registered",
			"address", res.Address.Hex(),
			"alreadyRegistered", res.AlreadyRegistered,
			"elapsed", time.Since(start).String())
	}

	faucet, err := cli.Faucet(aliceAddr)
	if err != nil {
		log.Warnw("faucet request failed, continuing with the current balance", "error", err.Error())
	} else {
		log.Infow("faucet tokens received", "amount", faucet.AmountFormatted, "tx", faucet.TxHash.Hex())
	}

	steps := []struct {
		name string
		run  func() (string, error)
	}{
		{"deposit", func() (string, error) {
			res, err := cli.Deposit(alice, *deposit)
			if err != nil {
				return "", err
			}
			return res.Record.Hash.Hex(), nil
		}},
		{"transfer", func() (string, error) {
			res, err := cli.Transfer(alice, bobAddr, *transfer)
			if err != nil {
				return "", err
			}
			return res.Record.Hash.Hex(), nil
		}},
		{"withdraw", func() (string, error) {
			res, err := cli.Withdraw(bob, *withdraw)
			if err != nil {
				return "", err
			}
			return res.Record.Hash.Hex(), nil
		}},
	}
	for _, step := range steps {
		start := time.Now()
		tx, err := step.run()
		if err != nil {
			log.Fatalf("%s failed: %v", step.name, err)
		}
		log.Infow(step.name+" confirmed", "tx", tx, "elapsed", time.Since(start).String())
	}

	for _, addr := range []common.Address{aliceAddr, bobAddr} {
		b, err := cli.Balance(addr)
		if err != nil {
			log.Fatal(err)
		}
		log.Infow("balance", "address", addr.Hex(), "public", b.PublicText, "shielded", b.ShieldedText)
	}
}

func address(privKey string) common.Address {
	signer := ethereum.NewSignKeys()
	if err := signer.AddHexKey(privKey); err != nil {
		log.Fatal(err)
	}
	return signer.Address()
}
