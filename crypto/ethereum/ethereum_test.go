package ethereum

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	qt "github.com/frankban/quicktest"
)

func TestSignKeysGeneration(t *testing.T) {
	c := qt.New(t)
	t.Parallel()

	s := NewSignKeys()
	c.Assert(s.Generate(), qt.IsNil)

	pub, priv := s.HexString()
	c.Assert(pub, qt.Not(qt.Equals), "")
	c.Assert(priv, qt.Not(qt.Equals), "")

	// Test key import
	imported := NewSignKeys()
	c.Assert(imported.AddHexKey(priv), qt.IsNil)

	importedPub, importedPriv := imported.HexString()
	c.Assert(importedPub, qt.Equals, pub)
	c.Assert(importedPriv, qt.Equals, priv)
}

func TestEthereumSigning(t *testing.T) {
	c := qt.New(t)
	t.Parallel()

	// Test vector with known private key and expected signature
	testVector := struct {
		privKey           string
		message           []byte
		expectedSignature string
	}{
		privKey:           "fad9c8855b740a0b7ed4c221dbad0f33a83a49cad6b3fe8d5817ac83d38b6a19",
		message:           []byte("hello"),
		expectedSignature: "a0d0ebc374d2a4d6357eaca3da2f5f3ff547c3560008206bc234f9032a866ace6279ffb4093fb39c8bbc39021f6a5c36ef0e813c8c94f325a53f4f395a5c82de01",
	}

	// Create signing keys from known private key
	s := NewSignKeys()
	c.Assert(s.AddHexKey(testVector.privKey), qt.IsNil)

	// Verify private key was imported correctly
	_, priv := s.HexString()
	c.Assert(priv, qt.Equals, testVector.privKey)

	// Sign message and verify signature matches expected
	signature, err := s.SignEthereum(testVector.message)
	c.Assert(err, qt.IsNil)

	expectedSig, err := hex.DecodeString(testVector.expectedSignature)
	c.Assert(err, qt.IsNil)
	c.Assert(signature, qt.DeepEquals, expectedSig)
}

func TestAddressRecovery(t *testing.T) {
	c := qt.New(t)
	t.Parallel()

	testCases := []struct {
		name    string
		message []byte
	}{
		{
			name:    "simple message",
			message: []byte("hello eerc"),
		},
		{
			name:    "different message",
			message: []byte("bye-bye eerc"),
		},
	}

	// Generate keys
	s := NewSignKeys()
	c.Assert(s.Generate(), qt.IsNil)

	// Get address from public key
	expectedAddr, err := AddrFromPublicKey(s.PublicKey())
	c.Assert(err, qt.IsNil)
	c.Assert(expectedAddr.String(), qt.Equals, s.AddressString())

	// Test address recovery from signatures of different messages
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := qt.New(t)

			signature, err := s.SignEthereum(tc.message)
			c.Assert(err, qt.IsNil)

			recoveredAddr, err := AddrFromSignature(tc.message, signature)
			c.Assert(err, qt.IsNil)
			c.Assert(recoveredAddr, qt.Equals, expectedAddr)
		})
	}
}

func TestWalletSignatureRecovery(t *testing.T) {
	c := qt.New(t)
	t.Parallel()

	s := NewSignKeys()
	c.Assert(s.Generate(), qt.IsNil)

	msg := []byte("eERC\nRegistering user with\n Address:" + strings.ToLower(s.AddressString()))
	sig, err := s.SignMessage(msg)
	c.Assert(err, qt.IsNil)
	c.Assert(sig, qt.HasLen, SignatureLength)
	c.Assert(sig[64] == 27 || sig[64] == 28, qt.IsTrue)

	raw, err := s.SignEthereum(msg)
	c.Assert(err, qt.IsNil)
	c.Assert(sig[:64], qt.DeepEquals, raw[:64])

	addr, err := AddrFromSignature(msg, sig)
	c.Assert(err, qt.IsNil)
	c.Assert(addr, qt.Equals, s.Address())

	// a different message recovers a different address
	other, err := AddrFromSignature([]byte("another message"), sig)
	c.Assert(err, qt.IsNil)
	c.Assert(other, qt.Not(qt.Equals), s.Address())

	_, err = AddrFromSignature(msg, sig[:64])
	c.Assert(err, qt.Not(qt.IsNil))

	bad := append([]byte{}, sig...)
	bad[64] = 5
	_, err = AddrFromSignature(msg, bad)
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestKeystoreWallet(t *testing.T) {
	c := qt.New(t)
	t.Parallel()

	ks := newKeystore(t.TempDir(), "secret", keystore.LightScryptN, keystore.LightScryptP)

	s := NewSignKeys()
	c.Assert(s.Generate(), qt.IsNil)
	addr, err := ks.Import(s)
	c.Assert(err, qt.IsNil)
	c.Assert(addr, qt.Equals, s.Address())

	w, err := ks.Wallet(addr)
	c.Assert(err, qt.IsNil)
	c.Assert(w.Address(), qt.Equals, addr)
	opts, err := w.TransactOpts(big.NewInt(43113))
	c.Assert(err, qt.IsNil)
	c.Assert(opts.From, qt.Equals, addr)

	// cached on the second lookup
	w2, err := ks.Wallet(addr)
	c.Assert(err, qt.IsNil)
	c.Assert(w2, qt.Equals, w)

	_, err = ks.Wallet(common.HexToAddress("0x01"))
	c.Assert(err, qt.Not(qt.IsNil))
}
