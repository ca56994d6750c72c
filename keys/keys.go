// Package keys derives the shielded BabyJubJub keypair of an account from a
// wallet signature over the registration message. The same signature always
// yields the same keypair, so the key never needs to be stored.
package keys

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/iden3/go-iden3-crypto/babyjub"
	"github.com/iden3/go-iden3-crypto/poseidon"
	"github.com/iden3/go-iden3-crypto/utils"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/crypto/ethereum"
	"github.com/vocdoni/eerc-client/types"
	"github.com/vocdoni/eerc-client/util"
)

const (
	// MessagePrefix versions the registration message. Changing it changes
	// every derived key.
	MessagePrefix = "eERC\n"
	// registrationBody follows the prefix, then the lowercase hex address.
	registrationBody = "Registering user with\n Address:"
	// MinSignatureLength is the minimum accepted signature size in bytes.
	MinSignatureLength = 64
)

// Keypair is a shielded keypair. The private scalar is already reduced
// modulo the BabyJubJub subgroup order.
type Keypair struct {
	PrivateKey *big.Int
	PublicKey  *bjj.Point
}

// String never includes the private scalar.
func (k *Keypair) String() string {
	return fmt.Sprintf("Keypair{PublicKey: %s}", k.PublicKey)
}

// MarshalJSON only encodes the public key.
func (k *Keypair) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PublicKey *bjj.Point `json:"publicKey"`
	}{k.PublicKey})
}

// RegistrationMessage returns the message a wallet signs to derive its
// shielded key.
func RegistrationMessage(addr common.Address) []byte {
	return []byte(MessagePrefix + registrationBody + strings.ToLower(addr.Hex()))
}

// Derive parses a hex encoded signature and derives the keypair.
func Derive(signature string) (*Keypair, error) {
	sig, err := hex.DecodeString(util.TrimHex(strings.TrimSpace(signature)))
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex: %v", types.ErrKeyDerivation, err)
	}
	return DeriveFromBytes(sig)
}

// DeriveFromBytes derives the keypair from raw signature bytes. The
// signature is canonicalized to its lowercase 0x prefixed hex text and that
// text is hashed with keccak256. The digest, read as an integer, is then
// formatted as a BabyJubJub private key and reduced modulo the subgroup
// order.
func DeriveFromBytes(sig []byte) (*Keypair, error) {
	if len(sig) < MinSignatureLength {
		return nil, fmt.Errorf("%w: signature too short (%d bytes)", types.ErrKeyDerivation, len(sig))
	}
	canonical := "0x" + hex.EncodeToString(sig)
	digest := crypto.Keccak256([]byte(canonical))

	sk := privateScalar(new(big.Int).SetBytes(digest))
	sk.Mod(sk, babyjub.SubOrder)
	if sk.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero private scalar", types.ErrKeyDerivation)
	}
	return &Keypair{
		PrivateKey: sk,
		PublicKey:  bjj.ScalarBaseMult(sk),
	}, nil
}

// privateScalar formats seed as a BabyJubJub private scalar: blake512 of
// its minimal big-endian bytes, pruned, read little-endian and shifted
// right by 3. Leading zero bytes of the seed are not hashed.
func privateScalar(seed *big.Int) *big.Int {
	buf := seed.Bytes()
	if len(buf) == 0 {
		buf = []byte{0}
	}
	h := babyjub.Blake512(buf)
	var s [32]byte
	copy(s[:], h[:32])
	s[0] &= 0xF8
	s[31] &= 0x7F
	s[31] |= 0x40
	sk := utils.SetBigIntFromLEBytes(new(big.Int), s[:])
	return sk.Rsh(sk, 3)
}

// VerifyRegistrationSignature checks that signature was produced by addr
// over its registration message. Addresses are compared case-insensitively.
func VerifyRegistrationSignature(addr common.Address, signature []byte) error {
	signer, err := ethereum.AddrFromSignature(RegistrationMessage(addr), signature)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSignatureVerification, err)
	}
	if !strings.EqualFold(signer.Hex(), addr.Hex()) {
		return fmt.Errorf("%w: signed by %s, expected %s", types.ErrSignatureVerification, signer.Hex(), addr.Hex())
	}
	return nil
}

// RegistrationHash binds a shielded private key to a chain and an address:
// poseidon(chainID, sk, address). The registration circuit exposes it as a
// public signal so a registration cannot be replayed elsewhere.
func RegistrationHash(chainID *big.Int, sk *big.Int, addr common.Address) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{chainID, sk, util.AddressToBig(addr)})
}
