package util

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
)

// RandomBytes generates a random byte slice of length n.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	return b
}

// RandomHex generates a random hex string of length n.
func RandomHex(n int) string {
	return fmt.Sprintf("%x", RandomBytes(n))
}

// TrimHex trims the '0x' prefix from a hex string.
func TrimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// ScalarField returns a copy of the BN254 scalar field modulus, the field
// every circuit signal lives in.
func ScalarField() *big.Int {
	return fr.Modulus()
}

// InScalarField reports whether v is a canonical element of the BN254
// scalar field.
func InScalarField(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(fr.Modulus()) < 0
}

// BigToFF function returns the finite field representation of the big.Int
// provided. It uses Euclidean Modulus and the BN254 curve scalar field to
// represent the provided number.
func BigToFF(iv *big.Int) *big.Int {
	if InScalarField(iv) {
		return iv
	}
	return new(big.Int).Mod(iv, fr.Modulus())
}

// AddressToBig returns the address interpreted as a big-endian integer, the
// way circuits take addresses as inputs.
func AddressToBig(addr common.Address) *big.Int {
	return new(big.Int).SetBytes(addr.Bytes())
}

// BigIntsToStrings converts a list of big.Int to their decimal strings.
func BigIntsToStrings(arr []*big.Int) []string {
	strs := make([]string, 0, len(arr))
	for _, b := range arr {
		strs = append(strs, b.String())
	}
	return strs
}

// StringsToBigInts parses a list of decimal strings. It fails on the first
// element that is not a valid base 10 integer.
func StringsToBigInts(strs []string) ([]*big.Int, error) {
	arr := make([]*big.Int, 0, len(strs))
	for i, s := range strs {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer at position %d: %q", i, s)
		}
		arr = append(arr, v)
	}
	return arr, nil
}
