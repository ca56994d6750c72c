// Package bjj provides the BabyJubJub point type used for shielded public
// keys, backed by the iden3 implementation of the curve.
package bjj

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	babyjubjub "github.com/iden3/go-iden3-crypto/babyjub"

	"github.com/vocdoni/eerc-client/types"
)

// Point is the affine representation of a BabyJubJub group element. Points
// are treated as immutable values once built.
type Point struct {
	inner *babyjubjub.Point
}

// New returns the point (x, y). It does not check that the point is on the
// curve, use Valid for that.
func New(x, y *big.Int) *Point {
	return &Point{inner: &babyjubjub.Point{
		X: new(big.Int).Set(x),
		Y: new(big.Int).Set(y),
	}}
}

// ScalarBaseMult returns scalar·Base8.
func ScalarBaseMult(scalar *big.Int) *Point {
	return &Point{inner: babyjubjub.NewPoint().Mul(scalar, babyjubjub.B8)}
}

// Base8 returns a copy of the subgroup generator.
func Base8() *Point {
	return New(babyjubjub.B8.X, babyjubjub.B8.Y)
}

// SubOrder returns a copy of the order of the prime subgroup.
func SubOrder() *big.Int {
	return new(big.Int).Set(babyjubjub.SubOrder)
}

// Point returns copies of the affine coordinates.
func (p *Point) Point() (*big.Int, *big.Int) {
	if p == nil || p.inner == nil {
		return new(big.Int), new(big.Int)
	}
	return new(big.Int).Set(p.inner.X), new(big.Int).Set(p.inner.Y)
}

// Coords returns the coordinates as the [2]*big.Int array taken by the
// contracts.
func (p *Point) Coords() [2]*big.Int {
	x, y := p.Point()
	return [2]*big.Int{x, y}
}

// Valid reports whether the point lies on the curve and in the prime
// subgroup.
func (p *Point) Valid() bool {
	if p == nil || p.inner == nil {
		return false
	}
	return p.inner.InCurve() && p.inner.InSubGroup()
}

// IsZero reports whether p is unset or the all-zero pair the registrar
// returns for unknown accounts.
func (p *Point) IsZero() bool {
	return p == nil || p.inner == nil || (p.inner.X.Sign() == 0 && p.inner.Y.Sign() == 0)
}

// Equal reports whether both points have the same coordinates.
func (p *Point) Equal(q *Point) bool {
	if p.IsZero() || q.IsZero() {
		return p.IsZero() && q.IsZero()
	}
	return p.inner.X.Cmp(q.inner.X) == 0 && p.inner.Y.Cmp(q.inner.Y) == 0
}

// Marshal returns the 32 byte compressed form of the point.
func (p *Point) Marshal() []byte {
	b := p.inner.Compress()
	return b[:]
}

// Unmarshal decodes a compressed point.
func Unmarshal(buf []byte) (*Point, error) {
	if len(buf) != 32 {
		return nil, fmt.Errorf("invalid compressed point length %d", len(buf))
	}
	var b32 [32]byte
	copy(b32[:], buf)
	inner, err := babyjubjub.NewPoint().Decompress(b32)
	if err != nil {
		return nil, err
	}
	return &Point{inner: inner}, nil
}

func (p *Point) String() string {
	x, y := p.Point()
	return fmt.Sprintf("%s,%s", x.String(), y.String())
}

// MarshalJSON encodes the point as a pair of decimal strings.
func (p *Point) MarshalJSON() ([]byte, error) {
	x, y := p.Point()
	return json.Marshal([]*types.BigInt{(*types.BigInt)(x), (*types.BigInt)(y)})
}

// UnmarshalJSON decodes a pair of decimal strings.
func (p *Point) UnmarshalJSON(buf []byte) error {
	var coords []*types.BigInt
	if err := json.Unmarshal(buf, &coords); err != nil {
		return err
	}
	return p.setCoords(len(coords), func(i int) *big.Int { return coords[i].MathBigInt() })
}

func (p *Point) MarshalCBOR() ([]byte, error) {
	x, y := p.Point()
	return cbor.Marshal([]*big.Int{x, y})
}

func (p *Point) UnmarshalCBOR(buf []byte) error {
	var coords []*big.Int
	if err := cbor.Unmarshal(buf, &coords); err != nil {
		return err
	}
	return p.setCoords(len(coords), func(i int) *big.Int { return coords[i] })
}

func (p *Point) setCoords(n int, coord func(int) *big.Int) error {
	if n != 2 {
		return fmt.Errorf("expected 2 coordinates, got %d", n)
	}
	if coord(0) == nil || coord(1) == nil {
		return fmt.Errorf("nil coordinate")
	}
	p.inner = &babyjubjub.Point{
		X: new(big.Int).Set(coord(0)),
		Y: new(big.Int).Set(coord(1)),
	}
	return nil
}
