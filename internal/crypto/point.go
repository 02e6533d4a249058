package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fp"
)

// Point wraps bls12377.G1Affine with a JSON encoding of decimal coordinates.
type Point struct {
	bls12377.G1Affine
}

type pointJSON struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// NewPoint wraps p.
func NewPoint(p bls12377.G1Affine) Point {
	return Point{G1Affine: p}
}

// MarshalJSON implements the json.Marshaler interface.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{
		X: p.X.BigInt(new(big.Int)).String(),
		Y: p.Y.BigInt(new(big.Int)).String(),
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw pointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	x, ok := new(big.Int).SetString(raw.X, 10)
	if !ok {
		return fmt.Errorf("invalid point x %q", raw.X)
	}
	y, ok := new(big.Int).SetString(raw.Y, 10)
	if !ok {
		return fmt.Errorf("invalid point y %q", raw.Y)
	}
	p.X.SetBigInt(x)
	p.Y.SetBigInt(y)
	if !p.G1Affine.IsInfinity() && !p.G1Affine.IsOnCurve() {
		return fmt.Errorf("point (%s, %s) is not on the curve", raw.X, raw.Y)
	}
	return nil
}

// PointsFromX returns both curve points whose x-coordinate is x (y^2 = x^3 + 1).
func PointsFromX(x *big.Int) ([]bls12377.G1Affine, error) {
	var px, rhs, y, one fp.Element
	px.SetBigInt(x)
	rhs.Square(&px).Mul(&rhs, &px)
	one.SetOne()
	rhs.Add(&rhs, &one)
	if y.Sqrt(&rhs) == nil {
		return nil, fmt.Errorf("no curve point with x = %s", x)
	}
	p := bls12377.G1Affine{X: px, Y: y}
	var neg bls12377.G1Affine
	neg.Neg(&p)
	return []bls12377.G1Affine{p, neg}, nil
}
