// crypto.go - Curve and hash primitives shared by every wallet component.
//
// Keys live on the BLS12-377 G1 group with scalars in fr. Hashing is MiMC over fr, so every digest
// is itself a scalar and can be fed straight back into key derivation or into a circuit.

package crypto

import (
	"fmt"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	mimcNative "github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"
)

// Uint lifts an unsigned integer into fr.
func Uint(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

// Big reduces an arbitrary integer into fr.
func Big(v *big.Int) fr.Element {
	var e fr.Element
	e.SetBigInt(v)
	return e
}

// Hash computes the MiMC digest of the given field elements.
func Hash(elems ...fr.Element) fr.Element {
	h := mimcNative.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// TrimBits keeps the n least significant bits of e.
func TrimBits(e fr.Element, n int) fr.Element {
	v := e.BigInt(new(big.Int))
	mask := new(big.Int).Lsh(big.NewInt(1), uint(n))
	mask.Sub(mask, big.NewInt(1))
	return Big(v.And(v, mask))
}

// Generator returns the affine G1 generator.
func Generator() bls12377.G1Affine {
	_, _, g1, _ := bls12377.Generators()
	return g1
}

// PublicKey returns k·G.
func PublicKey(k fr.Element) bls12377.G1Affine {
	g := Generator()
	var p bls12377.G1Affine
	p.ScalarMultiplication(&g, k.BigInt(new(big.Int)))
	return p
}

// ScalarMul returns k·P.
func ScalarMul(p bls12377.G1Affine, k fr.Element) bls12377.G1Affine {
	var out bls12377.G1Affine
	out.ScalarMultiplication(&p, k.BigInt(new(big.Int)))
	return out
}

// SumScalars adds scalars modulo r.
func SumScalars(keys ...fr.Element) fr.Element {
	var acc fr.Element
	for i := range keys {
		acc.Add(&acc, &keys[i])
	}
	return acc
}

// SumPoints adds points in Jacobian form and returns the affine result.
// The empty sum is the point at infinity.
func SumPoints(points ...bls12377.G1Affine) bls12377.G1Affine {
	var acc bls12377.G1Jac
	for i := range points {
		var j bls12377.G1Jac
		j.FromAffine(&points[i])
		acc.AddAssign(&j)
	}
	var out bls12377.G1Affine
	out.FromJacobian(&acc)
	return out
}

// X returns the x-coordinate of p reduced into fr, the form used inside hashes.
func X(p bls12377.G1Affine) fr.Element {
	return Big(p.X.BigInt(new(big.Int)))
}

// AddressKey is the map key for a stealth address: the decimal x-coordinate.
func AddressKey(p bls12377.G1Affine) string {
	return p.X.String()
}

// ScalarString renders a scalar in decimal, the encoding used on the wire.
func ScalarString(e fr.Element) string {
	return e.BigInt(new(big.Int)).String()
}

// ParseScalar parses a decimal scalar.
func ParseScalar(s string) (fr.Element, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fr.Element{}, fmt.Errorf("invalid scalar %q", s)
	}
	return Big(v), nil
}
