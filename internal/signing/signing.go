// Package signing produces the single signature that authorises an order.
//
// The signing scalar is the sum of every private key the order spends (note keys and/or a position
// key). Verifiers sum the matching public keys, so one Schnorr signature over BLS12-377 G1 covers
// any number of inputs. This is key aggregation, not a multi-signature protocol.
package signing

import (
	"encoding/json"
	"errors"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
)

// ErrNoSigningKeys is returned when an order has no authorising key.
var ErrNoSigningKeys = errors.New("no signing keys")

var nonceTag = crypto.Uint(0x6e6f6e6365)

// Hashable is implemented by every order variant.
type Hashable interface {
	Hash() fr.Element
}

// Validator is implemented by orders that can be structurally incomplete.
type Validator interface {
	Validate() error
}

// Signature is a Schnorr signature (R, s) with sG = R + H(R.x, P.x, m)·P.
type Signature struct {
	R bls12377.G1Affine
	S fr.Element
}

type signatureJSON struct {
	R crypto.Point `json:"r"`
	S string       `json:"s"`
}

// MarshalJSON implements the json.Marshaler interface.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(signatureJSON{R: crypto.NewPoint(s.R), S: crypto.ScalarString(s.S)})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var raw signatureJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := crypto.ParseScalar(raw.S)
	if err != nil {
		return err
	}
	s.R = raw.R.G1Affine
	s.S = v
	return nil
}

// AggregateKey returns the signing scalar for the given note keys and optional position key.
func AggregateKey(privKeys []fr.Element, positionKey *fr.Element) (fr.Element, error) {
	if len(privKeys) == 0 && positionKey == nil {
		return fr.Element{}, ErrNoSigningKeys
	}
	sum := crypto.SumScalars(privKeys...)
	if positionKey != nil {
		sum.Add(&sum, positionKey)
	}
	return sum, nil
}

// AggregatePublicKey sums the public keys an order references.
func AggregatePublicKey(keys ...bls12377.G1Affine) bls12377.G1Affine {
	return crypto.SumPoints(keys...)
}

// SignOrder signs the order hash with the aggregate of all authorising keys.
// Orders implementing Validator are checked first.
func SignOrder(order Hashable, privKeys []fr.Element, positionKey *fr.Element) (*Signature, error) {
	if v, ok := order.(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	key, err := AggregateKey(privKeys, positionKey)
	if err != nil {
		return nil, err
	}
	return Sign(order.Hash(), key), nil
}

// Sign produces a deterministic signature of msg under key.
func Sign(msg fr.Element, key fr.Element) *Signature {
	k := crypto.Hash(key, msg, nonceTag)
	r := crypto.PublicKey(k)
	pub := crypto.PublicKey(key)
	e := challenge(r, pub, msg)

	var s fr.Element
	s.Mul(&e, &key)
	s.Add(&s, &k)
	return &Signature{R: r, S: s}
}

// Verify checks sig against msg and the public key pub.
func Verify(msg fr.Element, pub bls12377.G1Affine, sig *Signature) bool {
	if sig == nil {
		return false
	}
	e := challenge(sig.R, pub, msg)
	lhs := crypto.PublicKey(sig.S)
	rhs := crypto.SumPoints(sig.R, crypto.ScalarMul(pub, e))
	return lhs.Equal(&rhs)
}

// VerifyStarkKey checks sig against a public key known only by its x-coordinate.
func VerifyStarkKey(msg fr.Element, starkKey *big.Int, sig *Signature) bool {
	candidates, err := crypto.PointsFromX(starkKey)
	if err != nil {
		return false
	}
	for _, pub := range candidates {
		if Verify(msg, pub, sig) {
			return true
		}
	}
	return false
}

func challenge(r, pub bls12377.G1Affine, msg fr.Element) fr.Element {
	return crypto.Hash(crypto.X(r), crypto.X(pub), msg)
}
