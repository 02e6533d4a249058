package crypto

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	a := Hash(Uint(1), Uint(2))
	b := Hash(Uint(1), Uint(2))
	c := Hash(Uint(2), Uint(1))

	assert.True(t, a.Equal(&b))
	assert.False(t, a.Equal(&c), "hash must depend on input order")
}

func TestTrimBits(t *testing.T) {
	h := Hash(Uint(42))
	trimmed := TrimBits(h, 240)
	assert.LessOrEqual(t, trimmed.BigInt(new(big.Int)).BitLen(), 240)

	small := TrimBits(Uint(0xff), 4)
	assert.Equal(t, uint64(0xf), small.Uint64())
}

func TestPublicKeyIsHomomorphic(t *testing.T) {
	k1 := Hash(Uint(7))
	k2 := Hash(Uint(8))

	sum := SumScalars(k1, k2)
	lhs := PublicKey(sum)
	rhs := SumPoints(PublicKey(k1), PublicKey(k2))

	assert.True(t, lhs.Equal(&rhs))
}

func TestSumPointsEmptyIsInfinity(t *testing.T) {
	p := SumPoints()
	assert.True(t, p.IsInfinity())
}

func TestPointJSON(t *testing.T) {
	p := NewPoint(PublicKey(Uint(99)))

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded Point
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Equal(&p.G1Affine))
	assert.Equal(t, AddressKey(p.G1Affine), AddressKey(decoded.G1Affine))
}

func TestPointJSONRejectsOffCurve(t *testing.T) {
	err := json.Unmarshal([]byte(`{"x":"1","y":"1"}`), &Point{})
	assert.Error(t, err)
}

func TestParseScalar(t *testing.T) {
	k := Hash(Uint(3))
	parsed, err := ParseScalar(ScalarString(k))
	require.NoError(t, err)
	assert.True(t, parsed.Equal(&k))

	_, err = ParseScalar("not-a-number")
	assert.Error(t, err)
}

func TestPointsFromX(t *testing.T) {
	p := PublicKey(Uint(4242))
	candidates, err := PointsFromX(p.X.BigInt(new(big.Int)))
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.True(t, candidates[0].Equal(&p) || candidates[1].Equal(&p))
}
