package signing

import (
	"encoding/json"
	"math/big"
	"testing"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invisible/internal/crypto"
)

type fixedHash fr.Element

func (f fixedHash) Hash() fr.Element { return fr.Element(f) }

func TestSignVerify(t *testing.T) {
	key := crypto.Hash(crypto.Uint(11))
	msg := crypto.Hash(crypto.Uint(12))

	sig := Sign(msg, key)
	assert.True(t, Verify(msg, crypto.PublicKey(key), sig))

	other := crypto.Hash(crypto.Uint(13))
	assert.False(t, Verify(other, crypto.PublicKey(key), sig), "wrong message must not verify")
	assert.False(t, Verify(msg, crypto.PublicKey(other), sig), "wrong key must not verify")
	assert.False(t, Verify(msg, crypto.PublicKey(key), nil))
}

func TestSignOrderAggregatesKeys(t *testing.T) {
	k1 := crypto.Hash(crypto.Uint(1))
	k2 := crypto.Hash(crypto.Uint(2))
	pos := crypto.Hash(crypto.Uint(3))
	order := fixedHash(crypto.Hash(crypto.Uint(99)))

	sig, err := SignOrder(order, []fr.Element{k1, k2}, &pos)
	require.NoError(t, err)

	pub := AggregatePublicKey(crypto.PublicKey(k1), crypto.PublicKey(k2), crypto.PublicKey(pos))
	assert.True(t, Verify(order.Hash(), pub, sig))

	partial := AggregatePublicKey(crypto.PublicKey(k1), crypto.PublicKey(k2))
	assert.False(t, Verify(order.Hash(), partial, sig))
}

func TestSignOrderWithoutKeys(t *testing.T) {
	_, err := SignOrder(fixedHash(crypto.Uint(1)), nil, nil)
	assert.ErrorIs(t, err, ErrNoSigningKeys)
}

func TestSignatureIsDeterministic(t *testing.T) {
	key := crypto.Hash(crypto.Uint(5))
	msg := crypto.Uint(6)
	a := Sign(msg, key)
	b := Sign(msg, key)
	assert.True(t, a.S.Equal(&b.S))
	assert.True(t, a.R.Equal(&b.R))
}

func TestSignatureJSON(t *testing.T) {
	key := crypto.Hash(crypto.Uint(21))
	msg := crypto.Uint(22)
	sig := Sign(msg, key)

	data, err := json.Marshal(sig)
	require.NoError(t, err)

	var decoded Signature
	require.NoError(t, json.Unmarshal(data, &decoded))
	var pub bls12377.G1Affine = crypto.PublicKey(key)
	assert.True(t, Verify(msg, pub, &decoded))
}

func TestVerifyStarkKey(t *testing.T) {
	key := crypto.Uint(31337)
	pub := crypto.PublicKey(key)
	msg := crypto.Uint(5)
	sig := Sign(msg, key)

	assert.True(t, VerifyStarkKey(msg, pub.X.BigInt(new(big.Int)), sig))
	other := crypto.PublicKey(crypto.Uint(31338))
	assert.False(t, VerifyStarkKey(msg, other.X.BigInt(new(big.Int)), sig))
}
