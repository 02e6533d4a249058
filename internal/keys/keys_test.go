package keys

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invisible/internal/crypto"
)

func testIdentity(t *testing.T) *Identity {
	t.Helper()
	id, err := NewIdentity(big.NewInt(123456789), big.NewInt(987654321))
	require.NoError(t, err)
	return id
}

func TestNewIdentityRejectsLongKeys(t *testing.T) {
	long := new(big.Int).Lsh(big.NewInt(1), KeyBits)
	ok := new(big.Int).Sub(long, big.NewInt(1))

	_, err := NewIdentity(long, ok)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = NewIdentity(ok, long)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = NewIdentity(big.NewInt(-1), ok)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)

	_, err = NewIdentity(ok, ok)
	assert.NoError(t, err)
}

func TestPrivateSeedDependsOnlyOnViewKey(t *testing.T) {
	a, err := NewIdentity(big.NewInt(5), big.NewInt(6))
	require.NoError(t, err)
	b, err := NewIdentity(big.NewInt(5), big.NewInt(7))
	require.NoError(t, err)

	seedA, seedB := a.PrivateSeed(), b.PrivateSeed()
	assert.True(t, seedA.Equal(&seedB))
	assert.NotEqual(t, a.UserID(), b.UserID())
}

func TestOneTimeAddressIsPure(t *testing.T) {
	id := testIdentity(t)

	k1 := id.OneTimeAddressPrivKey(12345, 3)
	k2 := id.OneTimeAddressPrivKey(12345, 3)
	assert.True(t, k1.Equal(&k2))

	k3 := id.OneTimeAddressPrivKey(12345, 4)
	assert.False(t, k1.Equal(&k3))

	k4 := id.OneTimeAddressPrivKey(54321, 3)
	assert.False(t, k1.Equal(&k4))

	// a fresh identity with the same secrets and no cache yields the same key
	again := testIdentity(t)
	k5 := again.OneTimeAddressPrivKey(12345, 3)
	assert.True(t, k1.Equal(&k5))
}

func TestOneTimeAddressMatchesSubaddressFormula(t *testing.T) {
	id := testIdentity(t)
	sub := id.SubaddressKeys(7)

	pubView := crypto.PublicKey(sub.Kvi)
	assert.True(t, pubView.Equal(&sub.PubView))

	want := OneTimeAddressPrivKey(sub.PubView, sub.Ksi, 9)
	got := id.OneTimeAddressPrivKey(7, 9)
	assert.True(t, want.Equal(&got))
}

func TestDestinationKeyIsSum(t *testing.T) {
	a := crypto.Hash(crypto.Uint(1))
	b := crypto.Hash(crypto.Uint(2))

	k, pub := DestinationKey([]fr.Element{a, b})
	sum := crypto.SumScalars(a, b)
	assert.True(t, k.Equal(&sum))

	expected := crypto.SumPoints(crypto.PublicKey(a), crypto.PublicKey(b))
	assert.True(t, pub.Equal(&expected))
}

func TestDepositStarkKey(t *testing.T) {
	id := testIdentity(t)

	k := id.DepositStarkKey(1)
	assert.Equal(t, 0, k.Cmp(id.DepositStarkKey(1)))
	assert.NotEqual(t, 0, k.Cmp(id.DepositStarkKey(2)))

	pub := crypto.PublicKey(id.DepositPrivKey(1))
	assert.Equal(t, 0, k.Cmp(pub.X.BigInt(new(big.Int))))
}

func TestFromPrivKeyIsDeterministic(t *testing.T) {
	a, err := FromPrivKey(big.NewInt(424242))
	require.NoError(t, err)
	b, err := FromPrivKey(big.NewInt(424242))
	require.NoError(t, err)
	assert.Equal(t, a.UserID(), b.UserID())
}

func TestNextCountWraps(t *testing.T) {
	assert.Equal(t, uint32(1), NextCount(0))
	assert.Equal(t, uint32(0), NextCount(CountModulus-1))
}

func TestCacheSizeOption(t *testing.T) {
	id, err := NewIdentity(big.NewInt(1), big.NewInt(2), WithCacheSize(1))
	require.NoError(t, err)
	a := id.OneTimeAddressPrivKey(1, 0)
	_ = id.OneTimeAddressPrivKey(2, 0)
	b := id.OneTimeAddressPrivKey(1, 0)
	assert.True(t, a.Equal(&b))

	_, err = NewIdentity(big.NewInt(1), big.NewInt(2), WithCacheSize(0))
	assert.Error(t, err)
}
