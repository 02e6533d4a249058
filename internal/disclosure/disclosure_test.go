package disclosure

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invisible/internal/blinding"
	"invisible/internal/crypto"
	"invisible/internal/notes"
)

func testNote(amount uint64) *notes.Note {
	engine := blinding.NewEngine(crypto.Uint(987654321))
	addr := crypto.PublicKey(crypto.Uint(424242))
	return notes.NewNote(addr, 55555, amount, engine.GenerateBlinding(addr), 17)
}

func TestNoteOpeningCircuit(t *testing.T) {
	n := testNote(1500)
	h := n.Hash()

	valid := &NoteOpening{
		NoteHash: h.BigInt(new(big.Int)),
		AddressX: addressX(n),
		Token:    uint64(n.Token),
		Amount:   n.Amount,
		Blinding: n.Blinding.BigInt(new(big.Int)),
	}
	invalid := &NoteOpening{
		NoteHash: h.BigInt(new(big.Int)),
		AddressX: addressX(n),
		Token:    uint64(n.Token),
		Amount:   n.Amount + 1,
		Blinding: n.Blinding.BigInt(new(big.Int)),
	}
	field := ecc.BLS12_377.ScalarField()
	assert.NoError(t, test.IsSolved(&NoteOpening{}, valid, field))
	assert.Error(t, test.IsSolved(&NoteOpening{}, invalid, field))
}

func TestProveAndVerify(t *testing.T) {
	keys, err := Setup()
	require.NoError(t, err)

	n := testNote(1500)
	d, err := keys.Prove(n)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), d.Amount)
	assert.Equal(t, crypto.ScalarString(n.Hash()), d.NoteHash)
	require.NoError(t, Verify(keys.VerifyingKey(), d))

	lie := *d
	lie.Amount = 1600
	assert.ErrorIs(t, Verify(keys.VerifyingKey(), &lie), ErrInvalidProof)

	other := *d
	other.NoteHash = crypto.ScalarString(testNote(7).Hash())
	assert.ErrorIs(t, Verify(keys.VerifyingKey(), &other), ErrInvalidProof)
}

func TestSetupOrLoadKeysReusesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	first, err := SetupOrLoadKeys(dir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, provingKeyFile))
	require.NoError(t, err)

	second, err := SetupOrLoadKeys(dir)
	require.NoError(t, err)

	// A proof made with the first keys verifies under the reloaded verifying key.
	d, err := first.Prove(testNote(42))
	require.NoError(t, err)
	require.NoError(t, Verify(second.VerifyingKey(), d))

	vk, err := LoadVerifyingKey(filepath.Join(dir, verifyingKeyFile))
	require.NoError(t, err)
	require.NoError(t, Verify(vk, d))
}

var _ frontend.Circuit = (*NoteOpening)(nil)
