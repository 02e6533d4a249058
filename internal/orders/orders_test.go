package orders

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invisible/internal/crypto"
	"invisible/internal/notes"
	"invisible/internal/signing"
)

func testNote(seed, amount uint64) *notes.Note {
	return notes.NewNote(crypto.PublicKey(crypto.Uint(seed)), 55555, amount, crypto.Uint(seed+100), seed)
}

func ptr(e fr.Element) *fr.Element { return &e }

func TestPositionEffectTypeNames(t *testing.T) {
	for _, tt := range []PositionEffectType{Open, Modify, Close, Liquidate} {
		parsed, err := ParsePositionEffectType(tt.String())
		require.NoError(t, err)
		assert.Equal(t, tt, parsed)
	}
	_, err := ParsePositionEffectType("Hold")
	assert.Error(t, err)

	var tt PositionEffectType
	require.NoError(t, json.Unmarshal([]byte(`"Close"`), &tt))
	assert.Equal(t, Close, tt)
}

func TestLimitOrderHashCoversRefund(t *testing.T) {
	o := &LimitOrder{
		ExpirationTimestamp: 1000,
		TokenSpent:          55555,
		TokenReceived:       12345,
		AmountSpent:         60,
		AmountReceived:      1,
		NotesIn:             []*notes.Note{testNote(1, 100)},
	}
	without := o.Hash()
	o.RefundNote = testNote(2, 40)
	with := o.Hash()
	assert.False(t, without.Equal(&with))
}

func TestPerpOrderHashDependsOnVariant(t *testing.T) {
	pos := &notes.Position{Address: crypto.PublicKey(crypto.Uint(3)), SyntheticToken: 12345, OrderSide: notes.Long}
	closeOrder := &PerpOrder{
		Position:       pos,
		OrderSide:      notes.Short,
		SyntheticToken: 12345,
		Fields:         &CloseOrderFields{DestReceivedAddress: crypto.PublicKey(crypto.Uint(4)), DestReceivedBlinding: crypto.Uint(5)},
	}
	modifyOrder := &PerpOrder{
		Position:       pos,
		OrderSide:      notes.Short,
		SyntheticToken: 12345,
		Fields:         ModifyFields{},
	}
	a, b := closeOrder.Hash(), modifyOrder.Hash()
	assert.False(t, a.Equal(&b))
	assert.Equal(t, Close, closeOrder.EffectType())
	assert.Equal(t, Modify, modifyOrder.EffectType())
}

func TestOpenOrderUsesFieldsAddress(t *testing.T) {
	addr := crypto.PublicKey(crypto.Uint(8))
	o := &PerpOrder{
		OrderSide:      notes.Long,
		SyntheticToken: 12345,
		Fields:         &OpenOrderFields{InitialMargin: 10, PositionAddress: addr, NotesIn: []*notes.Note{testNote(1, 10)}},
	}
	got, err := o.PositionAddress()
	require.NoError(t, err)
	assert.True(t, got.Equal(&addr))

	m := &PerpOrder{Fields: LiquidateFields{}}
	_, err = m.PositionAddress()
	assert.Error(t, err)
}

func TestSigningRejectsPerpOrderWithoutPosition(t *testing.T) {
	o := &PerpOrder{OrderSide: notes.Short, SyntheticToken: 12345, Fields: ModifyFields{}}
	require.ErrorIs(t, o.Validate(), ErrMissingPosition)

	_, err := signing.SignOrder(o, nil, ptr(crypto.Uint(3)))
	assert.ErrorIs(t, err, ErrMissingPosition)

	o.Position = &notes.Position{Address: crypto.PublicKey(crypto.Uint(3)), SyntheticToken: 12345}
	sig, err := signing.SignOrder(o, nil, ptr(crypto.Uint(3)))
	require.NoError(t, err)
	assert.True(t, signing.Verify(o.Hash(), o.Position.Address, sig))

	assert.Error(t, (&PerpOrder{}).Validate())
}

func TestPerpOrderJSONCarriesOneVariant(t *testing.T) {
	o := PerpOrder{
		OrderSide:      notes.Long,
		SyntheticToken: 12345,
		Fields:         &OpenOrderFields{InitialMargin: 10, PositionAddress: crypto.PublicKey(crypto.Uint(8))},
	}
	data, err := json.Marshal(o)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "Open", raw["position_effect_type"])
	assert.NotNil(t, raw["open_order_fields"])
	assert.Nil(t, raw["close_order_fields"])
}

func TestMarginChangeHashDiffersByDirection(t *testing.T) {
	pos := &notes.Position{Address: crypto.PublicKey(crypto.Uint(3)), SyntheticToken: 12345}
	inc := &MarginChange{Direction: Increase, Amount: 10, Position: pos, NotesIn: []*notes.Note{testNote(1, 10)}}
	dec := &MarginChange{Direction: Decrease, Amount: 10, Position: pos, CloseFields: &CloseOrderFields{}}
	a, b := inc.Hash(), dec.Hash()
	assert.False(t, a.Equal(&b))
	assert.Equal(t, int64(-10), dec.SignedAmount())

	_, err := ParseMarginDirection("sideways")
	assert.Error(t, err)
}

func TestWithdrawalSignatureBindsRecipient(t *testing.T) {
	key := crypto.Uint(21)
	w := &Withdrawal{
		Token:     55555,
		Amount:    10,
		Recipient: big.NewInt(777),
		ChainID:   40161,
		NotesIn:   []*notes.Note{notes.NewNote(crypto.PublicKey(key), 55555, 10, crypto.Uint(1), 1)},
	}
	sig, err := signing.SignOrder(w, []fr.Element{key}, nil)
	require.NoError(t, err)
	assert.True(t, signing.Verify(w.Hash(), crypto.PublicKey(key), sig))

	w.Recipient = big.NewInt(778)
	assert.False(t, signing.Verify(w.Hash(), crypto.PublicKey(key), sig))
}

func TestRestructureTotals(t *testing.T) {
	r := &Restructure{
		NotesIn:  []*notes.Note{testNote(1, 30), testNote(2, 20)},
		NotesOut: []*notes.Note{testNote(1, 25), testNote(2, 25)},
	}
	assert.Equal(t, r.InputTotal(), r.OutputTotal())
}

func TestDepositHashBindsID(t *testing.T) {
	d := &Deposit{DepositID: 1, StarkKey: big.NewInt(5), Notes: []*notes.Note{testNote(1, 10)}}
	a := d.Hash()
	d.DepositID = 2
	b := d.Hash()
	assert.False(t, a.Equal(&b))

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"stark_key":"5"`)
}
