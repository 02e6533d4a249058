// note.go - Note types for the confidential balance.
//
// A Note is a confidential value record bound to a one-time address. Notes are never mutated;
// spending one removes it and creates change/refund notes in its place.

package notes

import (
	"encoding/json"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/blinding"
	"invisible/internal/crypto"
)

// Note is a spendable value record.
type Note struct {
	Index    uint64
	Address  bls12377.G1Affine
	Token    uint32
	Amount   uint64
	Blinding fr.Element
}

// NewNote builds a note. Index is the state-tree slot, zero until the exchange assigns one.
func NewNote(address bls12377.G1Affine, token uint32, amount uint64, blinding fr.Element, index uint64) *Note {
	return &Note{
		Index:    index,
		Address:  address,
		Token:    token,
		Amount:   amount,
		Blinding: blinding,
	}
}

// Commitment is H(amount, blinding).
func (n *Note) Commitment() fr.Element {
	return blinding.Commitment(n.Amount, n.Blinding)
}

// Hash is H(address.x, token, commitment), the note's leaf value.
func (n *Note) Hash() fr.Element {
	return crypto.Hash(crypto.X(n.Address), crypto.Uint(uint64(n.Token)), n.Commitment())
}

// AddressKey is the key under which the note's private key is stored.
func (n *Note) AddressKey() string {
	return crypto.AddressKey(n.Address)
}

type noteJSON struct {
	Index      uint64       `json:"index"`
	Address    crypto.Point `json:"address"`
	Token      uint32       `json:"token"`
	Amount     uint64       `json:"amount"`
	Blinding   string       `json:"blinding"`
	Commitment string       `json:"commitment,omitempty"`
	Hash       string       `json:"hash,omitempty"`
}

// MarshalJSON implements the json.Marshaler interface.
func (n Note) MarshalJSON() ([]byte, error) {
	return json.Marshal(noteJSON{
		Index:      n.Index,
		Address:    crypto.NewPoint(n.Address),
		Token:      n.Token,
		Amount:     n.Amount,
		Blinding:   crypto.ScalarString(n.Blinding),
		Commitment: crypto.ScalarString(n.Commitment()),
		Hash:       crypto.ScalarString(n.Hash()),
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (n *Note) UnmarshalJSON(data []byte) error {
	var raw noteJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b, err := crypto.ParseScalar(raw.Blinding)
	if err != nil {
		return err
	}
	*n = Note{
		Index:    raw.Index,
		Address:  raw.Address.G1Affine,
		Token:    raw.Token,
		Amount:   raw.Amount,
		Blinding: b,
	}
	return nil
}

// HiddenNote is a note as the exchange publishes it: the amount is masked and only the owner of
// the private seed can open it.
type HiddenNote struct {
	Index        uint64
	Address      bls12377.G1Affine
	Token        uint32
	HiddenAmount uint64
	Commitment   fr.Element
}

// Hide converts n to its published form.
func Hide(n *Note) HiddenNote {
	h := blinding.Hide(n.Amount, n.Blinding)
	return HiddenNote{
		Index:        n.Index,
		Address:      n.Address,
		Token:        n.Token,
		HiddenAmount: h.HiddenAmount,
		Commitment:   h.Commitment,
	}
}

type hiddenNoteJSON struct {
	Index        uint64       `json:"index"`
	Address      crypto.Point `json:"address"`
	Token        uint32       `json:"token"`
	HiddenAmount uint64       `json:"hidden_amount"`
	Commitment   string       `json:"commitment"`
}

// MarshalJSON implements the json.Marshaler interface.
func (h HiddenNote) MarshalJSON() ([]byte, error) {
	return json.Marshal(hiddenNoteJSON{
		Index:        h.Index,
		Address:      crypto.NewPoint(h.Address),
		Token:        h.Token,
		HiddenAmount: h.HiddenAmount,
		Commitment:   crypto.ScalarString(h.Commitment),
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (h *HiddenNote) UnmarshalJSON(data []byte) error {
	var raw hiddenNoteJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c, err := crypto.ParseScalar(raw.Commitment)
	if err != nil {
		return err
	}
	*h = HiddenNote{
		Index:        raw.Index,
		Address:      raw.Address.G1Affine,
		Token:        raw.Token,
		HiddenAmount: raw.HiddenAmount,
		Commitment:   c,
	}
	return nil
}

// ActiveOrder is an order the exchange still holds open, reduced to the note slots it locks.
// PositionEffectType is zero for spot orders and perpetual Open orders; orders with any other
// effect never lock notes.
type ActiveOrder struct {
	OrderID            uint64   `json:"order_id"`
	PositionEffectType uint8    `json:"position_effect_type"`
	NoteIndexes        []uint64 `json:"note_indexes"`
}

// LocksNotes reports whether the order's note indexes are held by the exchange.
func (o ActiveOrder) LocksNotes() bool {
	return o.PositionEffectType == 0
}
