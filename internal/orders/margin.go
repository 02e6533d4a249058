package orders

import (
	"encoding/json"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
	"invisible/internal/notes"
	"invisible/internal/signing"
)

// MarginDirection is either Increase or Decrease.
type MarginDirection string

const (
	Increase MarginDirection = "increase"
	Decrease MarginDirection = "decrease"
)

// ParseMarginDirection validates a direction name.
func ParseMarginDirection(s string) (MarginDirection, error) {
	switch MarginDirection(s) {
	case Increase, Decrease:
		return MarginDirection(s), nil
	}
	return "", fmt.Errorf("invalid margin direction %q", s)
}

// MarginChange adds collateral from notes to a position or releases some of it to a fresh
// address. Only the fields of the chosen direction are set.
type MarginChange struct {
	Direction   MarginDirection
	Amount      uint64
	Position    *notes.Position
	NotesIn     []*notes.Note
	RefundNote  *notes.Note
	CloseFields *CloseOrderFields
	Signature   *signing.Signature
}

// Hash follows the direction: increases bind the notes, decreases bind -amount and the
// destination.
func (m *MarginChange) Hash() fr.Element {
	if m.Direction == Increase {
		inputs := spendHashes(m.NotesIn, m.RefundNote)
		inputs = append(inputs, m.Position.Hash())
		return crypto.Hash(inputs...)
	}

	amount := crypto.Uint(m.Amount)
	var negated fr.Element
	negated.Neg(&amount)
	return crypto.Hash(negated, m.CloseFields.Hash(), m.Position.Hash())
}

// SignedAmount is the margin delta, negative for decreases.
func (m *MarginChange) SignedAmount() int64 {
	if m.Direction == Decrease {
		return -int64(m.Amount)
	}
	return int64(m.Amount)
}

type marginChangeJSON struct {
	MarginChange     int64              `json:"margin_change"`
	Position         *notes.Position    `json:"position"`
	NotesIn          []*notes.Note      `json:"notes_in"`
	RefundNote       *notes.Note        `json:"refund_note"`
	CloseOrderFields *closeFieldsJSON   `json:"close_order_fields"`
	Signature        *signing.Signature `json:"signature"`
}

// MarshalJSON implements the json.Marshaler interface.
func (m MarginChange) MarshalJSON() ([]byte, error) {
	raw := marginChangeJSON{
		MarginChange: m.SignedAmount(),
		Position:     m.Position,
		NotesIn:      m.NotesIn,
		RefundNote:   m.RefundNote,
		Signature:    m.Signature,
	}
	if m.CloseFields != nil {
		raw.CloseOrderFields = &closeFieldsJSON{
			DestReceivedAddress:  crypto.NewPoint(m.CloseFields.DestReceivedAddress),
			DestReceivedBlinding: crypto.ScalarString(m.CloseFields.DestReceivedBlinding),
		}
	}
	return json.Marshal(raw)
}
