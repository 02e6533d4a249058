package orders

import (
	"encoding/json"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
	"invisible/internal/notes"
)

// Restructure splits or merges a token's notes into new amounts. It is unsigned; the caller
// signs Hash with the returned spend key when submitting.
type Restructure struct {
	Token    uint32
	NotesIn  []*notes.Note
	NotesOut []*notes.Note
}

// Hash is H(input hashes..., output hashes...).
func (r *Restructure) Hash() fr.Element {
	inputs := make([]fr.Element, 0, len(r.NotesIn)+len(r.NotesOut))
	for _, n := range r.NotesIn {
		inputs = append(inputs, n.Hash())
	}
	for _, n := range r.NotesOut {
		inputs = append(inputs, n.Hash())
	}
	return crypto.Hash(inputs...)
}

// InputTotal sums the consumed amounts.
func (r *Restructure) InputTotal() uint64 {
	return total(r.NotesIn)
}

// OutputTotal sums the produced amounts, refund included.
func (r *Restructure) OutputTotal() uint64 {
	return total(r.NotesOut)
}

func total(ns []*notes.Note) uint64 {
	var sum uint64
	for _, n := range ns {
		sum += n.Amount
	}
	return sum
}

type restructureJSON struct {
	Token    uint32        `json:"token"`
	NotesIn  []*notes.Note `json:"notes_in"`
	NotesOut []*notes.Note `json:"notes_out"`
}

// MarshalJSON implements the json.Marshaler interface.
func (r Restructure) MarshalJSON() ([]byte, error) {
	return json.Marshal(restructureJSON{Token: r.Token, NotesIn: r.NotesIn, NotesOut: r.NotesOut})
}
