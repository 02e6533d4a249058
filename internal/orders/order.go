// Package orders defines the signed wire objects the wallet hands to the exchange: spot limit
// orders, perpetual orders, deposits, withdrawals, margin changes and note restructurings.
//
// Every order exposes Hash, the field element its signature covers. The hashing layout matches
// what the exchange recomputes before verifying a signature.
package orders

import (
	"encoding/json"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
	"invisible/internal/notes"
)

// PositionEffectType says what a perpetual order does to its position.
type PositionEffectType uint8

const (
	Open PositionEffectType = iota
	Modify
	Close
	Liquidate
)

var effectNames = map[PositionEffectType]string{
	Open:      "Open",
	Modify:    "Modify",
	Close:     "Close",
	Liquidate: "Liquidate",
}

func (t PositionEffectType) String() string {
	if s, ok := effectNames[t]; ok {
		return s
	}
	return fmt.Sprintf("PositionEffectType(%d)", uint8(t))
}

// ParsePositionEffectType resolves a name produced by String.
func ParsePositionEffectType(s string) (PositionEffectType, error) {
	for t, name := range effectNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid position effect type %q", s)
}

// MarshalJSON implements the json.Marshaler interface.
func (t PositionEffectType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (t *PositionEffectType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePositionEffectType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// spendHashes lists the hashes of the consumed notes followed by the refund note hash, or zero
// when there is no refund.
func spendHashes(notesIn []*notes.Note, refund *notes.Note) []fr.Element {
	out := make([]fr.Element, 0, len(notesIn)+1)
	for _, n := range notesIn {
		out = append(out, n.Hash())
	}
	if refund != nil {
		out = append(out, refund.Hash())
	} else {
		out = append(out, fr.Element{})
	}
	return out
}

func boolElement(b bool) fr.Element {
	if b {
		return crypto.Uint(1)
	}
	return crypto.Uint(0)
}
