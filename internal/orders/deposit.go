package orders

import (
	"encoding/json"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
	"invisible/internal/notes"
	"invisible/internal/signing"
)

// Deposit claims an on-chain deposit into freshly addressed notes.
type Deposit struct {
	DepositID uint64
	Token     uint32
	Amount    uint64
	StarkKey  *big.Int
	Notes     []*notes.Note
	Signature *signing.Signature
}

// Hash is H(note hashes..., deposit id).
func (d *Deposit) Hash() fr.Element {
	inputs := make([]fr.Element, 0, len(d.Notes)+1)
	for _, n := range d.Notes {
		inputs = append(inputs, n.Hash())
	}
	inputs = append(inputs, crypto.Uint(d.DepositID))
	return crypto.Hash(inputs...)
}

type depositJSON struct {
	DepositID uint64             `json:"deposit_id"`
	Token     uint32             `json:"deposit_token"`
	Amount    uint64             `json:"deposit_amount"`
	StarkKey  string             `json:"stark_key"`
	Notes     []*notes.Note      `json:"notes"`
	Signature *signing.Signature `json:"signature"`
}

// MarshalJSON implements the json.Marshaler interface.
func (d Deposit) MarshalJSON() ([]byte, error) {
	return json.Marshal(depositJSON{
		DepositID: d.DepositID,
		Token:     d.Token,
		Amount:    d.Amount,
		StarkKey:  d.StarkKey.String(),
		Notes:     d.Notes,
		Signature: d.Signature,
	})
}
