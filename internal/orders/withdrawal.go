package orders

import (
	"encoding/json"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
	"invisible/internal/notes"
	"invisible/internal/signing"
)

// Withdrawal moves Amount of Token out to the on-chain Recipient on ChainID.
type Withdrawal struct {
	Token      uint32
	Amount     uint64
	Recipient  *big.Int
	ChainID    uint32
	MaxGasFee  uint64
	NotesIn    []*notes.Note
	RefundNote *notes.Note
	Signature  *signing.Signature
}

// Hash is H(note hashes..., refund hash, recipient, chain id, max gas fee).
func (w *Withdrawal) Hash() fr.Element {
	inputs := spendHashes(w.NotesIn, w.RefundNote)
	inputs = append(inputs,
		crypto.Big(w.Recipient),
		crypto.Uint(uint64(w.ChainID)),
		crypto.Uint(w.MaxGasFee),
	)
	return crypto.Hash(inputs...)
}

type withdrawalJSON struct {
	Token      uint32             `json:"withdrawal_token"`
	Amount     uint64             `json:"withdrawal_amount"`
	Recipient  string             `json:"recipient"`
	ChainID    uint32             `json:"chain_id"`
	MaxGasFee  uint64             `json:"max_gas_fee"`
	NotesIn    []*notes.Note      `json:"notes_in"`
	RefundNote *notes.Note        `json:"refund_note"`
	Signature  *signing.Signature `json:"signature"`
}

// MarshalJSON implements the json.Marshaler interface.
func (w Withdrawal) MarshalJSON() ([]byte, error) {
	return json.Marshal(withdrawalJSON{
		Token:      w.Token,
		Amount:     w.Amount,
		Recipient:  w.Recipient.String(),
		ChainID:    w.ChainID,
		MaxGasFee:  w.MaxGasFee,
		NotesIn:    w.NotesIn,
		RefundNote: w.RefundNote,
		Signature:  w.Signature,
	})
}
