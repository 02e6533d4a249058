package orders

import (
	"encoding/json"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
	"invisible/internal/notes"
	"invisible/internal/signing"
)

// LimitOrder is a spot order swapping AmountSpent of TokenSpent for at least AmountReceived of
// TokenReceived.
type LimitOrder struct {
	ExpirationTimestamp  uint64
	TokenSpent           uint32
	TokenReceived        uint32
	AmountSpent          uint64
	AmountReceived       uint64
	Price                uint64
	FeeLimit             uint64
	DestSpentAddress     bls12377.G1Affine
	DestReceivedAddress  bls12377.G1Affine
	DestSpentBlinding    fr.Element
	DestReceivedBlinding fr.Element
	NotesIn              []*notes.Note
	RefundNote           *notes.Note
	Signature            *signing.Signature
}

// Hash binds the trade terms and destinations, then the spent notes and refund.
func (o *LimitOrder) Hash() fr.Element {
	orderHash := crypto.Hash(
		crypto.Uint(o.ExpirationTimestamp),
		crypto.Uint(uint64(o.TokenSpent)),
		crypto.Uint(uint64(o.TokenReceived)),
		crypto.Uint(o.AmountSpent),
		crypto.Uint(o.AmountReceived),
		crypto.Uint(o.FeeLimit),
		crypto.X(o.DestSpentAddress),
		crypto.X(o.DestReceivedAddress),
		o.DestSpentBlinding,
		o.DestReceivedBlinding,
	)
	return crypto.Hash(orderHash, crypto.Hash(spendHashes(o.NotesIn, o.RefundNote)...))
}

type limitOrderJSON struct {
	ExpirationTimestamp  uint64             `json:"expiration_timestamp"`
	TokenSpent           uint32             `json:"token_spent"`
	TokenReceived        uint32             `json:"token_received"`
	AmountSpent          uint64             `json:"amount_spent"`
	AmountReceived       uint64             `json:"amount_received"`
	Price                uint64             `json:"price"`
	FeeLimit             uint64             `json:"fee_limit"`
	DestSpentAddress     crypto.Point       `json:"dest_spent_address"`
	DestReceivedAddress  crypto.Point       `json:"dest_received_address"`
	DestSpentBlinding    string             `json:"blinding_seed_spent"`
	DestReceivedBlinding string             `json:"blinding_seed_received"`
	NotesIn              []*notes.Note      `json:"notes_in"`
	RefundNote           *notes.Note        `json:"refund_note"`
	Signature            *signing.Signature `json:"signature"`
}

// MarshalJSON implements the json.Marshaler interface.
func (o LimitOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(limitOrderJSON{
		ExpirationTimestamp:  o.ExpirationTimestamp,
		TokenSpent:           o.TokenSpent,
		TokenReceived:        o.TokenReceived,
		AmountSpent:          o.AmountSpent,
		AmountReceived:       o.AmountReceived,
		Price:                o.Price,
		FeeLimit:             o.FeeLimit,
		DestSpentAddress:     crypto.NewPoint(o.DestSpentAddress),
		DestReceivedAddress:  crypto.NewPoint(o.DestReceivedAddress),
		DestSpentBlinding:    crypto.ScalarString(o.DestSpentBlinding),
		DestReceivedBlinding: crypto.ScalarString(o.DestReceivedBlinding),
		NotesIn:              o.NotesIn,
		RefundNote:           o.RefundNote,
		Signature:            o.Signature,
	})
}
