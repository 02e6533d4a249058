package orders

import (
	"encoding/json"
	"errors"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
	"invisible/internal/notes"
	"invisible/internal/signing"
)

// PerpFields is the effect-specific part of a perpetual order. Exactly one of the concrete
// types *OpenOrderFields, *CloseOrderFields, ModifyFields or LiquidateFields is carried.
type PerpFields interface {
	EffectType() PositionEffectType
	isPerpFields()
}

// OpenOrderFields funds a new position.
type OpenOrderFields struct {
	InitialMargin            uint64
	CollateralToken          uint32
	NotesIn                  []*notes.Note
	RefundNote               *notes.Note
	PositionAddress          bls12377.G1Affine
	Blinding                 fr.Element
	AllowPartialLiquidations bool
}

func (*OpenOrderFields) EffectType() PositionEffectType { return Open }
func (*OpenOrderFields) isPerpFields()                  {}

// Hash commits to the funding notes, margin and the new position address.
func (f *OpenOrderFields) Hash() fr.Element {
	inputs := spendHashes(f.NotesIn, f.RefundNote)
	inputs = append(inputs,
		crypto.Uint(f.InitialMargin),
		crypto.Uint(uint64(f.CollateralToken)),
		crypto.X(f.PositionAddress),
		boolElement(f.AllowPartialLiquidations),
	)
	return crypto.Hash(inputs...)
}

// CloseOrderFields names where the released collateral goes.
type CloseOrderFields struct {
	DestReceivedAddress  bls12377.G1Affine
	DestReceivedBlinding fr.Element
}

func (*CloseOrderFields) EffectType() PositionEffectType { return Close }
func (*CloseOrderFields) isPerpFields()                  {}

// Hash is H(dest.x, blinding).
func (f *CloseOrderFields) Hash() fr.Element {
	return crypto.Hash(crypto.X(f.DestReceivedAddress), f.DestReceivedBlinding)
}

// ModifyFields marks an order that changes an existing position in place.
type ModifyFields struct{}

func (ModifyFields) EffectType() PositionEffectType { return Modify }
func (ModifyFields) isPerpFields()                  {}

// LiquidateFields marks an order built against someone's liquidatable position.
type LiquidateFields struct{}

func (LiquidateFields) EffectType() PositionEffectType { return Liquidate }
func (LiquidateFields) isPerpFields()                  {}

// ErrMissingPosition is returned for a Close, Modify or Liquidate order that names no position.
var ErrMissingPosition = errors.New("perpetual order needs a position")

// PerpOrder is a perpetual futures order. Position is nil for Open orders.
type PerpOrder struct {
	ExpirationTimestamp uint64
	Position            *notes.Position
	OrderSide           notes.OrderSide
	SyntheticToken      uint32
	SyntheticAmount     uint64
	CollateralAmount    uint64
	Price               uint64
	FeeLimit            uint64
	Fields              PerpFields
	Signature           *signing.Signature
}

// EffectType reports which variant Fields carries.
func (o *PerpOrder) EffectType() PositionEffectType {
	return o.Fields.EffectType()
}

// PositionAddress is the address of the position the order acts on.
func (o *PerpOrder) PositionAddress() (bls12377.G1Affine, error) {
	if open, ok := o.Fields.(*OpenOrderFields); ok {
		return open.PositionAddress, nil
	}
	if o.Position == nil {
		return bls12377.G1Affine{}, ErrMissingPosition
	}
	return o.Position.Address, nil
}

// Validate reports whether the order is complete enough to hash.
func (o *PerpOrder) Validate() error {
	if o.Fields == nil {
		return errors.New("perpetual order has no effect fields")
	}
	_, err := o.PositionAddress()
	return err
}

// Hash covers the common order fields; Open and Close orders then fold in their field hash.
// It requires Validate to pass: the position address of an invalid order hashes as zero.
func (o *PerpOrder) Hash() fr.Element {
	addr, _ := o.PositionAddress()
	orderHash := crypto.Hash(
		crypto.Uint(o.ExpirationTimestamp),
		crypto.X(addr),
		crypto.Uint(uint64(o.EffectType())),
		o.OrderSide.Element(),
		crypto.Uint(uint64(o.SyntheticToken)),
		crypto.Uint(o.SyntheticAmount),
		crypto.Uint(o.CollateralAmount),
		crypto.Uint(o.FeeLimit),
	)

	switch f := o.Fields.(type) {
	case *OpenOrderFields:
		return crypto.Hash(orderHash, f.Hash())
	case *CloseOrderFields:
		return crypto.Hash(orderHash, f.Hash())
	}
	return orderHash
}

type openFieldsJSON struct {
	InitialMargin            uint64        `json:"initial_margin"`
	CollateralToken          uint32        `json:"collateral_token"`
	NotesIn                  []*notes.Note `json:"notes_in"`
	RefundNote               *notes.Note   `json:"refund_note"`
	PositionAddress          string        `json:"position_address"`
	Blinding                 string        `json:"blinding"`
	AllowPartialLiquidations bool          `json:"allow_partial_liquidations"`
}

type closeFieldsJSON struct {
	DestReceivedAddress  crypto.Point `json:"dest_received_address"`
	DestReceivedBlinding string       `json:"dest_received_blinding"`
}

type perpOrderJSON struct {
	ExpirationTimestamp uint64             `json:"expiration_timestamp"`
	Position            *notes.Position    `json:"position"`
	PositionEffectType  PositionEffectType `json:"position_effect_type"`
	OrderSide           notes.OrderSide    `json:"order_side"`
	SyntheticToken      uint32             `json:"synthetic_token"`
	SyntheticAmount     uint64             `json:"synthetic_amount"`
	CollateralAmount    uint64             `json:"collateral_amount"`
	Price               uint64             `json:"price"`
	FeeLimit            uint64             `json:"fee_limit"`
	OpenOrderFields     *openFieldsJSON    `json:"open_order_fields"`
	CloseOrderFields    *closeFieldsJSON   `json:"close_order_fields"`
	Signature           *signing.Signature `json:"signature"`
}

// MarshalJSON flattens the field variant into open_order_fields / close_order_fields.
func (o PerpOrder) MarshalJSON() ([]byte, error) {
	raw := perpOrderJSON{
		ExpirationTimestamp: o.ExpirationTimestamp,
		Position:            o.Position,
		PositionEffectType:  o.EffectType(),
		OrderSide:           o.OrderSide,
		SyntheticToken:      o.SyntheticToken,
		SyntheticAmount:     o.SyntheticAmount,
		CollateralAmount:    o.CollateralAmount,
		Price:               o.Price,
		FeeLimit:            o.FeeLimit,
		Signature:           o.Signature,
	}
	switch f := o.Fields.(type) {
	case *OpenOrderFields:
		raw.OpenOrderFields = &openFieldsJSON{
			InitialMargin:            f.InitialMargin,
			CollateralToken:          f.CollateralToken,
			NotesIn:                  f.NotesIn,
			RefundNote:               f.RefundNote,
			PositionAddress:          crypto.AddressKey(f.PositionAddress),
			Blinding:                 crypto.ScalarString(f.Blinding),
			AllowPartialLiquidations: f.AllowPartialLiquidations,
		}
	case *CloseOrderFields:
		raw.CloseOrderFields = &closeFieldsJSON{
			DestReceivedAddress:  crypto.NewPoint(f.DestReceivedAddress),
			DestReceivedBlinding: crypto.ScalarString(f.DestReceivedBlinding),
		}
	}
	return json.Marshal(raw)
}
