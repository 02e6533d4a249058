package notes

import (
	"encoding/json"
	"fmt"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
)

// OrderSide is the direction of an order or position.
type OrderSide string

const (
	Long  OrderSide = "Long"
	Short OrderSide = "Short"
)

// ParseOrderSide validates a side name.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(s) {
	case Long, Short:
		return OrderSide(s), nil
	}
	return "", fmt.Errorf("invalid order side %q", s)
}

// Opposite flips the side.
func (s OrderSide) Opposite() OrderSide {
	if s == Long {
		return Short
	}
	return Long
}

// Element encodes the side for hashing: Long = 1, Short = 0.
func (s OrderSide) Element() fr.Element {
	if s == Long {
		return crypto.Uint(1)
	}
	return crypto.Uint(0)
}

// Position is a perpetual position held at a one-time position address.
type Position struct {
	Index                    uint64
	Address                  bls12377.G1Affine
	SyntheticToken           uint32
	CollateralToken          uint32
	OrderSide                OrderSide
	PositionSize             uint64
	Margin                   uint64
	EntryPrice               uint64
	LiquidationPrice         uint64
	BankruptcyPrice          uint64
	LastFundingIdx           uint32
	AllowPartialLiquidations bool
}

// AddressKey is the key under which the position's private key is stored.
func (p *Position) AddressKey() string {
	return crypto.AddressKey(p.Address)
}

// Hash commits to every field of the position.
func (p *Position) Hash() fr.Element {
	partial := crypto.Uint(0)
	if p.AllowPartialLiquidations {
		partial = crypto.Uint(1)
	}
	return crypto.Hash(
		crypto.X(p.Address),
		crypto.Uint(uint64(p.SyntheticToken)),
		p.OrderSide.Element(),
		crypto.Uint(p.PositionSize),
		crypto.Uint(p.Margin),
		crypto.Uint(p.EntryPrice),
		crypto.Uint(p.LiquidationPrice),
		crypto.Uint(p.BankruptcyPrice),
		crypto.Uint(uint64(p.LastFundingIdx)),
		partial,
	)
}

type positionJSON struct {
	Index                    uint64       `json:"index"`
	PositionAddress          crypto.Point `json:"position_address"`
	SyntheticToken           uint32       `json:"synthetic_token"`
	CollateralToken          uint32       `json:"collateral_token"`
	OrderSide                OrderSide    `json:"order_side"`
	PositionSize             uint64       `json:"position_size"`
	Margin                   uint64       `json:"margin"`
	EntryPrice               uint64       `json:"entry_price"`
	LiquidationPrice         uint64       `json:"liquidation_price"`
	BankruptcyPrice          uint64       `json:"bankruptcy_price"`
	LastFundingIdx           uint32       `json:"last_funding_idx"`
	AllowPartialLiquidations bool         `json:"allow_partial_liquidations"`
}

// MarshalJSON implements the json.Marshaler interface.
func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(positionJSON{
		Index:                    p.Index,
		PositionAddress:          crypto.NewPoint(p.Address),
		SyntheticToken:           p.SyntheticToken,
		CollateralToken:          p.CollateralToken,
		OrderSide:                p.OrderSide,
		PositionSize:             p.PositionSize,
		Margin:                   p.Margin,
		EntryPrice:               p.EntryPrice,
		LiquidationPrice:         p.LiquidationPrice,
		BankruptcyPrice:          p.BankruptcyPrice,
		LastFundingIdx:           p.LastFundingIdx,
		AllowPartialLiquidations: p.AllowPartialLiquidations,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (p *Position) UnmarshalJSON(data []byte) error {
	var raw positionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Position{
		Index:                    raw.Index,
		Address:                  raw.PositionAddress.G1Affine,
		SyntheticToken:           raw.SyntheticToken,
		CollateralToken:          raw.CollateralToken,
		OrderSide:                raw.OrderSide,
		PositionSize:             raw.PositionSize,
		Margin:                   raw.Margin,
		EntryPrice:               raw.EntryPrice,
		LiquidationPrice:         raw.LiquidationPrice,
		BankruptcyPrice:          raw.BankruptcyPrice,
		LastFundingIdx:           raw.LastFundingIdx,
		AllowPartialLiquidations: raw.AllowPartialLiquidations,
	}
	return nil
}
