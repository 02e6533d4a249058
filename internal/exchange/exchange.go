// Package exchange is the wallet's view of the exchange backend: order submission, the
// authoritative snapshot of open orders, and lookups of published notes and positions by
// address.
package exchange

import (
	"context"
	"errors"
	"fmt"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"

	"invisible/internal/notes"
	"invisible/internal/orders"
	"invisible/internal/signing"
)

var (
	// ErrRejected is returned when the exchange refuses an order.
	ErrRejected = errors.New("order rejected")

	// ErrUnknownOrderType is returned for values that are not submittable orders.
	ErrUnknownOrderType = errors.New("unknown order type")
)

// Order kinds as they appear on the wire.
const (
	KindLimitOrder   = "limit_order"
	KindPerpOrder    = "perp_order"
	KindDeposit      = "deposit"
	KindWithdrawal   = "withdrawal"
	KindMarginChange = "margin_change"
)

// KindOf names the order type of o.
func KindOf(o signing.Hashable) (string, error) {
	switch o.(type) {
	case *orders.LimitOrder:
		return KindLimitOrder, nil
	case *orders.PerpOrder:
		return KindPerpOrder, nil
	case *orders.Deposit:
		return KindDeposit, nil
	case *orders.Withdrawal:
		return KindWithdrawal, nil
	case *orders.MarginChange:
		return KindMarginChange, nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnknownOrderType, o)
}

// Receipt acknowledges an accepted order.
type Receipt struct {
	OrderID     uint64   `json:"order_id"`
	NoteIndexes []uint64 `json:"note_indexes,omitempty"`
}

// Snapshot is the exchange's view of a user's orders.
type Snapshot struct {
	Orders          []notes.ActiveOrder `json:"orders"`
	PerpOrders      []notes.ActiveOrder `json:"perp_orders"`
	BadOrderIDs     []uint64            `json:"bad_order_ids"`
	BadPerpOrderIDs []uint64            `json:"bad_perp_order_ids"`
}

// Scanner finds published state at an address.
type Scanner interface {
	NotesAt(ctx context.Context, address bls12377.G1Affine) ([]notes.HiddenNote, error)
	PositionsAt(ctx context.Context, address bls12377.G1Affine) ([]*notes.Position, error)
}

// Backend is the full exchange collaborator.
type Backend interface {
	Scanner
	Submit(ctx context.Context, order signing.Hashable) (*Receipt, error)
	ActiveOrders(ctx context.Context, orderIDs, perpOrderIDs []uint64) (*Snapshot, error)
	Ping(ctx context.Context) error
}
