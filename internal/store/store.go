// Package store is the wallet's persistence collaborator: per-user counters, the private keys
// of live notes and positions, and the ids (with partial-fill-refund keys) of submitted orders.
//
// Only login reads synchronously. Everything written while building orders goes through the
// Dispatcher and never blocks the caller.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
)

// ErrNotFound is returned by FetchUserData for users with no stored record.
var ErrNotFound = errors.New("user data not found")

// Provider is a persistence backend.
type Provider interface {
	FetchUserData(ctx context.Context, userID string) (*UserData, error)
	StoreUserData(ctx context.Context, userID string, noteCounts, positionCounts map[uint32]uint32) error
	StorePrivKey(ctx context.Context, userID string, key fr.Element, isPosition bool) error
	RemovePrivKey(ctx context.Context, userID string, key fr.Element, isPosition bool) error
	StoreOrderID(ctx context.Context, userID string, orderID uint64, pfrKey *fr.Element, isPerp bool) error
	RemoveOrderID(ctx context.Context, userID string, orderID uint64, isPerp bool) error
	Ping(ctx context.Context) error
	Close() error
}

// UserData is everything stored for one user. Keys are decimal scalar strings; order maps carry
// the order's pfr key or "" when the order spent no notes.
type UserData struct {
	NoteCounts       map[uint32]uint32 `json:"note_counts"`
	PositionCounts   map[uint32]uint32 `json:"position_counts"`
	NotePrivKeys     []string          `json:"note_priv_keys"`
	PositionPrivKeys []string          `json:"position_priv_keys"`
	OrderIDs         map[uint64]string `json:"order_ids"`
	PerpOrderIDs     map[uint64]string `json:"perp_order_ids"`
}

// NewUserData returns an empty record.
func NewUserData() *UserData {
	return &UserData{
		NoteCounts:     make(map[uint32]uint32),
		PositionCounts: make(map[uint32]uint32),
		OrderIDs:       make(map[uint64]string),
		PerpOrderIDs:   make(map[uint64]string),
	}
}

// normalize replaces nil maps left by decoding.
func (d *UserData) normalize() {
	if d.NoteCounts == nil {
		d.NoteCounts = make(map[uint32]uint32)
	}
	if d.PositionCounts == nil {
		d.PositionCounts = make(map[uint32]uint32)
	}
	if d.OrderIDs == nil {
		d.OrderIDs = make(map[uint64]string)
	}
	if d.PerpOrderIDs == nil {
		d.PerpOrderIDs = make(map[uint64]string)
	}
}

// PrivKeys parses the stored note or position keys.
func (d *UserData) PrivKeys(isPosition bool) ([]fr.Element, error) {
	raw := d.NotePrivKeys
	if isPosition {
		raw = d.PositionPrivKeys
	}
	out := make([]fr.Element, 0, len(raw))
	for _, s := range raw {
		k, err := crypto.ParseScalar(s)
		if err != nil {
			return nil, fmt.Errorf("stored key %q: %w", s, err)
		}
		out = append(out, k)
	}
	return out, nil
}

// PfrKeys parses the pfr keys of spot and perpetual orders.
func (d *UserData) PfrKeys() (map[uint64]fr.Element, error) {
	out := make(map[uint64]fr.Element)
	for _, m := range []map[uint64]string{d.OrderIDs, d.PerpOrderIDs} {
		for id, s := range m {
			if s == "" {
				continue
			}
			k, err := crypto.ParseScalar(s)
			if err != nil {
				return nil, fmt.Errorf("pfr key of order %d: %w", id, err)
			}
			out[id] = k
		}
	}
	return out, nil
}

func (d *UserData) setCounts(noteCounts, positionCounts map[uint32]uint32) {
	d.NoteCounts = make(map[uint32]uint32, len(noteCounts))
	for k, v := range noteCounts {
		d.NoteCounts[k] = v
	}
	d.PositionCounts = make(map[uint32]uint32, len(positionCounts))
	for k, v := range positionCounts {
		d.PositionCounts[k] = v
	}
}

func (d *UserData) addKey(key fr.Element, isPosition bool) {
	s := crypto.ScalarString(key)
	target := &d.NotePrivKeys
	if isPosition {
		target = &d.PositionPrivKeys
	}
	for _, existing := range *target {
		if existing == s {
			return
		}
	}
	*target = append(*target, s)
	sort.Strings(*target)
}

func (d *UserData) removeKey(key fr.Element, isPosition bool) {
	s := crypto.ScalarString(key)
	target := &d.NotePrivKeys
	if isPosition {
		target = &d.PositionPrivKeys
	}
	kept := (*target)[:0]
	for _, existing := range *target {
		if existing != s {
			kept = append(kept, existing)
		}
	}
	*target = kept
}

func (d *UserData) orders(isPerp bool) map[uint64]string {
	if isPerp {
		return d.PerpOrderIDs
	}
	return d.OrderIDs
}

func pfrString(pfrKey *fr.Element) string {
	if pfrKey == nil {
		return ""
	}
	return crypto.ScalarString(*pfrKey)
}
