// ledger.go - In-memory inventory of a user's spendable notes and open positions.
//
// The Ledger tracks notes and positions per token, the private keys that spend them, the per-token
// address counters and the partial-fill-refund keys of submitted orders.
//
// NOTE: Ledger is not thread-safe by itself; the owning wallet session serialises access.

package notes

import (
	"errors"
	"fmt"
	"math/bits"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
	"invisible/internal/keys"
)

var (
	// ErrInsufficientFunds is returned when a token's notes cannot cover a spend.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrMissingKey is returned when a selected note has no known private key.
	ErrMissingKey = errors.New("missing private key for note")
)

// Selection is the result of SelectNotesAndRefund.
type Selection struct {
	Notes    []*Note
	PrivKeys []fr.Element
	Total    uint64
	Refund   uint64
}

// Ledger is the wallet's note and position inventory.
type Ledger struct {
	noteData         map[uint32][]*Note
	notePrivKeys     map[string]fr.Element
	positionData     map[uint32][]*Position
	positionPrivKeys map[string]fr.Element
	noteCounts       map[uint32]uint32
	positionCounts   map[uint32]uint32
	pfrKeys          map[uint64]fr.Element
	selector         Selector
}

// NewLedger creates an empty ledger using the LastInFirstOut policy.
func NewLedger() *Ledger {
	return &Ledger{
		noteData:         make(map[uint32][]*Note),
		notePrivKeys:     make(map[string]fr.Element),
		positionData:     make(map[uint32][]*Position),
		positionPrivKeys: make(map[string]fr.Element),
		noteCounts:       make(map[uint32]uint32),
		positionCounts:   make(map[uint32]uint32),
		pfrKeys:          make(map[uint64]fr.Element),
		selector:         LastInFirstOut{},
	}
}

// SetSelector replaces the note selection policy.
func (l *Ledger) SetSelector(s Selector) {
	l.selector = s
}

// AddNote appends a note and records its private key.
func (l *Ledger) AddNote(n *Note, privKey fr.Element) {
	l.noteData[n.Token] = append(l.noteData[n.Token], n)
	l.notePrivKeys[n.AddressKey()] = privKey
}

// SetNoteKey records the private key for an address that holds no note yet.
func (l *Ledger) SetNoteKey(address bls12377.G1Affine, privKey fr.Element) {
	l.notePrivKeys[crypto.AddressKey(address)] = privKey
}

// NoteKey returns the private key for address.
func (l *Ledger) NoteKey(address bls12377.G1Affine) (fr.Element, bool) {
	k, ok := l.notePrivKeys[crypto.AddressKey(address)]
	return k, ok
}

// HasNote reports whether a note with the given index and address is held.
func (l *Ledger) HasNote(token uint32, address bls12377.G1Affine, index uint64) bool {
	key := crypto.AddressKey(address)
	for _, n := range l.noteData[token] {
		if n.Index == index && n.AddressKey() == key {
			return true
		}
	}
	return false
}

// Notes returns a copy of the token's notes in insertion order.
func (l *Ledger) Notes(token uint32) []*Note {
	return append([]*Note(nil), l.noteData[token]...)
}

// Tokens lists every token with at least one note.
func (l *Ledger) Tokens() []uint32 {
	tokens := make([]uint32, 0, len(l.noteData))
	for t, ns := range l.noteData {
		if len(ns) > 0 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// AvailableAmount sums the token's note amounts.
func (l *Ledger) AvailableAmount(token uint32) uint64 {
	var sum uint64
	for _, n := range l.noteData[token] {
		sum = saturatingAdd(sum, n.Amount)
	}
	return sum
}

// SelectNotesAndRefund removes notes covering spendAmount and returns them with their keys and
// the refund. Selection and removal are one step: on error the ledger is unchanged.
func (l *Ledger) SelectNotesAndRefund(token uint32, spendAmount uint64) (*Selection, error) {
	current := l.noteData[token]
	picked, ok := l.selector.Select(current, spendAmount)
	if !ok {
		return nil, fmt.Errorf("%w: token %d has %d, need %d", ErrInsufficientFunds, token, l.AvailableAmount(token), spendAmount)
	}

	sel := &Selection{
		Notes:    make([]*Note, 0, len(picked)),
		PrivKeys: make([]fr.Element, 0, len(picked)),
	}
	remove := make(map[int]bool, len(picked))
	for _, i := range picked {
		n := current[i]
		k, ok := l.notePrivKeys[n.AddressKey()]
		if !ok {
			return nil, fmt.Errorf("%w: index %d", ErrMissingKey, n.Index)
		}
		total, carry := bits.Add64(sel.Total, n.Amount, 0)
		if carry != 0 {
			return nil, fmt.Errorf("note amounts overflow for token %d", token)
		}
		sel.Total = total
		sel.Notes = append(sel.Notes, n)
		sel.PrivKeys = append(sel.PrivKeys, k)
		remove[i] = true
	}
	sel.Refund = sel.Total - spendAmount

	kept := make([]*Note, 0, len(current)-len(picked))
	for i, n := range current {
		if !remove[i] {
			kept = append(kept, n)
		}
	}
	l.noteData[token] = kept
	inUse := make(map[string]bool, len(kept))
	for _, n := range kept {
		inUse[n.AddressKey()] = true
	}
	for _, n := range sel.Notes {
		if !inUse[n.AddressKey()] {
			delete(l.notePrivKeys, n.AddressKey())
		}
	}
	return sel, nil
}

// AddPosition records a position and its private key.
func (l *Ledger) AddPosition(p *Position, privKey fr.Element) {
	positions := l.positionData[p.SyntheticToken]
	for i, existing := range positions {
		if existing.AddressKey() == p.AddressKey() {
			positions[i] = p
			l.positionPrivKeys[p.AddressKey()] = privKey
			return
		}
	}
	l.positionData[p.SyntheticToken] = append(positions, p)
	l.positionPrivKeys[p.AddressKey()] = privKey
}

// RemovePosition drops the position at address, whatever its token, once the exchange no longer
// holds it. The address key is kept so late fills can still be matched.
func (l *Ledger) RemovePosition(address bls12377.G1Affine) bool {
	key := crypto.AddressKey(address)
	for token, positions := range l.positionData {
		for i, p := range positions {
			if p.AddressKey() == key {
				l.positionData[token] = append(positions[:i:i], positions[i+1:]...)
				return true
			}
		}
	}
	return false
}

// SetPositionKey records the private key for a position address before the position exists.
func (l *Ledger) SetPositionKey(address bls12377.G1Affine, privKey fr.Element) {
	l.positionPrivKeys[crypto.AddressKey(address)] = privKey
}

// PositionKey returns the private key recorded for a position address.
func (l *Ledger) PositionKey(address bls12377.G1Affine) (fr.Element, bool) {
	k, ok := l.positionPrivKeys[crypto.AddressKey(address)]
	return k, ok
}

// Position finds the token's position at address and its private key.
func (l *Ledger) Position(token uint32, address bls12377.G1Affine) (*Position, fr.Element, bool) {
	key := crypto.AddressKey(address)
	for _, p := range l.positionData[token] {
		if p.AddressKey() == key {
			k, ok := l.positionPrivKeys[key]
			return p, k, ok
		}
	}
	return nil, fr.Element{}, false
}

// Positions returns a copy of the token's positions.
func (l *Ledger) Positions(token uint32) []*Position {
	return append([]*Position(nil), l.positionData[token]...)
}

// NextNoteCount returns the token's current note counter and advances it.
func (l *Ledger) NextNoteCount(token uint32) uint32 {
	c := l.noteCounts[token]
	l.noteCounts[token] = keys.NextCount(c)
	return c
}

// NextPositionCount returns the token's current position counter and advances it.
func (l *Ledger) NextPositionCount(token uint32) uint32 {
	c := l.positionCounts[token]
	l.positionCounts[token] = keys.NextCount(c)
	return c
}

// Counts returns copies of the note and position counters.
func (l *Ledger) Counts() (map[uint32]uint32, map[uint32]uint32) {
	return copyCounts(l.noteCounts), copyCounts(l.positionCounts)
}

// SetCounts replaces both counters, as loaded at login.
func (l *Ledger) SetCounts(noteCounts, positionCounts map[uint32]uint32) {
	l.noteCounts = copyCounts(noteCounts)
	l.positionCounts = copyCounts(positionCounts)
}

func copyCounts(m map[uint32]uint32) map[uint32]uint32 {
	out := make(map[uint32]uint32, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SetPfrKey remembers the partial-fill-refund key of an order.
func (l *Ledger) SetPfrKey(orderID uint64, key fr.Element) {
	l.pfrKeys[orderID] = key
}

// PfrKey returns the partial-fill-refund key of an order.
func (l *Ledger) PfrKey(orderID uint64) (fr.Element, bool) {
	k, ok := l.pfrKeys[orderID]
	return k, ok
}

// RemovePfrKey forgets an order's partial-fill-refund key.
func (l *Ledger) RemovePfrKey(orderID uint64) {
	delete(l.pfrKeys, orderID)
}

// Reconcile drops every note locked by an open order, and every note sitting at the
// partial-fill-refund address of an open order, since the exchange has already consumed it.
func (l *Ledger) Reconcile(active []ActiveOrder) {
	locked := make(map[uint64]bool)
	var pfrAddresses []string
	for _, o := range active {
		if o.LocksNotes() {
			for _, idx := range o.NoteIndexes {
				locked[idx] = true
			}
		}
		if k, ok := l.pfrKeys[o.OrderID]; ok {
			pfrAddresses = append(pfrAddresses, crypto.AddressKey(crypto.PublicKey(k)))
		}
	}

	for token, ns := range l.noteData {
		kept := make([]*Note, 0, len(ns))
		for _, n := range ns {
			if !locked[n.Index] {
				kept = append(kept, n)
			}
		}
		for _, addr := range pfrAddresses {
			for i, n := range kept {
				if n.AddressKey() == addr {
					kept = append(kept[:i], kept[i+1:]...)
					break
				}
			}
		}
		l.noteData[token] = kept
	}
}
