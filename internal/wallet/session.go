// Package wallet is the per-user engine: it owns the note ledger and counters, builds and signs
// every order type, and keeps the ledger in step with the exchange.
//
// A Session is a single writer. Every exported method takes the session lock, so two order builds
// for the same user never select the same note.
package wallet

import (
	"errors"
	"fmt"
	"sync"
	"time"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/blinding"
	"invisible/internal/crypto"
	"invisible/internal/exchange"
	"invisible/internal/keys"
	"invisible/internal/logging"
	"invisible/internal/metrics"
	"invisible/internal/notes"
)

var (
	// ErrInvalidArgument is returned for malformed builder input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnknownStarkKey is returned when a deposit names a stark key this wallet does not own.
	ErrUnknownStarkKey = errors.New("unknown stark key")

	// ErrPositionNotFound is returned when no position is held at the given address.
	ErrPositionNotFound = errors.New("position not found")

	// ErrUnknownAddress is returned when a received note or position is at an address the
	// wallet never derived.
	ErrUnknownAddress = errors.New("no private key for address")

	// ErrNoScanner is returned by operations that need the exchange when none is configured.
	ErrNoScanner = errors.New("no exchange scanner configured")

	// ErrInsufficientFunds and ErrInvalidKeyLength are the ledger's and key derivation's errors.
	ErrInsufficientFunds = notes.ErrInsufficientFunds
	ErrInvalidKeyLength  = keys.ErrInvalidKeyLength
)

// Persister receives the writes produced while building orders. Calls must not block; failures
// are the persister's to retry and report.
type Persister interface {
	StoreUserData(userID string, noteCounts, positionCounts map[uint32]uint32)
	StorePrivKey(userID string, key fr.Element, isPosition bool)
	RemovePrivKey(userID string, key fr.Element, isPosition bool)
	StoreOrderID(userID string, orderID uint64, pfrKey *fr.Element, isPerp bool)
	RemoveOrderID(userID string, orderID uint64, isPerp bool)
}

type nopPersister struct{}

func (nopPersister) StoreUserData(string, map[uint32]uint32, map[uint32]uint32) {}
func (nopPersister) StorePrivKey(string, fr.Element, bool)                      {}
func (nopPersister) RemovePrivKey(string, fr.Element, bool)                     {}
func (nopPersister) StoreOrderID(string, uint64, *fr.Element, bool)             {}
func (nopPersister) RemoveOrderID(string, uint64, bool)                         {}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Session) { s.metrics = m }
}

// WithScanner sets the exchange used by login, reconciliation and recovery.
func WithScanner(sc exchange.Scanner) Option {
	return func(s *Session) { s.scanner = sc }
}

// WithSelector replaces the note selection policy.
func WithSelector(sel notes.Selector) Option {
	return func(s *Session) { s.selector = sel }
}

// WithScanConcurrency bounds parallel exchange lookups. Values below one are ignored.
func WithScanConcurrency(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.scanLimit = n
		}
	}
}

// Session is one user's wallet state.
type Session struct {
	mu sync.Mutex

	id       *keys.Identity
	ledger   *notes.Ledger
	blinder  *blinding.Engine
	selector notes.Selector

	persist   Persister
	scanner   exchange.Scanner
	scanLimit int
	log       *logging.Logger
	metrics   *metrics.Collector

	orderIDs     map[uint64]bool
	perpOrderIDs map[uint64]bool
}

// NewSession creates an empty session for id. A nil persister discards writes.
func NewSession(id *keys.Identity, persist Persister, opts ...Option) *Session {
	if persist == nil {
		persist = nopPersister{}
	}
	s := &Session{
		id:           id,
		blinder:      blinding.NewEngine(id.PrivateSeed()),
		selector:     notes.LastInFirstOut{},
		persist:      persist,
		scanLimit:    8,
		log:          logging.Nop(),
		metrics:      metrics.NewCollector(),
		orderIDs:     make(map[uint64]bool),
		perpOrderIDs: make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = s.newLedger()
	return s
}

func (s *Session) newLedger() *notes.Ledger {
	l := notes.NewLedger()
	l.SetSelector(s.selector)
	return l
}

// UserID is the identity's public user id.
func (s *Session) UserID() string {
	return s.id.UserID()
}

// Identity returns the session's keys.
func (s *Session) Identity() *keys.Identity {
	return s.id
}

// AvailableAmount sums the token's spendable notes.
func (s *Session) AvailableAmount(token uint32) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.AvailableAmount(token)
}

// Notes lists the token's spendable notes.
func (s *Session) Notes(token uint32) []*notes.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Notes(token)
}

// Tokens lists the tokens with spendable notes.
func (s *Session) Tokens() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Tokens()
}

// Positions lists the open positions in a synthetic token.
func (s *Session) Positions(token uint32) []*notes.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Positions(token)
}

// Counts returns the note and position counters.
func (s *Session) Counts() (map[uint32]uint32, map[uint32]uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Counts()
}

// PfrKey returns the partial-fill-refund key recorded for an order.
func (s *Session) PfrKey(orderID uint64) (fr.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.PfrKey(orderID)
}

// OrderIDs returns the spot and perpetual order ids awaiting reconciliation.
func (s *Session) OrderIDs() (spot, perp []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.orderIDs {
		spot = append(spot, id)
	}
	for id := range s.perpOrderIDs {
		perp = append(perp, id)
	}
	return spot, perp
}

// RecordOrder remembers a submitted order so reconciliation can track it.
func (s *Session) RecordOrder(orderID uint64, pfrKey *fr.Element, isPerp bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pfrKey != nil {
		s.ledger.SetPfrKey(orderID, *pfrKey)
	}
	if isPerp {
		s.perpOrderIDs[orderID] = true
	} else {
		s.orderIDs[orderID] = true
	}
	s.persist.StoreOrderID(s.id.UserID(), orderID, pfrKey, isPerp)
}

// ReceiveNote adds a note the exchange has published at an address this wallet derived.
func (s *Session) ReceiveNote(n *notes.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.ledger.NoteKey(n.Address)
	if !ok {
		return fmt.Errorf("%w: note %d", ErrUnknownAddress, n.Index)
	}
	if s.ledger.HasNote(n.Token, n.Address, n.Index) {
		return nil
	}
	s.ledger.AddNote(n, key)
	return nil
}

// ReceivePosition adds or updates a position at an address this wallet derived.
func (s *Session) ReceivePosition(p *notes.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, key, ok := s.ledger.Position(p.SyntheticToken, p.Address)
	if !ok {
		var found bool
		key, found = s.positionKey(p.Address)
		if !found {
			return fmt.Errorf("%w: position %d", ErrUnknownAddress, p.Index)
		}
	}
	s.ledger.AddPosition(p, key)
	return nil
}

// positionKey finds a position key recorded before the position existed.
func (s *Session) positionKey(addr bls12377.G1Affine) (fr.Element, bool) {
	return s.ledger.PositionKey(addr)
}

// destReceived derives the next one-time address under token.
func (s *Session) destReceived(token uint32) (fr.Element, bls12377.G1Affine, fr.Element) {
	k := s.id.OneTimeAddressPrivKey(token, s.ledger.NextNoteCount(token))
	pub := crypto.PublicKey(k)
	return k, pub, s.blinder.GenerateBlinding(pub)
}

// destSpent is the spend-change address: the sum of the consumed keys.
func (s *Session) destSpent(privKeys []fr.Element) (fr.Element, bls12377.G1Affine, fr.Element) {
	k, pub := keys.DestinationKey(privKeys)
	return k, pub, s.blinder.GenerateBlinding(pub)
}

func (s *Session) persistCounts() {
	nc, pc := s.ledger.Counts()
	s.persist.StoreUserData(s.id.UserID(), nc, pc)
}

func (s *Session) built(kind string, start time.Time, notesSpent int) {
	s.metrics.RecordOrder(kind, notesSpent, time.Since(start))
	s.log.Debug().Str("kind", kind).Int("notes_in", notesSpent).Dur("took", time.Since(start)).Msg("order built")
}

func (s *Session) failed(kind string, err error) error {
	s.metrics.RecordOrderError(kind)
	s.log.Warn().Err(err).Str("kind", kind).Msg("order build failed")
	return err
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
