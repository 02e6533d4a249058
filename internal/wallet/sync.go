package wallet

import (
	"context"
	"errors"
	"fmt"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"golang.org/x/sync/errgroup"

	"invisible/internal/blinding"
	"invisible/internal/crypto"
	"invisible/internal/exchange"
	"invisible/internal/keys"
	"invisible/internal/metrics"
	"invisible/internal/notes"
	"invisible/internal/store"
)

// holding is what the exchange holds at one of the wallet's addresses.
type holding struct {
	key              fr.Element
	notes            []*notes.Note
	positions        []*notes.Position
	positionsScanned bool
}

// scanNotes reveals every note at key's address. Notes filed under another address, and notes
// whose commitment does not open under the wallet's seed, are skipped.
func (s *Session) scanNotes(ctx context.Context, key fr.Element) ([]*notes.Note, error) {
	addr := crypto.PublicKey(key)
	hidden, err := s.scanner.NotesAt(ctx, addr)
	if err != nil {
		return nil, err
	}
	out := make([]*notes.Note, 0, len(hidden))
	for _, h := range hidden {
		if !h.Address.Equal(&addr) {
			s.log.Warn().Uint64("index", h.Index).Msg("exchange returned a note at another address, skipping")
			continue
		}
		amount, blind, err := s.blinder.RevealHiddenValues(h.Address, h.HiddenAmount, h.Commitment)
		if errors.Is(err, blinding.ErrCommitmentMismatch) {
			s.log.Warn().Uint64("index", h.Index).Msg("note at own address does not open, skipping")
			continue
		} else if err != nil {
			return nil, err
		}
		out = append(out, notes.NewNote(h.Address, h.Token, amount, blind, h.Index))
	}
	return out, nil
}

// scan looks up notes and, when withPositions is set, positions at each key's address.
func (s *Session) scan(ctx context.Context, ks []fr.Element, withNotes, withPositions bool) ([]holding, error) {
	if len(ks) == 0 {
		return nil, nil
	}
	if s.scanner == nil {
		return nil, ErrNoScanner
	}
	out := make([]holding, len(ks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.scanLimit)
	for i, k := range ks {
		i, k := i, k
		g.Go(func() error {
			out[i].key = k
			if withNotes {
				ns, err := s.scanNotes(ctx, k)
				if err != nil {
					return fmt.Errorf("scan notes: %w", err)
				}
				out[i].notes = ns
			}
			if withPositions {
				ps, err := s.scanner.PositionsAt(ctx, crypto.PublicKey(k))
				if err != nil {
					return fmt.Errorf("scan positions: %w", err)
				}
				out[i].positions = ps
				out[i].positionsScanned = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Login loads the user's record from p, re-derives the public keys of the stored private keys and
// rebuilds the ledger from what the exchange holds at those addresses. It replaces any state the
// session already had and must complete before orders are built.
func (s *Session) Login(ctx context.Context, p store.Provider) error {
	userID := s.id.UserID()
	data, err := p.FetchUserData(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Info().Str("user", userID).Msg("no stored record, starting fresh")
		data = store.NewUserData()
	} else if err != nil {
		return fmt.Errorf("fetch user data: %w", err)
	}

	noteKeys, err := data.PrivKeys(false)
	if err != nil {
		return err
	}
	positionKeys, err := data.PrivKeys(true)
	if err != nil {
		return err
	}
	pfrKeys, err := data.PfrKeys()
	if err != nil {
		return err
	}

	var noteHoldings, positionHoldings []holding
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		noteHoldings, err = s.scan(gctx, noteKeys, true, false)
		return err
	})
	g.Go(func() error {
		var err error
		positionHoldings, err = s.scan(gctx, positionKeys, false, true)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Keys of pending orders' destinations hold nothing yet; they are only dropped from storage
	// once no order is outstanding.
	pending := len(data.OrderIDs)+len(data.PerpOrderIDs) > 0

	s.ledger = s.newLedger()
	s.ledger.SetCounts(data.NoteCounts, data.PositionCounts)
	var loaded, removed int
	for _, h := range noteHoldings {
		if len(h.notes) == 0 {
			if pending {
				s.ledger.SetNoteKey(crypto.PublicKey(h.key), h.key)
			} else {
				s.persist.RemovePrivKey(userID, h.key, false)
				removed++
			}
			continue
		}
		for _, n := range h.notes {
			s.ledger.AddNote(n, h.key)
			loaded++
		}
	}
	for _, h := range positionHoldings {
		if len(h.positions) == 0 {
			if pending {
				s.ledger.SetPositionKey(crypto.PublicKey(h.key), h.key)
			} else {
				s.persist.RemovePrivKey(userID, h.key, true)
				removed++
			}
			continue
		}
		for _, pos := range h.positions {
			s.ledger.AddPosition(pos, h.key)
		}
	}

	for id, k := range pfrKeys {
		s.ledger.SetPfrKey(id, k)
	}
	s.orderIDs = make(map[uint64]bool, len(data.OrderIDs))
	for id := range data.OrderIDs {
		s.orderIDs[id] = true
	}
	s.perpOrderIDs = make(map[uint64]bool, len(data.PerpOrderIDs))
	for id := range data.PerpOrderIDs {
		s.perpOrderIDs[id] = true
	}

	s.updateBalanceGauges()
	s.log.Info().
		Str("user", userID).
		Int("notes", loaded).
		Int("empty_keys_removed", removed).
		Int("open_orders", len(s.orderIDs)+len(s.perpOrderIDs)).
		Msg("wallet logged in")
	return nil
}

// Reconcile fetches the exchange's view of the session's orders and applies it.
func (s *Session) Reconcile(ctx context.Context, backend exchange.Backend) error {
	spot, perp := s.OrderIDs()
	if len(spot)+len(perp) == 0 {
		return nil
	}
	snap, err := backend.ActiveOrders(ctx, spot, perp)
	if err != nil {
		return fmt.Errorf("active orders: %w", err)
	}
	return s.HandleActiveOrders(ctx, spot, perp, snap)
}

// settledOrder is a tracked order the exchange no longer holds open.
type settledOrder struct {
	id     uint64
	isPerp bool
	pfr    fr.Element
	hasPfr bool
}

// HandleActiveOrders applies the snapshot answering a query for the spot and perp order ids.
// Notes locked by open orders leave the ledger. Queried orders that are dropped or no longer
// open stop being tracked once any note the exchange left at their pfr address has been
// recovered; if that scan fails they stay tracked and the next call retries. Orders recorded
// after the query are left alone.
func (s *Session) HandleActiveOrders(ctx context.Context, spot, perp []uint64, snap *exchange.Snapshot) error {
	s.mu.Lock()
	active := append(append([]notes.ActiveOrder(nil), snap.Orders...), snap.PerpOrders...)
	s.ledger.Reconcile(active)

	open := make(map[uint64]bool, len(active))
	for _, o := range active {
		open[o.OrderID] = true
	}
	bad := make(map[uint64]bool, len(snap.BadOrderIDs)+len(snap.BadPerpOrderIDs))
	for _, id := range snap.BadOrderIDs {
		bad[id] = true
	}
	for _, id := range snap.BadPerpOrderIDs {
		bad[id] = true
	}

	var (
		settled []settledOrder
		pfrKeys []fr.Element
	)
	for _, q := range []struct {
		queried []uint64
		tracked map[uint64]bool
		isPerp  bool
	}{{spot, s.orderIDs, false}, {perp, s.perpOrderIDs, true}} {
		for _, id := range q.queried {
			if open[id] || !q.tracked[id] {
				continue
			}
			if bad[id] {
				s.log.Warn().Uint64("order_id", id).Bool("perp", q.isPerp).Msg("order dropped by exchange")
			}
			o := settledOrder{id: id, isPerp: q.isPerp}
			o.pfr, o.hasPfr = s.ledger.PfrKey(id)
			if o.hasPfr {
				pfrKeys = append(pfrKeys, o.pfr)
			}
			settled = append(settled, o)
		}
	}
	s.updateBalanceGauges()
	s.mu.Unlock()

	if len(settled) == 0 {
		return nil
	}
	found, err := s.scan(ctx, pfrKeys, true, false)
	if err != nil {
		return fmt.Errorf("pfr recovery: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.absorbLocked(found, false)
	userID := s.id.UserID()
	for _, o := range settled {
		if o.isPerp {
			delete(s.perpOrderIDs, o.id)
		} else {
			delete(s.orderIDs, o.id)
		}
		s.persist.RemoveOrderID(userID, o.id, o.isPerp)
		if o.hasPfr {
			s.ledger.RemovePfrKey(o.id)
		}
	}
	if n > 0 {
		s.log.Info().Int("notes", n).Int("orders", len(settled)).Msg("recovered notes at pfr addresses")
	}
	return nil
}

// absorb adds scanned notes and positions that the ledger does not hold yet and persists their
// keys. A position address that was scanned and came back empty has been closed and its position
// leaves the ledger. It returns the number of notes added.
func (s *Session) absorb(found []holding, persistCounts bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.absorbLocked(found, persistCounts)
}

func (s *Session) absorbLocked(found []holding, persistCounts bool) int {
	userID := s.id.UserID()

	var added, closed int
	for _, h := range found {
		var fresh bool
		for _, n := range h.notes {
			if s.ledger.HasNote(n.Token, n.Address, n.Index) {
				continue
			}
			s.ledger.AddNote(n, h.key)
			added++
			fresh = true
		}
		if fresh {
			s.persist.StorePrivKey(userID, h.key, false)
		}
		if h.positionsScanned && len(h.positions) == 0 {
			if s.ledger.RemovePosition(crypto.PublicKey(h.key)) {
				closed++
			}
		}
		for _, p := range h.positions {
			if _, _, ok := s.ledger.Position(p.SyntheticToken, p.Address); !ok {
				s.persist.StorePrivKey(userID, h.key, true)
			}
			s.ledger.AddPosition(p, h.key)
		}
	}
	if persistCounts {
		s.persistCounts()
	}
	if added > 0 {
		s.metrics.AddCounter(metrics.MetricNotesRecovered, int64(added), nil)
	}
	if closed > 0 {
		s.log.Info().Int("positions", closed).Msg("closed positions removed")
	}
	s.updateBalanceGauges()
	return added
}

// SyncAddress pulls the notes and positions at one of the wallet's own addresses, as announced by
// a fill, into the ledger.
func (s *Session) SyncAddress(ctx context.Context, addr bls12377.G1Affine) (int, error) {
	s.mu.Lock()
	noteKey, hasNote := s.ledger.NoteKey(addr)
	posKey, hasPos := s.ledger.PositionKey(addr)
	s.mu.Unlock()

	if !hasNote && !hasPos {
		return 0, ErrUnknownAddress
	}
	key := noteKey
	if !hasNote {
		key = posKey
	}
	found, err := s.scan(ctx, []fr.Element{key}, hasNote, hasPos)
	if err != nil {
		return 0, err
	}
	return s.absorb(found, false), nil
}

// RecoverFromCounters re-derives every one-time address of the given tokens and pulls whatever the
// exchange holds there into the ledger. Counters are moved past the highest address in use. This
// is the resync path after keys were lost between signing and persisting.
func (s *Session) RecoverFromCounters(ctx context.Context, tokens []uint32) (int, error) {
	type slot struct {
		token, count uint32
	}
	var (
		slots []slot
		ks    []fr.Element
	)
	for _, token := range tokens {
		for c := uint32(0); c < keys.CountModulus; c++ {
			slots = append(slots, slot{token, c})
			ks = append(ks, s.id.OneTimeAddressPrivKey(token, c))
		}
	}

	found, err := s.scan(ctx, ks, true, true)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	noteCounts, positionCounts := s.ledger.Counts()
	for i, h := range found {
		sl := slots[i]
		if len(h.notes) > 0 {
			bumpCount(noteCounts, sl.token, sl.count)
		}
		for _, p := range h.positions {
			bumpCount(positionCounts, p.SyntheticToken, sl.count)
		}
	}
	s.ledger.SetCounts(noteCounts, positionCounts)
	s.mu.Unlock()

	added := s.absorb(found, true)
	s.log.Info().Int("tokens", len(tokens)).Int("notes", added).Msg("recovered from counters")
	return added, nil
}

// bumpCount moves counts[token] past used unless it is already beyond it.
func bumpCount(counts map[uint32]uint32, token, used uint32) {
	if c, ok := counts[token]; ok && c > used {
		return
	}
	counts[token] = keys.NextCount(used)
}

// updateBalanceGauges publishes the per-token available amount. Callers hold s.mu.
func (s *Session) updateBalanceGauges() {
	for _, token := range s.ledger.Tokens() {
		s.metrics.SetGauge(metrics.MetricAvailableBalance, float64(s.ledger.AvailableAmount(token)),
			map[string]string{"token": fmt.Sprint(token)})
	}
}
