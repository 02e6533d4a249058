package exchange

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"

	"invisible/internal/crypto"
	"invisible/internal/notes"
	"invisible/internal/orders"
	"invisible/internal/signing"
)

type pendingDeposit struct {
	token    uint32
	amount   uint64
	starkKey *big.Int
}

type activeOrder struct {
	id      uint64
	perp    bool
	order   signing.Hashable
	notesIn []*notes.Note
}

// MemoryBackend is an in-process exchange. It checks signatures and note ownership the way the
// real backend does and keeps published state in maps. Matching is driven explicitly through
// Fill and Invalidate.
type MemoryBackend struct {
	mu        sync.Mutex
	nextIndex uint64
	nextOrder uint64
	byIndex   map[uint64]notes.HiddenNote
	positions map[string]*notes.Position
	deposits  map[uint64]pendingDeposit
	active    map[uint64]*activeOrder
	bad       map[uint64]bool
}

// NewMemoryBackend returns an empty exchange.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nextIndex: 1,
		nextOrder: 1,
		byIndex:   make(map[uint64]notes.HiddenNote),
		positions: make(map[string]*notes.Position),
		deposits:  make(map[uint64]pendingDeposit),
		active:    make(map[uint64]*activeOrder),
		bad:       make(map[uint64]bool),
	}
}

// AddNote publishes n, assigning and returning its state index.
func (m *MemoryBackend) AddNote(n *notes.Note) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addNote(n)
}

func (m *MemoryBackend) addNote(n *notes.Note) uint64 {
	n.Index = m.nextIndex
	m.nextIndex++
	m.byIndex[n.Index] = notes.Hide(n)
	return n.Index
}

// AddPosition publishes p, assigning its state index.
func (m *MemoryBackend) AddPosition(p *notes.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.Index = m.nextIndex
	m.nextIndex++
	cp := *p
	m.positions[p.AddressKey()] = &cp
}

// RegisterDeposit records an on-chain deposit that a Deposit order may claim.
func (m *MemoryBackend) RegisterDeposit(id uint64, token uint32, amount uint64, starkKey *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deposits[id] = pendingDeposit{token: token, amount: amount, starkKey: starkKey}
}

// checkNotes verifies every note exists unchanged and is not locked by an open order, and
// returns the sum of their addresses.
func (m *MemoryBackend) checkNotes(ns []*notes.Note) (bls12377.G1Affine, error) {
	if len(ns) == 0 {
		return bls12377.G1Affine{}, fmt.Errorf("%w: no input notes", ErrRejected)
	}
	addresses := make([]bls12377.G1Affine, 0, len(ns))
	for _, n := range ns {
		published, ok := m.byIndex[n.Index]
		if !ok {
			return bls12377.G1Affine{}, fmt.Errorf("%w: note %d does not exist", ErrRejected, n.Index)
		}
		commitment := n.Commitment()
		if !published.Commitment.Equal(&commitment) || !published.Address.Equal(&n.Address) {
			return bls12377.G1Affine{}, fmt.Errorf("%w: note %d does not match state", ErrRejected, n.Index)
		}
		for _, o := range m.active {
			for _, locked := range o.notesIn {
				if locked.Index == n.Index {
					return bls12377.G1Affine{}, fmt.Errorf("%w: note %d is locked by order %d", ErrRejected, n.Index, o.id)
				}
			}
		}
		addresses = append(addresses, n.Address)
	}
	return signing.AggregatePublicKey(addresses...), nil
}

func (m *MemoryBackend) position(addr bls12377.G1Affine) (*notes.Position, error) {
	p, ok := m.positions[crypto.AddressKey(addr)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown position", ErrRejected)
	}
	return p, nil
}

func verify(o signing.Hashable, pub bls12377.G1Affine, sig *signing.Signature) error {
	if !signing.Verify(o.Hash(), pub, sig) {
		return fmt.Errorf("%w: invalid signature", ErrRejected)
	}
	return nil
}

func (m *MemoryBackend) consume(ns []*notes.Note) {
	for _, n := range ns {
		delete(m.byIndex, n.Index)
	}
}

func (m *MemoryBackend) addRefund(refund *notes.Note) {
	if refund != nil && refund.Amount > 0 {
		cp := *refund
		m.addNote(&cp)
	}
}

func (m *MemoryBackend) open(order signing.Hashable, perp bool, notesIn []*notes.Note) *Receipt {
	id := m.nextOrder
	m.nextOrder++
	m.active[id] = &activeOrder{id: id, perp: perp, order: order, notesIn: notesIn}
	return &Receipt{OrderID: id}
}

// Submit implements Backend.
func (m *MemoryBackend) Submit(_ context.Context, order signing.Hashable) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch o := order.(type) {
	case *orders.Deposit:
		return m.deposit(o)

	case *orders.LimitOrder:
		pub, err := m.checkNotes(o.NotesIn)
		if err != nil {
			return nil, err
		}
		if err := verify(o, pub, o.Signature); err != nil {
			return nil, err
		}
		return m.open(o, false, o.NotesIn), nil

	case *orders.PerpOrder:
		return m.perp(o)

	case *orders.Withdrawal:
		pub, err := m.checkNotes(o.NotesIn)
		if err != nil {
			return nil, err
		}
		if err := verify(o, pub, o.Signature); err != nil {
			return nil, err
		}
		m.consume(o.NotesIn)
		m.addRefund(o.RefundNote)
		return &Receipt{}, nil

	case *orders.MarginChange:
		return m.marginChange(o)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownOrderType, order)
}

func (m *MemoryBackend) deposit(o *orders.Deposit) (*Receipt, error) {
	pending, ok := m.deposits[o.DepositID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown deposit %d", ErrRejected, o.DepositID)
	}
	if pending.token != o.Token || pending.amount != o.Amount || pending.starkKey.Cmp(o.StarkKey) != 0 {
		return nil, fmt.Errorf("%w: deposit %d does not match", ErrRejected, o.DepositID)
	}
	var total uint64
	for _, n := range o.Notes {
		total += n.Amount
	}
	if total != o.Amount {
		return nil, fmt.Errorf("%w: deposit notes sum to %d", ErrRejected, total)
	}
	if !signing.VerifyStarkKey(o.Hash(), o.StarkKey, o.Signature) {
		return nil, fmt.Errorf("%w: invalid signature", ErrRejected)
	}

	delete(m.deposits, o.DepositID)
	receipt := &Receipt{}
	for _, n := range o.Notes {
		cp := *n
		receipt.NoteIndexes = append(receipt.NoteIndexes, m.addNote(&cp))
	}
	return receipt, nil
}

func (m *MemoryBackend) perp(o *orders.PerpOrder) (*Receipt, error) {
	if f, ok := o.Fields.(*orders.OpenOrderFields); ok {
		pub, err := m.checkNotes(f.NotesIn)
		if err != nil {
			return nil, err
		}
		if err := verify(o, pub, o.Signature); err != nil {
			return nil, err
		}
		return m.open(o, true, f.NotesIn), nil
	}

	if o.Position == nil {
		return nil, fmt.Errorf("%w: missing position", ErrRejected)
	}
	if _, err := m.position(o.Position.Address); err != nil {
		return nil, err
	}
	if _, ok := o.Fields.(orders.LiquidateFields); !ok {
		if err := verify(o, o.Position.Address, o.Signature); err != nil {
			return nil, err
		}
	}
	return m.open(o, true, nil), nil
}

func (m *MemoryBackend) marginChange(o *orders.MarginChange) (*Receipt, error) {
	if o.Position == nil {
		return nil, fmt.Errorf("%w: missing position", ErrRejected)
	}
	p, err := m.position(o.Position.Address)
	if err != nil {
		return nil, err
	}

	if o.Direction == orders.Increase {
		notesPub, err := m.checkNotes(o.NotesIn)
		if err != nil {
			return nil, err
		}
		if err := verify(o, signing.AggregatePublicKey(notesPub, p.Address), o.Signature); err != nil {
			return nil, err
		}
		m.consume(o.NotesIn)
		m.addRefund(o.RefundNote)
		p.Margin += o.Amount
		return &Receipt{}, nil
	}

	if o.Amount >= p.Margin {
		return nil, fmt.Errorf("%w: margin decrease exceeds margin", ErrRejected)
	}
	if err := verify(o, p.Address, o.Signature); err != nil {
		return nil, err
	}
	p.Margin -= o.Amount
	m.addNote(notes.NewNote(o.CloseFields.DestReceivedAddress, p.CollateralToken, o.Amount, o.CloseFields.DestReceivedBlinding, 0))
	return &Receipt{}, nil
}

// Fill executes an open order in full.
func (m *MemoryBackend) Fill(orderID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[orderID]
	if !ok {
		return fmt.Errorf("order %d is not open", orderID)
	}
	delete(m.active, orderID)
	m.consume(a.notesIn)

	switch o := a.order.(type) {
	case *orders.LimitOrder:
		m.addRefund(o.RefundNote)
		m.addNote(notes.NewNote(o.DestReceivedAddress, o.TokenReceived, o.AmountReceived, o.DestReceivedBlinding, 0))

	case *orders.PerpOrder:
		switch f := o.Fields.(type) {
		case *orders.OpenOrderFields:
			m.addRefund(f.RefundNote)
			p := &notes.Position{
				Index:                    m.nextIndex,
				Address:                  f.PositionAddress,
				SyntheticToken:           o.SyntheticToken,
				CollateralToken:          f.CollateralToken,
				OrderSide:                o.OrderSide,
				PositionSize:             o.SyntheticAmount,
				Margin:                   f.InitialMargin,
				EntryPrice:               o.Price,
				AllowPartialLiquidations: f.AllowPartialLiquidations,
			}
			m.nextIndex++
			m.positions[p.AddressKey()] = p

		case *orders.CloseOrderFields:
			p, err := m.position(o.Position.Address)
			if err != nil {
				return err
			}
			delete(m.positions, p.AddressKey())
			m.addNote(notes.NewNote(f.DestReceivedAddress, p.CollateralToken, p.Margin, f.DestReceivedBlinding, 0))

		case orders.LiquidateFields:
			delete(m.positions, crypto.AddressKey(o.Position.Address))
		}
	}
	return nil
}

// Invalidate drops an open order after a partial fill: its inputs are gone and whatever was
// not filled sits in a refund note at the spend-change address.
func (m *MemoryBackend) Invalidate(orderID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.active[orderID]
	if !ok {
		return fmt.Errorf("order %d is not open", orderID)
	}
	delete(m.active, orderID)
	m.bad[orderID] = true
	if len(a.notesIn) == 0 {
		return nil
	}
	m.consume(a.notesIn)

	var (
		total     uint64
		addresses []bls12377.G1Affine
	)
	for _, n := range a.notesIn {
		total += n.Amount
		addresses = append(addresses, n.Address)
	}

	switch o := a.order.(type) {
	case *orders.LimitOrder:
		m.addNote(notes.NewNote(o.DestSpentAddress, o.TokenSpent, total, o.DestSpentBlinding, 0))
	case *orders.PerpOrder:
		if f, ok := o.Fields.(*orders.OpenOrderFields); ok {
			m.addNote(notes.NewNote(signing.AggregatePublicKey(addresses...), f.CollateralToken, total, f.Blinding, 0))
		}
	}
	return nil
}

// ActiveOrders implements Backend.
func (m *MemoryBackend) ActiveOrders(_ context.Context, orderIDs, perpOrderIDs []uint64) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{}
	for _, id := range orderIDs {
		if a, ok := m.active[id]; ok && !a.perp {
			snap.Orders = append(snap.Orders, activeOf(a))
		} else if m.bad[id] {
			snap.BadOrderIDs = append(snap.BadOrderIDs, id)
		}
	}
	for _, id := range perpOrderIDs {
		if a, ok := m.active[id]; ok && a.perp {
			snap.PerpOrders = append(snap.PerpOrders, activeOf(a))
		} else if m.bad[id] {
			snap.BadPerpOrderIDs = append(snap.BadPerpOrderIDs, id)
		}
	}
	return snap, nil
}

func activeOf(a *activeOrder) notes.ActiveOrder {
	out := notes.ActiveOrder{OrderID: a.id}
	if po, ok := a.order.(*orders.PerpOrder); ok {
		out.PositionEffectType = uint8(po.EffectType())
	}
	for _, n := range a.notesIn {
		out.NoteIndexes = append(out.NoteIndexes, n.Index)
	}
	return out
}

// NotesAt implements Scanner.
func (m *MemoryBackend) NotesAt(_ context.Context, address bls12377.G1Affine) ([]notes.HiddenNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []notes.HiddenNote
	for _, n := range m.byIndex {
		if n.Address.Equal(&address) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// PositionsAt implements Scanner.
func (m *MemoryBackend) PositionsAt(_ context.Context, address bls12377.G1Affine) ([]*notes.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[crypto.AddressKey(address)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return []*notes.Position{&cp}, nil
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(context.Context) error {
	return nil
}
