package wallet

import (
	"math/big"
	"math/bits"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"

	"invisible/internal/crypto"
	"invisible/internal/notes"
	"invisible/internal/orders"
	"invisible/internal/signing"
)

const (
	// liquidationCollateralShort is the collateral bound of a liquidation order that buys back a
	// short position, the most the liquidator is willing to pay.
	liquidationCollateralShort uint64 = 1_000_000_000_000_000
	// liquidationCollateralLong is the bound for closing a long, the least the liquidator accepts.
	liquidationCollateralLong uint64 = 1
)

// LimitOrderRequest describes a spot order.
type LimitOrderRequest struct {
	ExpirationTimestamp uint64
	TokenSpent          uint32
	TokenReceived       uint32
	AmountSpent         uint64
	AmountReceived      uint64
	Price               uint64
	FeeLimit            uint64
}

// MakeLimitOrder selects notes for the spent amount and returns the signed order with its pfr key.
func (s *Session) MakeLimitOrder(req LimitOrderRequest) (*orders.LimitOrder, *fr.Element, error) {
	const kind = "limit_order"
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.AmountSpent == 0 || req.AmountReceived == 0 {
		return nil, nil, s.failed(kind, invalid("limit order amounts must be positive"))
	}

	sel, err := s.ledger.SelectNotesAndRefund(req.TokenSpent, req.AmountSpent)
	if err != nil {
		return nil, nil, s.failed(kind, err)
	}

	koS, spentAddr, spentBlinding := s.destSpent(sel.PrivKeys)
	koR, receivedAddr, receivedBlinding := s.destReceived(req.TokenReceived)

	var refund *notes.Note
	if sel.Refund > 0 {
		refund = notes.NewNote(spentAddr, req.TokenSpent, sel.Refund, spentBlinding, sel.Notes[0].Index)
	}

	order := &orders.LimitOrder{
		ExpirationTimestamp:  req.ExpirationTimestamp,
		TokenSpent:           req.TokenSpent,
		TokenReceived:        req.TokenReceived,
		AmountSpent:          req.AmountSpent,
		AmountReceived:       req.AmountReceived,
		Price:                req.Price,
		FeeLimit:             req.FeeLimit,
		DestSpentAddress:     spentAddr,
		DestReceivedAddress:  receivedAddr,
		DestSpentBlinding:    spentBlinding,
		DestReceivedBlinding: receivedBlinding,
		NotesIn:              sel.Notes,
		RefundNote:           refund,
	}
	if order.Signature, err = signing.SignOrder(order, sel.PrivKeys, nil); err != nil {
		return nil, nil, s.failed(kind, err)
	}

	s.ledger.SetNoteKey(spentAddr, koS)
	s.ledger.SetNoteKey(receivedAddr, koR)
	s.persistCounts()
	s.persist.StorePrivKey(s.id.UserID(), koS, false)
	s.persist.StorePrivKey(s.id.UserID(), koR, false)

	s.built(kind, start, len(sel.Notes))
	return order, &koS, nil
}

// PerpOrderRequest describes a perpetual order. InitialMargin, CollateralToken and
// AllowPartialLiquidations apply to Open; PositionAddress names the position for Close and Modify.
type PerpOrderRequest struct {
	ExpirationTimestamp      uint64
	EffectType               orders.PositionEffectType
	OrderSide                notes.OrderSide
	SyntheticToken           uint32
	SyntheticAmount          uint64
	CollateralAmount         uint64
	Price                    uint64
	FeeLimit                 uint64
	InitialMargin            uint64
	CollateralToken          uint32
	AllowPartialLiquidations bool
	PositionAddress          crypto.Point
}

// MakePerpetualOrder builds and signs an Open, Close or Modify order. Open returns the pfr key of
// the consumed margin notes; Close and Modify return none.
func (s *Session) MakePerpetualOrder(req PerpOrderRequest) (*orders.PerpOrder, *fr.Element, error) {
	const kind = "perp_order"
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.EffectType {
	case orders.Open, orders.Close, orders.Modify:
	default:
		return nil, nil, s.failed(kind, invalid("position effect type %s", req.EffectType))
	}
	if _, err := notes.ParseOrderSide(string(req.OrderSide)); err != nil {
		return nil, nil, s.failed(kind, invalid("%v", err))
	}

	order := &orders.PerpOrder{
		ExpirationTimestamp: req.ExpirationTimestamp,
		OrderSide:           req.OrderSide,
		SyntheticToken:      req.SyntheticToken,
		SyntheticAmount:     req.SyntheticAmount,
		CollateralAmount:    req.CollateralAmount,
		Price:               req.Price,
		FeeLimit:            req.FeeLimit,
	}

	if req.EffectType == orders.Open {
		pfr, err := s.openPosition(order, req)
		if err != nil {
			return nil, nil, s.failed(kind, err)
		}
		s.built(kind, start, len(order.Fields.(*orders.OpenOrderFields).NotesIn))
		return order, pfr, nil
	}

	position, posKey, ok := s.ledger.Position(req.SyntheticToken, req.PositionAddress.G1Affine)
	if !ok {
		return nil, nil, s.failed(kind, ErrPositionNotFound)
	}
	order.Position = position

	if req.EffectType == orders.Close {
		order.OrderSide = position.OrderSide.Opposite()
		koR, addr, blinding := s.destReceived(position.CollateralToken)
		order.Fields = &orders.CloseOrderFields{DestReceivedAddress: addr, DestReceivedBlinding: blinding}
		s.ledger.SetNoteKey(addr, koR)
		s.persistCounts()
		s.persist.StorePrivKey(s.id.UserID(), koR, false)
	} else {
		order.Fields = orders.ModifyFields{}
	}

	var err error
	if order.Signature, err = signing.SignOrder(order, nil, &posKey); err != nil {
		return nil, nil, s.failed(kind, err)
	}
	s.built(kind, start, 0)
	return order, nil, nil
}

func (s *Session) openPosition(order *orders.PerpOrder, req PerpOrderRequest) (*fr.Element, error) {
	if req.InitialMargin == 0 {
		return nil, invalid("initial margin must be positive")
	}
	sel, err := s.ledger.SelectNotesAndRefund(req.CollateralToken, req.InitialMargin)
	if err != nil {
		return nil, err
	}

	koS, spentAddr, spentBlinding := s.destSpent(sel.PrivKeys)
	var refund *notes.Note
	if sel.Refund > 0 {
		refund = notes.NewNote(spentAddr, req.CollateralToken, sel.Refund, spentBlinding, sel.Notes[0].Index)
	}
	posKey, posAddr := s.id.PositionAddress(req.SyntheticToken, s.ledger.NextPositionCount(req.SyntheticToken))

	order.Fields = &orders.OpenOrderFields{
		InitialMargin:            req.InitialMargin,
		CollateralToken:          req.CollateralToken,
		NotesIn:                  sel.Notes,
		RefundNote:               refund,
		PositionAddress:          posAddr,
		Blinding:                 spentBlinding,
		AllowPartialLiquidations: req.AllowPartialLiquidations,
	}
	if order.Signature, err = signing.SignOrder(order, sel.PrivKeys, nil); err != nil {
		return nil, err
	}

	s.ledger.SetNoteKey(spentAddr, koS)
	s.ledger.SetPositionKey(posAddr, posKey)
	s.persistCounts()
	s.persist.StorePrivKey(s.id.UserID(), koS, false)
	s.persist.StorePrivKey(s.id.UserID(), posKey, true)
	return &koS, nil
}

// MakeLiquidationOrder builds an unsigned order that takes over a liquidatable position. The
// collateral bound is set to the extreme that favours the liquidator and the fee bound to 1% of
// the position size.
func (s *Session) MakeLiquidationOrder(position *notes.Position, expiration uint64) (*orders.PerpOrder, error) {
	const kind = "liquidation_order"
	start := time.Now()

	if position == nil {
		return nil, s.failed(kind, invalid("liquidation needs a position"))
	}
	collateral := liquidationCollateralLong
	if position.OrderSide == notes.Short {
		collateral = liquidationCollateralShort
	}
	order := &orders.PerpOrder{
		ExpirationTimestamp: expiration,
		Position:            position,
		OrderSide:           position.OrderSide.Opposite(),
		SyntheticToken:      position.SyntheticToken,
		SyntheticAmount:     position.PositionSize,
		CollateralAmount:    collateral,
		FeeLimit:            position.PositionSize / 100,
		Fields:              orders.LiquidateFields{},
	}
	s.built(kind, start, 0)
	return order, nil
}

// MakeDepositOrder claims an on-chain deposit made to the token's deposit stark key.
func (s *Session) MakeDepositOrder(depositID uint64, token uint32, amount uint64, starkKey *big.Int) (*orders.Deposit, error) {
	const kind = "deposit"
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if amount == 0 {
		return nil, s.failed(kind, invalid("deposit amount must be positive"))
	}
	if starkKey == nil || starkKey.Cmp(s.id.DepositStarkKey(token)) != 0 {
		return nil, s.failed(kind, ErrUnknownStarkKey)
	}

	koR, addr, blinding := s.destReceived(token)
	deposit := &orders.Deposit{
		DepositID: depositID,
		Token:     token,
		Amount:    amount,
		StarkKey:  new(big.Int).Set(starkKey),
		Notes:     []*notes.Note{notes.NewNote(addr, token, amount, blinding, 0)},
	}
	deposit.Signature = signing.Sign(deposit.Hash(), s.id.DepositPrivKey(token))

	s.ledger.SetNoteKey(addr, koR)
	s.persistCounts()
	s.persist.StorePrivKey(s.id.UserID(), koR, false)

	s.built(kind, start, 0)
	return deposit, nil
}

// WithdrawalRequest describes a withdrawal to an on-chain recipient.
type WithdrawalRequest struct {
	Token     uint32
	Amount    uint64
	Recipient *big.Int
	ChainID   uint32
	MaxGasFee uint64
}

// MakeWithdrawalOrder spends notes to the recipient and returns the signed withdrawal.
func (s *Session) MakeWithdrawalOrder(req WithdrawalRequest) (*orders.Withdrawal, *fr.Element, error) {
	const kind = "withdrawal"
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Amount == 0 {
		return nil, nil, s.failed(kind, invalid("withdrawal amount must be positive"))
	}
	if req.Recipient == nil || req.Recipient.Sign() <= 0 {
		return nil, nil, s.failed(kind, invalid("withdrawal needs a recipient"))
	}

	sel, err := s.ledger.SelectNotesAndRefund(req.Token, req.Amount)
	if err != nil {
		return nil, nil, s.failed(kind, err)
	}

	koS, spentAddr, spentBlinding := s.destSpent(sel.PrivKeys)
	var refund *notes.Note
	if sel.Refund > 0 {
		refund = notes.NewNote(spentAddr, req.Token, sel.Refund, spentBlinding, sel.Notes[0].Index)
	}
	w := &orders.Withdrawal{
		Token:      req.Token,
		Amount:     req.Amount,
		Recipient:  new(big.Int).Set(req.Recipient),
		ChainID:    req.ChainID,
		MaxGasFee:  req.MaxGasFee,
		NotesIn:    sel.Notes,
		RefundNote: refund,
	}
	if w.Signature, err = signing.SignOrder(w, sel.PrivKeys, nil); err != nil {
		return nil, nil, s.failed(kind, err)
	}

	if refund != nil {
		s.ledger.SetNoteKey(spentAddr, koS)
		s.persist.StorePrivKey(s.id.UserID(), koS, false)
	}
	s.built(kind, start, len(sel.Notes))
	return w, &koS, nil
}

// RestructureNotes splits the token's notes into the requested amounts. The new notes reuse the
// consumed addresses in turn; any excess goes to a refund note at the first consumed address.
// The result is unsigned: the caller signs its Hash with the returned key.
func (s *Session) RestructureNotes(token uint32, amounts []uint64) (*orders.Restructure, *fr.Element, error) {
	const kind = "restructure"
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(amounts) == 0 {
		return nil, nil, s.failed(kind, invalid("no amounts to restructure into"))
	}
	var total uint64
	for _, a := range amounts {
		if a == 0 {
			return nil, nil, s.failed(kind, invalid("restructure amounts must be positive"))
		}
		sum, carry := bits.Add64(total, a, 0)
		if carry != 0 {
			return nil, nil, s.failed(kind, invalid("restructure amounts overflow"))
		}
		total = sum
	}

	sel, err := s.ledger.SelectNotesAndRefund(token, total)
	if err != nil {
		return nil, nil, s.failed(kind, err)
	}

	r := &orders.Restructure{Token: token, NotesIn: sel.Notes}
	for i, a := range amounts {
		src := sel.Notes[i%len(sel.Notes)]
		r.NotesOut = append(r.NotesOut, notes.NewNote(src.Address, token, a, src.Blinding, 0))
	}
	if sel.Refund > 0 {
		src := sel.Notes[0]
		r.NotesOut = append(r.NotesOut, notes.NewNote(src.Address, token, sel.Refund, src.Blinding, 0))
	}

	// The consumed addresses are reused, so their keys must stay known.
	for i, n := range sel.Notes {
		s.ledger.SetNoteKey(n.Address, sel.PrivKeys[i])
	}
	key := crypto.SumScalars(sel.PrivKeys...)

	s.built(kind, start, len(sel.Notes))
	return r, &key, nil
}

// ChangeMargin adds collateral from notes to the position at addr, or releases some of it to a
// fresh address. Increases return the pfr key of the consumed notes.
func (s *Session) ChangeMargin(addr crypto.Point, syntheticToken uint32, direction orders.MarginDirection, amount uint64) (*orders.MarginChange, *fr.Element, error) {
	const kind = "margin_change"
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if amount == 0 {
		return nil, nil, s.failed(kind, invalid("margin change amount must be positive"))
	}
	if _, err := orders.ParseMarginDirection(string(direction)); err != nil {
		return nil, nil, s.failed(kind, invalid("%v", err))
	}
	position, posKey, ok := s.ledger.Position(syntheticToken, addr.G1Affine)
	if !ok {
		return nil, nil, s.failed(kind, ErrPositionNotFound)
	}

	m := &orders.MarginChange{Direction: direction, Amount: amount, Position: position}

	if direction == orders.Decrease {
		if amount >= position.Margin {
			return nil, nil, s.failed(kind, invalid("cannot release %d of %d margin", amount, position.Margin))
		}
		koR, dest, blinding := s.destReceived(position.CollateralToken)
		m.CloseFields = &orders.CloseOrderFields{DestReceivedAddress: dest, DestReceivedBlinding: blinding}
		var err error
		if m.Signature, err = signing.SignOrder(m, nil, &posKey); err != nil {
			return nil, nil, s.failed(kind, err)
		}
		s.ledger.SetNoteKey(dest, koR)
		s.persistCounts()
		s.persist.StorePrivKey(s.id.UserID(), koR, false)
		s.built(kind, start, 0)
		return m, nil, nil
	}

	sel, err := s.ledger.SelectNotesAndRefund(position.CollateralToken, amount)
	if err != nil {
		return nil, nil, s.failed(kind, err)
	}
	m.NotesIn = sel.Notes
	first := sel.Notes[0]
	if sel.Refund > 0 {
		m.RefundNote = notes.NewNote(first.Address, position.CollateralToken, sel.Refund, first.Blinding, first.Index)
		s.ledger.SetNoteKey(first.Address, sel.PrivKeys[0])
	}
	if m.Signature, err = signing.SignOrder(m, sel.PrivKeys, &posKey); err != nil {
		return nil, nil, s.failed(kind, err)
	}

	pfr := crypto.SumScalars(sel.PrivKeys...)
	s.built(kind, start, len(sel.Notes))
	return m, &pfr, nil
}
