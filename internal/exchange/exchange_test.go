package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invisible/internal/crypto"
	"invisible/internal/notes"
	"invisible/internal/orders"
	"invisible/internal/signing"
)

type fakeRequester struct {
	subjects []string
	reply    func(subject string, req request) response
}

func (f *fakeRequester) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.subjects = append(f.subjects, subj)
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	out, err := json.Marshal(f.reply(subj, req))
	if err != nil {
		return nil, err
	}
	return &nats.Msg{Subject: subj, Data: out}, nil
}

func okWith(t *testing.T, v interface{}) response {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return response{OK: true, Data: data}
}

func testClient(f *fakeRequester) *NatsClient {
	return newNatsClient(f, NatsOptions{SubjectPrefix: "invisible", Timeout: time.Second, SubmitRate: 100, SubmitBurst: 10}, nil, nil)
}

func signedLimitOrder(t *testing.T, key fr.Element, n *notes.Note) *orders.LimitOrder {
	t.Helper()
	o := &orders.LimitOrder{
		TokenSpent:          n.Token,
		TokenReceived:       12345,
		AmountSpent:         n.Amount,
		AmountReceived:      1,
		DestSpentAddress:    n.Address,
		DestReceivedAddress: crypto.PublicKey(crypto.Uint(77)),
		NotesIn:             []*notes.Note{n},
	}
	sig, err := signing.SignOrder(o, []fr.Element{key}, nil)
	require.NoError(t, err)
	o.Signature = sig
	return o
}

func TestNatsSubmitUsesKindSubject(t *testing.T) {
	f := &fakeRequester{}
	f.reply = func(subject string, req request) response {
		assert.NotEmpty(t, req.ID)
		return okWith(t, Receipt{OrderID: 9})
	}
	c := testClient(f)

	key := crypto.Uint(3)
	n := notes.NewNote(crypto.PublicKey(key), 55555, 10, crypto.Uint(1), 1)
	receipt, err := c.Submit(context.Background(), signedLimitOrder(t, key, n))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), receipt.OrderID)
	assert.Equal(t, []string{"invisible.orders.limit_order"}, f.subjects)
}

func TestNatsRejection(t *testing.T) {
	f := &fakeRequester{reply: func(string, request) response {
		return response{OK: false, Error: "invalid signature"}
	}}
	_, err := testClient(f).ActiveOrders(context.Background(), []uint64{1}, nil)
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "invalid signature")
}

func TestNatsNotesAtDecodesHiddenNotes(t *testing.T) {
	n := notes.NewNote(crypto.PublicKey(crypto.Uint(3)), 55555, 10, crypto.Uint(1), 4)
	f := &fakeRequester{}
	f.reply = func(subject string, req request) response {
		return okWith(t, []notes.HiddenNote{notes.Hide(n)})
	}

	got, err := testClient(f).NotesAt(context.Background(), n.Address)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(4), got[0].Index)
	assert.True(t, got[0].Address.Equal(&n.Address))
	assert.Equal(t, []string{"invisible.state.notes"}, f.subjects)
}

func TestKindOf(t *testing.T) {
	kind, err := KindOf(&orders.MarginChange{})
	require.NoError(t, err)
	assert.Equal(t, KindMarginChange, kind)

	_, err = KindOf(&orders.Restructure{})
	assert.True(t, errors.Is(err, ErrUnknownOrderType))
}

func TestMemoryBackendChecksSignatureAndLocks(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	key := crypto.Uint(3)
	n := notes.NewNote(crypto.PublicKey(key), 55555, 10, crypto.Uint(1), 0)
	m.AddNote(n)

	_, err := m.Submit(ctx, signedLimitOrder(t, crypto.Uint(4), n))
	require.ErrorIs(t, err, ErrRejected)

	receipt, err := m.Submit(ctx, signedLimitOrder(t, key, n))
	require.NoError(t, err)

	_, err = m.Submit(ctx, signedLimitOrder(t, key, n))
	require.ErrorIs(t, err, ErrRejected)

	snap, err := m.ActiveOrders(ctx, []uint64{receipt.OrderID}, nil)
	require.NoError(t, err)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, []uint64{n.Index}, snap.Orders[0].NoteIndexes)

	require.NoError(t, m.Fill(receipt.OrderID))
	published, err := m.NotesAt(ctx, n.Address)
	require.NoError(t, err)
	assert.Empty(t, published)

	received, err := m.NotesAt(ctx, crypto.PublicKey(crypto.Uint(77)))
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, uint32(12345), received[0].Token)
}

func TestMemoryBackendInvalidateLeavesRefund(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	key := crypto.Uint(3)
	n := notes.NewNote(crypto.PublicKey(key), 55555, 10, crypto.Uint(1), 0)
	m.AddNote(n)

	receipt, err := m.Submit(ctx, signedLimitOrder(t, key, n))
	require.NoError(t, err)
	require.NoError(t, m.Invalidate(receipt.OrderID))

	snap, err := m.ActiveOrders(ctx, []uint64{receipt.OrderID}, nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Orders)
	assert.Equal(t, []uint64{receipt.OrderID}, snap.BadOrderIDs)

	refund, err := m.NotesAt(ctx, n.Address)
	require.NoError(t, err)
	require.Len(t, refund, 1)
	assert.NotEqual(t, n.Index, refund[0].Index)
}

func TestMemoryBackendDeposit(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	key := crypto.Uint(11)
	pub := crypto.PublicKey(key)
	starkKey := pub.X.BigInt(new(big.Int))
	m.RegisterDeposit(1, 55555, 100, starkKey)

	d := &orders.Deposit{
		DepositID: 1,
		Token:     55555,
		Amount:    100,
		StarkKey:  starkKey,
		Notes:     []*notes.Note{notes.NewNote(crypto.PublicKey(crypto.Uint(12)), 55555, 100, crypto.Uint(2), 0)},
	}
	d.Signature = signing.Sign(d.Hash(), crypto.Uint(13))
	_, err := m.Submit(ctx, d)
	require.ErrorIs(t, err, ErrRejected)

	d.Signature = signing.Sign(d.Hash(), key)
	receipt, err := m.Submit(ctx, d)
	require.NoError(t, err)
	assert.Len(t, receipt.NoteIndexes, 1)

	_, err = m.Submit(ctx, d)
	assert.ErrorIs(t, err, ErrRejected)
}
