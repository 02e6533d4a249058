package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"invisible/internal/crypto"
	"invisible/internal/logging"
	"invisible/internal/metrics"
	"invisible/internal/notes"
	"invisible/internal/signing"
)

// requester is the part of *nats.Conn the client uses.
type requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// NatsOptions configures NewNatsClient.
type NatsOptions struct {
	URL           string
	SubjectPrefix string
	Timeout       time.Duration
	SubmitRate    float64
	SubmitBurst   int
}

// NatsClient talks to the exchange over NATS request/reply. Order submission is rate limited;
// lookups are not.
type NatsClient struct {
	conn    *nats.Conn
	req     requester
	prefix  string
	timeout time.Duration
	limiter *rate.Limiter
	log     *logging.Logger
	metrics *metrics.Collector
}

type request struct {
	ID      string      `json:"id"`
	Payload interface{} `json:"payload"`
}

type response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewNatsClient connects to the NATS server at opts.URL.
func NewNatsClient(opts NatsOptions, log *logging.Logger, m *metrics.Collector) (*NatsClient, error) {
	nc, err := nats.Connect(opts.URL, nats.Name("walletd"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.URL, err)
	}
	c := newNatsClient(nc, opts, log, m)
	c.conn = nc
	return c, nil
}

func newNatsClient(req requester, opts NatsOptions, log *logging.Logger, m *metrics.Collector) *NatsClient {
	if log == nil {
		log = logging.Nop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}
	burst := opts.SubmitBurst
	if burst <= 0 {
		burst = 1
	}
	return &NatsClient{
		req:     req,
		prefix:  opts.SubjectPrefix,
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(rate.Limit(opts.SubmitRate), burst),
		log:     log,
		metrics: m,
	}
}

func (c *NatsClient) subject(parts ...string) string {
	s := c.prefix
	for _, p := range parts {
		s += "." + p
	}
	return s
}

func (c *NatsClient) call(ctx context.Context, subject string, payload, out interface{}) error {
	id := uuid.New().String()
	data, err := json.Marshal(request{ID: id, Payload: payload})
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	msg, err := c.req.RequestWithContext(ctx, subject, data)
	c.metrics.RecordHistogram(metrics.MetricExchangeRequests, time.Since(start).Seconds(), map[string]string{"subject": subject})
	if err != nil {
		c.log.Warn().Err(err).Str("subject", subject).Str("id", id).Msg("exchange request failed")
		return fmt.Errorf("request %s: %w", subject, err)
	}

	var resp response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return fmt.Errorf("decode %s reply: %w", subject, err)
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}

// Submit implements Backend.
func (c *NatsClient) Submit(ctx context.Context, order signing.Hashable) (*Receipt, error) {
	kind, err := KindOf(order)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var receipt Receipt
	if err := c.call(ctx, c.subject("orders", kind), order, &receipt); err != nil {
		return nil, err
	}
	c.log.Debug().Str("kind", kind).Uint64("order_id", receipt.OrderID).Msg("order accepted")
	return &receipt, nil
}

// ActiveOrders implements Backend.
func (c *NatsClient) ActiveOrders(ctx context.Context, orderIDs, perpOrderIDs []uint64) (*Snapshot, error) {
	payload := map[string][]uint64{"order_ids": orderIDs, "perp_order_ids": perpOrderIDs}
	var snap Snapshot
	if err := c.call(ctx, c.subject("active_orders"), payload, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// NotesAt implements Scanner.
func (c *NatsClient) NotesAt(ctx context.Context, address bls12377.G1Affine) ([]notes.HiddenNote, error) {
	var out []notes.HiddenNote
	err := c.call(ctx, c.subject("state", "notes"), map[string]crypto.Point{"address": crypto.NewPoint(address)}, &out)
	return out, err
}

// PositionsAt implements Scanner.
func (c *NatsClient) PositionsAt(ctx context.Context, address bls12377.G1Affine) ([]*notes.Position, error) {
	var out []*notes.Position
	err := c.call(ctx, c.subject("state", "positions"), map[string]crypto.Point{"address": crypto.NewPoint(address)}, &out)
	return out, err
}

// Ping implements Backend.
func (c *NatsClient) Ping(ctx context.Context) error {
	if c.conn != nil && !c.conn.IsConnected() {
		return errors.New("nats: not connected")
	}
	return c.call(ctx, c.subject("ping"), nil, nil)
}

// Close drains the connection.
func (c *NatsClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Drain()
}
