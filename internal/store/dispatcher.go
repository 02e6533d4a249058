package store

import (
	"context"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/google/uuid"

	"invisible/internal/logging"
	"invisible/internal/metrics"
)

// DispatcherOptions tunes the retry queue. QueueSize is the depth above which a backlog
// warning is logged; submissions never block.
type DispatcherOptions struct {
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
}

// FailedTask is a write that exhausted its attempts.
type FailedTask struct {
	ID       string
	Name     string
	UserID   string
	Attempts int
	Err      error
	At       time.Time
}

type task struct {
	id     string
	name   string
	userID string
	run    func(ctx context.Context, p Provider) error
}

// Dispatcher applies writes to a Provider asynchronously. Writes are applied in submission
// order; a failing write is retried with exponential backoff and, once attempts run out, moved
// to the dead-letter list and the audit log.
type Dispatcher struct {
	provider Provider
	opts     DispatcherOptions
	log      *logging.Logger
	metrics  *metrics.Collector

	qmu     sync.Mutex
	queue   []*task
	wake    chan struct{}
	pending sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	failed []FailedTask
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(p Provider, opts DispatcherOptions, log *logging.Logger, m *metrics.Collector) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if log == nil {
		log = logging.Nop()
	}
	if m == nil {
		m = metrics.NewCollector()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		provider: p,
		opts:     opts,
		log:      log,
		metrics:  m,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) enqueue(name, userID string, run func(ctx context.Context, p Provider) error) {
	t := &task{id: uuid.New().String(), name: name, userID: userID, run: run}
	d.pending.Add(1)

	d.qmu.Lock()
	if err := d.ctx.Err(); err != nil {
		d.qmu.Unlock()
		d.deadLetter(t, 0, err)
		d.pending.Done()
		return
	}
	d.queue = append(d.queue, t)
	depth := len(d.queue)
	d.qmu.Unlock()

	d.metrics.SetGauge(metrics.MetricPersistQueueDepth, float64(depth), nil)
	if depth > d.opts.QueueSize {
		d.log.Warn().Int("depth", depth).Str("task", name).Msg("persistence backlog")
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) next() *task {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if len(d.queue) == 0 {
		return nil
	}
	t := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return t
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		if t := d.next(); t != nil {
			d.process(t)
			continue
		}
		select {
		case <-d.wake:
		case <-d.ctx.Done():
			d.drain()
			return
		}
	}
}

// drain gives every still queued task one last attempt.
func (d *Dispatcher) drain() {
	d.qmu.Lock()
	rest := d.queue
	d.queue = nil
	d.qmu.Unlock()

	for _, t := range rest {
		if err := t.run(context.Background(), d.provider); err != nil {
			d.deadLetter(t, 1, err)
		}
		d.pending.Done()
	}
}

func (d *Dispatcher) process(t *task) {
	defer d.pending.Done()

	backoff := d.opts.Backoff
	for attempt := 1; ; attempt++ {
		err := t.run(d.ctx, d.provider)
		if err == nil {
			d.metrics.RecordPersist(t.name, "ok")
			d.log.Debug().Str("task", t.name).Str("id", t.id).Int("attempt", attempt).Msg("persisted")
			return
		}
		if attempt >= d.opts.MaxAttempts {
			d.deadLetter(t, attempt, err)
			return
		}

		d.metrics.RecordPersist(t.name, "retry")
		d.log.Warn().Err(err).Str("task", t.name).Str("id", t.id).Int("attempt", attempt).Msg("persistence failed, retrying")

		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			if err := t.run(context.Background(), d.provider); err != nil {
				d.deadLetter(t, attempt+1, err)
			}
			return
		}
		backoff *= 2
	}
}

func (d *Dispatcher) deadLetter(t *task, attempts int, err error) {
	d.mu.Lock()
	d.failed = append(d.failed, FailedTask{
		ID:       t.id,
		Name:     t.name,
		UserID:   t.userID,
		Attempts: attempts,
		Err:      err,
		At:       time.Now(),
	})
	d.mu.Unlock()

	d.metrics.RecordPersist(t.name, "dead")
	d.log.Error().Err(err).Str("task", t.name).Str("id", t.id).Msg("persistence gave up")
	d.log.Audit("persist_dead_letter", map[string]interface{}{
		"id":       t.id,
		"task":     t.name,
		"user":     t.userID,
		"attempts": attempts,
		"error":    err.Error(),
	})
}

// Failed returns the dead-lettered writes.
func (d *Dispatcher) Failed() []FailedTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]FailedTask(nil), d.failed...)
}

// Flush waits until every submitted write has been applied or dead-lettered.
func (d *Dispatcher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker after a final pass over queued writes. The provider is not closed.
func (d *Dispatcher) Close() {
	d.cancel()
	<-d.done
}

// StoreUserData queues a counter write.
func (d *Dispatcher) StoreUserData(userID string, noteCounts, positionCounts map[uint32]uint32) {
	nc, pc := copyCounts(noteCounts), copyCounts(positionCounts)
	d.enqueue("store_user_data", userID, func(ctx context.Context, p Provider) error {
		return p.StoreUserData(ctx, userID, nc, pc)
	})
}

// StorePrivKey queues a key write.
func (d *Dispatcher) StorePrivKey(userID string, key fr.Element, isPosition bool) {
	d.enqueue("store_priv_key", userID, func(ctx context.Context, p Provider) error {
		return p.StorePrivKey(ctx, userID, key, isPosition)
	})
}

// RemovePrivKey queues a key removal.
func (d *Dispatcher) RemovePrivKey(userID string, key fr.Element, isPosition bool) {
	d.enqueue("remove_priv_key", userID, func(ctx context.Context, p Provider) error {
		return p.RemovePrivKey(ctx, userID, key, isPosition)
	})
}

// StoreOrderID queues an order id write.
func (d *Dispatcher) StoreOrderID(userID string, orderID uint64, pfrKey *fr.Element, isPerp bool) {
	var pfr *fr.Element
	if pfrKey != nil {
		k := *pfrKey
		pfr = &k
	}
	d.enqueue("store_order_id", userID, func(ctx context.Context, p Provider) error {
		return p.StoreOrderID(ctx, userID, orderID, pfr, isPerp)
	})
}

// RemoveOrderID queues an order id removal.
func (d *Dispatcher) RemoveOrderID(userID string, orderID uint64, isPerp bool) {
	d.enqueue("remove_order_id", userID, func(ctx context.Context, p Provider) error {
		return p.RemoveOrderID(ctx, userID, orderID, isPerp)
	})
}

func copyCounts(m map[uint32]uint32) map[uint32]uint32 {
	out := make(map[uint32]uint32, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
