package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
)

// kvStore is a byte-level key/value backend holding one JSON document per user.
type kvStore interface {
	get(key []byte) ([]byte, error) // ErrNotFound when absent
	put(key, value []byte) error
	ping() error
	close() error
}

// DocumentProvider stores each user's UserData as one JSON document. Read-modify-write cycles
// are serialised by a mutex.
type DocumentProvider struct {
	mu sync.Mutex
	kv kvStore
}

func userKey(userID string) []byte {
	return []byte("user/" + userID)
}

func (p *DocumentProvider) load(userID string) (*UserData, error) {
	raw, err := p.kv.get(userKey(userID))
	if err != nil {
		return nil, err
	}
	d := NewUserData()
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", userID, err)
	}
	d.normalize()
	return d, nil
}

func (p *DocumentProvider) update(ctx context.Context, userID string, fn func(*UserData)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	d, err := p.load(userID)
	if err == ErrNotFound {
		d = NewUserData()
	} else if err != nil {
		return err
	}
	fn(d)

	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return p.kv.put(userKey(userID), raw)
}

// FetchUserData implements Provider.
func (p *DocumentProvider) FetchUserData(ctx context.Context, userID string) (*UserData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(userID)
}

// StoreUserData implements Provider.
func (p *DocumentProvider) StoreUserData(ctx context.Context, userID string, noteCounts, positionCounts map[uint32]uint32) error {
	return p.update(ctx, userID, func(d *UserData) { d.setCounts(noteCounts, positionCounts) })
}

// StorePrivKey implements Provider.
func (p *DocumentProvider) StorePrivKey(ctx context.Context, userID string, key fr.Element, isPosition bool) error {
	return p.update(ctx, userID, func(d *UserData) { d.addKey(key, isPosition) })
}

// RemovePrivKey implements Provider.
func (p *DocumentProvider) RemovePrivKey(ctx context.Context, userID string, key fr.Element, isPosition bool) error {
	return p.update(ctx, userID, func(d *UserData) { d.removeKey(key, isPosition) })
}

// StoreOrderID implements Provider.
func (p *DocumentProvider) StoreOrderID(ctx context.Context, userID string, orderID uint64, pfrKey *fr.Element, isPerp bool) error {
	return p.update(ctx, userID, func(d *UserData) { d.orders(isPerp)[orderID] = pfrString(pfrKey) })
}

// RemoveOrderID implements Provider.
func (p *DocumentProvider) RemoveOrderID(ctx context.Context, userID string, orderID uint64, isPerp bool) error {
	return p.update(ctx, userID, func(d *UserData) { delete(d.orders(isPerp), orderID) })
}

// Ping implements Provider.
func (p *DocumentProvider) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.kv.ping()
}

// Close implements Provider.
func (p *DocumentProvider) Close() error {
	return p.kv.close()
}

// memoryKV keeps documents in a map.
type memoryKV struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory returns a provider that keeps everything in process memory.
func NewMemory() *DocumentProvider {
	return &DocumentProvider{kv: &memoryKV{docs: make(map[string][]byte)}}
}

func (m *memoryKV) get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.docs[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memoryKV) put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *memoryKV) ping() error  { return nil }
func (m *memoryKV) close() error { return nil }
