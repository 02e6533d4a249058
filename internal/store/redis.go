package store

import (
	"context"
	"strconv"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/go-redis/redis"

	"invisible/internal/crypto"
)

// RedisProvider keeps each user's record in native Redis structures:
//
//	wallet:<id>:note_counts      hash  token -> count
//	wallet:<id>:position_counts  hash  token -> count
//	wallet:<id>:note_keys        set   scalar
//	wallet:<id>:position_keys    set   scalar
//	wallet:<id>:orders           hash  order id -> pfr key
//	wallet:<id>:perp_orders      hash  order id -> pfr key
type RedisProvider struct {
	client *redis.Client
}

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects to a Redis server.
func NewRedis(opts RedisOptions) *RedisProvider {
	return FromRedisClient(redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}))
}

// FromRedisClient wraps an existing client.
func FromRedisClient(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client}
}

type redisKeys struct {
	noteCounts, positionCounts, noteKeys, positionKeys, orders, perpOrders string
}

func keysFor(userID string) redisKeys {
	p := "wallet:" + userID + ":"
	return redisKeys{
		noteCounts:     p + "note_counts",
		positionCounts: p + "position_counts",
		noteKeys:       p + "note_keys",
		positionKeys:   p + "position_keys",
		orders:         p + "orders",
		perpOrders:     p + "perp_orders",
	}
}

func (k redisKeys) all() []string {
	return []string{k.noteCounts, k.positionCounts, k.noteKeys, k.positionKeys, k.orders, k.perpOrders}
}

func (k redisKeys) keySet(isPosition bool) string {
	if isPosition {
		return k.positionKeys
	}
	return k.noteKeys
}

func (k redisKeys) orderHash(isPerp bool) string {
	if isPerp {
		return k.perpOrders
	}
	return k.orders
}

// FetchUserData implements Provider.
func (r *RedisProvider) FetchUserData(ctx context.Context, userID string) (*UserData, error) {
	c := r.client.WithContext(ctx)
	k := keysFor(userID)

	n, err := c.Exists(k.all()...).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	d := NewUserData()
	if d.NoteCounts, err = r.counts(c, k.noteCounts); err != nil {
		return nil, err
	}
	if d.PositionCounts, err = r.counts(c, k.positionCounts); err != nil {
		return nil, err
	}
	if d.NotePrivKeys, err = c.SMembers(k.noteKeys).Result(); err != nil {
		return nil, err
	}
	if d.PositionPrivKeys, err = c.SMembers(k.positionKeys).Result(); err != nil {
		return nil, err
	}
	if d.OrderIDs, err = r.orderMap(c, k.orders); err != nil {
		return nil, err
	}
	if d.PerpOrderIDs, err = r.orderMap(c, k.perpOrders); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *RedisProvider) counts(c *redis.Client, key string) (map[uint32]uint32, error) {
	raw, err := c.HGetAll(key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[uint32]uint32, len(raw))
	for field, value := range raw {
		token, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			return nil, err
		}
		count, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, err
		}
		out[uint32(token)] = uint32(count)
	}
	return out, nil
}

func (r *RedisProvider) orderMap(c *redis.Client, key string) (map[uint64]string, error) {
	raw, err := c.HGetAll(key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]string, len(raw))
	for field, value := range raw {
		id, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, err
		}
		out[id] = value
	}
	return out, nil
}

// StoreUserData implements Provider.
func (r *RedisProvider) StoreUserData(ctx context.Context, userID string, noteCounts, positionCounts map[uint32]uint32) error {
	k := keysFor(userID)
	_, err := r.client.WithContext(ctx).TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Del(k.noteCounts, k.positionCounts)
		if len(noteCounts) > 0 {
			pipe.HMSet(k.noteCounts, countFields(noteCounts))
		}
		if len(positionCounts) > 0 {
			pipe.HMSet(k.positionCounts, countFields(positionCounts))
		}
		return nil
	})
	return err
}

func countFields(m map[uint32]uint32) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for token, count := range m {
		out[strconv.FormatUint(uint64(token), 10)] = count
	}
	return out
}

// StorePrivKey implements Provider.
func (r *RedisProvider) StorePrivKey(ctx context.Context, userID string, key fr.Element, isPosition bool) error {
	return r.client.WithContext(ctx).SAdd(keysFor(userID).keySet(isPosition), crypto.ScalarString(key)).Err()
}

// RemovePrivKey implements Provider.
func (r *RedisProvider) RemovePrivKey(ctx context.Context, userID string, key fr.Element, isPosition bool) error {
	return r.client.WithContext(ctx).SRem(keysFor(userID).keySet(isPosition), crypto.ScalarString(key)).Err()
}

// StoreOrderID implements Provider.
func (r *RedisProvider) StoreOrderID(ctx context.Context, userID string, orderID uint64, pfrKey *fr.Element, isPerp bool) error {
	field := strconv.FormatUint(orderID, 10)
	return r.client.WithContext(ctx).HSet(keysFor(userID).orderHash(isPerp), field, pfrString(pfrKey)).Err()
}

// RemoveOrderID implements Provider.
func (r *RedisProvider) RemoveOrderID(ctx context.Context, userID string, orderID uint64, isPerp bool) error {
	field := strconv.FormatUint(orderID, 10)
	return r.client.WithContext(ctx).HDel(keysFor(userID).orderHash(isPerp), field).Err()
}

// Ping implements Provider.
func (r *RedisProvider) Ping(ctx context.Context) error {
	return r.client.WithContext(ctx).Ping().Err()
}

// Close implements Provider.
func (r *RedisProvider) Close() error {
	return r.client.Close()
}
