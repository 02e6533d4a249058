// Package keys derives every private key a wallet uses from two master secrets.
//
// Nothing here is stored: a subaddress pair depends only on (master secrets, token) and a one-time
// address only on (subaddress, counter), so all keys can be recomputed after storage loss by
// walking the counters again.
package keys

import (
	"errors"
	"fmt"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	lru "github.com/hashicorp/golang-lru"

	"invisible/internal/crypto"
)

const (
	// KeyBits bounds master secrets and every trimmed derived key.
	KeyBits = 240

	// CountModulus bounds the per-token note and position counters.
	CountModulus = 50

	defaultCacheSize = 256
)

// ErrInvalidKeyLength is returned when a master secret exceeds KeyBits.
var ErrInvalidKeyLength = errors.New("private keys should be at most 240 bits")

var (
	userIDMask      = mustMask("172815432917432758348972343289652348293569370432238525823094893243")
	privateSeedMask = mustMask("3289567280438953725403208532754302390573452930958285878326574839523")
	viewKeyMask     = mustMask("7689472303258934252343208597532492385943798632767034892572348289573")
	spendKeyMask    = mustMask("8232958253823489479856437527982347891347326348905738437643519378455")
)

func mustMask(s string) fr.Element {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("keys: bad mask " + s)
	}
	return crypto.Big(v)
}

// Subaddress is the per-token spend/view pair.
type Subaddress struct {
	Ksi fr.Element
	Kvi fr.Element
	// PubView is Kvi·G, the input to one-time address derivation.
	PubView bls12377.G1Affine
}

// Option configures an Identity.
type Option func(*options)

type options struct {
	cacheSize int
}

// WithCacheSize sets how many subaddress pairs are memoised.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// Identity holds a user's master secrets and the values derived from them.
type Identity struct {
	privViewKey  fr.Element
	privSpendKey fr.Element
	userID       fr.Element
	privateSeed  fr.Element

	subaddresses *lru.Cache
}

// NewIdentity validates the master secrets and derives the user id and private seed.
// The private seed only depends on the view key, so it can be disclosed without spend authority.
func NewIdentity(privViewKey, privSpendKey *big.Int, opts ...Option) (*Identity, error) {
	if err := checkKey(privViewKey); err != nil {
		return nil, fmt.Errorf("view key: %w", err)
	}
	if err := checkKey(privSpendKey); err != nil {
		return nil, fmt.Errorf("spend key: %w", err)
	}

	o := options{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	cache, err := lru.New(o.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("subaddress cache: %w", err)
	}

	kv := crypto.Big(privViewKey)
	ks := crypto.Big(privSpendKey)
	return &Identity{
		privViewKey:  kv,
		privSpendKey: ks,
		userID:       crypto.Hash(userIDMask, kv, ks),
		privateSeed:  crypto.Hash(privateSeedMask, kv),
		subaddresses: cache,
	}, nil
}

// FromPrivKey derives both master secrets from a single on-chain private key.
func FromPrivKey(privKey *big.Int, opts ...Option) (*Identity, error) {
	k := crypto.Big(privKey)
	view := crypto.TrimBits(crypto.Hash(viewKeyMask, k), KeyBits)
	spend := crypto.TrimBits(crypto.Hash(spendKeyMask, k), KeyBits)
	return NewIdentity(view.BigInt(new(big.Int)), spend.BigInt(new(big.Int)), opts...)
}

func checkKey(k *big.Int) error {
	if k == nil || k.Sign() < 0 || k.BitLen() > KeyBits {
		return ErrInvalidKeyLength
	}
	return nil
}

// UserID is the decimal user id used as the persistence key.
func (id *Identity) UserID() string {
	return crypto.ScalarString(id.userID)
}

// PrivateSeed is the seed for blindings and deposit keys.
func (id *Identity) PrivateSeed() fr.Element {
	return id.privateSeed
}

// PubViewKey returns kv·G.
func (id *Identity) PubViewKey() bls12377.G1Affine {
	return crypto.PublicKey(id.privViewKey)
}

// PubSpendKey returns ks·G.
func (id *Identity) PubSpendKey() bls12377.G1Affine {
	return crypto.PublicKey(id.privSpendKey)
}

// SubaddressKeys returns the (ksi, kvi) pair for token.
func (id *Identity) SubaddressKeys(token uint32) Subaddress {
	if v, ok := id.subaddresses.Get(token); ok {
		return v.(Subaddress)
	}
	sub := DeriveSubaddress(id.privSpendKey, id.privViewKey, token)
	id.subaddresses.Add(token, sub)
	return sub
}

// OneTimeAddressPrivKey returns the private key of the count-th address under token.
func (id *Identity) OneTimeAddressPrivKey(token, count uint32) fr.Element {
	sub := id.SubaddressKeys(token)
	return OneTimeAddressPrivKey(sub.PubView, sub.Ksi, count)
}

// PositionAddress returns the key pair of the count-th position address under token.
func (id *Identity) PositionAddress(token, count uint32) (fr.Element, bls12377.G1Affine) {
	k := id.OneTimeAddressPrivKey(token, count)
	return k, crypto.PublicKey(k)
}

// DepositPrivKey is H(privateSeed, token), independent of the note address scheme.
func (id *Identity) DepositPrivKey(token uint32) fr.Element {
	return crypto.Hash(id.privateSeed, crypto.Uint(uint64(token)))
}

// DepositStarkKey is the x-coordinate of the deposit public key for token.
func (id *Identity) DepositStarkKey(token uint32) *big.Int {
	pub := crypto.PublicKey(id.DepositPrivKey(token))
	return pub.X.BigInt(new(big.Int))
}

// DeriveSubaddress computes the per-token key pair from the master secrets.
func DeriveSubaddress(privSpendKey, privViewKey fr.Element, token uint32) Subaddress {
	t := crypto.Uint(uint64(token))
	ksi := crypto.TrimBits(crypto.Hash(privSpendKey, t), KeyBits)
	kvi := crypto.TrimBits(crypto.Hash(privViewKey, t), KeyBits)
	return Subaddress{Ksi: ksi, Kvi: kvi, PubView: crypto.PublicKey(kvi)}
}

// OneTimeAddressPrivKey computes ko = trim(H(Kvi.x, count)) + ksi.
func OneTimeAddressPrivKey(pubView bls12377.G1Affine, ksi fr.Element, count uint32) fr.Element {
	h := crypto.TrimBits(crypto.Hash(crypto.X(pubView), crypto.Uint(uint64(count))), KeyBits)
	var ko fr.Element
	ko.Add(&h, &ksi)
	return ko
}

// DestinationKey returns the spend-change key pair: the sum of the consumed notes' keys.
func DestinationKey(privKeys []fr.Element) (fr.Element, bls12377.G1Affine) {
	k := crypto.SumScalars(privKeys...)
	return k, crypto.PublicKey(k)
}

// NextCount advances a counter modulo CountModulus.
func NextCount(count uint32) uint32 {
	return (count + 1) % CountModulus
}
