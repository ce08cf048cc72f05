package keycloak

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrJWKSFetchFailed is returned when the key set cannot be retrieved
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")

	// ErrNoUsableKeys is returned when a key set holds no RSA signing keys
	ErrNoUsableKeys = errors.New("JWKS contains no usable signing keys")

	// ErrKeyNotFound is returned when no key matches the token's kid
	ErrKeyNotFound = errors.New("signing key not found in JWKS")
)

// JWKS represents the JSON Web Key Set document
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet is an immutable set of parsed RSA verification keys indexed by kid
type KeySet struct {
	keys map[string]*rsa.PublicKey
}

// NewKeySet parses the RSA signing keys of a JWKS document.
// Encryption keys and non-RSA keys are skipped.
func NewKeySet(jwks *JWKS) (*KeySet, error) {
	if jwks == nil {
		return nil, ErrNoUsableKeys
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for i := range jwks.Keys {
		jwk := &jwks.Keys[i]
		if jwk.Kty != "RSA" || jwk.Use == "enc" || jwk.Kid == "" {
			continue
		}
		pub, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", jwk.Kid, err)
		}
		keys[jwk.Kid] = pub
	}

	if len(keys) == 0 {
		return nil, ErrNoUsableKeys
	}
	return &KeySet{keys: keys}, nil
}

// Key returns the public key for kid
func (k *KeySet) Key(kid string) (*rsa.PublicKey, error) {
	key, ok := k.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// Len returns the number of keys in the set
func (k *KeySet) Len() int {
	return len(k.keys)
}

// jwkToRSAPublicKey converts a JWK to an RSA public key
func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, errors.New("empty modulus or exponent")
	}

	var e int
	for _, b := range eBytes {
		e = e*256 + int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

// KeySetFetcher retrieves the realm's JWKS document
type KeySetFetcher interface {
	Fetch(ctx context.Context) (*JWKS, error)
}

const keySetFlight = "jwks"

// KeySetProvider owns the process-wide key set. The first Get fetches it,
// concurrent first callers share that one fetch, and once published the
// set is served from an atomic pointer without locking. A failed fetch is
// not remembered, so the next caller tries again. Keys are never refreshed.
type KeySetProvider struct {
	fetcher      KeySetFetcher
	fetchTimeout time.Duration
	logger       *zap.Logger

	group   singleflight.Group
	current atomic.Pointer[KeySet]
	fetches atomic.Int64
}

// NewKeySetProvider creates a provider that loads keys through fetcher on first use
func NewKeySetProvider(fetcher KeySetFetcher, fetchTimeout time.Duration, logger *zap.Logger) *KeySetProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeySetProvider{
		fetcher:      fetcher,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// Get returns the key set, fetching it if it has not been loaded yet.
// The shared fetch is detached from the caller's cancellation; a caller
// whose context ends stops waiting and gets ErrJWKSFetchFailed.
func (p *KeySetProvider) Get(ctx context.Context) (*KeySet, error) {
	if ks := p.current.Load(); ks != nil {
		return ks, nil
	}

	ch := p.group.DoChan(keySetFlight, func() (interface{}, error) {
		return p.load(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, ctx.Err())
	}
}

func (p *KeySetProvider) load(ctx context.Context) (*KeySet, error) {
	if ks := p.current.Load(); ks != nil {
		return ks, nil
	}

	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}

	p.fetches.Add(1)
	jwks, err := p.fetcher.Fetch(ctx)
	if err != nil {
		p.logger.Warn("jwks fetch failed", zap.Error(err))
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}

	ks, err := NewKeySet(jwks)
	if err != nil {
		p.logger.Warn("jwks rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}

	p.current.Store(ks)
	p.logger.Info("jwks loaded", zap.Int("keys", ks.Len()))
	return ks, nil
}

// Loaded reports whether a key set has been published
func (p *KeySetProvider) Loaded() bool {
	return p.current.Load() != nil
}

// Fetches returns how many fetch attempts the provider has made
func (p *KeySetProvider) Fetches() int64 {
	return p.fetches.Load()
}
