package keycloak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// maxJWKSBytes bounds the JWKS response body
const maxJWKSBytes = 1 << 20

// HTTPKeySetFetcher downloads the JWKS document from the realm's certs endpoint
type HTTPKeySetFetcher struct {
	url        string
	httpClient *http.Client
}

// NewHTTPKeySetFetcher creates a fetcher for url. A nil client gets a 10s timeout.
func NewHTTPKeySetFetcher(url string, httpClient *http.Client) *HTTPKeySetFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPKeySetFetcher{
		url:        url,
		httpClient: httpClient,
	}
}

// URL returns the endpoint the fetcher reads from
func (f *HTTPKeySetFetcher) URL() string {
	return f.url
}

// Fetch retrieves and decodes the JWKS document
func (f *HTTPKeySetFetcher) Fetch(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JWKS: %v", ErrJWKSFetchFailed, err)
	}

	return &jwks, nil
}

// BreakerConfig configures the circuit breaker around JWKS retrieval
type BreakerConfig struct {
	// ConsecutiveFailures opens the circuit once reached
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again
	OpenTimeout time.Duration
	// OnStateChange is notified on every transition. Optional.
	OnStateChange func(name string, from, to gobreaker.State)
}

// BreakerFetcher guards a KeySetFetcher with a circuit breaker so an
// unreachable identity provider fails requests fast instead of stacking
// up slow fetches.
type BreakerFetcher struct {
	next KeySetFetcher
	cb   *gobreaker.CircuitBreaker[*JWKS]
}

// NewBreakerFetcher wraps next with a circuit breaker named "keycloak-jwks"
func NewBreakerFetcher(next KeySetFetcher, cfg BreakerConfig, logger *zap.Logger) *BreakerFetcher {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	threshold := cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[*JWKS](gobreaker.Settings{
		Name:        "keycloak-jwks",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	})

	return &BreakerFetcher{next: next, cb: cb}
}

// Fetch runs the wrapped fetch through the breaker
func (f *BreakerFetcher) Fetch(ctx context.Context) (*JWKS, error) {
	jwks, err := f.cb.Execute(func() (*JWKS, error) {
		return f.next.Fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
		}
		return nil, err
	}
	return jwks, nil
}

// State returns the current breaker state
func (f *BreakerFetcher) State() gobreaker.State {
	return f.cb.State()
}
