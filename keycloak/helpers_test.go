package keycloak

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testRealm    = "memcrypt"
	testClientID = "console"
	testKid      = "test-kid-123"
)

// generateTestKeyPair creates an RSA key pair for signing test tokens
func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

func publicJWK(publicKey *rsa.PublicKey, kid string) JWK {
	return JWK{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
	}
}

// createMockJWKSServer serves a JWKS with one key and counts requests
func createMockJWKSServer(t *testing.T, publicKey *rsa.PublicKey, kid string, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(JWKS{Keys: []JWK{publicJWK(publicKey, kid)}})
	}))
	t.Cleanup(server.Close)
	return server
}

type tokenOptions struct {
	issuer    string
	azp       string
	subject   string
	orgID     string
	roles     []string
	expiresAt time.Time
	kid       string
	method    jwt.SigningMethod
}

func defaultTokenOptions(issuer string) tokenOptions {
	return tokenOptions{
		issuer:    issuer,
		azp:       testClientID,
		subject:   "u1",
		orgID:     "org1",
		roles:     []string{"ORG_ADMIN", "offline_access"},
		expiresAt: time.Now().Add(time.Hour),
		kid:       testKid,
		method:    jwt.SigningMethodRS256,
	}
}

// createTestToken signs a Keycloak-shaped access token
func createTestToken(t *testing.T, privateKey *rsa.PrivateKey, opts tokenOptions) string {
	t.Helper()
	now := time.Now()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    opts.issuer,
			Subject:   opts.subject,
			ExpiresAt: jwt.NewNumericDate(opts.expiresAt),
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		},
		AuthorizedParty: opts.azp,
		RealmAccess:     RealmAccess{Roles: opts.roles},
		OrgID:           opts.orgID,
		Email:           "user@example.com",
	}

	token := jwt.NewWithClaims(opts.method, claims)
	if opts.kid != "" {
		token.Header["kid"] = opts.kid
	}

	tokenString, err := token.SignedString(privateKey)
	require.NoError(t, err)
	return tokenString
}

// stubFetcher is a KeySetFetcher with scripted results
type stubFetcher struct {
	calls atomic.Int64
	delay time.Duration
	fetch func(call int64) (*JWKS, error)
}

func (s *stubFetcher) Fetch(ctx context.Context) (*JWKS, error) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.fetch(n)
}

func newStatusServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}
