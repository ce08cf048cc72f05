package keycloak

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	// ErrInvalidToken is returned when the token is malformed or its signature does not verify
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is not the configured realm
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrInvalidAuthorizedParty is returned when azp is not the configured client
	ErrInvalidAuthorizedParty = errors.New("token not intended for this client")
)

// Config holds configuration for the Keycloak token verifier.
// URL is where the gateway reaches Keycloak (the JWKS is fetched from it);
// PublicURL is the address browsers use and therefore the one stamped
// into the issuer claim. They differ when Keycloak runs on an internal network.
type Config struct {
	URL       string
	PublicURL string
	Realm     string
	ClientID  string

	// Leeway tolerates clock skew on exp/nbf/iat
	Leeway time.Duration
}

// Issuer returns the expected iss claim
func (c Config) Issuer() string {
	base := c.PublicURL
	if base == "" {
		base = c.URL
	}
	return fmt.Sprintf("%s/realms/%s", strings.TrimRight(base, "/"), c.Realm)
}

// JWKSURL returns the realm's certs endpoint
func (c Config) JWKSURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", strings.TrimRight(c.URL, "/"), c.Realm)
}

// Verifier validates Keycloak-issued RS256 access tokens
type Verifier struct {
	keys     *KeySetProvider
	issuer   string
	clientID string
	parser   *jwt.Parser
	logger   *zap.Logger
}

// NewVerifier creates a verifier that resolves signing keys through keys
func NewVerifier(cfg Config, keys *KeySetProvider, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	issuer := cfg.Issuer()
	return &Verifier{
		keys:     keys,
		issuer:   issuer,
		clientID: cfg.ClientID,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.Leeway),
		),
		logger: logger,
	}
}

// Issuer returns the issuer the verifier accepts
func (v *Verifier) Issuer() string {
	return v.issuer
}

// Verify checks signature, issuer, expiry and authorized party and returns the
// token's claims. Every failure wraps one of the package's sentinel errors.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("kid header not found")
		}

		keys, err := v.keys.Get(ctx)
		if err != nil {
			return nil, err
		}
		return keys.Key(kid)
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, fmt.Errorf("%w: expected %s", ErrInvalidIssuer, v.issuer)
		default:
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.AuthorizedParty != v.clientID {
		v.logger.Debug("token azp mismatch",
			zap.String("azp", claims.AuthorizedParty),
			zap.String("expected", v.clientID))
		return nil, ErrInvalidAuthorizedParty
	}

	return claims, nil
}
