package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/memcrypt/console-gateway/authz"
	"github.com/memcrypt/console-gateway/keycloak"
	"github.com/memcrypt/console-gateway/services"
	"github.com/memcrypt/console-gateway/utils"
	"go.uber.org/zap"
)

// TokenVerifier validates an access token and returns its claims
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*keycloak.Claims, error)
}

// AuthMiddleware authenticates requests against the identity provider
type AuthMiddleware struct {
	verifier TokenVerifier
	sessions SessionStore
	recorder DenialRecorder
	metrics  AccessMetrics
	logger   *zap.Logger
}

// AuthOption customizes an AuthMiddleware
type AuthOption func(*AuthMiddleware)

// WithSessionStore sets where session access tokens come from
func WithSessionStore(s SessionStore) AuthOption {
	return func(m *AuthMiddleware) { m.sessions = s }
}

// WithAuthDenialRecorder sets the sink for refused requests
func WithAuthDenialRecorder(r DenialRecorder) AuthOption {
	return func(m *AuthMiddleware) { m.recorder = r }
}

// WithAuthMetrics sets the metrics sink
func WithAuthMetrics(am AccessMetrics) AuthOption {
	return func(m *AuthMiddleware) { m.metrics = am }
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(verifier TokenVerifier, logger *zap.Logger, opts ...AuthOption) *AuthMiddleware {
	m := &AuthMiddleware{
		verifier: verifier,
		sessions: NewCookieSessionStore(""),
		recorder: noopRecorder{},
		metrics:  noopMetrics{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authenticate selects the request's credential, verifies it and returns the
// principal it names. The session token is preferred over the Authorization
// header. Errors are services.ErrMissingCredential or services.ErrInvalidCredential.
func (m *AuthMiddleware) Authenticate(r *http.Request) (authz.Principal, error) {
	token := m.selectCredential(r)
	if token == "" {
		return authz.Principal{}, services.ErrMissingCredential
	}

	claims, err := m.verifier.Verify(r.Context(), token)
	if err != nil {
		return authz.Principal{}, services.ErrInvalidCredential.Wrap(err)
	}

	return authz.NewPrincipal(claims.Subject, claims.Roles(), claims.OrgID), nil
}

// RequireAuth rejects requests without a valid credential with 401 and
// stores the principal in the request context otherwise
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stripPrincipalHeaders(r)

		principal, err := m.Authenticate(r)
		if err != nil {
			reason := "invalid_credential"
			if errors.Is(err, services.ErrMissingCredential) {
				reason = "missing_credential"
			}
			m.metrics.ObserveAuthentication(reason)

			event := newDenialEvent(r, reason, http.StatusUnauthorized)
			logDenial(m.logger, event, err)
			m.recorder.RecordDenial(r.Context(), event)

			_ = utils.WriteUnauthorized(w, services.PublicMessage(err))
			return
		}
		m.metrics.ObserveAuthentication("authenticated")

		m.logger.Debug("authentication successful",
			zap.String("request_id", GetRequestIDFromContext(r.Context())),
			zap.String("subject_id", principal.SubjectID),
			zap.String("roles", principal.Roles.String()))

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

func (m *AuthMiddleware) selectCredential(r *http.Request) string {
	if m.sessions != nil {
		if token, ok := m.sessions.AccessToken(r); ok {
			return token
		}
	}
	return extractBearerToken(r)
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// stripPrincipalHeaders drops client supplied identity headers so only the
// gate can set them
func stripPrincipalHeaders(r *http.Request) {
	r.Header.Del(HeaderUserID)
	r.Header.Del(HeaderUserRoles)
	r.Header.Del(HeaderUserOrg)
}
