package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/memcrypt/console-gateway/authz"
	"github.com/memcrypt/console-gateway/keycloak"
	"github.com/memcrypt/console-gateway/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockTokenVerifier is a mock implementation of TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) Verify(ctx context.Context, token string) (*keycloak.Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*keycloak.Claims), args.Error(1)
}

// MockDenialRecorder is a mock implementation of DenialRecorder
type MockDenialRecorder struct {
	mock.Mock
}

func (m *MockDenialRecorder) RecordDenial(ctx context.Context, event DenialEvent) {
	m.Called(ctx, event)
}

type countingMetrics struct {
	auth      map[string]int
	decisions map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{auth: map[string]int{}, decisions: map[string]int{}}
}

func (c *countingMetrics) ObserveAuthentication(outcome string) { c.auth[outcome]++ }

func (c *countingMetrics) ObserveDecision(outcome, reason string, _ time.Duration) {
	c.decisions[outcome+"/"+reason]++
}

func orgAdminClaims(sub, org string) *keycloak.Claims {
	return &keycloak.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
		AuthorizedParty:  "console",
		RealmAccess:      keycloak.RealmAccess{Roles: []string{"ORG_ADMIN", "offline_access"}},
		OrgID:            org,
	}
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid bearer token allows request", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, logger)

		verifier.On("Verify", mock.Anything, "valid-token").Return(orgAdminClaims("u1", "org1"), nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := GetPrincipalFromContext(r.Context())
			require.True(t, ok)
			assert.Equal(t, "u1", principal.SubjectID)
			assert.Equal(t, "org1", principal.OrganizationID)
			assert.Equal(t, authz.NewRoleSet(authz.RoleOrgAdmin), principal.Roles)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		verifier.AssertExpectations(t)
	})

	t.Run("bearer scheme is case insensitive", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, logger)
		verifier.On("Verify", mock.Anything, "tok").Return(orgAdminClaims("u1", "org1"), nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "bEaReR tok")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("session token takes precedence over header", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, logger, WithSessionStore(NewCookieSessionStore("")))

		verifier.On("Verify", mock.Anything, "session-token").Return(orgAdminClaims("u-session", "org1"), nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := GetPrincipalFromContext(r.Context())
			assert.Equal(t, "u-session", principal.SubjectID)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer header-token")
		req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "session-token"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		verifier.AssertExpectations(t)
		verifier.AssertNotCalled(t, "Verify", mock.Anything, "header-token")
	})

	t.Run("missing credential returns 401", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		recorder := new(MockDenialRecorder)
		metrics := newCountingMetrics()
		mw := NewAuthMiddleware(verifier, logger, WithAuthDenialRecorder(recorder), WithAuthMetrics(metrics))

		recorder.On("RecordDenial", mock.Anything, mock.MatchedBy(func(e DenialEvent) bool {
			return e.Reason == "missing_credential" && e.Status == http.StatusUnauthorized && e.Path == "/api/users"
		})).Once()

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"No token provided"}`, w.Body.String())
		assert.Equal(t, 1, metrics.auth["missing_credential"])
		verifier.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
		recorder.AssertExpectations(t)
	})

	t.Run("malformed authorization header counts as missing", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, logger)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		for _, header := range []string{"Basic abc", "Bearer", "Bearer   ", "token"} {
			req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
			req.Header.Set("Authorization", header)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code, header)
			assert.JSONEq(t, `{"error":"No token provided"}`, w.Body.String(), header)
		}
	})

	t.Run("verification failure returns 401 invalid token", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		metrics := newCountingMetrics()
		mw := NewAuthMiddleware(verifier, logger, WithAuthMetrics(metrics))

		verifier.On("Verify", mock.Anything, "bad-token").Return(nil, keycloak.ErrInvalidIssuer)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"Invalid token"}`, w.Body.String())
		assert.Equal(t, 1, metrics.auth["invalid_credential"])
	})

	t.Run("key set outage fails closed", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, logger)

		verifier.On("Verify", mock.Anything, "tok").Return(nil, keycloak.ErrJWKSFetchFailed)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"Invalid token"}`, w.Body.String())
	})

	t.Run("inbound principal headers are stripped", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, logger)
		verifier.On("Verify", mock.Anything, "tok").Return(orgAdminClaims("u1", "org1"), nil)

		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get(HeaderUserID))
			assert.Empty(t, r.Header.Get(HeaderUserRoles))
			assert.Empty(t, r.Header.Get(HeaderUserOrg))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer tok")
		req.Header.Set(HeaderUserID, "attacker")
		req.Header.Set(HeaderUserRoles, `["PLATFORM_ADMIN"]`)
		req.Header.Set(HeaderUserOrg, "org-x")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAuthenticate(t *testing.T) {
	logger := zap.NewNop()

	t.Run("same token yields identical principals", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, logger)
		verifier.On("Verify", mock.Anything, "tok").Return(orgAdminClaims("u1", "org1"), nil)

		req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		req.Header.Set("Authorization", "Bearer tok")

		first, err := mw.Authenticate(req)
		require.NoError(t, err)
		second, err := mw.Authenticate(req)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("errors distinguish missing from invalid", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, logger)
		verifier.On("Verify", mock.Anything, "tok").Return(nil, errors.New("boom"))

		_, err := mw.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, err, services.ErrMissingCredential)
		assert.NotErrorIs(t, err, services.ErrInvalidCredential)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer tok")
		_, err = mw.Authenticate(req)
		assert.ErrorIs(t, err, services.ErrInvalidCredential)
		assert.NotErrorIs(t, err, services.ErrMissingCredential)
	})

	t.Run("claims without organization still authenticate", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		mw := NewAuthMiddleware(verifier, logger)
		verifier.On("Verify", mock.Anything, "tok").Return(orgAdminClaims("u1", ""), nil)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer tok")
		principal, err := mw.Authenticate(req)

		require.NoError(t, err)
		assert.False(t, principal.Complete())
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"empty", "", ""},
		{"bearer", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"lower case scheme", "bearer abc", "abc"},
		{"wrong scheme", "Basic abc", ""},
		{"no token", "Bearer", ""},
		{"surrounding space", "Bearer  abc ", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(req))
		})
	}
}

func TestCookieSessionStore(t *testing.T) {
	store := NewCookieSessionStore("custom")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := store.AccessToken(req)
	assert.False(t, ok)

	req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "other"})
	_, ok = store.AccessToken(req)
	assert.False(t, ok)

	req.AddCookie(&http.Cookie{Name: "custom", Value: "tok"})
	token, ok := store.AccessToken(req)
	assert.True(t, ok)
	assert.Equal(t, "tok", token)
}
