package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/memcrypt/console-gateway/authz"
	"github.com/memcrypt/console-gateway/services"
	"github.com/memcrypt/console-gateway/utils"
	"go.uber.org/zap"
)

// Authorizer decides whether a principal may perform a request
type Authorizer interface {
	Authorize(ctx context.Context, principal authz.Principal, req authz.Request) authz.Decision
}

// AccessMiddleware enforces the access rules on authenticated requests
type AccessMiddleware struct {
	authorizer Authorizer
	recorder   DenialRecorder
	metrics    AccessMetrics
	logger     *zap.Logger
}

// NewAccessMiddleware creates a new AccessMiddleware. recorder and metrics may be nil.
func NewAccessMiddleware(authorizer Authorizer, recorder DenialRecorder, metrics AccessMetrics, logger *zap.Logger) *AccessMiddleware {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &AccessMiddleware{
		authorizer: authorizer,
		recorder:   recorder,
		metrics:    metrics,
		logger:     logger,
	}
}

// Authorize must run after RequireAuth. Denials get 400 or 403 with the
// shared error envelope; allowed requests continue with the principal
// copied into the X-User-* headers.
func (m *AccessMiddleware) Authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		// a missing principal is treated like one without claims
		principal, _ := GetPrincipalFromContext(ctx)

		start := time.Now()
		decision := m.authorizer.Authorize(ctx, principal, authz.Request{
			Method: r.Method,
			Path:   r.URL.Path,
		})

		if !decision.Allowed {
			m.metrics.ObserveDecision("denied", decision.Reason.String(), time.Since(start))

			event := newDenialEvent(r, decision.Reason.String(), decision.Reason.StatusCode())
			event.SubjectID = principal.SubjectID
			event.OrgID = principal.OrganizationID
			logDenial(m.logger, event, decision.Err)
			m.recorder.RecordDenial(ctx, event)

			writeDenial(w, decision.DomainError(), m.logger)
			return
		}
		m.metrics.ObserveDecision("allowed", "", time.Since(start))

		roles, err := json.Marshal(principal.Roles.Names())
		if err != nil {
			m.logger.Error("failed to encode roles", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "")
			return
		}
		r.Header.Set(HeaderUserID, principal.SubjectID)
		r.Header.Set(HeaderUserRoles, string(roles))
		r.Header.Set(HeaderUserOrg, principal.OrganizationID)

		next.ServeHTTP(w, r)
	})
}

func writeDenial(w http.ResponseWriter, derr *services.DomainError, logger *zap.Logger) {
	var err error
	switch derr.Type {
	case services.ErrorTypeValidation:
		err = utils.WriteBadRequest(w, derr.Message, derr.Details)
	default:
		err = utils.WriteForbidden(w, derr.Message)
	}
	if err != nil {
		logger.Error("failed to write denial response", zap.Error(err))
	}
}
