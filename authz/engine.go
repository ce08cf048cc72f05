package authz

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/memcrypt/console-gateway/services"
	"go.uber.org/zap"
)

// DenyReason says why a request was refused
type DenyReason uint8

const (
	ReasonNone DenyReason = iota
	ReasonMissingPrincipalData
	ReasonMissingResourceID
	ReasonNoMatchingRule
	ReasonPredicateFailed
)

// String returns the reason as a metric/log label
func (r DenyReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMissingPrincipalData:
		return "missing_principal_data"
	case ReasonMissingResourceID:
		return "missing_resource_id"
	case ReasonNoMatchingRule:
		return "no_matching_rule"
	case ReasonPredicateFailed:
		return "predicate_failed"
	default:
		return "unknown"
	}
}

// StatusCode returns the HTTP status a denial maps to
func (r DenyReason) StatusCode() int {
	switch r {
	case ReasonNone:
		return http.StatusOK
	case ReasonMissingResourceID:
		return http.StatusBadRequest
	default:
		return http.StatusForbidden
	}
}

// Decision is the outcome of an access check
type Decision struct {
	Allowed bool
	Reason  DenyReason
	// Rule names the rule that matched, if any
	Rule string
	// Field is the missing identifier for ReasonMissingResourceID
	Field string
	// Err is a predicate failure, kept for logs only
	Err error
}

// DomainError maps a denial to the client facing domain error.
// Rule and role names never leak into the message.
func (d Decision) DomainError() *services.DomainError {
	switch d.Reason {
	case ReasonNone:
		return nil
	case ReasonMissingPrincipalData:
		return services.ErrMissingPrincipalData
	case ReasonMissingResourceID:
		if d.Field == "" || d.Field == "userId" {
			return services.ErrMissingResourceID
		}
		return services.NewDomainError(services.ErrorTypeValidation, "Resource ID is required", nil).
			WithDetail(d.Field, "A valid ID must be provided")
	default:
		return services.ErrInsufficientPermissions
	}
}

func allow(rule string) Decision {
	return Decision{Allowed: true, Rule: rule}
}

func deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

// Engine evaluates a Policy. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	rules           []Rule
	resourceActions []ResourceAction
	logger          *zap.Logger
}

// NewEngine creates an engine over policy
func NewEngine(policy *Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rules:           policy.Rules,
		resourceActions: policy.ResourceActions,
		logger:          logger,
	}
}

// Authorize decides whether principal may perform req.
//
// Order: principal completeness, then the resource-id shape check, then the
// first rule matching path, method and roles. A matched rule's predicate is
// skipped for platform admins.
func (e *Engine) Authorize(ctx context.Context, principal Principal, req Request) Decision {
	if !principal.Complete() {
		return deny(ReasonMissingPrincipalData)
	}

	if field, missing := e.missingResourceID(req.Path); missing {
		d := deny(ReasonMissingResourceID)
		d.Field = field
		return d
	}

	for i := range e.rules {
		rule := &e.rules[i]
		if !rule.Matches(req.Path, req.Method, principal.Roles) {
			continue
		}

		predicate := rule.Predicate()
		if predicate == nil || principal.IsPlatformAdmin() {
			return allow(rule.Name)
		}

		ok, err := predicate(ctx, req, principal)
		if err != nil {
			e.logger.Warn("access predicate failed",
				zap.String("rule", rule.Name),
				zap.String("predicate", string(rule.PredicateID)),
				zap.Error(err))
			d := deny(ReasonPredicateFailed)
			d.Rule = rule.Name
			d.Err = err
			return d
		}
		if !ok {
			d := deny(ReasonPredicateFailed)
			d.Rule = rule.Name
			return d
		}
		return allow(rule.Name)
	}

	return deny(ReasonNoMatchingRule)
}

// missingResourceID reports whether path addresses an id-scoped action
// without an id, e.g. /api/users/approve or /api/users//approve.
func (e *Engine) missingResourceID(path string) (string, bool) {
	for _, ra := range e.resourceActions {
		for _, action := range ra.Actions {
			rest, found := strings.CutSuffix(path, "/"+action)
			if !found {
				continue
			}
			if rest == ra.Collection {
				return ra.Field, true
			}
			id, found := strings.CutPrefix(rest, ra.Collection+"/")
			if !found {
				continue
			}
			if decoded, err := url.PathUnescape(id); err == nil {
				id = decoded
			}
			if strings.Trim(id, "/ ") == "" {
				return ra.Field, true
			}
		}
	}
	return "", false
}
