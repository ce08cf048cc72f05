package authz

import (
	"context"
	"fmt"
	"strings"
)

// Request is the part of an HTTP request an access decision looks at
type Request struct {
	Method string
	Path   string
}

// LastSegment returns the final path segment
func (r Request) LastSegment() string {
	trimmed := strings.TrimRight(r.Path, "/")
	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}

// Predicate is an extra condition a rule can attach beyond role membership
type Predicate func(ctx context.Context, req Request, principal Principal) (bool, error)

// PredicateID names a registered predicate so rule tables stay plain data
type PredicateID string

const (
	// PredicateSelfOrSameOrg allows access to one's own user record or to users of one's organization
	PredicateSelfOrSameOrg PredicateID = "self_or_same_org"
)

// MembershipChecker answers whether a user belongs to an organization
type MembershipChecker interface {
	SameOrganization(ctx context.Context, userID, orgID string) (bool, error)
}

// PredicateRegistry resolves predicate ids to implementations
type PredicateRegistry struct {
	predicates map[PredicateID]Predicate
}

// NewPredicateRegistry creates an empty registry
func NewPredicateRegistry() *PredicateRegistry {
	return &PredicateRegistry{predicates: make(map[PredicateID]Predicate)}
}

// DefaultPredicates registers the built-in predicates
func DefaultPredicates(members MembershipChecker) *PredicateRegistry {
	reg := NewPredicateRegistry()
	reg.MustRegister(PredicateSelfOrSameOrg, SelfOrSameOrg(members))
	return reg
}

// Register adds a predicate under id. Ids are unique.
func (r *PredicateRegistry) Register(id PredicateID, p Predicate) error {
	if id == "" || p == nil {
		return fmt.Errorf("predicate id and implementation are required")
	}
	if _, exists := r.predicates[id]; exists {
		return fmt.Errorf("predicate %q already registered", id)
	}
	r.predicates[id] = p
	return nil
}

// MustRegister is Register that panics on error
func (r *PredicateRegistry) MustRegister(id PredicateID, p Predicate) {
	if err := r.Register(id, p); err != nil {
		panic(err)
	}
}

// Lookup returns the predicate registered under id
func (r *PredicateRegistry) Lookup(id PredicateID) (Predicate, bool) {
	p, ok := r.predicates[id]
	return p, ok
}

// SelfOrSameOrg allows a principal to reach the user named by the last path
// segment when it is the principal itself, or when members reports that user
// as part of the principal's organization.
func SelfOrSameOrg(members MembershipChecker) Predicate {
	return func(ctx context.Context, req Request, principal Principal) (bool, error) {
		target := req.LastSegment()
		if target == "" {
			return false, nil
		}
		if target == principal.SubjectID {
			return true, nil
		}
		if members == nil {
			return false, nil
		}
		return members.SameOrganization(ctx, target, principal.OrganizationID)
	}
}
