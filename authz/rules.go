package authz

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultPolicyYAML []byte

// Rule grants a set of roles access to matching paths and methods,
// optionally narrowed by a predicate.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Exclude     []*regexp.Regexp
	Methods     map[string]struct{}
	Roles       RoleSet
	PredicateID PredicateID
	predicate   Predicate
}

// Matches reports whether the rule covers path and method for a holder of roles
func (r *Rule) Matches(path, method string, roles RoleSet) bool {
	if !r.Pattern.MatchString(path) {
		return false
	}
	for _, ex := range r.Exclude {
		if ex.MatchString(path) {
			return false
		}
	}
	if _, ok := r.Methods[method]; !ok {
		return false
	}
	return r.Roles.Intersects(roles)
}

// Predicate returns the resolved predicate, or nil when the rule has none
func (r *Rule) Predicate() Predicate {
	return r.predicate
}

// ResourceAction describes actions addressed as <collection>/<id>/<action>
type ResourceAction struct {
	Collection string
	Field      string
	Actions    []string
}

// Policy is a loaded, validated rule table
type Policy struct {
	Rules           []Rule
	ResourceActions []ResourceAction
}

type ruleSpec struct {
	Name      string   `yaml:"name"`
	Path      string   `yaml:"path"`
	Exclude   []string `yaml:"exclude,omitempty"`
	Methods   []string `yaml:"methods"`
	Roles     []string `yaml:"roles"`
	Predicate string   `yaml:"predicate,omitempty"`
}

type resourceActionSpec struct {
	Collection string   `yaml:"collection"`
	Field      string   `yaml:"field"`
	Actions    []string `yaml:"actions"`
}

type policySpec struct {
	Rules           []ruleSpec           `yaml:"rules"`
	ResourceActions []resourceActionSpec `yaml:"resource_actions"`
}

// ParsePolicy decodes a YAML rule table and resolves its predicates.
// Unknown roles, unknown predicates and bad patterns are errors.
func ParsePolicy(data []byte, predicates *PredicateRegistry) (*Policy, error) {
	var spec policySpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(spec.Rules) == 0 {
		return nil, errors.New("rules: at least one rule is required")
	}

	policy := &Policy{Rules: make([]Rule, 0, len(spec.Rules))}
	for i, rs := range spec.Rules {
		rule, err := compileRule(rs, predicates)
		if err != nil {
			name := rs.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		policy.Rules = append(policy.Rules, rule)
	}

	for _, ra := range spec.ResourceActions {
		if !strings.HasPrefix(ra.Collection, "/") || len(ra.Actions) == 0 {
			return nil, fmt.Errorf("resource action %q: collection path and actions are required", ra.Collection)
		}
		field := ra.Field
		if field == "" {
			field = "id"
		}
		policy.ResourceActions = append(policy.ResourceActions, ResourceAction{
			Collection: strings.TrimRight(ra.Collection, "/"),
			Field:      field,
			Actions:    ra.Actions,
		})
	}

	return policy, nil
}

func compileRule(rs ruleSpec, predicates *PredicateRegistry) (Rule, error) {
	if rs.Path == "" {
		return Rule{}, errors.New("path is required")
	}
	pattern, err := regexp.Compile(rs.Path)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid path pattern: %w", err)
	}
	exclude := make([]*regexp.Regexp, 0, len(rs.Exclude))
	for _, ex := range rs.Exclude {
		re, err := regexp.Compile(ex)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid exclude pattern: %w", err)
		}
		exclude = append(exclude, re)
	}

	if len(rs.Methods) == 0 {
		return Rule{}, errors.New("at least one method is required")
	}
	methods := make(map[string]struct{}, len(rs.Methods))
	for _, m := range rs.Methods {
		methods[strings.ToUpper(m)] = struct{}{}
	}

	if len(rs.Roles) == 0 {
		return Rule{}, errors.New("at least one role is required")
	}
	var roles RoleSet
	for _, name := range rs.Roles {
		role, err := ParseRole(name)
		if err != nil {
			return Rule{}, err
		}
		roles = roles.With(role)
	}

	rule := Rule{
		Name:    rs.Name,
		Pattern: pattern,
		Exclude: exclude,
		Methods: methods,
		Roles:   roles,
	}

	if rs.Predicate != "" {
		id := PredicateID(rs.Predicate)
		if predicates == nil {
			return Rule{}, fmt.Errorf("unknown predicate %q", id)
		}
		p, ok := predicates.Lookup(id)
		if !ok {
			return Rule{}, fmt.Errorf("unknown predicate %q", id)
		}
		rule.PredicateID = id
		rule.predicate = p
	}

	return rule, nil
}

// DefaultPolicy returns the built-in console rule table
func DefaultPolicy(predicates *PredicateRegistry) (*Policy, error) {
	return ParsePolicy(defaultPolicyYAML, predicates)
}

// LoadPolicy reads a rule table from path, or the built-in one when path is empty
func LoadPolicy(path string, predicates *PredicateRegistry) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(predicates)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParsePolicy(data, predicates)
}
