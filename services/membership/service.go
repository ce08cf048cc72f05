package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/memcrypt/console-gateway/repositories"
	"go.uber.org/zap"
)

// OrgLookup resolves the organization of a user
type OrgLookup interface {
	GetOrgID(ctx context.Context, userID string) (string, error)
}

// Service answers organization membership questions for access rules,
// reading through an OrgCache
type Service struct {
	users  OrgLookup
	cache  *OrgCache
	logger *zap.Logger
}

// NewService creates a membership service. cache may be nil to disable caching.
func NewService(users OrgLookup, cache *OrgCache, logger *zap.Logger) *Service {
	return &Service{
		users:  users,
		cache:  cache,
		logger: logger,
	}
}

// SameOrganization reports whether userID belongs to orgID. Unknown users
// and users without an organization belong to none.
func (s *Service) SameOrganization(ctx context.Context, userID, orgID string) (bool, error) {
	if userID == "" || orgID == "" {
		return false, nil
	}

	userOrg, err := s.organizationOf(ctx, userID)
	if err != nil {
		return false, err
	}

	return userOrg != "" && strings.EqualFold(userOrg, orgID), nil
}

func (s *Service) organizationOf(ctx context.Context, userID string) (string, error) {
	if s.cache != nil {
		if orgID, ok := s.cache.Get(userID); ok {
			return orgID, nil
		}
	}

	orgID, err := s.users.GetOrgID(ctx, userID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		s.logger.Debug("membership lookup for unknown user", zap.String("user_id", userID))
		orgID = ""
	case err != nil:
		return "", fmt.Errorf("failed to resolve organization of %s: %w", userID, err)
	}

	if s.cache != nil {
		s.cache.Set(userID, orgID)
	}
	return orgID, nil
}

// Forget drops any cached membership of userID
func (s *Service) Forget(userID string) {
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
}
