package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/memcrypt/console-gateway/authz"
	"github.com/memcrypt/console-gateway/models"
	"github.com/memcrypt/console-gateway/repositories"
	"github.com/memcrypt/console-gateway/services"
	"go.uber.org/zap"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 1000
	MaxPageSize     = 1000
	pendingLimit    = 1000
)

// Page is one page of a user listing
type Page struct {
	Data       []*models.UserWithOrg `json:"data"`
	TotalCount int                   `json:"totalCount"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"pageSize"`
	TotalPages int                   `json:"totalPages"`
}

// UpdateInput holds the profile fields a user update may change.
// Nil fields are left untouched.
type UpdateInput struct {
	FirstName *string
	LastName  *string
}

// MembershipCache is told when a user's cached membership may be stale
type MembershipCache interface {
	Forget(userID string)
}

// Service implements the console user directory operations
type Service struct {
	users   repositories.UserRepository
	orgs    repositories.OrganizationRepository
	tx      repositories.TransactionManager
	members MembershipCache
	logger  *zap.Logger
}

// NewService creates a user service. members may be nil.
func NewService(
	users repositories.UserRepository,
	orgs repositories.OrganizationRepository,
	tx repositories.TransactionManager,
	members MembershipCache,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:   users,
		orgs:    orgs,
		tx:      tx,
		members: members,
		logger:  logger,
	}
}

// NormalizePage clamps pagination input to the supported range
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// List returns a page of users joined with their organization. Callers
// other than platform admins only see their own organization.
func (s *Service) List(ctx context.Context, principal authz.Principal, page, pageSize int) (*Page, error) {
	page, pageSize = NormalizePage(page, pageSize)

	filter := repositories.UserFilter{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	if !principal.IsPlatformAdmin() {
		filter.OrgID = principal.OrganizationID
	}

	total, err := s.users.Count(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to count users", err)
	}

	list, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to list users", err)
	}

	s.logger.Info("users with org info fetched",
		zap.Int("page", page),
		zap.Int("page_size", pageSize),
		zap.Int("total", total))

	return &Page{
		Data:       list,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// Get returns a single user with its organization
func (s *Service) Get(ctx context.Context, id string) (*models.UserWithOrg, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, services.WrapInternal("failed to get user", err)
	}

	result := &models.UserWithOrg{User: *user}
	if user.OrgID == "" {
		return result, nil
	}

	org, err := s.orgs.GetByID(ctx, user.OrgID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		s.logger.Warn("user references missing organization",
			zap.String("user_id", id),
			zap.String("org_id", user.OrgID))
	case err != nil:
		return nil, services.WrapInternal("failed to get organization", err)
	default:
		result.Organization = org
	}

	return result, nil
}

// ParseUpdate validates a decoded update body. Only firstName and lastName
// are accepted and each present field must be a non-empty string.
func ParseUpdate(body map[string]interface{}) (UpdateInput, error) {
	var invalid []string
	for key := range body {
		if key != "firstName" && key != "lastName" {
			invalid = append(invalid, key)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return UpdateInput{}, services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("Invalid fields: %s. Only firstName and lastName can be updated.", strings.Join(invalid, ", ")), nil)
	}

	var input UpdateInput
	for _, field := range []string{"firstName", "lastName"} {
		raw, present := body[field]
		if !present {
			continue
		}
		value, ok := raw.(string)
		if !ok || strings.TrimSpace(value) == "" {
			return UpdateInput{}, services.NewDomainError(services.ErrorTypeValidation,
				field+" must be a non-empty string", nil)
		}
		if field == "firstName" {
			input.FirstName = &value
		} else {
			input.LastName = &value
		}
	}

	return input, nil
}

// Update changes a user's names
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (*models.User, error) {
	var updated *models.User

	err := s.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		user, err := s.users.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if input.FirstName != nil {
			user.FirstName = *input.FirstName
		}
		if input.LastName != nil {
			user.LastName = *input.LastName
		}
		user.Touch()

		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, services.WrapInternal("failed to update user", err)
	}

	s.logger.Info("user updated",
		zap.String("user_id", id),
		zap.Bool("first_name", input.FirstName != nil),
		zap.Bool("last_name", input.LastName != nil))

	return updated, nil
}

// Approve moves a pending user to approved and enables the account
func (s *Service) Approve(ctx context.Context, id string) error {
	return s.decide(ctx, id, (*models.User).Approve)
}

// Reject moves a pending user to rejected and disables the account
func (s *Service) Reject(ctx context.Context, id string) error {
	return s.decide(ctx, id, (*models.User).Reject)
}

func (s *Service) decide(ctx context.Context, id string, apply func(*models.User)) error {
	id = strings.TrimSpace(id)
	if id == "" || id == "/" {
		return services.ErrMissingResourceID
	}

	err := s.tx.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		user, err := s.users.GetByIDForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return services.ErrApprovalUserNotFound.WithDetail("userId", services.ErrApprovalUserNotFound.Message)
			}
			return err
		}
		if !user.IsPending() {
			return services.ErrUserNotPending.WithDetail("userId", services.ErrUserNotPending.Message)
		}

		apply(user)
		return s.users.Update(ctx, user)
	})
	if err != nil {
		var domainErr *services.DomainError
		if errors.As(err, &domainErr) {
			return err
		}
		return services.WrapInternal("failed to update approval status", err)
	}

	if s.members != nil {
		s.members.Forget(id)
	}
	s.logger.Info("user approval status updated", zap.String("user_id", id))
	return nil
}

// Pending returns users awaiting approval, newest first
func (s *Service) Pending(ctx context.Context) ([]*models.UserWithOrg, error) {
	list, err := s.users.List(ctx, repositories.UserFilter{
		Status: models.UserStatusPending,
		Limit:  pendingLimit,
	})
	if err != nil {
		return nil, services.WrapInternal("failed to list pending users", err)
	}

	s.logger.Info("pending users fetched", zap.Int("count", len(list)))
	return list, nil
}
