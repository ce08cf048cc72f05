package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/memcrypt/console-gateway/authz"
	"github.com/memcrypt/console-gateway/middleware"
	"github.com/memcrypt/console-gateway/models"
	"github.com/memcrypt/console-gateway/services/users"
	"github.com/memcrypt/console-gateway/utils"
	"go.uber.org/zap"
)

// UserIDParam is the chi route parameter naming the target user
const UserIDParam = "userId"

// UserService defines the user directory operations served over HTTP
type UserService interface {
	List(ctx context.Context, principal authz.Principal, page, pageSize int) (*users.Page, error)
	Get(ctx context.Context, id string) (*models.UserWithOrg, error)
	Update(ctx context.Context, id string, input users.UpdateInput) (*models.User, error)
	Approve(ctx context.Context, id string) error
	Reject(ctx context.Context, id string) error
	Pending(ctx context.Context) ([]*models.UserWithOrg, error)
}

// ListUsersQuery holds the paging query parameters of GET /api/users
type ListUsersQuery struct {
	Page     int `json:"page" validate:"gte=0"`
	PageSize int `json:"pageSize" validate:"gte=0,lte=1000"`
}

// UserHandler serves the /api/users endpoints. Every route sits behind the
// access gate, so handlers trust the principal found in the context.
type UserHandler struct {
	service UserService
	logger  *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		logger:  logger,
	}
}

// HandleList handles GET /api/users
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, _ := middleware.GetPrincipalFromContext(ctx)

	query := ListUsersQuery{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "pageSize"),
	}
	if err := utils.ValidateStruct(&query); err != nil {
		HandleValidationError(w, err)
		return
	}

	page, err := h.service.List(ctx, principal, query.Page, query.PageSize)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	h.logger.Debug("listed users",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("subject_id", principal.SubjectID),
		zap.Int("count", len(page.Data)),
		zap.Int("total", page.TotalCount))

	_ = utils.WriteOK(w, page)
}

// HandleGet handles GET /api/users/{userId}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Get(r.Context(), chi.URLParam(r, UserIDParam))
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, user)
}

// HandleUpdate handles PUT /api/users/{userId}
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	input, err := users.ParseUpdate(body)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	id := chi.URLParam(r, UserIDParam)
	user, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	h.logger.Info("user updated",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("user_id", id))

	_ = utils.WriteOK(w, user)
}

// HandleDelete handles DELETE /api/users/{userId}. Removal happens in the
// identity provider console, never through this API.
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteNotImplemented(w, "DELETE method not implemented")
}

// HandleApprove handles POST /api/users/{userId}/approve
func (h *UserHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Approve, "approved")
}

// HandleReject handles POST /api/users/{userId}/reject
func (h *UserHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Reject, "rejected")
}

func (h *UserHandler) decide(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) error, verb string) {
	id := chi.URLParam(r, UserIDParam)
	if err := apply(r.Context(), id); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	principal, _ := middleware.GetPrincipalFromContext(r.Context())
	h.logger.Info("user "+verb,
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("user_id", id),
		zap.String("decided_by", principal.SubjectID))

	_ = utils.WriteMessage(w, "User "+verb+" successfully")
}

// HandlePending handles GET /api/users/pending
func (h *UserHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.service.Pending(r.Context())
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, pending)
}

// queryInt reads an integer query parameter. Absent or malformed values read
// as zero, which the service replaces with its defaults.
func queryInt(r *http.Request, name string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
