package handlers

import (
	"net/http"

	"github.com/memcrypt/console-gateway/middleware"
	"github.com/memcrypt/console-gateway/services"
	"github.com/memcrypt/console-gateway/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps service layer errors to HTTP responses.
// Internal and unknown failures never expose their cause to the client.
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	message := services.PublicMessage(err)
	details := services.GetErrorDetails(err)

	switch {
	case services.IsValidationError(err):
		_ = utils.WriteBadRequest(w, message, details)
	case services.IsNotFoundError(err):
		_ = utils.WriteNotFound(w, message)
	case services.IsUnauthorizedError(err):
		_ = utils.WriteUnauthorized(w, message)
	case services.IsForbiddenError(err):
		_ = utils.WriteForbidden(w, message)
	case services.IsRateLimitError(err):
		_ = utils.WriteTooManyRequests(w, message)
	case services.IsConflictError(err):
		_ = utils.WriteError(w, http.StatusConflict, message, details)
	case services.IsExternalError(err):
		logger.Error("upstream dependency failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		_ = utils.WriteError(w, http.StatusBadGateway, "", nil)
	default:
		logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
	}
}

// HandleValidationError writes a 400 for struct validation failures
func HandleValidationError(w http.ResponseWriter, err error) {
	if utils.IsValidationError(err) {
		_ = utils.WriteBadRequest(w, "Validation failed", utils.GetValidationFields(err))
		return
	}
	_ = utils.WriteBadRequest(w, err.Error(), nil)
}
