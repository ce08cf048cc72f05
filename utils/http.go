package utils

import (
	"net/http"

	"github.com/goccy/go-json"
)

// FieldError points an error at a single request field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse is the error envelope shared by every endpoint: {error, details?}
type ErrorResponse struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details,omitempty"`
}

// MessageResponse carries a human readable confirmation
type MessageResponse struct {
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with data as the body
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteMessage writes a 200 OK response with a {message} body
func WriteMessage(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// WriteBadRequest writes a 400 Bad Request response with optional field details
func WriteBadRequest(w http.ResponseWriter, message string, details []FieldError) error {
	if message == "" {
		message = "Bad request"
	}
	return WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   message,
		Details: details,
	})
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Authentication required"
	}
	return WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: message})
}

// WriteForbidden writes a 403 Forbidden response
func WriteForbidden(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Insufficient permissions"
	}
	return WriteJSON(w, http.StatusForbidden, ErrorResponse{Error: message})
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: message})
}

// WriteTooManyRequests writes a 429 Too Many Requests response
func WriteTooManyRequests(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Rate limit exceeded"
	}
	return WriteJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: message})
}

// WriteNotImplemented writes a 501 with a {message} body
func WriteNotImplemented(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusNotImplemented, MessageResponse{Message: message})
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal Server Error"
	}
	return WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: message})
}

// WriteError writes an error envelope with an arbitrary status code
func WriteError(w http.ResponseWriter, status int, message string, details []FieldError) error {
	if message == "" {
		message = http.StatusText(status)
	}
	return WriteJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
