package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
)

// APIError is the error body of every JSON endpoint
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// JSON writes v with the given status
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Error("Failed to encode response: %v", err)
	}
}

// Error writes an APIError
func Error(w http.ResponseWriter, message, code string, status int) {
	JSON(w, status, APIError{Code: code, Message: message})
}

// Decode reads a JSON request body, rejecting unknown fields
func Decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// ServiceError maps an engine error to a status and APIError
func ServiceError(w http.ResponseWriter, err error) {
	var cfgErr *services.ConfigurationError
	var permanent *services.PermanentTaskFailureError

	switch {
	case errors.As(err, &cfgErr):
		JSON(w, http.StatusBadRequest, APIError{Code: "CONFIGURATION_ERROR", Message: cfgErr.Reason, Field: cfgErr.Field})
	case errors.Is(err, repository.ErrNotFound):
		Error(w, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidTransition):
		Error(w, err.Error(), "INVALID_TRANSITION", http.StatusConflict)
	case errors.Is(err, services.ErrTaskNotOwned):
		Error(w, err.Error(), "TASK_NOT_OWNED", http.StatusConflict)
	case errors.Is(err, services.ErrCampaignNotActive):
		Error(w, err.Error(), "CAMPAIGN_NOT_ACTIVE", http.StatusConflict)
	case errors.Is(err, services.ErrHashNotInList):
		Error(w, err.Error(), "HASH_NOT_IN_LIST", http.StatusUnprocessableEntity)
	case errors.As(err, &permanent):
		Error(w, permanent.Error(), "PERMANENT_TASK_FAILURE", http.StatusConflict)
	default:
		debug.Error("Request failed: %v", err)
		Error(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}
