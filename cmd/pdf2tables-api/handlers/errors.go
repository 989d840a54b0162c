package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/pdf2tables/internal/domain"
)

// ErrorDTO is the body of every error response.
type ErrorDTO struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch domain.TypeOf(err) {
	case domain.ErrorTypeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case domain.ErrorTypeTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeNotFound:
		return http.StatusNotFound
	case domain.ErrorTypeConflict, domain.ErrorTypeInvalidTransition:
		return http.StatusConflict
	case domain.ErrorTypeCapacityExceeded:
		return http.StatusServiceUnavailable
	case domain.ErrorTypeStorageUnavailable:
		return http.StatusInsufficientStorage
	case domain.ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)

	if d := domain.RetryAfterOf(err); d > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
	}

	resp := ErrorDTO{
		Error:     string(domain.TypeOf(err)),
		RequestID: chimiddleware.GetReqID(r.Context()),
	}

	var de *domain.DomainError
	if errors.As(err, &de) {
		resp.Message = de.Message
		if de.Err != nil && status < http.StatusInternalServerError {
			resp.Detail = de.Err.Error()
		}
	} else {
		resp.Message = http.StatusText(status)
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
