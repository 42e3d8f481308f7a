package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"clinic/reception-service/internal/store"
)

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	kindInvalidRequest = "invalid_request"
	kindUnauthorized   = "unauthorized"
	kindRateLimited    = "rate_limited"
	kindInternal       = "internal"
)

// mapError converts a store failure to an HTTP status and error body. The
// second return is false for failures that carry no kind and must be logged.
func mapError(err error) (int, responseError, bool) {
	var storeErr *store.Error
	if !errors.As(err, &storeErr) {
		return http.StatusInternalServerError, responseError{
			Kind:    kindInternal,
			Code:    "internal_error",
			Message: "internal server error",
		}, false
	}

	status := http.StatusInternalServerError
	switch storeErr.Kind {
	case store.KindNotFound:
		status = http.StatusNotFound
	case store.KindInvalidState:
		status = http.StatusConflict
	case store.KindPolicyViolation:
		status = http.StatusUnprocessableEntity
	case store.KindForbidden:
		status = http.StatusForbidden
	}
	return status, responseError{
		Kind:    string(storeErr.Kind),
		Code:    storeErr.Code,
		Message: storeErr.Message,
	}, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status, body, known := mapError(err)
	if !known {
		h.logger.ErrorContext(r.Context(), "request failed",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestIDFromRequest(r),
		)
	}
	writeJSON(w, status, errorResponse{RequestID: requestIDFromRequest(r), Error: body})
}

func writeError(w http.ResponseWriter, requestID string, status int, kind, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Kind:    kind,
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
