// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/log"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorMsg writes an error body with an explicit status code
func writeErrorMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeUnauthorized writes a 401 Unauthorized response
func writeUnauthorized(w http.ResponseWriter) {
	writeErrorMsg(w, http.StatusUnauthorized, "unauthorized")
}

// writeForbidden writes a 403 Forbidden response
func writeForbidden(w http.ResponseWriter) {
	writeErrorMsg(w, http.StatusForbidden, "forbidden")
}

// writeDomainError maps the error taxonomy to HTTP status codes. Unexpected
// errors become an opaque 500; the cause goes to the log, not the wire.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsValidation(err):
		writeErrorMsg(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeErrorMsg(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyEnqueued):
		writeErrorMsg(w, http.StatusConflict, "User is already in queue")
	case errors.Is(err, domain.ErrQueueClosed):
		writeErrorMsg(w, http.StatusConflict, "outside scheduled hours")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeErrorMsg(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTenantInactive):
		writeForbidden(w)
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeErrorMsg(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads the request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Validation("body", "invalid JSON")
	}
	return nil
}
