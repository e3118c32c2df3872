package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DoyleJ11/challenge-zone-backend/internal/assignment"
	"github.com/DoyleJ11/challenge-zone-backend/internal/identity"
	"github.com/DoyleJ11/challenge-zone-backend/internal/store"
)

var errForbidden = errors.New("admin access required")

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// statusFor maps domain errors onto HTTP statuses and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case assignment.IsConflict(err):
		return http.StatusConflict, "conflict"
	case assignment.IsValidation(err):
		return http.StatusUnprocessableEntity, "validation"
	case assignment.IsNotFound(err), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case assignment.IsBackend(err):
		return http.StatusServiceUnavailable, "backend"
	case errors.Is(err, identity.ErrNoSession),
		errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrBadCredentials):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// fail writes err with its mapped status. Conflicts carry the message
// users are shown; internal errors never leak their text.
func fail(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusConflict:
		msg = assignment.ConflictMessage
	case http.StatusInternalServerError:
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
