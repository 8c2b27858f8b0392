package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
)

var errBadRequest = errors.New("malformed request body")

type apiError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type response struct {
	State *authflow.AttemptState `json:"state,omitempty"`
	Error *apiError              `json:"error,omitempty"`
}

type errorMapping struct {
	err    error
	status int
	kind   string
}

var errorTable = []errorMapping{
	{authflow.ErrNotRegistered, http.StatusNotFound, "not_registered"},
	{authflow.ErrInvalidCredential, http.StatusUnauthorized, "invalid_credential"},
	{authflow.ErrAttemptsExhausted, http.StatusTooManyRequests, "attempts_exhausted"},
	{authflow.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{authflow.ErrInvalidStep, http.StatusConflict, "invalid_step"},
	{authflow.ErrAttemptConflict, http.StatusConflict, "attempt_conflict"},
	{authflow.ErrAttemptNotFound, http.StatusGone, "attempt_not_found"},
	{authflow.ErrEnrollmentExpired, http.StatusGone, "enrollment_expired"},
	{authflow.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{authflow.ErrPasswordRequired, http.StatusBadRequest, "password_required"},
	{authflow.ErrTwoFactorAlreadyEnabled, http.StatusConflict, "two_factor_enabled"},
	{authflow.ErrTwoFactorNotEnabled, http.StatusConflict, "two_factor_not_enabled"},
	{errBadRequest, http.StatusBadRequest, "bad_request"},
}

// classify maps err to a status code and a client-safe error. Unknown
// errors become 503 without exposing the backend message.
func classify(err error) (int, *apiError) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, &apiError{Kind: m.kind, Message: m.err.Error()}
		}
	}
	return http.StatusServiceUnavailable, &apiError{Kind: "unavailable", Message: authflow.ErrUnavailable.Error()}
}

func (h *Handler) writeError(w http.ResponseWriter, state *authflow.AttemptState, err error) {
	status, body := classify(err)
	if status == http.StatusServiceUnavailable {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, response{State: state, Error: body})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}
