package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/MrEthical07/goIdentity/rbac"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]errorBody{"error": {Code: code, Message: msg}})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// writeError maps engine errors to HTTP statuses. Clients only see the
// message of the matched sentinel; wrapped causes stay in the server log.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	c := classify(err)
	if c.status == http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeErrorCode(w, c.status, c.code, publicMessage(err, c))
}

type classification struct {
	sentinel error
	status   int
	code     string
}

// classifications is ordered: the first match wins, so ErrRefreshReplay
// precedes the ErrSessionNotFound it is joined with.
var classifications = []classification{
	{goIdentity.ErrRefreshReplay, http.StatusUnauthorized, "refresh_replay"},
	{goIdentity.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized"},
	{goIdentity.ErrTokenExpired, http.StatusUnauthorized, "unauthorized"},
	{goIdentity.ErrTokenInvalid, http.StatusUnauthorized, "unauthorized"},
	{goIdentity.ErrSessionNotFound, http.StatusUnauthorized, "unauthorized"},
	{goIdentity.ErrAccountUnverified, http.StatusForbidden, "unverified"},
	{goIdentity.ErrForbidden, http.StatusForbidden, "forbidden"},
	{goIdentity.ErrLoginRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{goIdentity.ErrRefreshRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{goIdentity.ErrResetRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{goIdentity.ErrEmailVerificationRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{goIdentity.ErrEmailTaken, http.StatusConflict, "conflict"},
	{goIdentity.ErrUsernameTaken, http.StatusConflict, "conflict"},
	{goIdentity.ErrAlreadyVerified, http.StatusConflict, "conflict"},
	{goIdentity.ErrConflict, http.StatusConflict, "conflict"},
	{goIdentity.ErrWeakPassword, http.StatusBadRequest, "invalid"},
	{goIdentity.ErrPasswordReuse, http.StatusBadRequest, "invalid"},
	{goIdentity.ErrInvalidInput, http.StatusBadRequest, "invalid"},
	{goIdentity.ErrInvalidTenant, http.StatusBadRequest, "invalid_tenant"},
	{goIdentity.ErrPasswordResetInvalid, http.StatusBadRequest, "invalid"},
	{goIdentity.ErrPasswordResetAttempts, http.StatusBadRequest, "invalid"},
	{goIdentity.ErrEmailVerificationInvalid, http.StatusBadRequest, "invalid"},
	{rbac.ErrSystemEntry, http.StatusUnprocessableEntity, "system_entry"},
	{goIdentity.ErrNotFound, http.StatusNotFound, "not_found"},
	{goIdentity.ErrRegistrationDisabled, http.StatusNotFound, "disabled"},
	{goIdentity.ErrPasswordResetDisabled, http.StatusNotFound, "disabled"},
	{goIdentity.ErrEmailVerificationDisabled, http.StatusNotFound, "disabled"},
	{goIdentity.ErrEngineNotReady, http.StatusServiceUnavailable, "unavailable"},
}

var internalClassification = classification{goIdentity.ErrInternal, http.StatusInternalServerError, "internal"}

func classify(err error) classification {
	for _, c := range classifications {
		if errors.Is(err, c.sentinel) {
			return c
		}
	}
	return internalClassification
}

// publicMessage returns the text sent to the client. Policy and field
// validation failures keep their detail because it only describes the
// caller's own input.
func publicMessage(err error, c classification) string {
	var weak *password.WeakPasswordError
	switch {
	case errors.As(err, &weak):
		return weak.Error()
	case c.sentinel == goIdentity.ErrInvalidInput:
		return err.Error()
	default:
		return c.sentinel.Error()
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
