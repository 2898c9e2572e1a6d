package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fleeterp/fms-api/internal/errs"
)

// envelope is the body of every handler response.
type envelope struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"traceId"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, status, msg string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{
		Status:    status,
		Message:   msg,
		Data:      data,
		Timestamp: time.Now().UTC(),
		TraceID:   RequestIDFrom(r.Context()),
	})
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, r, http.StatusOK, "success", "Success", data)
}

// respondError maps err to a status and writes the error envelope.
// Internal details stay in the log.
func respondError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, r, code, "error", msg, nil)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, errs.ErrTenantUnavailable), errors.Is(err, errs.ErrUnsupportedClient):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
