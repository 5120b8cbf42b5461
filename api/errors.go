package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
)

// ErrBadRequest marks a request the API could not decode.
var ErrBadRequest = errors.New("cassieq/api: bad request")

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{cassieq.ErrInvalidConfig, http.StatusBadRequest, "invalid_queue"},
	{cassieq.ErrInvalidReceipt, http.StatusBadRequest, "invalid_receipt"},
	{cassieq.ErrQueueNotFound, http.StatusNotFound, "queue_not_found"},
	{cassieq.ErrMessageNotFound, http.StatusNotFound, "message_not_found"},
	{cassieq.ErrDLQNotFound, http.StatusNotFound, "dlq_entry_not_found"},
	{cassieq.ErrQueueExists, http.StatusConflict, "queue_exists"},
	{cassieq.ErrAlreadyDeleting, http.StatusConflict, "queue_deleting"},
	{cassieq.ErrStaleReceipt, http.StatusConflict, "stale_receipt"},
	{cassieq.ErrThrottled, http.StatusTooManyRequests, "throttled"},
	{cassieq.ErrTransient, http.StatusServiceUnavailable, "transient"},
}

// ErrorForCode returns the error behind an ErrorResponse code, or nil for
// an unknown code.
func ErrorForCode(code string) error {
	for _, m := range errorStatus {
		if m.code == code {
			return m.err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			writeJSON(w, m.status, ErrorResponse{Error: err.Error(), Code: m.code})
			return
		}
	}
	a.logger.Error("cassieq/api: request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "internal"})
}
