package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paradoxical-io/cassieq-sub001/dlq"
	"github.com/paradoxical-io/cassieq-sub001/id"
)

const (
	defaultListLimit = 100

	// defaultPurgeAge is how old an entry must be for a purge without
	// olderThanSeconds to remove it.
	defaultPurgeAge = 30 * 24 * time.Hour
)

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %q", ErrBadRequest, name, raw)
	}
	return n, nil
}

func entryIDFrom(r *http.Request) (id.DLQID, error) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryId"))
	if err != nil {
		return entryID, fmt.Errorf("%w: invalid DLQ entry ID: %w", ErrBadRequest, err)
	}
	return entryID, nil
}

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	entries, err := a.eng.ListDLQ(r.Context(), dlq.ListOpts{
		Limit:   limit,
		Offset:  offset,
		Account: r.URL.Query().Get("account"),
		Queue:   r.URL.Query().Get("queue"),
	})
	if err != nil {
		a.writeError(w, r, fmt.Errorf("list dlq: %w", err))
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := entryIDFrom(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	entry, err := a.eng.DLQService().DLQStore().GetDLQ(r.Context(), entryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := entryIDFrom(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	index, err := a.eng.ReplayDLQ(r.Context(), entryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReplayDLQResponse{Index: index})
}

func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	age, err := secondsParam(r, "olderThanSeconds", defaultPurgeAge)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	before := a.eng.Clock().Now().Add(-age)

	count, err := a.eng.DLQService().DLQStore().PurgeDLQ(r.Context(), before)
	if err != nil {
		a.writeError(w, r, fmt.Errorf("purge dlq: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, PurgeDLQResponse{Purged: count})
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DLQService().DLQStore().CountDLQ(r.Context())
	if err != nil {
		a.writeError(w, r, fmt.Errorf("count dlq: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, DLQCountResponse{Count: count})
}
