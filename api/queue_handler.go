package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paradoxical-io/cassieq-sub001/queue"
)

func refFrom(r *http.Request) queue.Ref {
	return queue.Ref{Account: chi.URLParam(r, "account"), Name: chi.URLParam(r, "queue")}
}

func (a *API) createQueue(w http.ResponseWriter, r *http.Request) {
	var req CreateQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: decode body: %w", ErrBadRequest, err))
		return
	}
	ref := queue.Ref{Account: chi.URLParam(r, "account"), Name: req.QueueName}
	opts, err := req.options()
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	def, err := a.eng.CreateQueue(r.Context(), ref, opts...)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, queueResponse(def))
}

func (a *API) listQueues(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	status := queue.Status(r.URL.Query().Get("status"))

	defs, err := a.eng.ListQueues(r.Context(), status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]QueueResponse, 0, len(defs))
	for _, def := range defs {
		if def.Account == account {
			out = append(out, queueResponse(def))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getQueue(w http.ResponseWriter, r *http.Request) {
	def, err := a.eng.GetQueue(r.Context(), refFrom(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queueResponse(def))
}

// deleteQueue answers 202: the version is marked deleting and its rows are
// erased in the background.
func (a *API) deleteQueue(w http.ResponseWriter, r *http.Request) {
	def, err := a.eng.DeleteQueue(r.Context(), refFrom(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queueResponse(def))
}
