package api

import (
	"net/http"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
)

func (a *API) queueStatistics(w http.ResponseWriter, r *http.Request) {
	ref := refFrom(r)
	size, ok, err := a.eng.QueueSize(r.Context(), ref)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		a.writeError(w, r, cassieq.ErrQueueNotFound)
		return
	}
	writeJSON(w, http.StatusOK, QueueStatisticsResponse{Size: size})
}

func (a *API) repairQueue(w http.ResponseWriter, r *http.Request) {
	res, err := a.eng.RepairQueue(r.Context(), refFrom(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RepairResponse{
		Buckets:  res.Buckets,
		Requeued: res.Requeued,
		Poisoned: res.Poisoned,
		Retired:  res.Retired,
	})
}
