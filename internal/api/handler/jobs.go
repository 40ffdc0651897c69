package handler

import (
	"net/http"

	"github.com/edvin/backupd/internal/api/request"
	"github.com/edvin/backupd/internal/api/response"
)

type Jobs struct {
	sched JobHistory
}

func NewJobs(sched JobHistory) *Jobs {
	return &Jobs{sched: sched}
}

// List returns job history, newest first, optionally filtered by source.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	q := request.ParseJobsQuery(r)
	records := h.sched.History(q.Source, q.Limit)
	response.WriteList(w, http.StatusOK, records, len(records))
}
