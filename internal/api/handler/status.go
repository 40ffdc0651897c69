package handler

import (
	"net/http"

	"github.com/edvin/backupd/internal/api/response"
	"github.com/edvin/backupd/internal/model"
)

// JobHistory is the scheduler surface the status API reads from. All
// accessors return snapshots safe to serialize without locking.
type JobHistory interface {
	RunningJobs() []model.RunningJob
	History(sourceID string, limit int) []model.JobRecord
	Sources() []model.Source
}

type Status struct {
	sched JobHistory
}

func NewStatus(sched JobHistory) *Status {
	return &Status{sched: sched}
}

type statusResponse struct {
	Running           []model.RunningJob `json:"running"`
	SourcesConfigured int                `json:"sources_configured"`
}

// Get returns the running-job snapshot across all sources.
func (h *Status) Get(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, statusResponse{
		Running:           h.sched.RunningJobs(),
		SourcesConfigured: len(h.sched.Sources()),
	})
}
