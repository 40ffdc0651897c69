package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/backupd/internal/api/response"
	"github.com/edvin/backupd/internal/model"
)

// BackupLister lists the remote objects stored for one source.
type BackupLister interface {
	ListBackups(ctx context.Context, sourceID string) ([]model.RemoteObject, error)
}

type Source struct {
	sched JobHistory
	store BackupLister
}

func NewSource(sched JobHistory, store BackupLister) *Source {
	return &Source{sched: sched, store: store}
}

// List returns the configured sources. Hook commands never serialize.
func (h *Source) List(w http.ResponseWriter, _ *http.Request) {
	sources := h.sched.Sources()
	response.WriteList(w, http.StatusOK, sources, len(sources))
}

// ListBackups returns the live remote listing for one source, newest first.
func (h *Source) ListBackups(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")

	if !h.knownSource(sourceID) {
		response.WriteError(w, http.StatusNotFound, "unknown source")
		return
	}

	objects, err := h.store.ListBackups(r.Context(), sourceID)
	if err != nil {
		response.WriteError(w, http.StatusBadGateway, "object store listing failed")
		return
	}

	response.WriteList(w, http.StatusOK, objects, len(objects))
}

func (h *Source) knownSource(id string) bool {
	for _, src := range h.sched.Sources() {
		if src.ID == id {
			return true
		}
	}
	return false
}
