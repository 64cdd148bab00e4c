package api

import (
	"net/http"

	"github.com/micro-nova/medialink/internal/models"
)

// getCollection returns the cached view of a path, optionally filtered by ?q=.
// It never waits for the backend.
func (h *Handlers) getCollection(w http.ResponseWriter, r *http.Request) {
	path, err := pathQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if q := r.URL.Query().Get("q"); q != "" {
		writeJSON(w, http.StatusOK, h.ctrl.Filter(path, q))
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Collection(path))
}

type fetchResponse struct {
	Key     models.Key `json:"key"`
	Started bool       `json:"started"`
}

// fetchCollection asks the store to load a path. The node arrives later as a
// collection event on /api/subscribe.
func (h *Handlers) fetchCollection(w http.ResponseWriter, r *http.Request) {
	path, err := pathBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	started := h.ctrl.Fetch(path)
	writeJSON(w, http.StatusAccepted, fetchResponse{Key: path.Key(), Started: started})
}

type invalidateResponse struct {
	Key         models.Key `json:"key"`
	Invalidated bool       `json:"invalidated"`
}

func (h *Handlers) invalidateCollection(w http.ResponseWriter, r *http.Request) {
	path, err := pathBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invalidateResponse{Key: path.Key(), Invalidated: h.ctrl.Invalidate(path)})
}
