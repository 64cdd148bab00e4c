package api

import (
	"encoding/json"
	"net/http"

	"github.com/micro-nova/medialink/internal/config"
	"github.com/micro-nova/medialink/internal/models"
)

func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Config())
}

func (h *Handlers) patchConfig(w http.ResponseWriter, r *http.Request) {
	var upd config.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, models.ErrBadRequest("invalid JSON: "+err.Error()))
		return
	}
	cfg, appErr := h.ctrl.UpdateConfig(upd)
	if appErr != nil {
		writeError(w, appErr)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
