package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/micro-nova/medialink/internal/models"
)

// reconnectTimeout bounds how long POST /api/reconnect waits for the attempt.
const reconnectTimeout = 15 * time.Second

func (h *Handlers) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Info())
}

func (h *Handlers) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// reconnect waits for the reconnect attempt (joining one already running)
// and returns the resulting status.
func (h *Handlers) reconnect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), reconnectTimeout)
	defer cancel()

	err := h.ctrl.Reconnect(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.ctrl.Status())
	case errors.Is(err, models.ErrClosed):
		writeError(w, models.ErrUnavailable("shutting down"))
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, models.ErrUnavailable("reconnect still in progress"))
	default:
		writeError(w, models.ErrUnavailable(err.Error()))
	}
}
