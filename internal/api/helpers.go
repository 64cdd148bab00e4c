// Package api implements the HTTP API medialink exposes to rendering layers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/micro-nova/medialink/internal/config"
	"github.com/micro-nova/medialink/internal/models"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctrl   Controller
	events EventBus
}

// Controller is the interface the handlers use to reach the store and the
// connection manager.
type Controller interface {
	Status() models.ConnectionStatus
	Reconnect(ctx context.Context) error
	Fetch(path models.Path) bool
	Collection(path models.Path) models.Collection
	Filter(path models.Path, query string) models.Collection
	Invalidate(path models.Path) bool
	Info() models.Info
	Config() config.Config
	UpdateConfig(upd config.Update) (config.Config, *models.AppError)
}

// EventBus is the interface for subscribing to change events.
type EventBus interface {
	Subscribe(id string) <-chan models.Event
	Unsubscribe(id string)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an AppError as a JSON response.
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.Status)
		_ = json.NewEncoder(w).Encode(appErr)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(models.ErrInternal(err.Error()))
}

// pathQuery reads a path from ?key= or from repeated ?path= parameters.
// With neither, the collection root is used.
func pathQuery(r *http.Request) (models.Path, error) {
	q := r.URL.Query()
	if key := q.Get("key"); key != "" {
		p, err := models.ParseKey(models.Key(key))
		if err != nil {
			return nil, models.ErrBadRequest("invalid key " + key)
		}
		return p, nil
	}
	if segs, ok := q["path"]; ok {
		return models.Path(segs), nil
	}
	return models.RootPath.Clone(), nil
}

// pathBody decodes a PathRequest body.
func pathBody(r *http.Request) (models.Path, error) {
	var req models.PathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, models.ErrBadRequest("invalid JSON: " + err.Error())
	}
	if len(req.Path) == 0 {
		e := models.ErrBadRequest("path is required")
		e.Field = "path"
		return nil, e
	}
	return req.Path, nil
}
