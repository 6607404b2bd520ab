package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/stackwatch/internal/domain"
	"github.com/MrSnakeDoc/stackwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

type servicesResponse struct {
	Count      int               `json:"count"`
	LastUpdate string            `json:"last_update"`
	Services   []domain.Snapshot `json:"services"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Services lists every known service, sorted by name.
func Services(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snaps := d.MemoryIndex.GetAllServices()
		if snaps == nil {
			snaps = []domain.Snapshot{}
		}

		lastUpdate := "never"
		if t := d.MemoryIndex.GetLastUpdate(); !t.IsZero() {
			lastUpdate = t.UTC().Format(time.RFC3339)
		}

		writeJSON(w, d.Logger, http.StatusOK, servicesResponse{
			Count:      len(snaps),
			LastUpdate: lastUpdate,
			Services:   snaps,
		})
	}
}

// Service returns the snapshot of a single service, or 404.
func Service(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		snap, ok := d.MemoryIndex.GetService(name)
		if !ok {
			writeJSON(w, d.Logger, http.StatusNotFound, errorResponse{Error: "unknown service: " + name})
			return
		}
		writeJSON(w, d.Logger, http.StatusOK, snap)
	}
}

func writeJSON(w http.ResponseWriter, log logger.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("failed to write response", logger.Error(err))
	}
}
