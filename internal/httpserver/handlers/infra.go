package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/stackwatch/internal/httpserver/deps"
)

type componentStatus struct {
	OK             bool   `json:"ok"`
	ServicesLoaded *int   `json:"services_loaded,omitempty"`
	InFlight       *int   `json:"in_flight,omitempty"`
	LastUpdate     string `json:"last_update,omitempty"`
	Path           string `json:"path,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Error          string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra reports the health of each component the daemon depends on.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servicesCount := d.MemoryIndex.Count()
		lastUpdate := d.MemoryIndex.GetLastUpdate()
		lastUpdateStr := "never"
		if !lastUpdate.IsZero() {
			lastUpdateStr = lastUpdate.Format("2006-01-02 15:04:05")
		}

		inFlight := 0
		if d.InFlight != nil {
			inFlight = d.InFlight()
		}

		components := map[string]componentStatus{
			"watcher": {
				OK:             isReady(d.Ready),
				ServicesLoaded: &servicesCount,
				LastUpdate:     lastUpdateStr,
				Path:           d.BasePath,
			},
			"executor": {
				OK:       true,
				InFlight: &inFlight,
			},
			"redis": checkRedis(r.Context(), d),
		}

		writeJSON(w, d.Logger, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	if watcher, ok := components["watcher"]; ok && !watcher.OK {
		return "starting"
	}
	// Redis is optional: losing it only stops status publication.
	if redis, ok := components["redis"]; ok && !redis.OK {
		return "degraded"
	}
	return "operational"
}

func checkRedis(parent context.Context, d deps.Deps) componentStatus {
	if d.StatusStore == nil {
		return componentStatus{OK: true, Mode: "disabled"}
	}

	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()

	if err := d.StatusStore.Ping(ctx); err != nil {
		return componentStatus{OK: false, Mode: "unreachable", Error: err.Error()}
	}
	return componentStatus{OK: true, Mode: "publishing"}
}
