package handlers

import (
	"net/http"
	"time"

	"github.com/MrSnakeDoc/stackwatch/internal/httpserver/deps"
)

type buildInfo struct {
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	GoVersion string `json:"go_version,omitempty"`
}

type healthzResponse struct {
	Status        string    `json:"status"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartedAt     string    `json:"started_at"`
	InFlight      int       `json:"in_flight"`
	Build         buildInfo `json:"build"`
}

// Healthz is the liveness probe: it answers as long as the process serves
// HTTP, whatever the state of the managed services.
func Healthz(d deps.Deps) http.HandlerFunc {
	build := buildInfo{
		Version:   d.Version,
		Commit:    d.Commit,
		BuildDate: d.BuildDate,
		GoVersion: d.GoVersion,
	}
	startedAt := d.StartTime.UTC().Format(time.RFC3339)

	return func(w http.ResponseWriter, r *http.Request) {
		inFlight := 0
		if d.InFlight != nil {
			inFlight = d.InFlight()
		}
		writeJSON(w, d.Logger, http.StatusOK, healthzResponse{
			Status:        "ok",
			UptimeSeconds: time.Since(d.StartTime).Seconds(),
			StartedAt:     startedAt,
			InFlight:      inFlight,
			Build:         build,
		})
	}
}
