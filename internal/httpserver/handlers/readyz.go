package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/MrSnakeDoc/stackwatch/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready    bool `json:"ready"`
	Services int  `json:"services"`
}

// Readyz returns 503 until the initial reconciliation of the base path has
// been submitted.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := isReady(d.Ready)

		resp := readyzResponse{Ready: ready}
		if d.MemoryIndex != nil {
			resp.Services = d.MemoryIndex.Count()
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if ready {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func isReady(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
