package deps

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/stackwatch/internal/index"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	AllowedCIDRS []string           // IPs allowed to access the status endpoints
	TrustProxy   bool               // true if running behind a trusted reverse proxy
	BasePath     string             // watched directory, reported by /infra
	MemoryIndex  *index.MemoryIndex // service snapshots published by the orchestrator
	Ready        <-chan struct{}    // closed once startup reconciliation is done
	InFlight     func() int         // number of compose actions currently running
	StatusStore  Pinger             // nil when the redis publisher is disabled
	Metrics      http.Handler       // nil disables /metrics
}
