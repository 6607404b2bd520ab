package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/stackwatch/internal/domain"
	"github.com/MrSnakeDoc/stackwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/stackwatch/internal/index"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestDeps(ready bool) deps.Deps {
	idx := index.NewMemoryIndex()
	idx.UpdateServices([]domain.Snapshot{
		{Name: "svc-b", Path: "/srv/svc-b", State: domain.StateFailed, LastAction: "up", LastError: "boom"},
		{Name: "svc-a", Path: "/srv/svc-a", State: domain.StateRunning, LastAction: "up", LastOK: true},
	})

	ch := make(chan struct{})
	if ready {
		close(ch)
	}

	return deps.Deps{
		Logger:      logger.NewNop(),
		StartTime:   time.Now().Add(-time.Minute),
		Version:     "v1.2.3",
		BasePath:    "/srv",
		MemoryIndex: idx,
		Ready:       ch,
		InFlight:    func() int { return 2 },
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("stackwatch_up 1\n"))
		}),
	}
}

func do(t *testing.T, h http.Handler, path string, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := New(":0", logger.NewNop(), newTestDeps(false))
	rec := do(t, srv.Handler(), "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		InFlight      int     `json:"in_flight"`
		Build         struct {
			Version string `json:"version"`
		} `json:"build"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "v1.2.3", body.Build.Version)
	assert.Equal(t, 2, body.InFlight)
	assert.Greater(t, body.UptimeSeconds, 0.0)
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name  string
		ready bool
		want  int
	}{
		{name: "not reconciled yet", ready: false, want: http.StatusServiceUnavailable},
		{name: "reconciled", ready: true, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(":0", logger.NewNop(), newTestDeps(tt.ready))
			rec := do(t, srv.Handler(), "/readyz", "")
			assert.Equal(t, tt.want, rec.Code)

			var body struct {
				Ready    bool `json:"ready"`
				Services int  `json:"services"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.ready, body.Ready)
			assert.Equal(t, 2, body.Services)
		})
	}
}

func TestServicesListIsSorted(t *testing.T) {
	srv := New(":0", logger.NewNop(), newTestDeps(true))
	rec := do(t, srv.Handler(), "/services", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Count    int               `json:"count"`
		Services []domain.Snapshot `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "svc-a", body.Services[0].Name)
	assert.Equal(t, "svc-b", body.Services[1].Name)
	assert.Equal(t, "boom", body.Services[1].LastError)
}

func TestServiceByName(t *testing.T) {
	srv := New(":0", logger.NewNop(), newTestDeps(true))

	rec := do(t, srv.Handler(), "/services/svc-a", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap domain.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "/srv/svc-a", snap.Path)
	assert.Equal(t, domain.StateRunning, snap.State)

	rec = do(t, srv.Handler(), "/services/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInfra(t *testing.T) {
	tests := []struct {
		name  string
		store deps.Pinger
		ready bool
		mode  string
	}{
		{name: "redis disabled", ready: true, mode: "operational"},
		{name: "redis reachable", store: fakePinger{}, ready: true, mode: "operational"},
		{name: "redis down", store: fakePinger{err: errors.New("dial tcp: refused")}, ready: true, mode: "degraded"},
		{name: "still reconciling", ready: false, mode: "starting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDeps(tt.ready)
			d.StatusStore = tt.store
			srv := New(":0", logger.NewNop(), d)

			rec := do(t, srv.Handler(), "/infra", "")
			require.Equal(t, http.StatusOK, rec.Code)

			var body struct {
				Mode       string `json:"mode"`
				Components map[string]struct {
					OK       bool `json:"ok"`
					InFlight *int `json:"in_flight"`
				} `json:"components"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.mode, body.Mode)
			require.NotNil(t, body.Components["executor"].InFlight)
			assert.Equal(t, 2, *body.Components["executor"].InFlight)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := New(":0", logger.NewNop(), newTestDeps(true))
	rec := do(t, srv.Handler(), "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stackwatch_up 1")

	d := newTestDeps(true)
	d.Metrics = nil
	srv = New(":0", logger.NewNop(), d)
	rec = do(t, srv.Handler(), "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllowListRejectsOutsiders(t *testing.T) {
	d := newTestDeps(true)
	d.AllowedCIDRS = []string{"10.0.0.0/8"}
	srv := New(":0", logger.NewNop(), d)

	rec := do(t, srv.Handler(), "/services", "10.1.2.3:4000")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv.Handler(), "/services", "203.0.113.9:4000")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv.Handler(), "/healthz", "203.0.113.9:4000")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServeAndStop(t *testing.T) {
	srv := New("127.0.0.1:0", logger.NewNop(), newTestDeps(true))

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	// Shutdown before or after ListenAndServe starts both end Start with nil.
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
}
