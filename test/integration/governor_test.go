package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivepacer/drivepacer/internal/core"
	"github.com/drivepacer/drivepacer/internal/core/engine"
	"github.com/drivepacer/drivepacer/internal/rc"
	"github.com/drivepacer/drivepacer/internal/server"
	"github.com/drivepacer/drivepacer/internal/server/handlers"
)

// fakeEngine emulates the rclone remote-control API: core/stats serves the
// current snapshot, options/set records every throttle update.
type fakeEngine struct {
	mu       sync.Mutex
	snapshot core.StatsSnapshot
	options  []map[string]map[string]any
}

func (f *fakeEngine) setSnapshot(snap core.StatsSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snap
}

func (f *fakeEngine) appliedOptions() []map[string]map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]map[string]any, len(f.options))
	copy(out, f.options)
	return out
}

func (f *fakeEngine) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/core/stats", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		snap := f.snapshot
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
	mux.HandleFunc("/options/set", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.options = append(f.options, payload)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{}"))
	})
	return mux
}

func fastLoopConfig() engine.LoopConfig {
	return engine.LoopConfig{
		TickInterval:     5 * time.Millisecond,
		ConnectInterval:  time.Millisecond,
		ConnectAttempts:  5,
		MaxFetchFailures: 3,
	}
}

func TestGovernorSteersFakeEngine(t *testing.T) {
	fake := &fakeEngine{}
	fake.setSnapshot(core.StatsSnapshot{Bytes: 1 << 20, Speed: 5000})
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	client := &rc.Client{BaseURL: ts.URL, Timeout: time.Second}
	ctrl := engine.NewController(engine.DefaultTuning(), 2)
	loop := engine.NewLoop(client, client, ctrl, fastLoopConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	// Wait for the loop to connect and tick a few times.
	require.Eventually(t, func() bool {
		return loop.Status().Phase == core.PhaseRunning && loop.Status().Ticks >= 3
	}, 2*time.Second, 5*time.Millisecond)

	// Inject a rate-limit error and wait for the backoff to land.
	fake.setSnapshot(core.StatsSnapshot{
		Errors:    1,
		Bytes:     2 << 20,
		Speed:     5000,
		LastError: "429 Too Many Requests",
	})
	require.Eventually(t, func() bool {
		return loop.Status().Backoffs >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	status := loop.Status()
	assert.Equal(t, core.PhaseTerminated, status.Phase)
	assert.Equal(t, 1, status.Throttle.Transfers, "rate limit should floor transfers")

	// The initial throttle and the backoff must both have reached the engine.
	applied := fake.appliedOptions()
	require.NotEmpty(t, applied)
	first := applied[0]["main"]
	assert.EqualValues(t, 2, first["Transfers"])
	last := applied[len(applied)-1]["main"]
	assert.EqualValues(t, 1, last["Transfers"])
}

func TestStatusServerReflectsGovernor(t *testing.T) {
	fake := &fakeEngine{}
	fake.setSnapshot(core.StatsSnapshot{Bytes: 4096, Speed: 900})
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	client := &rc.Client{BaseURL: ts.URL, Timeout: time.Second}
	ctrl := engine.NewController(engine.DefaultTuning(), 2)
	loop := engine.NewLoop(client, client, ctrl, fastLoopConfig(), nil)

	handlers.SetStatusProvider(loop.Status)
	t.Cleanup(func() { handlers.SetStatusProvider(nil) })

	srv := server.New("127.0.0.1", 0)

	// Not ready before the loop has connected.
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return loop.Status().Phase == core.PhaseRunning && loop.Status().Ticks >= 1
	}, 2*time.Second, 5*time.Millisecond)

	req = httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status core.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, core.PhaseRunning, status.Phase)
	assert.EqualValues(t, 4096, status.Bytes)
	assert.Equal(t, 2, status.Throttle.Transfers)

	cancel()
	require.NoError(t, <-done)
}

func TestGovernorExitsWhenEngineNeverAnswers(t *testing.T) {
	// Point the client at a closed server so every connect attempt fails.
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	client := &rc.Client{BaseURL: ts.URL, Timeout: time.Second}
	ctrl := engine.NewController(engine.DefaultTuning(), 2)
	loop := engine.NewLoop(client, client, ctrl, fastLoopConfig(), nil)

	err := loop.Run(context.Background())
	require.ErrorIs(t, err, engine.ErrSourceUnavailable)
	assert.Equal(t, core.PhaseTerminated, loop.Status().Phase)
}
