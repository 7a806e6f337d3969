package api

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
	"go.uber.org/zap"

	"homebase42/internal/aggregator"
	"homebase42/internal/clock"
	"homebase42/internal/export"
	"homebase42/internal/ha"
	"homebase42/internal/shadowstate"
	"homebase42/internal/state"
)

type fakeExporter struct {
	gotOpts export.Options
	err     error
}

func (f *fakeExporter) Build(ctx context.Context, opts export.Options) (*export.Snapshot, error) {
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &export.Snapshot{HomeAssistantVersion: "2025.1.0", TotalEntities: 3}, nil
}

func newTestServer(t *testing.T, exporter Exporter, conn ConnectionChecker) (*Server, *state.Manager) {
	t.Helper()
	logger := zap.NewNop()
	mock := ha.NewMockClient()
	clk := clock.NewMockClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	stateManager := state.NewManager(mock, nil, clk, logger, false)

	tracker := shadowstate.NewTracker()
	health := shadowstate.NewHealthTracker()
	health.RecordScan(shadowstate.ScanRecord{RunID: "run-1", Trigger: "startup"}, []string{"light.porch"}, nil, nil)
	tracker.RegisterPluginProvider("health", func() shadowstate.PluginShadowState { return health.GetState() })

	return NewServer(stateManager, tracker, exporter, conn, logger, 0), stateManager
}

func get(t *testing.T, s *Server, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleResults(t *testing.T) {
	server, stateManager := newTestServer(t, nil, nil)
	require.NoError(t, stateManager.Publish(context.Background(), "unavailableCount",
		aggregator.NewResult([]string{"light.porch", "switch.kettle"})))

	w := get(t, server, "/api/results")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response ResultsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Signals, 4)
	assert.Equal(t, "batteryCritical", response.Signals[0].Key)

	var count state.Value
	for _, v := range response.Signals {
		if v.Key == "unavailableCount" {
			count = v
		}
	}
	assert.Equal(t, "2", count.State)
	assert.Equal(t, []string{"light.porch", "switch.kettle"}, count.Entities)
}

func TestHandleResult(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)

	w := get(t, server, "/api/results/batteryCritical")
	require.Equal(t, http.StatusOK, w.Code)
	var v state.Value
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	assert.Equal(t, "binary_sensor.homebase42_battery_critical", v.EntityID)
	assert.Equal(t, "off", v.State)

	w = get(t, server, "/api/results/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleShadow(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)

	w := get(t, server, "/api/shadow")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]struct {
		Outputs struct {
			Unavailable []string `json:"unavailable"`
			ScanCount   int      `json:"scanCount"`
		} `json:"outputs"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, []string{"light.porch"}, body["health"].Outputs.Unavailable)
	assert.Equal(t, 1, body["health"].Outputs.ScanCount)
}

func TestHandleExport(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		exporter := &fakeExporter{}
		server, _ := newTestServer(t, exporter, nil)

		w := get(t, server, "/api/export")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, export.DefaultOptions(), exporter.gotOpts)

		var snap export.Snapshot
		require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
		assert.Equal(t, 3, snap.TotalEntities)
	})

	t.Run("query options", func(t *testing.T) {
		exporter := &fakeExporter{}
		server, _ := newTestServer(t, exporter, nil)

		w := get(t, server, "/api/export?include_attributes=false&include_context=0")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, export.Options{}, exporter.gotOpts)
	})

	t.Run("bad query", func(t *testing.T) {
		server, _ := newTestServer(t, &fakeExporter{}, nil)
		w := get(t, server, "/api/export?include_context=maybe")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("build error", func(t *testing.T) {
		server, _ := newTestServer(t, &fakeExporter{err: errors.New("not connected")}, nil)
		w := get(t, server, "/api/export")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "not connected")
	})

	t.Run("no exporter", func(t *testing.T) {
		server, _ := newTestServer(t, nil, nil)
		w := get(t, server, "/api/export")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	mock := ha.NewMockClient()
	server, _ := newTestServer(t, nil, mock)

	w := get(t, server, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"degraded"`)

	require.NoError(t, mock.Connect())
	w = get(t, server, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ok", response.Status)
	assert.True(t, response.HAConnected)
}

func TestHandleSitemap(t *testing.T) {
	server, _ := newTestServer(t, nil, nil)

	t.Run("plain text", func(t *testing.T) {
		w := get(t, server, "/")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		for _, ep := range endpoints {
			assert.Contains(t, w.Body.String(), ep.Path)
		}
	})

	t.Run("html", func(t *testing.T) {
		w := get(t, server, "/", "Accept", "text/html,application/xhtml+xml")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "<h1>Homebase42 API</h1>")
	})

	t.Run("unknown path", func(t *testing.T) {
		w := get(t, server, "/nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
