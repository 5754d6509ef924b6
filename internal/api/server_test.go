package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/clock/system"
	"github.com/JakeFAU/storefront-intel/internal/monitor"
	"github.com/JakeFAU/storefront-intel/internal/pipeline"
	"github.com/JakeFAU/storefront-intel/internal/progress"
	"github.com/JakeFAU/storefront-intel/internal/progress/sinks"
	"github.com/JakeFAU/storefront-intel/internal/storage/memory"
)

var testNow = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

type fakeEngine struct {
	state      pipeline.State
	report     pipeline.Report
	err        error
	triggers   int
	lastWindow time.Duration
	lastN      int
}

func (f *fakeEngine) State() pipeline.State { return f.state }

func (f *fakeEngine) Trigger(context.Context) (pipeline.Report, error) {
	f.triggers++
	return f.report, f.err
}

func (f *fakeEngine) Report(_ context.Context, window time.Duration, n int) (pipeline.Report, error) {
	f.lastWindow, f.lastN = window, n
	return f.report, f.err
}

type brokenStore struct {
	*memory.RecordStore
}

func (brokenStore) ListTargets(context.Context) ([]monitor.TargetEntity, error) {
	return nil, errors.New("database is locked")
}

func seededStore(t *testing.T) *memory.RecordStore {
	t.Helper()
	store := memory.NewRecordStore()
	err := store.WriteBatch(context.Background(), monitor.Batch{
		Targets: []monitor.TargetEntity{{TargetID: "A", DisplayName: "Shop A"}, {TargetID: "B"}},
		Items: []monitor.MetricItem{
			{ItemID: "old", TargetID: "A", CapturedAt: testNow.Add(-48 * time.Hour)},
			{ItemID: "a1", TargetID: "A", CapturedAt: testNow.Add(-2 * time.Hour)},
			{ItemID: "b1", TargetID: "B", CapturedAt: testNow.Add(-time.Hour)},
		},
	})
	require.NoError(t, err)
	return store
}

func newTestServer(t *testing.T, engine Engine, runs RunLister, cfg Config) *Server {
	t.Helper()
	return NewServer(seededStore(t), engine, runs, system.NewFixed(testNow), cfg, zap.NewNop())
}

func do(t *testing.T, s *Server, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil, Config{})
	rec := do(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/readyz", nil).Code)

	broken := NewServer(brokenStore{memory.NewRecordStore()}, nil, nil, system.New(), Config{}, nil)
	require.Equal(t, http.StatusServiceUnavailable, do(t, broken, http.MethodGet, "/readyz", nil).Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil, Config{})
	_ = do(t, s, http.MethodGet, "/healthz", nil)
	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ListTargets(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(t, nil, nil, Config{}), http.MethodGet, "/v1/targets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Targets []monitor.TargetEntity `json:"targets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Targets, 2)
	require.Equal(t, "Shop A", body.Targets[0].DisplayName)
}

func TestServer_ListRecentItems(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil, Config{})
	tests := []struct {
		name   string
		target string
		code   int
		want   []string
	}{
		{"default window", "/v1/items/recent", http.StatusOK, []string{"a1", "b1"}},
		{"duration", "/v1/items/recent?since=90m", http.StatusOK, []string{"b1"}},
		{"timestamp", "/v1/items/recent?since=2025-07-29T00:00:00Z", http.StatusOK, []string{"old", "a1", "b1"}},
		{"target filter", "/v1/items/recent?since=72h&target=A", http.StatusOK, []string{"old", "a1"}},
		{"limit keeps newest", "/v1/items/recent?since=72h&limit=1", http.StatusOK, []string{"b1"}},
		{"bad since", "/v1/items/recent?since=yesterday", http.StatusBadRequest, nil},
		{"bad limit", "/v1/items/recent?limit=0", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, s, http.MethodGet, tt.target, nil)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			var body struct {
				Items []monitor.MetricItem `json:"items"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			got := make([]string, 0, len(body.Items))
			for _, it := range body.Items {
				got = append(got, it.ItemID)
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestServer_StateAndRankings(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{
		state:  pipeline.NewState().WithTargets([]monitor.TargetEntity{{TargetID: "A"}}),
		report: pipeline.Report{Window: "6h0m0s", Rows: 3},
	}
	s := newTestServer(t, engine, nil, Config{})

	rec := do(t, s, http.MethodGet, "/v1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, string(pipeline.PhaseEnumerated), body["phase"])
	require.EqualValues(t, 1, body["targets"])

	rec = do(t, s, http.MethodGet, "/v1/rankings?window=6h&n=10000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 6*time.Hour, engine.lastWindow)
	require.Equal(t, maxRankN, engine.lastN)
	require.EqualValues(t, 3, decodeBody(t, rec)["rows"])

	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/rankings?window=soon", nil).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/rankings?n=-1", nil).Code)
}

func TestServer_RunOnce(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{report: pipeline.Report{Phase: pipeline.PhaseCompleted}}
	s := newTestServer(t, engine, nil, Config{})
	rec := do(t, s, http.MethodPost, "/v1/run-once", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, engine.triggers)
	require.Equal(t, string(pipeline.PhaseCompleted), decodeBody(t, rec)["phase"])

	engine.err = context.DeadlineExceeded
	require.Equal(t, http.StatusRequestTimeout, do(t, s, http.MethodPost, "/v1/run-once", nil).Code)

	noEngine := newTestServer(t, nil, nil, Config{})
	require.Equal(t, http.StatusServiceUnavailable, do(t, noEngine, http.MethodPost, "/v1/run-once", nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, do(t, noEngine, http.MethodGet, "/v1/state", nil).Code)
}

func TestServer_Runs(t *testing.T) {
	t.Parallel()

	tracker := sinks.NewTracker(10)
	ts := testNow
	require.NoError(t, tracker.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: ts, Stage: progress.StageRunStart, Items: 2},
		{RunID: "r1", TS: ts, Stage: progress.StageTargetDone, TargetID: "A", Items: 4},
		{RunID: "r2", TS: ts.Add(time.Minute), Stage: progress.StageRunStart, Items: 1},
	}))
	s := newTestServer(t, nil, tracker, Config{})

	rec := do(t, s, http.MethodGet, "/v1/runs?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Runs []sinks.RunStatus `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	require.Equal(t, "r2", list.Runs[0].RunID)

	rec = do(t, s, http.MethodGet, "/v1/runs?offset=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Empty(t, list.Runs)

	rec = do(t, s, http.MethodGet, "/v1/runs/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one struct {
		Run sinks.RunStatus `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.Equal(t, 1, one.Run.Succeeded)
	require.Equal(t, 4, one.Run.Items)

	require.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/v1/runs/missing", nil).Code)
	require.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/v1/runs?limit=abc", nil).Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil, Config{APIKey: "secret"})
	require.Equal(t, http.StatusForbidden, do(t, s, http.MethodGet, "/v1/targets", nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/targets", map[string]string{"X-API-Key": "secret"}).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/targets?api_key=secret", nil).Code)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, nil, Config{})
	handler := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	plain := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := plain.Hijack()
	require.Error(t, err)

	rec := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw := &responseWriter{ResponseWriter: rec}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, rec.client.Close())
}
