package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/clock/system"
	"github.com/JakeFAU/storefront-intel/internal/config"
	"github.com/JakeFAU/storefront-intel/internal/monitor"
	"github.com/JakeFAU/storefront-intel/internal/pipeline"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Store.Driver = config.DriverMemory
	cfg.Archive.Backend = config.ArchiveLocal
	cfg.Archive.Dir = filepath.Join(t.TempDir(), "raw")
	cfg.Replay.Sender = config.SenderHTTP
	cfg.Replay.Interval = 0
	cfg.Replay.RequestTimeoutSeconds = 5
	cfg.Session.StartURL = "https://example.test/start"
	return cfg
}

func build(t *testing.T, cfg config.Config) *App {
	t.Helper()
	clock := system.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	app, err := Build(context.Background(), cfg, zap.NewNop(),
		WithRegisterer(prometheus.NewRegistry()),
		WithClock(clock),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

// platform answers product-list replays with two products per shop.
func platform(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		shop := fmt.Sprint(body["shop_id"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"data":{"list":[
			{"product_id":"%[1]s-p1","product_name":"华为Mate60手机壳","pay_amount":"¥1000-¥2500","pay_amount_growth_rate":"100%%-200%%"},
			{"product_id":"%[1]s-p2","product_name":"苹果充电器","pay_amount":"¥50","pay_amount_growth_rate":"-"}
		]}}`, shop)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunOnceReplaysStoredTargets(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := platform(t, &calls)
	cfg := testConfig(t)
	app := build(t, cfg)

	ctx := context.Background()
	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, app.Store().UpsertTarget(ctx, monitor.TargetEntity{TargetID: id, DisplayName: "shop " + id}))
	}
	tmpl, err := monitor.NewRequestTemplate(srv.URL+"/api/product/list", "POST",
		map[string]string{"Content-Type": "application/json"},
		[]byte(`{"shop_id":"seed","page":1}`))
	require.NoError(t, err)

	report, err := app.RunOnce(ctx, &tmpl)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, pipeline.PhaseCompleted, report.Phase)
	require.NotNil(t, report.Summary)
	require.Equal(t, 2, report.Summary.Succeeded)
	require.Equal(t, 4, report.Rows)
	require.Contains(t, report.PerTarget, "s1")
	require.Contains(t, report.PerTarget, "s2")

	entries, err := os.ReadDir(cfg.Archive.Dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries, "raw replies are archived")
}

func TestRunOnceWithoutTemplateOnlyReports(t *testing.T) {
	t.Parallel()

	app := build(t, testConfig(t))
	report, err := app.RunOnce(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, report.Summary)
	require.Zero(t, report.Rows)

	ranked, err := app.Rank(context.Background(), time.Hour, 5)
	require.NoError(t, err)
	require.Equal(t, "1h0m0s", ranked.Window)
}

func TestBuildStoreFailureIsFatal(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	tests := map[string]func(cfg *config.Config){
		"sqlite path under a file": func(cfg *config.Config) {
			cfg.Store.Driver = config.DriverSQLite
			cfg.Store.SQLite.Path = filepath.Join(blocker, "nested", "intel.db")
		},
		"postgres malformed dsn": func(cfg *config.Config) {
			cfg.Store.Driver = config.DriverPostgres
			cfg.Store.Postgres.DSN = "postgres://%zz"
		},
		"postgres missing dsn": func(cfg *config.Config) {
			cfg.Store.Driver = config.DriverPostgres
			cfg.Store.Postgres.DSN = ""
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			mutate(&cfg)

			var app *App
			var err error
			require.NotPanics(t, func() {
				app, err = Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
			})
			require.Nil(t, app)
			require.Error(t, err)
			require.True(t, errors.Is(err, monitor.ErrStoreInit), "got %v", err)
		})
	}
}

func TestBuildSQLiteStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Driver = config.DriverSQLite
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "intel.db")
	app := build(t, cfg)

	targets, err := app.Store().ListTargets(context.Background())
	require.NoError(t, err)
	require.Empty(t, targets)
}

func TestBuildRejectsUnknownSignatureCategory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Matcher.Signatures = map[string][]string{"coupons": {"coupon+list"}}
	_, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "matcher signatures")
}

func TestHandlerServesProbesAndState(t *testing.T) {
	t.Parallel()

	app := build(t, testConfig(t))
	h := app.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view pipeline.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, pipeline.PhaseIdle, view.Phase)
}

func TestServeRequiresEnabledServer(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.Enabled = false
	app := build(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorContains(t, app.Serve(ctx), "server.enabled")
}
