package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/storefront-intel/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the event stream.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunStart, Items: 3},
		{RunID: "r1", TS: now, Stage: progress.StageTargetDone, TargetID: "A", Items: 2, Dur: 200 * time.Millisecond},
		{RunID: "r1", TS: now, Stage: progress.StageTargetError, TargetID: "B", Note: "no records"},
		{RunID: "r1", TS: now, Stage: progress.StageTargetSkip, TargetID: "C"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsActive), 1e-9)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r1", TS: now, Stage: progress.StageRunDone, Dur: 15 * time.Second},
		{RunID: "r1", TS: now, Stage: progress.StageRunDone},
	}))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsStarted), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.runsCompleted), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsActive), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.targets.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.targets.WithLabelValues("error")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.targets.WithLabelValues("skipped")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.itemsCommitted), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.targetDuration, "intel_progress_target_seconds"))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
