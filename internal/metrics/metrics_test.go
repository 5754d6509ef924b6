package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Compass.Example.com/api", "compass.example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(eventsTotal.WithLabelValues("shop-list", "stored"))
	ObserveEvent("shop-list", "stored", 128)
	if got := testutil.ToFloat64(eventsTotal.WithLabelValues("shop-list", "stored")); got != before+1 {
		t.Errorf("eventsTotal = %f; want %f", got, before+1)
	}

	beforeItems := testutil.ToFloat64(recordsTotal.WithLabelValues("metric"))
	ObserveRecords(0, 3)
	if got := testutil.ToFloat64(recordsTotal.WithLabelValues("metric")); got != beforeItems+3 {
		t.Errorf("recordsTotal{metric} = %f; want %f", got, beforeItems+3)
	}

	ObserveRun("completed", 2*time.Second)
	if testutil.CollectAndCount(runDurationSeconds) == 0 {
		t.Error("expected run duration to be observed")
	}

	IncActiveRuns()
	DecActiveRuns()
	if got := testutil.ToFloat64(activeRuns); got != 0 {
		t.Errorf("activeRuns = %f; want 0", got)
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
