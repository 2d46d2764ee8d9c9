package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ctx := context.Background()

	rec.Observe(ctx, "analyse_sample", true, 120*time.Millisecond)
	rec.Observe(ctx, "analyse_sample", true, 30*time.Millisecond)
	rec.Observe(ctx, "analyse_sample", false, 10*time.Millisecond)
	rec.CountEvents(ctx, "a.lhe", 8, 2)
	rec.CountEvents(ctx, "a.lhe", 1, 0)

	snap := rec.Snapshot()
	if got := snap.Results["analyse_sample"]["success"]; got != 2 {
		t.Fatalf("success count = %d, want 2", got)
	}
	if got := snap.Results["analyse_sample"]["error"]; got != 1 {
		t.Fatalf("error count = %d, want 1", got)
	}
	if got := snap.DurationsMS["analyse_sample"]; got != 160 {
		t.Fatalf("duration total = %vms, want 160", got)
	}
	counts := snap.Events["a.lhe"]
	if counts.Retained != 9 || counts.Dropped != 2 {
		t.Fatalf("event counts = %+v", counts)
	}
}

func TestExpvarMetricsSnapshotIsDetached(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.CountEvents(context.Background(), "a.lhe", 1, 1)

	snap := rec.Snapshot()
	snap.Events["a.lhe"] = EventCounts{Retained: 99}

	if got := rec.Snapshot().Events["a.lhe"]; got.Retained != 1 || got.Dropped != 1 {
		t.Fatalf("snapshot mutation leaked into recorder: %+v", got)
	}
}

func TestPrometheusMetricsRecorderRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)
	ctx := context.Background()

	rec.Observe(ctx, "analyse_sample", true, 50*time.Millisecond)
	rec.Observe(ctx, "analyse_sample", false, 5*time.Millisecond)
	rec.CountEvents(ctx, "a.lhe", 4, 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := map[string]bool{}
	for _, fam := range families {
		byName[fam.GetName()] = true
	}
	for _, name := range []string{
		"lhecore_operations_total",
		"lhecore_operation_duration_seconds",
		"lhecore_events_retained_total",
		"lhecore_events_dropped_total",
	} {
		if !byName[name] {
			t.Fatalf("metric family %s not registered", name)
		}
	}
}
