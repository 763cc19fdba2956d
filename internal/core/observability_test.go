package core

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if rec.Name() == "" {
		t.Fatalf("expected generated export name")
	}
	rec.RecordDuration("careplan.create", 150*time.Millisecond)
	rec.RecordDuration("careplan.create", 50*time.Millisecond)
	rec.RecordResult("careplan.create", "ok")
	rec.RecordResult("careplan.create", "ok")
	rec.RecordResult("careplan.create", "error")
	rec.RecordDuration("", time.Second) // ignored
	rec.RecordResult("", "ok")          // ignored

	snap := rec.Snapshot()
	if got := snap.DurationsMS["careplan.create"]; got != 200 {
		t.Fatalf("expected 200ms total, got %v", got)
	}
	if got := snap.Results["careplan.create"]["ok"]; got != 2 {
		t.Fatalf("expected 2 ok results, got %d", got)
	}
	if got := snap.Results["careplan.create"]["error"]; got != 1 {
		t.Fatalf("expected 1 error result, got %d", got)
	}
	if len(snap.DurationsMS) != 1 {
		t.Fatalf("empty operation names must be ignored, got %+v", snap.DurationsMS)
	}
}

func TestPrometheusMetricsRecorderRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusMetricsRecorder(reg)
	rec.RecordDuration("careplan.list", 10*time.Millisecond)
	rec.RecordResult("careplan.list", "ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	if !names["carecore_operation_duration_seconds"] || !names["carecore_operation_results_total"] {
		t.Fatalf("expected registered collectors, got %v", names)
	}
}
