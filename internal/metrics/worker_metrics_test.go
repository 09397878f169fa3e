package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsBacklog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetricsWithRegisterer(reg)

	m.RecordAttempt(OutboxSent)
	m.RecordAttempt(OutboxSent)
	m.RecordAttempt(OutboxRetryError)
	m.SetBacklog(4, 3*time.Second)

	if got := counterVecValue(t, m.publishAttempts, OutboxSent); got != 2 {
		t.Fatalf("expected 2 sent attempts, got %v", got)
	}
	if got := gaugeValue(t, m.pending); got != 4 {
		t.Fatalf("expected pending 4, got %v", got)
	}
	if got := gaugeValue(t, m.oldestAge); got != 3 {
		t.Fatalf("expected oldest age 3s, got %v", got)
	}

	m.SetBacklog(0, -time.Second)
	if got := gaugeValue(t, m.oldestAge); got != 0 {
		t.Fatalf("negative age must clamp to zero, got %v", got)
	}
}

func TestCleanupMetricsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCleanupMetricsWithRegisterer(reg)

	m.RecordDeleted(5)
	m.RecordDeleted(0)
	m.RecordRun(5, nil)
	m.RecordRun(0, errors.New("db down"))

	if got := counterValue(t, m.deleted); got != 5 {
		t.Fatalf("expected 5 deleted, got %v", got)
	}
	if got := gaugeValue(t, m.lastDeleted); got != 5 {
		t.Fatalf("failed run must keep last deleted, got %v", got)
	}
	if got := counterVecValue(t, m.runs, "error"); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
}

func TestNilWorkerMetricsIsNoop(t *testing.T) {
	var outbox *OutboxMetrics
	outbox.RecordAttempt(OutboxFailed)
	outbox.SetBacklog(1, time.Second)

	var cleanup *CleanupMetrics
	cleanup.RecordDeleted(1)
	cleanup.RecordRun(1, nil)
}
