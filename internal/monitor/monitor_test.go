package monitor

import (
	"testing"
	"time"
)

func TestRecordOperationLifecycleTracksSuccessAndFailure(t *testing.T) {
	m := New(nil, nil, nil)
	m.RecordOperationStart("op-1", "ingest")
	m.RecordOperationComplete("op-1", OperationCounters{FilesProcessed: 3})

	op, ok := m.GetOperation("op-1")
	if !ok || !op.Success || op.Running {
		t.Fatalf("expected op-1 to be recorded as successfully completed, got %+v", op)
	}

	summary := m.GetOperationsSummary()
	if summary.Total != 1 || summary.Successful != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRecordOperationFailedIncrementsFailedAndTriggersAlert(t *testing.T) {
	m := New(nil, nil, nil)
	m.RecordOperationStart("op-1", "ingest")
	m.RecordOperationFailed("op-1", OperationCounters{Errors: []string{"boom"}})

	summary := m.GetOperationsSummary()
	if summary.Failed != 1 {
		t.Fatalf("expected 1 failed operation, got %+v", summary)
	}
	if len(m.Alerts()) != 1 {
		t.Fatalf("expected a triggered alert, got %d", len(m.Alerts()))
	}
}

func TestTriggerAlertEvictsOldestBeyondCapacity(t *testing.T) {
	m := New(nil, nil, nil)
	for i := 0; i < alertBufferCap+10; i++ {
		m.TriggerAlert(AlertWarning, "msg")
	}
	alerts := m.Alerts()
	if len(alerts) != alertBufferCap {
		t.Fatalf("expected ring buffer capped at %d, got %d", alertBufferCap, len(alerts))
	}
}

func TestResolveAlertMarksResolvedAndRetainsNote(t *testing.T) {
	m := New(nil, nil, nil)
	alert := m.TriggerAlert(AlertError, "something broke")
	if !m.ResolveAlert(alert.ID, "fixed in commit x") {
		t.Fatalf("expected ResolveAlert to find the alert")
	}
	alerts := m.Alerts()
	if !alerts[0].Resolved || alerts[0].Note != "fixed in commit x" {
		t.Fatalf("expected alert to be resolved with note, got %+v", alerts[0])
	}
}

func TestGetLogsByOperationFiltersAcrossSeverities(t *testing.T) {
	m := New(nil, nil, nil)
	m.Log("op-1", AlertInfo, "started")
	m.Log("op-1", AlertError, "failed a step")
	m.Log("op-2", AlertInfo, "unrelated")

	logs := m.GetLogsByOperation("op-1")
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries for op-1, got %d", len(logs))
	}
}

func TestCheckHealthDerivesUnhealthyAfterConsecutiveFailures(t *testing.T) {
	m := New(nil, nil, nil)
	for i := 0; i < maxConsecutiveFail; i++ {
		id := "op-" + itoa(i)
		m.RecordOperationStart(id, "ingest")
		m.RecordOperationFailed(id, OperationCounters{})
	}
	if state := m.CheckHealth(); state != HealthUnhealthy {
		t.Fatalf("expected unhealthy after %d consecutive failures, got %v", maxConsecutiveFail, state)
	}
}

func TestCheckHealthDegradedOnDeepQueue(t *testing.T) {
	m := New(nil, func() int { return 5000 }, nil)
	if state := m.CheckHealth(); state != HealthDegraded {
		t.Fatalf("expected degraded on deep queue, got %v", state)
	}
}

func TestCheckHealthHealthyByDefault(t *testing.T) {
	m := New(nil, nil, nil)
	if state := m.CheckHealth(); state != HealthHealthy {
		t.Fatalf("expected healthy with no signals, got %v", state)
	}
}

func TestCleanupRemovesOldUnresolvedAlertsAndFinishedOperations(t *testing.T) {
	m := New(nil, nil, nil)
	m.RecordOperationStart("op-old", "ingest")
	m.RecordOperationComplete("op-old", OperationCounters{})
	m.operations["op-old"].EndedAt = time.Now().UTC().Add(-48 * time.Hour)

	alert := m.TriggerAlert(AlertInfo, "old info")
	m.alerts[0].CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	_ = alert

	m.Cleanup()

	if _, ok := m.GetOperation("op-old"); ok {
		t.Fatalf("expected stale finished operation to be cleaned up")
	}
	if len(m.Alerts()) != 0 {
		t.Fatalf("expected stale unresolved alert to be cleaned up, got %d", len(m.Alerts()))
	}
}

func TestEMAConvergesTowardRepeatedSample(t *testing.T) {
	v := 0.0
	for i := 0; i < 50; i++ {
		v = ema(v, 100, 0.2)
	}
	if v < 95 || v > 100 {
		t.Fatalf("expected ema to converge near 100, got %f", v)
	}
}
