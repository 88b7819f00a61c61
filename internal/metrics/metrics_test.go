package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func getHistogramCount(hv *prometheus.HistogramVec, labels ...string) uint64 {
	m := &dto.Metric{}
	observer := hv.WithLabelValues(labels...)
	if c, ok := observer.(prometheus.Metric); ok {
		if err := c.Write(m); err != nil {
			return 0
		}
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}

func TestRecordRunComplete(t *testing.T) {
	RecordRunComplete("deploy", "Completed", 42*time.Second)

	val := getCounterValue(RunsTotal, "deploy", "Completed")
	if val < 1 {
		t.Errorf("RunsTotal = %f, want >= 1", val)
	}

	count := getHistogramCount(RunDurationSeconds, "deploy")
	if count < 1 {
		t.Errorf("RunDurationSeconds sample count = %d, want >= 1", count)
	}
}

func TestRecordApprovalDecision(t *testing.T) {
	RecordApprovalDecision("deploy", "granted")
	RecordApprovalDecision("deploy", "granted")

	val := getCounterValue(ApprovalDecisionsTotal, "deploy", "granted")
	if val < 2 {
		t.Errorf("ApprovalDecisionsTotal = %f, want >= 2", val)
	}
}

func TestRecordEscalation(t *testing.T) {
	RecordEscalation("deploy", "manager")

	val := getCounterValue(EscalationsTotal, "deploy", "manager")
	if val < 1 {
		t.Errorf("EscalationsTotal = %f, want >= 1", val)
	}
}

func TestRecordTTLWorkerEvent(t *testing.T) {
	RecordTTLWorkerEvent("expired")

	val := getCounterValue(TTLWorkerEventsTotal, "expired")
	if val < 1 {
		t.Errorf("TTLWorkerEventsTotal = %f, want >= 1", val)
	}
}

func TestRecordCapsuleInvocation(t *testing.T) {
	RecordCapsuleInvocation("docker", "success", 3*time.Second)

	val := getCounterValue(CapsuleInvocationsTotal, "docker", "success")
	if val < 1 {
		t.Errorf("CapsuleInvocationsTotal = %f, want >= 1", val)
	}
	count := getHistogramCount(CapsuleInvocationDurationSeconds, "docker")
	if count < 1 {
		t.Errorf("CapsuleInvocationDurationSeconds sample count = %d, want >= 1", count)
	}
}

func TestActiveRuns(t *testing.T) {
	ActiveRuns.Set(0)

	ActiveRuns.Inc()
	ActiveRuns.Inc()

	val := getGaugeValue(ActiveRuns)
	if val != 2 {
		t.Errorf("ActiveRuns = %f, want 2", val)
	}

	ActiveRuns.Dec()
	val = getGaugeValue(ActiveRuns)
	if val != 1 {
		t.Errorf("ActiveRuns after Dec = %f, want 1", val)
	}
}

func TestMultipleRitualsMetrics(t *testing.T) {
	RecordRunComplete("deploy", "Completed", 10*time.Second)
	RecordRunComplete("rollback", "Failed", 5*time.Second)

	deployCompleted := getCounterValue(RunsTotal, "deploy", "Completed")
	rollbackFailed := getCounterValue(RunsTotal, "rollback", "Failed")
	deployFailed := getCounterValue(RunsTotal, "deploy", "Failed")

	if deployCompleted < 1 {
		t.Error("deploy Completed should be >= 1")
	}
	if rollbackFailed < 1 {
		t.Error("rollback Failed should be >= 1")
	}
	if deployFailed != 0 {
		t.Errorf("deploy Failed = %f, want 0", deployFailed)
	}
}
