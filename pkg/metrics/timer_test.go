package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	time.Sleep(20 * time.Millisecond)

	if d := timer.Duration(); d < 20*time.Millisecond {
		t.Errorf("Timer.Duration() = %v, want >= 20ms", d)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_timer_seconds",
		Help: "test histogram",
	})

	timer := NewTimer()
	timer.ObserveDuration(hist)

	m := &dto.Metric{}
	if err := hist.Write(m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_timer_vec_seconds",
		Help: "test histogram vec",
	}, []string{"method"})

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "GET")
	timer.ObserveDurationVec(vec, "GET")
	timer.ObserveDurationVec(vec, "POST")

	obs, err := vec.GetMetricWithLabelValues("GET")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues() error = %v", err)
	}
	m := &dto.Metric{}
	if err := obs.(prometheus.Histogram).Write(m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("GET sample count = %d, want 2", got)
	}
}
