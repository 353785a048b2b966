package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTransactionNormalizesEmptyLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewWithRegisterer(registry, Config{ServiceName: "paymatch", Environment: "test"})
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	m.RecordTransaction("scanner", "subscription", "activated")
	m.RecordTransaction("scanner", "", " ")

	if got := testutil.ToFloat64(m.transactions.WithLabelValues("scanner", "subscription", "activated")); got != 1 {
		t.Fatalf("expected 1 activated, got %v", got)
	}
	if got := testutil.ToFloat64(m.transactions.WithLabelValues("scanner", "unknown", "unknown")); got != 1 {
		t.Fatalf("expected 1 unknown, got %v", got)
	}
}

func TestNewWithRegistererReusesExistingCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := NewWithRegisterer(registry, Config{})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewWithRegisterer(registry, Config{})
	if err != nil {
		t.Fatalf("second: %v", err)
	}

	first.RecordAddonConsume("generation", true)
	second.RecordAddonConsume("generation", true)

	if got := testutil.ToFloat64(first.addonConsume.WithLabelValues("generation", "true")); got != 2 {
		t.Fatalf("expected shared counter at 2, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTransaction("webhook", "addon", "activated")
	m.RecordPass("webhook", "ok", 1)
	m.RecordWebhook("accepted")
	m.RecordAddonConsume("validation", false)
	m.RecordNotification("sent")
}
