package metrics

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels stamped on every series.
type Config struct {
	ServiceName string
	Environment string
}

func (c Config) constLabels() prometheus.Labels {
	serviceName := strings.TrimSpace(c.ServiceName)
	if serviceName == "" {
		serviceName = "paymatch"
	}
	environment := strings.TrimSpace(c.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

// Metrics exposes reconciliation instruments.
type Metrics struct {
	transactions  *prometheus.CounterVec
	passes        *prometheus.CounterVec
	passDuration  *prometheus.HistogramVec
	webhooks      *prometheus.CounterVec
	addonConsume  *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

var (
	appMetricsOnce sync.Once
	appMetrics     *Metrics
	appMetricsErr  error
)

// New returns the process-wide metrics registered on the default registerer.
func New(cfg Config) (*Metrics, error) {
	appMetricsOnce.Do(func() {
		appMetrics, appMetricsErr = NewWithRegisterer(prometheus.DefaultRegisterer, cfg)
	})
	return appMetrics, appMetricsErr
}

// NewWithRegisterer builds metrics against an explicit registerer.
func NewWithRegisterer(registerer prometheus.Registerer, cfg Config) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	m := &Metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paymatch_reconcile_transactions_total",
			Help:        "Bank transactions evaluated by reconciliation, by outcome reason.",
			ConstLabels: constLabels,
		}, []string{"source", "kind", "reason"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paymatch_reconcile_passes_total",
			Help:        "Reconciliation passes by trigger and status.",
			ConstLabels: constLabels,
		}, []string{"source", "status"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "paymatch_reconcile_pass_duration_seconds",
			Help:        "Reconciliation pass latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"source"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paymatch_webhook_requests_total",
			Help:        "Inbound payment webhooks by verification status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		addonConsume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paymatch_addon_consume_total",
			Help:        "Add-on quota consumption attempts.",
			ConstLabels: constLabels,
		}, []string{"action", "consumed"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "paymatch_notifications_total",
			Help:        "Notification emails by delivery status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
	}

	var err error
	if m.transactions, err = registerCounterVec(registerer, m.transactions); err != nil {
		return nil, err
	}
	if m.passes, err = registerCounterVec(registerer, m.passes); err != nil {
		return nil, err
	}
	if err = registerer.Register(m.passDuration); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		m.passDuration = already.ExistingCollector.(*prometheus.HistogramVec)
	}
	if m.webhooks, err = registerCounterVec(registerer, m.webhooks); err != nil {
		return nil, err
	}
	if m.addonConsume, err = registerCounterVec(registerer, m.addonConsume); err != nil {
		return nil, err
	}
	if m.notifications, err = registerCounterVec(registerer, m.notifications); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordTransaction counts one evaluated transaction.
func (m *Metrics) RecordTransaction(source, kind, reason string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(label(source), label(kind), label(reason)).Inc()
}

// RecordPass counts one reconciliation pass and its latency.
func (m *Metrics) RecordPass(source, status string, seconds float64) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(label(source), label(status)).Inc()
	if seconds >= 0 {
		m.passDuration.WithLabelValues(label(source)).Observe(seconds)
	}
}

// RecordWebhook counts an inbound webhook by status.
func (m *Metrics) RecordWebhook(status string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(label(status)).Inc()
}

// RecordAddonConsume counts a quota consumption attempt.
func (m *Metrics) RecordAddonConsume(action string, consumed bool) {
	if m == nil {
		return
	}
	value := "false"
	if consumed {
		value = "true"
	}
	m.addonConsume.WithLabelValues(label(action), value).Inc()
}

// RecordNotification counts a notification by status.
func (m *Metrics) RecordNotification(status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(label(status)).Inc()
}

// registerCounterVec registers c or returns the collector already registered under its name.
func registerCounterVec(registerer prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
