package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Poll stop reasons
const (
	StopIdle      = "idle"
	StopExhausted = "exhausted"
	StopManual    = "manual"
)

// Metrics holds the service metrics. A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	// HTTP
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter

	// Job commands (create, cancel) by op and result
	JobCommandsTotal metric.Int64Counter

	// Poller
	PollTicksTotal metric.Int64Counter
	PollStopsTotal metric.Int64Counter
	SessionsActive metric.Int64UpDownCounter

	// Reconciler
	ReconciliationsTotal metric.Int64Counter
	NotificationErrors   metric.Int64Counter
}

// NewMetrics creates every instrument on a private Prometheus registry and returns the
// handler that exposes it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("jobwatch")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobCommandsTotal, err = meter.Int64Counter(
		"job_commands_total",
		metric.WithDescription("Create and cancel commands by result"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollTicksTotal, err = meter.Int64Counter(
		"poll_ticks_total",
		metric.WithDescription("Active-job poll ticks by result"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PollStopsTotal, err = meter.Int64Counter(
		"poll_stops_total",
		metric.WithDescription("Times a poller left the polling state, by reason"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SessionsActive, err = meter.Int64UpDownCounter(
		"watch_sessions_active",
		metric.WithDescription("Open watch sessions (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ReconciliationsTotal, err = meter.Int64Counter(
		"reconciliations_total",
		metric.WithDescription("Terminal-state reconciliations by final job status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotificationErrors, err = meter.Int64Counter(
		"notification_errors_total",
		metric.WithDescription("Notifications that failed to deliver"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(methodAttr(method), routeAttr(route), statusCodeAttr(statusCode))
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
}

// RecordJobCommand records the outcome of a create or cancel.
func (m *Metrics) RecordJobCommand(ctx context.Context, op string, err error) {
	if m == nil {
		return
	}
	m.JobCommandsTotal.Add(ctx, 1, metric.WithAttributes(opAttr(op), resultAttr(err)))
}

// RecordPollTick records one poll tick. A failed fetch still counts against the budget.
func (m *Metrics) RecordPollTick(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.PollTicksTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(err)))
}

func (m *Metrics) RecordPollStop(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.PollStopsTotal.Add(ctx, 1, metric.WithAttributes(reasonAttr(reason)))
}

// RecordSessionOpened / RecordSessionClosed track open watch sessions.
func (m *Metrics) RecordSessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsActive.Add(ctx, 1)
}

func (m *Metrics) RecordSessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.SessionsActive.Add(ctx, -1)
}

// RecordReconciliation records a terminal reconciliation with the job's final status.
func (m *Metrics) RecordReconciliation(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.ReconciliationsTotal.Add(ctx, 1, metric.WithAttributes(jobStatusAttr(status)))
}

func (m *Metrics) RecordNotificationError(ctx context.Context) {
	if m == nil {
		return
	}
	m.NotificationErrors.Add(ctx, 1)
}
