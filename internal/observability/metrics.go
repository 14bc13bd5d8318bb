package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the delivery pipeline.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	tasksEnqueuedTotal        *prometheus.CounterVec
	recipientsDispatchedTotal prometheus.Counter
	dispatchDroppedTotal      *prometheus.CounterVec
	ticketErrorsTotal         *prometheus.CounterVec
	queueDepth                prometheus.Gauge
	flushDuration             prometheus.Histogram

	receiptsResolvedTotal     *prometheus.CounterVec
	receiptQueryFailuresTotal prometheus.Counter
	receiptsPurgedTotal       prometheus.Counter
	tokensInvalidatedTotal    prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "push_relay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		tasksEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "tasks_enqueued_total",
				Help:      "Total number of notification tasks accepted into the dispatch queue.",
			},
			[]string{"type"},
		),
		recipientsDispatchedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "recipients_dispatched_total",
				Help:      "Total number of recipients forwarded to the push gateway.",
			},
		),
		dispatchDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "dispatch_dropped_total",
				Help:      "Total number of tasks dropped by the dispatch loop.",
			},
			[]string{"reason"},
		),
		ticketErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "ticket_errors_total",
				Help:      "Total number of immediate per-recipient ticket errors.",
			},
			[]string{"code"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "push_relay",
				Name:      "queue_depth",
				Help:      "Current number of tasks buffered in the dispatch queue.",
			},
		),
		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "push_relay",
				Name:      "flush_duration_seconds",
				Help:      "Gateway send duration per dispatch flush.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		receiptsResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "receipts_resolved_total",
				Help:      "Total number of receipt records closed out by the reconciler.",
			},
			[]string{"status"},
		),
		receiptQueryFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "receipt_query_failures_total",
				Help:      "Total number of failed receipt query chunks.",
			},
		),
		receiptsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "receipts_purged_total",
				Help:      "Total number of receipt records removed by retention cleanup.",
			},
		),
		tokensInvalidatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "push_relay",
				Name:      "tokens_invalidated_total",
				Help:      "Total number of stale device tokens cleared from the user directory.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.tasksEnqueuedTotal,
		m.recipientsDispatchedTotal,
		m.dispatchDroppedTotal,
		m.ticketErrorsTotal,
		m.queueDepth,
		m.flushDuration,
		m.receiptsResolvedTotal,
		m.receiptQueryFailuresTotal,
		m.receiptsPurgedTotal,
		m.tokensInvalidatedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncTaskEnqueued(notificationType string) {
	if m == nil {
		return
	}
	m.tasksEnqueuedTotal.WithLabelValues(normalizeLabel(notificationType)).Inc()
}

func (m *Metrics) AddRecipientsDispatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recipientsDispatchedTotal.Add(float64(n))
}

func (m *Metrics) IncDispatchDropped(reason string) {
	if m == nil {
		return
	}
	m.dispatchDroppedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncTicketError(code string) {
	if m == nil {
		return
	}
	m.ticketErrorsTotal.WithLabelValues(normalizeLabel(code)).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveFlushDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.flushDuration.Observe(seconds)
}

func (m *Metrics) IncReceiptResolved(status string) {
	if m == nil {
		return
	}
	m.receiptsResolvedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncReceiptQueryFailure() {
	if m == nil {
		return
	}
	m.receiptQueryFailuresTotal.Inc()
}

func (m *Metrics) AddReceiptsPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.receiptsPurgedTotal.Add(float64(n))
}

func (m *Metrics) AddTokensInvalidated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensInvalidatedTotal.Add(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
