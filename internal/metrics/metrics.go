package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/events"
)

// Metrics holds all Prometheus collectors of the analyzer. A nil *Metrics is
// valid and records nothing, so components can take it as an optional
// dependency.
type Metrics struct {
	// Event bus
	busEventsPublished *prometheus.CounterVec
	busHandlerFaults   *prometheus.CounterVec

	// Ingestion
	recordsParsed *prometheus.CounterVec
	rpcCalls      *prometheus.CounterVec

	// Correlation
	matchesFound     *prometheus.CounterVec
	matchAnonymity   *prometheus.HistogramVec
	depositIndexSize *prometheus.GaugeVec
	feeWindowEntries *prometheus.GaugeVec

	// Sinks
	sinkWrites        *prometheus.CounterVec
	sinkWriteDuration *prometheus.HistogramVec
	forwarderDropped  *prometheus.CounterVec

	// HTTP
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		busEventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_events_published_total",
				Help: "Total number of events published on the bus by topic",
			},
			[]string{"topic"},
		),
		busHandlerFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bus_handler_faults_total",
				Help: "Total number of handler errors and panics by topic",
			},
			[]string{"topic"},
		),
		recordsParsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_parsed_total",
				Help: "Total number of raw transactions parsed by protocol, kind and status",
			},
			[]string{"protocol", "kind", "status"},
		),
		rpcCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		matchesFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matches_found_total",
				Help: "Total number of privacy matches found by protocol and type",
			},
			[]string{"protocol", "type"},
		),
		matchAnonymity: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "match_anonymity_set_size",
				Help:    "Anonymity set size of reported matches",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"protocol", "type"},
		),
		depositIndexSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "deposit_index_size",
				Help: "Number of deposits held in the in-memory index",
			},
			[]string{"protocol"},
		),
		feeWindowEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fee_window_entries",
				Help: "Number of swap inputs held in the sliding fee window",
			},
			[]string{"protocol"},
		),
		sinkWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_writes_total",
				Help: "Total number of writes to external sinks by sink and status",
			},
			[]string{"sink", "status"},
		),
		sinkWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sink_write_duration_seconds",
				Help:    "Duration of writes to external sinks in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"sink"},
		),
		forwarderDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forwarder_dropped_total",
				Help: "Total number of items dropped because the forwarder queue was full",
			},
			[]string{"kind"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"route", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
	}
}

// Event bus helpers. Metrics satisfies events.Observer.

var _ events.Observer = (*Metrics)(nil)

func (m *Metrics) EventPublished(topic events.Topic) {
	if m == nil {
		return
	}
	m.busEventsPublished.WithLabelValues(string(topic)).Inc()
}

func (m *Metrics) HandlerFailed(topic events.Topic) {
	if m == nil {
		return
	}
	m.busHandlerFaults.WithLabelValues(string(topic)).Inc()
}

// Ingestion helpers

// RecordParsed records the outcome of parsing one raw transaction. kind is
// empty for irrelevant or rejected transactions.
func (m *Metrics) RecordParsed(protocol, kind string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	switch {
	case err != nil:
		status = "rejected"
	case kind == "":
		status = "ignored"
	}
	if kind == "" {
		kind = "none"
	}
	m.recordsParsed.WithLabelValues(protocol, kind, status).Inc()
}

// RecordRPCCall records a Solana RPC call outcome.
func (m *Metrics) RecordRPCCall(method string, err error) {
	if m == nil {
		return
	}
	m.rpcCalls.WithLabelValues(method, statusOf(err)).Inc()
}

// Correlation helpers

// RecordMatch records a reported match.
func (m *Metrics) RecordMatch(protocol, matchType string, anonymitySet int) {
	if m == nil {
		return
	}
	m.matchesFound.WithLabelValues(protocol, matchType).Inc()
	m.matchAnonymity.WithLabelValues(protocol, matchType).Observe(float64(anonymitySet))
}

func (m *Metrics) SetIndexSize(protocol string, size int) {
	if m == nil {
		return
	}
	m.depositIndexSize.WithLabelValues(protocol).Set(float64(size))
}

func (m *Metrics) SetWindowSize(protocol string, size int) {
	if m == nil {
		return
	}
	m.feeWindowEntries.WithLabelValues(protocol).Set(float64(size))
}

// Sink helpers

// RecordSinkWrite records a write to an external sink with duration.
func (m *Metrics) RecordSinkWrite(sink string, duration float64, err error) {
	if m == nil {
		return
	}
	m.sinkWrites.WithLabelValues(sink, statusOf(err)).Inc()
	m.sinkWriteDuration.WithLabelValues(sink).Observe(duration)
}

func (m *Metrics) RecordDropped(kind string) {
	if m == nil {
		return
	}
	m.forwarderDropped.WithLabelValues(kind).Inc()
}

// HTTP helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(route, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(route, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(route, method, status).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
