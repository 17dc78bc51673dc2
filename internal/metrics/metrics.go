package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_active_connections",
			Help: "Client connections attached to this instance",
		},
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_messages_sent_total",
			Help: "Total messages appended and published by this instance",
		},
	)

	BrokerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_broker_events_total",
			Help: "Total broker events received",
		},
		[]string{"topic"},
	)

	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_decode_errors_total",
			Help: "Total payloads dropped because they failed to decode",
		},
		[]string{"source"}, // "members", "messages", "broker"
	)

	SessionInitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_session_init_failures_total",
			Help: "Total connections aborted during initialization",
		},
	)

	HubDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_hub_dropped_total",
			Help: "Total events dropped for slow clients",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_rate_limit_hits_total",
			Help: "Total requests and messages refused by a rate limit",
		},
		[]string{"rule"},
	)

	SendRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_send_rejected_total",
			Help: "Inbound chat messages that were not relayed",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
		[]string{"op"},
	)
)
