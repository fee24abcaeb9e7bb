package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journal_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_chat_messages_sent_total",
			Help: "Messages persisted",
		},
		[]string{"path"}, // "http" or "socket"
	)

	DuplicateSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_chat_duplicate_sends_total",
			Help: "Sends answered from an earlier message with the same client id",
		},
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_chat_broadcasts_total",
			Help: "message_created events handed to the live transport",
		},
	)

	BroadcastFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_chat_broadcast_failures_total",
			Help: "Broadcasts the live transport rejected",
		},
	)

	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_chat_event_publish_failures_total",
			Help: "Chat events that could not be published to the event stream",
		},
	)

	// Socket metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "journal_socket_connections",
			Help: "Open socket connections",
		},
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "journal_socket_rooms",
			Help: "Rooms with at least one subscriber",
		},
	)

	SlowConsumerDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_socket_slow_consumer_disconnects_total",
			Help: "Connections dropped because their send buffer was full",
		},
	)

	// Cache metrics
	HistoryCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_history_cache_lookups_total",
			Help: "History page cache lookups",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)
)
