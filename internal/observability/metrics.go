package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the sync service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teamsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teamsync_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamsync_ws_events_total",
			Help: "Total number of websocket events by name and direction.",
		},
		[]string{"event", "direction"},
	)
	relayFanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamsync_relay_fanout_total",
			Help: "Total number of sockets an event was relayed to.",
		},
		[]string{"event"},
	)
	staleChannelsCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamsync_stale_channels_cleaned_total",
			Help: "Total number of stale channel rooms torn down by the cleanup job.",
		},
	)
	duplicatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamsync_client_duplicates_dropped_total",
			Help: "Total number of duplicate message deliveries absorbed by the ledger.",
		},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamsync_client_reconnects_total",
			Help: "Total number of client reconnect attempts.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		relayFanoutTotal,
		staleChannelsCleaned,
		duplicatesDropped,
		reconnectsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event, direction string) {
	wsEventsTotal.WithLabelValues(event, direction).Inc()
}

func AddRelayFanout(event string, delivered int) {
	relayFanoutTotal.WithLabelValues(event).Add(float64(delivered))
}

func IncStaleChannelCleaned() {
	staleChannelsCleaned.Inc()
}

func IncDuplicateDropped() {
	duplicatesDropped.Inc()
}

func IncReconnect() {
	reconnectsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
