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
			Name: "leaguechat_http_requests_total",
			Help: "Total number of HTTP requests processed by the gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leaguechat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leaguechat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaguechat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	realtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaguechat_realtime_events_total",
			Help: "Row changes received from the realtime feed.",
		},
		[]string{"table", "op"},
	)
	unreadRecomputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaguechat_unread_recomputes_total",
			Help: "Unread recomputes by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)
	messageSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaguechat_message_sends_total",
			Help: "Message sends by outcome.",
		},
		[]string{"outcome"},
	)
	coalescedWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaguechat_coalesced_writes_total",
			Help: "Debounced writes, split into submitted calls and flushed writes.",
		},
		[]string{"stage"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leaguechat_amqp_publish_errors_total",
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
		realtimeEventsTotal,
		unreadRecomputesTotal,
		messageSendsTotal,
		coalescedWritesTotal,
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

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncRealtimeEvent(table, op string) {
	realtimeEventsTotal.WithLabelValues(table, op).Inc()
}

func IncUnreadRecompute(strategy, outcome string) {
	unreadRecomputesTotal.WithLabelValues(strategy, outcome).Inc()
}

func IncMessageSend(outcome string) {
	messageSendsTotal.WithLabelValues(outcome).Inc()
}

func IncCoalesced(stage string) {
	coalescedWritesTotal.WithLabelValues(stage).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
