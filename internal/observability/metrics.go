package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenj_http_requests_total",
			Help: "Total number of HTTP requests processed by the service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zenj_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zenj_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenj_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zenj_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	messagesAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenj_messages_appended_total",
			Help: "Messages appended to conversation logs.",
		},
		[]string{"type", "subtype"},
	)
	responderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenj_responder_calls_total",
			Help: "Responder invocations by outcome.",
		},
		[]string{"outcome"},
	)
	responderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "zenj_responder_duration_seconds",
			Help:    "Responder call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	awaitingReplies = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zenj_awaiting_replies",
			Help: "Conversations currently waiting for a reply.",
		},
	)
	presenceEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenj_presence_events_total",
			Help: "Presence channel deliveries by kind and result.",
		},
		[]string{"kind", "result"},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenj_notifications_total",
			Help: "Notifications handed to the notifier by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		messagesAppendedTotal,
		responderCallsTotal,
		responderDuration,
		awaitingReplies,
		presenceEventsTotal,
		notificationsTotal,
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

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
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

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncMessageAppended(msgType, subtype string) {
	messagesAppendedTotal.WithLabelValues(msgType, subtype).Inc()
}

// ObserveResponder records one responder call. outcome is "ok" or "error".
func ObserveResponder(outcome string, took time.Duration) {
	responderCallsTotal.WithLabelValues(outcome).Inc()
	responderDuration.Observe(took.Seconds())
}

func IncAwaiting() {
	awaitingReplies.Inc()
}

func DecAwaiting() {
	awaitingReplies.Dec()
}

// IncPresence counts a presence delivery; result is "delivered" or "dropped".
func IncPresence(kind, result string) {
	presenceEventsTotal.WithLabelValues(kind, result).Inc()
}

func IncNotification(outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
}
