// Package monitoring 提供 Prometheus 指标。
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 接收管线指标
	MessagesReceived      prometheus.Counter
	MessagesRejected      prometheus.Counter
	SpamDetected          prometheus.Counter
	SMTPConnectionsActive prometheus.Gauge

	// 邮箱操作指标
	MessagesRead    prometheus.Counter
	MessagesDeleted prometheus.Counter
	OutboundSent    prometheus.Counter
	OutboundFailed  prometheus.Counter
}

// NewMetrics 创建并注册监控指标。
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dropmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_messages_received_total",
			Help: "Total number of messages accepted over SMTP",
		}),
		MessagesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_messages_rejected_total",
			Help: "Total number of DATA phases rejected on persistence failure",
		}),
		SpamDetected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_spam_detected_total",
			Help: "Total number of inbound messages classified as spam",
		}),
		SMTPConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dropmail_smtp_connections_active",
			Help: "Number of active SMTP connections",
		}),
		MessagesRead: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_messages_read_total",
			Help: "Total number of messages marked as read",
		}),
		MessagesDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_messages_deleted_total",
			Help: "Total number of messages deleted",
		}),
		OutboundSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_outbound_sent_total",
			Help: "Total number of outbound messages handed to the relay",
		}),
		OutboundFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dropmail_outbound_failed_total",
			Help: "Total number of outbound delivery failures",
		}),
	}
}

// HTTPHandler 返回 Prometheus 抓取端点处理器。
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware 记录 HTTP 请求计数与时延。
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		m.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, endpoint).
			Observe(time.Since(start).Seconds())
	}
}
