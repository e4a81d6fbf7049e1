// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesRelayed     prometheus.Counter
	MessagesDropped     prometheus.Counter
	SubscribeAttempts   prometheus.Counter
	SubscribeTimeouts   prometheus.Counter
	ResolutionFailures  prometheus.Counter
	ProtocolErrors      prometheus.Counter
	ClientsAccepted     prometheus.Counter
	ArchiveInsertErrors prometheus.Counter

	// Histograms (seconds)
	ResolveDuration prometheus.Observer

	// Gauges
	ConnectedClients prometheus.Gauge
	ActiveChannels   prometheus.Gauge
	SubscribedRooms  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_messages_relayed_total", Help: "Chat messages fanned out to local clients"})
		MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_messages_dropped_total", Help: "Upstream chat events dropped (unknown room or unparseable payload)"})
		SubscribeAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_subscribe_attempts_total", Help: "Subscribe commands sent upstream"})
		SubscribeTimeouts = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_subscribe_timeouts_total", Help: "Subscribe attempts that timed out waiting for confirmation"})
		ResolutionFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_resolution_failures_total", Help: "Channel name to room id resolutions that failed"})
		ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_protocol_errors_total", Help: "Unrecognized or malformed client commands"})
		ClientsAccepted = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_clients_accepted_total", Help: "Client connections accepted since start"})
		ArchiveInsertErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "bridge_archive_insert_errors_total", Help: "Failed chat_messages inserts"})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "bridge_resolve_duration_seconds", Help: "Channel resolution duration seconds", Buckets: prometheus.DefBuckets})
		ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{Name: "bridge_connected_clients", Help: "Currently connected local clients"})
		ActiveChannels = promauto.NewGauge(prometheus.GaugeOpts{Name: "bridge_active_channels", Help: "Channels with at least one local member"})
		SubscribedRooms = promauto.NewGauge(prometheus.GaugeOpts{Name: "bridge_subscribed_rooms", Help: "Rooms tracked pending or active upstream"})
	})
}

// SetConnectedClients records the current local client count.
func SetConnectedClients(n int) {
	if ConnectedClients != nil {
		ConnectedClients.Set(float64(n))
	}
}

// SetActiveChannels records the current channel-index size.
func SetActiveChannels(n int) {
	if ActiveChannels != nil {
		ActiveChannels.Set(float64(n))
	}
}

// SetSubscribedRooms records the current tracked-room count.
func SetSubscribedRooms(n int) {
	if SubscribedRooms != nil {
		SubscribedRooms.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
