// Package metrics wires the bridge's Prometheus counters and gauges,
// grounded on adnanabbasy-ComX-Bridge's pkg/metrics package: one promauto
// vector per concern, plus small Inc/Set helpers. Unlike that teacher
// package, Registry is constructed rather than global, so every domain
// package depends on the narrow MetricsSink/NotifyMetrics interfaces it
// already declares instead of importing this package directly — that keeps
// internal/treadmill, internal/ftms, and internal/bridge free of an import
// edge back into internal/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kingsmith/ftms-bridge/internal/bridge"
	"github.com/kingsmith/ftms-bridge/internal/codec"
)

// Registry owns the process's Prometheus metric instances. It implements
// treadmill.MetricsSink, ftms.NotifyMetrics, and bridge.MetricsSink.
type Registry struct {
	codecErrors        prometheus.Counter
	statsReplies       *prometheus.CounterVec
	stateTransitions   *prometheus.CounterVec
	notificationsTotal prometheus.Counter
	bridgeUptime       prometheus.Gauge
}

// New registers the bridge's metrics against reg. Tests pass
// prometheus.NewRegistry() to avoid colliding with the default global
// registry across parallel test runs; cmd/bridge also passes a fresh
// prometheus.NewRegistry() and hands the same registry to internal/httpapi
// for /metrics.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		codecErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ftms_bridge_codec_errors_total",
			Help: "Malformed or unchecksummed treadmill frames dropped by the codec.",
		}),
		statsReplies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ftms_bridge_stats_replies_total",
			Help: "Decoded treadmill stats replies, labelled by observed speed encoding width.",
		}, []string{"speed_encoding"}),
		stateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ftms_bridge_state_transitions_total",
			Help: "Bridge supervisor state transitions, labelled by origin and destination state.",
		}, []string{"from", "to"}),
		notificationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ftms_bridge_ftms_notifications_total",
			Help: "Treadmill Data notifications published to FTMS subscribers.",
		}),
		bridgeUptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ftms_bridge_uptime_seconds",
			Help: "Wall-clock seconds since the bridge supervisor's reactor loop started.",
		}),
	}
}

// IncCodecError satisfies internal/treadmill.MetricsSink.
func (r *Registry) IncCodecError() {
	r.codecErrors.Inc()
}

// IncStatsReply satisfies internal/treadmill.MetricsSink.
func (r *Registry) IncStatsReply(encoding codec.SpeedEncoding) {
	r.statsReplies.WithLabelValues(speedEncodingLabel(encoding)).Inc()
}

// IncNotification satisfies internal/ftms.NotifyMetrics.
func (r *Registry) IncNotification() {
	r.notificationsTotal.Inc()
}

// IncTransition satisfies internal/bridge.MetricsSink.
func (r *Registry) IncTransition(from, to bridge.Kind) {
	r.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// SetUptime satisfies internal/bridge.MetricsSink.
func (r *Registry) SetUptime(seconds float64) {
	r.bridgeUptime.Set(seconds)
}

func speedEncodingLabel(enc codec.SpeedEncoding) string {
	switch enc {
	case codec.SpeedEncodingOneByte:
		return "one_byte"
	case codec.SpeedEncodingTwoByte:
		return "two_byte"
	default:
		return "unknown"
	}
}
