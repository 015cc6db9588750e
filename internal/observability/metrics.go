package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Downloads       *prometheus.CounterVec
	DownloadBytes   *prometheus.CounterVec
	Installs        *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	ConnectionState *prometheus.GaugeVec
	Probes          *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec

	stages *stageLatency
}

// NewMetrics registers instruments on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers instruments on reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Finished artifact downloads by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		DownloadBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes received by download strategy.",
		}, []string{"strategy"}),
		Installs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Install task results by dependency key and outcome.",
		}, []string{"key", "outcome"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "install_queue_depth",
			Help:      "Number of tasks waiting in the install queue.",
		}),
		ConnectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_status",
			Help:      "1 for the current connection status, 0 for the others.",
		}, []string{"status"}),
		Probes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Dependency checks by key and result.",
		}, []string{"key", "result"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_ms",
			Help:      "Duration of setup stages in milliseconds by dependency key.",
			Buckets:   []float64{50, 250, 1000, 5000, 15000, 60000, 300000, 900000},
		}, []string{"key", "stage"}),
		stages: newStageLatency(64),
	}
}

func (m *Metrics) ObserveDownload(strategy, outcome string, bytes int64) {
	m.Downloads.WithLabelValues(strategy, outcome).Inc()
	if bytes > 0 {
		m.DownloadBytes.WithLabelValues(strategy).Add(float64(bytes))
	}
}

func (m *Metrics) ObserveInstall(key, outcome string) {
	m.Installs.WithLabelValues(key, outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// ObserveStage records how long stage took for the dependency key.
func (m *Metrics) ObserveStage(key, stage string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	m.StageDuration.WithLabelValues(key, stage).Observe(ms)
	m.stages.add(key, stage, ms)
}

// ObserveIndicator counts a discrete occurrence (for example a reconnect) in
// the stage snapshot.
func (m *Metrics) ObserveIndicator(name string) {
	m.stages.count(name)
}

// SetConnectionStatus marks current as the only active status among all.
func (m *Metrics) SetConnectionStatus(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ObserveProbe(key, result string) {
	m.Probes.WithLabelValues(key, result).Inc()
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
