package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordObservations(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry(), "test")
	m.ObserveDownload("direct", "completed", 1024)
	m.ObserveDownload("direct", "completed", 1024)
	m.ObserveInstall("python", "completed")
	m.SetQueueDepth(3)
	m.SetConnectionStatus("Connected", []string{"Disconnected", "Connected"})
	m.ObserveStage("python", "install", 1500*time.Millisecond)
	m.ObserveIndicator("reconnect")

	if got := testutil.ToFloat64(m.Downloads.WithLabelValues("direct", "completed")); got != 2 {
		t.Fatalf("downloads_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DownloadBytes.WithLabelValues("direct")); got != 2048 {
		t.Fatalf("download_bytes_total = %v, want 2048", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 3 {
		t.Fatalf("queue depth = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.ConnectionState.WithLabelValues("Disconnected")); got != 0 {
		t.Fatalf("connection_status{Disconnected} = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(m.StageDuration); got != 1 {
		t.Fatalf("stage_duration_ms series = %d, want 1", got)
	}
	snap := m.SnapshotStages()
	if len(snap.Stages) != 1 || snap.Stages[0].Dependency != "python" || snap.Stages[0].LastMS != 1500 {
		t.Fatalf("stage snapshot = %+v, want python install 1500ms", snap.Stages)
	}
	if snap.Counters["reconnect"] != 1 {
		t.Fatalf("Counters = %v, want reconnect=1", snap.Counters)
	}
}
