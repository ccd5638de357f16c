// Package metrics exposes Prometheus instrumentation for the RPC server and
// the replicated state machine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quorumfs"

var (
	// RequestsTotal counts RPC requests by command type and outcome code.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "requests_total",
		Help:      "RPC requests by command type and result code.",
	}, []string{"type", "code"})

	// RequestDuration observes request handling latency by command type.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "request_duration_seconds",
		Help:      "RPC request handling latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	// ConnectionsActive tracks currently open client connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "connections_active",
		Help:      "Currently open client connections.",
	})

	// ConnectionsTotal counts accepted client connections.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "connections_total",
		Help:      "Accepted client connections.",
	})

	// AppliesTotal counts log entries applied by command type and outcome.
	AppliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rsm",
		Name:      "applies_total",
		Help:      "Committed log entries applied, by command type and result code.",
	}, []string{"type", "code"})

	// ApplyDuration observes storage execution latency per applied entry.
	ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rsm",
		Name:      "apply_duration_seconds",
		Help:      "Storage execution latency per applied log entry.",
		Buckets:   prometheus.DefBuckets,
	})

	// Leader is 1 while this node believes it is the raft leader.
	Leader = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rsm",
		Name:      "leader",
		Help:      "1 while this node is the raft leader, else 0.",
	})

	// SnapshotsTotal counts snapshots taken by this node.
	SnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rsm",
		Name:      "snapshots_total",
		Help:      "Snapshots persisted by this node.",
	})

	// RestoresTotal counts snapshot restores on this node.
	RestoresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rsm",
		Name:      "restores_total",
		Help:      "Snapshot restores applied by this node.",
	})

	// SnapshotExportsTotal counts snapshot archives exported to S3.
	SnapshotExportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rsm",
		Name:      "snapshot_exports_total",
		Help:      "Snapshot archives exported to remote storage.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
