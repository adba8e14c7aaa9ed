// Package metrics provides Prometheus metrics for wgkeeper.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all wgkeeper metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Metrics holds all Prometheus metrics for the peer manager.
type Metrics struct {
	PeersAdded     prometheus.Counter
	PeersRemoved   prometheus.Counter
	ReloadFailures prometheus.Counter
	Peers          prometheus.Gauge
}

// New registers and returns the wgkeeper metrics, labeled with the
// managed interface name.
func New(iface string) *Metrics {
	constLabels := prometheus.Labels{
		"interface": iface,
	}

	return &Metrics{
		PeersAdded: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "wgkeeper_peers_added_total",
			Help:        "Total peers added",
			ConstLabels: constLabels,
		}),
		PeersRemoved: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "wgkeeper_peers_removed_total",
			Help:        "Total peers removed",
			ConstLabels: constLabels,
		}),
		ReloadFailures: promauto.With(Registry).NewCounter(prometheus.CounterOpts{
			Name:        "wgkeeper_reload_failures_total",
			Help:        "Total interface reloads that failed after a config write",
			ConstLabels: constLabels,
		}),
		Peers: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name:        "wgkeeper_peers",
			Help:        "Managed peers currently in the config",
			ConstLabels: constLabels,
		}),
	}
}
