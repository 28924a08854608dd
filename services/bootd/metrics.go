package bootd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeInvalid = "invalid_mac"
	outcomeError   = "error"
)

type metrics struct {
	bootRequests *prometheus.CounterVec
	discovered   prometheus.Counter
}

// newMetrics registers the boot counters with reg. A nil reg leaves them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		bootRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pxepilot",
			Name:      "boot_requests_total",
			Help:      "Boot requests by outcome (installer, localdisk, invalid_mac, error).",
		}, []string{"outcome"}),
		discovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pxepilot",
			Name:      "nodes_discovered_total",
			Help:      "Nodes created by their first boot request.",
		}),
	}
}
