package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	reinstallChanges *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		reinstallChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pxepilot",
			Name:      "reinstall_changes_total",
			Help:      "Reinstall flag changes made through the admin API.",
		}, []string{"action"}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pxepilot",
			Name:      "admin_auth_failures_total",
			Help:      "Admin requests rejected by the auth gate, by reason.",
		}, []string{"reason"}),
	}
}
