package cloudmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics is the anonymous fleet snapshot a self-hosted install pushes
// home. Everything is a gauge sampled from the database right before a
// push; no per-request instrumentation feeds this registry.
type metrics struct {
	info          *prometheus.GaugeVec
	users         prometheus.Gauge
	areas         prometheus.Gauge
	bowls         *prometheus.GaugeVec
	verifications *prometheus.GaugeVec
	points        prometheus.Gauge
	activeStreaks prometheus.Gauge
	memSysBytes   prometheus.Gauge
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "babcia_install_info",
			Help: "Constant 1 labelled with install id and version.",
		}, []string{"install_id", "version"}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "babcia_users",
			Help: "Registered users.",
		}),
		areas: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "babcia_areas",
			Help: "Areas across all households.",
		}),
		bowls: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "babcia_bowls",
			Help: "Bowls by lifecycle state.",
		}, []string{"state"}),
		verifications: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "babcia_verifications",
			Help: "Judged verification attempts by tier and verdict.",
		}, []string{"tier", "verdict"}),
		points: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "babcia_points_in_circulation",
			Help: "Sum of all ledger entries.",
		}),
		activeStreaks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "babcia_active_streaks",
			Help: "Users with a running streak.",
		}),
		memSysBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "babcia_memory_sys_bytes",
			Help: "Memory obtained from the OS.",
		}),
	}

	registry.MustRegister(
		m.info,
		m.users,
		m.areas,
		m.bowls,
		m.verifications,
		m.points,
		m.activeStreaks,
		m.memSysBytes,
	)

	return m
}
