package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dishwatch_workers_running",
		Help: "Number of per-user monitoring workers currently running",
	})

	pollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishwatch_poll_cycles_total",
			Help: "Poll cycles executed, by outcome",
		},
		[]string{"outcome"},
	)

	deviceFetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dishwatch_device_fetch_failures_total",
		Help: "Per-device event fetches that failed and were skipped",
	})

	tokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishwatch_token_refreshes_total",
			Help: "Credential refresh attempts, by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	eventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dishwatch_events_dispatched_total",
			Help: "Camera events handed to the event handler, by kind",
		},
		[]string{"kind"},
	)
)
