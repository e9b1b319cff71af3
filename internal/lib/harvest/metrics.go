package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promCyclesRun = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "harvester",
		Name:      "cycles_total",
	})
	promCycleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "harvester",
		Name:      "cycle_failures_total",
	})
	promErasClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "harvester",
		Name:      "eras_claimed_total",
	})
	promCallsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "harvester",
		Name:      "calls_failed_total",
	})
	promBatchesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "harvester",
		Name:      "batches_submitted_total",
	})
	promBatchSplits = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "harvester",
		Name:      "batch_splits_total",
	})
	promTargetCount = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "harvester",
		Name:      "target_count",
	})
	promLastCycleUnix = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "harvester",
		Name:      "last_cycle_completed_unix",
	})
)
