package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// replicasObserved counts replicas read during sync by result
	replicasObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_replicas_observed_total",
		Help: "Replicas read during sync by result",
	}, []string{"result"})

	// mergesTotal counts local record merges by whether they were written back
	mergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_merges_total",
		Help: "Local record merges by outcome",
	}, []string{"outcome"})

	// denylistOps counts block and undeny calls by result
	denylistOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_denylist_ops_total",
		Help: "Block and undeny operations by result",
	}, []string{"op", "result"})
)
