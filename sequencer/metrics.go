package sequencer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// clockTicks counts played columns by cause (start, tick)
	clockTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_clock_columns_total",
		Help: "Columns played by the playback clock",
	}, []string{"cause"})

	// clockRestarts counts tempo/tuning changes applied while running
	clockRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_clock_restarts_total",
		Help: "Playback restarts caused by tempo or tuning changes",
	})

	// notesTriggered counts notes handed to the audio engine by result
	notesTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ripple_notes_total",
		Help: "Notes triggered by result",
	}, []string{"result"})

	// ripplesTriggered counts propagation effects
	ripplesTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ripple_propagations_total",
		Help: "Ripple effects started",
	})

	// tickLag tracks how late ticks run relative to their deadline
	tickLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ripple_clock_tick_lag_seconds",
		Help:    "Delay between a tick deadline and its execution",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms to ~250ms
	})
)
