package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ripple",
		Subsystem: "relay",
		Name:      "clients",
		Help:      "Connected relay clients.",
	})
	relayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "relay",
		Name:      "messages_total",
		Help:      "Frames accepted by the relay, by type.",
	}, []string{"type"})
	relayRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "relay",
		Name:      "rejected_total",
		Help:      "Frames dropped by the relay, by reason.",
	}, []string{"reason"})
)
