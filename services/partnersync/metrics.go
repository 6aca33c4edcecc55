package partnersync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activations",
		Subsystem: "partner_sync",
		Name:      "attempts_total",
		Help:      "HTTP tries made towards the partner, by event type.",
	}, []string{"event"})

	syncResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activations",
		Subsystem: "partner_sync",
		Name:      "results_total",
		Help:      "Inline sync outcomes, by sync type.",
	}, []string{"sync_type", "outcome"})

	queueDrained = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "activations",
		Subsystem: "partner_sync",
		Name:      "queue_delivered_total",
		Help:      "Queued items delivered by the drain task.",
	})
)
