// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "echomeet"

var (
	Reconciles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mesh",
		Name:      "reconciles_total",
		Help:      "Roster reconciliations run by mesh managers.",
	})
	Handles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mesh",
		Name:      "connection_handles",
		Help:      "Outbound connection handles currently held.",
	})
	ConnectionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mesh",
		Name:      "connection_failures_total",
		Help:      "Direct connections that could not be established or answered.",
	})
	SignalMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "signal",
		Name:      "messages_total",
		Help:      "Signaling messages handled by the broker, by type and outcome.",
	}, []string{"type", "outcome"})
	SignalPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "signal",
		Name:      "peers",
		Help:      "Clients connected to the signaling broker.",
	})
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rooms",
		Name:      "created_total",
		Help:      "Rooms created through the API.",
	})
)
