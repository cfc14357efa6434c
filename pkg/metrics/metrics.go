// Package metrics collects the process counters exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyclearb",
		Subsystem: "feed",
		Name:      "messages_total",
		Help:      "Feed messages routed to workers.",
	})
	FeedGaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyclearb",
		Subsystem: "feed",
		Name:      "gaps_total",
		Help:      "Sequence gaps that forced a restart.",
	})
	FeedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyclearb",
		Subsystem: "feed",
		Name:      "dropped_total",
		Help:      "Messages dropped because a worker queue was full.",
	})

	BookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cyclearb",
		Subsystem: "book",
		Name:      "events_total",
		Help:      "Order events folded into books.",
	}, []string{"product"})
	BookErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyclearb",
		Subsystem: "book",
		Name:      "errors_total",
		Help:      "Order events the book engine refused.",
	})

	NetworkRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyclearb",
		Subsystem: "network",
		Name:      "refreshes_total",
		Help:      "Edge refreshes from changed products.",
	})
	NetworkCycles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cyclearb",
		Subsystem: "network",
		Name:      "cycles",
		Help:      "Simple cycles found in the last enumeration.",
	})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cyclearb",
		Subsystem: "trader",
		Name:      "orders_placed_total",
		Help:      "Orders accepted by the exchange.",
	}, []string{"side"})
	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyclearb",
		Subsystem: "trader",
		Name:      "orders_rejected_total",
		Help:      "Order placements the exchange refused.",
	})
	OrderRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyclearb",
		Subsystem: "trader",
		Name:      "order_rollbacks_total",
		Help:      "Orders canceled after a later placement in the same pass failed.",
	})

	Balance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cyclearb",
		Subsystem: "portfolio",
		Name:      "balance",
		Help:      "Last known balance per currency.",
	}, []string{"currency"})

	Restarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cyclearb",
		Name:      "restarts_total",
		Help:      "Full pipeline restarts.",
	})
)
