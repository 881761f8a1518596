// Package metrics exposes Prometheus instrumentation for the reconciliation
// engine. Collectors are registered on the default registry and served by the
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync outcomes recorded against SyncTotal.
const (
	OutcomeApplied     = "applied"
	OutcomeNoop        = "noop"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

var (
	// SyncTotal counts reconciliation sync attempts by kind (balance,
	// position) and outcome.
	SyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verity",
		Subsystem: "reconcile",
		Name:      "sync_total",
		Help:      "Reconciliation sync attempts by kind and outcome.",
	}, []string{"kind", "outcome"})

	// LedgerWrites counts write operations against the ledger by table and
	// operation (insert, update, delete).
	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "verity",
		Subsystem: "ledger",
		Name:      "writes_total",
		Help:      "Ledger write operations by table and operation.",
	}, []string{"table", "op"})

	// PersistTicks counts persistence keeper iterations.
	PersistTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "verity",
		Subsystem: "persist",
		Name:      "ticks_total",
		Help:      "Persistence keeper iterations.",
	})

	// PersistSkips counts keeper iterations skipped because the strategy's
	// ledger row is not present yet.
	PersistSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "verity",
		Subsystem: "persist",
		Name:      "skips_total",
		Help:      "Keeper iterations skipped while awaiting the first balance sync.",
	})

	// PersistLastTick is the unix time of the last completed keeper tick.
	PersistLastTick = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "verity",
		Subsystem: "persist",
		Name:      "last_tick_seconds",
		Help:      "Unix time of the last completed keeper tick.",
	})
)
