package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/todo-1m/board/internal/contracts"
	"github.com/todo-1m/board/internal/platform/metrics"
)

const (
	outcomeOK       = "ok"
	outcomeConflict = "conflict"
	outcomeError    = "error"

	conflictOpened    = "opened"
	conflictQueued    = "queued"
	conflictCancelled = "cancelled"
	conflictFailed    = "failed"
)

var (
	mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_mutations_total",
		Help: "Mutations sent to the server of record by kind and outcome.",
	}, []string{"kind", "outcome"})
	pushEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_push_events_total",
		Help: "Push-channel events received by event name.",
	}, []string{"event"})
	conflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_conflicts_total",
		Help: "Version conflicts by lifecycle outcome.",
	}, []string{"outcome"})
	pendingConflicts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boardsync_pending_conflicts",
		Help: "Conflicts awaiting a decision, active and queued.",
	})
)

func init() {
	metrics.Default.MustRegister(mutations, pushEvents, conflicts, pendingConflicts)
}

func eventLabel(name string) string {
	switch name {
	case contracts.EventTaskAdded, contracts.EventTaskUpdated, contracts.EventTaskDeleted, contracts.EventActivityLogged:
		return name
	default:
		return "unknown"
	}
}
