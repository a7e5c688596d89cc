// Package observability wires the daemon's Prometheus instrumentation,
// grounded on the teacher's observability/metrics.go: package-level
// promauto vars, one Help string apiece, a consistent name prefix
// (flux_ there, taskdaemon_ here).
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JournalSequence tracks the journal's current max sequence number.
	JournalSequence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskdaemon_journal_sequence",
		Help: "Current max sequence number in the journal",
	})

	// JournalBacklog tracks Pending+Applied entries awaiting checkpoint.
	JournalBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskdaemon_journal_backlog",
		Help: "Journal entries in Pending or Applied status",
	})

	// JournalEntriesTotal counts journal entries handled by startup
	// recovery, by recovery action (replayed/skipped/expired/failed).
	JournalEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskdaemon_journal_entries_total",
		Help: "Total journal entries handled by startup recovery, by recovery action",
	}, []string{"status"})

	// TimerEscalationLevel tracks the timer's drift escalation level
	// (0-3; 0 when the timer is not drifting).
	TimerEscalationLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskdaemon_timer_escalation_level",
		Help: "Current timer drift escalation level",
	})

	// SchedulerPlacements counts auto-scheduler placement outcomes.
	SchedulerPlacements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskdaemon_scheduler_placements_total",
		Help: "Total scheduled blocks placed, by block type",
	}, []string{"block_type"})

	// SchedulerUnplaced counts tasks the scheduler could not place.
	SchedulerUnplaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskdaemon_scheduler_unplaced_total",
		Help: "Total tasks left unplaced by the auto-scheduler, by reason",
	}, []string{"reason"})

	// TunerConfidence tracks the Bayesian break tuner's last confidence.
	TunerConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskdaemon_tuner_confidence",
		Help:    "Distribution of Bayesian break tuner confidence values",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	// OrchestratorTickDuration tracks how long each orchestrator tick took.
	OrchestratorTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskdaemon_orchestrator_tick_duration_seconds",
		Help:    "Duration of the orchestrator's tick loop iteration",
		Buckets: prometheus.DefBuckets,
	})

	// OrchestratorRollbacks counts journal rollback entries, by error kind.
	OrchestratorRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskdaemon_orchestrator_rollbacks_total",
		Help: "Total orchestrator command rollbacks, by error kind",
	}, []string{"kind"})
)
