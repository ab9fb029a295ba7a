package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "grove"

// Label names.
const (
	LabelAction  = "action"
	LabelReason  = "reason"
	LabelType    = "type"
	LabelOutcome = "outcome"
	LabelKind    = "kind"
)

// Outcome and kind label values.
const (
	OutcomeBlocked   = "blocked"
	OutcomeMiss      = "miss"
	OutcomeHit       = "hit"
	OutcomeStarted   = "started"
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"

	KindGone  = "gone"
	KindError = "error"
)

// Router metrics
var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound WebSocket messages by action.",
		},
		[]string{LabelAction},
	)

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "WebSocket connections currently registered with the hub.",
		},
	)
)

// Anti-cheat metrics
var (
	PositionResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_results_total",
			Help:      "Position validation results by reason code.",
		},
		[]string{LabelReason},
	)

	ViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Recorded anti-cheat violations by type.",
		},
		[]string{LabelType},
	)

	BansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bans_total",
			Help:      "Temporary bans issued.",
		},
	)
)

// Combat metrics
var (
	AttacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attacks_total",
			Help:      "Attacks by outcome (blocked, miss, hit).",
		},
		[]string{LabelOutcome},
	)

	DamageRolled = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "damage_rolled",
			Help:      "Distribution of allowed damage rolls.",
			Buckets:   []float64{0, 1, 2, 3},
		},
	)

	DeathsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deaths_total",
			Help:      "Player deaths resolved.",
		},
	)
)

// Harvest and push metrics
var (
	HarvestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harvests_total",
			Help:      "Harvests by outcome (started, completed, cancelled, rejected).",
		},
		[]string{LabelOutcome},
	)

	PushFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_failures_total",
			Help:      "Failed pushes by kind (gone, error).",
		},
		[]string{LabelKind},
	)
)
