package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

const (
	OutcomePermit = "permit"
	OutcomeDeny   = "deny"

	CallerAccount   = "account"
	CallerAnonymous = "anonymous"

	CommitFailureStore     = "store"
	CommitFailureInvariant = "invariant"
)

// Metrics captures metered-access health signals.
type Metrics struct {
	admissionDecisions    *prometheus.CounterVec
	commits               *prometheus.CounterVec
	creditsCharged        *prometheus.CounterVec
	commitFailures        *prometheus.CounterVec
	duplicateTransactions prometheus.Counter
	invariantViolations   prometheus.Counter
	freeTrialConsumed     prometheus.Counter
	freeTrialExhausted    prometheus.Counter
	operations            *prometheus.CounterVec
	reconciliationFlagged prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered on the default registerer.
func Default(cfg Config) *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer, cfg)
	})
	return defaultMetrics
}

// New registers the metered-access collectors on registerer.
func New(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabels(cfg)

	m := &Metrics{
		admissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creditgate_admission_decisions_total",
			Help:        "Admission decisions by outcome, deny reason and caller kind.",
			ConstLabels: constLabels,
		}, []string{"outcome", "reason", "caller"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creditgate_usage_commits_total",
			Help:        "Committed usage transactions by operation type.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		creditsCharged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creditgate_credits_charged_total",
			Help:        "Credits consumed by committed usage.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		commitFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creditgate_usage_commit_failures_total",
			Help:        "Usage commits that did not persist after admission.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		duplicateTransactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "creditgate_duplicate_transactions_total",
			Help:        "Transaction id collisions rejected by the ledger.",
			ConstLabels: constLabels,
		}),
		invariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "creditgate_invariant_violations_total",
			Help:        "Commits rejected for insufficient credits after a permit.",
			ConstLabels: constLabels,
		}),
		freeTrialConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "creditgate_free_trial_consumed_total",
			Help:        "Free-trial slots consumed by anonymous callers.",
			ConstLabels: constLabels,
		}),
		freeTrialExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "creditgate_free_trial_exhausted_total",
			Help:        "Anonymous requests denied after the allowance was used.",
			ConstLabels: constLabels,
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "creditgate_metered_operations_total",
			Help:        "Metered operation lifecycle terminal states.",
			ConstLabels: constLabels,
		}, []string{"operation", "state"}),
		reconciliationFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "creditgate_reconciliation_flagged_total",
			Help:        "Items written to the reconciliation log.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.admissionDecisions,
		m.commits,
		m.creditsCharged,
		m.commitFailures,
		m.duplicateTransactions,
		m.invariantViolations,
		m.freeTrialConsumed,
		m.freeTrialExhausted,
		m.operations,
		m.reconciliationFlagged,
	)
	return m
}

func constLabels(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "creditgate"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

// RecordAdmission counts one admission decision. reason is empty on permit.
func (m *Metrics) RecordAdmission(outcome, reason, caller string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "none"
	}
	m.admissionDecisions.WithLabelValues(outcome, reason, caller).Inc()
}

// RecordCommit counts a committed transaction and the credits it consumed.
func (m *Metrics) RecordCommit(operation string, cost int64) {
	if m == nil {
		return
	}
	operation = normalizeLabel(operation)
	m.commits.WithLabelValues(operation).Inc()
	if cost > 0 {
		m.creditsCharged.WithLabelValues(operation).Add(float64(cost))
	}
}

func (m *Metrics) IncCommitFailure(reason string) {
	if m == nil {
		return
	}
	m.commitFailures.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncDuplicateTransaction() {
	if m == nil {
		return
	}
	m.duplicateTransactions.Inc()
}

func (m *Metrics) IncInvariantViolation() {
	if m == nil {
		return
	}
	m.invariantViolations.Inc()
	m.commitFailures.WithLabelValues(CommitFailureInvariant).Inc()
}

// RecordFreeTrial counts a consumed slot or a denial.
func (m *Metrics) RecordFreeTrial(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.freeTrialConsumed.Inc()
		return
	}
	m.freeTrialExhausted.Inc()
}

// RecordOperation counts a lifecycle terminal state (rejected, op_failed, committed, commit_failed).
func (m *Metrics) RecordOperation(operation, state string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), state).Inc()
}

func (m *Metrics) IncReconciliationFlagged() {
	if m == nil {
		return
	}
	m.reconciliationFlagged.Inc()
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
