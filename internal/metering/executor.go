// Package metering runs metered operations through admission, execution and
// commit.
package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	admissiondomain "github.com/smallbiznis/creditgate/internal/admission/domain"
	"github.com/smallbiznis/creditgate/internal/catalog"
	"github.com/smallbiznis/creditgate/internal/config"
	obslogger "github.com/smallbiznis/creditgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/creditgate/internal/usage/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// State is a lifecycle state of one metered request.
type State string

const (
	StateReceived     State = "received"
	StateAdmitted     State = "admitted"
	StateRejected     State = "rejected"
	StateOpSucceeded  State = "op_succeeded"
	StateOpFailed     State = "op_failed"
	StateCommitted    State = "committed"
	StateCommitFailed State = "commit_failed"
)

const defaultCommitTimeout = 5 * time.Second

// Operation is the external work being metered. Its error means the operation
// failed and nothing is charged.
type Operation func(ctx context.Context) ([]byte, error)

// Outcome is the terminal state of a request plus what it produced. Result
// is set whenever the operation succeeded, even if the commit failed.
type Outcome struct {
	State         State
	OperationType string
	Cost          int64
	Decision      admissiondomain.Decision
	Result        []byte
	Receipt       *usagedomain.Receipt
	CommitErr     error
}

// Flagged reports a completed operation whose charge was not recorded.
func (o Outcome) Flagged() bool { return o.State == StateCommitFailed }

var ErrOperationFailed = errors.New("operation_failed")

// Pricer resolves an operation type to its catalog code and cost.
type Pricer interface {
	Cost(operationType string) (string, int64, error)
}

type Params struct {
	fx.In

	Config     config.Config
	Catalog    *catalog.Holder
	Admission  admissiondomain.Service
	Usage      usagedomain.Service
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Executor struct {
	pricer        Pricer
	admission     admissiondomain.Service
	usage         usagedomain.Service
	log           *zap.Logger
	obsMetrics    *obsmetrics.Metrics
	tracer        trace.Tracer
	commitTimeout time.Duration
}

func NewExecutor(p Params) *Executor {
	return New(p.Catalog, p.Admission, p.Usage, p.Log, p.ObsMetrics, p.Config.CommitTimeout)
}

func New(pricer Pricer, admission admissiondomain.Service, usage usagedomain.Service, log *zap.Logger, m *obsmetrics.Metrics, commitTimeout time.Duration) *Executor {
	if commitTimeout <= 0 {
		commitTimeout = defaultCommitTimeout
	}
	return &Executor{
		pricer:        pricer,
		admission:     admission,
		usage:         usage,
		log:           log.Named("metering.executor"),
		obsMetrics:    m,
		tracer:        otel.Tracer("creditgate/metering"),
		commitTimeout: commitTimeout,
	}
}

// Execute authorizes caller, runs op and commits its cost. No lock is held
// while op runs. The commit is detached from ctx cancellation so a finished
// operation is recorded even if the client has gone away.
func (e *Executor) Execute(ctx context.Context, caller admissiondomain.Caller, operationType string, op Operation) (Outcome, error) {
	code, cost, err := e.pricer.Cost(operationType)
	if err != nil {
		return Outcome{State: StateReceived}, err
	}

	ctx, span := e.tracer.Start(ctx, "metering.execute", trace.WithAttributes(
		attribute.String("operation.type", code),
		attribute.Int64("operation.cost", cost),
		attribute.String("caller.kind", string(caller.Kind)),
	))
	defer span.End()

	outcome := Outcome{State: StateReceived, OperationType: code, Cost: cost}
	log := obslogger.WithContext(ctx, e.log).With(
		zap.String("operation_type", code),
		zap.String("caller_kind", string(caller.Kind)),
		zap.String("caller", caller.ID),
	)

	decision, err := e.admission.Authorize(ctx, caller, cost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authorize")
		return outcome, err
	}
	outcome.Decision = decision
	if !decision.Permit {
		outcome.State = StateRejected
		e.finish(span, outcome)
		return outcome, decision.Err()
	}
	outcome.State = StateAdmitted

	result, opErr := op(ctx)
	if opErr != nil {
		outcome.State = StateOpFailed
		log.Warn("metered operation failed", zap.Error(opErr))
		span.RecordError(opErr)
		e.finish(span, outcome)
		return outcome, fmt.Errorf("%w: %w", ErrOperationFailed, opErr)
	}
	outcome.State = StateOpSucceeded
	outcome.Result = result

	// The free-trial slot was consumed at admission; anonymous runs carry no charge.
	if caller.IsAnonymous() {
		e.finish(span, outcome)
		return outcome, nil
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.commitTimeout)
	defer cancel()

	receipt, err := e.usage.Record(commitCtx, usagedomain.RecordRequest{
		AccountID:     caller.ID,
		OperationType: code,
		Cost:          cost,
	})
	if err != nil {
		outcome.State = StateCommitFailed
		outcome.CommitErr = err
		log.Error("metered operation completed but commit failed", zap.Int64("cost", cost), zap.Error(err))
		span.RecordError(err)
		e.finish(span, outcome)
		return outcome, nil
	}

	outcome.State = StateCommitted
	outcome.Receipt = &receipt
	span.SetAttributes(attribute.String("transaction.id", receipt.TransactionID))
	e.finish(span, outcome)
	return outcome, nil
}

func (e *Executor) finish(span trace.Span, outcome Outcome) {
	e.obsMetrics.RecordOperation(outcome.OperationType, string(outcome.State))
	span.SetAttributes(attribute.String("operation.state", string(outcome.State)))
	switch outcome.State {
	case StateOpFailed, StateCommitFailed:
		span.SetStatus(codes.Error, string(outcome.State))
	default:
		span.SetStatus(codes.Ok, "")
	}
}
