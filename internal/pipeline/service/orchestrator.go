package service

import (
	"context"
	"fmt"
	"time"

	"paypipe/internal/errors"
	"paypipe/internal/logging"
	"paypipe/internal/pipeline/domain"
	"paypipe/internal/pipeline/ports"
	"paypipe/internal/pipeline/stages"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "paypipe/pipeline"

// StageRun is the in-memory outcome of one reached stage
type StageRun struct {
	Name     string
	Outcome  domain.StageOutcome
	Action   string
	Payload  map[string]any
	Err      error
	Critical bool
	Duration time.Duration
}

// PipelineResult aggregates one run. Success is false only when a critical
// stage failed, the run was cancelled, or the transaction was rejected
// before any stage ran.
type PipelineResult struct {
	Success     bool
	Cancelled   bool
	Transaction domain.Transaction
	Context     *domain.ProcessingContext
	Stages      []StageRun
	Errors      []error
	AuditErrors []error
	Duration    time.Duration
}

// HaltedAt returns the stage whose critical failure stopped the run
func (r *PipelineResult) HaltedAt() (StageRun, bool) {
	if r.Success || len(r.Stages) == 0 {
		return StageRun{}, false
	}
	last := r.Stages[len(r.Stages)-1]
	if last.Outcome == domain.OutcomeFailed && last.Critical {
		return last, true
	}
	return StageRun{}, false
}

// Orchestrator drives a transaction through the configured stage order
type Orchestrator struct {
	order        []string
	stages       map[string]stages.Stage
	audit        *AuditLogger
	txns         ports.TransactionStore
	tracer       trace.Tracer
	clock        ports.Clock
	logger       *logging.Logger
	stageTimeout time.Duration
}

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithTracer sets the tracer spans are started from
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithClock sets the clock used for record timestamps and durations
func WithClock(clock ports.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithLogger replaces the default pipeline logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithStageTimeout bounds every Process call; zero disables the bound
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// WithTransactionStore lets the orchestrator persist the processing and
// failed statuses it sets on a run
func WithTransactionStore(store ports.TransactionStore) Option {
	return func(o *Orchestrator) { o.txns = store }
}

// NewOrchestrator registers registered under their names and runs them in
// order. Names in order without a registered stage are skipped silently.
func NewOrchestrator(order []string, registered []stages.Stage, audit *AuditLogger, opts ...Option) (*Orchestrator, error) {
	byName := make(map[string]stages.Stage, len(registered))
	for _, s := range registered {
		if s == nil {
			return nil, errors.Configuration("nil stage registered")
		}
		if _, dup := byName[s.Name()]; dup {
			return nil, errors.Configuration(fmt.Sprintf("stage %s registered twice", s.Name()))
		}
		byName[s.Name()] = s
	}

	o := &Orchestrator{
		order:  append([]string(nil), order...),
		stages: byName,
		audit:  audit,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	if o.clock == nil {
		o.clock = ports.SystemClock{}
	}
	if o.logger == nil {
		o.logger = logging.NewDefaultLogger("pipeline")
	}
	return o, nil
}

// Order returns the configured stage order
func (o *Orchestrator) Order() []string {
	return append([]string(nil), o.order...)
}

// Run pushes txn through the stages. The caller's txn and pctx are not
// modified; the final state is returned in the result. Stage errors are
// reported in the result and never returned.
func (o *Orchestrator) Run(ctx context.Context, txn domain.Transaction, pctx *domain.ProcessingContext) *PipelineResult {
	started := o.clock.Now()
	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("txn.id", txn.ID),
		attribute.String("txn.type", string(txn.Type)),
	))
	defer span.End()

	result := &PipelineResult{
		Success:     true,
		Transaction: txn.Clone(),
		Context:     pctx.Clone(),
	}
	defer func() {
		result.Duration = o.clock.Now().Sub(started)
		span.SetAttributes(
			attribute.Bool("pipeline.success", result.Success),
			attribute.Int("pipeline.stages", len(result.Stages)),
		)
		if !result.Success {
			span.SetStatus(codes.Error, "pipeline halted")
		}
	}()

	if err := txn.Validate(); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, errors.Wrap(err, errors.ErrorTypeValidation, "invalid transaction"))
		return result
	}

	if err := o.start(ctx, &result.Transaction); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err)
		return result
	}

	for _, name := range o.order {
		if err := ctx.Err(); err != nil {
			o.logger.Warn("txn=%s run cancelled before %s", txn.ID, name)
			result.Success = false
			result.Cancelled = true
			result.Errors = append(result.Errors, errors.Cancelled("pipeline run", err))
			break
		}

		stage, ok := o.stages[name]
		if !ok {
			continue
		}

		run := o.runStage(ctx, stage, result)
		result.Stages = append(result.Stages, run)
		if run.Err == nil {
			continue
		}

		result.Errors = append(result.Errors, run.Err)
		if run.Critical {
			result.Success = false
			o.halt(ctx, &result.Transaction, name)
			break
		}
	}

	return result
}

// start moves a pending transaction into processing
func (o *Orchestrator) start(ctx context.Context, txn *domain.Transaction) error {
	if txn.Status != domain.StatusPending {
		return nil
	}
	if o.txns != nil {
		if err := o.txns.UpdateStatus(ctx, txn.ID, domain.StatusProcessing, nil); err != nil {
			return errors.Wrap(err, errors.ErrorTypeExternal, "failed to mark transaction processing")
		}
	}
	txn.Status = domain.StatusProcessing
	return nil
}

// halt marks the transaction failed after a critical stage failure unless a
// stage already moved it to a terminal status
func (o *Orchestrator) halt(ctx context.Context, txn *domain.Transaction, stage string) {
	o.logger.Warn("txn=%s halted by critical failure in %s", txn.ID, stage)
	if !txn.Status.CanTransitionTo(domain.StatusFailed) {
		return
	}
	metadata := map[string]any{"failedStage": stage}
	if o.txns != nil {
		if err := o.txns.UpdateStatus(context.WithoutCancel(ctx), txn.ID, domain.StatusFailed, metadata); err != nil {
			o.logger.Error("txn=%s failed to persist failed status: %v", txn.ID, err)
		}
	}
	patch := (&domain.TransactionPatch{}).WithStatus(domain.StatusFailed).WithMetadata("failedStage", stage)
	patch.Apply(txn)
}

func (o *Orchestrator) runStage(ctx context.Context, stage stages.Stage, result *PipelineResult) StageRun {
	name := stage.Name()
	ctx, span := o.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("stage.name", name),
		attribute.String("stage.version", stage.Version()),
	))
	defer span.End()

	txn := result.Transaction.Clone()
	pctx := result.Context.Clone()
	rec := domain.StageExecutionRecord{
		TransactionID: txn.ID,
		Stage:         name,
		Input: map[string]any{
			"transaction": txn.Snapshot(),
			"context":     pctx.Snapshot(),
		},
		Timestamp: o.clock.Now(),
	}
	run := StageRun{Name: name}

	if !stage.IsEnabled(txn.Clone(), pctx.Clone()) {
		run.Outcome = domain.OutcomeSkipped
		rec.Outcome = domain.OutcomeSkipped
		rec.Output = map[string]any{"reason": "stage not enabled for this transaction"}
		o.finish(ctx, span, rec, &run, result)
		return run
	}

	var stageResult *domain.StageResult
	err := bounded(ctx, o.stageTimeout, name, func(ctx context.Context) error {
		var err error
		stageResult, err = stage.Process(ctx, txn.Clone(), pctx.Clone())
		return err
	})
	if err == nil {
		err = checkResult(stageResult, result.Transaction)
	}
	run.Duration = o.clock.Now().Sub(rec.Timestamp)
	rec.Duration = run.Duration

	if err != nil {
		run.Outcome = domain.OutcomeFailed
		run.Err = fmt.Errorf("%s: %w", name, err)
		run.Critical = stage.IsCritical(txn.Clone(), pctx.Clone())
		rec.Outcome = domain.OutcomeFailed
		rec.Error = err.Error()
		rec.Output = map[string]any{"critical": run.Critical}
		if t, ok := errors.TypeOf(err); ok {
			rec.Output["errorType"] = string(t)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.finish(ctx, span, rec, &run, result)
		return run
	}

	stageResult.TransactionPatch.Apply(&result.Transaction)
	stageResult.ContextPatch.Apply(result.Context)

	run.Outcome = domain.OutcomeSuccess
	run.Action = stageResult.Action
	run.Payload = stageResult.Payload
	rec.Outcome = domain.OutcomeSuccess
	rec.Output = map[string]any{
		"action":           stageResult.Action,
		"payload":          stageResult.Payload,
		"transactionPatch": stageResult.TransactionPatch.Snapshot(),
		"contextPatch":     stageResult.ContextPatch.Snapshot(),
	}
	span.SetAttributes(attribute.String("stage.action", stageResult.Action))
	o.finish(ctx, span, rec, &run, result)
	return run
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, rec domain.StageExecutionRecord, run *StageRun, result *PipelineResult) {
	span.SetAttributes(attribute.String("stage.outcome", string(run.Outcome)))
	if run.Err != nil {
		o.logger.Warn("txn=%s stage=%s outcome=%s critical=%t err=%v", rec.TransactionID, run.Name, run.Outcome, run.Critical, run.Err)
	} else {
		o.logger.Info("txn=%s stage=%s outcome=%s action=%s duration=%s", rec.TransactionID, run.Name, run.Outcome, run.Action, run.Duration)
	}
	if err := o.audit.Record(ctx, rec); err != nil {
		result.AuditErrors = append(result.AuditErrors, err)
	}
}

// checkResult rejects results the orchestrator cannot merge safely
func checkResult(res *domain.StageResult, current domain.Transaction) error {
	if res == nil {
		return errors.Internal("stage returned no result")
	}
	if !res.Success {
		return errors.Internal("stage reported failure without an error")
	}
	if err := res.TransactionPatch.Validate(current); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid transaction patch")
	}
	if err := res.ContextPatch.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid context patch")
	}
	return nil
}
