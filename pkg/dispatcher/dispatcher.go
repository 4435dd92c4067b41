// Package dispatcher runs the per-event state machine that coordinates
// enrichment, risk assessment, decision-making, execution, and outcome
// recording for a single KillEvent. Many events progress through the
// machine concurrently on a bounded worker pool; ordering within one
// event's state sequence is strict, but there is no cross-event ordering
// guarantee.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kase1111-hash/medic-agent/internal/errors"
	"github.com/kase1111-hash/medic-agent/pkg/decision"
	"github.com/kase1111-hash/medic-agent/pkg/enrichment"
	"github.com/kase1111-hash/medic-agent/pkg/executor"
	"github.com/kase1111-hash/medic-agent/pkg/metrics"
	"github.com/kase1111-hash/medic-agent/pkg/outcomestore"
	"github.com/kase1111-hash/medic-agent/pkg/risk"
	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// State names the dispatcher's per-event state machine. Only RECEIVED
// through the terminal states are ever observed externally; they exist
// primarily for logging and tests.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateEnriching     State = "ENRICHING"
	StateAssessing     State = "ASSESSING"
	StateDeciding      State = "DECIDING"
	StateExecuting     State = "EXECUTING"
	StateSkipped       State = "SKIPPED"
	StateRecording     State = "RECORDING"
	StateAcked         State = "ACKED"
	StateFailedUnacked State = "FAILED_UNACKED"
)

// Mode selects whether the dispatcher actually invokes the Executor.
type Mode string

const (
	ModeObserver Mode = "observer"
	ModeLive     Mode = "live"
)

// Acknowledger is the upstream kill-event source's idempotent ack hook.
type Acknowledger interface {
	Acknowledge(ctx context.Context, killID string) error
}

// Config controls the dispatcher's mode, concurrency, and per-call timeouts.
type Config struct {
	Mode                Mode
	MaxConcurrent       int64
	EnrichmentTimeout   time.Duration
	ExecutionTimeout    time.Duration
	HealthCheckTimeout  time.Duration
}

// Dispatcher coordinates the Enricher, RiskEngine, DecisionEngine,
// Executor, and OutcomeStore for each accepted KillEvent.
type Dispatcher struct {
	cfg      Config
	enricher enrichment.Enricher
	risk     *risk.Engine
	decision *decision.Engine
	exec     executor.Executor
	store    outcomestore.OutcomeStore
	ack      Acknowledger
	logger   *zap.Logger
	sem      *semaphore.Weighted
	metrics  *metrics.Metrics
	inFlight int64
}

// WithMetrics attaches a Metrics instance the dispatcher publishes
// decision, risk, outcome, execution, and in-flight observations to. Safe
// to omit; a nil *metrics.Metrics disables instrumentation.
func (d *Dispatcher) WithMetrics(m *metrics.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// New builds a Dispatcher.
func New(cfg Config, enricher enrichment.Enricher, riskEngine *risk.Engine, decisionEngine *decision.Engine,
	exec executor.Executor, store outcomestore.OutcomeStore, ack Acknowledger, logger *zap.Logger) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.EnrichmentTimeout <= 0 {
		cfg.EnrichmentTimeout = 10 * time.Second
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 30 * time.Second
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = 30 * time.Second
	}
	return &Dispatcher{
		cfg:      cfg,
		enricher: enricher,
		risk:     riskEngine,
		decision: decisionEngine,
		exec:     exec,
		store:    store,
		ack:      ack,
		logger:   logger,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Dispatch drives one KillEvent through the full state sequence. It blocks
// until a worker slot is available, then runs the event to completion.
// It returns the final state reached, and an error only when ctx ends
// before a worker slot is acquired (the state is then RECEIVED); domain
// failures are represented in the returned state, not as a Go error.
func (d *Dispatcher) Dispatch(ctx context.Context, event types.KillEvent) (State, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return StateReceived, err
	}
	defer d.sem.Release(1)

	n := atomic.AddInt64(&d.inFlight, 1)
	if d.metrics != nil {
		d.metrics.SetDispatcherInFlight(int(n))
	}
	defer func() {
		n := atomic.AddInt64(&d.inFlight, -1)
		if d.metrics != nil {
			d.metrics.SetDispatcherInFlight(int(n))
		}
	}()

	return d.run(ctx, event)
}

func (d *Dispatcher) run(ctx context.Context, event types.KillEvent) (State, error) {
	log := d.logger
	started := time.Now()
	if log != nil {
		log.Info("dispatching kill event", zap.String("kill_id", event.KillID), zap.String("target_module", event.TargetModule))
	}

	enrichment := d.enrich(ctx, event)
	riskAssessment := d.risk.Assess(ctx, event, enrichment)
	if d.metrics != nil {
		d.metrics.RecordRiskScore(event.TargetModule, riskAssessment.RiskScore)
	}

	dec, err := d.decision.Decide(ctx, event, riskAssessment, enrichment)
	if err != nil {
		if log != nil {
			log.Error("decision engine failed", zap.String("kill_id", event.KillID), zap.Error(err))
		}
		return StateFailedUnacked, nil
	}
	if d.metrics != nil {
		d.metrics.RecordDecision(event.TargetModule, string(dec.Outcome), time.Since(started).Seconds())
	}

	execResult, state := d.maybeExecute(ctx, event, dec)

	outcome := d.buildOutcome(event, dec, enrichment, execResult, state)
	if d.metrics != nil {
		d.metrics.RecordOutcome(event.TargetModule, string(outcome.OutcomeType))
	}

	if err := d.store.StoreOutcome(ctx, outcome); err != nil {
		if log != nil {
			log.Error("outcome store failed, leaving event unacknowledged", zap.String("kill_id", event.KillID), zap.Error(err))
		}
		return StateFailedUnacked, nil
	}

	if d.ack != nil {
		if err := d.ack.Acknowledge(ctx, event.KillID); err != nil {
			if log != nil {
				log.Error("upstream acknowledge failed after durable store", zap.String("kill_id", event.KillID), zap.Error(err))
			}
			return StateFailedUnacked, nil
		}
	}

	if log != nil {
		log.Info("kill event processed", zap.String("kill_id", event.KillID), zap.String("outcome", string(dec.Outcome)))
	}
	return StateAcked, nil
}

// enrich calls the Enricher under a bounded timeout; a failure to
// enrich is itself swallowed by the Enricher contract, but a timeout on
// our side is an extra layer of defense against an Enricher that does
// not honor its own contract.
func (d *Dispatcher) enrich(ctx context.Context, event types.KillEvent) types.EnrichmentResult {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.EnrichmentTimeout)
	defer cancel()

	type result struct {
		r types.EnrichmentResult
	}
	done := make(chan result, 1)
	go func() {
		done <- result{d.enricher.Enrich(ctx, event)}
	}()

	select {
	case r := <-done:
		return r.r
	case <-ctx.Done():
		if d.logger != nil {
			d.logger.Warn("enrichment timed out, using defaults", zap.String("kill_id", event.KillID))
		}
		return types.DefaultEnrichmentResult()
	}
}

func (d *Dispatcher) maybeExecute(ctx context.Context, event types.KillEvent, dec types.Decision) (*executor.ExecutionResult, State) {
	if dec.Outcome != types.OutcomeApproveAuto || d.cfg.Mode != ModeLive {
		return nil, StateSkipped
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.ExecutionTimeout)
	defer cancel()

	result, err := d.exec.Resurrect(ctx, event, dec)
	if err != nil {
		if d.logger != nil {
			d.logger.Error("executor call failed", zap.String("kill_id", event.KillID), zap.Error(err))
		}
		result = executor.ExecutionResult{Success: false, ErrorMessage: err.Error()}
	}
	if d.metrics != nil {
		d.metrics.RecordExecution(string(result.MethodUsed), result.Duration.Seconds())
	}
	return &result, StateExecuting
}

func (d *Dispatcher) buildOutcome(event types.KillEvent, dec types.Decision, enrichment types.EnrichmentResult, execResult *executor.ExecutionResult, state State) types.ResurrectionOutcome {
	outcome := types.ResurrectionOutcome{
		OutcomeID:          fmt.Sprintf("outcome-%s", dec.DecisionID),
		DecisionID:         dec.DecisionID,
		KillID:             event.KillID,
		TargetModule:       event.TargetModule,
		Timestamp:          time.Now().UTC(),
		OriginalRiskScore:  dec.Risk.RiskScore,
		OriginalConfidence: dec.Risk.Confidence,
		OriginalDecision:   string(dec.Outcome),
		WasAutoApproved:    dec.Outcome == types.OutcomeApproveAuto,
		FeedbackSource:     types.FeedbackAutomated,
		Metadata: map[string]interface{}{
			"enrichment_recommendation": enrichment.Recommendation,
			"enrichment_risk_score":     enrichment.RiskScore,
		},
	}

	switch {
	case execResult != nil && execResult.Success:
		outcome.OutcomeType = types.OutcomeTypeSuccess
		health := 1.0
		outcome.HealthScoreAfter = &health
		seconds := execResult.Duration.Seconds()
		outcome.TimeToHealthy = &seconds
		outcome.Metadata["container_id"] = execResult.NewInstanceID
	case execResult != nil && !execResult.Success:
		outcome.OutcomeType = types.OutcomeTypeFailure
		outcome.Metadata["error"] = execResult.ErrorMessage
	default:
		outcome.OutcomeType = types.OutcomeTypeUndetermined
	}

	_ = state
	return outcome
}

// WrapStoreUnavailable classifies a store failure using the shared error
// taxonomy, for admin surfaces that want to distinguish FAILED_UNACKED
// caused by the store from other failure modes.
func WrapStoreUnavailable(err error) error {
	return errors.NewStoreUnavailableError(err)
}
