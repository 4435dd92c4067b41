// Package decision implements the policy layer that maps a RiskAssessment
// (plus the originating KillEvent) to a Decision: immediate-deny rules,
// observer-vs-live mode gating, and the human-readable reasoning narrative.
package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kase1111-hash/medic-agent/pkg/outcomestore"
	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// Config controls the engine's mode and policy thresholds.
type Config struct {
	ObserverMode              bool
	AutoApproveEnabled        bool
	AutoApproveMinConfidence  float64
	AlwaysDenyModules         []string
	AlwaysRequireApproval     []string
}

// Engine is the single authoritative decision-making component. The live
// vs. observer distinction lives entirely in Decide; there is no separate
// "observer" type.
type Engine struct {
	cfg    Config
	policy *policyGate
	store  outcomestore.OutcomeStore
	logger *zap.Logger

	mu              sync.Mutex
	outcomeCounts   map[types.DecisionOutcome]int
	decisionCount   int
}

// New builds an Engine. store may be nil; Calibrate then becomes a no-op.
func New(ctx context.Context, cfg Config, store outcomestore.OutcomeStore, logger *zap.Logger) (*Engine, error) {
	gate, err := newPolicyGate(ctx, cfg.AlwaysDenyModules, cfg.AlwaysRequireApproval)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:           cfg,
		policy:        gate,
		store:         store,
		logger:        logger,
		outcomeCounts: make(map[types.DecisionOutcome]int),
	}, nil
}

// Decide maps a RiskAssessment to a Decision, applying immediate-deny rules
// before the normal risk-level classification.
func (e *Engine) Decide(ctx context.Context, event types.KillEvent, risk types.RiskAssessment, enrichment types.EnrichmentResult) (types.Decision, error) {
	if denied, reason := e.checkImmediateDeny(ctx, event, risk, enrichment); denied {
		risk.RiskScore = 0.95
		risk.Confidence = 0.95
		d := types.NewDecision(event.KillID, types.OutcomeDeny, risk,
			e.reasoning(event, risk, enrichment, []string{reason}),
			"Do not resurrect", nil)
		e.record(d.Outcome)
		return d, nil
	}

	requiresApproval, err := e.policy.requiresApproval(ctx, event.TargetModule)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("policy evaluation failed, defaulting to no restriction", zap.Error(err))
		}
		requiresApproval = false
	}

	outcome := e.classify(risk)
	if requiresApproval && outcome == types.OutcomeApproveAuto {
		outcome = types.OutcomePendingReview
	}

	var action string
	var constraints []string
	switch outcome {
	case types.OutcomeApproveAuto:
		action = "Resurrect automatically"
	case types.OutcomePendingReview:
		action = "Await operator approval"
	case types.OutcomeDeny:
		action = "Do not resurrect"
	default:
		action = "Defer decision"
	}
	if e.cfg.ObserverMode && (outcome == types.OutcomeApproveAuto || outcome == types.OutcomePendingReview) {
		constraints = append(constraints, "observer mode: execution suppressed")
	}

	d := types.NewDecision(event.KillID, outcome, risk, e.reasoning(event, risk, enrichment, nil), action, constraints)
	e.record(d.Outcome)
	return d, nil
}

func (e *Engine) checkImmediateDeny(ctx context.Context, event types.KillEvent, risk types.RiskAssessment, enrichment types.EnrichmentResult) (bool, string) {
	if alwaysDenied, err := e.policy.isAlwaysDenied(ctx, event.TargetModule); err == nil && alwaysDenied {
		return true, fmt.Sprintf("module %s is on the always-deny list", event.TargetModule)
	}
	if event.KillReason == types.ReasonThreatDetected && event.ConfidenceScore > 0.95 {
		return true, "confirmed threat detection with high confidence"
	}
	for _, indicator := range enrichment.ThreatIndicators {
		if indicator.ThreatScore > 0.9 {
			return true, fmt.Sprintf("threat indicator %s scored above 0.9", indicator.IndicatorType)
		}
	}
	return false, ""
}

// classify applies the live-mode risk-level table. Observer mode uses the
// identical classification; execution suppression is handled by the
// caller, not by diverging the classification logic.
func (e *Engine) classify(risk types.RiskAssessment) types.DecisionOutcome {
	switch risk.RiskLevel {
	case types.RiskHigh, types.RiskCritical:
		return types.OutcomeDeny
	case types.RiskMinimal, types.RiskLow:
		if e.cfg.AutoApproveEnabled && risk.Confidence >= e.cfg.AutoApproveMinConfidence {
			return types.OutcomeApproveAuto
		}
		return types.OutcomePendingReview
	default:
		return types.OutcomePendingReview
	}
}

func (e *Engine) reasoning(event types.KillEvent, risk types.RiskAssessment, enrichment types.EnrichmentResult, extra []string) []string {
	reasoning := make([]string, 0, 6)
	reasoning = append(reasoning, fmt.Sprintf("Kill event: %s killed %s (reason=%s, severity=%s)",
		event.KillID, event.TargetModule, event.KillReason, event.Severity))
	reasoning = append(reasoning, fmt.Sprintf("Enrichment: risk_score=%.2f recommendation=%s", enrichment.RiskScore, enrichment.Recommendation))
	if enrichment.FalsePositiveHistory > 0 {
		reasoning = append(reasoning, fmt.Sprintf("False positive history: %d prior incidents", enrichment.FalsePositiveHistory))
	}
	if len(enrichment.ThreatIndicators) > 0 {
		reasoning = append(reasoning, fmt.Sprintf("Threat indicators observed: %d", len(enrichment.ThreatIndicators)))
	}
	reasoning = append(reasoning, fmt.Sprintf("Overall risk: %s (score=%.2f, confidence=%.2f)", risk.RiskLevel, risk.RiskScore, risk.Confidence))
	reasoning = append(reasoning, extra...)
	return reasoning
}

func (e *Engine) record(outcome types.DecisionOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomeCounts[outcome]++
	e.decisionCount++
}

// Statistics returns the engine's in-process running tally of outcome
// counts, independent of any OutcomeStore aggregate query.
func (e *Engine) Statistics() (total int, byOutcome map[types.DecisionOutcome]int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[types.DecisionOutcome]int, len(e.outcomeCounts))
	for k, v := range e.outcomeCounts {
		out[k] = v
	}
	return e.decisionCount, out
}

// Factors describes, for the admin surface, the factors this engine's
// upstream RiskEngine considers.
func Factors() []string {
	return []string{
		"smith_confidence",
		"siem_risk_score",
		"false_positive_history",
		"kill_reason",
		"severity",
		"module_criticality",
	}
}

// Explain renders a human-readable narrative of a Decision.
func Explain(d types.Decision) string {
	out := fmt.Sprintf("Decision %s for kill %s: %s\n", d.DecisionID, d.KillID, d.Outcome)
	out += fmt.Sprintf("Risk: %s (score=%.2f, confidence=%.2f)\n", d.Risk.RiskLevel, d.Risk.RiskScore, d.Risk.Confidence)
	out += "Reasoning:\n"
	for _, r := range d.Reasoning {
		out += "  - " + r + "\n"
	}
	if len(d.Constraints) > 0 {
		out += "Constraints:\n"
		for _, c := range d.Constraints {
			out += "  - " + c + "\n"
		}
	}
	out += fmt.Sprintf("Recommended action: %s\n", d.RecommendedAction)
	return out
}

// Calibrate reads auto-approved outcome statistics over window and adjusts
// the engine's local auto_approve_min_confidence. This tunes the engine's
// own gate only; it never mutates the shared ThresholdState the
// ThresholdAdapter owns.
func (e *Engine) Calibrate(ctx context.Context, window time.Duration) error {
	if e.store == nil {
		return nil
	}
	since := time.Now().UTC().Add(-window)
	stats, err := e.store.Statistics(ctx, &since, nil)
	if err != nil {
		return err
	}
	if stats.TotalOutcomes == 0 {
		return nil
	}

	switch {
	case stats.AutoApproveAccuracy > 0.95:
		e.cfg.AutoApproveMinConfidence = types.Clamp(e.cfg.AutoApproveMinConfidence-0.01, 0.70, 0.98)
	case stats.AutoApproveAccuracy < 0.80:
		e.cfg.AutoApproveMinConfidence = types.Clamp(e.cfg.AutoApproveMinConfidence+0.01, 0.70, 0.98)
	}
	return nil
}

// AutoApproveMinConfidence reports the engine's current gate value,
// reflecting any adjustment Calibrate has applied.
func (e *Engine) AutoApproveMinConfidence() float64 {
	return e.cfg.AutoApproveMinConfidence
}
