// Package risk implements the deterministic, multi-factor weighted risk
// scoring model: six factors (Smith confidence, SIEM risk score,
// false-positive history, kill reason, severity, module criticality),
// combined into a normalized score and a confidence estimate.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kase1111-hash/medic-agent/pkg/outcomestore"
	"github.com/kase1111-hash/medic-agent/pkg/types"
)

var killReasonScores = map[types.KillReason]float64{
	types.ReasonThreatDetected:     0.9,
	types.ReasonAnomalyBehavior:    0.6,
	types.ReasonPolicyViolation:    0.5,
	types.ReasonResourceExhaustion: 0.2,
	types.ReasonDependencyCascade:  0.3,
	types.ReasonManualOverride:     0.4,
}

var severityScores = map[types.Severity]float64{
	types.SeverityCritical: 1.0,
	types.SeverityHigh:     0.8,
	types.SeverityMedium:   0.5,
	types.SeverityLow:      0.3,
	types.SeverityInfo:     0.1,
}

// Engine assesses the risk of resurrecting a killed workload.
type Engine struct {
	weights         types.RiskWeights
	thresholds      types.RiskThresholds
	criticalModules map[string]struct{}
	store           outcomestore.OutcomeStore
	logger          *zap.Logger
}

// New builds an Engine. store may be nil, in which case module history is
// treated as unavailable rather than an error.
func New(weights types.RiskWeights, thresholds types.RiskThresholds, criticalModules []string, store outcomestore.OutcomeStore, logger *zap.Logger) *Engine {
	set := make(map[string]struct{}, len(criticalModules))
	for _, m := range criticalModules {
		set[m] = struct{}{}
	}
	return &Engine{
		weights:         weights,
		thresholds:      thresholds,
		criticalModules: set,
		store:           store,
		logger:          logger,
	}
}

// Assess computes a RiskAssessment for a kill event and its enrichment
// result. The assessment is a pure function of its inputs plus whatever
// module history the store currently holds — calling it twice with the
// same arguments at different times can yield different scores as history
// accumulates, but it performs no writes.
func (e *Engine) Assess(ctx context.Context, event types.KillEvent, enrichment types.EnrichmentResult) types.RiskAssessment {
	moduleStats, haveHistory := e.moduleHistory(ctx, event.TargetModule)

	factors := make([]types.RiskFactor, 0, 6)

	factors = append(factors, e.factor(
		"smith_confidence", event.ConfidenceScore, e.weights.SmithConfidence,
		fmt.Sprintf("Smith kill confidence: %.0f%%", event.ConfidenceScore*100),
	))

	factors = append(factors, e.factor(
		"siem_risk_score", enrichment.RiskScore, e.weights.SIEMRiskScore,
		fmt.Sprintf("SIEM risk score: %.0f%%", enrichment.RiskScore*100),
	))

	fpCount := enrichment.FalsePositiveHistory
	if haveHistory && moduleStats.FailureCount > fpCount {
		fpCount = moduleStats.FailureCount
	}
	fpScore := falsePositiveScore(fpCount)
	factors = append(factors, e.factor(
		"false_positive_history", fpScore, e.weights.FalsePositiveHistory,
		fmt.Sprintf("False positive history: %d prior FPs", fpCount),
	))

	reasonScore, ok := killReasonScores[event.KillReason]
	if !ok {
		reasonScore = 0.5
	}
	factors = append(factors, e.factor(
		"kill_reason", reasonScore, e.weights.KillReason,
		fmt.Sprintf("Kill reason: %s", event.KillReason),
	))

	sevScore, ok := severityScores[event.Severity]
	if !ok {
		sevScore = 0.5
	}
	factors = append(factors, e.factor(
		"severity", sevScore, e.weights.Severity,
		fmt.Sprintf("Severity: %s", event.Severity),
	))

	_, isCritical := e.criticalModules[event.TargetModule]
	criticalityScore := 0.3
	if isCritical {
		criticalityScore = 0.9
	}
	factors = append(factors, e.factor(
		"module_criticality", criticalityScore, e.weights.ModuleCriticality,
		fmt.Sprintf("Critical module: %t", isCritical),
	))

	var totalWeight, weightedSum float64
	for _, f := range factors {
		totalWeight += f.Weight
		weightedSum += f.WeightedScore
	}
	riskScore := 0.5
	if totalWeight > 0 {
		riskScore = weightedSum / totalWeight
	}
	riskScore = types.Clamp(riskScore, 0.0, 1.0)
	riskLevel := types.RiskLevelFromScore(riskScore)

	confidence := e.calculateConfidence(enrichment, haveHistory && moduleStats.TotalResurrections > 0)

	autoApproveEligible := riskScore <= e.thresholds.AutoApproveMaxScore &&
		confidence >= e.thresholds.AutoApproveMinConfidence
	requiresEscalation := riskScore >= e.thresholds.EscalationMinScore

	assessment := types.RiskAssessment{
		AssessmentID:        uuid.NewString(),
		KillID:              event.KillID,
		Timestamp:           time.Now().UTC(),
		RiskScore:           riskScore,
		RiskLevel:           riskLevel,
		Confidence:          confidence,
		Factors:             factors,
		Recommendations:     e.recommendations(riskLevel, event),
		AutoApproveEligible: autoApproveEligible,
		RequiresEscalation:  requiresEscalation,
	}

	if e.logger != nil {
		e.logger.Info("risk assessment completed",
			zap.String("kill_id", event.KillID),
			zap.String("risk_level", string(riskLevel)),
			zap.Float64("risk_score", riskScore),
			zap.Bool("auto_approve_eligible", autoApproveEligible),
		)
	}

	return assessment
}

func (e *Engine) factor(name string, rawValue, weight float64, description string) types.RiskFactor {
	return types.RiskFactor{
		Name:          name,
		RawValue:      rawValue,
		Weight:        weight,
		WeightedScore: rawValue * weight,
		Description:   description,
	}
}

func falsePositiveScore(count int) float64 {
	switch {
	case count == 0:
		return 0.8
	case count <= 2:
		return 0.5
	case count <= 5:
		return 0.3
	default:
		return 0.1
	}
}

func (e *Engine) moduleHistory(ctx context.Context, module string) (types.ModuleStatistics, bool) {
	if e.store == nil {
		return types.ModuleStatistics{}, false
	}
	stats, err := e.store.ModuleStatistics(ctx, module)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("failed to get module history", zap.String("module", module), zap.Error(err))
		}
		return types.ModuleStatistics{}, false
	}
	return stats, true
}

func (e *Engine) calculateConfidence(enrichment types.EnrichmentResult, haveHistory bool) float64 {
	confidence := 0.5
	if enrichment.Recommendation != "unknown" && enrichment.Recommendation != "" {
		confidence += 0.15
	}
	if enrichment.FalsePositiveHistory > 0 {
		confidence += 0.10
	}
	if haveHistory {
		confidence += 0.15
	}
	return types.Clamp(confidence, 0.0, 1.0)
}

func (e *Engine) recommendations(level types.RiskLevel, event types.KillEvent) []string {
	var out []string
	switch level {
	case types.RiskMinimal, types.RiskLow:
		out = append(out, "Low risk - safe to auto-approve")
	case types.RiskMedium:
		out = append(out, "Medium risk - manual review recommended")
	case types.RiskHigh:
		out = append(out, "High risk - escalate to senior operator")
	default:
		out = append(out, "Critical risk - do not resurrect without investigation")
	}
	if event.KillReason == types.ReasonThreatDetected {
		out = append(out, "Verify threat has been contained")
	}
	return out
}

// Thresholds returns the engine's current decision thresholds.
func (e *Engine) Thresholds() types.RiskThresholds {
	return e.thresholds
}

// UpdateThresholds replaces the engine's thresholds, used by the
// ThresholdAdapter when an adjustment proposal is approved.
func (e *Engine) UpdateThresholds(thresholds types.RiskThresholds) {
	e.thresholds = thresholds
	if e.logger != nil {
		e.logger.Info("risk thresholds updated")
	}
}

// UpdateWeights replaces the engine's per-factor weights.
func (e *Engine) UpdateWeights(weights types.RiskWeights) {
	e.weights = weights
	if e.logger != nil {
		e.logger.Info("risk weights updated")
	}
}
