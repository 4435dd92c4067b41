// Package threshold implements the adaptive threshold system: it analyzes
// recorded outcomes, proposes changes to the risk engine's decision
// thresholds, and applies them only after an explicit human approval.
package threshold

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/medic-agent/pkg/outcomestore"
	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// Config controls the adapter's sampling and safety constraints.
type Config struct {
	Enabled                    bool
	MinSamplesRequired         int
	AnalysisWindow             time.Duration
	MaxAdjustmentPercent       float64
	AdjustmentCooldown         time.Duration
	TargetAutoApproveAccuracy  float64
}

// DefaultConfig returns the out-of-the-box adaptive threshold configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                   true,
		MinSamplesRequired:        50,
		AnalysisWindow:            30 * 24 * time.Hour,
		MaxAdjustmentPercent:      10.0,
		AdjustmentCooldown:        24 * time.Hour,
		TargetAutoApproveAccuracy: 0.95,
	}
}

// Adapter analyzes outcome history and proposes, then applies, risk
// threshold adjustments. All mutable state (current thresholds/weights,
// version, history, pending proposals) is guarded by mu.
type Adapter struct {
	store outcomestore.OutcomeStore
	cfg   Config

	mu           sync.Mutex
	state        *types.ThresholdState
	pending      map[string]*types.AdjustmentProposal
	lastAnalysis time.Time
}

// New builds an Adapter seeded with the given initial thresholds/weights.
func New(store outcomestore.OutcomeStore, cfg Config, thresholds types.RiskThresholds, weights types.RiskWeights) *Adapter {
	return &Adapter{
		store:   store,
		cfg:     cfg,
		state:   types.NewThresholdState(thresholds, weights),
		pending: make(map[string]*types.AdjustmentProposal),
	}
}

// CurrentState returns a copy of the adapter's current threshold state.
func (a *Adapter) CurrentState() types.ThresholdState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.state
}

// AnalyzeAndPropose inspects recent outcomes and, if warranted, returns a
// new pending AdjustmentProposal. It returns (nil, nil) when disabled, on
// cooldown, under-sampled, or when no adjustment is recommended -- none of
// these are errors.
func (a *Adapter) AnalyzeAndPropose(ctx context.Context) (*types.AdjustmentProposal, error) {
	if !a.cfg.Enabled {
		return nil, nil
	}

	a.mu.Lock()
	if !a.lastAnalysis.IsZero() && time.Since(a.lastAnalysis) < a.cfg.AdjustmentCooldown {
		a.mu.Unlock()
		return nil, nil
	}
	a.lastAnalysis = time.Now().UTC()
	currentThresholds := a.state.Thresholds
	a.mu.Unlock()

	outcomes, err := a.store.RecentOutcomes(ctx, 1000)
	if err != nil {
		return nil, err
	}
	since := time.Now().UTC().Add(-a.cfg.AnalysisWindow)
	outcomes = filterSince(outcomes, &since)

	if len(outcomes) < a.cfg.MinSamplesRequired {
		return nil, nil
	}

	var adjustments []types.ThresholdAdjustment
	if adj := a.analyzeAutoApproveThreshold(outcomes, currentThresholds); adj != nil {
		adjustments = append(adjustments, *adj)
	}
	if adj := a.analyzeConfidenceThreshold(outcomes, currentThresholds); adj != nil {
		adjustments = append(adjustments, *adj)
	}
	// Risk weight correlation analysis requires per-factor outcome data that
	// is not currently recorded by OutcomeStore; left for a later iteration.

	if len(adjustments) == 0 {
		return nil, nil
	}

	proposal := &types.AdjustmentProposal{
		ProposalID:        uuid.NewString(),
		CreatedAt:         time.Now().UTC(),
		Adjustments:       adjustments,
		OverallConfidence: meanConfidence(adjustments),
		ExpectedImpact:    a.estimateImpact(adjustments, outcomes),
		Status:            types.ProposalPending,
	}

	a.mu.Lock()
	a.pending[proposal.ProposalID] = proposal
	a.mu.Unlock()

	return proposal, nil
}

func (a *Adapter) analyzeAutoApproveThreshold(outcomes []types.ResurrectionOutcome, current types.RiskThresholds) *types.ThresholdAdjustment {
	autoApproved := filterAutoApproved(outcomes)
	if len(autoApproved) < 10 {
		return nil
	}

	successes := filterByOutcomeType(autoApproved, types.OutcomeTypeSuccess)
	accuracy := ratio(len(successes), len(autoApproved))
	currentThreshold := current.AutoApproveMaxScore
	target := a.cfg.TargetAutoApproveAccuracy

	switch {
	case accuracy < target:
		failures := excludeOutcomeType(autoApproved, types.OutcomeTypeSuccess)
		if len(failures) == 0 {
			return nil
		}
		avgFailureRisk := meanRiskScore(failures)

		newThreshold := min(currentThreshold, avgFailureRisk*0.8)
		maxChange := currentThreshold * (a.cfg.MaxAdjustmentPercent / 100)
		newThreshold = max(newThreshold, currentThreshold-maxChange)

		if abs(newThreshold-currentThreshold) < 0.01 {
			return nil
		}

		return &types.ThresholdAdjustment{
			AdjustmentID:  uuid.NewString(),
			Timestamp:     time.Now().UTC(),
			ThresholdName: "auto_approve_max_score",
			OldValue:      currentThreshold,
			NewValue:      newThreshold,
			Direction:     types.AdjustDecrease,
			Reason:        "auto-approve accuracy below target",
			Confidence:    min(0.9, 0.5+float64(len(autoApproved))/200),
			SupportingData: map[string]interface{}{
				"current_accuracy":   accuracy,
				"target_accuracy":    target,
				"auto_approved_count": len(autoApproved),
				"avg_failure_risk":   avgFailureRisk,
			},
		}

	case accuracy > target+0.05 && accuracy > 0.98:
		maxSuccessRisk := maxRiskScore(successes)
		newThreshold := min3(
			maxSuccessRisk*1.1,
			currentThreshold*(1+a.cfg.MaxAdjustmentPercent/100),
			0.5,
		)

		if abs(newThreshold-currentThreshold) < 0.01 {
			return nil
		}

		return &types.ThresholdAdjustment{
			AdjustmentID:  uuid.NewString(),
			Timestamp:     time.Now().UTC(),
			ThresholdName: "auto_approve_max_score",
			OldValue:      currentThreshold,
			NewValue:      newThreshold,
			Direction:     types.AdjustIncrease,
			Reason:        "high auto-approve accuracy suggests threshold can be relaxed",
			Confidence:    0.6,
			SupportingData: map[string]interface{}{
				"current_accuracy":    accuracy,
				"max_success_risk":    maxSuccessRisk,
				"auto_approved_count": len(autoApproved),
			},
		}
	}

	return nil
}

func (a *Adapter) analyzeConfidenceThreshold(outcomes []types.ResurrectionOutcome, current types.RiskThresholds) *types.ThresholdAdjustment {
	autoApproved := filterAutoApproved(outcomes)
	if len(autoApproved) < 10 {
		return nil
	}

	var lowConf, highConf []types.ResurrectionOutcome
	for _, o := range autoApproved {
		if o.OriginalConfidence < 0.85 {
			lowConf = append(lowConf, o)
		} else {
			highConf = append(highConf, o)
		}
	}
	if len(lowConf) < 5 || len(highConf) < 5 {
		return nil
	}

	lowSuccessRate := ratio(len(filterByOutcomeType(lowConf, types.OutcomeTypeSuccess)), len(lowConf))
	highSuccessRate := ratio(len(filterByOutcomeType(highConf, types.OutcomeTypeSuccess)), len(highConf))

	currentThreshold := current.AutoApproveMinConfidence

	if highSuccessRate > lowSuccessRate+0.1 {
		newThreshold := min(currentThreshold*(1+a.cfg.MaxAdjustmentPercent/100), 0.95)
		if abs(newThreshold-currentThreshold) < 0.01 {
			return nil
		}

		return &types.ThresholdAdjustment{
			AdjustmentID:  uuid.NewString(),
			Timestamp:     time.Now().UTC(),
			ThresholdName: "auto_approve_min_confidence",
			OldValue:      currentThreshold,
			NewValue:      newThreshold,
			Direction:     types.AdjustIncrease,
			Reason:        "low-confidence auto-approvals perform worse than high-confidence ones",
			Confidence:    0.75,
			SupportingData: map[string]interface{}{
				"low_conf_success_rate":  lowSuccessRate,
				"high_conf_success_rate": highSuccessRate,
				"low_conf_count":         len(lowConf),
				"high_conf_count":        len(highConf),
			},
		}
	}

	return nil
}

func (a *Adapter) estimateImpact(adjustments []types.ThresholdAdjustment, outcomes []types.ResurrectionOutcome) map[string]interface{} {
	impact := map[string]interface{}{
		"estimated_accuracy_change":              0.0,
		"estimated_auto_approve_volume_change":   0.0,
		"affected_decisions":                     0,
	}

	for _, adj := range adjustments {
		if adj.ThresholdName != "auto_approve_max_score" || adj.Direction != types.AdjustDecrease {
			continue
		}
		var affected []types.ResurrectionOutcome
		for _, o := range outcomes {
			if o.OriginalRiskScore > adj.NewValue && o.OriginalRiskScore <= adj.OldValue {
				affected = append(affected, o)
			}
		}
		if len(affected) == 0 {
			continue
		}
		impact["affected_decisions"] = impact["affected_decisions"].(int) + len(affected)
		impact["estimated_auto_approve_volume_change"] = impact["estimated_auto_approve_volume_change"].(float64) - float64(len(affected))

		failuresAvoided := excludeOutcomeType(affected, types.OutcomeTypeSuccess)
		impact["estimated_accuracy_change"] = impact["estimated_accuracy_change"].(float64) + ratio(len(failuresAvoided), len(outcomes))
	}

	return impact
}

// Approve applies a pending proposal's adjustments to the shared threshold
// state, bumps its version, and appends every adjustment to history. It
// returns false if the proposal is unknown or already resolved -- approving
// or rejecting a proposal twice is a no-op, never an error.
func (a *Adapter) Approve(proposalID, approvedBy string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	proposal, ok := a.pending[proposalID]
	if !ok || proposal.Status != types.ProposalPending {
		return false
	}

	for _, adj := range proposal.Adjustments {
		a.applyAdjustment(adj)
	}

	now := time.Now().UTC()
	proposal.Status = types.ProposalApproved
	proposal.ApprovedBy = &approvedBy
	proposal.ApprovedAt = &now

	a.state.Version++
	a.state.LastUpdated = now

	return true
}

// Reject marks a pending proposal rejected without touching threshold
// state. Returns false if the proposal is unknown or already resolved.
func (a *Adapter) Reject(proposalID, reason string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	proposal, ok := a.pending[proposalID]
	if !ok || proposal.Status != types.ProposalPending {
		return false
	}
	proposal.Status = types.ProposalRejected
	return true
}

// applyAdjustment mutates state.Thresholds or state.Weights in place by
// threshold name. Caller must hold mu.
func (a *Adapter) applyAdjustment(adj types.ThresholdAdjustment) {
	switch adj.ThresholdName {
	case "auto_approve_max_score":
		a.state.Thresholds.AutoApproveMaxScore = adj.NewValue
	case "auto_approve_min_confidence":
		a.state.Thresholds.AutoApproveMinConfidence = adj.NewValue
	case "escalation_min_score":
		a.state.Thresholds.EscalationMinScore = adj.NewValue
	case "deny_min_score":
		a.state.Thresholds.DenyMinScore = adj.NewValue
	}
	a.state.AdjustmentHistory = append(a.state.AdjustmentHistory, adj)
}

// PendingProposals returns every proposal still awaiting approval or
// rejection.
func (a *Adapter) PendingProposals() []types.AdjustmentProposal {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []types.AdjustmentProposal
	for _, p := range a.pending {
		if p.Status == types.ProposalPending {
			out = append(out, *p)
		}
	}
	return out
}

// AdjustmentHistory returns up to limit most-recently-applied adjustments,
// newest first.
func (a *Adapter) AdjustmentHistory(limit int) []types.ThresholdAdjustment {
	a.mu.Lock()
	defer a.mu.Unlock()

	hist := a.state.AdjustmentHistory
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	out := make([]types.ThresholdAdjustment, len(hist))
	for i, adj := range hist {
		out[len(hist)-1-i] = adj
	}
	return out
}

// Simulate replays an adjustment against recorded outcomes (or the given
// outcomes, if non-nil) and reports how many decisions would have flipped.
func (a *Adapter) Simulate(ctx context.Context, adj types.ThresholdAdjustment, outcomes []types.ResurrectionOutcome) (map[string]interface{}, error) {
	if outcomes == nil {
		fetched, err := a.store.RecentOutcomes(ctx, 1000)
		if err != nil {
			return nil, err
		}
		since := time.Now().UTC().Add(-a.cfg.AnalysisWindow)
		outcomes = filterSince(fetched, &since)
	}

	results := map[string]interface{}{
		"total_outcomes":          len(outcomes),
		"would_change":            0,
		"false_positives_caught":  0,
		"true_negatives_missed":   0,
	}

	if adj.ThresholdName != "auto_approve_max_score" {
		return results, nil
	}

	for _, o := range outcomes {
		oldAuto := o.OriginalRiskScore <= adj.OldValue
		newAuto := o.OriginalRiskScore <= adj.NewValue
		if oldAuto == newAuto {
			continue
		}
		results["would_change"] = results["would_change"].(int) + 1
		if !newAuto && o.OutcomeType != types.OutcomeTypeSuccess {
			results["false_positives_caught"] = results["false_positives_caught"].(int) + 1
		}
		if !newAuto && o.OutcomeType == types.OutcomeTypeSuccess {
			results["true_negatives_missed"] = results["true_negatives_missed"].(int) + 1
		}
	}

	return results, nil
}

func filterSince(outcomes []types.ResurrectionOutcome, since *time.Time) []types.ResurrectionOutcome {
	if since == nil {
		return outcomes
	}
	out := make([]types.ResurrectionOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.Timestamp.Before(*since) {
			out = append(out, o)
		}
	}
	return out
}

func filterAutoApproved(outcomes []types.ResurrectionOutcome) []types.ResurrectionOutcome {
	var out []types.ResurrectionOutcome
	for _, o := range outcomes {
		if o.WasAutoApproved {
			out = append(out, o)
		}
	}
	return out
}

func filterByOutcomeType(outcomes []types.ResurrectionOutcome, t types.OutcomeType) []types.ResurrectionOutcome {
	var out []types.ResurrectionOutcome
	for _, o := range outcomes {
		if o.OutcomeType == t {
			out = append(out, o)
		}
	}
	return out
}

func excludeOutcomeType(outcomes []types.ResurrectionOutcome, t types.OutcomeType) []types.ResurrectionOutcome {
	var out []types.ResurrectionOutcome
	for _, o := range outcomes {
		if o.OutcomeType != t {
			out = append(out, o)
		}
	}
	return out
}

func meanConfidence(adjustments []types.ThresholdAdjustment) float64 {
	if len(adjustments) == 0 {
		return 0
	}
	var sum float64
	for _, a := range adjustments {
		sum += a.Confidence
	}
	return sum / float64(len(adjustments))
}

func meanRiskScore(outcomes []types.ResurrectionOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var sum float64
	for _, o := range outcomes {
		sum += o.OriginalRiskScore
	}
	return sum / float64(len(outcomes))
}

func maxRiskScore(outcomes []types.ResurrectionOutcome) float64 {
	var m float64
	for i, o := range outcomes {
		if i == 0 || o.OriginalRiskScore > m {
			m = o.OriginalRiskScore
		}
	}
	return m
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min3(a, b, c float64) float64 {
	return min(min(a, b), c)
}
