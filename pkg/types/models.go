package types

import (
	"time"

	"github.com/google/uuid"
)

// KillEvent is the immutable upstream signal that a workload was forcibly
// stopped. Once constructed it is never mutated as it flows through the
// dispatcher.
type KillEvent struct {
	KillID            string                 `json:"kill_id" validate:"required"`
	Timestamp         time.Time              `json:"timestamp" validate:"required"`
	TargetModule      string                 `json:"target_module" validate:"required"`
	TargetInstanceID  string                 `json:"target_instance_id" validate:"required"`
	KillReason        KillReason             `json:"kill_reason" validate:"required"`
	Severity          Severity               `json:"severity" validate:"required"`
	ConfidenceScore   float64                `json:"confidence_score" validate:"gte=0,lte=1"`
	Evidence          []string               `json:"evidence"`
	Dependencies      []string               `json:"dependencies"`
	SourceAgent       string                 `json:"source_agent"`
	Metadata          map[string]interface{} `json:"metadata"`
}

// ThreatIndicator is one item of threat-intel evidence inside an
// EnrichmentResult.
type ThreatIndicator struct {
	IndicatorType string  `json:"indicator_type"`
	ThreatScore   float64 `json:"threat_score"`
}

// EnrichmentResult is the immutable, per-event threat-intel summary produced
// by a collaborator Enricher. Defaults to the "unknown" shape when no
// real signal is available.
type EnrichmentResult struct {
	RiskScore             float64           `json:"risk_score"`
	FalsePositiveHistory  int               `json:"false_positive_history"`
	Recommendation        string            `json:"recommendation"`
	ThreatIndicators       []ThreatIndicator `json:"threat_indicators,omitempty"`
	HistoricalBehavior     bool              `json:"historical_behavior"`
}

// DefaultEnrichmentResult is the "unknown" default used whenever the
// Enricher fails, times out, or is unavailable.
func DefaultEnrichmentResult() EnrichmentResult {
	return EnrichmentResult{
		RiskScore:      0.5,
		Recommendation: "unknown",
	}
}

// RiskFactor is one weighted contributor to a RiskAssessment.
type RiskFactor struct {
	Name          string  `json:"name"`
	RawValue      float64 `json:"raw_value"`
	Weight        float64 `json:"weight"`
	WeightedScore float64 `json:"weighted_score"`
	Description   string  `json:"description"`
}

// RiskAssessment is the derived output of the RiskEngine.
type RiskAssessment struct {
	AssessmentID         string       `json:"assessment_id"`
	KillID               string       `json:"kill_id"`
	Timestamp            time.Time    `json:"timestamp"`
	RiskScore            float64      `json:"risk_score"`
	RiskLevel            RiskLevel    `json:"risk_level"`
	Confidence           float64      `json:"confidence"`
	Factors              []RiskFactor `json:"factors"`
	Recommendations      []string     `json:"recommendations"`
	AutoApproveEligible  bool         `json:"auto_approve_eligible"`
	RequiresEscalation   bool         `json:"requires_escalation"`
}

// Decision is the derived per-event policy output of the DecisionEngine
// embedding the RiskAssessment it was computed from.
type Decision struct {
	DecisionID         string          `json:"decision_id"`
	KillID             string          `json:"kill_id"`
	Timestamp          time.Time       `json:"timestamp"`
	Outcome            DecisionOutcome `json:"outcome"`
	Risk               RiskAssessment  `json:"risk"`
	Reasoning          []string        `json:"reasoning"`
	RecommendedAction  string          `json:"recommended_action"`
	Constraints        []string        `json:"constraints"`
}

// NewDecision builds a Decision with a fresh ID, stamped with the risk
// assessment's timestamp, matching ResurrectionDecision.create in the
// original Python source.
func NewDecision(killID string, outcome DecisionOutcome, risk RiskAssessment, reasoning []string, recommendedAction string, constraints []string) Decision {
	return Decision{
		DecisionID:        uuid.NewString(),
		KillID:            killID,
		Timestamp:         risk.Timestamp,
		Outcome:           outcome,
		Risk:              risk,
		Reasoning:         reasoning,
		RecommendedAction: recommendedAction,
		Constraints:       constraints,
	}
}

// ResurrectionOutcome is the durable record of a decision and its eventual
// fate.
type ResurrectionOutcome struct {
	OutcomeID          string                 `json:"outcome_id" db:"outcome_id"`
	DecisionID         string                 `json:"decision_id" db:"decision_id"`
	KillID             string                 `json:"kill_id" db:"kill_id"`
	TargetModule       string                 `json:"target_module" db:"target_module"`
	Timestamp          time.Time              `json:"timestamp" db:"timestamp"`
	OutcomeType        OutcomeType            `json:"outcome_type" db:"outcome_type"`
	OriginalRiskScore  float64                `json:"original_risk_score" db:"original_risk_score"`
	OriginalConfidence float64                `json:"original_confidence" db:"original_confidence"`
	OriginalDecision   string                 `json:"original_decision" db:"original_decision"`
	WasAutoApproved    bool                   `json:"was_auto_approved" db:"was_auto_approved"`
	HealthScoreAfter   *float64               `json:"health_score_after,omitempty" db:"health_score_after"`
	TimeToHealthy      *float64               `json:"time_to_healthy,omitempty" db:"time_to_healthy"`
	AnomaliesDetected  int                    `json:"anomalies_detected" db:"anomalies_detected"`
	RequiredRollback   bool                   `json:"required_rollback" db:"required_rollback"`
	FeedbackSource     FeedbackSource         `json:"feedback_source" db:"feedback_source"`
	HumanFeedback      *string                `json:"human_feedback,omitempty" db:"human_feedback"`
	CorrectedDecision  *string                `json:"corrected_decision,omitempty" db:"corrected_decision"`
	Metadata           map[string]interface{} `json:"metadata" db:"-"`
}

// OutcomeStatistics is the aggregate computed by OutcomeStore.Statistics.
type OutcomeStatistics struct {
	TotalOutcomes         int       `json:"total_outcomes"`
	SuccessCount          int       `json:"success_count"`
	FailureCount          int       `json:"failure_count"`
	RollbackCount         int       `json:"rollback_count"`
	FalsePositiveCount    int       `json:"false_positive_count"`
	TruePositiveCount     int       `json:"true_positive_count"`
	AvgRiskScoreSuccess   float64   `json:"avg_risk_score_success"`
	AvgRiskScoreFailure   float64   `json:"avg_risk_score_failure"`
	AvgTimeToHealthy      float64   `json:"avg_time_to_healthy"`
	AutoApproveAccuracy   float64   `json:"auto_approve_accuracy"`
	HumanOverrideRate     float64   `json:"human_override_rate"`
	PeriodStart           time.Time `json:"period_start"`
	PeriodEnd             time.Time `json:"period_end"`
}

// ModuleStatistics is the aggregate computed by OutcomeStore.ModuleStatistics
// and consumed by the RiskEngine's false_positive_history factor.
type ModuleStatistics struct {
	Module              string  `json:"module"`
	TotalResurrections  int     `json:"total_resurrections"`
	SuccessCount        int     `json:"success_count"`
	FailureCount        int     `json:"failure_count"`
	SuccessRate         float64 `json:"success_rate"`
	AvgRiskScore        float64 `json:"avg_risk_score"`
	AvgRecoveryTime     float64 `json:"avg_recovery_time"`
}

// RiskWeights are the configurable per-factor weights used by the RiskEngine.
type RiskWeights struct {
	SmithConfidence       float64 `yaml:"smith_confidence"`
	SIEMRiskScore         float64 `yaml:"siem_risk_score"`
	FalsePositiveHistory  float64 `yaml:"false_positive_history"`
	KillReason            float64 `yaml:"kill_reason"`
	Severity              float64 `yaml:"severity"`
	ModuleCriticality     float64 `yaml:"module_criticality"`
}

// DefaultRiskWeights returns the out-of-the-box factor weights.
func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		SmithConfidence:      0.30,
		SIEMRiskScore:        0.25,
		FalsePositiveHistory: 0.20,
		KillReason:           0.10,
		Severity:             0.10,
		ModuleCriticality:    0.05,
	}
}

// RiskThresholds are the configurable decision thresholds.
type RiskThresholds struct {
	AutoApproveMaxScore      float64 `yaml:"auto_approve_max_score"`
	AutoApproveMinConfidence float64 `yaml:"auto_approve_min_confidence"`
	EscalationMinScore       float64 `yaml:"escalation_min_score"`
	DenyMinScore             float64 `yaml:"deny_min_score"`
}

// DefaultRiskThresholds returns the out-of-the-box decision thresholds.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{
		AutoApproveMaxScore:      0.3,
		AutoApproveMinConfidence: 0.85,
		EscalationMinScore:       0.7,
		DenyMinScore:             0.85,
	}
}

// ThresholdAdjustment records a single applied or proposed threshold change.
type ThresholdAdjustment struct {
	AdjustmentID    string                 `json:"adjustment_id"`
	Timestamp       time.Time              `json:"timestamp"`
	ThresholdName   string                 `json:"threshold_name"`
	OldValue        float64                `json:"old_value"`
	NewValue        float64                `json:"new_value"`
	Direction       AdjustmentDirection    `json:"direction"`
	Reason          string                 `json:"reason"`
	Confidence      float64                `json:"confidence"`
	SupportingData  map[string]interface{} `json:"supporting_data"`
}

// ThresholdState is the shared, versioned policy state the ThresholdAdapter
// owns. Version increments on every applied adjustment and adjustments are
// appended to history, never rewritten in place.
type ThresholdState struct {
	Thresholds        RiskThresholds         `json:"thresholds"`
	Weights           RiskWeights            `json:"weights"`
	Version           int                    `json:"version"`
	AdjustmentHistory []ThresholdAdjustment  `json:"adjustment_history"`
	LastUpdated       time.Time              `json:"last_updated"`
}

// NewThresholdState seeds state at version 1 with the given thresholds and
// weights.
func NewThresholdState(thresholds RiskThresholds, weights RiskWeights) *ThresholdState {
	return &ThresholdState{
		Thresholds:  thresholds,
		Weights:     weights,
		Version:     1,
		LastUpdated: time.Now().UTC(),
	}
}

// AdjustmentProposal is a not-yet-applied bundle of threshold changes.
type AdjustmentProposal struct {
	ProposalID        string                 `json:"proposal_id"`
	CreatedAt         time.Time              `json:"created_at"`
	Adjustments       []ThresholdAdjustment  `json:"adjustments"`
	OverallConfidence float64                `json:"overall_confidence"`
	ExpectedImpact    map[string]interface{} `json:"expected_impact"`
	Status            ProposalStatus         `json:"status"`
	ApprovedBy        *string                `json:"approved_by,omitempty"`
	ApprovedAt        *time.Time             `json:"approved_at,omitempty"`
}

// DetectedPattern is one output of the PatternAnalyzer.
type DetectedPattern struct {
	PatternID          string                 `json:"pattern_id"`
	PatternType        PatternType            `json:"pattern_type"`
	Severity           PatternSeverity        `json:"severity"`
	DetectedAt         time.Time              `json:"detected_at"`
	Description        string                 `json:"description"`
	Confidence         float64                `json:"confidence"`
	AffectedModules    []string               `json:"affected_modules"`
	Evidence           map[string]interface{} `json:"evidence"`
	RecommendedActions []string               `json:"recommended_actions"`
}

// ModuleProfile is a module's behavioral profile built from outcome history
// built from outcome history.
type ModuleProfile struct {
	Module              string     `json:"module"`
	TotalResurrections  int        `json:"total_resurrections"`
	SuccessRate         float64    `json:"success_rate"`
	AvgRiskScore        float64    `json:"avg_risk_score"`
	AvgRecoveryTime     float64    `json:"avg_recovery_time"`
	FalsePositiveRate   float64    `json:"false_positive_rate"`
	AutoApproveEligible bool       `json:"auto_approve_eligible"`
	RiskTrend           string     `json:"risk_trend"`
	LastFailure         *time.Time `json:"last_failure,omitempty"`
	LastUpdated         time.Time  `json:"last_updated"`
}
