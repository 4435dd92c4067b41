// Package patterns implements read-only analysis over the OutcomeStore:
// false-positive spikes, module instability, time-of-day correlation, risk
// score calibration drift, auto-approve accuracy degradation, and recovery
// time regressions. Module behavioral profiles are also built here.
package patterns

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kase1111-hash/medic-agent/pkg/outcomestore"
	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// Config controls analysis thresholds and the lookback window.
type Config struct {
	MinSamplesForAnalysis       int
	FalsePositiveThreshold      float64
	SuccessRateThreshold        float64
	AutoApproveAccuracyThreshold float64
	TimeWindow                  time.Duration
}

// DefaultConfig matches the thresholds spec.md §4.7 names.
func DefaultConfig() Config {
	return Config{
		MinSamplesForAnalysis:        10,
		FalsePositiveThreshold:       0.30,
		SuccessRateThreshold:         0.70,
		AutoApproveAccuracyThreshold: 0.90,
		TimeWindow:                   30 * 24 * time.Hour,
	}
}

// Analyzer performs read-only analysis over an OutcomeStore.
type Analyzer struct {
	store  outcomestore.OutcomeStore
	cfg    Config
	logger *logrus.Logger
}

// New builds an Analyzer. logger may be nil, in which case a logger that
// discards output is used.
func New(store outcomestore.OutcomeStore, cfg Config, logger *logrus.Logger) *Analyzer {
	if cfg.MinSamplesForAnalysis <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Analyzer{store: store, cfg: cfg, logger: logger}
}

// Analyze runs the full pattern sweep over outcomes since the given time
// (defaulting to the configured window). Returns an empty slice if fewer
// than MinSamplesForAnalysis outcomes are in scope.
func (a *Analyzer) Analyze(ctx context.Context, since *time.Time) ([]types.DetectedPattern, error) {
	window := since
	if window == nil {
		t := time.Now().UTC().Add(-a.cfg.TimeWindow)
		window = &t
	}

	all, err := a.store.RecentOutcomes(ctx, 1000)
	if err != nil {
		return nil, err
	}
	outcomes := filterSince(all, *window)

	if len(outcomes) < a.cfg.MinSamplesForAnalysis {
		a.logger.WithField("count", len(outcomes)).Info("insufficient samples for pattern analysis")
		return nil, nil
	}

	var patterns []types.DetectedPattern
	if p := a.falsePositiveSpike(outcomes); p != nil {
		patterns = append(patterns, *p)
	}
	if p := a.moduleInstability(outcomes); p != nil {
		patterns = append(patterns, *p)
	}
	if p := a.timeCorrelation(outcomes); p != nil {
		patterns = append(patterns, *p)
	}
	if p := a.riskScoreDrift(outcomes); p != nil {
		patterns = append(patterns, *p)
	}
	if p := a.autoApproveDegradation(outcomes); p != nil {
		patterns = append(patterns, *p)
	}
	if p := a.recoveryTimeIncrease(outcomes); p != nil {
		patterns = append(patterns, *p)
	}

	a.logger.WithField("patterns_detected", len(patterns)).Info("pattern analysis complete")
	return patterns, nil
}

func filterSince(outcomes []types.ResurrectionOutcome, since time.Time) []types.ResurrectionOutcome {
	out := make([]types.ResurrectionOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.Timestamp.Before(since) {
			out = append(out, o)
		}
	}
	return out
}

func (a *Analyzer) falsePositiveSpike(outcomes []types.ResurrectionOutcome) *types.DetectedPattern {
	var fps []types.ResurrectionOutcome
	for _, o := range outcomes {
		if o.OutcomeType == types.OutcomeTypeFalsePositive {
			fps = append(fps, o)
		}
	}
	fpRate := ratio(len(fps), len(outcomes))
	if fpRate <= a.cfg.FalsePositiveThreshold {
		return nil
	}

	counts := make(map[string]int)
	for _, o := range fps {
		counts[o.TargetModule]++
	}
	top := topModules(counts, 5)

	severity := types.PatternSeverityWarning
	if fpRate >= 0.5 {
		severity = types.PatternSeverityCritical
	}

	return &types.DetectedPattern{
		PatternID:   uuid.NewString(),
		PatternType: types.PatternFalsePositiveSpike,
		Severity:    severity,
		DetectedAt:  time.Now().UTC(),
		Description: fmt.Sprintf("high false positive rate detected: %.1f%%", fpRate*100),
		Confidence:  minFloat(0.95, 0.5+float64(len(fps))/100),
		AffectedModules: top,
		Evidence: map[string]interface{}{
			"false_positive_rate": fpRate,
			"fp_count":            len(fps),
			"total_outcomes":      len(outcomes),
		},
		RecommendedActions: []string{
			"Review kill-signal detection thresholds",
			"Analyze common characteristics of false positives",
			"Consider adjusting risk scoring weights",
		},
	}
}

func (a *Analyzer) moduleInstability(outcomes []types.ResurrectionOutcome) *types.DetectedPattern {
	byModule := make(map[string][]types.ResurrectionOutcome)
	for _, o := range outcomes {
		byModule[o.TargetModule] = append(byModule[o.TargetModule], o)
	}

	var unstable []string
	evidence := make([]map[string]interface{}, 0)
	for module, outs := range byModule {
		if len(outs) < 3 {
			continue
		}
		failures := 0
		for _, o := range outs {
			if o.OutcomeType == types.OutcomeTypeFailure || o.OutcomeType == types.OutcomeTypeRollback {
				failures++
			}
		}
		failureRate := ratio(failures, len(outs))
		if failureRate > 1-a.cfg.SuccessRateThreshold {
			unstable = append(unstable, module)
			evidence = append(evidence, map[string]interface{}{
				"module": module, "failure_rate": failureRate, "total_resurrections": len(outs), "failures": failures,
			})
		}
	}
	if len(unstable) == 0 {
		return nil
	}
	sort.Strings(unstable)

	return &types.DetectedPattern{
		PatternID:       uuid.NewString(),
		PatternType:     types.PatternModuleInstability,
		Severity:        types.PatternSeverityWarning,
		DetectedAt:      time.Now().UTC(),
		Description:     fmt.Sprintf("%d modules showing instability", len(unstable)),
		Confidence:      0.8,
		AffectedModules: unstable,
		Evidence:        map[string]interface{}{"unstable_modules": evidence},
		RecommendedActions: []string{
			"Review module health checks",
			"Consider excluding from auto-resurrection",
			"Investigate root cause of repeated failures",
		},
	}
}

func (a *Analyzer) timeCorrelation(outcomes []types.ResurrectionOutcome) *types.DetectedPattern {
	byHour := make(map[int][]types.ResurrectionOutcome)
	for _, o := range outcomes {
		byHour[o.Timestamp.Hour()] = append(byHour[o.Timestamp.Hour()], o)
	}

	rates := make(map[int]float64)
	for hour, outs := range byHour {
		if len(outs) < 3 {
			continue
		}
		failures := 0
		for _, o := range outs {
			if o.OutcomeType == types.OutcomeTypeFailure || o.OutcomeType == types.OutcomeTypeRollback {
				failures++
			}
		}
		rates[hour] = ratio(failures, len(outs))
	}
	if len(rates) == 0 {
		return nil
	}

	var sum float64
	for _, r := range rates {
		sum += r
	}
	avg := sum / float64(len(rates))

	var highRisk []int
	for hour, rate := range rates {
		if rate > avg*1.5 && rate > 0.30 {
			highRisk = append(highRisk, hour)
		}
	}
	if len(highRisk) == 0 {
		return nil
	}
	sort.Ints(highRisk)

	return &types.DetectedPattern{
		PatternID:   uuid.NewString(),
		PatternType: types.PatternTimeCorrelation,
		Severity:    types.PatternSeverityInfo,
		DetectedAt:  time.Now().UTC(),
		Description: fmt.Sprintf("higher failure rates detected during hours: %v", highRisk),
		Confidence:  0.7,
		Evidence: map[string]interface{}{
			"high_risk_hours":      highRisk,
			"hour_failure_rates":   rates,
			"average_failure_rate": avg,
		},
		RecommendedActions: []string{
			"Consider time-based risk adjustments",
			"Review deployments during high-risk hours",
			"Investigate time-specific triggers",
		},
	}
}

func (a *Analyzer) riskScoreDrift(outcomes []types.ResurrectionOutcome) *types.DetectedPattern {
	if len(outcomes) < 20 {
		return nil
	}
	sorted := sortedByTime(outcomes)
	mid := len(sorted) / 2
	first, second := sorted[:mid], sorted[mid:]

	firstCal := calibration(first)
	secondCal := calibration(second)

	if !(firstCal > 0.1 && secondCal < firstCal*0.5) {
		return nil
	}

	return &types.DetectedPattern{
		PatternID:   uuid.NewString(),
		PatternType: types.PatternRiskScoreDrift,
		Severity:    types.PatternSeverityWarning,
		DetectedAt:  time.Now().UTC(),
		Description: "risk score calibration has degraded over time",
		Confidence:  0.75,
		Evidence: map[string]interface{}{
			"first_period_calibration":  firstCal,
			"second_period_calibration": secondCal,
			"calibration_change":        secondCal - firstCal,
		},
		RecommendedActions: []string{
			"Review risk scoring weights",
			"Retrain the risk model on recent data",
			"Consider an adaptive threshold adjustment",
		},
	}
}

func calibration(outs []types.ResurrectionOutcome) float64 {
	var successes, failures []types.ResurrectionOutcome
	for _, o := range outs {
		switch o.OutcomeType {
		case types.OutcomeTypeSuccess:
			successes = append(successes, o)
		case types.OutcomeTypeFailure, types.OutcomeTypeRollback:
			failures = append(failures, o)
		}
	}
	if len(successes) == 0 || len(failures) == 0 {
		return 0.0
	}
	return meanRisk(failures) - meanRisk(successes)
}

func meanRisk(outs []types.ResurrectionOutcome) float64 {
	if len(outs) == 0 {
		return 0
	}
	var sum float64
	for _, o := range outs {
		sum += o.OriginalRiskScore
	}
	return sum / float64(len(outs))
}

func (a *Analyzer) autoApproveDegradation(outcomes []types.ResurrectionOutcome) *types.DetectedPattern {
	var autoApproved []types.ResurrectionOutcome
	for _, o := range outcomes {
		if o.WasAutoApproved {
			autoApproved = append(autoApproved, o)
		}
	}
	if len(autoApproved) < 10 {
		return nil
	}

	successCount := 0
	failuresByModule := make(map[string]int)
	for _, o := range autoApproved {
		if o.OutcomeType == types.OutcomeTypeSuccess {
			successCount++
		} else {
			failuresByModule[o.TargetModule]++
		}
	}
	accuracy := ratio(successCount, len(autoApproved))
	if accuracy >= a.cfg.AutoApproveAccuracyThreshold {
		return nil
	}

	severity := types.PatternSeverityWarning
	if accuracy < 0.70 {
		severity = types.PatternSeverityCritical
	}

	return &types.DetectedPattern{
		PatternID:       uuid.NewString(),
		PatternType:     types.PatternAutoApproveDegraded,
		Severity:        severity,
		DetectedAt:      time.Now().UTC(),
		Description:     fmt.Sprintf("auto-approval accuracy has dropped to %.1f%%", accuracy*100),
		Confidence:      0.9,
		AffectedModules: topModules(failuresByModule, 5),
		Evidence: map[string]interface{}{
			"auto_approve_accuracy": accuracy,
			"auto_approved_count":   len(autoApproved),
			"auto_success_count":    successCount,
		},
		RecommendedActions: []string{
			"Tighten auto-approval thresholds",
			"Review modules with high auto-approve failure rates",
			"Consider moving to observer mode temporarily",
		},
	}
}

func (a *Analyzer) recoveryTimeIncrease(outcomes []types.ResurrectionOutcome) *types.DetectedPattern {
	var successful []types.ResurrectionOutcome
	for _, o := range outcomes {
		if o.OutcomeType == types.OutcomeTypeSuccess && o.TimeToHealthy != nil {
			successful = append(successful, o)
		}
	}
	if len(successful) < 10 {
		return nil
	}
	sorted := sortedByTime(successful)
	mid := len(sorted) / 2
	first, second := sorted[:mid], sorted[mid:]

	avgFirst := meanRecovery(first)
	avgSecond := meanRecovery(second)

	if !(avgSecond > avgFirst*1.5 && avgSecond > 60) {
		return nil
	}

	return &types.DetectedPattern{
		PatternID:   uuid.NewString(),
		PatternType: types.PatternRecoveryTimeIncrease,
		Severity:    types.PatternSeverityInfo,
		DetectedAt:  time.Now().UTC(),
		Description: fmt.Sprintf("module recovery times have increased from %.0fs to %.0fs", avgFirst, avgSecond),
		Confidence:  0.7,
		Evidence: map[string]interface{}{
			"first_period_avg":  avgFirst,
			"second_period_avg": avgSecond,
			"increase_percent":  (avgSecond - avgFirst) / avgFirst * 100,
		},
		RecommendedActions: []string{
			"Review module startup procedures",
			"Check for resource constraints",
			"Investigate dependency loading times",
		},
	}
}

func meanRecovery(outs []types.ResurrectionOutcome) float64 {
	if len(outs) == 0 {
		return 0
	}
	var sum float64
	for _, o := range outs {
		if o.TimeToHealthy != nil {
			sum += *o.TimeToHealthy
		}
	}
	return sum / float64(len(outs))
}

// BuildModuleProfile builds a behavioral profile for a single module from
// up to its 100 most recent outcomes.
func (a *Analyzer) BuildModuleProfile(ctx context.Context, module string) (types.ModuleProfile, error) {
	outcomes, err := a.store.OutcomesByModule(ctx, module, 100, nil)
	if err != nil {
		return types.ModuleProfile{}, err
	}
	if len(outcomes) == 0 {
		return types.ModuleProfile{
			Module:      module,
			RiskTrend:   "unknown",
			LastUpdated: time.Now().UTC(),
		}, nil
	}

	var successes, failures, falsePositives []types.ResurrectionOutcome
	for _, o := range outcomes {
		switch o.OutcomeType {
		case types.OutcomeTypeSuccess:
			successes = append(successes, o)
		case types.OutcomeTypeFailure, types.OutcomeTypeRollback:
			failures = append(failures, o)
		case types.OutcomeTypeFalsePositive:
			falsePositives = append(falsePositives, o)
		}
	}

	successRate := ratio(len(successes), len(outcomes))
	fpRate := ratio(len(falsePositives), len(outcomes))

	trend := "insufficient_data"
	if len(outcomes) >= 10 {
		recent := outcomes[:len(outcomes)/2]
		older := outcomes[len(outcomes)/2:]
		recentAvg := meanRisk(recent)
		olderAvg := meanRisk(older)
		switch {
		case recentAvg > olderAvg*1.2:
			trend = "increasing"
		case recentAvg < olderAvg*0.8:
			trend = "decreasing"
		default:
			trend = "stable"
		}
	}

	// auto_approve_eligible deliberately requires a *high* false-positive
	// rate, matching the source's own rule: frequent false positives mean
	// the upstream kill signal is noisy for this module, which argues for
	// trusting automatic resurrection over manual review.
	autoApproveEligible := len(outcomes) >= 5 && successRate >= 0.9 && fpRate >= 0.2

	var lastFailure *time.Time
	if len(failures) > 0 {
		t := failures[0].Timestamp
		lastFailure = &t
	}

	return types.ModuleProfile{
		Module:              module,
		TotalResurrections:  len(outcomes),
		SuccessRate:         successRate,
		AvgRiskScore:        meanRisk(outcomes),
		AvgRecoveryTime:     meanRecovery(successes),
		FalsePositiveRate:   fpRate,
		AutoApproveEligible: autoApproveEligible,
		RiskTrend:           trend,
		LastFailure:         lastFailure,
		LastUpdated:         time.Now().UTC(),
	}, nil
}

func sortedByTime(outcomes []types.ResurrectionOutcome) []types.ResurrectionOutcome {
	sorted := make([]types.ResurrectionOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	return sorted
}

func topModules(counts map[string]int, n int) []string {
	type kv struct {
		module string
		count  int
	}
	list := make([]kv, 0, len(counts))
	for m, c := range counts {
		list = append(list, kv{m, c})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].module < list[j].module
	})
	if len(list) > n {
		list = list[:n]
	}
	out := make([]string, len(list))
	for i, kv := range list {
		out[i] = kv.module
	}
	return out
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
