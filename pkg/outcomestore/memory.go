package outcomestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// seqOutcome pairs a stored outcome with the monotonic insertion sequence
// it was stored under, so ties in Timestamp break on insertion order
// instead of Go's unspecified map-iteration order.
type seqOutcome struct {
	outcome types.ResurrectionOutcome
	seq     int64
}

// MemoryStore is an in-memory OutcomeStore, used in tests and for the
// observer-mode dry run where no durable history is required.
type MemoryStore struct {
	mu       sync.RWMutex
	outcomes map[string]seqOutcome
	nextSeq  int64
	logger   *zap.Logger
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		outcomes: make(map[string]seqOutcome),
		logger:   logger,
	}
}

func (s *MemoryStore) StoreOutcome(_ context.Context, outcome types.ResurrectionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.outcomes[outcome.OutcomeID] = seqOutcome{outcome: outcome, seq: s.nextSeq}
	return nil
}

func (s *MemoryStore) GetOutcome(_ context.Context, outcomeID string) (types.ResurrectionOutcome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.outcomes[outcomeID]
	return o.outcome, ok, nil
}

func (s *MemoryStore) OutcomesByModule(_ context.Context, module string, limit int, since *time.Time) ([]types.ResurrectionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []seqOutcome
	for _, o := range s.outcomes {
		if o.outcome.TargetModule != module {
			continue
		}
		if since != nil && o.outcome.Timestamp.Before(*since) {
			continue
		}
		out = append(out, o)
	}
	return truncate(sortByTimestampDesc(out), limit), nil
}

func (s *MemoryStore) OutcomesByType(_ context.Context, outcomeType types.OutcomeType, limit int, since *time.Time) ([]types.ResurrectionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []seqOutcome
	for _, o := range s.outcomes {
		if o.outcome.OutcomeType != outcomeType {
			continue
		}
		if since != nil && o.outcome.Timestamp.Before(*since) {
			continue
		}
		out = append(out, o)
	}
	return truncate(sortByTimestampDesc(out), limit), nil
}

func (s *MemoryStore) RecentOutcomes(_ context.Context, limit int) ([]types.ResurrectionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]seqOutcome, 0, len(s.outcomes))
	for _, o := range s.outcomes {
		out = append(out, o)
	}
	return truncate(sortByTimestampDesc(out), limit), nil
}

func (s *MemoryStore) Statistics(_ context.Context, since, until *time.Time) (types.OutcomeStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []types.ResurrectionOutcome
	for _, so := range s.outcomes {
		o := so.outcome
		if since != nil && o.Timestamp.Before(*since) {
			continue
		}
		if until != nil && o.Timestamp.After(*until) {
			continue
		}
		filtered = append(filtered, o)
	}

	if len(filtered) == 0 {
		now := time.Now().UTC()
		start, end := now, now
		if since != nil {
			start = *since
		}
		if until != nil {
			end = *until
		}
		return types.OutcomeStatistics{PeriodStart: start, PeriodEnd: end}, nil
	}

	var success, failures, autoApproved, autoSuccess, overrides []types.ResurrectionOutcome
	var failureCount, rollbackCount, fpCount, tpCount int
	periodStart, periodEnd := filtered[0].Timestamp, filtered[0].Timestamp

	for _, o := range filtered {
		if o.OutcomeType == types.OutcomeTypeSuccess {
			success = append(success, o)
		}
		if o.OutcomeType == types.OutcomeTypeFailure || o.OutcomeType == types.OutcomeTypeRollback {
			failures = append(failures, o)
		}
		if o.OutcomeType == types.OutcomeTypeFailure {
			failureCount++
		}
		if o.OutcomeType == types.OutcomeTypeRollback {
			rollbackCount++
		}
		if o.OutcomeType == types.OutcomeTypeFalsePositive {
			fpCount++
		}
		if o.OutcomeType == types.OutcomeTypeTruePositive {
			tpCount++
		}
		if o.WasAutoApproved {
			autoApproved = append(autoApproved, o)
			if o.OutcomeType == types.OutcomeTypeSuccess {
				autoSuccess = append(autoSuccess, o)
			}
		}
		if o.CorrectedDecision != nil {
			overrides = append(overrides, o)
		}
		if o.Timestamp.Before(periodStart) {
			periodStart = o.Timestamp
		}
		if o.Timestamp.After(periodEnd) {
			periodEnd = o.Timestamp
		}
	}

	return types.OutcomeStatistics{
		TotalOutcomes:       len(filtered),
		SuccessCount:        len(success),
		FailureCount:        failureCount,
		RollbackCount:       rollbackCount,
		FalsePositiveCount:  fpCount,
		TruePositiveCount:   tpCount,
		AvgRiskScoreSuccess: avgRiskScore(success),
		AvgRiskScoreFailure: avgRiskScore(failures),
		AvgTimeToHealthy:    avgTimeToHealthy(success),
		AutoApproveAccuracy: ratio(len(autoSuccess), len(autoApproved)),
		HumanOverrideRate:   ratio(len(overrides), len(filtered)),
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
	}, nil
}

func (s *MemoryStore) UpdateOutcome(_ context.Context, outcomeID string, updates UpdateFields) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	so, ok := s.outcomes[outcomeID]
	if !ok {
		return false, nil
	}
	applyUpdateFields(&so.outcome, updates)
	s.outcomes[outcomeID] = so
	return true, nil
}

func (s *MemoryStore) ModuleStatistics(_ context.Context, module string) (types.ModuleStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total, successCount, failureCount int
	var riskSum, recoverySum float64
	var recoveryCount int

	for _, so := range s.outcomes {
		o := so.outcome
		if o.TargetModule != module {
			continue
		}
		total++
		riskSum += o.OriginalRiskScore
		if o.OutcomeType == types.OutcomeTypeSuccess {
			successCount++
		}
		if o.OutcomeType == types.OutcomeTypeFailure || o.OutcomeType == types.OutcomeTypeRollback {
			failureCount++
		}
		if o.TimeToHealthy != nil {
			recoverySum += *o.TimeToHealthy
			recoveryCount++
		}
	}

	stats := types.ModuleStatistics{
		Module:             module,
		TotalResurrections: total,
		SuccessCount:        successCount,
		FailureCount:        failureCount,
		SuccessRate:         ratio(successCount, total),
	}
	if total > 0 {
		stats.AvgRiskScore = riskSum / float64(total)
	}
	if recoveryCount > 0 {
		stats.AvgRecoveryTime = recoverySum / float64(recoveryCount)
	}
	return stats, nil
}

func applyUpdateFields(o *types.ResurrectionOutcome, u UpdateFields) {
	if u.OutcomeType != nil {
		o.OutcomeType = *u.OutcomeType
	}
	if u.HealthScoreAfter != nil {
		o.HealthScoreAfter = u.HealthScoreAfter
	}
	if u.TimeToHealthy != nil {
		o.TimeToHealthy = u.TimeToHealthy
	}
	if u.AnomaliesDetected != nil {
		o.AnomaliesDetected = *u.AnomaliesDetected
	}
	if u.RequiredRollback != nil {
		o.RequiredRollback = *u.RequiredRollback
	}
	if u.FeedbackSource != nil {
		o.FeedbackSource = *u.FeedbackSource
	}
	if u.HumanFeedback != nil {
		o.HumanFeedback = u.HumanFeedback
	}
	if u.CorrectedDecision != nil {
		o.CorrectedDecision = u.CorrectedDecision
	}
	if u.Metadata != nil {
		o.Metadata = u.Metadata
	}
}

// sortByTimestampDesc orders by Timestamp descending, breaking ties on
// insertion sequence ascending so equal-timestamp outcomes come back in
// the order they were stored rather than Go's unspecified map order.
func sortByTimestampDesc(outcomes []seqOutcome) []types.ResurrectionOutcome {
	sort.Slice(outcomes, func(i, j int) bool {
		ti, tj := outcomes[i].outcome.Timestamp, outcomes[j].outcome.Timestamp
		if ti.Equal(tj) {
			return outcomes[i].seq < outcomes[j].seq
		}
		return ti.After(tj)
	})
	out := make([]types.ResurrectionOutcome, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.outcome
	}
	return out
}

func truncate(outcomes []types.ResurrectionOutcome, limit int) []types.ResurrectionOutcome {
	if limit > 0 && len(outcomes) > limit {
		return outcomes[:limit]
	}
	return outcomes
}

func avgRiskScore(outcomes []types.ResurrectionOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var sum float64
	for _, o := range outcomes {
		sum += o.OriginalRiskScore
	}
	return sum / float64(len(outcomes))
}

func avgTimeToHealthy(outcomes []types.ResurrectionOutcome) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	var sum float64
	for _, o := range outcomes {
		if o.TimeToHealthy != nil {
			sum += *o.TimeToHealthy
		}
	}
	return sum / float64(len(outcomes))
}

func ratio(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}
