// Package outcomestore persists resurrection outcomes and serves the
// aggregate queries the RiskEngine and PatternAnalyzer read: per-module
// statistics, global statistics over a time window, and outcome updates as
// feedback arrives. Two backends share this interface: an in-memory store
// for tests and a Postgres-backed store for production. No backend-specific
// field leaks into the interface.
package outcomestore

import (
	"context"
	"time"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// UpdateFields is the allow-listed set of ResurrectionOutcome fields an
// UpdateOutcome call may mutate. Anything outside this set is silently
// ignored, matching the allowed_fields set in the learning pipeline this
// store is modeled on.
type UpdateFields struct {
	OutcomeType       *types.OutcomeType
	HealthScoreAfter  *float64
	TimeToHealthy     *float64
	AnomaliesDetected *int
	RequiredRollback  *bool
	FeedbackSource    *types.FeedbackSource
	HumanFeedback     *string
	CorrectedDecision *string
	Metadata          map[string]interface{}
}

// OutcomeStore is the durable record of resurrection decisions and their
// eventual fates.
type OutcomeStore interface {
	StoreOutcome(ctx context.Context, outcome types.ResurrectionOutcome) error
	GetOutcome(ctx context.Context, outcomeID string) (types.ResurrectionOutcome, bool, error)
	OutcomesByModule(ctx context.Context, module string, limit int, since *time.Time) ([]types.ResurrectionOutcome, error)
	OutcomesByType(ctx context.Context, outcomeType types.OutcomeType, limit int, since *time.Time) ([]types.ResurrectionOutcome, error)
	RecentOutcomes(ctx context.Context, limit int) ([]types.ResurrectionOutcome, error)
	Statistics(ctx context.Context, since, until *time.Time) (types.OutcomeStatistics, error)
	UpdateOutcome(ctx context.Context, outcomeID string, updates UpdateFields) (bool, error)
	ModuleStatistics(ctx context.Context, module string) (types.ModuleStatistics, error)
}
