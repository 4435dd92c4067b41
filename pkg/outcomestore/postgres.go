package outcomestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	appErrors "github.com/kase1111-hash/medic-agent/internal/errors"
	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// PostgresStore is the production OutcomeStore backend.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresStore opens a pooled connection to dsn and wraps it in sqlx,
// following the teacher's pgx/v5-over-sqlx pattern (DD-010: migrated from
// lib/pq).
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, appErrors.NewDatabaseError("parse dsn", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, appErrors.NewDatabaseError("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, appErrors.NewDatabaseError("ping", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	db := sqlx.NewDb(sqlDB, "pgx")

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const outcomeColumns = `
	outcome_id, decision_id, kill_id, target_module, timestamp, outcome_type,
	original_risk_score, original_confidence, original_decision, was_auto_approved,
	health_score_after, time_to_healthy, anomalies_detected, required_rollback,
	feedback_source, human_feedback, corrected_decision, metadata`

type outcomeRow struct {
	OutcomeID          string          `db:"outcome_id"`
	DecisionID         string          `db:"decision_id"`
	KillID             string          `db:"kill_id"`
	TargetModule       string          `db:"target_module"`
	Timestamp          time.Time       `db:"timestamp"`
	OutcomeType        string          `db:"outcome_type"`
	OriginalRiskScore  float64         `db:"original_risk_score"`
	OriginalConfidence float64         `db:"original_confidence"`
	OriginalDecision   string          `db:"original_decision"`
	WasAutoApproved    bool            `db:"was_auto_approved"`
	HealthScoreAfter   sql.NullFloat64 `db:"health_score_after"`
	TimeToHealthy      sql.NullFloat64 `db:"time_to_healthy"`
	AnomaliesDetected  int             `db:"anomalies_detected"`
	RequiredRollback   bool            `db:"required_rollback"`
	FeedbackSource     string          `db:"feedback_source"`
	HumanFeedback      sql.NullString  `db:"human_feedback"`
	CorrectedDecision  sql.NullString  `db:"corrected_decision"`
	Metadata           []byte          `db:"metadata"`
}

func (r outcomeRow) toOutcome() (types.ResurrectionOutcome, error) {
	outcomeType, err := types.ParseOutcomeType(r.OutcomeType)
	if err != nil {
		return types.ResurrectionOutcome{}, err
	}
	feedbackSource, err := types.ParseFeedbackSource(r.FeedbackSource)
	if err != nil {
		return types.ResurrectionOutcome{}, err
	}

	out := types.ResurrectionOutcome{
		OutcomeID:          r.OutcomeID,
		DecisionID:         r.DecisionID,
		KillID:             r.KillID,
		TargetModule:       r.TargetModule,
		Timestamp:          r.Timestamp,
		OutcomeType:        outcomeType,
		OriginalRiskScore:  r.OriginalRiskScore,
		OriginalConfidence: r.OriginalConfidence,
		OriginalDecision:   r.OriginalDecision,
		WasAutoApproved:    r.WasAutoApproved,
		AnomaliesDetected:  r.AnomaliesDetected,
		RequiredRollback:   r.RequiredRollback,
		FeedbackSource:     feedbackSource,
	}
	if r.HealthScoreAfter.Valid {
		v := r.HealthScoreAfter.Float64
		out.HealthScoreAfter = &v
	}
	if r.TimeToHealthy.Valid {
		v := r.TimeToHealthy.Float64
		out.TimeToHealthy = &v
	}
	if r.HumanFeedback.Valid {
		v := r.HumanFeedback.String
		out.HumanFeedback = &v
	}
	if r.CorrectedDecision.Valid {
		v := r.CorrectedDecision.String
		out.CorrectedDecision = &v
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &out.Metadata); err != nil {
			return types.ResurrectionOutcome{}, appErrors.NewDatabaseError("unmarshal metadata", err)
		}
	}
	return out, nil
}

func (s *PostgresStore) StoreOutcome(ctx context.Context, outcome types.ResurrectionOutcome) error {
	metadata, err := json.Marshal(outcome.Metadata)
	if err != nil {
		return appErrors.NewDatabaseError("marshal metadata", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO outcomes (%s)
		VALUES (:outcome_id, :decision_id, :kill_id, :target_module, :timestamp, :outcome_type,
			:original_risk_score, :original_confidence, :original_decision, :was_auto_approved,
			:health_score_after, :time_to_healthy, :anomalies_detected, :required_rollback,
			:feedback_source, :human_feedback, :corrected_decision, :metadata)`, outcomeColumns)

	row := toRow(outcome, metadata)
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return appErrors.NewDatabaseError("store_outcome", err)
	}
	return nil
}

func toRow(o types.ResurrectionOutcome, metadata []byte) outcomeRow {
	row := outcomeRow{
		OutcomeID:          o.OutcomeID,
		DecisionID:         o.DecisionID,
		KillID:             o.KillID,
		TargetModule:       o.TargetModule,
		Timestamp:          o.Timestamp,
		OutcomeType:        string(o.OutcomeType),
		OriginalRiskScore:  o.OriginalRiskScore,
		OriginalConfidence: o.OriginalConfidence,
		OriginalDecision:   o.OriginalDecision,
		WasAutoApproved:    o.WasAutoApproved,
		AnomaliesDetected:  o.AnomaliesDetected,
		RequiredRollback:   o.RequiredRollback,
		FeedbackSource:     string(o.FeedbackSource),
		Metadata:           metadata,
	}
	if o.HealthScoreAfter != nil {
		row.HealthScoreAfter = sql.NullFloat64{Float64: *o.HealthScoreAfter, Valid: true}
	}
	if o.TimeToHealthy != nil {
		row.TimeToHealthy = sql.NullFloat64{Float64: *o.TimeToHealthy, Valid: true}
	}
	if o.HumanFeedback != nil {
		row.HumanFeedback = sql.NullString{String: *o.HumanFeedback, Valid: true}
	}
	if o.CorrectedDecision != nil {
		row.CorrectedDecision = sql.NullString{String: *o.CorrectedDecision, Valid: true}
	}
	return row
}

func (s *PostgresStore) GetOutcome(ctx context.Context, outcomeID string) (types.ResurrectionOutcome, bool, error) {
	var row outcomeRow
	query := fmt.Sprintf(`SELECT %s FROM outcomes WHERE outcome_id = $1`, outcomeColumns)
	err := s.db.GetContext(ctx, &row, query, outcomeID)
	if err == sql.ErrNoRows {
		return types.ResurrectionOutcome{}, false, nil
	}
	if err != nil {
		return types.ResurrectionOutcome{}, false, appErrors.NewDatabaseError("get_outcome", err)
	}
	outcome, err := row.toOutcome()
	if err != nil {
		return types.ResurrectionOutcome{}, false, err
	}
	return outcome, true, nil
}

func (s *PostgresStore) OutcomesByModule(ctx context.Context, module string, limit int, since *time.Time) ([]types.ResurrectionOutcome, error) {
	query := fmt.Sprintf(`SELECT %s FROM outcomes WHERE target_module = $1`, outcomeColumns)
	args := []interface{}{module}
	if since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args)+1)
		args = append(args, *since)
	}
	query += " ORDER BY timestamp DESC, seq ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	return s.queryOutcomes(ctx, "outcomes_by_module", query, args...)
}

func (s *PostgresStore) OutcomesByType(ctx context.Context, outcomeType types.OutcomeType, limit int, since *time.Time) ([]types.ResurrectionOutcome, error) {
	query := fmt.Sprintf(`SELECT %s FROM outcomes WHERE outcome_type = $1`, outcomeColumns)
	args := []interface{}{string(outcomeType)}
	if since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args)+1)
		args = append(args, *since)
	}
	query += " ORDER BY timestamp DESC, seq ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	return s.queryOutcomes(ctx, "outcomes_by_type", query, args...)
}

func (s *PostgresStore) RecentOutcomes(ctx context.Context, limit int) ([]types.ResurrectionOutcome, error) {
	query := fmt.Sprintf(`SELECT %s FROM outcomes ORDER BY timestamp DESC, seq ASC`, outcomeColumns)
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	return s.queryOutcomes(ctx, "recent_outcomes", query, args...)
}

func (s *PostgresStore) queryOutcomes(ctx context.Context, op, query string, args ...interface{}) ([]types.ResurrectionOutcome, error) {
	var rows []outcomeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, appErrors.NewDatabaseError(op, err)
	}
	out := make([]types.ResurrectionOutcome, 0, len(rows))
	for _, r := range rows {
		o, err := r.toOutcome()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *PostgresStore) Statistics(ctx context.Context, since, until *time.Time) (types.OutcomeStatistics, error) {
	where, args := "", []interface{}{}
	if since != nil {
		args = append(args, *since)
		where += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if until != nil {
		args = append(args, *until)
		where += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}

	type aggregate struct {
		Total               int             `db:"total"`
		SuccessCount        int             `db:"success_count"`
		FailureCount        int             `db:"failure_count"`
		RollbackCount       int             `db:"rollback_count"`
		FalsePositiveCount  int             `db:"false_positive_count"`
		TruePositiveCount   int             `db:"true_positive_count"`
		AvgRiskSuccess      sql.NullFloat64 `db:"avg_risk_success"`
		AvgRiskFailure      sql.NullFloat64 `db:"avg_risk_failure"`
		AvgTimeToHealthy    sql.NullFloat64 `db:"avg_time_to_healthy"`
		AutoApprovedCount   int             `db:"auto_approved_count"`
		AutoApprovedSuccess int             `db:"auto_approved_success"`
		OverrideCount       int             `db:"override_count"`
		PeriodStart         sql.NullTime    `db:"period_start"`
		PeriodEnd           sql.NullTime    `db:"period_end"`
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE outcome_type = 'SUCCESS') AS success_count,
			COUNT(*) FILTER (WHERE outcome_type = 'FAILURE') AS failure_count,
			COUNT(*) FILTER (WHERE outcome_type = 'ROLLBACK') AS rollback_count,
			COUNT(*) FILTER (WHERE outcome_type = 'FALSE_POSITIVE') AS false_positive_count,
			COUNT(*) FILTER (WHERE outcome_type = 'TRUE_POSITIVE') AS true_positive_count,
			AVG(original_risk_score) FILTER (WHERE outcome_type = 'SUCCESS') AS avg_risk_success,
			AVG(original_risk_score) FILTER (WHERE outcome_type IN ('FAILURE', 'ROLLBACK')) AS avg_risk_failure,
			AVG(time_to_healthy) FILTER (WHERE outcome_type = 'SUCCESS') AS avg_time_to_healthy,
			COUNT(*) FILTER (WHERE was_auto_approved) AS auto_approved_count,
			COUNT(*) FILTER (WHERE was_auto_approved AND outcome_type = 'SUCCESS') AS auto_approved_success,
			COUNT(*) FILTER (WHERE corrected_decision IS NOT NULL) AS override_count,
			MIN(timestamp) AS period_start,
			MAX(timestamp) AS period_end
		FROM outcomes
		WHERE 1=1 %s`, where)

	var agg aggregate
	if err := s.db.GetContext(ctx, &agg, query, args...); err != nil {
		return types.OutcomeStatistics{}, appErrors.NewDatabaseError("statistics", err)
	}

	now := time.Now().UTC()
	stats := types.OutcomeStatistics{
		TotalOutcomes:      agg.Total,
		SuccessCount:       agg.SuccessCount,
		FailureCount:       agg.FailureCount,
		RollbackCount:      agg.RollbackCount,
		FalsePositiveCount: agg.FalsePositiveCount,
		TruePositiveCount:  agg.TruePositiveCount,
		PeriodStart:        now,
		PeriodEnd:          now,
	}
	if agg.AvgRiskSuccess.Valid {
		stats.AvgRiskScoreSuccess = agg.AvgRiskSuccess.Float64
	}
	if agg.AvgRiskFailure.Valid {
		stats.AvgRiskScoreFailure = agg.AvgRiskFailure.Float64
	}
	if agg.AvgTimeToHealthy.Valid {
		stats.AvgTimeToHealthy = agg.AvgTimeToHealthy.Float64
	}
	stats.AutoApproveAccuracy = ratio(agg.AutoApprovedSuccess, agg.AutoApprovedCount)
	stats.HumanOverrideRate = ratio(agg.OverrideCount, agg.Total)
	if agg.PeriodStart.Valid {
		stats.PeriodStart = agg.PeriodStart.Time
	}
	if agg.PeriodEnd.Valid {
		stats.PeriodEnd = agg.PeriodEnd.Time
	}
	return stats, nil
}

func (s *PostgresStore) UpdateOutcome(ctx context.Context, outcomeID string, updates UpdateFields) (bool, error) {
	sets := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if updates.OutcomeType != nil {
		add("outcome_type", string(*updates.OutcomeType))
	}
	if updates.HealthScoreAfter != nil {
		add("health_score_after", *updates.HealthScoreAfter)
	}
	if updates.TimeToHealthy != nil {
		add("time_to_healthy", *updates.TimeToHealthy)
	}
	if updates.AnomaliesDetected != nil {
		add("anomalies_detected", *updates.AnomaliesDetected)
	}
	if updates.RequiredRollback != nil {
		add("required_rollback", *updates.RequiredRollback)
	}
	if updates.FeedbackSource != nil {
		add("feedback_source", string(*updates.FeedbackSource))
	}
	if updates.HumanFeedback != nil {
		add("human_feedback", *updates.HumanFeedback)
	}
	if updates.CorrectedDecision != nil {
		add("corrected_decision", *updates.CorrectedDecision)
	}
	if updates.Metadata != nil {
		encoded, err := json.Marshal(updates.Metadata)
		if err != nil {
			return false, appErrors.NewDatabaseError("marshal metadata", err)
		}
		add("metadata", encoded)
	}

	if len(sets) == 0 {
		return false, nil
	}

	args = append(args, outcomeID)
	query := fmt.Sprintf("UPDATE outcomes SET %s WHERE outcome_id = $%d", joinComma(sets), len(args))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, appErrors.NewDatabaseError("update_outcome", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, appErrors.NewDatabaseError("update_outcome", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ModuleStatistics(ctx context.Context, module string) (types.ModuleStatistics, error) {
	type row struct {
		Total          int             `db:"total"`
		Success        int             `db:"success"`
		Failure        int             `db:"failure"`
		AvgRisk        sql.NullFloat64 `db:"avg_risk"`
		AvgRecoveryTime sql.NullFloat64 `db:"avg_recovery_time"`
	}
	var r row
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE outcome_type = 'SUCCESS') AS success,
			COUNT(*) FILTER (WHERE outcome_type IN ('FAILURE', 'ROLLBACK')) AS failure,
			AVG(original_risk_score) AS avg_risk,
			AVG(time_to_healthy) AS avg_recovery_time
		FROM outcomes
		WHERE target_module = $1`
	if err := s.db.GetContext(ctx, &r, query, module); err != nil {
		return types.ModuleStatistics{}, appErrors.NewDatabaseError("module_statistics", err)
	}

	stats := types.ModuleStatistics{
		Module:             module,
		TotalResurrections: r.Total,
		SuccessCount:       r.Success,
		FailureCount:       r.Failure,
		SuccessRate:        ratio(r.Success, r.Total),
	}
	if r.AvgRisk.Valid {
		stats.AvgRiskScore = r.AvgRisk.Float64
	}
	if r.AvgRecoveryTime.Valid {
		stats.AvgRecoveryTime = r.AvgRecoveryTime.Float64
	}
	return stats, nil
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}
