// Package adminapi exposes the thin, out-of-scope-but-consumed admin
// surface: listing recent outcomes, aggregate statistics, and marking an
// undetermined outcome as operator-approved or operator-denied. It is a
// deliberately minimal interface boundary, not a general query API.
package adminapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	internalerrors "github.com/kase1111-hash/medic-agent/internal/errors"
	"github.com/kase1111-hash/medic-agent/pkg/outcomestore"
	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// Config controls CORS and pagination defaults for the admin surface.
type Config struct {
	AllowedOrigins []string
	DefaultLimit   int
	MaxLimit       int
}

// DefaultConfig returns an allow-any-origin, modestly-paginated config.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		DefaultLimit:   50,
		MaxLimit:       500,
	}
}

// Server is the admin HTTP surface over an OutcomeStore.
type Server struct {
	store  outcomestore.OutcomeStore
	cfg    Config
	logger *zap.Logger
}

// New builds a Server and its chi router.
func New(store outcomestore.OutcomeStore, cfg Config, logger *zap.Logger) *Server {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 500
	}
	return &Server{store: store, cfg: cfg, logger: logger}
}

// Router builds the chi.Router exposing the admin surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/outcomes", s.handleListOutcomes)
	r.Get("/outcomes/{outcomeID}", s.handleGetOutcome)
	r.Post("/outcomes/{outcomeID}/approve", s.handleApprove)
	r.Get("/statistics", s.handleStatistics)

	return r
}

func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}

	outcomes, err := s.store.RecentOutcomes(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcomes": outcomes,
		"count":    len(outcomes),
	})
}

func (s *Server) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	outcomeID := chi.URLParam(r, "outcomeID")
	outcome, found, err := s.store.GetOutcome(r.Context(), outcomeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, internalerrors.NewNotFoundError(outcomeID))
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context(), nil, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// approveRequest is the body of a POST /outcomes/{id}/approve call.
type approveRequest struct {
	Approver string `json:"approver"`
	Feedback string `json:"feedback"`
	Deny     bool   `json:"deny"`
}

// handleApprove marks an UNDETERMINED outcome as resolved by a human
// operator. An outcome that is already resolved (any type other than
// UNDETERMINED) is rejected with AlreadyResolved, state unchanged.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	outcomeID := chi.URLParam(r, "outcomeID")

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, internalerrors.NewValidationError("invalid request body"))
		return
	}
	if req.Approver == "" {
		s.writeError(w, internalerrors.NewValidationError("approver is required"))
		return
	}

	outcome, found, err := s.store.GetOutcome(r.Context(), outcomeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, internalerrors.NewNotFoundError(outcomeID))
		return
	}
	if outcome.OutcomeType != types.OutcomeTypeUndetermined {
		s.writeError(w, internalerrors.NewAlreadyResolvedError(outcomeID))
		return
	}

	corrected := "approve_manual"
	outcomeType := types.OutcomeTypeSuccess
	if req.Deny {
		corrected = "deny_manual"
		outcomeType = types.OutcomeTypeFailure
	}
	feedback := req.Feedback

	ok, err := s.store.UpdateOutcome(r.Context(), outcomeID, outcomestore.UpdateFields{
		OutcomeType:       &outcomeType,
		FeedbackSource:    feedbackSource(),
		HumanFeedback:     &feedback,
		CorrectedDecision: &corrected,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, internalerrors.NewNotFoundError(outcomeID))
		return
	}

	if s.logger != nil {
		s.logger.Info("outcome resolved by operator",
			zap.String("outcome_id", outcomeID),
			zap.String("approver", req.Approver),
			zap.Bool("deny", req.Deny))
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome_id": outcomeID,
		"resolved":   true,
		"at":         time.Now().UTC(),
	})
}

func feedbackSource() *types.FeedbackSource {
	v := types.FeedbackHumanOperator
	return &v
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := internalerrors.GetStatusCode(err)
	if s.logger != nil {
		s.logger.Error("admin api request failed", zap.Error(err), zap.Int("status", status))
	}
	s.writeJSON(w, status, map[string]interface{}{
		"error": internalerrors.SafeErrorMessage(err),
	})
}
