//go:build integration
// +build integration

// Package resurrection exercises the full kill-event pipeline end to end:
// dispatcher, risk engine, decision engine, outcome store, and threshold
// adapter wired together the way cmd/medic-agent wires them, rather than
// any single package in isolation.
package resurrection

import (
	"context"
	"strconv"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kase1111-hash/medic-agent/pkg/decision"
	"github.com/kase1111-hash/medic-agent/pkg/dispatcher"
	"github.com/kase1111-hash/medic-agent/pkg/enrichment"
	"github.com/kase1111-hash/medic-agent/pkg/executor"
	"github.com/kase1111-hash/medic-agent/pkg/outcomestore"
	"github.com/kase1111-hash/medic-agent/pkg/risk"
	"github.com/kase1111-hash/medic-agent/pkg/threshold"
	"github.com/kase1111-hash/medic-agent/pkg/types"
)

func TestResurrectionIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Resurrection Pipeline Integration Test Suite")
}

// fixedEnricher returns a canned EnrichmentResult regardless of input,
// standing in for a SIEM/threat-intel collaborator under test control.
type fixedEnricher struct {
	result types.EnrichmentResult
}

func (f fixedEnricher) Enrich(context.Context, types.KillEvent) types.EnrichmentResult {
	return f.result
}

type recordingAck struct {
	acked []string
}

func (a *recordingAck) Acknowledge(_ context.Context, killID string) error {
	a.acked = append(a.acked, killID)
	return nil
}

func buildPipeline(mode dispatcher.Mode, autoApproveEnabled bool, minConfidence float64, enr enrichment.Enricher) (*dispatcher.Dispatcher, *outcomestore.MemoryStore, *recordingAck) {
	store := outcomestore.NewMemoryStore(nil)
	riskEngine := risk.New(types.DefaultRiskWeights(), types.DefaultRiskThresholds(), nil, store, nil)
	decisionEngine, err := decision.New(context.Background(), decision.Config{
		ObserverMode:             mode == dispatcher.ModeObserver,
		AutoApproveEnabled:       autoApproveEnabled,
		AutoApproveMinConfidence: minConfidence,
	}, store, nil)
	Expect(err).NotTo(HaveOccurred())

	ack := &recordingAck{}
	disp := dispatcher.New(dispatcher.Config{Mode: mode, MaxConcurrent: 2}, enr, riskEngine, decisionEngine,
		executor.NewDryRun(executor.Config{}, nil), store, ack, nil)
	return disp, store, ack
}

var _ = Describe("Resurrection pipeline", Ordered, func() {

	Describe("low-risk auto-approve", func() {
		It("executes, records success, and acknowledges", func() {
			enr := fixedEnricher{result: types.EnrichmentResult{
				RiskScore: 0.1, Recommendation: "safe_to_resurrect", FalsePositiveHistory: 3,
			}}
			disp, store, ack := buildPipeline(dispatcher.ModeLive, true, 0.5, enr)

			event := types.KillEvent{
				KillID: "k-low-risk", TargetModule: "cache-service",
				KillReason: types.ReasonResourceExhaustion, Severity: types.SeverityLow,
				ConfidenceScore: 0.2,
			}

			state, err := disp.Dispatch(context.Background(), event)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(dispatcher.StateAcked))
			Expect(ack.acked).To(ContainElement("k-low-risk"))

			outcomes, err := store.RecentOutcomes(context.Background(), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes).To(HaveLen(1))

			o := outcomes[0]
			Expect(o.OutcomeType).To(Equal(types.OutcomeTypeSuccess))
			Expect(o.WasAutoApproved).To(BeTrue())
			Expect(o.Metadata).To(HaveKey("enrichment_recommendation"))
			Expect(o.Metadata["enrichment_recommendation"]).To(Equal("safe_to_resurrect"))
		})
	})

	Describe("confirmed threat immediate deny", func() {
		It("denies without invoking the executor and still acknowledges", func() {
			enr := fixedEnricher{result: types.DefaultEnrichmentResult()}
			disp, store, ack := buildPipeline(dispatcher.ModeLive, true, 0.5, enr)

			event := types.KillEvent{
				KillID: "k-threat", TargetModule: "auth-service",
				KillReason: types.ReasonThreatDetected, Severity: types.SeverityCritical,
				ConfidenceScore: 0.99,
			}

			state, err := disp.Dispatch(context.Background(), event)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(dispatcher.StateAcked))
			Expect(ack.acked).To(ContainElement("k-threat"))

			outcomes, err := store.RecentOutcomes(context.Background(), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes).To(HaveLen(1))
			Expect(outcomes[0].OutcomeType).To(Equal(types.OutcomeTypeUndetermined))
			Expect(outcomes[0].OriginalRiskScore).To(BeNumerically(">=", 0.9))
			Expect(outcomes[0].OriginalDecision).To(Equal(string(types.OutcomeDeny)))
		})
	})

	Describe("observer mode", func() {
		It("suppresses execution for the same input that would auto-approve live", func() {
			enr := fixedEnricher{result: types.EnrichmentResult{
				RiskScore: 0.1, Recommendation: "safe_to_resurrect", FalsePositiveHistory: 3,
			}}
			disp, store, _ := buildPipeline(dispatcher.ModeObserver, true, 0.5, enr)

			event := types.KillEvent{
				KillID: "k-observer", TargetModule: "cache-service",
				KillReason: types.ReasonResourceExhaustion, Severity: types.SeverityLow,
				ConfidenceScore: 0.2,
			}

			state, err := disp.Dispatch(context.Background(), event)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(dispatcher.StateAcked))

			outcomes, err := store.RecentOutcomes(context.Background(), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcomes).To(HaveLen(1))
			Expect(outcomes[0].OutcomeType).To(Equal(types.OutcomeTypeUndetermined))
		})
	})

	Describe("outcome store aggregate statistics", func() {
		It("matches the straightforward counts over the seeded outcomes", func() {
			store := outcomestore.NewMemoryStore(nil)
			now := time.Now().UTC()
			seed := []types.ResurrectionOutcome{
				{OutcomeID: "s1", TargetModule: "svc", OutcomeType: types.OutcomeTypeSuccess, WasAutoApproved: true, OriginalRiskScore: 0.2, Timestamp: now.Add(-3 * time.Hour)},
				{OutcomeID: "s2", TargetModule: "svc", OutcomeType: types.OutcomeTypeSuccess, WasAutoApproved: true, OriginalRiskScore: 0.25, Timestamp: now.Add(-2 * time.Hour)},
				{OutcomeID: "f1", TargetModule: "svc", OutcomeType: types.OutcomeTypeFailure, WasAutoApproved: true, OriginalRiskScore: 0.6, Timestamp: now.Add(-1 * time.Hour)},
				{OutcomeID: "fp1", TargetModule: "svc", OutcomeType: types.OutcomeTypeFalsePositive, Timestamp: now},
			}
			for _, o := range seed {
				Expect(store.StoreOutcome(context.Background(), o)).To(Succeed())
			}

			stats, err := store.Statistics(context.Background(), nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.TotalOutcomes).To(Equal(4))
			Expect(stats.SuccessCount).To(Equal(2))
			Expect(stats.FailureCount).To(Equal(1))
			Expect(stats.FalsePositiveCount).To(Equal(1))
			Expect(stats.AutoApproveAccuracy).To(BeNumerically("~", 2.0/3.0, 0.001))
			Expect(stats.PeriodStart).To(BeTemporally("~", seed[0].Timestamp, time.Second))
			Expect(stats.PeriodEnd).To(BeTemporally("~", seed[3].Timestamp, time.Second))
		})
	})

	Describe("adaptive threshold tightening", func() {
		It("proposes a decrease to auto_approve_max_score under low accuracy and applies it on approval", func() {
			store := outcomestore.NewMemoryStore(nil)
			ctx := context.Background()
			for i := 0; i < 12; i++ {
				Expect(store.StoreOutcome(ctx, types.ResurrectionOutcome{
					OutcomeID: successID(i), TargetModule: "svc", OutcomeType: types.OutcomeTypeSuccess,
					WasAutoApproved: true, OriginalRiskScore: 0.2, OriginalConfidence: 0.9,
					Timestamp: time.Now().UTC(),
				})).To(Succeed())
			}
			for i := 0; i < 8; i++ {
				Expect(store.StoreOutcome(ctx, types.ResurrectionOutcome{
					OutcomeID: failureID(i), TargetModule: "svc", OutcomeType: types.OutcomeTypeFailure,
					WasAutoApproved: true, OriginalRiskScore: 0.28, OriginalConfidence: 0.9,
					Timestamp: time.Now().UTC(),
				})).To(Succeed())
			}

			cfg := threshold.DefaultConfig()
			cfg.MinSamplesRequired = 20
			adapter := threshold.New(store, cfg, types.DefaultRiskThresholds(), types.DefaultRiskWeights())

			proposal, err := adapter.AnalyzeAndPropose(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(proposal).NotTo(BeNil())

			var found bool
			for _, adj := range proposal.Adjustments {
				if adj.ThresholdName == "auto_approve_max_score" {
					found = true
					Expect(adj.Direction).To(Equal(types.AdjustDecrease))
					Expect(adj.NewValue).To(BeNumerically("<", adj.OldValue))
				}
			}
			Expect(found).To(BeTrue())

			before := adapter.CurrentState().Version
			Expect(adapter.Approve(proposal.ProposalID, "operator-1")).To(BeTrue())
			after := adapter.CurrentState()
			Expect(after.Version).To(Equal(before + 1))
			Expect(after.Thresholds.AutoApproveMaxScore).To(BeNumerically("<", types.DefaultRiskThresholds().AutoApproveMaxScore))
		})
	})

	Describe("decision engine calibration", func() {
		It("leaves auto_approve_min_confidence unchanged at the target accuracy", func() {
			store := outcomestore.NewMemoryStore(nil)
			ctx := context.Background()
			for i := 0; i < 54; i++ {
				Expect(store.StoreOutcome(ctx, types.ResurrectionOutcome{
					OutcomeID: successID(1000 + i), TargetModule: "svc", OutcomeType: types.OutcomeTypeSuccess,
					WasAutoApproved: true, Timestamp: time.Now().UTC(),
				})).To(Succeed())
			}
			for i := 0; i < 6; i++ {
				Expect(store.StoreOutcome(ctx, types.ResurrectionOutcome{
					OutcomeID: failureID(1000 + i), TargetModule: "svc", OutcomeType: types.OutcomeTypeFailure,
					WasAutoApproved: true, Timestamp: time.Now().UTC(),
				})).To(Succeed())
			}

			engine, err := decision.New(ctx, decision.Config{AutoApproveMinConfidence: 0.85}, store, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(engine.Calibrate(ctx, 24*time.Hour)).To(Succeed())
			Expect(engine.AutoApproveMinConfidence()).To(Equal(0.85))
		})
	})
})

func successID(i int) string { return "auto-success-" + strconv.Itoa(i) }
func failureID(i int) string { return "auto-failure-" + strconv.Itoa(i) }
