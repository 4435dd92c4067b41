package decision

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kase1111-hash/medic-agent/pkg/outcomestore"
	"github.com/kase1111-hash/medic-agent/pkg/types"
)

func TestDecision(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Decision Suite")
}

func baseEvent() types.KillEvent {
	return types.KillEvent{
		KillID:          "kill-1",
		TargetModule:    "cache-service",
		KillReason:      types.ReasonResourceExhaustion,
		Severity:        types.SeverityLow,
		ConfidenceScore: 0.2,
	}
}

func riskAt(level types.RiskLevel, score, confidence float64) types.RiskAssessment {
	return types.RiskAssessment{
		RiskLevel:  level,
		RiskScore:  score,
		Confidence: confidence,
	}
}

var _ = Describe("Engine", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("immediate-deny rules", func() {
		It("denies a module on the always-deny list regardless of risk", func() {
			engine, err := New(ctx, Config{AlwaysDenyModules: []string{"cache-service"}}, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			d, err := engine.Decide(ctx, baseEvent(), riskAt(types.RiskMinimal, 0.05, 0.99), types.EnrichmentResult{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Outcome).To(Equal(types.OutcomeDeny))
			Expect(d.Risk.RiskScore).To(Equal(0.95))
		})

		It("denies a confirmed high-confidence threat detection", func() {
			engine, err := New(ctx, Config{}, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			event := baseEvent()
			event.KillReason = types.ReasonThreatDetected
			event.ConfidenceScore = 0.99

			d, err := engine.Decide(ctx, event, riskAt(types.RiskMedium, 0.5, 0.8), types.EnrichmentResult{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Outcome).To(Equal(types.OutcomeDeny))
		})

		It("denies on a high-scoring threat indicator", func() {
			engine, err := New(ctx, Config{}, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			enrichment := types.EnrichmentResult{
				ThreatIndicators: []types.ThreatIndicator{{IndicatorType: "c2-beacon", ThreatScore: 0.95}},
			}
			d, err := engine.Decide(ctx, baseEvent(), riskAt(types.RiskLow, 0.3, 0.8), enrichment)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Outcome).To(Equal(types.OutcomeDeny))
		})
	})

	Describe("live-mode classification", func() {
		It("auto-approves low risk when enabled and confident", func() {
			engine, err := New(ctx, Config{AutoApproveEnabled: true, AutoApproveMinConfidence: 0.5}, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			d, err := engine.Decide(ctx, baseEvent(), riskAt(types.RiskLow, 0.1, 0.9), types.EnrichmentResult{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Outcome).To(Equal(types.OutcomeApproveAuto))
		})

		It("falls back to pending review when auto-approve is disabled", func() {
			engine, err := New(ctx, Config{AutoApproveEnabled: false}, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			d, err := engine.Decide(ctx, baseEvent(), riskAt(types.RiskLow, 0.1, 0.9), types.EnrichmentResult{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Outcome).To(Equal(types.OutcomePendingReview))
		})

		It("denies high and critical risk levels", func() {
			engine, err := New(ctx, Config{AutoApproveEnabled: true, AutoApproveMinConfidence: 0.1}, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			d, err := engine.Decide(ctx, baseEvent(), riskAt(types.RiskHigh, 0.85, 0.9), types.EnrichmentResult{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Outcome).To(Equal(types.OutcomeDeny))
		})

		It("caps at pending review for always-require-approval modules", func() {
			engine, err := New(ctx, Config{
				AutoApproveEnabled:       true,
				AutoApproveMinConfidence: 0.1,
				AlwaysRequireApproval:    []string{"cache-service"},
			}, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			d, err := engine.Decide(ctx, baseEvent(), riskAt(types.RiskMinimal, 0.05, 0.99), types.EnrichmentResult{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Outcome).To(Equal(types.OutcomePendingReview))
		})
	})

	Describe("observer mode", func() {
		It("classifies identically but flags execution as suppressed", func() {
			engine, err := New(ctx, Config{ObserverMode: true, AutoApproveEnabled: true, AutoApproveMinConfidence: 0.1}, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			d, err := engine.Decide(ctx, baseEvent(), riskAt(types.RiskLow, 0.1, 0.9), types.EnrichmentResult{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Outcome).To(Equal(types.OutcomeApproveAuto))
			Expect(d.Constraints).To(ContainElement("observer mode: execution suppressed"))
		})
	})

	Describe("reasoning", func() {
		It("includes a summary of the kill, enrichment, and risk level", func() {
			engine, err := New(ctx, Config{}, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			enrichment := types.EnrichmentResult{RiskScore: 0.4, Recommendation: "investigate", FalsePositiveHistory: 2}
			d, err := engine.Decide(ctx, baseEvent(), riskAt(types.RiskMedium, 0.5, 0.7), enrichment)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Reasoning).To(HaveLen(4))
			Expect(d.Reasoning[2]).To(ContainSubstring("False positive history"))
		})
	})

	Describe("Statistics", func() {
		It("tallies decisions by outcome", func() {
			engine, err := New(ctx, Config{}, nil, nil)
			Expect(err).NotTo(HaveOccurred())

			_, _ = engine.Decide(ctx, baseEvent(), riskAt(types.RiskHigh, 0.9, 0.9), types.EnrichmentResult{})
			_, _ = engine.Decide(ctx, baseEvent(), riskAt(types.RiskHigh, 0.9, 0.9), types.EnrichmentResult{})

			total, byOutcome := engine.Statistics()
			Expect(total).To(Equal(2))
			Expect(byOutcome[types.OutcomeDeny]).To(Equal(2))
		})
	})

	Describe("Calibrate", func() {
		It("is a no-op without an outcome store", func() {
			engine, err := New(ctx, Config{}, nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Calibrate(ctx, 0)).To(Succeed())
		})

		It("leaves confidence unchanged at target accuracy", func() {
			store := outcomestore.NewMemoryStore(nil)
			for i := 0; i < 9; i++ {
				_ = store.StoreOutcome(ctx, types.ResurrectionOutcome{
					OutcomeID: "o" + string(rune('a'+i)), TargetModule: "m", WasAutoApproved: true,
					OutcomeType: types.OutcomeTypeSuccess, Timestamp: time.Now().UTC(),
				})
			}
			_ = store.StoreOutcome(ctx, types.ResurrectionOutcome{
				OutcomeID: "ofail", TargetModule: "m", WasAutoApproved: true,
				OutcomeType: types.OutcomeTypeFailure, Timestamp: time.Now().UTC(),
			})

			engine, err := New(ctx, Config{AutoApproveMinConfidence: 0.85}, store, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(engine.Calibrate(ctx, time.Hour)).To(Succeed())
			Expect(engine.cfg.AutoApproveMinConfidence).To(Equal(0.85))
		})
	})
})
