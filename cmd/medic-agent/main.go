// Command medic-agent wires together the risk engine, decision engine,
// dispatcher, outcome store, and their collaborators, then serves the
// kill-event ingestion, admin, and metrics HTTP surfaces.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/kase1111-hash/medic-agent/internal/config"
	internalerrors "github.com/kase1111-hash/medic-agent/internal/errors"
	"github.com/kase1111-hash/medic-agent/internal/logging"
	"github.com/kase1111-hash/medic-agent/pkg/adminapi"
	"github.com/kase1111-hash/medic-agent/pkg/decision"
	"github.com/kase1111-hash/medic-agent/pkg/dispatcher"
	"github.com/kase1111-hash/medic-agent/pkg/enrichment"
	"github.com/kase1111-hash/medic-agent/pkg/executor"
	"github.com/kase1111-hash/medic-agent/pkg/metrics"
	"github.com/kase1111-hash/medic-agent/pkg/notification"
	"github.com/kase1111-hash/medic-agent/pkg/outcomestore"
	"github.com/kase1111-hash/medic-agent/pkg/patterns"
	"github.com/kase1111-hash/medic-agent/pkg/risk"
	"github.com/kase1111-hash/medic-agent/pkg/threshold"
	"github.com/kase1111-hash/medic-agent/pkg/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the runtime configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("medic-agent exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building outcome store: %w", err)
	}

	enricher, err := buildEnricher(cfg, logger)
	if err != nil {
		return fmt.Errorf("building enricher: %w", err)
	}

	exec, err := buildExecutor(cfg, logger)
	if err != nil {
		return fmt.Errorf("building executor: %w", err)
	}

	riskEngine := risk.New(cfg.RiskWeights, cfg.RiskThresholds, cfg.Decision.CriticalModules, store, logger)

	decisionEngine, err := decision.New(ctx, decision.Config{
		ObserverMode:             cfg.Decision.ObserverMode,
		AutoApproveEnabled:       cfg.Decision.AutoApproveEnabled,
		AutoApproveMinConfidence: cfg.Decision.ConfidenceThreshold,
		AlwaysDenyModules:        cfg.Decision.AlwaysDenyModules,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("building decision engine: %w", err)
	}

	mode := dispatcher.ModeLive
	if cfg.Decision.ObserverMode {
		mode = dispatcher.ModeObserver
	}

	m := metrics.New()

	ack := &loggingAcknowledger{logger: logger}
	disp := dispatcher.New(dispatcher.Config{
		Mode:          mode,
		MaxConcurrent: int64(cfg.Dispatcher.MaxConcurrent),
	}, enricher, riskEngine, decisionEngine, exec, store, ack, logger).WithMetrics(m)

	notifier := buildNotifier(cfg, logger)
	analyzer := patterns.New(store, patterns.DefaultConfig(), nil)
	adapter := threshold.New(store, threshold.Config{
		Enabled:                   cfg.Adaptive.Enabled,
		MinSamplesRequired:        cfg.Adaptive.MinSamplesRequired,
		AnalysisWindow:            cfg.Adaptive.AnalysisWindow,
		MaxAdjustmentPercent:      cfg.Adaptive.MaxAdjustmentPercent,
		AdjustmentCooldown:        cfg.Adaptive.AdjustmentCooldown,
		TargetAutoApproveAccuracy: cfg.Adaptive.TargetAutoApproveAccuracy,
	}, cfg.RiskThresholds, cfg.RiskWeights)

	go runLearningLoop(ctx, analyzer, adapter, m, notifier, logger)

	admin := adminapi.New(store, adminapi.DefaultConfig(), logger)
	router := admin.Router()
	router.Post("/events", ingestHandler(disp, logger))
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	adminServer := &http.Server{Addr: ":" + cfg.Server.AdminPort, Handler: router}
	metricsServer := &http.Server{Addr: ":" + cfg.Server.MetricsPort, Handler: m.Handler()}

	errCh := make(chan error, 2)
	go func() { errCh <- adminServer.ListenAndServe() }()
	go func() { errCh <- metricsServer.ListenAndServe() }()

	logger.Info("medic-agent started",
		zap.String("admin_addr", adminServer.Addr),
		zap.String("metrics_addr", metricsServer.Addr),
		zap.String("mode", string(mode)))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = adminServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (outcomestore.OutcomeStore, error) {
	var store outcomestore.OutcomeStore
	switch cfg.Store.Backend {
	case "postgres":
		pg, err := outcomestore.NewPostgresStore(ctx, cfg.Store.DSN, logger)
		if err != nil {
			return nil, err
		}
		store = pg
	default:
		store = outcomestore.NewMemoryStore(logger)
	}

	if cfg.Store.CacheDSN == "" {
		return store, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Store.CacheDSN})
	return outcomestore.NewCachedStore(store, client, 30*time.Second, logger), nil
}

func buildEnricher(cfg *config.Config, logger *zap.Logger) (enrichment.Enricher, error) {
	switch cfg.Enricher.Backend {
	case "rest":
		return enrichment.NewREST(enrichment.RESTConfig{
			BaseURL: cfg.Enricher.Endpoint,
			Timeout: cfg.Enricher.Timeout,
		}, logger), nil
	default:
		return enrichment.Noop{}, nil
	}
}

func buildExecutor(cfg *config.Config, logger *zap.Logger) (executor.Executor, error) {
	execCfg := executor.Config{}
	switch cfg.Executor.Backend {
	case "kubernetes":
		restConfig, err := buildKubeConfig(cfg.Executor.Context)
		if err != nil {
			return nil, fmt.Errorf("building kube config: %w", err)
		}
		clientset, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return nil, fmt.Errorf("building kube clientset: %w", err)
		}
		return executor.NewKubernetes(clientset, cfg.Executor.Namespace, execCfg, logger), nil
	default:
		return executor.NewDryRun(execCfg, logger), nil
	}
}

func buildKubeConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	return rest.InClusterConfig()
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) notification.Notifier {
	_ = cfg
	_ = logger
	return notification.Noop{}
}

// runLearningLoop periodically runs the pattern analyzer and the
// threshold adapter, notifying on critical patterns and publishing the
// adapter's current version as a metric.
func runLearningLoop(ctx context.Context, analyzer *patterns.Analyzer, adapter *threshold.Adapter, m *metrics.Metrics, notifier notification.Notifier, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			detected, err := analyzer.Analyze(ctx, nil)
			if err != nil {
				if logger != nil {
					logger.Error("pattern analysis failed", zap.Error(err))
				}
				continue
			}
			for _, p := range detected {
				m.RecordPattern(string(p.PatternType), string(p.Severity))
				if p.Severity == types.PatternSeverityCritical {
					if err := notifier.Notify(ctx, p); err != nil && logger != nil {
						logger.Warn("pattern notification failed", zap.Error(err))
					}
				}
			}

			if proposal, err := adapter.AnalyzeAndPropose(ctx); err != nil {
				if logger != nil {
					logger.Error("threshold analysis failed", zap.Error(err))
				}
			} else if proposal != nil && logger != nil {
				logger.Info("threshold adjustment proposal created", zap.String("proposal_id", proposal.ProposalID))
			}
			m.SetThresholdVersion(adapter.CurrentState().Version)
		}
	}
}

// loggingAcknowledger is the default upstream-ack implementation: it logs
// acknowledgement rather than calling a real message broker, since the
// kill-event source is an out-of-scope collaborator.
type loggingAcknowledger struct {
	logger *zap.Logger
}

func (a *loggingAcknowledger) Acknowledge(ctx context.Context, killID string) error {
	if a.logger != nil {
		a.logger.Debug("kill event acknowledged", zap.String("kill_id", killID))
	}
	return nil
}

var validate = validator.New()

// ingestHandler accepts a KillEvent, validates it against the struct tags
// in pkg/types, and dispatches it synchronously.
func ingestHandler(disp *dispatcher.Dispatcher, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var event types.KillEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			writeJSONError(w, internalerrors.NewValidationError("malformed kill event body"))
			return
		}
		if err := validate.Struct(event); err != nil {
			writeJSONError(w, internalerrors.NewInvalidInputError(err))
			return
		}

		state, err := disp.Dispatch(r.Context(), event)
		if err != nil {
			writeJSONError(w, internalerrors.Wrap(err, internalerrors.ErrorTypeInternal, "dispatch failed"))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"kill_id": event.KillID, "state": string(state)})

		if logger != nil {
			logger.Info("kill event ingested", zap.String("kill_id", event.KillID), zap.String("state", string(state)))
		}
	}
}

func writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(internalerrors.GetStatusCode(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": internalerrors.SafeErrorMessage(err)})
}
