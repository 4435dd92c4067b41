package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// DryRun is the dry-run backend: it never touches a runtime, logs its
// intent, and synthesizes a successful result. Used whenever the
// configured executor backend is not "kubernetes".
type DryRun struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	active    map[string]struct{}
	blacklist map[string]struct{}
	results   map[string]ExecutionResult
}

// NewDryRun builds a DryRun executor.
func NewDryRun(cfg Config, logger *zap.Logger) *DryRun {
	blacklist := make(map[string]struct{}, len(cfg.Blacklist))
	for _, m := range cfg.Blacklist {
		blacklist[m] = struct{}{}
	}
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = MethodRestart
	}
	return &DryRun{
		cfg:       cfg,
		logger:    logger,
		active:    make(map[string]struct{}),
		blacklist: blacklist,
		results:   make(map[string]ExecutionResult),
	}
}

func (d *DryRun) Resurrect(ctx context.Context, event types.KillEvent, decision types.Decision) (ExecutionResult, error) {
	requestID := uuid.NewString()
	started := time.Now().UTC()

	d.mu.Lock()
	d.active[requestID] = struct{}{}
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("dry-run resurrection (observer mode, no action taken)",
			zap.String("request_id", requestID),
			zap.String("kill_id", event.KillID),
			zap.String("target_module", event.TargetModule),
			zap.String("decision", string(decision.Outcome)),
		)
	}

	completed := started.Add(1 * time.Millisecond)
	result := ExecutionResult{
		RequestID:         requestID,
		Success:           true,
		MethodUsed:        d.cfg.DefaultMethod,
		StartedAt:         started,
		CompletedAt:       completed,
		Duration:          completed.Sub(started),
		NewInstanceID:     fmt.Sprintf("%s-dryrun-%s", event.TargetModule, requestID[:8]),
		HealthCheckPassed: true,
	}

	d.mu.Lock()
	delete(d.active, requestID)
	d.results[requestID] = result
	d.mu.Unlock()

	return result, nil
}

func (d *DryRun) Rollback(ctx context.Context, requestID, reason string) error {
	if d.logger != nil {
		d.logger.Info("dry-run rollback (no action taken)", zap.String("request_id", requestID), zap.String("reason", reason))
	}
	return nil
}

func (d *DryRun) HealthCheck(ctx context.Context, instanceID string) (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.results {
		if r.NewInstanceID == instanceID {
			return r.HealthCheckPassed, true
		}
	}
	return false, false
}

func (d *DryRun) CanResurrect(module string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, blacklisted := d.blacklist[module]; blacklisted {
		return false
	}
	return true
}
