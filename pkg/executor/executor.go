// Package executor implements the resurrection-execution collaborator:
// resurrect(KillEvent, Decision), rollback, and health_check, against either
// a dry-run backend or a concrete Kubernetes backend.
package executor

import (
	"context"
	"time"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// Method identifies the mechanism used to bring a module back.
type Method string

const (
	MethodRestart         Method = "restart"
	MethodRestoreSnapshot Method = "snapshot"
	MethodRedeploy        Method = "redeploy"
	MethodScaleUp         Method = "scale_up"
	MethodFailover        Method = "failover"
)

// ExecutionResult is the outcome of a resurrect call.
type ExecutionResult struct {
	RequestID         string
	Success           bool
	MethodUsed        Method
	StartedAt         time.Time
	CompletedAt       time.Time
	Duration          time.Duration
	NewInstanceID     string
	HealthCheckPassed bool
	ErrorMessage      string
}

// Executor performs the mechanics of resurrecting a killed module.
type Executor interface {
	// Resurrect brings target back up. Lookup of the concrete instance to
	// act on falls back, in order: explicit target instance ID, a
	// label-match on the target module, then a name-substring match.
	Resurrect(ctx context.Context, event types.KillEvent, decision types.Decision) (ExecutionResult, error)

	// Rollback undoes a resurrection, identified by the request ID the
	// corresponding Resurrect call returned.
	Rollback(ctx context.Context, requestID, reason string) error

	// HealthCheck reports the last known health of a resurrected instance,
	// or (false, false) if nothing is known about it.
	HealthCheck(ctx context.Context, instanceID string) (healthy bool, known bool)

	// CanResurrect reports whether a module is currently eligible. DryRun
	// rejects blacklisted modules; Kubernetes accepts every module. Neither
	// backend checks for a resurrection already in progress.
	CanResurrect(module string) bool
}

// Config controls resurrection behavior shared by all backends.
type Config struct {
	DefaultMethod       Method
	MaxRetries          int
	HealthCheckTimeout  time.Duration
	StartupGracePeriod  time.Duration
	Blacklist           []string
}
