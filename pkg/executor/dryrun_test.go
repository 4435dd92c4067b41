package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

func TestDryRun_ResurrectAlwaysSucceeds(t *testing.T) {
	d := NewDryRun(Config{}, nil)
	ctx := context.Background()

	event := types.KillEvent{KillID: "k1", TargetModule: "cache-service"}
	decision := types.Decision{Outcome: types.OutcomeApproveAuto}

	result, err := d.Resurrect(ctx, event, decision)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.HealthCheckPassed)
	assert.NotEmpty(t, result.NewInstanceID)
	assert.Equal(t, MethodRestart, result.MethodUsed)
}

func TestDryRun_HealthCheckKnownAfterResurrect(t *testing.T) {
	d := NewDryRun(Config{}, nil)
	ctx := context.Background()

	result, err := d.Resurrect(ctx, types.KillEvent{TargetModule: "m"}, types.Decision{})
	require.NoError(t, err)

	healthy, known := d.HealthCheck(ctx, result.NewInstanceID)
	assert.True(t, known)
	assert.True(t, healthy)

	_, known = d.HealthCheck(ctx, "does-not-exist")
	assert.False(t, known)
}

func TestDryRun_CanResurrectRespectsBlacklist(t *testing.T) {
	d := NewDryRun(Config{Blacklist: []string{"locked-service"}}, nil)
	assert.False(t, d.CanResurrect("locked-service"))
	assert.True(t, d.CanResurrect("cache-service"))
}

func TestDryRun_RollbackIsANoopSuccess(t *testing.T) {
	d := NewDryRun(Config{}, nil)
	err := d.Rollback(context.Background(), "anything", "test")
	assert.NoError(t, err)
}
