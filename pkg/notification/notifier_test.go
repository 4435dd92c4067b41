package notification

import (
	"context"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

type fakeSlackAPI struct {
	posts []postCall
	err   error
}

type postCall struct {
	channel string
	opts    []slack.MsgOption
}

func (f *fakeSlackAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.posts = append(f.posts, postCall{channel: channelID, opts: options})
	return channelID, "1234.5678", nil
}

func criticalPattern() types.DetectedPattern {
	return types.DetectedPattern{
		PatternID:       "p1",
		PatternType:     types.PatternAutoApproveDegraded,
		Severity:        types.PatternSeverityCritical,
		Description:     "auto-approve accuracy has fallen below target",
		Confidence:      0.8,
		AffectedModules: []string{"cache-service"},
	}
}

func TestNoop_NeverErrors(t *testing.T) {
	n := Noop{}
	err := n.Notify(context.Background(), criticalPattern())
	require.NoError(t, err)
}

func TestSlack_PostsCriticalPattern(t *testing.T) {
	api := &fakeSlackAPI{}
	n := NewSlack(api, "#medic-alerts", types.PatternSeverityWarning)

	err := n.Notify(context.Background(), criticalPattern())
	require.NoError(t, err)
	require.Len(t, api.posts, 1)
	assert.Equal(t, "#medic-alerts", api.posts[0].channel)
}

func TestSlack_DropsBelowMinSeverity(t *testing.T) {
	api := &fakeSlackAPI{}
	n := NewSlack(api, "#medic-alerts", types.PatternSeverityCritical)

	pattern := criticalPattern()
	pattern.Severity = types.PatternSeverityWarning

	err := n.Notify(context.Background(), pattern)
	require.NoError(t, err)
	assert.Empty(t, api.posts)
}

func TestSlack_PropagatesAPIError(t *testing.T) {
	api := &fakeSlackAPI{err: assertSlackErr}
	n := NewSlack(api, "#medic-alerts", types.PatternSeverityInfo)

	err := n.Notify(context.Background(), criticalPattern())
	assert.ErrorIs(t, err, assertSlackErr)
}

var assertSlackErr = &slackErr{"slack unavailable"}

type slackErr struct{ s string }

func (e *slackErr) Error() string { return e.s }
