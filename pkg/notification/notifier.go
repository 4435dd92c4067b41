// Package notification alerts operators when the pattern analyzer detects
// a critical behavioral pattern, most importantly auto-approve accuracy
// degradation.
package notification

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// Notifier delivers a detected pattern to whatever channel operators
// watch. Implementations must not block the pattern analyzer's own
// loop for long; a failed delivery is logged by the caller, not retried
// here.
type Notifier interface {
	Notify(ctx context.Context, pattern types.DetectedPattern) error
}

// Noop discards every notification. Used when no channel is configured.
type Noop struct{}

// Notify implements Notifier by doing nothing.
func (Noop) Notify(ctx context.Context, pattern types.DetectedPattern) error { return nil }

// SlackAPI is the minimal Slack API surface notification needs.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts detected patterns to a single channel as a colored
// attachment, severity-coded.
type Slack struct {
	api     SlackAPI
	channel string
	minSeverity types.PatternSeverity
}

// NewSlack builds a Slack notifier posting to channel. Patterns below
// minSeverity are silently dropped; pass types.PatternSeverityInfo to
// receive everything.
func NewSlack(api SlackAPI, channel string, minSeverity types.PatternSeverity) *Slack {
	return &Slack{api: api, channel: channel, minSeverity: minSeverity}
}

// Notify posts the pattern to the configured Slack channel if its
// severity meets the configured floor.
func (s *Slack) Notify(ctx context.Context, pattern types.DetectedPattern) error {
	if severityRank(pattern.Severity) < severityRank(s.minSeverity) {
		return nil
	}

	attachment := slack.Attachment{
		Color:      severityColor(pattern.Severity),
		Title:      fmt.Sprintf("%s: %s", pattern.Severity, pattern.PatternType),
		Text:       pattern.Description,
		Footer:     "medic-agent pattern analyzer",
		Fields: []slack.AttachmentField{
			{Title: "Affected modules", Value: joinModules(pattern.AffectedModules), Short: false},
			{Title: "Confidence", Value: fmt.Sprintf("%.0f%%", pattern.Confidence*100), Short: true},
		},
	}

	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionAttachments(attachment))
	return err
}

func severityColor(sev types.PatternSeverity) string {
	switch sev {
	case types.PatternSeverityCritical:
		return "#d00000"
	case types.PatternSeverityWarning:
		return "#e0a800"
	default:
		return "#2e86de"
	}
}

func severityRank(sev types.PatternSeverity) int {
	switch sev {
	case types.PatternSeverityCritical:
		return 2
	case types.PatternSeverityWarning:
		return 1
	default:
		return 0
	}
}

func joinModules(modules []string) string {
	if len(modules) == 0 {
		return "n/a"
	}
	out := modules[0]
	for _, m := range modules[1:] {
		out += ", " + m
	}
	return out
}
