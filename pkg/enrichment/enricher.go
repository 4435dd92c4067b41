// Package enrichment implements the Enricher collaborator contract: a
// single enrich(KillEvent) operation that must never propagate an error to
// its caller. Timeouts and upstream failures are swallowed into the
// "unknown" default EnrichmentResult. The dispatcher additionally bounds
// each call with its own enrichment timeout and falls back to the same
// default.
package enrichment

import (
	"context"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// Enricher supplies threat-intel context for a KillEvent.
type Enricher interface {
	Enrich(ctx context.Context, event types.KillEvent) types.EnrichmentResult
}

// Noop is the degenerate implementation that always returns the "unknown"
// default, selectable by configuration for environments with no SIEM.
type Noop struct{}

func (Noop) Enrich(context.Context, types.KillEvent) types.EnrichmentResult {
	return types.DefaultEnrichmentResult()
}
