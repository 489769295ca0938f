package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/prosemill/orchestrator/internal/metrics"
)

// PublishGraphSummary publishes the bounded entity summary for cross-entity
// lookup by later runs. Best-effort by contract: the workflow tolerates this
// activity failing and only appends a degradation note.
func (a *Activities) PublishGraphSummary(ctx context.Context, in PublishGraphSummaryInput) error {
	logger := activity.GetLogger(ctx)

	if a.graph == nil {
		metrics.GraphPublishes.WithLabelValues("skipped").Inc()
		return nil
	}
	if err := a.graph.Publish(ctx, in.NaturalKey, in.Summary); err != nil {
		metrics.GraphPublishes.WithLabelValues("error").Inc()
		return fmt.Errorf("publish graph summary: %w", err)
	}
	metrics.GraphPublishes.WithLabelValues("success").Inc()

	if a.dbClient != nil {
		if err := a.dbClient.MarkEntityIndexed(ctx, in.NaturalKey); err != nil {
			// The summary is out; the marker is cosmetic.
			logger.Warn("Failed to mark entity indexed", "natural_key", in.NaturalKey, "error", err)
		}
	}
	return nil
}
