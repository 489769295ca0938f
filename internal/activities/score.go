package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/prosemill/orchestrator/internal/metrics"
	"github.com/prosemill/orchestrator/internal/models"
	"github.com/prosemill/orchestrator/internal/scoring"
)

// ScoreConfidence reduces the research bundle to a confidence assessment.
// Prior knowledge-graph summaries feed the cross-reference bonus; a missing
// or failing graph store just means no bonus.
func (a *Activities) ScoreConfidence(ctx context.Context, in ScoreConfidenceInput) (ScoreConfidenceResult, error) {
	logger := activity.GetLogger(ctx)

	var priors []models.GraphSummary
	if a.graph != nil {
		neighbors, err := a.graph.Neighbors(ctx, in.NaturalKey)
		if err != nil {
			logger.Warn("Graph neighbor lookup failed, scoring without priors", "error", err)
		} else {
			for _, n := range neighbors {
				priors = append(priors, models.GraphSummary{NaturalKey: n.NaturalKey, Summary: n.Summary})
			}
		}
	}

	keywords := in.Hints
	if len(keywords) == 0 {
		keywords = in.DefaultKeywords
	}

	assessment := scoring.Score(in.Bundle, scoring.Params{
		Weights:         in.Weights,
		Threshold:       in.Threshold,
		Keywords:        keywords,
		Priors:          priors,
		AlreadyReworked: in.AlreadyReworked,
	})

	if assessment.ReworkTriggered {
		metrics.ReworkPasses.Inc()
	}
	logger.Info("Scored research bundle",
		"natural_key", in.NaturalKey,
		"score", assessment.Score,
		"rework", assessment.ReworkTriggered,
		"weak_signals", len(assessment.Signals),
		"priors", len(priors),
	)
	return ScoreConfidenceResult{Assessment: assessment}, nil
}
