// Package workflows implements the durable research-to-publication pipeline
// on Temporal. One workflow execution is one run; all side effects live in
// activities so the workflow body stays deterministic and replayable.
package workflows

import (
	"github.com/prosemill/orchestrator/internal/models"
)

// PipelineInput starts one pipeline run for a raw entity reference.
type PipelineInput struct {
	// Input is the raw entity reference as submitted (name or URL).
	Input string `json:"input"`
	// NaturalKey is the normalized identity; the service derives it before
	// starting the workflow and uses it as the workflow ID suffix.
	NaturalKey string `json:"natural_key"`
	// Hints are optional caller-supplied category keywords that take
	// precedence over the configured defaults for scoring and refinement.
	Hints []string `json:"hints,omitempty"`
	// ForceRefresh skips the existing-entity short-circuit and re-runs the
	// full pipeline even when the entity is already persisted.
	ForceRefresh bool `json:"force_refresh,omitempty"`
	// RunID identifies this run in the audit trail.
	RunID string `json:"run_id"`
}

// PipelineResult is the structured outcome every caller receives. The
// workflow never returns a bare error for pipeline-level failures; a failed
// run is a result with Status failed and the explaining signals.
type PipelineResult struct {
	Status       models.RunStatus `json:"status"`
	EntityID     string           `json:"entity_id,omitempty"`
	Created      bool             `json:"created,omitempty"`
	Completeness float64          `json:"completeness,omitempty"`
	Confidence   float64          `json:"confidence,omitempty"`
	ReworkUsed   bool             `json:"rework_used,omitempty"`
	MediaCount   int              `json:"media_count,omitempty"`
	TotalCostUSD float64          `json:"total_cost_usd"`
	// Signals carries the ambiguity or degradation notes a caller can act on.
	Signals []string `json:"signals,omitempty"`
}
