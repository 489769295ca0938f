package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"

	"github.com/prosemill/orchestrator/internal/db"
	"github.com/prosemill/orchestrator/internal/metrics"
)

// CheckEntity reports whether a persisted entity already exists for the
// natural key. Used for the run-start short-circuit and as the guard before
// re-attempting COMMIT #1 after a crash.
func (a *Activities) CheckEntity(ctx context.Context, in CheckEntityInput) (CheckEntityResult, error) {
	if a.dbClient == nil {
		return CheckEntityResult{}, fmt.Errorf("no database client configured")
	}
	rec, err := a.dbClient.GetEntity(ctx, in.NaturalKey)
	if err != nil {
		return CheckEntityResult{}, fmt.Errorf("check entity: %w", err)
	}
	if rec == nil {
		return CheckEntityResult{}, nil
	}
	return CheckEntityResult{
		Exists:       true,
		EntityID:     rec.ID,
		Completeness: rec.Completeness,
		MediaCount:   rec.MediaCount,
		Status:       rec.Status,
	}, nil
}

// UpsertEntity is COMMIT #1: the payload becomes durable here, before any
// media work starts. Failure of this activity is one of the two unrecoverable
// cases that fail the whole run.
func (a *Activities) UpsertEntity(ctx context.Context, in UpsertEntityInput) (UpsertEntityResult, error) {
	logger := activity.GetLogger(ctx)
	if a.dbClient == nil {
		return UpsertEntityResult{}, fmt.Errorf("no database client configured")
	}

	payloadJSON, err := json.Marshal(in.Payload)
	if err != nil {
		return UpsertEntityResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	rec := &db.EntityRecord{
		ID:           uuid.New().String(),
		NaturalKey:   in.NaturalKey,
		DisplayName:  in.Payload.DisplayName(in.NaturalKey),
		Payload:      payloadJSON,
		Completeness: in.Payload.CompletenessScore,
		Status:       string(in.Status),
	}
	rec.LastRunID.String = in.RunID
	rec.LastRunID.Valid = in.RunID != ""

	id, created, err := a.dbClient.UpsertEntity(ctx, rec)
	if err != nil {
		return UpsertEntityResult{}, fmt.Errorf("upsert entity: %w", err)
	}

	logger.Info("Entity committed",
		"natural_key", in.NaturalKey,
		"entity_id", id,
		"created", created,
		"completeness", in.Payload.CompletenessScore,
	)
	return UpsertEntityResult{EntityID: id, Created: created}, nil
}

// PatchEntityMedia is COMMIT #2: attaches whatever media succeeded plus the
// final status. The entity is already durable; a failing patch degrades the
// run, it never unwinds COMMIT #1.
func (a *Activities) PatchEntityMedia(ctx context.Context, in PatchEntityMediaInput) (PatchEntityMediaResult, error) {
	if a.dbClient == nil {
		return PatchEntityMediaResult{}, fmt.Errorf("no database client configured")
	}

	var mediaJSON []byte
	if len(in.MediaURLs) > 0 {
		var err error
		mediaJSON, err = json.Marshal(in.MediaURLs)
		if err != nil {
			return PatchEntityMediaResult{}, fmt.Errorf("marshal media urls: %w", err)
		}
	}
	if err := a.dbClient.PatchEntityMedia(ctx, in.NaturalKey, mediaJSON, len(in.MediaURLs), string(in.Status)); err != nil {
		return PatchEntityMediaResult{}, err
	}
	return PatchEntityMediaResult{MediaCount: len(in.MediaURLs)}, nil
}

// RecordPhase writes the phase-transition audit row through the async queue.
// Audit loss is logged, never fatal.
func (a *Activities) RecordPhase(ctx context.Context, in RecordPhaseInput) error {
	metrics.PhaseTransitions.WithLabelValues(in.Phase.String()).Inc()
	if a.dbClient == nil {
		return nil
	}
	err := a.dbClient.QueueWrite(db.WriteTypePhase, &db.PhaseRecord{
		RunID:      in.RunID,
		NaturalKey: in.NaturalKey,
		Phase:      in.Phase.String(),
		Seq:        in.Seq,
	}, nil)
	if err != nil {
		activity.GetLogger(ctx).Warn("Failed to queue phase record",
			"run_id", in.RunID, "phase", in.Phase.String(), "error", err)
	}
	return nil
}

// RecordRunStart opens the run audit row.
func (a *Activities) RecordRunStart(ctx context.Context, in RecordRunStartInput) error {
	if a.dbClient == nil {
		return nil
	}
	err := a.dbClient.QueueWrite(db.WriteTypeRunStart, &db.RunRecord{
		ID:         in.RunID,
		NaturalKey: in.NaturalKey,
		Phase:      "NORMALIZED",
		Status:     "running",
		StartedAt:  time.Now().UTC(),
	}, nil)
	if err != nil {
		activity.GetLogger(ctx).Warn("Failed to queue run start", "run_id", in.RunID, "error", err)
	}
	return nil
}

// RecordRunResult closes the run audit row and emits the terminal metrics.
func (a *Activities) RecordRunResult(ctx context.Context, in RecordRunResultInput) error {
	metrics.RunsCompleted.WithLabelValues(string(in.Status)).Inc()
	metrics.RunCostUSD.Observe(in.CostUSD)
	metrics.ConfidenceScore.Observe(in.Confidence)
	if in.DurationMs > 0 {
		metrics.RunDuration.Observe(float64(in.DurationMs) / 1000)
	}

	if a.dbClient == nil {
		return nil
	}
	signalsJSON, _ := json.Marshal(in.Signals)
	err := a.dbClient.QueueWrite(db.WriteTypeRunResult, &db.RunRecord{
		ID:           in.RunID,
		NaturalKey:   in.NaturalKey,
		Phase:        in.Phase.String(),
		Seq:          in.Seq,
		Status:       string(in.Status),
		Confidence:   in.Confidence,
		Completeness: in.Completeness,
		CostUSD:      in.CostUSD,
		MediaCount:   in.MediaCount,
		Signals:      signalsJSON,
	}, nil)
	if err != nil {
		activity.GetLogger(ctx).Warn("Failed to queue run result", "run_id", in.RunID, "error", err)
	}
	return nil
}
