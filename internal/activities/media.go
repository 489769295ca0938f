package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/prosemill/orchestrator/internal/metrics"
	"github.com/prosemill/orchestrator/internal/models"
	"github.com/prosemill/orchestrator/internal/providers"
)

// GenerateMedia runs the best-effort decoration phase: submit each prompt as
// a long-running synthesis job and poll it to completion within the per-job
// deadline. Heartbeats keep a slow-but-alive job from being killed as a hang.
// Individual failures are recorded as failed assets; the activity itself only
// errors on context cancellation so the workflow can degrade, not abort.
func (a *Activities) GenerateMedia(ctx context.Context, in GenerateMediaInput) (GenerateMediaResult, error) {
	logger := activity.GetLogger(ctx)

	out := GenerateMediaResult{}
	if a.media == nil || len(in.Prompts) == 0 {
		for _, prompt := range in.Prompts {
			out.Assets = append(out.Assets, models.MediaAsset{
				Kind:   mediaKind(len(out.Assets)),
				Prompt: prompt,
				Status: models.MediaSkipped,
			})
		}
		return out, nil
	}

	pollInterval := in.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	jobDeadline := in.JobDeadline
	if jobDeadline <= 0 {
		jobDeadline = 3 * time.Minute
	}

	for i, prompt := range in.Prompts {
		if ctx.Err() != nil {
			// Run deadline hit: remaining prompts are skipped, not failed.
			out.Assets = append(out.Assets, models.MediaAsset{
				Kind: mediaKind(i), Prompt: prompt, Status: models.MediaSkipped,
			})
			continue
		}
		asset := a.generateOne(ctx, in.NaturalKey, mediaKind(i), prompt, pollInterval, jobDeadline)
		metrics.MediaAssets.WithLabelValues(string(asset.Status)).Inc()
		out.Assets = append(out.Assets, asset)
		out.CostUSD += asset.CostUSD
	}

	generated := 0
	for _, asset := range out.Assets {
		if asset.Status == models.MediaGenerated {
			generated++
		}
	}
	logger.Info("Media generation finished",
		"natural_key", in.NaturalKey,
		"generated", generated,
		"attempted", len(out.Assets),
		"cost_usd", out.CostUSD,
	)
	return out, nil
}

func (a *Activities) generateOne(ctx context.Context, naturalKey, kind, prompt string, pollInterval, jobDeadline time.Duration) models.MediaAsset {
	logger := activity.GetLogger(ctx)
	asset := models.MediaAsset{Kind: kind, Prompt: prompt, Status: models.MediaFailed}

	jobCtx, cancel := context.WithTimeout(ctx, jobDeadline)
	defer cancel()

	handle, err := a.media.Submit(jobCtx, prompt)
	if err != nil {
		asset.Error = err.Error()
		logger.Warn("Media submit failed", "natural_key", naturalKey, "kind", kind, "error", err)
		return asset
	}
	activity.RecordHeartbeat(ctx, handle)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-jobCtx.Done():
			asset.Error = "media job deadline exceeded"
			logger.Warn("Media job timed out", "natural_key", naturalKey, "handle", handle)
			return asset
		case <-ticker.C:
			poll, err := a.media.Poll(jobCtx, handle)
			if err != nil {
				if providers.ClassOf(err) == providers.Permanent {
					asset.Error = err.Error()
					return asset
				}
				// Transient poll failure: heartbeat and keep polling until
				// the job deadline decides.
				activity.RecordHeartbeat(ctx, handle)
				continue
			}
			asset.CostUSD += poll.CostUSD
			activity.RecordHeartbeat(ctx, handle, poll.Status)
			switch poll.Status {
			case providers.MediaJobDone:
				asset.Status = models.MediaGenerated
				asset.URL = poll.AssetURL
				asset.Error = ""
				return asset
			case providers.MediaJobFailed:
				asset.Error = "media job reported failure"
				return asset
			}
		}
	}
}

func mediaKind(index int) string {
	if index == 0 {
		return "primary_image"
	}
	return "supporting_image"
}
