package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/prosemill/orchestrator/internal/activities"
	"github.com/prosemill/orchestrator/internal/models"
)

// postCommitReserve is the slice of the run budget held back for COMMIT #2,
// the knowledge-graph sync and the terminal audit write. Media generation
// only starts when at least this much budget would remain after it.
const postCommitReserve = 30 * time.Second

// PipelineWorkflow runs the full research-to-publication pipeline for one
// normalized entity: fan-out research, confidence scoring with at most one
// rework pass, extraction, the durable entity commit, best-effort media
// decoration and the knowledge-graph sync.
//
// Pipeline-level failures come back as a result with Status failed and nil
// error, so callers always receive the structured contract. A non-nil error
// only means the workflow infrastructure itself broke.
func PipelineWorkflow(ctx workflow.Context, input PipelineInput) (PipelineResult, error) {
	logger := workflow.GetLogger(ctx)
	startedAt := workflow.Now(ctx)

	if input.NaturalKey == "" {
		return PipelineResult{Status: models.StatusFailed, Signals: []string{"empty natural key"}}, nil
	}
	if input.RunID == "" {
		input.RunID = workflow.GetInfo(ctx).WorkflowExecution.RunID
	}

	// Short internal activities: config snapshot, persistence checks, audit.
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	var cfg activities.PipelineConfigResult
	if err := workflow.ExecuteActivity(ctx, "GetPipelineConfig").Get(ctx, &cfg); err != nil {
		logger.Error("Failed to load pipeline config", "error", err)
		return PipelineResult{Status: models.StatusFailed, Signals: []string{"configuration unavailable"}}, nil
	}

	// The run's overall budget is enforced inside the workflow so a deadline
	// overrun yields a structured result instead of a hard kill. The Temporal
	// execution timeout is set above this budget as a backstop only.
	overall := cfg.OverallTimeout
	if overall <= 0 {
		overall = 15 * time.Minute
	}
	deadline := startedAt.Add(overall)

	rec := &phaseRecorder{ctx: ctx, runID: input.RunID, naturalKey: input.NaturalKey}
	_ = workflow.ExecuteActivity(ctx, "RecordRunStart", activities.RecordRunStartInput{
		RunID:      input.RunID,
		NaturalKey: input.NaturalKey,
	}).Get(ctx, nil)
	rec.record(models.PhaseNormalized)

	// An entity already persisted under this key ends the run immediately
	// unless the caller asked for a refresh.
	if !input.ForceRefresh {
		var check activities.CheckEntityResult
		if err := workflow.ExecuteActivity(ctx, "CheckEntity",
			activities.CheckEntityInput{NaturalKey: input.NaturalKey}).Get(ctx, &check); err != nil {
			logger.Warn("Entity existence check failed, proceeding with full run", "error", err)
		} else if check.Exists {
			res := PipelineResult{
				Status:       models.StatusExists,
				EntityID:     check.EntityID,
				Completeness: check.Completeness,
				MediaCount:   check.MediaCount,
			}
			rec.record(models.PhaseDone)
			finishRun(ctx, input, res, models.PhaseDone, rec.seq, startedAt)
			return res, nil
		}
	}

	// Phase: research fan-out. Every configured provider runs in parallel
	// with the same query; per-provider exhaustion degrades that entry only.
	rec.record(models.PhaseResearched)
	query := baseQuery(input.Input, input.NaturalKey)
	bundle := runResearchPass(ctx, cfg, input.NaturalKey, query, 1, cfg.ResearchTimeout, deadline)
	totalCost := bundle.TotalCost()

	if len(bundle.Successful()) == 0 {
		res := PipelineResult{
			Status:       models.StatusFailed,
			TotalCostUSD: totalCost,
			Signals:      []string{"all research providers failed"},
		}
		rec.record(models.PhaseFailed)
		finishRun(ctx, input, res, models.PhaseFailed, rec.seq, startedAt)
		return res, nil
	}

	// Phase: confidence scoring.
	rec.record(models.PhaseScored)
	assessment, err := scorePass(ctx, cfg, input, bundle, false)
	if err != nil {
		res := PipelineResult{
			Status:       models.StatusFailed,
			TotalCostUSD: totalCost,
			Signals:      []string{"confidence scoring unavailable"},
		}
		rec.record(models.PhaseFailed)
		finishRun(ctx, input, res, models.PhaseFailed, rec.seq, startedAt)
		return res, nil
	}

	// At most one rework pass. The merged bundle is a superset of the first,
	// so the re-scored confidence can only rise.
	reworkUsed := false
	if assessment.ReworkTriggered {
		reworkUsed = true
		rec.record(models.PhaseReworked)
		logger.Info("Confidence below threshold, running rework pass",
			"score", assessment.Score, "weak_signals", assessment.Signals)

		rework := runResearchPass(ctx, cfg, input.NaturalKey,
			refinedQuery(query, assessment.Signals, input.Hints), 2, cfg.ReworkTimeout, deadline)
		totalCost += rework.TotalCost()
		bundle = bundle.Merge(rework)

		assessment, err = scorePass(ctx, cfg, input, bundle, true)
		if err != nil {
			res := PipelineResult{
				Status:       models.StatusFailed,
				TotalCostUSD: totalCost,
				Signals:      []string{"confidence scoring unavailable"},
			}
			rec.record(models.PhaseFailed)
			finishRun(ctx, input, res, models.PhaseFailed, rec.seq, startedAt)
			return res, nil
		}
	}
	lowConfidence := assessment.Score < cfg.Threshold

	// Phase: extraction. Failure here is unrecoverable: there is nothing to
	// persist without a payload. Before COMMIT #1 a spent budget fails the
	// run cleanly; nothing partial has been persisted yet.
	remaining := deadline.Sub(workflow.Now(ctx))
	if remaining <= 0 {
		res := PipelineResult{
			Status:       models.StatusFailed,
			Confidence:   assessment.Score,
			ReworkUsed:   reworkUsed,
			TotalCostUSD: totalCost,
			Signals:      []string{"run deadline exceeded before extraction"},
		}
		rec.record(models.PhaseFailed)
		finishRun(ctx, input, res, models.PhaseFailed, rec.seq, startedAt)
		return res, nil
	}
	rec.record(models.PhaseExtracted)
	extractCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout:    cfg.ResearchTimeout,
		ScheduleToCloseTimeout: remaining,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        int32(cfg.ProviderAttempts),
			NonRetryableErrorTypes: []string{activities.ErrTypeProviderPermanent},
		},
	})
	var ext activities.ExtractProfileResult
	if err := workflow.ExecuteActivity(extractCtx, "ExtractProfile", activities.ExtractProfileInput{
		NaturalKey:      input.NaturalKey,
		Bundle:          bundle,
		MaxContextChars: cfg.MaxContextChars,
	}).Get(ctx, &ext); err != nil {
		res := PipelineResult{
			Status:       models.StatusFailed,
			Confidence:   assessment.Score,
			ReworkUsed:   reworkUsed,
			TotalCostUSD: totalCost,
			Signals:      []string{"profile extraction failed"},
		}
		rec.record(models.PhaseFailed)
		finishRun(ctx, input, res, models.PhaseFailed, rec.seq, startedAt)
		return res, nil
	}
	totalCost += ext.CostUSD

	provisional := models.StatusCreated
	if lowConfidence {
		provisional = models.StatusDegraded
	}

	// Phase: COMMIT #1. The payload becomes durable before any media work.
	rec.record(models.PhasePersisted)
	var up activities.UpsertEntityResult
	if err := workflow.ExecuteActivity(ctx, "UpsertEntity", activities.UpsertEntityInput{
		RunID:      input.RunID,
		NaturalKey: input.NaturalKey,
		Payload:    ext.Payload,
		Status:     provisional,
	}).Get(ctx, &up); err != nil {
		res := PipelineResult{
			Status:       models.StatusFailed,
			Confidence:   assessment.Score,
			Completeness: ext.Completeness,
			ReworkUsed:   reworkUsed,
			TotalCostUSD: totalCost,
			Signals:      []string{"entity persistence failed"},
		}
		rec.record(models.PhaseFailed)
		finishRun(ctx, input, res, models.PhaseFailed, rec.seq, startedAt)
		return res, nil
	}

	status := models.StatusUpdated
	if up.Created {
		status = models.StatusCreated
	}
	var notes []string
	if lowConfidence {
		status = models.StatusDegraded
		notes = append(notes, assessment.Signals...)
	}

	// Phase: best-effort media decoration. Nothing past COMMIT #1 can fail
	// the run; media trouble degrades it at worst. The phase is bounded by
	// what remains of the run budget, minus a reserve for COMMIT #2, the
	// graph sync and the terminal audit, so the structured result always
	// lands before the execution-timeout backstop.
	rec.record(models.PhaseDecorated)
	prompts := mediaPrompts(ext.Payload, input.NaturalKey, cfg.MaxMediaAssets)
	var mediaURLs []string
	if len(prompts) > 0 {
		mediaBudget := deadline.Sub(workflow.Now(ctx)) - postCommitReserve
		if mediaBudget <= 0 {
			logger.Warn("Run budget spent, skipping media generation",
				"natural_key", input.NaturalKey)
			status = models.StatusDegraded
			notes = append(notes, "run deadline reached, media skipped")
		} else {
			mediaTimeout := cfg.MediaJobDeadline*time.Duration(len(prompts)) + time.Minute
			if mediaTimeout > mediaBudget {
				mediaTimeout = mediaBudget
			}
			mediaCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
				StartToCloseTimeout:    mediaTimeout,
				ScheduleToCloseTimeout: mediaBudget,
				HeartbeatTimeout:       heartbeatTimeout(cfg.MediaPollEvery),
				RetryPolicy:            &temporal.RetryPolicy{MaximumAttempts: 1},
			})
			var media activities.GenerateMediaResult
			if err := workflow.ExecuteActivity(mediaCtx, "GenerateMedia", activities.GenerateMediaInput{
				NaturalKey:   input.NaturalKey,
				Prompts:      prompts,
				PollInterval: cfg.MediaPollEvery,
				JobDeadline:  cfg.MediaJobDeadline,
			}).Get(ctx, &media); err != nil {
				logger.Warn("Media generation unavailable", "error", err)
				notes = append(notes, "media generation unavailable")
			} else {
				totalCost += media.CostUSD
				for _, asset := range media.Assets {
					if asset.Status == models.MediaGenerated && asset.URL != "" {
						mediaURLs = append(mediaURLs, asset.URL)
					}
				}
			}
			if len(mediaURLs) == 0 {
				status = models.StatusDegraded
				notes = append(notes, "no media assets generated")
			}
		}
	}

	// COMMIT #2: attach whatever media succeeded plus the final status.
	if err := workflow.ExecuteActivity(ctx, "PatchEntityMedia", activities.PatchEntityMediaInput{
		NaturalKey: input.NaturalKey,
		MediaURLs:  mediaURLs,
		Status:     status,
	}).Get(ctx, nil); err != nil {
		logger.Warn("Media patch failed, entity remains persisted without media", "error", err)
		status = models.StatusDegraded
		notes = append(notes, "media patch failed")
		mediaURLs = nil
	}

	// Phase: knowledge-graph sync. Failure only leaves a note.
	rec.record(models.PhaseIndexed)
	if err := workflow.ExecuteActivity(ctx, "PublishGraphSummary", activities.PublishGraphSummaryInput{
		NaturalKey: input.NaturalKey,
		Summary:    buildSummary(ext.Payload, input.NaturalKey, cfg.SummaryMaxChars),
	}).Get(ctx, nil); err != nil {
		logger.Warn("Knowledge-graph sync failed", "error", err)
		notes = append(notes, "knowledge-graph sync failed")
	}

	rec.record(models.PhaseDone)
	res := PipelineResult{
		Status:       status,
		EntityID:     up.EntityID,
		Created:      up.Created,
		Completeness: ext.Completeness,
		Confidence:   assessment.Score,
		ReworkUsed:   reworkUsed,
		MediaCount:   len(mediaURLs),
		TotalCostUSD: totalCost,
		Signals:      notes,
	}
	finishRun(ctx, input, res, models.PhaseDone, rec.seq, startedAt)
	logger.Info("Pipeline run finished",
		"natural_key", input.NaturalKey,
		"status", string(res.Status),
		"confidence", res.Confidence,
		"completeness", res.Completeness,
		"cost_usd", res.TotalCostUSD,
	)
	return res, nil
}

// phaseRecorder writes the audit row for each phase transition with a
// monotonically increasing sequence number. Audit failures never affect the
// run.
type phaseRecorder struct {
	ctx        workflow.Context
	runID      string
	naturalKey string
	seq        int
}

func (r *phaseRecorder) record(p models.Phase) {
	r.seq++
	_ = workflow.ExecuteActivity(r.ctx, "RecordPhase", activities.RecordPhaseInput{
		RunID:      r.runID,
		NaturalKey: r.naturalKey,
		Phase:      p,
		Seq:        r.seq,
	}).Get(r.ctx, nil)
}

// runResearchPass fans out one query to every configured provider in
// parallel, joins the futures, and folds crawled page content in as one more
// bundle entry. Exhausted provider errors become failure entries, classified
// by whether the final error was marked permanent. Retries across attempts
// are capped by the run deadline so a slow pass cannot consume the budget of
// the phases behind it.
func runResearchPass(ctx workflow.Context, cfg activities.PipelineConfigResult, naturalKey, query string, pass int, timeout time.Duration, deadline time.Time) models.ResearchBundle {
	remaining := deadline.Sub(workflow.Now(ctx))
	if remaining <= 0 {
		return models.ResearchBundle{Pass: pass}
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	if timeout > remaining {
		timeout = remaining
	}
	attempts := cfg.ProviderAttempts
	if attempts < 1 {
		attempts = 1
	}
	pctx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout:    timeout,
		ScheduleToCloseTimeout: remaining,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        int32(attempts),
			NonRetryableErrorTypes: []string{activities.ErrTypeProviderPermanent},
		},
	})

	type pending struct {
		provider string
		future   workflow.Future
	}
	futures := make([]pending, 0, len(cfg.Providers))
	for _, provider := range cfg.Providers {
		futures = append(futures, pending{
			provider: provider,
			future: workflow.ExecuteActivity(pctx, "SearchProvider", activities.SearchProviderInput{
				Provider: provider,
				Query:    query,
			}),
		})
	}

	bundle := models.ResearchBundle{Pass: pass}
	for _, f := range futures {
		var out activities.SearchProviderResult
		if err := f.future.Get(ctx, &out); err != nil {
			class := models.FailureTransient
			if isPermanentProviderError(err) {
				class = models.FailurePermanent
			}
			bundle.Results = append(bundle.Results, models.ProviderResult{
				Provider: f.provider,
				Query:    query,
				Failure:  class,
				Error:    err.Error(),
			})
			continue
		}
		bundle.Results = append(bundle.Results, out.Result)
	}

	urls := collectURLs(bundle.Successful(), cfg.CrawlMaxURLs)
	if len(urls) > 0 {
		var crawl activities.CrawlPagesResult
		if err := workflow.ExecuteActivity(pctx, "CrawlPages", activities.CrawlPagesInput{
			NaturalKey: naturalKey,
			URLs:       urls,
		}).Get(ctx, &crawl); err != nil {
			class := models.FailureTransient
			if isPermanentProviderError(err) {
				class = models.FailurePermanent
			}
			bundle.Results = append(bundle.Results, models.ProviderResult{
				Provider: "crawler",
				Failure:  class,
				Error:    err.Error(),
			})
		} else {
			bundle.Results = append(bundle.Results, crawl.Result)
		}
	}
	return bundle
}

func scorePass(ctx workflow.Context, cfg activities.PipelineConfigResult, input PipelineInput, bundle models.ResearchBundle, alreadyReworked bool) (models.ConfidenceAssessment, error) {
	var out activities.ScoreConfidenceResult
	err := workflow.ExecuteActivity(ctx, "ScoreConfidence", activities.ScoreConfidenceInput{
		NaturalKey:      input.NaturalKey,
		Bundle:          bundle,
		Hints:           input.Hints,
		Weights:         cfg.Weights,
		Threshold:       cfg.Threshold,
		DefaultKeywords: cfg.DefaultKeywords,
		AlreadyReworked: alreadyReworked,
	}).Get(ctx, &out)
	return out.Assessment, err
}

func finishRun(ctx workflow.Context, input PipelineInput, res PipelineResult, phase models.Phase, seq int, startedAt time.Time) {
	_ = workflow.ExecuteActivity(ctx, "RecordRunResult", activities.RecordRunResultInput{
		RunID:        input.RunID,
		NaturalKey:   input.NaturalKey,
		Phase:        phase,
		Seq:          seq,
		Status:       res.Status,
		Confidence:   res.Confidence,
		Completeness: res.Completeness,
		CostUSD:      res.TotalCostUSD,
		MediaCount:   res.MediaCount,
		Signals:      res.Signals,
		DurationMs:   workflow.Now(ctx).Sub(startedAt).Milliseconds(),
	}).Get(ctx, nil)
}

func heartbeatTimeout(pollInterval time.Duration) time.Duration {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	hb := pollInterval * 6
	if hb < time.Minute {
		hb = time.Minute
	}
	return hb
}
