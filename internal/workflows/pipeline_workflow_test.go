package workflows

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/prosemill/orchestrator/internal/activities"
	"github.com/prosemill/orchestrator/internal/config"
	"github.com/prosemill/orchestrator/internal/models"
	"github.com/prosemill/orchestrator/internal/profile"
)

// harness registers stub activities for the pipeline workflow and records the
// order they run in. Individual tests override the fields they care about.
type harness struct {
	mu    sync.Mutex
	calls []string

	cfg        activities.PipelineConfigResult
	check      func(activities.CheckEntityInput) (activities.CheckEntityResult, error)
	search     func(activities.SearchProviderInput) (activities.SearchProviderResult, error)
	crawl      func(activities.CrawlPagesInput) (activities.CrawlPagesResult, error)
	score      func(activities.ScoreConfidenceInput) (activities.ScoreConfidenceResult, error)
	extract    func(activities.ExtractProfileInput) (activities.ExtractProfileResult, error)
	upsert     func(activities.UpsertEntityInput) (activities.UpsertEntityResult, error)
	media      func(activities.GenerateMediaInput) (activities.GenerateMediaResult, error)
	patch      func(activities.PatchEntityMediaInput) (activities.PatchEntityMediaResult, error)
	publish    func(activities.PublishGraphSummaryInput) error
	runResults []activities.RecordRunResultInput
	phases     []activities.RecordPhaseInput
}

func strPtr(s string) *string { return &s }

func newHarness() *harness {
	h := &harness{
		cfg: activities.PipelineConfigResult{
			Providers:        []string{"alpha", "beta", "gamma"},
			ProviderAttempts: 1,
			Weights:          config.Weights{Keywords: 0.3, Agreement: 0.2, Volume: 0.2, Reported: 0.2, Graph: 0.1},
			Threshold:        0.7,
			ResearchTimeout:  time.Minute,
			ReworkTimeout:    time.Minute,
			CrawlMaxURLs:     5,
			MaxContextChars:  8000,
			MaxMediaAssets:   2,
			MediaPollEvery:   time.Second,
			MediaJobDeadline: 10 * time.Second,
			SummaryMaxChars:  300,
		},
	}
	h.check = func(activities.CheckEntityInput) (activities.CheckEntityResult, error) {
		return activities.CheckEntityResult{}, nil
	}
	h.search = func(in activities.SearchProviderInput) (activities.SearchProviderResult, error) {
		return activities.SearchProviderResult{Result: models.ProviderResult{
			Provider:    in.Provider,
			Query:       in.Query,
			Text:        "acme corp industrial robots portland",
			Confidence:  0.85,
			ResultCount: 4,
			CostUSD:     0.02,
		}}, nil
	}
	h.crawl = func(in activities.CrawlPagesInput) (activities.CrawlPagesResult, error) {
		return activities.CrawlPagesResult{Result: models.ProviderResult{
			Provider: "crawler", Text: "crawled page text", ResultCount: len(in.URLs), CostUSD: 0.01,
		}}, nil
	}
	h.score = func(in activities.ScoreConfidenceInput) (activities.ScoreConfidenceResult, error) {
		return activities.ScoreConfidenceResult{Assessment: models.ConfidenceAssessment{Score: 0.85}}, nil
	}
	h.extract = func(activities.ExtractProfileInput) (activities.ExtractProfileResult, error) {
		return activities.ExtractProfileResult{
			Payload: profile.Payload{
				Name:              strPtr("Acme Corp"),
				Industry:          strPtr("Robotics"),
				CompletenessScore: 0.8,
			},
			Completeness: 0.8,
			CostUSD:      0.03,
		}, nil
	}
	h.upsert = func(activities.UpsertEntityInput) (activities.UpsertEntityResult, error) {
		return activities.UpsertEntityResult{EntityID: "ent-1", Created: true}, nil
	}
	h.media = func(in activities.GenerateMediaInput) (activities.GenerateMediaResult, error) {
		assets := make([]models.MediaAsset, 0, len(in.Prompts))
		for _, prompt := range in.Prompts {
			assets = append(assets, models.MediaAsset{
				Prompt: prompt, URL: "https://cdn.example/asset.png",
				Status: models.MediaGenerated, CostUSD: 0.05,
			})
		}
		return activities.GenerateMediaResult{Assets: assets, CostUSD: 0.05 * float64(len(assets))}, nil
	}
	h.patch = func(in activities.PatchEntityMediaInput) (activities.PatchEntityMediaResult, error) {
		return activities.PatchEntityMediaResult{MediaCount: len(in.MediaURLs)}, nil
	}
	h.publish = func(activities.PublishGraphSummaryInput) error { return nil }
	return h
}

func (h *harness) record(name string) {
	h.mu.Lock()
	h.calls = append(h.calls, name)
	h.mu.Unlock()
}

func (h *harness) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (h *harness) firstIndex(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range h.calls {
		if c == name {
			return i
		}
	}
	return -1
}

func (h *harness) env(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(PipelineWorkflow)

	env.RegisterActivityWithOptions(func(ctx context.Context) (activities.PipelineConfigResult, error) {
		h.record("GetPipelineConfig")
		return h.cfg, nil
	}, activity.RegisterOptions{Name: "GetPipelineConfig"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.RecordRunStartInput) error {
		h.record("RecordRunStart")
		return nil
	}, activity.RegisterOptions{Name: "RecordRunStart"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.RecordPhaseInput) error {
		h.record("RecordPhase:" + in.Phase.String())
		h.mu.Lock()
		h.phases = append(h.phases, in)
		h.mu.Unlock()
		return nil
	}, activity.RegisterOptions{Name: "RecordPhase"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.RecordRunResultInput) error {
		h.record("RecordRunResult")
		h.mu.Lock()
		h.runResults = append(h.runResults, in)
		h.mu.Unlock()
		return nil
	}, activity.RegisterOptions{Name: "RecordRunResult"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.CheckEntityInput) (activities.CheckEntityResult, error) {
		h.record("CheckEntity")
		return h.check(in)
	}, activity.RegisterOptions{Name: "CheckEntity"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.SearchProviderInput) (activities.SearchProviderResult, error) {
		h.record("SearchProvider:" + in.Provider)
		return h.search(in)
	}, activity.RegisterOptions{Name: "SearchProvider"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.CrawlPagesInput) (activities.CrawlPagesResult, error) {
		h.record("CrawlPages")
		return h.crawl(in)
	}, activity.RegisterOptions{Name: "CrawlPages"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ScoreConfidenceInput) (activities.ScoreConfidenceResult, error) {
		h.record("ScoreConfidence")
		return h.score(in)
	}, activity.RegisterOptions{Name: "ScoreConfidence"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.ExtractProfileInput) (activities.ExtractProfileResult, error) {
		h.record("ExtractProfile")
		return h.extract(in)
	}, activity.RegisterOptions{Name: "ExtractProfile"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.UpsertEntityInput) (activities.UpsertEntityResult, error) {
		h.record("UpsertEntity")
		return h.upsert(in)
	}, activity.RegisterOptions{Name: "UpsertEntity"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.GenerateMediaInput) (activities.GenerateMediaResult, error) {
		h.record("GenerateMedia")
		return h.media(in)
	}, activity.RegisterOptions{Name: "GenerateMedia"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.PatchEntityMediaInput) (activities.PatchEntityMediaResult, error) {
		h.record("PatchEntityMedia")
		return h.patch(in)
	}, activity.RegisterOptions{Name: "PatchEntityMedia"})
	env.RegisterActivityWithOptions(func(ctx context.Context, in activities.PublishGraphSummaryInput) error {
		h.record("PublishGraphSummary")
		return h.publish(in)
	}, activity.RegisterOptions{Name: "PublishGraphSummary"})

	return env
}

func runPipeline(t *testing.T, h *harness, input PipelineInput) PipelineResult {
	t.Helper()
	env := h.env(t)
	env.ExecuteWorkflow(PipelineWorkflow, input)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var out PipelineResult
	require.NoError(t, env.GetWorkflowResult(&out))
	return out
}

func testInput() PipelineInput {
	return PipelineInput{Input: "Acme Corp", NaturalKey: "acme-corp", RunID: "run-1"}
}

func TestPipelineHappyPathCreatesEntity(t *testing.T) {
	h := newHarness()
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusCreated, out.Status)
	assert.Equal(t, "ent-1", out.EntityID)
	assert.True(t, out.Created)
	assert.False(t, out.ReworkUsed)
	assert.Equal(t, 0.85, out.Confidence)
	assert.Equal(t, 0.8, out.Completeness)
	assert.Equal(t, 2, out.MediaCount)

	// 3 searches at 0.02, extraction 0.03, 2 media assets at 0.05.
	assert.InDelta(t, 3*0.02+0.03+2*0.05, out.TotalCostUSD, 1e-9)
	assert.Equal(t, 3, h.count("SearchProvider:alpha")+h.count("SearchProvider:beta")+h.count("SearchProvider:gamma"))
	assert.Equal(t, 1, h.count("ScoreConfidence"))
}

func TestPipelineShortCircuitsExistingEntity(t *testing.T) {
	h := newHarness()
	h.check = func(activities.CheckEntityInput) (activities.CheckEntityResult, error) {
		return activities.CheckEntityResult{Exists: true, EntityID: "ent-0", Completeness: 0.9, MediaCount: 1}, nil
	}
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusExists, out.Status)
	assert.Equal(t, "ent-0", out.EntityID)
	assert.Equal(t, 0.9, out.Completeness)
	assert.Zero(t, h.count("SearchProvider:alpha"))
	assert.Zero(t, h.count("UpsertEntity"))
}

func TestPipelineForceRefreshSkipsShortCircuit(t *testing.T) {
	h := newHarness()
	h.check = func(activities.CheckEntityInput) (activities.CheckEntityResult, error) {
		return activities.CheckEntityResult{Exists: true, EntityID: "ent-0"}, nil
	}
	h.upsert = func(activities.UpsertEntityInput) (activities.UpsertEntityResult, error) {
		return activities.UpsertEntityResult{EntityID: "ent-0", Created: false}, nil
	}
	in := testInput()
	in.ForceRefresh = true
	out := runPipeline(t, h, in)

	assert.Equal(t, models.StatusUpdated, out.Status)
	assert.Zero(t, h.count("CheckEntity"))
	assert.Equal(t, 1, h.count("UpsertEntity"))
}

func TestPipelineOneProviderFailureStillSucceeds(t *testing.T) {
	h := newHarness()
	base := h.search
	h.search = func(in activities.SearchProviderInput) (activities.SearchProviderResult, error) {
		if in.Provider == "beta" {
			return activities.SearchProviderResult{}, temporal.NewNonRetryableApplicationError(
				"invalid api key", activities.ErrTypeProviderPermanent, nil)
		}
		return base(in)
	}
	var scored models.ResearchBundle
	h.score = func(in activities.ScoreConfidenceInput) (activities.ScoreConfidenceResult, error) {
		scored = in.Bundle
		return activities.ScoreConfidenceResult{Assessment: models.ConfidenceAssessment{Score: 0.85}}, nil
	}
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusCreated, out.Status)
	// The failed provider contributes a permanent failure entry, not a gap.
	var betaEntry *models.ProviderResult
	for i := range scored.Results {
		if scored.Results[i].Provider == "beta" {
			betaEntry = &scored.Results[i]
		}
	}
	require.NotNil(t, betaEntry)
	assert.Equal(t, models.FailurePermanent, betaEntry.Failure)
	assert.False(t, betaEntry.Succeeded())
}

func TestPipelineAllProvidersFailedFailsRun(t *testing.T) {
	h := newHarness()
	h.search = func(in activities.SearchProviderInput) (activities.SearchProviderResult, error) {
		return activities.SearchProviderResult{}, fmt.Errorf("connection refused")
	}
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.Signals, "all research providers failed")
	assert.Zero(t, h.count("ExtractProfile"))
	assert.Zero(t, h.count("UpsertEntity"))

	require.NotEmpty(t, h.runResults)
	assert.Equal(t, models.StatusFailed, h.runResults[len(h.runResults)-1].Status)
}

func TestPipelineReworkRunsAtMostOnce(t *testing.T) {
	h := newHarness()
	var scoreCalls int
	h.score = func(in activities.ScoreConfidenceInput) (activities.ScoreConfidenceResult, error) {
		scoreCalls++
		if scoreCalls == 1 {
			require.False(t, in.AlreadyReworked)
			return activities.ScoreConfidenceResult{Assessment: models.ConfidenceAssessment{
				Score:           0.4,
				Signals:         []string{"few corroborating results"},
				ReworkTriggered: true,
			}}, nil
		}
		// Still below threshold after rework: accepted and degraded, never a
		// second loop.
		require.True(t, in.AlreadyReworked)
		return activities.ScoreConfidenceResult{Assessment: models.ConfidenceAssessment{
			Score:   0.5,
			Signals: []string{"few corroborating results"},
		}}, nil
	}
	var qmu sync.Mutex
	var reworkQueries []string
	base := h.search
	h.search = func(in activities.SearchProviderInput) (activities.SearchProviderResult, error) {
		qmu.Lock()
		reworkQueries = append(reworkQueries, in.Query)
		qmu.Unlock()
		return base(in)
	}
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusDegraded, out.Status)
	assert.True(t, out.ReworkUsed)
	assert.Equal(t, 0.5, out.Confidence)
	assert.Contains(t, out.Signals, "few corroborating results")
	assert.Equal(t, 2, scoreCalls)
	// Two full fan-outs, three providers each.
	assert.Equal(t, 6, len(reworkQueries))
	// The rework query carries the refinement terms for the weak signal.
	assert.Contains(t, reworkQueries[len(reworkQueries)-1], "overview history")
	// Entity is still persisted despite the low score.
	assert.Equal(t, 1, h.count("UpsertEntity"))
}

func TestPipelineReworkRaisesConfidenceToHealthy(t *testing.T) {
	h := newHarness()
	var scoreCalls int
	h.score = func(in activities.ScoreConfidenceInput) (activities.ScoreConfidenceResult, error) {
		scoreCalls++
		if scoreCalls == 1 {
			return activities.ScoreConfidenceResult{Assessment: models.ConfidenceAssessment{
				Score:           0.5,
				Signals:         []string{"low agreement across independent providers"},
				ReworkTriggered: true,
			}}, nil
		}
		return activities.ScoreConfidenceResult{Assessment: models.ConfidenceAssessment{Score: 0.8}}, nil
	}
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusCreated, out.Status)
	assert.True(t, out.ReworkUsed)
	assert.Equal(t, 0.8, out.Confidence)
	assert.Empty(t, out.Signals)
}

func TestPipelineUpsertFailureFailsRun(t *testing.T) {
	h := newHarness()
	h.upsert = func(activities.UpsertEntityInput) (activities.UpsertEntityResult, error) {
		return activities.UpsertEntityResult{}, fmt.Errorf("database unavailable")
	}
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.Signals, "entity persistence failed")
	// Nothing after COMMIT #1 runs when the commit itself fails.
	assert.Zero(t, h.count("GenerateMedia"))
	assert.Zero(t, h.count("PatchEntityMedia"))
	assert.Zero(t, h.count("PublishGraphSummary"))
}

func TestPipelineCommitBeforeMedia(t *testing.T) {
	h := newHarness()
	runPipeline(t, h, testInput())

	upsertIdx := h.firstIndex("UpsertEntity")
	mediaIdx := h.firstIndex("GenerateMedia")
	patchIdx := h.firstIndex("PatchEntityMedia")
	publishIdx := h.firstIndex("PublishGraphSummary")
	require.GreaterOrEqual(t, upsertIdx, 0)
	require.GreaterOrEqual(t, mediaIdx, 0)
	assert.Less(t, upsertIdx, mediaIdx)
	assert.Less(t, mediaIdx, patchIdx)
	assert.Less(t, patchIdx, publishIdx)
}

func TestPipelineMediaFailureDegradesButPersists(t *testing.T) {
	h := newHarness()
	h.media = func(in activities.GenerateMediaInput) (activities.GenerateMediaResult, error) {
		assets := make([]models.MediaAsset, 0, len(in.Prompts))
		for _, prompt := range in.Prompts {
			assets = append(assets, models.MediaAsset{
				Prompt: prompt, Status: models.MediaFailed, Error: "synthesis backend down",
			})
		}
		return activities.GenerateMediaResult{Assets: assets}, nil
	}
	var patched activities.PatchEntityMediaInput
	h.patch = func(in activities.PatchEntityMediaInput) (activities.PatchEntityMediaResult, error) {
		patched = in
		return activities.PatchEntityMediaResult{}, nil
	}
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusDegraded, out.Status)
	assert.Contains(t, out.Signals, "no media assets generated")
	assert.Zero(t, out.MediaCount)
	assert.Equal(t, "ent-1", out.EntityID)
	// COMMIT #2 still records the final status even with no media.
	assert.Empty(t, patched.MediaURLs)
	assert.Equal(t, models.StatusDegraded, patched.Status)
}

func TestPipelineSpentBudgetAfterCommitSkipsMediaAndDegrades(t *testing.T) {
	h := newHarness()
	// A budget smaller than the post-commit reserve means that by the time
	// COMMIT #1 has landed there is no room left for media generation. The
	// run must still end with a structured result and a closed audit row,
	// not a hard execution timeout.
	h.cfg.OverallTimeout = 10 * time.Second
	var patched activities.PatchEntityMediaInput
	h.patch = func(in activities.PatchEntityMediaInput) (activities.PatchEntityMediaResult, error) {
		patched = in
		return activities.PatchEntityMediaResult{}, nil
	}
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusDegraded, out.Status)
	assert.Contains(t, out.Signals, "run deadline reached, media skipped")
	assert.Equal(t, "ent-1", out.EntityID)
	assert.Zero(t, out.MediaCount)

	// The entity was committed, media never started, and the trailing
	// commits still ran.
	assert.Equal(t, 1, h.count("UpsertEntity"))
	assert.Zero(t, h.count("GenerateMedia"))
	assert.Equal(t, 1, h.count("PatchEntityMedia"))
	assert.Equal(t, models.StatusDegraded, patched.Status)
	assert.Equal(t, 1, h.count("PublishGraphSummary"))

	require.NotEmpty(t, h.runResults)
	assert.Equal(t, models.StatusDegraded, h.runResults[len(h.runResults)-1].Status)
}

func TestPipelineGraphSyncFailureOnlyNotes(t *testing.T) {
	h := newHarness()
	h.publish = func(activities.PublishGraphSummaryInput) error {
		return fmt.Errorf("redis unavailable")
	}
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusCreated, out.Status)
	assert.Contains(t, out.Signals, "knowledge-graph sync failed")
	assert.Equal(t, 2, out.MediaCount)
}

func TestPipelinePhaseSequenceIsMonotone(t *testing.T) {
	h := newHarness()
	runPipeline(t, h, testInput())

	require.NotEmpty(t, h.phases)
	last := 0
	for _, p := range h.phases {
		assert.Greater(t, p.Seq, last)
		last = p.Seq
	}
	assert.Equal(t, models.PhaseDone, h.phases[len(h.phases)-1].Phase)
}

func TestPipelineExtractionFailureFailsRun(t *testing.T) {
	h := newHarness()
	h.extract = func(activities.ExtractProfileInput) (activities.ExtractProfileResult, error) {
		return activities.ExtractProfileResult{}, temporal.NewNonRetryableApplicationError(
			"no usable evidence", activities.ErrTypeProviderPermanent, nil)
	}
	out := runPipeline(t, h, testInput())

	assert.Equal(t, models.StatusFailed, out.Status)
	assert.Contains(t, out.Signals, "profile extraction failed")
	assert.Zero(t, h.count("UpsertEntity"))
}

func TestRefinedQueryMapsSignalsToTerms(t *testing.T) {
	q := refinedQuery("acme corp", []string{
		"no category keywords matched in research results",
		"low agreement across independent providers",
	}, []string{"robotics"})
	assert.Contains(t, q, "acme corp")
	assert.Contains(t, q, "company profile industry")
	assert.Contains(t, q, "official website about")
	assert.Contains(t, q, "robotics")

	assert.Equal(t, "acme corp company details", refinedQuery("acme corp", nil, nil))
}

func TestBaseQueryReducesURLs(t *testing.T) {
	assert.Equal(t, "Acme Corp", baseQuery("Acme Corp", "acme-corp"))
	assert.Equal(t, "acme example com", baseQuery("https://acme.example.com/about", "acme-example-com"))
	assert.Equal(t, "acme corp", baseQuery("", "acme-corp"))
}

func TestBuildSummaryBounded(t *testing.T) {
	p := profile.Payload{
		Name:        strPtr("Acme Corp"),
		Industry:    strPtr("Robotics"),
		City:        strPtr("Portland"),
		Country:     strPtr("US"),
		Description: strPtr("Acme builds industrial robot arms for mid-size manufacturers."),
	}
	s := buildSummary(p, "acme-corp", 60)
	assert.LessOrEqual(t, len(s), 60)
	assert.Contains(t, s, "Acme Corp")

	full := buildSummary(p, "acme-corp", 500)
	assert.Contains(t, full, "Robotics")
	assert.Contains(t, full, "robot arms")
}

func TestBuildSummaryCutsAtRuneBoundary(t *testing.T) {
	p := profile.Payload{
		Name:        strPtr("Müller Maschinenbau"),
		Description: strPtr(strings.Repeat("Präzisionsfräsen für die Luftfahrt. ", 10)),
	}
	for max := 20; max < 40; max++ {
		s := buildSummary(p, "mueller-maschinenbau", max)
		assert.True(t, utf8.ValidString(s), "cut at %d bytes must not split a rune", max)
		assert.LessOrEqual(t, len(s), max)
	}
}
