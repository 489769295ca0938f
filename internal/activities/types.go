package activities

import (
	"time"

	"github.com/prosemill/orchestrator/internal/config"
	"github.com/prosemill/orchestrator/internal/models"
	"github.com/prosemill/orchestrator/internal/profile"
)

// PipelineConfigResult is the config snapshot a workflow takes at its first
// step. Reading config once through an activity keeps replay deterministic
// even when the file is hot-reloaded mid-run.
type PipelineConfigResult struct {
	Providers        []string       `json:"providers"`
	ProviderAttempts int            `json:"provider_attempts"`
	Weights          config.Weights `json:"weights"`
	Threshold        float64        `json:"threshold"`
	DefaultKeywords  []string       `json:"default_keywords"`
	OverallTimeout   time.Duration  `json:"overall_timeout"`
	ResearchTimeout  time.Duration  `json:"research_timeout"`
	ReworkTimeout    time.Duration  `json:"rework_timeout"`
	CrawlMaxURLs     int            `json:"crawl_max_urls"`
	MaxContextChars  int            `json:"max_context_chars"`
	MaxMediaAssets   int            `json:"max_media_assets"`
	MediaPollEvery   time.Duration  `json:"media_poll_every"`
	MediaJobDeadline time.Duration  `json:"media_job_deadline"`
	SummaryMaxChars  int            `json:"summary_max_chars"`
}

// CheckEntityInput asks whether an entity already exists for a natural key.
type CheckEntityInput struct {
	NaturalKey string `json:"natural_key"`
}

// CheckEntityResult reports the existing entity, if any. Used both for the
// short-circuit at run start and as the COMMIT #1 re-attempt guard.
type CheckEntityResult struct {
	Exists       bool    `json:"exists"`
	EntityID     string  `json:"entity_id,omitempty"`
	Completeness float64 `json:"completeness,omitempty"`
	MediaCount   int     `json:"media_count,omitempty"`
	Status       string  `json:"status,omitempty"`
}

// RecordPhaseInput records one phase transition before its activities start.
type RecordPhaseInput struct {
	RunID      string       `json:"run_id"`
	NaturalKey string       `json:"natural_key"`
	Phase      models.Phase `json:"phase"`
	Seq        int          `json:"seq"`
}

// RecordRunStartInput opens the audit row for a run.
type RecordRunStartInput struct {
	RunID      string `json:"run_id"`
	NaturalKey string `json:"natural_key"`
}

// RecordRunResultInput closes the audit row with the terminal outcome.
type RecordRunResultInput struct {
	RunID        string           `json:"run_id"`
	NaturalKey   string           `json:"natural_key"`
	Phase        models.Phase     `json:"phase"`
	Seq          int              `json:"seq"`
	Status       models.RunStatus `json:"status"`
	Confidence   float64          `json:"confidence"`
	Completeness float64          `json:"completeness"`
	CostUSD      float64          `json:"cost_usd"`
	MediaCount   int              `json:"media_count"`
	Signals      []string         `json:"signals,omitempty"`
	DurationMs   int64            `json:"duration_ms"`
}

// SearchProviderInput is one provider call of the research fan-out.
type SearchProviderInput struct {
	Provider string `json:"provider"`
	Query    string `json:"query"`
}

// SearchProviderResult is the successful outcome of one provider call.
// Failures surface as activity errors so the retry policy applies; the
// workflow converts exhausted errors into bundle failure entries.
type SearchProviderResult struct {
	Result models.ProviderResult `json:"result"`
}

// CrawlPagesInput fetches page content for URLs surfaced by search.
type CrawlPagesInput struct {
	NaturalKey string   `json:"natural_key"`
	URLs       []string `json:"urls"`
}

// CrawlPagesResult contributes crawled text as one more bundle entry.
type CrawlPagesResult struct {
	Result models.ProviderResult `json:"result"`
}

// ScoreConfidenceInput reduces a bundle to a confidence assessment. Scoring
// settings travel with the input so the workflow's config snapshot governs.
type ScoreConfidenceInput struct {
	NaturalKey      string                `json:"natural_key"`
	Bundle          models.ResearchBundle `json:"bundle"`
	Hints           []string              `json:"hints,omitempty"`
	Weights         config.Weights        `json:"weights"`
	Threshold       float64               `json:"threshold"`
	DefaultKeywords []string              `json:"default_keywords,omitempty"`
	AlreadyReworked bool                  `json:"already_reworked"`
}

// ScoreConfidenceResult carries the assessment. Scoring itself is free; the
// only cost is the graph lookups, which providers do not bill.
type ScoreConfidenceResult struct {
	Assessment models.ConfidenceAssessment `json:"assessment"`
}

// ExtractProfileInput turns bundle evidence into the typed profile payload.
type ExtractProfileInput struct {
	NaturalKey      string                `json:"natural_key"`
	Bundle          models.ResearchBundle `json:"bundle"`
	MaxContextChars int                   `json:"max_context_chars"`
}

// ExtractProfileResult is the validated payload with its completeness score.
type ExtractProfileResult struct {
	Payload      profile.Payload `json:"payload"`
	Completeness float64         `json:"completeness"`
	Violations   []string        `json:"violations,omitempty"`
	Retried      bool            `json:"retried"`
	CostUSD      float64         `json:"cost_usd"`
}

// UpsertEntityInput is COMMIT #1.
type UpsertEntityInput struct {
	RunID      string           `json:"run_id"`
	NaturalKey string           `json:"natural_key"`
	Payload    profile.Payload  `json:"payload"`
	Status     models.RunStatus `json:"status"`
}

// UpsertEntityResult reports the durable entity identity.
type UpsertEntityResult struct {
	EntityID string `json:"entity_id"`
	Created  bool   `json:"created"`
}

// GenerateMediaInput runs the best-effort decoration phase.
type GenerateMediaInput struct {
	NaturalKey   string        `json:"natural_key"`
	Prompts      []string      `json:"prompts"`
	PollInterval time.Duration `json:"poll_interval"`
	JobDeadline  time.Duration `json:"job_deadline"`
}

// GenerateMediaResult lists every attempted asset, failed ones included, so
// cost accounting and degradation notes stay accurate.
type GenerateMediaResult struct {
	Assets  []models.MediaAsset `json:"assets"`
	CostUSD float64             `json:"cost_usd"`
}

// PatchEntityMediaInput is COMMIT #2.
type PatchEntityMediaInput struct {
	NaturalKey string           `json:"natural_key"`
	MediaURLs  []string         `json:"media_urls"`
	Status     models.RunStatus `json:"status"`
}

// PatchEntityMediaResult confirms the patch.
type PatchEntityMediaResult struct {
	MediaCount int `json:"media_count"`
}

// PublishGraphSummaryInput publishes the bounded entity summary after COMMIT #2.
type PublishGraphSummaryInput struct {
	NaturalKey string `json:"natural_key"`
	Summary    string `json:"summary"`
}
