// Package activities implements the pipeline's Temporal activities. All
// external collaborators (providers, persistence, graph store) are injected
// at construction so tests substitute fakes.
package activities

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/prosemill/orchestrator/internal/config"
	"github.com/prosemill/orchestrator/internal/db"
	"github.com/prosemill/orchestrator/internal/graph"
	"github.com/prosemill/orchestrator/internal/profile"
	"github.com/prosemill/orchestrator/internal/providers"
)

// ErrTypeProviderPermanent is the application error type used to mark a
// provider failure as non-retryable for the Temporal retry policy.
const ErrTypeProviderPermanent = "ProviderPermanentError"

// Activities holds the injected dependencies for every pipeline activity.
type Activities struct {
	cfg       *config.Config
	dbClient  *db.Client
	graph     *graph.Store
	search    map[string]providers.SearchProvider
	crawler   providers.Crawler
	extractor providers.Extractor
	media     providers.MediaSynthesizer
	schema    profile.Schema
	logger    *zap.Logger
}

// Deps bundles the collaborators for NewActivities.
type Deps struct {
	Config    *config.Config
	DB        *db.Client
	Graph     *graph.Store
	Search    []providers.SearchProvider
	Crawler   providers.Crawler
	Extractor providers.Extractor
	Media     providers.MediaSynthesizer
	Schema    profile.Schema
	Logger    *zap.Logger
}

// NewActivities wires the activity set.
func NewActivities(d Deps) (*Activities, error) {
	if d.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if len(d.Schema.Fields) == 0 {
		d.Schema = profile.DefaultSchema()
	}
	byName := make(map[string]providers.SearchProvider, len(d.Search))
	for _, p := range d.Search {
		byName[p.Name()] = p
	}
	return &Activities{
		cfg:       d.Config,
		dbClient:  d.DB,
		graph:     d.Graph,
		search:    byName,
		crawler:   d.Crawler,
		extractor: d.Extractor,
		media:     d.Media,
		schema:    d.Schema,
		logger:    d.Logger,
	}, nil
}

// GetPipelineConfig snapshots the tunable configuration for one run.
func (a *Activities) GetPipelineConfig(ctx context.Context) (PipelineConfigResult, error) {
	scoring := a.cfg.ScoringSnapshot()
	return PipelineConfigResult{
		Providers:        a.cfg.ProviderNames(),
		ProviderAttempts: a.cfg.Run.ProviderAttempts,
		Weights:          scoring.Weights,
		Threshold:        scoring.Threshold,
		DefaultKeywords:  scoring.Keywords,
		OverallTimeout:   a.cfg.Run.OverallTimeout,
		ResearchTimeout:  a.cfg.Run.ResearchTimeout,
		ReworkTimeout:    a.cfg.Run.ReworkTimeout,
		CrawlMaxURLs:     a.cfg.Run.CrawlMaxURLs,
		MaxContextChars:  a.cfg.Extraction.MaxContextChars,
		MaxMediaAssets:   a.cfg.Media.MaxAssets,
		MediaPollEvery:   a.cfg.Media.PollInterval,
		MediaJobDeadline: a.cfg.Media.JobDeadline,
		SummaryMaxChars:  a.cfg.Graph.SummaryMaxChars,
	}, nil
}
