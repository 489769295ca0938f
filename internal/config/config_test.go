package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Scoring.Threshold)
	assert.Equal(t, 0.3, cfg.Scoring.Weights.Keywords)
	assert.Equal(t, 0.2, cfg.Scoring.Weights.Agreement)
	assert.Equal(t, 0.1, cfg.Scoring.Weights.Graph)
	assert.Equal(t, 3, cfg.Run.ProviderAttempts)
	assert.Equal(t, 500, cfg.Graph.SummaryMaxChars)
	assert.Equal(t, 15*time.Minute, cfg.Run.OverallTimeout)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	body := `
scoring:
  threshold: 0.6
  weights:
    keywords: 0.4
    agreement: 0.2
    volume: 0.2
    reported: 0.1
    graph: 0.1
providers:
  - name: web-search
    url: http://search:9000
    rate_per_second: 2
    burst: 4
  - name: news-search
    url: http://news:9001
media:
  max_assets: 1
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.Scoring.Threshold)
	assert.Equal(t, 0.4, cfg.Scoring.Weights.Keywords)
	assert.Equal(t, []string{"web-search", "news-search"}, cfg.ProviderNames())
	assert.Equal(t, 1, cfg.Media.MaxAssets)
	// Defaults still apply for unset sections.
	assert.Equal(t, "pipeline-task-queue", cfg.Temporal.TaskQueue)
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scoring:\n  threshold: 1.5\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestUpdateScoring(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	next := cfg.ScoringSnapshot()
	next.Threshold = 0.8
	require.NoError(t, cfg.UpdateScoring(next))
	assert.Equal(t, 0.8, cfg.ScoringSnapshot().Threshold)

	bad := next
	bad.Weights = Weights{}
	assert.Error(t, cfg.UpdateScoring(bad), "zero weights must be rejected")
	assert.Equal(t, 0.8, cfg.ScoringSnapshot().Threshold, "rejected update must not apply")
}
