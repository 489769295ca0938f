package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prosemill/orchestrator/internal/config"
	"github.com/prosemill/orchestrator/internal/models"
)

func defaultParams() Params {
	return Params{
		Weights:   config.Weights{Keywords: 0.3, Agreement: 0.2, Volume: 0.2, Reported: 0.2, Graph: 0.1},
		Threshold: 0.7,
		Keywords:  []string{"company", "widgets"},
	}
}

func successResult(provider, text string, confidence float64) models.ProviderResult {
	return models.ProviderResult{Provider: provider, Query: "acme", Text: text, Confidence: confidence}
}

func TestScoreStrongSignal(t *testing.T) {
	bundle := models.ResearchBundle{Pass: 1, Results: []models.ProviderResult{
		successResult("web-search", "Acme company builds widgets in Berlin, founded 2009 by Jane Doe", 0.9),
		successResult("news-search", "Acme company widgets Berlin founded 2009 Jane Doe expansion", 0.8),
		successResult("biz-registry", "Acme company registered Berlin widgets manufacturer Jane Doe 2009", 0.85),
	}}

	a := Score(bundle, defaultParams())
	assert.GreaterOrEqual(t, a.Score, 0.7, "three agreeing keyword-rich providers must clear the threshold")
	assert.False(t, a.ReworkTriggered)
}

func TestScoreWeakSignalTriggersRework(t *testing.T) {
	bundle := models.ResearchBundle{Pass: 1, Results: []models.ProviderResult{
		successResult("web-search", "ambiguous mention of acme somewhere unrelated", 0.3),
	}}

	a := Score(bundle, defaultParams())
	assert.Less(t, a.Score, 0.7)
	assert.True(t, a.ReworkTriggered)
	assert.NotEmpty(t, a.Signals, "weak signals must be named for query refinement")
	assert.Contains(t, a.Signals, "low agreement across independent providers")
	assert.Contains(t, a.Signals, "few corroborating results")
}

func TestScoreMonotoneUnderCorroboration(t *testing.T) {
	base := models.ResearchBundle{Pass: 1, Results: []models.ProviderResult{
		successResult("web-search", "Acme company builds widgets in Berlin", 0.6),
		successResult("news-search", "totally different unrelated text about kittens", 0.2),
	}}
	before := Score(base, defaultParams()).Score

	grown := base
	grown.Results = append(append([]models.ProviderResult{}, base.Results...),
		successResult("biz-registry", "Acme company builds widgets in Berlin since 2009", 0.9))
	after := Score(grown, defaultParams()).Score

	assert.GreaterOrEqual(t, after, before,
		"adding a corroborating successful result must never decrease confidence")
}

func TestScoreNeverReworksTwice(t *testing.T) {
	bundle := models.ResearchBundle{Pass: 2, Results: []models.ProviderResult{
		successResult("web-search", "still thin evidence", 0.1),
	}}

	p := defaultParams()
	p.AlreadyReworked = true
	a := Score(bundle, p)
	assert.Less(t, a.Score, p.Threshold)
	assert.False(t, a.ReworkTriggered, "a second low score is accepted, not retried")
}

func TestScoreFailuresDoNotCount(t *testing.T) {
	bundle := models.ResearchBundle{Pass: 1, Results: []models.ProviderResult{
		{Provider: "web-search", Query: "acme", Failure: models.FailureTransient, Error: "timeout"},
		{Provider: "news-search", Query: "acme", Failure: models.FailurePermanent, Error: "auth"},
	}}

	a := Score(bundle, defaultParams())
	assert.Equal(t, 0.0, a.Score)
	assert.True(t, a.ReworkTriggered)
}

func TestGraphCrossReferenceBonus(t *testing.T) {
	bundle := models.ResearchBundle{Pass: 1, Results: []models.ProviderResult{
		successResult("web-search", "Acme company builds widgets in Berlin", 0.5),
	}}

	p := defaultParams()
	without := Score(bundle, p).Score

	p.Priors = []models.GraphSummary{{NaturalKey: "acme-supplies", Summary: "Acme Supplies partners with widgets makers in Berlin"}}
	with := Score(bundle, p).Score

	assert.Greater(t, with, without, "a prior summary overlapping the evidence must add the graph bonus")
}

func TestScoreInUnitRange(t *testing.T) {
	bundle := models.ResearchBundle{Pass: 1, Results: []models.ProviderResult{
		successResult("a", "company widgets company widgets", 5.0), // out-of-range reported confidence
		successResult("b", "company widgets company widgets", 1.0),
		successResult("c", "company widgets company widgets", 1.0),
		successResult("d", "company widgets company widgets", 1.0),
	}}
	a := Score(bundle, defaultParams())
	assert.LessOrEqual(t, a.Score, 1.0)
	assert.GreaterOrEqual(t, a.Score, 0.0)
}
