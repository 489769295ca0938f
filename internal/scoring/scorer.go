// Package scoring reduces a heterogeneous research bundle to a single
// confidence score in [0,1] plus the named signals explaining it.
//
// Every sub-signal is deliberately monotone under adding a corroborating
// successful provider result (max/any/count semantics, never averages), so
// more evidence can only raise the score.
package scoring

import (
	"strings"

	"github.com/prosemill/orchestrator/internal/config"
	"github.com/prosemill/orchestrator/internal/models"
)

// targetProviders is the corroboration volume at which the volume signal
// saturates. Three independent agreeing providers is treated as full volume.
const targetProviders = 3

// weakSignalFloor is the sub-score below which a signal is reported as weak
// and contributes to the rework query refinement.
const weakSignalFloor = 0.5

// Params carries the tunable inputs for one scoring pass. Weights and
// threshold travel with the workflow's config snapshot so a hot reload cannot
// change a run's behavior mid-flight.
type Params struct {
	Weights   config.Weights
	Threshold float64
	Keywords  []string // category/topic keywords; caller hints take precedence over defaults
	Priors    []models.GraphSummary
	// AlreadyReworked suppresses the rework trigger: the controller never
	// loops, a second low score is accepted and recorded as degraded.
	AlreadyReworked bool
}

// Score computes the weighted confidence assessment for a bundle.
func Score(bundle models.ResearchBundle, p Params) models.ConfidenceAssessment {
	successful := bundle.Successful()

	keywordScore := keywordSignal(successful, p.Keywords)
	agreementScore := agreementSignal(successful)
	volumeScore := volumeSignal(successful)
	reportedScore := reportedSignal(successful)
	graphScore := graphSignal(successful, p.Priors)

	w := p.Weights
	sum := w.Keywords + w.Agreement + w.Volume + w.Reported + w.Graph
	if sum <= 0 {
		// Degenerate config: treat everything as equally weighted.
		w = config.Weights{Keywords: 1, Agreement: 1, Volume: 1, Reported: 1, Graph: 1}
		sum = 5
	}

	score := (w.Keywords*keywordScore +
		w.Agreement*agreementScore +
		w.Volume*volumeScore +
		w.Reported*reportedScore +
		w.Graph*graphScore) / sum

	var signals []string
	if keywordScore < weakSignalFloor {
		signals = append(signals, "no category keywords matched in research results")
	}
	if agreementScore < weakSignalFloor {
		signals = append(signals, "low agreement across independent providers")
	}
	if volumeScore < weakSignalFloor {
		signals = append(signals, "few corroborating results")
	}
	if reportedScore < weakSignalFloor {
		signals = append(signals, "providers reported low confidence")
	}
	if graphScore < weakSignalFloor {
		signals = append(signals, "no knowledge-graph cross-references")
	}

	return models.ConfidenceAssessment{
		Score:           score,
		Signals:         signals,
		ReworkTriggered: score < p.Threshold && !p.AlreadyReworked,
	}
}

// keywordSignal is the best per-result keyword coverage: the fraction of the
// configured category keywords present in the single best result. Max over
// results keeps it monotone.
func keywordSignal(results []models.ProviderResult, keywords []string) float64 {
	if len(keywords) == 0 {
		return 1
	}
	best := 0.0
	for _, r := range results {
		text := strings.ToLower(r.Text)
		matched := 0
		for _, kw := range keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(kw)) {
				matched++
			}
		}
		if f := float64(matched) / float64(len(keywords)); f > best {
			best = f
		}
	}
	return best
}

// agreementSignal is the strongest pairwise token overlap (Jaccard) between
// any two successful results. One result alone cannot corroborate itself.
func agreementSignal(results []models.ProviderResult) float64 {
	if len(results) < 2 {
		return 0
	}
	sets := make([]map[string]bool, len(results))
	for i, r := range results {
		sets[i] = tokenSet(r.Text)
	}
	best := 0.0
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			if ov := jaccard(sets[i], sets[j]); ov > best {
				best = ov
			}
		}
	}
	// Raw Jaccard between prose snippets rarely exceeds ~0.3 even for the
	// same entity; rescale so that range maps onto [0,1].
	scaled := best / 0.3
	if scaled > 1 {
		scaled = 1
	}
	return scaled
}

func volumeSignal(results []models.ProviderResult) float64 {
	f := float64(len(results)) / targetProviders
	if f > 1 {
		f = 1
	}
	return f
}

// reportedSignal is the highest directly-reported provider confidence.
func reportedSignal(results []models.ProviderResult) float64 {
	best := 0.0
	for _, r := range results {
		if r.Confidence > best {
			best = r.Confidence
		}
	}
	if best > 1 {
		best = 1
	}
	return best
}

// graphSignal is a cross-reference bonus: full when any prior knowledge-graph
// summary meaningfully overlaps any successful result.
func graphSignal(results []models.ProviderResult, priors []models.GraphSummary) float64 {
	if len(priors) == 0 || len(results) == 0 {
		return 0
	}
	for _, prior := range priors {
		priorSet := tokenSet(prior.Summary)
		for _, r := range results {
			if overlapCount(priorSet, tokenSet(r.Text)) >= 2 {
				return 1
			}
		}
	}
	return 0
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "are": true, "was": true, "has": true,
	"its": true, "their": true, "have": true, "not": true, "but": true,
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	token := strings.Builder{}
	flush := func() {
		if token.Len() >= 3 {
			t := token.String()
			if !stopwords[t] {
				set[t] = true
			}
		}
		token.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			token.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := overlapCount(a, b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func overlapCount(a, b map[string]bool) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for t := range a {
		if b[t] {
			n++
		}
	}
	return n
}
