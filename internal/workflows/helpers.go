package workflows

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.temporal.io/sdk/temporal"

	"github.com/prosemill/orchestrator/internal/activities"
	"github.com/prosemill/orchestrator/internal/models"
	"github.com/prosemill/orchestrator/internal/profile"
)

// baseQuery turns the raw input into the first-pass search query. URLs are
// reduced to their host's registrable part so search providers get a name,
// not a scheme.
func baseQuery(input, naturalKey string) string {
	q := strings.TrimSpace(input)
	if q == "" {
		q = naturalKey
	}
	if strings.Contains(q, "://") || strings.HasPrefix(strings.ToLower(q), "www.") {
		q = strings.ReplaceAll(naturalKey, "-", " ")
	}
	return q
}

// refinedQuery appends refinement terms derived from the weak signals of the
// first scoring pass. Each signal maps to one fixed clarifying term group so
// the rework query is deterministic across replays.
func refinedQuery(base string, signals, hints []string) string {
	var terms []string
	for _, s := range signals {
		switch {
		case strings.Contains(s, "keywords"):
			terms = append(terms, "company profile industry")
		case strings.Contains(s, "agreement"):
			terms = append(terms, "official website about")
		case strings.Contains(s, "corroborating"):
			terms = append(terms, "overview history")
		case strings.Contains(s, "reported low confidence"):
			terms = append(terms, "headquarters founded")
		}
	}
	terms = append(terms, hints...)
	if len(terms) == 0 {
		return base + " company details"
	}
	return base + " " + strings.Join(terms, " ")
}

// collectURLs gathers crawl candidates from successful search results,
// deduplicated in first-seen order and bounded.
func collectURLs(results []models.ProviderResult, max int) []string {
	if max <= 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, r := range results {
		for _, u := range r.URLs {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

// mediaPrompts derives the bounded set of synthesis prompts from the
// persisted payload.
func mediaPrompts(p profile.Payload, naturalKey string, max int) []string {
	if max <= 0 {
		return nil
	}
	name := p.DisplayName(naturalKey)
	prompts := []string{fmt.Sprintf("Professional logo illustration for %s", name)}
	if p.Industry != nil && *p.Industry != "" {
		prompts = append(prompts, fmt.Sprintf("Hero banner for %s, a %s company", name, *p.Industry))
	}
	if len(prompts) > max {
		prompts = prompts[:max]
	}
	return prompts
}

// buildSummary renders the bounded knowledge-graph summary for a payload.
func buildSummary(p profile.Payload, naturalKey string, maxChars int) string {
	var parts []string
	parts = append(parts, p.DisplayName(naturalKey))
	if p.Industry != nil && *p.Industry != "" {
		parts = append(parts, *p.Industry)
	}
	if p.City != nil && *p.City != "" {
		parts = append(parts, *p.City)
	}
	if p.Country != nil && *p.Country != "" {
		parts = append(parts, *p.Country)
	}
	head := strings.Join(parts, ", ")
	if p.Description != nil && *p.Description != "" {
		head = head + ". " + *p.Description
	}
	if maxChars > 0 && len(head) > maxChars {
		for maxChars > 0 && !utf8.RuneStart(head[maxChars]) {
			maxChars--
		}
		head = strings.TrimRight(head[:maxChars], " ,.")
	}
	return head
}

// isPermanentProviderError reports whether an exhausted activity error was
// marked non-retryable by the provider classification.
func isPermanentProviderError(err error) bool {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type() == activities.ErrTypeProviderPermanent
	}
	return false
}
