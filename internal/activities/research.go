package activities

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/prosemill/orchestrator/internal/metrics"
	"github.com/prosemill/orchestrator/internal/models"
	"github.com/prosemill/orchestrator/internal/providers"
)

// SearchProvider issues one research call. Transient failures return plain
// errors so the activity retry policy backs off and retries; permanent
// failures return a non-retryable application error. Either way, exhaustion
// degrades this provider's bundle entry, never the run.
func (a *Activities) SearchProvider(ctx context.Context, in SearchProviderInput) (SearchProviderResult, error) {
	logger := activity.GetLogger(ctx)

	p, ok := a.search[in.Provider]
	if !ok {
		return SearchProviderResult{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown provider %q", in.Provider), ErrTypeProviderPermanent, nil)
	}

	res, err := p.Search(ctx, in.Query)
	if err != nil {
		outcome := string(providers.ClassOf(err))
		metrics.ProviderCalls.WithLabelValues(in.Provider, outcome).Inc()
		logger.Warn("Provider search failed",
			"provider", in.Provider, "query", in.Query, "class", outcome, "error", err)
		if providers.ClassOf(err) == providers.Permanent {
			return SearchProviderResult{}, temporal.NewNonRetryableApplicationError(
				err.Error(), ErrTypeProviderPermanent, err)
		}
		return SearchProviderResult{}, fmt.Errorf("search %s: %w", in.Provider, err)
	}

	metrics.ProviderCalls.WithLabelValues(in.Provider, "success").Inc()
	metrics.ProviderCostUSD.WithLabelValues(in.Provider).Add(res.CostUSD)

	return SearchProviderResult{Result: models.ProviderResult{
		Provider:    in.Provider,
		Query:       in.Query,
		Text:        res.Text,
		URLs:        res.URLs,
		Confidence:  res.Confidence,
		ResultCount: res.ResultCount,
		CostUSD:     res.CostUSD,
	}}, nil
}

// CrawlPages fetches page content for the URLs surfaced by search and folds
// it into the bundle as one more provider entry.
func (a *Activities) CrawlPages(ctx context.Context, in CrawlPagesInput) (CrawlPagesResult, error) {
	const providerName = "crawler"
	logger := activity.GetLogger(ctx)

	if a.crawler == nil || len(in.URLs) == 0 {
		return CrawlPagesResult{Result: models.ProviderResult{
			Provider: providerName,
			Failure:  models.FailurePermanent,
			Error:    "no crawler configured or no urls",
		}}, nil
	}

	res, err := a.crawler.Crawl(ctx, in.URLs)
	if err != nil {
		outcome := string(providers.ClassOf(err))
		metrics.ProviderCalls.WithLabelValues(providerName, outcome).Inc()
		logger.Warn("Crawl failed", "urls", len(in.URLs), "class", outcome, "error", err)
		if providers.ClassOf(err) == providers.Permanent {
			return CrawlPagesResult{}, temporal.NewNonRetryableApplicationError(
				err.Error(), ErrTypeProviderPermanent, err)
		}
		return CrawlPagesResult{}, fmt.Errorf("crawl: %w", err)
	}

	metrics.ProviderCalls.WithLabelValues(providerName, "success").Inc()
	metrics.ProviderCostUSD.WithLabelValues(providerName).Add(res.CostUSD)

	return CrawlPagesResult{Result: models.ProviderResult{
		Provider:    providerName,
		Query:       strings.Join(in.URLs, " "),
		Text:        strings.Join(res.Pages, "\n\n"),
		ResultCount: len(res.Pages),
		CostUSD:     res.CostUSD,
	}}, nil
}
