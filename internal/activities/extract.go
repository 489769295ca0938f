package activities

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/prosemill/orchestrator/internal/metrics"
	"github.com/prosemill/orchestrator/internal/models"
	"github.com/prosemill/orchestrator/internal/profile"
	"github.com/prosemill/orchestrator/internal/providers"
)

// ExtractProfile concatenates the bundle's evidence into a bounded context,
// calls the extraction provider against the fixed schema, and validates the
// payload. A schema violation gets exactly one stricter retry; residual
// violations degrade those fields to null instead of failing the run.
func (a *Activities) ExtractProfile(ctx context.Context, in ExtractProfileInput) (ExtractProfileResult, error) {
	logger := activity.GetLogger(ctx)

	if a.extractor == nil {
		return ExtractProfileResult{}, temporal.NewNonRetryableApplicationError(
			"no extractor configured", ErrTypeProviderPermanent, nil)
	}

	evidence := buildEvidence(in.Bundle.Successful(), in.MaxContextChars)
	if evidence == "" {
		return ExtractProfileResult{}, temporal.NewNonRetryableApplicationError(
			"no successful research evidence to extract from", ErrTypeProviderPermanent, nil)
	}
	schemaSpec := a.schema.PromptSpec()

	var totalCost float64
	res, err := a.extractor.Extract(ctx, evidence, schemaSpec, false)
	if err != nil {
		if providers.ClassOf(err) == providers.Permanent {
			return ExtractProfileResult{}, temporal.NewNonRetryableApplicationError(
				err.Error(), ErrTypeProviderPermanent, err)
		}
		return ExtractProfileResult{}, fmt.Errorf("extract: %w", err)
	}
	totalCost += res.CostUSD

	payload, violations := profile.Decode(res.Payload, a.schema)
	retried := false

	if len(violations) > 0 {
		logger.Info("Extraction schema violations, retrying with strict instruction",
			"natural_key", in.NaturalKey, "violations", len(violations))
		retried = true
		strictRes, strictErr := a.extractor.Extract(ctx, evidence, schemaSpec, true)
		if strictErr != nil {
			// Keep the degraded first attempt; the retry was best-effort.
			logger.Warn("Strict extraction retry failed, keeping degraded payload", "error", strictErr)
		} else {
			totalCost += strictRes.CostUSD
			strictPayload, strictViolations := profile.Decode(strictRes.Payload, a.schema)
			if len(strictViolations) <= len(violations) {
				payload, violations = strictPayload, strictViolations
			}
		}
	}

	payload.CompletenessScore = profile.Completeness(payload, a.schema)
	metrics.CompletenessScore.Observe(payload.CompletenessScore)

	logger.Info("Extracted profile",
		"natural_key", in.NaturalKey,
		"completeness", payload.CompletenessScore,
		"violations", len(violations),
		"retried", retried,
	)
	return ExtractProfileResult{
		Payload:      payload,
		Completeness: payload.CompletenessScore,
		Violations:   violations,
		Retried:      retried,
		CostUSD:      totalCost,
	}, nil
}

// buildEvidence concatenates successful results into a bounded context. The
// budget is split evenly across providers first so one verbose provider
// cannot crowd out the others.
func buildEvidence(results []models.ProviderResult, maxChars int) string {
	if len(results) == 0 {
		return ""
	}
	if maxChars <= 0 {
		maxChars = 24000
	}
	perProvider := maxChars / len(results)
	if perProvider < 200 {
		perProvider = 200
	}

	var b strings.Builder
	for _, r := range results {
		if b.Len() >= maxChars {
			break
		}
		text := strings.TrimSpace(r.Text)
		if len(text) > perProvider {
			text = cutAtRune(text, perProvider)
		}
		fmt.Fprintf(&b, "[%s] %s\n\n", r.Provider, text)
	}
	out := b.String()
	if len(out) > maxChars {
		out = cutAtRune(out, maxChars)
	}
	return strings.TrimSpace(out)
}

// cutAtRune bounds s to at most max bytes without splitting a rune.
func cutAtRune(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
