package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/prosemill/orchestrator/internal/config"
)

// HTTPSearchProvider calls a research service over HTTP. Each provider carries
// its own rate limiter so a rate-limited provider degrades its own bundle
// entry instead of blocking the run behind a global lock.
type HTTPSearchProvider struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPSearchProvider builds a provider from configuration.
func NewHTTPSearchProvider(cfg config.ProviderConfig) *HTTPSearchProvider {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &HTTPSearchProvider{
		name:    cfg.Name,
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (p *HTTPSearchProvider) Name() string { return p.name }

type searchRequest struct {
	Query string `json:"query"`
	Scope string `json:"scope,omitempty"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
	Confidence float64 `json:"confidence"`
	Cost       float64 `json:"cost"`
}

// Search issues one research call. Failures are classified so the caller's
// retry policy can distinguish transient exhaustion from permanent rejection.
func (p *HTTPSearchProvider) Search(ctx context.Context, query string) (*SearchResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, NewTransient(p.name, fmt.Errorf("rate limiter: %w", err))
	}

	body, err := json.Marshal(searchRequest{Query: query})
	if err != nil {
		return nil, NewPermanent(p.name, fmt.Errorf("marshal search request: %w", err))
	}

	url := p.baseURL + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewPermanent(p.name, fmt.Errorf("create search request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: p.name, Class: ClassifyErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Provider: p.name,
			Class:    ClassifyStatus(resp.StatusCode),
			Err:      fmt.Errorf("search returned status %d", resp.StatusCode),
		}
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, NewTransient(p.name, fmt.Errorf("decode search response: %w", err))
	}

	out := &SearchResult{
		ResultCount: len(sr.Results),
		Confidence:  sr.Confidence,
		CostUSD:     sr.Cost,
	}
	var text bytes.Buffer
	for _, r := range sr.Results {
		if r.Title != "" {
			text.WriteString(r.Title)
			text.WriteString(": ")
		}
		text.WriteString(r.Snippet)
		text.WriteString("\n")
		if r.URL != "" {
			out.URLs = append(out.URLs, r.URL)
		}
	}
	out.Text = text.String()
	return out, nil
}
