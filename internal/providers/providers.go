// Package providers defines the external research, extraction and media
// adapter contracts consumed by the pipeline, plus HTTP-backed default
// implementations. Adapters are injected into the activities at construction
// so tests can substitute fakes.
package providers

import "context"

// SearchResult is the payload of one successful research call. Cost is the
// provider-reported cost of the call in USD.
type SearchResult struct {
	Text        string   `json:"text"`
	URLs        []string `json:"urls,omitempty"`
	ResultCount int      `json:"result_count"`
	Confidence  float64  `json:"confidence,omitempty"` // 0 when the provider does not report one
	CostUSD     float64  `json:"cost_usd"`
}

// SearchProvider is one independent research source.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string) (*SearchResult, error)
}

// CrawlResult holds the page text fetched for a set of URLs.
type CrawlResult struct {
	Pages   []string `json:"pages"`
	CostUSD float64  `json:"cost_usd"`
}

// Crawler fetches page content for URLs surfaced by search.
type Crawler interface {
	Crawl(ctx context.Context, urls []string) (*CrawlResult, error)
}

// ExtractResult is the raw typed payload returned by the extraction service.
// The payload is validated against the fixed profile schema by the caller;
// the service must fail closed rather than invent fields outside the schema.
type ExtractResult struct {
	Payload map[string]any `json:"payload"`
	CostUSD float64        `json:"cost_usd"`
}

// Extractor turns concatenated evidence into a schema-shaped payload. strict
// requests a stricter instruction after a schema violation; it is used for the
// single extraction retry.
type Extractor interface {
	Extract(ctx context.Context, evidence string, schema map[string]any, strict bool) (*ExtractResult, error)
}

// Media job poll states reported by the synthesis service.
const (
	MediaJobPending = "pending"
	MediaJobDone    = "done"
	MediaJobFailed  = "failed"
)

// MediaPoll is one observation of a long-running media job.
type MediaPoll struct {
	Status   string  `json:"status"`
	AssetURL string  `json:"asset,omitempty"`
	CostUSD  float64 `json:"cost_usd"`
}

// MediaSynthesizer submits long-running media jobs and polls them.
type MediaSynthesizer interface {
	Submit(ctx context.Context, prompt string) (string, error)
	Poll(ctx context.Context, handle string) (*MediaPoll, error)
}
