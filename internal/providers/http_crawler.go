package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPCrawler fetches page content through a crawl service.
type HTTPCrawler struct {
	baseURL string
	client  *http.Client
}

func NewHTTPCrawler(baseURL string) *HTTPCrawler {
	return &HTTPCrawler{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type crawlRequest struct {
	URLs []string `json:"urls"`
}

type crawlResponse struct {
	Pages []struct {
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"pages"`
	Cost float64 `json:"cost"`
}

func (c *HTTPCrawler) Crawl(ctx context.Context, urls []string) (*CrawlResult, error) {
	const name = "crawler"
	if len(urls) == 0 {
		return &CrawlResult{}, nil
	}

	body, err := json.Marshal(crawlRequest{URLs: urls})
	if err != nil {
		return nil, NewPermanent(name, fmt.Errorf("marshal crawl request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/crawl", bytes.NewReader(body))
	if err != nil {
		return nil, NewPermanent(name, fmt.Errorf("create crawl request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: name, Class: ClassifyErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Provider: name,
			Class:    ClassifyStatus(resp.StatusCode),
			Err:      fmt.Errorf("crawl returned status %d", resp.StatusCode),
		}
	}

	var cr crawlResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, NewTransient(name, fmt.Errorf("decode crawl response: %w", err))
	}

	out := &CrawlResult{CostUSD: cr.Cost}
	for _, p := range cr.Pages {
		if p.Content != "" {
			out.Pages = append(out.Pages, p.Content)
		}
	}
	return out, nil
}
