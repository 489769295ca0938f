package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPExtractor calls the extraction service with a fixed target schema. The
// service contract is fail-closed: it must reject rather than invent fields
// outside the schema; residual violations are handled field-by-field upstream.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExtractor(baseURL string) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type extractRequest struct {
	Context string         `json:"context"`
	Schema  map[string]any `json:"schema"`
	Strict  bool           `json:"strict"`
}

type extractResponse struct {
	Payload map[string]any `json:"payload"`
	Cost    float64        `json:"cost"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, evidence string, schema map[string]any, strict bool) (*ExtractResult, error) {
	const name = "extractor"

	body, err := json.Marshal(extractRequest{Context: evidence, Schema: schema, Strict: strict})
	if err != nil {
		return nil, NewPermanent(name, fmt.Errorf("marshal extract request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, NewPermanent(name, fmt.Errorf("create extract request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: name, Class: ClassifyErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Provider: name,
			Class:    ClassifyStatus(resp.StatusCode),
			Err:      fmt.Errorf("extract returned status %d", resp.StatusCode),
		}
	}

	var er extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, NewTransient(name, fmt.Errorf("decode extract response: %w", err))
	}
	if er.Payload == nil {
		return nil, NewTransient(name, fmt.Errorf("extract returned empty payload"))
	}
	return &ExtractResult{Payload: er.Payload, CostUSD: er.Cost}, nil
}
