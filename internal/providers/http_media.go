package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPMediaSynthesizer submits long-running media jobs to a synthesis service
// and polls them by handle. Polling cadence and deadlines are owned by the
// media activity, not the adapter.
type HTTPMediaSynthesizer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPMediaSynthesizer(baseURL string) *HTTPMediaSynthesizer {
	return &HTTPMediaSynthesizer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type mediaSubmitRequest struct {
	Prompt string `json:"prompt"`
}

type mediaSubmitResponse struct {
	JobID string `json:"job_id"`
}

func (m *HTTPMediaSynthesizer) Submit(ctx context.Context, prompt string) (string, error) {
	const name = "media"

	body, err := json.Marshal(mediaSubmitRequest{Prompt: prompt})
	if err != nil {
		return "", NewPermanent(name, fmt.Errorf("marshal submit request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", NewPermanent(name, fmt.Errorf("create submit request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", &Error{Provider: name, Class: ClassifyErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{
			Provider: name,
			Class:    ClassifyStatus(resp.StatusCode),
			Err:      fmt.Errorf("submit returned status %d", resp.StatusCode),
		}
	}

	var sr mediaSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", NewTransient(name, fmt.Errorf("decode submit response: %w", err))
	}
	if sr.JobID == "" {
		return "", NewTransient(name, fmt.Errorf("submit returned empty job id"))
	}
	return sr.JobID, nil
}

type mediaPollResponse struct {
	Status string  `json:"status"`
	Asset  string  `json:"asset,omitempty"`
	Cost   float64 `json:"cost"`
}

func (m *HTTPMediaSynthesizer) Poll(ctx context.Context, handle string) (*MediaPoll, error) {
	const name = "media"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/jobs/"+handle, nil)
	if err != nil {
		return nil, NewPermanent(name, fmt.Errorf("create poll request: %w", err))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: name, Class: ClassifyErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Provider: name,
			Class:    ClassifyStatus(resp.StatusCode),
			Err:      fmt.Errorf("poll returned status %d", resp.StatusCode),
		}
	}

	var pr mediaPollResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, NewTransient(name, fmt.Errorf("decode poll response: %w", err))
	}
	switch pr.Status {
	case MediaJobPending, MediaJobDone, MediaJobFailed:
	default:
		return nil, NewTransient(name, fmt.Errorf("poll returned unknown status %q", pr.Status))
	}
	return &MediaPoll{Status: pr.Status, AssetURL: pr.Asset, CostUSD: pr.Cost}, nil
}
