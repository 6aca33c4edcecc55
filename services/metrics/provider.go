package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"activations-controlplane/pkg/client"
	"activations-controlplane/pkg/config"
	"activations-controlplane/services/scoring"

	"github.com/hashicorp/go-retryablehttp"
)

//go:generate mockgen -source=provider.go -destination=mock_provider.go -package=metrics

type ScrapeRequest struct {
	SubmissionID string `json:"submission_id"`
	PostURL      string `json:"post_url"`
	Platform     string `json:"platform"`
}

// Provider reads the current engagement of a published post.
type Provider interface {
	ScrapeMetrics(ctx context.Context, req ScrapeRequest) (scoring.Metrics, error)
}

type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *retryablehttp.Client
}

func NewHTTPProvider(cfg *config.Config) Provider {
	c := client.NewHTTPClient(client.HTTPOptions{
		RetryMax:     cfg.MetricsScraper.MaxRetries,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	})
	c.HTTPClient.Timeout = cfg.MetricsScraper.Timeout

	return &HTTPProvider{
		baseURL: strings.TrimRight(cfg.MetricsScraper.BaseURL, "/"),
		apiKey:  cfg.MetricsScraper.APIKey,
		client:  c,
	}
}

func (p *HTTPProvider) ScrapeMetrics(ctx context.Context, in ScrapeRequest) (scoring.Metrics, error) {
	if p.baseURL == "" {
		return scoring.Metrics{}, fmt.Errorf("metrics provider is not configured")
	}

	body, err := json.Marshal(in)
	if err != nil {
		return scoring.Metrics{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/scrape", bytes.NewReader(body))
	if err != nil {
		return scoring.Metrics{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return scoring.Metrics{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return scoring.Metrics{}, fmt.Errorf("metrics provider responded %d", resp.StatusCode)
	}

	var out scoring.Metrics
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return scoring.Metrics{}, fmt.Errorf("decode metrics: %w", err)
	}
	if out.Views < 0 || out.Likes < 0 || out.Comments < 0 {
		return scoring.Metrics{}, fmt.Errorf("metrics provider returned negative counts")
	}
	return out, nil
}
