// Package provider implements ProviderClient over HTTP. The client is
// provider-agnostic: it forwards an opaque JSON payload, reads the token
// usage the provider reports back, and prices it from configuration.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/ports"
)

// Pricing is USD per 1000 tokens, split by direction.
type Pricing struct {
	InPer1K  float64
	OutPer1K float64
}

// Config describes one upstream provider.
type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	Pricing Pricing
	Timeout time.Duration
}

// HTTPClient implements ports.ProviderClient for one provider.
type HTTPClient struct {
	cfg    Config
	client *http.Client
}

// NewHTTPClient creates a provider client. A missing pricing table is a
// construction-time error so misconfiguration surfaces before traffic.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base URL required", cfg.Name)
	}
	if cfg.Pricing.InPer1K < 0 || cfg.Pricing.OutPer1K < 0 {
		return nil, fmt.Errorf("provider %s: negative pricing", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the provider name.
func (c *HTTPClient) Name() string {
	return c.cfg.Name
}

// usageBody matches the usage block most JSON APIs report. OpenAI-style
// prompt/completion fields and Anthropic-style input/output fields are
// both accepted.
type usageBody struct {
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		InputTokens      int64 `json:"input_tokens"`
		OutputTokens     int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke forwards the payload and meters the response.
func (c *HTTPClient) Invoke(ctx context.Context, req ports.ProviderRequest) (ports.ProviderResult, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(req.Endpoint, "/")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Payload))
	if err != nil {
		return ports.ProviderResult{}, fmt.Errorf("%w: build request: %v", errclass.ErrUnknownProvider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// Let the caller distinguish its own deadline from transport trouble.
		if ctx.Err() != nil {
			return ports.ProviderResult{}, ctx.Err()
		}
		return ports.ProviderResult{}, fmt.Errorf("provider %s unreachable: %w", c.cfg.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return ports.ProviderResult{}, fmt.Errorf("provider %s response: %w", c.cfg.Name, err)
	}

	result := ports.ProviderResult{StatusCode: resp.StatusCode, Body: body}

	var ub usageBody
	if err := json.Unmarshal(body, &ub); err == nil {
		result.TokensIn = ub.Usage.PromptTokens + ub.Usage.InputTokens
		result.TokensOut = ub.Usage.CompletionTokens + ub.Usage.OutputTokens
	}
	result.CostUSD = float64(result.TokensIn)/1000*c.cfg.Pricing.InPer1K +
		float64(result.TokensOut)/1000*c.cfg.Pricing.OutPer1K

	return result, nil
}

// Ensure interface compliance.
var _ ports.ProviderClient = (*HTTPClient)(nil)
