package extract

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"rentradar/internal/domain"
)

// Request is the extraction service's typed input: the fetched page plus
// enough context for prompt construction on the service side.
type Request struct {
	URL         string `json:"url"`
	HTMLContent string `json:"html_content"`
	SourceLabel string `json:"source_label"`
}

// Response is the service's typed output. Data is the raw structured payload
// that still has to pass validation before it is trusted.
type Response struct {
	Data       map[string]any `json:"data"`
	TokensUsed int            `json:"tokens_used"`
	CostUsd    float64        `json:"cost_usd"`
}

// Client calls the external AI text-extraction service. It is synchronous
// from the pipeline's perspective; errors come back tagged with the taxonomy
// the retry controller acts on (429 -> RateLimitError, transport/5xx ->
// FetchError, other 4xx -> Fatal).
type Client struct {
	http *resty.Client
	log  *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &Client{http: c, log: log}
}

// Extract submits one page for structured extraction.
func (c *Client) Extract(ctx context.Context, req Request) (Response, error) {
	var out Response
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/v1/extract")
	if err != nil {
		return Response{}, domain.E(domain.KindFetch, err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		c.log.Warn("extraction service rate limited", zap.String("url", req.URL))
		return Response{}, domain.Ef(domain.KindRateLimit, "extraction service returned 429 for %s", req.URL)
	case resp.StatusCode() >= 500:
		return Response{}, domain.Ef(domain.KindFetch, "extraction service returned %d for %s", resp.StatusCode(), req.URL)
	case resp.StatusCode() >= 400:
		return Response{}, domain.Ef(domain.KindFatal, "extraction service rejected request: %d for %s", resp.StatusCode(), req.URL)
	}

	c.log.Debug("extraction complete",
		zap.String("url", req.URL),
		zap.Int("tokens", out.TokensUsed),
		zap.Float64("cost_usd", out.CostUsd))
	return out, nil
}
