package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"rentradar/internal/domain"
)

const defaultUserAgent = "rentradar/1.0 (+listing price monitor)"

// Fetcher performs the plain size-capped GET for a listing page. Every
// failure here is a FetchError: retryable, never fatal.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func New(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch retrieves up to maxBytes of the page body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", domain.E(domain.KindFetch, err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", domain.E(domain.KindFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.Ef(domain.KindFetch, "unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return "", domain.E(domain.KindFetch, err)
	}
	return string(body), nil
}
