package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPSource fetches forecasts from the forecasting service over HTTP.
// Retries are left to the caller: a failed fetch defers automation.
type HTTPSource struct {
	client *resty.Client
	url    string
}

// NewHTTPSource creates a source for GET url with the given timeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPSource{client: client, url: url}
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) (Forecast, error) {
	var f Forecast
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&f).
		Get(s.url)
	if err != nil {
		return Forecast{}, fmt.Errorf("get forecast: %w", err)
	}
	if resp.IsError() {
		return Forecast{}, fmt.Errorf("get forecast: status %d", resp.StatusCode())
	}
	return f, nil
}
