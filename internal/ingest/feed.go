// Package ingest retrieves the upstream province feed and normalizes its
// records. Two endpoints exist: the full historical file and the latest
// snapshot; both return a JSON array of province records.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/gmarchetti/coviditaly/internal/metrics"
	"github.com/gmarchetti/coviditaly/internal/models"
)

type FeedClient struct {
	allURL    string
	latestURL string
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker
}

func NewFeedClient(allURL, latestURL string, client *http.Client) *FeedClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "covid-feed",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &FeedClient{
		allURL:    allURL,
		latestURL: latestURL,
		client:    client,
		breaker:   breaker,
	}
}

// FetchAll downloads and parses the entire historical feed.
func (c *FeedClient) FetchAll(ctx context.Context) ([]models.ProvinceCase, error) {
	return c.fetchAndParse(ctx, c.allURL, "all")
}

// FetchLatest downloads and parses the most recent snapshot.
func (c *FeedClient) FetchLatest(ctx context.Context) ([]models.ProvinceCase, error) {
	return c.fetchAndParse(ctx, c.latestURL, "latest")
}

func (c *FeedClient) fetchAndParse(ctx context.Context, url, endpoint string) ([]models.ProvinceCase, error) {
	body, err := c.fetch(ctx, url, endpoint)
	if err != nil {
		metrics.FeedAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	metrics.FeedAPICallsTotal.WithLabelValues(endpoint, "ok").Inc()

	// A response that is not a JSON array fails the whole fetch.
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("expected JSON array from %s feed: %w", endpoint, err)
	}

	return ParseRecords(raw), nil
}

func (c *FeedClient) fetch(ctx context.Context, url, endpoint string) ([]byte, error) {
	var body []byte
	operation := func() error {
		start := time.Now()
		result, err := c.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
			}
			resp, err := c.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, fmt.Errorf("fetch %s: status %d", endpoint, resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(resp.Body)
				return nil, backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", endpoint, resp.StatusCode, string(b)))
			}

			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			return b, nil
		})
		metrics.FeedAPILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(fmt.Errorf("feed circuit open: %w", err))
			}
			return err
		}
		body = result.([]byte)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
