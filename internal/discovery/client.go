package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mselser95/updown-pairs/pkg/types"
)

// listingLimit is the page size for the open-events fallback. Updown events
// are short-lived, so one page covers every open window across all assets.
const listingLimit = 100

// Client is an HTTP client for the Polymarket Gamma /events endpoint.
// Requests are rate limited client-side; the targeted retry loop in the
// asset manager would otherwise hammer the API while a window is still
// being created upstream.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new Gamma API client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(4), 8),
		logger:  logger,
	}
}

// FetchEventsBySlug fetches the event with the exact slug. Gamma returns an
// array; it is empty when the window does not exist yet.
func (c *Client) FetchEventsBySlug(ctx context.Context, slug string) ([]types.GammaEvent, error) {
	params := url.Values{}
	params.Add("slug", slug)
	return c.getEvents(ctx, params)
}

// FetchOpenEvents fetches open events ordered by start date ascending, for
// the broad-listing fallback when targeted slug lookups find nothing.
func (c *Client) FetchOpenEvents(ctx context.Context) ([]types.GammaEvent, error) {
	params := url.Values{}
	params.Add("closed", "false")
	params.Add("limit", strconv.Itoa(listingLimit))
	params.Add("order", "startDate")
	params.Add("ascending", "true")
	return c.getEvents(ctx, params)
}

func (c *Client) getEvents(ctx context.Context, params url.Values) ([]types.GammaEvent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	requestURL := fmt.Sprintf("%s/events?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "updown-pairs/1.0")

	c.logger.Debug("fetching-events", zap.String("url", requestURL))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	RequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		RequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		RequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		RequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var events []types.GammaEvent
	if err := json.Unmarshal(body, &events); err != nil {
		RequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}

	RequestsTotal.WithLabelValues("200").Inc()
	c.logger.Debug("fetched-events", zap.Int("count", len(events)))
	return events, nil
}
