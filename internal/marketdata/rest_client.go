package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"journal-core/internal/domain"
	"journal-core/internal/numeric"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	// maxKlineLimit is the largest page the kline endpoint serves.
	maxKlineLimit = 1000
)

// restIntervals maps core intervals to the exchange's kline interval
// codes (Bybit v5 convention: minutes as numbers, D for daily).
var restIntervals = map[domain.Interval]string{
	domain.Interval1m:  "1",
	domain.Interval5m:  "5",
	domain.Interval15m: "15",
	domain.Interval1h:  "60",
	domain.Interval4h:  "240",
	domain.Interval1d:  "D",
}

// RESTClient implements Fetcher against a Bybit-style public kline
// endpoint.
type RESTClient struct {
	endpoint    string
	category    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures RESTClient.
type ClientOption func(*RESTClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *RESTClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *RESTClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *RESTClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *RESTClient) {
		c.client = client
	}
}

// WithCategory sets the product category (linear, inverse, spot).
func WithCategory(category string) ClientOption {
	return func(c *RESTClient) {
		c.category = category
	}
}

// NewRESTClient creates a kline REST client for the given API base URL.
func NewRESTClient(endpoint string, opts ...ClientOption) *RESTClient {
	c := &RESTClient{
		endpoint:    endpoint,
		category:    "linear",
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// klineResponse is the exchange's kline envelope. OHLCV values arrive as
// strings; rows are [startTimeMs, open, high, low, close, volume, ...].
type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol string     `json:"symbol"`
		List   [][]string `json:"list"`
	} `json:"result"`
}

// FetchCandles retrieves bars for [startMs, endMs]. The exchange returns
// newest-first pages; this client pages backwards until the range is
// covered and leaves final ordering to the caller.
func (c *RESTClient) FetchCandles(ctx context.Context, symbol string, interval domain.Interval, startMs, endMs int64) ([]domain.Candle, error) {
	code, ok := restIntervals[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}

	var all []domain.Candle
	pageEnd := endMs
	for {
		page, err := c.fetchPage(ctx, symbol, code, startMs, pageEnd)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)

		// Pages arrive newest-first; the last row is the oldest bar.
		oldest := page[len(page)-1].Time
		if oldest <= startMs || len(page) < maxKlineLimit {
			break
		}
		pageEnd = oldest - 1
	}

	return all, nil
}

// fetchPage performs one kline request with retries and exponential
// backoff, mirroring the transport policy of the rest of the system:
// transport errors and 429s are retried, API-level errors are not.
func (c *RESTClient) fetchPage(ctx context.Context, symbol, intervalCode string, startMs, endMs int64) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", symbol)
	q.Set("interval", intervalCode)
	q.Set("start", strconv.FormatInt(startMs, 10))
	q.Set("end", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(maxKlineLimit))
	reqURL := c.endpoint + "/v5/market/kline?" + q.Encode()

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
			continue
		}

		var kr klineResponse
		if err := json.Unmarshal(body, &kr); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if kr.RetCode != 0 {
			// API errors are not retried
			return nil, fmt.Errorf("kline API error %d: %s", kr.RetCode, kr.RetMsg)
		}

		return parseKlineRows(kr.Result.List), nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// parseKlineRows converts string-typed kline rows into candles. Rows too
// short to carry OHLC are dropped; junk numerics normalize to zero.
func parseKlineRows(rows [][]string) []domain.Candle {
	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		c := domain.Candle{
			Time:  ts,
			Open:  numeric.ParseFinite(row[1]),
			High:  numeric.ParseFinite(row[2]),
			Low:   numeric.ParseFinite(row[3]),
			Close: numeric.ParseFinite(row[4]),
		}
		if len(row) > 5 {
			c.Volume = numeric.ParseFinite(row[5])
		}
		candles = append(candles, c)
	}
	return candles
}

var _ Fetcher = (*RESTClient)(nil)
