package marketdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"journal-core/internal/domain"
)

func klineEnvelope(symbol string, rows [][]string) map[string]interface{} {
	return map[string]interface{}{
		"retCode": 0,
		"retMsg":  "OK",
		"result": map[string]interface{}{
			"symbol": symbol,
			"list":   rows,
		},
	}
}

func TestRESTClient_FetchCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/kline" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("category") != "linear" {
			t.Errorf("expected category linear, got %s", q.Get("category"))
		}
		if q.Get("symbol") != "BTCUSDT" {
			t.Errorf("expected symbol BTCUSDT, got %s", q.Get("symbol"))
		}
		if q.Get("interval") != "60" {
			t.Errorf("expected interval 60, got %s", q.Get("interval"))
		}

		// Newest-first rows, as the exchange serves them.
		rows := [][]string{
			{"1700003600000", "101", "103", "100", "102", "11"},
			{"1700000000000", "100", "102", "99", "101", "10"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(klineEnvelope("BTCUSDT", rows))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL)
	ctx := context.Background()

	candles, err := client.FetchCandles(ctx, "BTCUSDT", domain.Interval1h, 1700000000000, 1700007200000)
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}

	if candles[0].Time != 1700003600000 {
		t.Errorf("expected newest bar first from transport, got %d", candles[0].Time)
	}

	if candles[1].Open != 100 || candles[1].Close != 101 {
		t.Errorf("unexpected OHLC: %+v", candles[1])
	}

	if candles[0].Volume != 11 {
		t.Errorf("expected volume 11, got %f", candles[0].Volume)
	}
}

func TestRESTClient_FetchCandles_UnsupportedInterval(t *testing.T) {
	client := NewRESTClient("http://localhost:0")

	_, err := client.FetchCandles(context.Background(), "BTCUSDT", domain.Interval("7m"), 1, 2)
	if err == nil {
		t.Fatal("expected error for unsupported interval")
	}
}

func TestRESTClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		rows := [][]string{{"1700000000000", "100", "102", "99", "101", "10"}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(klineEnvelope("BTCUSDT", rows))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	candles, err := client.FetchCandles(context.Background(), "BTCUSDT", domain.Interval1h, 1700000000000, 1700003600000)
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}

	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestRESTClient_APIErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		resp := map[string]interface{}{
			"retCode": 10001,
			"retMsg":  "params error",
			"result":  map[string]interface{}{},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, WithMaxRetries(3), WithRetryDelay(time.Millisecond))

	_, err := client.FetchCandles(context.Background(), "BTCUSDT", domain.Interval1m, 1, 1000)
	if err == nil {
		t.Fatal("expected API error")
	}

	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt for API error, got %d", attempts.Load())
	}
}

func TestRESTClient_Pagination(t *testing.T) {
	// First request returns a full page ending above startMs; the client
	// must page backwards with end = oldest - 1.
	var requests atomic.Int32

	const step = int64(60_000)
	startMs := int64(1700000000000)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		end, _ := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)

		var rows [][]string
		if n == 1 {
			// Full page: maxKlineLimit bars newest-first, oldest above startMs.
			for i := 0; i < maxKlineLimit; i++ {
				ts := end - int64(i)*step
				rows = append(rows, []string{strconv.FormatInt(ts, 10), "1", "2", "0.5", "1.5", "3"})
			}
		} else {
			rows = [][]string{{strconv.FormatInt(startMs, 10), "1", "2", "0.5", "1.5", "3"}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(klineEnvelope("ETHUSDT", rows))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL)
	endMs := startMs + int64(maxKlineLimit+100)*step

	candles, err := client.FetchCandles(context.Background(), "ETHUSDT", domain.Interval1m, startMs, endMs)
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}

	if requests.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", requests.Load())
	}

	if len(candles) != maxKlineLimit+1 {
		t.Errorf("expected %d candles, got %d", maxKlineLimit+1, len(candles))
	}
}

func TestRESTClient_MalformedRowsSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := [][]string{
			{"1700003600000", "101", "103", "100", "102", "11"},
			{"not-a-timestamp", "1", "2", "3", "4", "5"},
			{"1700000000000", "100"},
			{"1700000000000", "100", "junk", "99", "101", "10"},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(klineEnvelope("BTCUSDT", rows))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL)

	candles, err := client.FetchCandles(context.Background(), "BTCUSDT", domain.Interval1h, 1700000000000, 1700007200000)
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("expected 2 parseable candles, got %d", len(candles))
	}

	// Junk numerics normalize to zero rather than poisoning the bar.
	if candles[1].High != 0 {
		t.Errorf("expected junk high to parse as 0, got %f", candles[1].High)
	}
}

func TestRESTClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRESTClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.FetchCandles(ctx, "BTCUSDT", domain.Interval1h, 1, 1000)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
