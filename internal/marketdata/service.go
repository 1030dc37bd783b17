package marketdata

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"journal-core/internal/candlecache"
	"journal-core/internal/domain"
	"journal-core/internal/observability"
	"journal-core/internal/storage"
)

// Service resolves historical bar requests through the three-source
// precedence chain: cache, archive, remote endpoint. Results are
// normalized (sorted ascending, unique times) before they are cached
// or returned.
type Service struct {
	cache   *candlecache.Cache
	archive storage.CandleArchive
	remote  Fetcher
	metrics *observability.Metrics
	logger  *log.Logger
}

// ServiceOption configures Service.
type ServiceOption func(*Service)

// WithArchive attaches a long-term candle archive consulted before the
// remote endpoint.
func WithArchive(archive storage.CandleArchive) ServiceOption {
	return func(s *Service) {
		s.archive = archive
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *log.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// NewService creates a Service. cache and remote are required; the
// archive is optional.
func NewService(cache *candlecache.Cache, remote Fetcher, opts ...ServiceOption) *Service {
	s := &Service{
		cache:  cache,
		remote: remote,
		logger: log.New(os.Stdout, "[marketdata] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCandles returns bars for [startMs, endMs], ascending by time with
// unique timestamps. A degenerate range (zero bound, or start >= end)
// returns an empty slice and no error. When every source is reachable
// but the range holds no bars, the error is ErrNoData; transport
// failures surface as ordinary wrapped errors.
func (s *Service) GetCandles(ctx context.Context, symbol string, interval domain.Interval, startMs, endMs int64) ([]domain.Candle, error) {
	if startMs == 0 || endMs == 0 || startMs >= endMs {
		return []domain.Candle{}, nil
	}
	if !interval.Valid() {
		return nil, fmt.Errorf("%w: invalid interval %q", storage.ErrInvalidInput, interval)
	}

	if candles, ok := s.cache.Get(ctx, symbol, interval, startMs, endMs); ok {
		if s.metrics != nil {
			s.metrics.CacheHits.Inc()
		}
		s.countRequest("cache", nil)
		s.countReturned(len(candles))
		return candles, nil
	}
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
	}

	if s.archive != nil {
		archiveStart := time.Now()
		candles, err := s.fromArchive(ctx, symbol, interval, startMs, endMs)
		s.metrics.RecordDBQuery("archive", "get_range", time.Since(archiveStart).Seconds(), err)
		if err != nil {
			s.logger.Printf("archive lookup failed for %s %s: %v", symbol, interval, err)
		} else if candles != nil {
			s.countRequest("archive", nil)
			s.cache.Put(ctx, symbol, interval, startMs, endMs, candles)
			s.countReturned(len(candles))
			return candles, nil
		}
	}

	start := time.Now()
	fetched, err := s.remote.FetchCandles(ctx, symbol, interval, startMs, endMs)
	s.observeLatency("remote", time.Since(start))
	if err != nil {
		s.countRequest("remote", err)
		return nil, fmt.Errorf("fetch candles %s %s: %w", symbol, interval, err)
	}
	s.countRequest("remote", nil)

	candles := Normalize(fetched, startMs, endMs)
	if len(candles) == 0 {
		if s.metrics != nil {
			s.metrics.FetchNoData.Inc()
		}
		return nil, fmt.Errorf("%w: %s %s [%d, %d]", ErrNoData, symbol, interval, startMs, endMs)
	}

	s.cache.Put(ctx, symbol, interval, startMs, endMs, candles)
	if s.archive != nil {
		// Best effort: archive writes never fail the request.
		insertStart := time.Now()
		err := s.archive.InsertBulk(ctx, symbol, interval, candles)
		s.metrics.RecordDBQuery("archive", "insert_bulk", time.Since(insertStart).Seconds(), err)
		if err != nil {
			s.logger.Printf("archive insert failed for %s %s: %v", symbol, interval, err)
		}
	}

	if s.metrics != nil {
		s.metrics.LastSuccessfulFetch.SetToCurrentTime()
	}
	s.countReturned(len(candles))
	return candles, nil
}

// fromArchive returns archived bars when they plausibly cover the
// requested range, nil otherwise. Coverage requires the first and last
// archived bars to sit within one interval of the range bounds and no
// internal gap wider than one interval. Partial archive contents fall
// through to the remote fetch rather than serving holes.
func (s *Service) fromArchive(ctx context.Context, symbol string, interval domain.Interval, startMs, endMs int64) ([]domain.Candle, error) {
	candles, err := s.archive.GetRange(ctx, symbol, interval, startMs, endMs)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}

	step := interval.Millis()
	if candles[0].Time > startMs+step || candles[len(candles)-1].Time < endMs-step {
		return nil, nil
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Time-candles[i-1].Time > step {
			return nil, nil
		}
	}
	return candles, nil
}

// Normalize sorts bars ascending by time, drops bars outside
// [startMs, endMs], and collapses duplicate timestamps keeping the
// last occurrence in input order.
func Normalize(candles []domain.Candle, startMs, endMs int64) []domain.Candle {
	inRange := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Time >= startMs && c.Time <= endMs {
			inRange = append(inRange, c)
		}
	}

	// Later input occurrences win for duplicate times.
	byTime := make(map[int64]domain.Candle, len(inRange))
	for _, c := range inRange {
		byTime[c.Time] = c
	}

	out := make([]domain.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func (s *Service) countRequest(source string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.FetchRequests.WithLabelValues(source).Inc()
	if err != nil {
		s.metrics.FetchFailures.WithLabelValues(source).Inc()
	}
}

func (s *Service) countReturned(n int) {
	if s.metrics == nil {
		return
	}
	s.metrics.CandlesFetched.Add(float64(n))
}

func (s *Service) observeLatency(source string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.FetchLatency.WithLabelValues(source).Observe(d.Seconds())
}
