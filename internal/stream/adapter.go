package stream

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"journal-core/internal/domain"
	"journal-core/internal/observability"
	"journal-core/internal/storage"
)

// DefaultRetention is the number of bars kept per live series.
const DefaultRetention = 500

// BarSource is the transport behind the adapter. WSClient is the
// production implementation; tests substitute a fake.
type BarSource interface {
	Subscribe(ctx context.Context, symbol string, interval domain.Interval) (<-chan BarEvent, error)
	Unsubscribe(symbol string, interval domain.Interval) error
}

// BarHandler receives every merged live bar.
type BarHandler func(ev BarEvent)

// CancelFunc tears down a subscription. Safe to call more than once.
type CancelFunc func()

// Adapter maintains live per-symbol candle series on top of a
// BarSource. Events matching an existing timestamp replace that bar in
// place; newer timestamps append; older ones insert in time order. Each
// series is capped at the retention limit, oldest bars dropped first.
type Adapter struct {
	source    BarSource
	retention int
	logger    *log.Logger
	metrics   *observability.Metrics
	archive   storage.CandleArchive

	mu     sync.Mutex
	subs   map[string]*subscription
	series map[string][]domain.Candle

	nextID atomic.Uint64
}

// subscription is one active Subscribe call.
type subscription struct {
	id      uint64
	key     string
	cancel  context.CancelFunc
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// AdapterOption configures Adapter.
type AdapterOption func(*Adapter)

// WithRetention sets the per-series bar cap.
func WithRetention(n int) AdapterOption {
	return func(a *Adapter) {
		if n > 0 {
			a.retention = n
		}
	}
}

// WithAdapterLogger sets the adapter logger.
func WithAdapterLogger(l *log.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = l
	}
}

// WithAdapterMetrics attaches Prometheus metrics.
func WithAdapterMetrics(m *observability.Metrics) AdapterOption {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// WithArchiveSink persists confirmed bars to the candle archive as they
// close. Writes are best effort and never interrupt delivery.
func WithArchiveSink(archive storage.CandleArchive) AdapterOption {
	return func(a *Adapter) {
		a.archive = archive
	}
}

// NewAdapter creates an Adapter over source.
func NewAdapter(source BarSource, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		source:    source,
		retention: DefaultRetention,
		logger:    log.New(os.Stdout, "[stream] ", log.LstdFlags),
		subs:      make(map[string]*subscription),
		series:    make(map[string][]domain.Candle),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Subscribe opens live kline delivery for the given symbols. onBar is
// invoked for every merged bar, from the subscription's own goroutines.
// Subscribing again with the same symbols and interval while the first
// subscription is active is a no-op returning the existing cancel.
// The returned CancelFunc is idempotent; bars arriving after cancel are
// discarded.
func (a *Adapter) Subscribe(ctx context.Context, symbols []string, interval domain.Interval, onBar BarHandler) (CancelFunc, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols")
	}
	if !interval.Valid() {
		return nil, fmt.Errorf("invalid interval %q", interval)
	}

	key := subscriptionKey(symbols, interval)

	a.mu.Lock()
	if existing, ok := a.subs[key]; ok {
		a.mu.Unlock()
		return a.cancelFunc(existing, symbols, interval), nil
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		id:     a.nextID.Add(1),
		key:    key,
		cancel: cancel,
	}
	a.subs[key] = sub
	a.mu.Unlock()

	var channels []<-chan BarEvent
	for _, symbol := range symbols {
		ch, err := a.source.Subscribe(subCtx, symbol, interval)
		if err != nil {
			cancel()
			a.mu.Lock()
			delete(a.subs, key)
			a.mu.Unlock()
			for _, s := range symbols[:len(channels)] {
				a.source.Unsubscribe(s, interval)
			}
			return nil, fmt.Errorf("subscribe %s %s: %w", symbol, interval, err)
		}
		channels = append(channels, ch)
	}

	for _, ch := range channels {
		sub.wg.Add(1)
		go a.consume(subCtx, sub, ch, onBar)
	}

	if a.metrics != nil {
		a.metrics.ActiveSubscriptions.Inc()
	}
	a.logger.Printf("subscribed %s %s", strings.Join(symbols, ","), interval)

	return a.cancelFunc(sub, symbols, interval), nil
}

// cancelFunc builds the idempotent teardown closure for sub.
func (a *Adapter) cancelFunc(sub *subscription, symbols []string, interval domain.Interval) CancelFunc {
	return func() {
		if sub.stopped.Swap(true) {
			return
		}
		sub.cancel()

		a.mu.Lock()
		// Another Subscribe may have replaced the key after a prior
		// cancel; only remove our own entry.
		if cur, ok := a.subs[sub.key]; ok && cur.id == sub.id {
			delete(a.subs, sub.key)
		}
		a.mu.Unlock()

		for _, symbol := range symbols {
			if err := a.source.Unsubscribe(symbol, interval); err != nil {
				a.logger.Printf("unsubscribe %s %s: %v", symbol, interval, err)
			}
		}
		sub.wg.Wait()

		if a.metrics != nil {
			a.metrics.ActiveSubscriptions.Dec()
		}
	}
}

// consume merges events from one topic channel until the subscription
// ends or the channel closes.
func (a *Adapter) consume(ctx context.Context, sub *subscription, ch <-chan BarEvent, onBar BarHandler) {
	defer sub.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			// Stray deliveries racing a cancel are dropped.
			if sub.stopped.Load() {
				return
			}
			a.merge(ev)
			if onBar != nil {
				onBar(ev)
			}
		}
	}
}

// merge applies one event to its series under the retention cap.
func (a *Adapter) merge(ev BarEvent) {
	key := seriesKey(ev.Symbol, ev.Interval)

	a.mu.Lock()
	series := a.series[key]
	replaced := false
	switch {
	case len(series) > 0 && series[len(series)-1].Time == ev.Bar.Time:
		series[len(series)-1] = ev.Bar
		replaced = true
	case len(series) > 0 && series[len(series)-1].Time > ev.Bar.Time:
		// Late delivery for an earlier bar, such as a final confirm
		// arriving after the next bar opened.
		i := sort.Search(len(series), func(i int) bool { return series[i].Time >= ev.Bar.Time })
		if i < len(series) && series[i].Time == ev.Bar.Time {
			series[i] = ev.Bar
			replaced = true
		} else {
			series = append(series, domain.Candle{})
			copy(series[i+1:], series[i:])
			series[i] = ev.Bar
			if len(series) > a.retention {
				series = series[len(series)-a.retention:]
			}
		}
	default:
		series = append(series, ev.Bar)
		if len(series) > a.retention {
			series = series[len(series)-a.retention:]
		}
	}
	a.series[key] = series
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.BarsReceived.Inc()
		if replaced {
			a.metrics.BarsReplaced.Inc()
		}
	}

	if ev.Confirmed && a.archive != nil {
		ctx := context.Background()
		if err := a.archive.InsertBulk(ctx, ev.Symbol, ev.Interval, []domain.Candle{ev.Bar}); err != nil {
			a.logger.Printf("archive confirmed bar %s %s: %v", ev.Symbol, ev.Interval, err)
		}
	}
}

// Series returns a copy of the live series for symbol/interval, oldest
// first. Returns nil when no bars have been received.
func (a *Adapter) Series(symbol string, interval domain.Interval) []domain.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	series := a.series[seriesKey(symbol, interval)]
	if len(series) == 0 {
		return nil
	}
	out := make([]domain.Candle, len(series))
	copy(out, series)
	return out
}

// ActiveSubscriptions returns the number of open subscriptions.
func (a *Adapter) ActiveSubscriptions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

func subscriptionKey(symbols []string, interval domain.Interval) string {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)
	return string(interval) + "|" + strings.Join(sorted, ",")
}

func seriesKey(symbol string, interval domain.Interval) string {
	return symbol + "|" + string(interval)
}
