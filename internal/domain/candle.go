package domain

import "fmt"

// Candle represents one OHLCV bar for a symbol at a discrete open time.
// Time is a Unix timestamp in milliseconds. Within any series returned by
// the core, Time values are unique and strictly ascending.
type Candle struct {
	Time   int64   // bar open time (ms)
	Open   float64 // opening price
	High   float64 // highest price
	Low    float64 // lowest price
	Close  float64 // closing price
	Volume float64 // traded volume
}

// Price returns the candle's close, falling back to open when the close
// is not yet set (an in-progress bar published before its first trade).
func (c Candle) Price() float64 {
	if c.Close != 0 {
		return c.Close
	}
	return c.Open
}

// Interval identifies a bar aggregation period.
type Interval string

// Supported bar intervals.
const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// intervalMillis maps each interval to its duration in milliseconds.
var intervalMillis = map[Interval]int64{
	Interval1m:  60_000,
	Interval5m:  300_000,
	Interval15m: 900_000,
	Interval1h:  3_600_000,
	Interval4h:  14_400_000,
	Interval1d:  86_400_000,
}

// Millis returns the interval duration in milliseconds, or 0 for an
// unknown interval.
func (i Interval) Millis() int64 {
	return intervalMillis[i]
}

// Valid reports whether the interval is one of the supported periods.
func (i Interval) Valid() bool {
	_, ok := intervalMillis[i]
	return ok
}

// ParseInterval validates a raw interval string.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if !iv.Valid() {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return iv, nil
}
