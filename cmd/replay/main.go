// Package main replays a journal of trades against historical bars:
// for each trade it walks the candles over the trade's lifetime, prints
// the stats timeline, and finishes with journal-level aggregates.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"journal-core/internal/candlecache"
	"journal-core/internal/domain"
	"journal-core/internal/marketdata"
	"journal-core/internal/storage/memory"
	"journal-core/internal/tradestats"
)

func main() {
	_ = godotenv.Load()

	tradesPath := flag.String("trades", "", "Path to trades JSON file (required)")
	restEndpoint := flag.String("rest-endpoint", envOr("REST_ENDPOINT", "https://api.bybit.com"), "Exchange REST API base URL")
	interval := flag.String("interval", "1h", "Bar interval for the replay walk")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	verbose := flag.Bool("verbose", false, "Print every bar of each trade's timeline")

	flag.Parse()

	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	if *tradesPath == "" {
		logger.Fatal("--trades is required")
	}

	iv, err := domain.ParseInterval(*interval)
	if err != nil {
		logger.Fatalf("parse interval: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	trades, err := loadTrades(*tradesPath)
	if err != nil {
		logger.Fatalf("load trades: %v", err)
	}
	if len(trades) == 0 {
		logger.Fatal("no trades in file")
	}
	logger.Printf("Loaded %d trades from %s", len(trades), *tradesPath)

	cache := candlecache.New(memory.NewCacheStore())
	rest := marketdata.NewRESTClient(*restEndpoint)
	service := marketdata.NewService(cache, rest)

	var timelines []TradeTimeline
	for i := range trades {
		tl, err := replayTrade(ctx, service, &trades[i], iv, *verbose && !*outputJSON)
		if err != nil {
			logger.Printf("trade %d (%s): %v", i, trades[i].Symbol, err)
			continue
		}
		timelines = append(timelines, tl)
	}

	journal := tradestats.ComputeJournalStats(trades)

	if *outputJSON {
		out, _ := json.MarshalIndent(struct {
			Trades  []TradeTimeline         `json:"trades"`
			Journal tradestats.JournalStats `json:"journal"`
		}{timelines, journal}, "", "  ")
		fmt.Println(string(out))
		return
	}

	fmt.Printf("\n=== Journal Summary ===\n")
	fmt.Printf("Closed Trades:          %d\n", journal.TotalTrades)
	fmt.Printf("Wins / Losses:          %d / %d\n", journal.Wins, journal.Losses)
	fmt.Printf("Win Rate:               %.2f%%\n", journal.WinRate*100)
	fmt.Printf("Net PnL:                %.2f\n", journal.NetPnL)
	fmt.Printf("Profit Factor:          %.2f\n", journal.ProfitFactor)
	fmt.Printf("Expectancy:             %.2f\n", journal.Expectancy)
	fmt.Printf("Max Drawdown:           %.2f\n", journal.MaxDrawdown)
	fmt.Printf("Max Consecutive Losses: %d\n", journal.MaxConsecutiveLosses)
}

// TradeTimeline is the replay result for one trade.
type TradeTimeline struct {
	Symbol     string             `json:"symbol"`
	Bars       int                `json:"bars"`
	FinalStats *domain.TradeStats `json:"final_stats,omitempty"`
}

// replayTrade fetches the trade's bar range and walks it, computing
// stats at every bar.
func replayTrade(ctx context.Context, service *marketdata.Service, trade *domain.Trade, interval domain.Interval, verbose bool) (TradeTimeline, error) {
	tl := TradeTimeline{Symbol: trade.Symbol}

	start := trade.EntryTime
	end := trade.ExitTime
	if end == 0 {
		end = time.Now().UnixMilli()
	}
	// Pad one bar either side so the walk sees the entry and exit bars.
	start -= interval.Millis()
	end += interval.Millis()

	candles, err := service.GetCandles(ctx, trade.Symbol, interval, start, end)
	if err != nil {
		return tl, err
	}
	if len(candles) == 0 {
		return tl, fmt.Errorf("empty range [%d, %d]", start, end)
	}

	var last *domain.TradeStats
	for i := range candles {
		stats := tradestats.Compute(trade, &candles[i])
		if stats == nil {
			continue
		}
		last = stats
		if verbose {
			fmt.Printf("[%s] %s price=%.4f pnl=%.2f (%.2f%%) status=%s\n",
				time.UnixMilli(candles[i].Time).Format(time.RFC3339),
				trade.Symbol,
				stats.CurrentPrice,
				stats.UnrealizedPnL,
				stats.UnrealizedPnLPct,
				stats.Status,
			)
		}
	}

	tl.Bars = len(candles)
	tl.FinalStats = last
	return tl, nil
}

// loadTrades reads a JSON array of trades.
func loadTrades(path string) ([]domain.Trade, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var trades []domain.Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return trades, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
