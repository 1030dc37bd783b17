// Package main runs the journal analytics daemon:
// - Historical bars: cache -> archive -> remote kline endpoint
// - Live bars: websocket kline subscriptions with rolling series
// - Analytics: risk metrics, per-trade stats, journal aggregates over HTTP
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"journal-core/internal/candlecache"
	"journal-core/internal/domain"
	"journal-core/internal/marketdata"
	"journal-core/internal/observability"
	"journal-core/internal/risk"
	"journal-core/internal/storage"
	chstore "journal-core/internal/storage/clickhouse"
	"journal-core/internal/storage/memory"
	"journal-core/internal/storage/migrations"
	pgstore "journal-core/internal/storage/postgres"
	"journal-core/internal/stream"
	"journal-core/internal/tradestats"
)

// Server holds all components of the daemon.
type Server struct {
	service *marketdata.Service
	adapter *stream.Adapter
	metrics *observability.Metrics
	logger  *log.Logger
	started time.Time
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	restEndpoint := flag.String("rest-endpoint", envOr("REST_ENDPOINT", "https://api.bybit.com"), "Exchange REST API base URL")
	wsEndpoint := flag.String("ws-endpoint", envOr("WS_ENDPOINT", "wss://stream.bybit.com/v5/public/linear"), "Exchange public WebSocket URL")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	symbols := flag.String("symbols", os.Getenv("LIVE_SYMBOLS"), "Comma-separated symbols to stream live (empty disables streaming)")
	liveInterval := flag.String("live-interval", envOr("LIVE_INTERVAL", "1m"), "Kline interval for live streaming")
	cacheTTL := flag.Duration("cache-ttl", 72*time.Hour, "Candle cache entry TTL")
	cacheCapacity := flag.Int("cache-capacity", 50, "Candle cache entry capacity")
	retention := flag.Int("retention", stream.DefaultRetention, "Bars kept per live series")
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")

	flag.Parse()

	logger := log.New(os.Stdout, "[journald] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cacheStore, archive, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics("")

	cache := candlecache.New(cacheStore,
		candlecache.WithTTL(*cacheTTL),
		candlecache.WithCapacity(*cacheCapacity),
		candlecache.WithLogger(log.New(os.Stdout, "[cache] ", log.LstdFlags)),
		candlecache.WithMetrics(metrics),
	)

	rest := marketdata.NewRESTClient(*restEndpoint)
	service := marketdata.NewService(cache, rest,
		marketdata.WithArchive(archive),
		marketdata.WithMetrics(metrics),
	)

	server := &Server{
		service: service,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}

	// Live streaming is optional; without symbols the daemon serves
	// historical and analytics endpoints only.
	symbolList := splitSymbols(*symbols)
	if len(symbolList) > 0 {
		interval, err := domain.ParseInterval(*liveInterval)
		if err != nil {
			logger.Fatalf("Invalid --live-interval: %v", err)
		}

		ws, err := stream.NewWSClient(ctx, *wsEndpoint, nil)
		if err != nil {
			logger.Fatalf("Failed to connect websocket: %v", err)
		}
		defer ws.Close()
		ws.SetReconnectHook(func() { metrics.StreamReconnects.Inc() })

		adapter := stream.NewAdapter(ws,
			stream.WithRetention(*retention),
			stream.WithAdapterMetrics(metrics),
			stream.WithArchiveSink(archive),
		)

		cancelSub, err := adapter.Subscribe(ctx, symbolList, interval, nil)
		if err != nil {
			logger.Fatalf("Failed to subscribe: %v", err)
		}
		defer cancelSub()

		server.adapter = adapter
		logger.Printf("Streaming %v at %s", symbolList, interval)
	}

	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: server.routes(),
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.UptimeSeconds.Inc()
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("Listening on %s", *listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, shutting down...", sig)
	case err := <-errCh:
		logger.Printf("HTTP server error: %v", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Shutdown error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores wires the durable cache tier and the candle archive.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.CacheStore, storage.CandleArchive, func(), error) {
	if useMemory {
		return memory.NewCacheStore(), memory.NewCandleArchive(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return pgstore.NewCacheStore(pool), chstore.NewCandleArchive(chConn), cleanup, nil
}

// routes builds the HTTP mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/candles", s.handleCandles)
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/risk", s.handleRisk)
	mux.HandleFunc("/trade/stats", s.handleTradeStats)
	mux.HandleFunc("/journal/stats", s.handleJournalStats)

	return mux
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Streaming     bool   `json:"streaming"`
	Subscriptions int    `json:"subscriptions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:    "running",
		Uptime:    time.Since(s.started).String(),
		Streaming: s.adapter != nil,
	}
	if s.adapter != nil {
		resp.Subscriptions = s.adapter.ActiveSubscriptions()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCandles serves GET /candles?symbol=&interval=&start=&end= where
// start and end are epoch milliseconds.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	interval, err := domain.ParseInterval(r.URL.Query().Get("interval"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	start, _ := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
	end, _ := strconv.ParseInt(r.URL.Query().Get("end"), 10, 64)

	candles, err := s.service.GetCandles(r.Context(), symbol, interval, start, end)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoData) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Printf("get candles: %v", err)
		http.Error(w, "fetch failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, candles)
}

// handleLive serves GET /live?symbol=&interval= from the rolling live
// series.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.adapter == nil {
		http.Error(w, "live streaming disabled", http.StatusServiceUnavailable)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	interval, err := domain.ParseInterval(r.URL.Query().Get("interval"))
	if symbol == "" || err != nil {
		http.Error(w, "symbol and interval are required", http.StatusBadRequest)
		return
	}

	series := s.adapter.Series(symbol, interval)
	if series == nil {
		series = []domain.Candle{}
	}
	writeJSON(w, http.StatusOK, series)
}

// handleRisk serves GET /risk?side=&entry=&size=&leverage=&exchange=&fees=.
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	params := risk.Params{
		Side:       domain.Side(strings.ToUpper(q.Get("side"))),
		EntryPrice: parseFloat(q.Get("entry")),
		Size:       parseFloat(q.Get("size")),
		Leverage:   parseFloat(q.Get("leverage")),
		Exchange:   q.Get("exchange"),
		Fees:       parseFloat(q.Get("fees")),
	}
	if mmr := q.Get("mmr"); mmr != "" {
		v := parseFloat(mmr)
		params.MMROverride = &v
	}

	writeJSON(w, http.StatusOK, risk.Compute(params))
}

// tradeStatsRequest is the POST /trade/stats body.
type tradeStatsRequest struct {
	Trade  *domain.Trade  `json:"trade"`
	Candle *domain.Candle `json:"candle"`
}

func (s *Server) handleTradeStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req tradeStatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode body: %v", err), http.StatusBadRequest)
		return
	}

	stats := tradestats.Compute(req.Trade, req.Candle)
	if stats == nil {
		http.Error(w, "trade and candle are required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJournalStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var trades []domain.Trade
	if err := json.NewDecoder(r.Body).Decode(&trades); err != nil {
		http.Error(w, fmt.Sprintf("decode body: %v", err), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, tradestats.ComputeJournalStats(trades))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.ToUpper(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
