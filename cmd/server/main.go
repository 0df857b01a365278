package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/groupfolio/paper-engine/internal/engine"
	"github.com/groupfolio/paper-engine/internal/metrics"
	"github.com/groupfolio/paper-engine/internal/oracle"
	"github.com/groupfolio/paper-engine/internal/server"
	"github.com/groupfolio/paper-engine/internal/store"
	"github.com/groupfolio/paper-engine/internal/valuation"
	"github.com/groupfolio/paper-engine/internal/watchlist"
)

const defaultOracleURL = "https://query1.finance.yahoo.com"

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	switch {
	case os.Getenv("DATABASE_URL") != "":
		pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

	case os.Getenv("MEMORY_STORE") == "1":
		slog.Warn("using in-memory store (data will not persist)")
		st = store.NewMemoryStore()

	default:
		slog.Warn("DATABASE_URL not set, database features disabled")
		st = store.NewDisabled()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price oracle ---
	oracleURL := os.Getenv("ORACLE_URL")
	if oracleURL == "" {
		oracleURL = defaultOracleURL
	}
	var quotes oracle.Oracle = oracle.NewClient(oracleURL, 5*time.Second)

	// Wrap with a Redis read-through quote cache if configured.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		quotes = oracle.NewCached(quotes, rdb, 30*time.Second)
		slog.Info("Redis quote cache enabled")
	}

	// --- Engine configuration ---
	startingBalance := engine.DefaultStartingBalance
	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		b, err := decimal.NewFromString(v)
		if err != nil || !b.IsPositive() {
			slog.Error("invalid STARTING_BALANCE", "value", v)
			os.Exit(1)
		}
		startingBalance = b
	}

	// --- WebSocket hub ---
	wsHub := engine.NewWSHub()
	go wsHub.Run()

	// --- Services ---
	eng := engine.NewService(st, engine.Config{StartingBalance: startingBalance}, wsHub)
	val := valuation.NewService(st, quotes, valuation.Config{StartingBalance: startingBalance})
	wl := watchlist.NewService(st, quotes)
	api := server.New(eng, val, wl, quotes, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"paper-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	api.Register(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("paper-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down paper-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("paper-engine stopped")
}
