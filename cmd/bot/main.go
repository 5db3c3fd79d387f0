package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"spot-trend-bot/internal/alerts"
	"spot-trend-bot/internal/binance/exchange"
	"spot-trend-bot/internal/binance/rest"
	"spot-trend-bot/internal/binance/ws"
	"spot-trend-bot/internal/config"
	"spot-trend-bot/internal/cooldown"
	"spot-trend-bot/internal/engine"
	"spot-trend-bot/internal/exec"
	"spot-trend-bot/internal/logging"
	"spot-trend-bot/internal/market"
	"spot-trend-bot/internal/metrics"
	"spot-trend-bot/internal/position"
	"spot-trend-bot/internal/risk"
	"spot-trend-bot/internal/state/sqlite"
	"spot-trend-bot/internal/strategy"
	"spot-trend-bot/internal/timescale"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded", zap.String("path", *configPath))

	if err := run(cfg, log); err != nil {
		log.Error("bot terminated", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	signer, err := exchange.NewSigner(os.Getenv("BINANCE_API_KEY"), os.Getenv("BINANCE_API_SECRET"))
	if err != nil {
		return fmt.Errorf("exchange credentials: %w", err)
	}
	exch, err := exchange.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, cfg.REST.RecvWindow)
	if err != nil {
		return fmt.Errorf("exchange client: %w", err)
	}
	exch.SetLogger(log)
	if err := exch.SyncTime(ctx); err != nil {
		log.Warn("initial server time sync failed", zap.Error(err))
	}

	restClient := rest.New(cfg.REST.BaseURL, cfg.REST.Timeout, log)
	wsClient := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	marketData := market.New(restClient, wsClient, log)
	if cfg.Strategy.AutoDiscover {
		marketData.EnableDiscovery(cfg.Strategy.QuoteAsset, cfg.Strategy.DiscoverLimit, cfg.Strategy.SymbolRefreshInterval)
	} else {
		marketData.SetManualSymbols(cfg.Strategy.Symbols)
	}
	symbols, err := marketData.Symbols(ctx)
	if err != nil {
		return fmt.Errorf("resolve tradable symbols: %w", err)
	}
	log.Info("tradable symbols resolved",
		zap.Strings("symbols", symbols),
		zap.String("source", marketData.SymbolSource()))
	if err := marketData.Start(ctx, symbols); err != nil {
		log.Warn("price stream unavailable, falling back to REST", zap.Error(err))
	}

	m := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		mux := http.NewServeMux()
		mux.Handle("/metrics", prom.Handler())
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	archive, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return fmt.Errorf("timescale writer: %w", err)
	}
	if archive != nil {
		archive.Start(ctx)
		defer archive.Close()
	}

	telegram := alerts.NewTelegram(cfg.Telegram, log)
	tracker := cooldown.New(cfg.Cooldown)
	params := strategy.NewParamCache(store, cfg.Strategy.ParamRefreshInterval, strategy.DefaultParams())
	riskEngine := risk.New(store, store, cfg.Risk)
	executor := exec.New(exch, marketData, store, cfg.Risk, log)
	monitor := position.NewMonitor(store, marketData, executor, tracker, cfg.Risk, m, log)

	eng := engine.New(cfg, engine.Deps{
		Log:       log,
		Store:     store,
		Market:    marketData,
		Balances:  exch,
		Executor:  executor,
		Risk:      riskEngine,
		Monitor:   monitor,
		Cooldowns: tracker,
		Params:    params,
		Metrics:   m,
		Alerts:    telegram,
		Archive:   archive,
	})
	if err := eng.Start(ctx); err != nil {
		return err
	}
	eng.StartOperator(ctx)

	<-ctx.Done()
	log.Info("shutdown signal received")
	eng.Stop()
	return nil
}
