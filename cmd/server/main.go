package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridtraderpro/backend/internal/api"
	"github.com/gridtraderpro/backend/internal/bot"
	"github.com/gridtraderpro/backend/internal/config"
	"github.com/gridtraderpro/backend/internal/db"
	"github.com/gridtraderpro/backend/internal/exchange"
	"github.com/gridtraderpro/backend/internal/fifo"
	"github.com/gridtraderpro/backend/internal/inventory"
	"github.com/gridtraderpro/backend/internal/notifications"
	"github.com/gridtraderpro/backend/internal/reconcile"
	"github.com/gridtraderpro/backend/internal/repository"
	"github.com/gridtraderpro/backend/internal/rules"
)

const banner = `
╔══════════════════════════════════════╗
║     GridTraderPro Backend v1.0       ║
║                                      ║
╚══════════════════════════════════════╝
`

const apiPort = 3001

// streamSymbols are the pairs the websocket price cache follows.
var streamSymbols = []string{"ETHUSDT", "SOLUSDT", "ADAUSDT"}

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	// Database
	fmt.Printf("\n[DB] Connecting to %s:%d/%s ...\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
	pool, err := db.Connect(cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Connection failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		pool.Close()
		fmt.Println("[DB] Connection pool closed")
	}()

	if err := db.TestConnection(pool); err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Test query failed: %v\n", err)
		os.Exit(1)
	}
	if err := db.EnsureSchema(context.Background(), pool); err != nil {
		fmt.Fprintf(os.Stderr, "[DB] Schema setup failed: %v\n", err)
		os.Exit(1)
	}

	// Repos
	tradeRepo := repository.NewTradeRepo(pool)
	orderRepo := repository.NewGridOrderRepo(pool)

	// Exchange client and rules cache
	binance := exchange.NewBinance(exchange.BinanceConfig{
		APIKey:         cfg.BinanceAPIKey,
		APISecret:      cfg.BinanceAPISecret,
		Testnet:        cfg.BinanceTestnet,
		TimeoutSeconds: cfg.ExchangeTimeoutSeconds,
	})
	rulesCache := rules.NewCache(binance)

	// Core trading state
	ledger := fifo.NewLedger(tradeRepo, fifo.CompoundParams{
		MinProfitThreshold: cfg.CompoundMinProfit,
		ReinvestmentRate:   cfg.CompoundReinvestRate,
		MaxMultiplier:      cfg.CompoundMaxMult,
		BaseOrderSize:      cfg.TotalCapital / 2 / float64(cfg.LevelsPerSide),
	})
	tracker := inventory.NewTracker()

	// Notifications
	sender := notifications.NewSender(cfg.WebhookURL, cfg.BotName)
	notifier := notifications.NewNotifier(sender, 128)

	// Reconciliation
	reconciler := reconcile.New(cfg.ClientID, cfg.ReconcileTolerance,
		tradeRepo, binance, tracker, notifier)

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resolve orders a previous run left open before anything trades.
	if err := bot.RecoverOrders(ctx, orderRepo, binance, ledger, cfg.ClientID); err != nil {
		fmt.Fprintf(os.Stderr, "[BOT] Order recovery failed: %v\n", err)
	}

	// 1. Live price stream (optional fast path)
	var prices bot.PriceSource
	if cfg.PriceStreamEnable {
		stream := exchange.NewPriceStream(cfg.BinanceTestnet, streamSymbols)
		go stream.Run(ctx)
		prices = stream
	}

	// 2. Notifier consumer
	go notifier.Run(ctx)

	// 3. Orchestrator and monitoring loop
	orchestrator := bot.NewOrchestrator(cfg, binance, rulesCache, ledger,
		tracker, orderRepo, notifier, prices, reconciler)
	go orchestrator.Run(ctx)

	// 4. API server
	srv := api.NewServer(pool, tradeRepo, ledger, orchestrator,
		cfg.ClientID, apiPort, cfg.APIKey, cfg.CORSAllowOrigin)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "[API] Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	fmt.Println("\nAll services started successfully")

	// Wait for shutdown signal
	<-ctx.Done()
	fmt.Println("\nShutting down gracefully...")

	// Stop every active grid so no orders are left dangling.
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	for _, symbol := range orchestrator.ActiveSymbols() {
		if err := orchestrator.StopGrid(stopCtx, symbol); err != nil {
			fmt.Fprintf(os.Stderr, "[BOT] Stop %s failed: %v\n", symbol, err)
		}
	}
	cancelStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[API] Shutdown error: %v\n", err)
	}
	fmt.Println("[API] Server closed")
	fmt.Println("Shutdown complete")
}
