package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/vtqube/tbqwatch/internal/config"
	"github.com/vtqube/tbqwatch/internal/engine"
	"github.com/vtqube/tbqwatch/internal/instruments"
	"github.com/vtqube/tbqwatch/internal/kite"
	"github.com/vtqube/tbqwatch/internal/logger"
	"github.com/vtqube/tbqwatch/internal/market"
	"github.com/vtqube/tbqwatch/internal/models"
	"github.com/vtqube/tbqwatch/internal/monitor"
	"github.com/vtqube/tbqwatch/internal/storage"
	"github.com/vtqube/tbqwatch/internal/telegram"
	"github.com/vtqube/tbqwatch/internal/trader"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	watchlist  = flag.String("watchlist", "", "Comma-separated symbols to monitor (overrides the stored watchlist)")
	clearLogs  = flag.Bool("clear-logs", false, "Wipe volume, alert, and trade logs, then exit")
)

func main() {
	flag.Parse()

	// Environment variables may carry credentials; .env is optional.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	if *clearLogs {
		if err := store.ClearLogs(); err != nil {
			logger.Fatal("Failed to clear logs: %v", err)
		}
		logger.Info("Volume, alert, and trade logs cleared")
		return
	}

	broker := kite.NewClient(cfg.Kite)
	if err := restoreAccessToken(cfg, store, broker); err != nil {
		logger.Fatal("Broker session unavailable: %v", err)
	}

	resolver, err := buildResolver(store, broker)
	if err != nil {
		logger.Fatal("Failed to build instrument catalog: %v", err)
	}
	logger.Info("Instrument catalog ready (%d symbols)", resolver.Len())

	calendar, err := market.NewCalendar(cfg.Engine.MarketOpen, cfg.Engine.MarketClose)
	if err != nil {
		logger.Fatal("Invalid market hours: %v", err)
	}

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var autoTrader *trader.AutoTrader
	if cfg.AutoTrade.Enabled {
		autoTrader = trader.New(trader.Config{
			BudgetCap:  cfg.AutoTrade.BudgetCap,
			LTPPercent: cfg.AutoTrade.LTPPercent,
			Quantity:   cfg.AutoTrade.Quantity,
			OrderType:  cfg.AutoTrade.OrderType,
			Product:    cfg.AutoTrade.Product,
		}, broker, store)
		logger.Info("Auto-trading enabled (budget cap: %.2f)", cfg.AutoTrade.BudgetCap)
	}

	symbols, err := loadWatchlist(store, *watchlist)
	if err != nil {
		logger.Fatal("Failed to load watchlist: %v", err)
	}
	if len(symbols) == 0 {
		logger.Fatal("Watchlist is empty; pass -watchlist or persist one first")
	}
	logger.Info("Monitoring %d symbols: %s", len(symbols), strings.Join(symbols, ", "))

	stopped := make(chan struct{})
	var stopOnce sync.Once

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handlers := newAlertHandlers(cfg, store, telegramClient, autoTrader)

	eng, err := engine.New(engine.Config{
		PollInterval:     cfg.Engine.PollInterval,
		BatchSize:        cfg.Engine.BatchSize,
		BatchParallelism: cfg.Engine.BatchParallelism,
		Thresholds: monitor.Thresholds{
			SpikeThreshold:     cfg.Engine.SpikeThreshold,
			Cooldown:           cfg.Engine.Cooldown,
			StabilityThreshold: cfg.Engine.StabilityThreshold,
			StabilityDuration:  cfg.Engine.StabilityDuration,
		},
	}, resolver, broker, calendar, broker, engine.Callbacks{
		OnBatchResult: handlers.onBatchResult,
		OnAlert: func(result models.SymbolResult, kind models.AlertKind) {
			handlers.onAlert(ctx, result, kind)
		},
		OnStatusChanged: func(status models.EngineStatus) {
			logger.Info("Engine status: %s", status)
			if status == models.StatusStopped {
				stopOnce.Do(func() { close(stopped) })
			}
		},
		OnError: handlers.onError,
	})
	if err != nil {
		logger.Fatal("Failed to create engine: %v", err)
	}
	eng.SetWatchlist(symbols)

	if cfg.Telegram.Enabled && telegramClient != nil {
		telegramClient.SetAlertHistory(store)
		telegramClient.ListenForCommands(ctx)
	}

	if count, err := store.AlertsCountToday(time.Now()); err == nil && count > 0 {
		logger.Info("%d alert(s) already fired today", count)
	}

	logger.Info("Starting polling engine (interval: %v, threshold: %.2f%%, cooldown: %v)",
		cfg.Engine.PollInterval, cfg.Engine.SpikeThreshold*100, cfg.Engine.Cooldown)
	if err := eng.Start(); err != nil {
		logger.Fatal("Failed to start engine: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, cleaning up...")
		if err := eng.Stop(); err != nil {
			logger.Warn("Engine stop: %v", err)
		}
	case <-stopped:
		// The engine stopped itself: session end or fatal error.
	}

	logger.Info("Service stopped")
}

// restoreAccessToken prefers the configured token, falling back to the one
// persisted from a previous session. A configured token is persisted for the
// next run.
func restoreAccessToken(cfg *config.Config, store *storage.Storage, broker *kite.Client) error {
	if cfg.Kite.AccessToken != "" {
		if err := store.SaveSetting("access_token", cfg.Kite.AccessToken); err != nil {
			logger.Warn("Failed to persist access token: %v", err)
		}
		return nil
	}

	token, err := store.GetSetting("access_token")
	if err != nil {
		return fmt.Errorf("no access token configured or stored: %w", models.ErrAuth)
	}
	broker.SetAccessToken(token)
	logger.Info("Restored access token from previous session")
	return nil
}

// buildResolver loads the instrument catalog from storage, downloading a
// fresh dump when none is persisted yet.
func buildResolver(store *storage.Storage, broker *kite.Client) (*instruments.Resolver, error) {
	catalog, err := store.AllInstruments()
	if err != nil {
		return nil, err
	}
	if len(catalog) == 0 {
		logger.Info("No cached instrument catalog, downloading dump")
		catalog, err = broker.FetchInstruments(context.Background())
		if err != nil {
			return nil, err
		}
		if err := store.ReplaceInstruments(catalog); err != nil {
			return nil, err
		}
		logger.Info("Cached %d instruments", len(catalog))
	}
	return instruments.New(catalog), nil
}

// loadWatchlist uses the -watchlist flag when given, persisting it; the
// stored watchlist is the fallback.
func loadWatchlist(store *storage.Storage, flagValue string) ([]string, error) {
	if flagValue != "" {
		var symbols []string
		for _, s := range strings.Split(flagValue, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
		if err := store.SaveWatchlist(symbols); err != nil {
			return nil, err
		}
		return symbols, nil
	}
	return store.LoadWatchlist()
}

// alertHandlers owns the persistence and notification side effects of the
// engine callbacks. All methods run on the polling goroutine.
type alertHandlers struct {
	cfg      *config.Config
	store    *storage.Storage
	telegram *telegram.Client
	trader   *trader.AutoTrader

	// volume log row id per symbol for the current tick, so alert rows can
	// reference the observation that fired them.
	lastLogIDs map[string]int64

	consecutiveFailures int
}

func newAlertHandlers(cfg *config.Config, store *storage.Storage, telegramClient *telegram.Client, autoTrader *trader.AutoTrader) *alertHandlers {
	return &alertHandlers{
		cfg:        cfg,
		store:      store,
		telegram:   telegramClient,
		trader:     autoTrader,
		lastLogIDs: make(map[string]int64),
	}
}

func (h *alertHandlers) onBatchResult(results []models.SymbolResult) {
	for i := range results {
		result := &results[i]
		logID, err := h.store.LogVolume(result)
		if err != nil {
			logger.Warn("Failed to log observation for %s: %v", result.Symbol, err)
			continue
		}
		h.lastLogIDs[result.Symbol] = logID
	}
	logger.Debug("Tick complete: %d symbols evaluated", len(results))

	if h.consecutiveFailures > 0 {
		if h.telegram != nil {
			if err := h.telegram.SendRecovery(h.consecutiveFailures); err != nil {
				logger.Warn("Failed to send recovery notification: %v", err)
			}
		}
		h.consecutiveFailures = 0
	}
}

func (h *alertHandlers) onAlert(ctx context.Context, result models.SymbolResult, kind models.AlertKind) {
	logger.Info("%s on %s (TBQ %+.2f%%, TSQ %+.2f%%, ratio %.2f)",
		kind, result.Symbol, result.BuyChangePct*100, result.SellChangePct*100, result.Ratio)

	alert := &models.AlertRecord{
		ID:          uuid.NewString(),
		Timestamp:   result.ObservedAt,
		Symbol:      result.Symbol,
		Kind:        kind,
		Message:     fmt.Sprintf("%s on %s", kind, result.Symbol),
		VolumeLogID: h.lastLogIDs[result.Symbol],
	}
	if err := h.store.LogAlert(alert); err != nil {
		logger.Error("Failed to persist alert for %s: %v", result.Symbol, err)
	}

	if h.telegram != nil {
		if err := h.telegram.SendAlert(result, kind); err != nil {
			logger.Error("Failed to send Telegram alert for %s: %v", result.Symbol, err)
		}
	}

	if h.trader != nil {
		if _, err := h.trader.HandleAlert(ctx, result, kind, alert.ID); err != nil {
			logger.Error("Auto-trade failed for %s: %v", result.Symbol, err)
		}
	}
}

func (h *alertHandlers) onError(scope models.ErrorScope, err error) {
	switch scope {
	case models.ScopeFatal:
		logger.Error("Fatal engine error: %v", err)
		if h.telegram != nil {
			if sendErr := h.telegram.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
	case models.ScopeBatch:
		h.consecutiveFailures++
		logger.Error("Quote batch failed: %v", err)
		if h.consecutiveFailures == 1 && h.telegram != nil {
			if sendErr := h.telegram.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
	default:
		logger.Warn("Engine error (%s): %v", scope, err)
	}
}
