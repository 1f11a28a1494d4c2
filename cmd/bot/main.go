package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"credit-spread-bot/internal/broker"
	"credit-spread-bot/internal/config"
	"credit-spread-bot/internal/dashboard"
	"credit-spread-bot/internal/lifecycle"
	"credit-spread-bot/internal/llm"
	"credit-spread-bot/internal/mock"
	"credit-spread-bot/internal/scanner"
	"credit-spread-bot/internal/storage"
)

// Bot ties the broker, lifecycle manager, scanner, and dashboard
// together for the main loops.
type Bot struct {
	config    *config.Config
	broker    broker.Broker
	manager   *lifecycle.Manager
	scanner   *scanner.Scanner
	dashboard *dashboard.Server
	logger    *log.Logger
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags)

	logger.Printf("Starting credit spread bot in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Println("LIVE TRADING MODE - Real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	bot, err := newBot(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize bot: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := bot.Run(ctx); err != nil {
		logger.Fatalf("Bot error: %v", err)
	}

	logger.Println("Bot stopped successfully")
}

func newBot(cfg *config.Config, logger *log.Logger) (*Bot, error) {
	if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	store, err := storage.NewJSONStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	gateway := broker.NewCircuitBreakerBroker(buildBroker(cfg, logger))

	manager := lifecycle.NewManager(gateway, store, cfg.Rules, logger)
	if restored := manager.RestoreTrades(); restored > 0 {
		logger.Printf("Resumed monitoring %d trade(s)", restored)
	}

	analyzer := llm.NewAnalyzer(llm.NewClient(&llm.ClientConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     30 * time.Second,
	}), logger)

	scn := scanner.New(gateway, analyzer, manager, logger, scanner.Config{
		Symbols:       cfg.Scanner.Symbols,
		MinMovePct:    cfg.Scanner.MinMovePct,
		MinIVRank:     cfg.Scanner.MinIVRank,
		MinConfidence: cfg.Scanner.MinConfidence,
		MaxOpenTrades: cfg.Scanner.MaxOpenTrades,
		TargetDTE:     (cfg.Rules.MinDTE + cfg.Rules.MaxDTE) / 2,
	})

	bot := &Bot{
		config:  cfg,
		broker:  gateway,
		manager: manager,
		scanner: scn,
		logger:  logger,
	}

	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		dashLogger.SetFormatter(&logrus.JSONFormatter{})
		bot.dashboard = dashboard.NewServer(dashboard.Config{
			Addr:      cfg.Dashboard.Addr,
			AuthToken: cfg.Dashboard.AuthToken,
		}, manager, store, dashLogger)
	}

	return bot, nil
}

// buildBroker selects the live gateway or the simulator. Paper mode
// without credentials runs fully simulated.
func buildBroker(cfg *config.Config, logger *log.Logger) broker.Broker {
	if cfg.IsPaperTrading() && cfg.Broker.APIKey == "" {
		logger.Println("No broker credentials, using simulated broker")
		return mock.NewBroker(cfg.Scanner.Symbols...)
	}
	return broker.NewAlpacaClient(cfg.Broker.APIKey, cfg.Broker.SecretKey, cfg.IsPaperTrading())
}

// Run starts the monitor, scan, and dashboard loops and blocks until
// shutdown.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Println("Verifying broker connection...")
	balance, err := b.broker.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	b.logger.Printf("Connected to broker. Account balance: $%.2f", balance)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.monitorLoop(ctx) })
	g.Go(func() error { return b.scanLoop(ctx) })

	if b.dashboard != nil {
		g.Go(func() error {
			if err := b.dashboard.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("dashboard: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return b.dashboard.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
