package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/exchange"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/logger"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/pricesource"
	"github.com/vitos/crypto_rebalancer/internal/infrastructure/storage"
	"github.com/vitos/crypto_rebalancer/internal/usecase"
	"github.com/vitos/crypto_rebalancer/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Pricing struct {
		CoinGecko struct {
			BaseURL string `yaml:"base_url"`
			APIKey  string `yaml:"api_key"`
		} `yaml:"coingecko"`
		ThreeCommas struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"threecommas"`
	} `yaml:"pricing"`
	Trading struct {
		Mode           string  `yaml:"mode"` // paper or real
		CommissionRate float64 `yaml:"commission_rate"`
	} `yaml:"trading"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	// Secrets come from the environment, .env is optional
	_ = godotenv.Load()

	cfg, err := loadConfig(configPath())
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "rebalancer.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// Price sources and failover registry
	coingecko := pricesource.NewCoinGecko(cfg.Pricing.CoinGecko.BaseURL, cfg.Pricing.CoinGecko.APIKey)
	threecommas := pricesource.NewThreeCommas(cfg.Pricing.ThreeCommas.BaseURL, os.Getenv("THREECOMMAS_API_KEY"))
	registry := pricesource.NewRegistry(log)
	registry.Register(coingecko)
	registry.Register(threecommas)

	// Trade execution
	var svc *usecase.RebalanceService
	switch cfg.Trading.Mode {
	case "real":
		adapter := exchange.NewThreeCommasAdapter(
			os.Getenv("THREECOMMAS_API_KEY"),
			os.Getenv("THREECOMMAS_API_SECRET"),
			"")
		svc = usecase.NewRebalanceService(store, store, store, adapter, adapter, registry, log)
	default:
		rate := cfg.Trading.CommissionRate
		if rate == 0 {
			rate = 0.005
		}
		paper := exchange.NewPaperExecutor(threecommas, rate)
		svc = usecase.NewRebalanceService(store, store, store, paper, paper, registry, log)
	}

	scheduler := usecase.NewBotScheduler(store, svc, log)

	hub := web.NewHub(log)
	svc.SetSink(hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := web.NewServer(port, store, store, store, scheduler, hub, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
	scheduler.Stop()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}
