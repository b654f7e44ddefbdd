package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/JoeGaudoin/pokeuk-dealscout/internal/api"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/catalog"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/condition"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/config"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/dealscore"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/filter"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/listing"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/marketvalue"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/metrics"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/pipeline"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/proxypool"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/scheduler"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/sources"
	"github.com/JoeGaudoin/pokeuk-dealscout/internal/storage"
)

const version = "1.0.0"

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
	log.Infof("Starting DealScout v%s", version)

	// Credentials come from the environment; .env is optional.
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found")
	}

	configPath := os.Getenv("DEALSCOUT_CONFIG")
	if configPath == "" {
		configPath = "config.json"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		log.SetFormatter(&log.TextFormatter{})
	}

	// Initialize metrics
	collector := metrics.NewCollector(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)

	// Initialize storage
	store, err := storage.NewStore(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	if v := os.Getenv("PROXY_API_KEY"); v != "" {
		cfg.Proxy.APIKey = v
	}
	if v := os.Getenv("PROXY_USERNAME"); v != "" {
		cfg.Proxy.Username = v
	}
	if v := os.Getenv("PROXY_PASSWORD"); v != "" {
		cfg.Proxy.Password = v
	}

	// Initialize proxy pool
	pool := proxypool.NewPool(cfg.Proxy)
	if pool.IsEnabled() {
		log.Infof("Proxy pool enabled (provider=%s)", cfg.Proxy.Provider)
	} else {
		log.Info("Proxy pool disabled, fetching directly")
	}

	// Load card catalog
	var valuer pipeline.Valuer
	if cfg.Catalog.Path != "" {
		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			log.Fatalf("Failed to load catalog: %v", err)
		}
		log.Infof("Loaded %d catalog entries", cat.Size())
		valuer = cat
	} else {
		log.Warn("No catalog configured, listings will have no fair value")
	}

	// Build the classification pipeline
	classifier := condition.NewClassifier()
	pipe := pipeline.New(
		cfg.Pipeline,
		filter.New(),
		classifier,
		marketvalue.NewAggregator(),
		dealscore.NewCalculator(cfg.Venues, classifier),
		valuer,
	)

	handler := func(ctx context.Context, listings []listing.RawListing) error {
		deals, stats := pipe.Process(listings)

		collector.RecordFiltered("out_of_band", stats.OutOfBand)
		collector.RecordFiltered("noise", stats.Filtered)
		collector.RecordFiltered("unprofitable", stats.Unprofitable)
		for _, deal := range deals {
			if deal.Score.DealScore != nil {
				collector.RecordDealAccepted(*deal.Score.DealScore)
			}
		}

		poolStats := pool.Stats()
		collector.SetProxyGauges(poolStats.Active, poolStats.Blocked)

		if len(deals) == 0 {
			log.Infof("Tick processed: %d observed, 0 accepted", stats.Observed)
			return nil
		}

		newCount, err := store.SaveDeals(deals)
		if err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"observed":     stats.Observed,
			"out_of_band":  stats.OutOfBand,
			"filtered":     stats.Filtered,
			"unprofitable": stats.Unprofitable,
			"duplicates":   stats.Duplicates,
			"accepted":     stats.Accepted,
			"new":          newCount,
		}).Info("Tick processed")
		return nil
	}

	sched := scheduler.New(handler, collector)

	for name, srcCfg := range cfg.Sources {
		name, srcCfg := name, srcCfg
		task := scheduler.Task{
			Name:     name,
			Enabled:  srcCfg.Enabled,
			Interval: time.Duration(srcCfg.IntervalSeconds) * time.Second,
			Factory: func() (listing.Source, error) {
				return sources.NewFeedSource(name, srcCfg, pool), nil
			},
		}
		if err := sched.Register(task); err != nil {
			log.Fatalf("Failed to register source %s: %v", name, err)
		}
		log.Infof("Registered source %s (enabled=%v, interval=%ds)", name, srcCfg.Enabled, srcCfg.IntervalSeconds)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start scheduler loop
	go sched.Start(ctx, cfg.Scheduler.PollIntervalSeconds)

	// Start API server
	apiServer := api.NewServer(cfg, sched, store, pool, collector)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	log.Infof("Service started successfully on %s", cfg.API.Addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")
	sched.Stop()
	cancel()

	// Graceful shutdown with timeout

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("API server shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}
