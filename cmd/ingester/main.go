package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/bus"
	"github.com/xtrntr/papertrade/internal/config"
	"github.com/xtrntr/papertrade/internal/db"
	"github.com/xtrntr/papertrade/internal/ingest"
)

// Polls the exchange ticker endpoint and publishes active symbol prices
// onto the bus
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(context.Background())

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ingester := ingest.NewIngester(
		ingest.NewHTTPTickerSource(cfg.Ingest.URL, logger),
		database,
		bus.NewPublisher(rdb, cfg.Bus.Namespace),
		ingest.Options{
			Interval: cfg.Ingest.Interval,
			Timeout:  cfg.Ingest.Timeout,
			Quote:    cfg.Ingest.Quote,
		},
		logger,
	)

	logger.Info("Polling ticker endpoint",
		zap.String("url", cfg.Ingest.URL),
		zap.String("namespace", cfg.Bus.Namespace))

	ingester.Run(ctx)
	logger.Info("Shutdown Complete")
}
