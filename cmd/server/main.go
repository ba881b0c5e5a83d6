package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xtrntr/papertrade/internal/api"
	"github.com/xtrntr/papertrade/internal/auth"
	"github.com/xtrntr/papertrade/internal/bus"
	"github.com/xtrntr/papertrade/internal/config"
	"github.com/xtrntr/papertrade/internal/db"
	"github.com/xtrntr/papertrade/internal/events"
	"github.com/xtrntr/papertrade/internal/prices"
	"github.com/xtrntr/papertrade/internal/realtime"
	"github.com/xtrntr/papertrade/internal/trading"
)

type orderEvents interface {
	trading.EventPublisher
	Close() error
}

// Main entry point: bus client, price cache, fanout, order execution and
// the HTTP surface in one process
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
	if err := database.Ping(ctx); err != nil {
		logger.Warn("Database not reachable at startup", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	// Price path: bus -> cache -> fanout
	cache := prices.NewCache(logger)
	hub := realtime.NewHub(logger)
	cache.OnUpdate(hub.Broadcast)

	subscriber := bus.NewSubscriber(rdb, cfg.Bus.Namespace, logger)
	subscriber.OnUpdate(cache.Update)
	if err := subscriber.Connect(ctx); err != nil {
		logger.Error("Bus connect failed, continuing without live prices until it recovers", zap.Error(err))
	}
	go func() {
		if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Bus subscriber stopped", zap.Error(err))
		}
	}()

	var publisher orderEvents = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		logger.Info("Publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	svc := trading.NewService(database, cache, publisher, cfg.Ingest.Quote, logger)
	authService := auth.NewAuthService(database, cfg.Auth)
	handler := api.NewHandler(svc, authService, cache, cfg.Ingest.Quote, logger)

	srv := &http.Server{
		Addr:              cfg.App.Port,
		Handler:           api.NewRouter(handler, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.String("namespace", cfg.Bus.Namespace))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	// Flush order events still in flight before the deferred publisher close
	svc.Wait()
	hub.Close()
	if err := subscriber.Close(); err != nil {
		logger.Warn("Bus close failed", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
