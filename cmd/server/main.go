package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/varfish-case-importer/internal/api"
	"github.com/varfish-case-importer/internal/service"
	"github.com/varfish-case-importer/internal/setup"
)

func main() {
	configFile := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	configManager, err := setup.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := configManager.GetConfig()
	logger := setup.NewLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := setup.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer app.Close()

	queue, err := app.Queue(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to task queue")
	}
	redisClient, err := app.Redis(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to task queue")
	}

	checks := map[string]api.Pinger{
		"database": api.PingerFunc(app.DB.Health),
		"redis": api.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	}
	server := api.NewServer(cfg.Server,
		service.NewActionService(app.Store, queue, logger),
		service.NewJobService(app.Store, queue, logger),
		checks, logger)

	logger.WithField("port", cfg.Server.Port).Info("Starting case import API")
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}
