package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/setup"
	"github.com/varfish-case-importer/internal/tasks"
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

	if n, err := app.SeedKits(ctx, cfg.Worker.EnrichmentKitsFile); err != nil {
		logger.WithError(err).Fatal("Failed to seed enrichment kits")
	} else if n > 0 {
		logger.WithField("target_bed_files", n).Info("Seeded enrichment kit catalog")
	}

	entrypoints, err := app.Entrypoints(nil)
	if err != nil {
		logger.WithError(err).Fatal("Failed to set up task entrypoints")
	}
	queue, err := app.Queue(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to task queue")
	}

	consumer := tasks.NewConsumer(queue, entrypoints.Handlers(), cfg.Queue, logger,
		tasks.WithStaleJobs(app.Store))
	logger.WithFields(logrus.Fields{
		"queue":     cfg.Queue.Name,
		"consumers": cfg.Queue.Consumers,
	}).Info("Starting case import worker")
	if err := consumer.Run(ctx); err != nil {
		logger.WithError(err).Fatal("Worker failed")
	}
	logger.Info("Worker stopped")
}
