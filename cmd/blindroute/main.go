package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/blindroute-core/internal/api"
	"github.com/blindroute-core/internal/common/config"
	"github.com/blindroute-core/internal/common/db"
	"github.com/blindroute-core/internal/common/logger"
	"github.com/blindroute-core/internal/events"
	"github.com/blindroute-core/internal/gateway"
	"github.com/blindroute-core/internal/metrics"
	"github.com/blindroute-core/internal/reservation"
	"github.com/blindroute-core/internal/trip"
)

func main() {
	// Load .env file if it exists; a missing file falls back to the process
	// environment.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		panic("Failed to load .env file: " + err.Error())
	}

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.New(
		logger.ConsoleWriter(),
		logger.FileWriter(cfg.Logging.FilePath),
	)
	log = logger.SetLevel(log, logger.ParseLogLevel(cfg.Logging.Level))

	log.Info("Blindroute trip service starting",
		"log_level", cfg.Logging.Level,
		"upstream", cfg.Upstream.BaseURL,
		"arrival_poll", cfg.Trip.ArrivalPollInterval.String(),
		"destination_poll", cfg.Trip.DestinationPollInterval.String(),
	)

	if err := cfg.Database.Validate(); err != nil {
		log.Fatal("Invalid database configuration", "error", err)
	}
	if err := cfg.Upstream.Validate(); err != nil {
		log.Fatal("Invalid upstream configuration", "error", err)
	}
	if err := cfg.Trip.Validate(); err != nil {
		log.Fatal("Invalid trip configuration", "error", err)
	}

	database, err := db.New(cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := database.Migrate(ctx); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	mcol := metrics.NewCollector()

	// Event publishing is optional: without a broker URL the engine runs
	// with announcements over HTTP state only.
	var pub events.Publisher = events.NopPublisher{}
	if cfg.Events.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.LogSubjects, log, natsMetrics{mcol})
		if err != nil {
			log.Fatal("Failed to connect to NATS", "error", err, "url", cfg.Events.NATSURL)
		}
		defer np.Close()
		pub = np
		log.Info("NATS event publishing enabled", "url", cfg.Events.NATSURL)
	} else {
		log.Info("NATS event publishing disabled (no URL provided)")
	}

	gw := gateway.NewSeoulClient(cfg.Upstream, log)
	store := reservation.NewPostgresStore(database, log)
	manager := trip.NewManager(store, gw, pub, mcol, log, cfg.Trip, nil)

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = mcol.Serve(cfg.Metrics.Addr, log)
	}

	apiSrv := api.NewServer(manager, log).Listen(cfg.API.ListenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("API server shutdown error", "error", err)
	}
	manager.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("Metrics server shutdown error", "error", err)
		}
	}
	cancel()

	log.Info("Blindroute trip service stopped")
}

// natsMetrics adapts the collector to the publisher's metrics interface.
type natsMetrics struct {
	c *metrics.Collector
}

func (m natsMetrics) NATSPublishedInc()  { m.c.NATSPublished.Inc() }
func (m natsMetrics) NATSPublishErrInc() { m.c.NATSPublishErrs.Inc() }
func (m natsMetrics) NATSSetConnected(connected bool) {
	if connected {
		m.c.NATSConnected.Set(1)
	} else {
		m.c.NATSConnected.Set(0)
	}
}
