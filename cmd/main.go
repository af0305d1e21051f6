package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"station-alerts/internal/aggregator"
	"station-alerts/internal/api"
	"station-alerts/internal/config"
	"station-alerts/internal/cycle"
	"station-alerts/internal/db"
	"station-alerts/internal/evaluator"
	"station-alerts/internal/kafka"
	"station-alerts/internal/logging"
	"station-alerts/internal/publisher"
	"station-alerts/internal/scheduler"
	"station-alerts/internal/utils"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Errorf("Startup failed: %v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	policy, err := evaluator.ParsePolicy(cfg.Check.AbsentBoundPolicy)
	if err != nil {
		return err
	}

	sched := scheduler.New(cfg.Check.SchedulerTick, logger)

	// Telemetry store
	var store aggregator.Store
	var ingest *api.IngestHandler
	switch cfg.Store.Driver {
	case config.DriverMemory:
		mem := db.NewMemoryStore()
		store = mem
		if err := sched.Add(scheduler.Job{
			Name:     "prune",
			Interval: cfg.Check.Window,
			Run: func(context.Context) error {
				if n := mem.Prune(time.Now().Add(-cfg.Check.Window)); n > 0 {
					logger.Debugf("Pruned %d readings", n)
				}
				return nil
			},
		}); err != nil {
			return err
		}
		ingest = api.NewIngestHandler(mem, logger)
		logger.Warnf("Using in-memory telemetry store fed through %s/readings", cfg.API.BasePath)
	default:
		dbConn, err := db.New(ctx, cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer dbConn.Close()
		err = utils.Retry(logger, 3, 2*time.Second, func() error {
			pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.QueryTimeout)
			defer cancel()
			return dbConn.Ping(pingCtx)
		})
		if err != nil {
			// Cycles abort and report until the store comes back.
			logger.Warnf("Telemetry store not reachable yet: %v", err)
		}
		store = dbConn
	}

	// MQTT publisher
	pubCfg := publisher.Config{
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ClientID:       cfg.MQTT.ClientID,
		QoS:            cfg.MQTT.QoS,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		PublishTimeout: cfg.MQTT.PublishTimeout,
		ConnectRetries: cfg.MQTT.InitialConnectRetries,
	}
	if cfg.MQTT.UseTLS {
		pubCfg.TLS, err = publisher.TLSConfig(cfg.MQTT.CACertPath, cfg.MQTT.TLSVersion, cfg.MQTT.InsecureSkipVerify)
		if err != nil {
			return err
		}
		if cfg.MQTT.InsecureSkipVerify {
			logger.Warn("MQTT TLS peer verification is disabled")
		}
	}
	pub := publisher.New(pubCfg, logger)
	defer pub.Disconnect()
	if err := pub.Connect(ctx); err != nil {
		logger.Warnf("MQTT broker not reachable yet, alerts fail until it is: %v", err)
	}

	// Alert mirrors
	hub := api.NewHub(logger)
	defer hub.Close()
	opts := []cycle.Option{cycle.WithMirror(hub)}
	if cfg.Kafka.Broker != "" {
		producer := kafka.NewProducer(cfg.Kafka.Broker, cfg.Kafka.Topic)
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Errorf("Failed to close kafka producer: %v", err)
			}
		}()
		opts = append(opts, cycle.WithMirror(producer))
		logger.Infof("Mirroring alerts to kafka topic: %s", cfg.Kafka.Topic)
	}

	runner := cycle.NewRunner(
		aggregator.New(store, cfg.Store.QueryTimeout, logger),
		evaluator.New(policy),
		pub,
		logger,
		opts...,
	)
	for _, job := range []scheduler.Job{
		{Name: "coarse", Interval: cfg.Check.CoarseInterval, Run: runner.Job("coarse", cfg.Check.Window)},
		{Name: "fine", Interval: cfg.Check.FineInterval, Run: runner.Job("fine", cfg.Check.Window)},
	} {
		if err := sched.Add(job); err != nil {
			return err
		}
	}

	// Start API server
	if cfg.API.Port != "off" {
		gin.SetMode(gin.ReleaseMode)
		handler := api.NewHandler(pub, runner, sched, string(policy), logger)
		srv := &http.Server{
			Addr:              cfg.API.Port,
			Handler:           api.NewRouter(handler, hub, ingest, logger, cfg.API.BasePath),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Infof("Starting API server on %s", cfg.API.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("API server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("API server shutdown: %v", err)
			}
		}()
	}

	logger.Infof("Alert engine running: window=%s coarse=%s fine=%s policy=%s",
		cfg.Check.Window, cfg.Check.CoarseInterval, cfg.Check.FineInterval, policy)
	if err := sched.Run(ctx); err != nil {
		return err
	}
	logger.Info("Shutting down")
	return nil
}
