// Package main runs the connectivity gateway: the service that manages broker
// connections (AMQP, MQTT, Kafka, HTTP) on behalf of the platform, bridging
// external wire messages and internal protocol signals in both directions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eclipse-ditto/ditto-sub022/client/factory"
	"github.com/eclipse-ditto/ditto-sub022/config"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	"github.com/eclipse-ditto/ditto-sub022/journal"
	"github.com/eclipse-ditto/ditto-sub022/metric"
	"github.com/eclipse-ditto/ditto-sub022/natsclient"
	"github.com/eclipse-ditto/ditto-sub022/pubsub"
	"github.com/eclipse-ditto/ditto-sub022/supervisor"
)

const (
	version = "0.1.0"
	appName = "connectivity"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to the gateway configuration file")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logFormat   = flag.String("log-format", "json", "log format: json or text")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		return nil
	}

	logger := setupLogger(*logLevel, *logFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.Info("starting connectivity gateway",
		"version", version, "nats_url", cfg.NATS.URL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := natsclient.Connect(cfg.NATS, logger)
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	defer nc.Close()

	store, err := journal.NewJetStream(ctx, nc.JetStream())
	if err != nil {
		return fmt.Errorf("initialize journal: %w", err)
	}

	metricsRegistry := metric.NewRegistry()
	bus := pubsub.NewNATS(nc.Conn(), logger)
	sup := supervisor.New(supervisor.Config{
		Journal:   store,
		Registry:  bus,
		Forwarder: bus,
		Factories: factory.Default(),
		Validator: &connection.Validator{
			BlockedHostnames: cfg.Connectivity.BlockedHostnames,
		},
		Metrics:     metricsRegistry.Metrics,
		Logger:      logger,
		TestTimeout: cfg.Connectivity.TestTimeout,
	})

	if err := sup.Restore(ctx); err != nil {
		return fmt.Errorf("restore persisted connections: %w", err)
	}
	logger.Info("persisted connections restored", "active", sup.ActiveActors())

	group, groupCtx := errgroup.WithContext(ctx)

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		group.Go(metricsServer.Start)
	}

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		logger.Info("shutting down")
		sup.Shutdown(shutdownCtx)
		if metricsServer != nil {
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", "error", err)
			}
		}
		return nil
	})

	return group.Wait()
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", version,
		"pid", os.Getpid(),
	)
}
