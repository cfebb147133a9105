package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fleeti/fleeti-sensors/internal/app"
	"github.com/fleeti/fleeti-sensors/internal/cache"
	"github.com/fleeti/fleeti-sensors/internal/config"
	"github.com/fleeti/fleeti-sensors/internal/derive"
	"github.com/fleeti/fleeti-sensors/internal/metrics"
	"github.com/fleeti/fleeti-sensors/internal/mqtt"
	"github.com/fleeti/fleeti-sensors/internal/navixy"
	"github.com/fleeti/fleeti-sensors/internal/netutil"
	"github.com/fleeti/fleeti-sensors/internal/registry"
	"github.com/fleeti/fleeti-sensors/internal/store"
	"github.com/fleeti/fleeti-sensors/internal/transmission"
	"github.com/sirupsen/logrus"
)

// version is injected at build time via ldflags
var version = "dev"

func main() {
	cfg := parseFlags()

	logger := setupLogger(cfg.Verbose)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.WithFields(logrus.Fields{
		"version":     version,
		"assets":      cfg.AssetsFile,
		"input":       cfg.InputPath,
		"navixy":      cfg.HasNavixy(),
		"snapshot_db": cfg.SnapshotDB,
		"once":        cfg.Once,
	}).Info("Starting fleeti-sensors")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("Shutdown signal received")
		cancel()
	}()

	metrics.Init(logger)
	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), config.ShutdownTimeout)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Lookups ----------------------------------------------------------------------
	reg, err := registry.Load(cfg.AssetsFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load asset registry")
	}
	logger.WithField("assets", reg.Len()).Info("Asset registry loaded")
	logger.WithField("asset_ids", reg.AssetIDs()).Debug("Registered assets")

	opts := []derive.Option{derive.WithAssets(reg), derive.WithLogger(logger)}
	if cfg.HasNavixy() {
		httpClient := netutil.NewHTTPClient(cfg.GetAPITimeout(), cfg.InsecureTLS, logger)
		catalog, err := navixy.NewClient(cfg.NavixyURL, cfg.NavixyHash,
			navixy.WithHTTPClient(httpClient),
			navixy.WithTTL(cfg.CatalogTTL),
			navixy.WithLogger(logger),
		)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Navixy client")
		}
		opts = append(opts, derive.WithCatalog(catalog))
	} else {
		logger.Info("No Navixy session hash; sensors without provider fields are skipped")
	}

	var snapshots app.SnapshotStore
	if cfg.HasSnapshotDB() {
		db, err := store.Open(ctx, cfg.SnapshotDB, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open snapshot database")
		}
		defer db.Close()
		snapshots = db
	} else {
		snapshots = cache.NewManager(logger)
	}
	opts = append(opts, derive.WithSnapshots(snapshots))

	pipeline := app.Pipeline{
		Deriver:   derive.New(reg, opts...),
		Snapshots: snapshots,
		Changes:   cache.NewManager(logger),
		Logger:    logger,
	}

	// Output -----------------------------------------------------------------------
	if cfg.HasMQTT() {
		willTopic := mqtt.BridgeAvailabilityTopic(cfg.ClientID)
		mqttClient, err := mqtt.NewClient(cfg.MQTTUrl, mqtt.Options{
			ClientID:    cfg.ClientID,
			InsecureTLS: cfg.InsecureTLS,
			WillTopic:   willTopic,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create MQTT client")
		}
		if err := mqttClient.Publish(willTopic, []byte("online"), true); err != nil {
			logger.WithError(err).Warn("Failed to publish bridge availability")
		}

		mqttTx := transmission.NewMQTTTransmitter(mqttClient, cfg.DiscoveryPrefix, version, logger)
		pipeline.Transmitter = mqttTx
		defer func() {
			if err := mqttTx.Close(); err != nil {
				logger.WithError(err).Warn("Failed to mark assets offline")
			}
			_ = mqttClient.Publish(willTopic, []byte("offline"), true)
			mqttClient.Disconnect(250)
		}()
		logger.Info("MQTT transmitter ready")
	} else {
		pipeline.Output = os.Stdout
	}

	// Run --------------------------------------------------------------------------
	input, closeInput, err := openInput(cfg.InputPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open telemetry input")
	}
	defer closeInput()

	if err := app.Run(ctx, input, pipeline); err != nil {
		logger.WithError(err).Error("Pipeline stopped with error")
		return
	}
	logger.Info("fleeti-sensors stopped")
}

// -----------------------------------------------------------------------------
// Helpers & Flags
// -----------------------------------------------------------------------------

func parseFlags() *config.Config {
	cfg := config.GetDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.StringVar(&cfg.AssetsFile, "assets", getEnv("FLEETI_ASSETS", cfg.AssetsFile), "Asset registry YAML file")
	flag.StringVar(&cfg.InputPath, "input", getEnv("FLEETI_INPUT", cfg.InputPath), "JSON-lines telemetry file, - for stdin")
	flag.StringVar(&cfg.NavixyURL, "navixy-url", getEnv("FLEETI_NAVIXY_URL", cfg.NavixyURL), "Navixy API base URL")
	flag.StringVar(&cfg.NavixyHash, "navixy-hash", getEnv("FLEETI_NAVIXY_HASH", cfg.NavixyHash), "Navixy session hash (enables catalog discovery)")
	flag.StringVar(&cfg.SnapshotDB, "snapshot-db", getEnv("FLEETI_SNAPSHOT_DB", cfg.SnapshotDB), "SQLite file for magnet snapshots (in-memory when empty)")
	flag.StringVar(&cfg.MQTTUrl, "mqtt-url", getEnv("FLEETI_MQTT_URL", cfg.MQTTUrl), "MQTT URL")
	flag.StringVar(&cfg.DiscoveryPrefix, "discovery-prefix", getEnv("FLEETI_DISCOVERY_PREFIX", cfg.DiscoveryPrefix), "HA discovery prefix")
	flag.StringVar(&cfg.ClientID, "client-id", getEnv("FLEETI_CLIENT_ID", defaultClientID()), "MQTT client identifier")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", getEnv("FLEETI_METRICS_ADDR", cfg.MetricsAddr), "Prometheus listen address, e.g. :9108")
	flag.IntVar(&cfg.APITimeout, "api-timeout", getEnvInt("FLEETI_API_TIMEOUT", cfg.APITimeout), "Navixy request timeout in seconds")
	flag.BoolVar(&cfg.InsecureTLS, "insecure-tls", getEnv("FLEETI_INSECURE_TLS", "false") == "true", "Skip TLS certificate verification")
	flag.BoolVar(&cfg.Verbose, "verbose", getEnv("FLEETI_VERBOSE", "false") == "true", "Verbose logging")
	flag.BoolVar(&cfg.Once, "once", getEnv("FLEETI_ONCE", "false") == "true", "Print results as JSON lines instead of publishing")

	catalogTTL := flag.String("catalog-ttl", getEnv("FLEETI_CATALOG_TTL", ""), "Tracker catalog cache TTL (e.g. 30m, 0 = disabled)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("fleeti-sensors %s\n", version)
		os.Exit(0)
	}

	if *catalogTTL != "" {
		if d, err := time.ParseDuration(*catalogTTL); err == nil && d >= 0 {
			cfg.CatalogTTL = d
		} else if v, err2 := strconv.Atoi(*catalogTTL); err2 == nil && v >= 0 {
			cfg.CatalogTTL = time.Duration(v) * time.Second
		}
	}
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func defaultClientID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "fleeti"
}

func setupLogger(verbose bool) *logrus.Logger {
	l := logrus.New()
	// stdout carries results in -once mode.
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func startMetricsServer(addr string, logger *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	}()
	logger.WithField("addr", addr).Info("Metrics endpoint listening")
	return srv
}
