package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"i4.energy/across/espmqtt/at"
	"i4.energy/across/espmqtt/modem"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to a YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("http-token", "", "Bearer token required by the HTTP API (empty disables auth)")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("wifi-ssid", "", "Access point the modem joins")
	flag.String("wifi-password", "", "Access point password")
	flag.String("broker-host", "", "MQTT broker the modem connects to")
	flag.Int("broker-port", 1883, "MQTT broker port")
	flag.String("mqtt-client-id", "espmqtt", "MQTT client id of the modem")
	flag.String("mqtt-username", "", "MQTT username")
	flag.String("mqtt-password", "", "MQTT password")
	flag.String("topic", "abc", "Default topic, subscribed at start-up")
	flag.String("relay-broker", "", "Upstream broker URL for the relay (empty disables it)")
	flag.String("relay-topic", "espmqtt/publish", "Upstream topic carrying publish requests")
	flag.String("relay-forward-prefix", "espmqtt/received", "Upstream topic prefix for received messages")
	flag.Duration("publish-interval", time.Second, "Minimum interval between modem publications")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	modemConfig, err := modem.NewConfigBuilder().
		WithLogger(logger.With("component", "modem")).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		WithWiFi(config.WiFiSSID, config.WiFiPassword).
		WithBroker(config.BrokerHost, config.BrokerPort).
		WithClientID(config.MQTTClientID).
		WithCredentials(config.MQTTUsername, config.MQTTPassword).
		WithTopic(config.Topic).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting ESP MQTT bridge", "serial_port", config.SerialPort, "broker", config.BrokerHost)
	if err := m.FullInit(ctx); err != nil {
		logger.Error("Modem initialization failed", "error", err)
		m.Close()
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := NewMetrics(registry, m.Stats)
	if err != nil {
		logger.Error("Failed to register metrics", "error", err)
		os.Exit(1)
	}

	var limiter *rate.Limiter
	if config.MinPublishInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(config.MinPublishInterval), 1)
	}

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:   logger.With("component", "server"),
			Modem:    m,
			Limiter:  limiter,
			Metrics:  metrics,
			Topic:    config.Topic,
			Registry: registry,
			Token:    config.HTTPToken,
		},
	}

	relay := &Relay{
		Logger:        logger.With("component", "relay"),
		Modem:         m,
		Limiter:       limiter,
		Metrics:       metrics,
		Topic:         config.Topic,
		RequestTopic:  config.RelayTopic,
		ForwardPrefix: config.RelayForwardPrefix,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		logger.Info("Closing HTTP server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if config.RelayBroker != "" {
		g.Go(func() error {
			return relay.Run(gctx, config.RelayBroker)
		})
	}

	g.Go(func() error {
		return receiveLoop(gctx, logger.With("component", "receiver"), m, func(msg at.Message) {
			relay.Forward(msg)
		})
	})

	if err := g.Wait(); err != nil {
		logger.Error("Bridge stopped with error", "error", err)
	}

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := m.DisconnectMQTT(disconnectCtx); err != nil {
		logger.Warn("Failed to disconnect MQTT", "error", err)
	}

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
	}
}
