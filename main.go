package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := pflag.String("config", "arcam-control.toml", "path to configuration file")
	listen := pflag.String("listen", "", "listen address override")
	logLevel := pflag.String("loglevel", "", "log level override")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := setupLogging(cfg)
	log.Info().Str("config", *configPath).Int("receivers", len(cfg.Receivers)).
		Msg("Starting arcam-control")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := NewBus()
	registry := newDiscoveryRegistry()
	artwork := NewArtworkLookup(log)

	scanInterval := time.Duration(cfg.ScanInterval) * time.Second
	pollInterval := time.Duration(cfg.PollInterval) * time.Second

	devices := make(map[string]*Device, len(cfg.Receivers))
	for _, rc := range cfg.Receivers {
		client := NewNetClient(rc.Host, rc.Port, log)

		// One bounded probe for the model identity; failure leaves the
		// generic name and the default protocol dialect.
		model := FetchDeviceName(ctx, client, log)
		name := rc.Name
		if model != "" {
			name = "Arcam " + model
		}
		api := resolveAPIModel(model)

		zone1 := NewState(client, Zone1, api, log)
		zone2 := NewState(client, Zone2, api, log)
		sup := NewSupervisor(client, []*State{zone1, zone2}, bus, scanInterval, pollInterval, log)

		devices[rc.Host] = &Device{
			Name:    name,
			Model:   model,
			client:  client,
			zone1:   zone1,
			zone2:   zone2,
			artwork: artwork,
			sup:     sup,
		}
		log.Info().Str("host", rc.Host).Str("name", name).Msg("Configured receiver")
	}

	if cfg.MQTT.Broker != "" {
		bridge, err := startMQTTBridge(cfg.MQTT, bus, devices, cfg.Zone2Enabled, log)
		if err != nil {
			log.Error().Err(err).Msg("MQTT bridge disabled")
		} else {
			defer bridge.stop()
		}
	}

	api := newAPIServer(devices, bus, registry, cfg.Zone2Enabled, log)
	server := &http.Server{Addr: cfg.Listen, Handler: api.routes()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		discoverReceivers(gctx, registry, log)
		return nil
	})
	for _, device := range devices {
		device := device
		g.Go(func() error {
			device.sup.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		log.Info().Str("listen", cfg.Listen).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Shutdown with error")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

func setupLogging(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		} else {
			writers = append(writers, file)
		}
	}
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
}
