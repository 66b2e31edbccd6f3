package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fkcurrie/matrixhost/internal/config"
	"github.com/fkcurrie/matrixhost/internal/display"
	"github.com/fkcurrie/matrixhost/internal/driver"
	"github.com/fkcurrie/matrixhost/internal/logsink"
	"github.com/fkcurrie/matrixhost/internal/observability"
	"github.com/fkcurrie/matrixhost/internal/plugin"
	"github.com/fkcurrie/matrixhost/internal/plugins"
	"github.com/fkcurrie/matrixhost/internal/server"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "matrixhost.toml", "path to config file")
	addr := flag.String("addr", "", "status server address, overrides the config")
	level := flag.String("log-level", "", "log level, overrides the config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			observability.InitLogger("matrixhost", "info")
			log.Fatal().Err(err).Msg("failed to load config")
		}
		cfg = config.DefaultConfig()
	}
	if *addr != "" {
		cfg.Status.Addr = *addr
	}
	if *level != "" {
		cfg.Log.Level = *level
	}

	logger := observability.InitLogger("matrixhost", cfg.Log.Level)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("path", *configPath).Msg("config not found, using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("matrixhost stopped")
	}
	logger.Info().Msg("shut down")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	observability.RegisterMetrics()

	backend, sim, hub, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close backend")
		}
	}()

	sinks := logsink.Multi{logsink.NewLogger(logger)}
	if cfg.Log.Broker != "" {
		mq, disconnect, err := logsink.DialMQTT(logsink.MQTTConfig{
			Broker:   cfg.Log.Broker,
			ClientID: cfg.Log.ClientID,
			Topic:    cfg.Log.Topic,
		}, logger)
		if err != nil {
			return err
		}
		defer disconnect()
		sinks = append(sinks, mq)
		logger.Info().Str("broker", cfg.Log.Broker).Str("topic", cfg.Log.Topic).Msg("relaying plugin logs over mqtt")
	}

	registry, err := plugins.NewRegistry()
	if err != nil {
		return err
	}
	playlist := plugin.NewPlaylist(registry, cfg.Entries(), cfg.Driver.Loop, logger)

	drv, err := driver.New(driver.Config{
		Width:         cfg.Matrix.Width,
		Height:        cfg.Matrix.Height,
		TargetFPS:     cfg.Matrix.TargetFPS,
		Serpentine:    cfg.Matrix.Serpentine,
		Wiring:        cfg.Matrix.Wiring,
		UpdateTimeout: cfg.Driver.UpdateTimeout.Duration,
		Logger:        logger,
	}, backend, sinks)
	if err != nil {
		return fmt.Errorf("failed to create driver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverDone := make(chan error, 1)
	if cfg.Status.Addr != "" {
		opts := server.Options{Logger: logger, Version: version}
		if sim != nil {
			opts.Preview = sim
			opts.Stream = hub
		}
		srv := server.New(drv, opts)
		go func() {
			serverDone <- srv.ListenAndServe(ctx, cfg.Status.Addr)
		}()
		logger.Info().Str("addr", cfg.Status.Addr).Msg("status server listening")
	} else {
		close(serverDone)
	}

	logger.Info().
		Int("width", cfg.Matrix.Width).
		Int("height", cfg.Matrix.Height).
		Float32("fps", cfg.Matrix.TargetFPS).
		Str("backend", cfg.Backend.Kind).
		Int("plugins", playlist.Len()).
		Msg("starting driver")

	runErr := drv.Run(ctx, playlist)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	cancel()

	if err := <-serverDone; err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func openBackend(cfg *config.Config, logger zerolog.Logger) (display.Backend, *display.Simulator, *display.Hub, error) {
	switch cfg.Backend.Kind {
	case config.BackendAPA102:
		strip, err := display.NewStrip(display.StripConfig{
			Width:      cfg.Matrix.Width,
			Height:     cfg.Matrix.Height,
			Chip:       cfg.Backend.Chip,
			DataPin:    cfg.Backend.DataPin,
			ClockPin:   cfg.Backend.ClockPin,
			Brightness: cfg.Backend.Brightness,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return strip, nil, nil, nil
	default:
		hub := display.NewHub(logger)
		sim, err := display.NewSimulator(cfg.Matrix.Width, cfg.Matrix.Height, cfg.Backend.Magnification, hub)
		if err != nil {
			return nil, nil, nil, err
		}
		return sim, sim, hub, nil
	}
}
