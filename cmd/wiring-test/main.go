package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/fkcurrie/matrixhost/internal/config"
	"github.com/fkcurrie/matrixhost/internal/display"
	"github.com/fkcurrie/matrixhost/internal/driver"
	"github.com/fkcurrie/matrixhost/internal/logsink"
	"github.com/fkcurrie/matrixhost/internal/observability"
	"github.com/fkcurrie/matrixhost/internal/plugin"
	"github.com/fkcurrie/matrixhost/internal/plugins"
)

// Lights the strip one logical pixel at a time so the serpentine and wiring
// settings can be checked by eye. Pixels must appear left to right, top to
// bottom whatever the physical wiring.
func main() {
	configPath := flag.String("config", "matrixhost.toml", "path to config file")
	colorFlag := flag.String("color", "#ffffff", "wipe color")
	fps := flag.Float64("fps", 4, "pixels per second")
	flag.Parse()

	logger := observability.InitLogger("wiring-test", "info")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Warn().Err(err).Msg("using default configuration")
		cfg = config.DefaultConfig()
		cfg.Backend.Kind = config.BackendAPA102
	}

	strip, err := display.NewStrip(display.StripConfig{
		Width:      cfg.Matrix.Width,
		Height:     cfg.Matrix.Height,
		Chip:       cfg.Backend.Chip,
		DataPin:    cfg.Backend.DataPin,
		ClockPin:   cfg.Backend.ClockPin,
		Brightness: cfg.Backend.Brightness,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open strip")
	}
	defer strip.Close()

	drv, err := driver.New(driver.Config{
		Width:      cfg.Matrix.Width,
		Height:     cfg.Matrix.Height,
		TargetFPS:  float32(*fps),
		Serpentine: cfg.Matrix.Serpentine,
		Wiring:     cfg.Matrix.Wiring,
		Logger:     logger,
	}, strip, logsink.NewLogger(logger))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create driver")
	}

	registry, err := plugins.NewRegistry()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register plugins")
	}
	playlist := plugin.NewPlaylist(registry, []plugin.Entry{{
		Name:   "wiring-test",
		Kind:   plugins.KindWipe,
		Params: plugin.Params{"color": *colorFlag},
	}}, false, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Int("width", cfg.Matrix.Width).
		Int("height", cfg.Matrix.Height).
		Bool("serpentine", cfg.Matrix.Serpentine).
		Str("wiring", cfg.Matrix.Wiring.String()).
		Msg("starting wipe")

	if err := drv.Run(ctx, playlist); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("wiring test failed")
	}
	logger.Info().Msg("done")
}
