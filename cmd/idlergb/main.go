package main

import (
	"flag"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/app"
	"github.com/dokzlo13/idlergb/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	resetSettings := flag.Bool("reset-settings", false, "Reset stored lighting settings to the config defaults on startup")
	flag.Parse()

	// Optional .env next to the binary feeds ${VAR} expansion in the config
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	cfg, found, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", configPath).Msg("Failed to load configuration")
	}

	closeLog := setupLogging(cfg.Log)
	defer closeLog()

	if found {
		log.Info().Str("config", configPath).Msg("Starting IdleRGB")
	} else {
		log.Info().Str("config", configPath).Msg("Config file not found, starting IdleRGB with defaults")
	}

	application, err := app.New(cfg, app.Platform{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	if *resetSettings {
		log.Info().Msg("Resetting stored settings (--reset-settings)")
		if err := application.ResetSettings(); err != nil {
			log.Warn().Err(err).Msg("Failed to reset settings")
		}
	}

	// Create context that cancels on shutdown signal
	ctx := app.SignalContext()

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	application.Wait()

	// Graceful shutdown; releases the devices back to the vendor software
	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

// setupLogging configures the global logger. The returned func closes the log file.
func setupLogging(cfg config.LogConfig) func() {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors,
		}
	}

	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(config.ExpandEnvString(cfg.File), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Warn().Err(err).Str("file", cfg.File).Msg("Cannot open log file, logging to stderr only")
		} else {
			// The file always gets JSON lines
			out = zerolog.MultiLevelWriter(out, f)
			closeFn = func() { f.Close() }
		}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(cfg.GetLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return closeFn
}
