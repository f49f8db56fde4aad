package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/autostart"
	"github.com/dokzlo13/idlergb/internal/config"
	"github.com/dokzlo13/idlergb/internal/control"
	"github.com/dokzlo13/idlergb/internal/cue"
	"github.com/dokzlo13/idlergb/internal/db"
	"github.com/dokzlo13/idlergb/internal/eventbus"
	"github.com/dokzlo13/idlergb/internal/input"
	"github.com/dokzlo13/idlergb/internal/ledger"
	"github.com/dokzlo13/idlergb/internal/settings"
	"github.com/dokzlo13/idlergb/internal/state"
	"github.com/dokzlo13/idlergb/internal/tray"
)

// Platform holds the OS-facing collaborators. Nil fields get the native ones.
type Platform struct {
	Runtime   cue.Runtime
	Input     input.Source
	AutoStart autostart.Registry
}

func (p Platform) withDefaults(cfg *config.Config) Platform {
	if p.Runtime == nil {
		p.Runtime = cue.New(cfg.SDK.DLLPath)
	}
	if p.Input == nil {
		p.Input = input.NewSource()
	}
	if p.AutoStart == nil {
		p.AutoStart = autostart.New()
	}
	return p
}

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Store  *state.Store
	Bus    *eventbus.Bus

	Settings *settings.Store

	// High-level services
	Lighting *LightingService
	Control  *ControlService
	Tray     *tray.Icon

	released    chan struct{}
	releaseOnce sync.Once
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, platform Platform) (*Services, error) {
	platform = platform.withDefaults(cfg)
	s := &Services{cfg: cfg, released: make(chan struct{})}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Store = state.NewStore(database.DB)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.Settings = settings.NewStore(s.Store, settings.FromConfig(cfg.Lighting), platform.AutoStart, s.Bus)
	initial, err := s.Settings.Get()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Lighting = NewLightingService(cfg, platform.Runtime, platform.Input, s.Bus, s.Settings, initial)

	s.Control = NewControlService(cfg, control.Deps{
		Lighting: s.Lighting.Coordinator,
		Settings: s.Settings,
		Devices:  s.Lighting.Sink,
		Monitor:  s.Lighting.Monitor,
		History:  s.Ledger,
	})

	return s, nil
}

// Start starts all services in the correct order.
// onExit is invoked when the user asks to quit from the tray.
func (s *Services) Start(ctx context.Context, onExit func()) error {
	s.Ledger.Subscribe(s.Bus)

	s.Lighting.Start(ctx)

	go func() {
		if err := s.Ledger.RunCleanup(ctx, s.cfg.Ledger.CleanupInterval.Duration(), s.retention()); err != nil {
			log.Error().Err(err).Msg("Ledger cleanup error")
		}
	}()

	s.Control.Start(ctx, s.Bus)

	if s.cfg.Tray.IsEnabled() {
		s.Tray = tray.New(tray.Options{
			Title:             "IdleRGB",
			SettingsURL:       s.Control.URL(),
			OnExit:            onExit,
			Released:          s.released,
			EndSessionTimeout: 2 * s.cfg.GetShutdownTimeout(),
		})
		s.Tray.Subscribe(s.Bus)
		go func() {
			if err := s.Tray.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Tray icon error")
			}
		}()
	}

	log.Info().Str("session", s.Ledger.SessionID()).Msg("Services started")
	return nil
}

// Released is closed once Close has handed the devices back to the vendor software.
func (s *Services) Released() <-chan struct{} {
	return s.released
}

func (s *Services) retention() time.Duration {
	return time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
}

// ResetSettings drops the stored settings and reloads the config defaults.
func (s *Services) ResetSettings() error {
	if err := s.Settings.Reset(); err != nil {
		return err
	}
	fresh, err := s.Settings.Get()
	if err != nil {
		return err
	}
	s.Lighting.Coordinator.ReloadSettings(fresh)
	log.Info().Msg("Settings reset to config defaults")
	return nil
}

// Stop gracefully stops all services. The context must already be cancelled.
func (s *Services) Stop() error {
	if s.Lighting != nil {
		s.Lighting.Wait(s.cfg.GetShutdownTimeout())
	}
	s.Close()
	return nil
}

// Close releases all resources.
// The sink is released after the bus has drained so no late event repaints the devices.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Lighting != nil {
		s.Lighting.Close()
	}
	s.releaseOnce.Do(func() { close(s.released) })
	if s.DB != nil {
		s.DB.Close()
	}
}
