package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/config"
	"github.com/dokzlo13/idlergb/internal/coordinator"
	"github.com/dokzlo13/idlergb/internal/cue"
	"github.com/dokzlo13/idlergb/internal/eventbus"
	"github.com/dokzlo13/idlergb/internal/input"
	"github.com/dokzlo13/idlergb/internal/monitor"
	"github.com/dokzlo13/idlergb/internal/settings"
	"github.com/dokzlo13/idlergb/internal/sink"
)

// LightingService wraps the vendor runtime, device sink, SDK monitor, input
// source and coordinator.
type LightingService struct {
	cfg *config.Config

	Runtime     cue.Runtime
	Sink        *sink.Sink
	Monitor     *monitor.Monitor
	Input       input.Source
	Coordinator *coordinator.Coordinator
	bus         *eventbus.Bus

	wg sync.WaitGroup
}

// NewLightingService creates the lighting components without touching the SDK.
// Saved settings are re-read from store when the save notification arrives.
func NewLightingService(cfg *config.Config, rt cue.Runtime, src input.Source, bus *eventbus.Bus, store coordinator.SettingsReader, initial settings.Settings) *LightingService {
	s := sink.New(rt, initial.Media, sink.WithBindRetry(cfg.SDK.BindAttempts, cfg.SDK.BindDelay.Duration()))

	counter, err := monitor.NewCounter(cfg.SDK.DeviceCountSource, rt)
	if err != nil {
		log.Warn().Err(err).Msg("Falling back to SDK device count")
	}

	mon := monitor.New(rt, s, counter, bus, monitor.Config{
		SearchInterval: cfg.SDK.SearchInterval.Duration(),
		WatchInterval:  cfg.SDK.WatchInterval.Duration(),
	})

	coord := coordinator.New(s, src, initial,
		coordinator.WithPublisher(bus),
		coordinator.WithTickInterval(cfg.Lighting.TickInterval.Duration()),
		coordinator.WithControlLease(cfg.Control.Lease.Duration()),
		coordinator.WithSettingsReader(store),
	)

	return &LightingService{
		cfg:         cfg,
		Runtime:     rt,
		Sink:        s,
		Monitor:     mon,
		Input:       src,
		Coordinator: coord,
		bus:         bus,
	}
}

// inputReadyTimeout bounds how long Start waits for the hooks before reading Caps Lock.
const inputReadyTimeout = 2 * time.Second

// Start subscribes the coordinator and launches the background loops.
// The coordinator starts once the input source tracks Caps Lock, so a toggle
// that is already on at launch is painted immediately.
func (s *LightingService) Start(ctx context.Context) {
	s.Coordinator.Subscribe(s.bus)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		err := input.Forward(ctx, s.Input, s.cfg.Input.Coalesce.Duration(), s.bus)
		if errors.Is(err, input.ErrUnsupported) {
			log.Warn().Err(err).Msg("Input hooks unavailable, idle detection disabled")
		} else if err != nil {
			log.Error().Err(err).Msg("Input hook error")
		}
	}()

	if !input.WaitReady(ctx, s.Input, inputReadyTimeout) {
		log.Warn().Msg("Input source not ready, starting with the current Caps Lock reading")
	}
	s.Coordinator.Start()

	go func() {
		defer s.wg.Done()
		if err := s.Monitor.Run(ctx); err != nil {
			log.Error().Err(err).Msg("SDK monitor error")
		}
	}()
	go func() {
		defer s.wg.Done()
		if err := s.Coordinator.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Coordinator error")
		}
	}()
}

// Wait blocks until the background loops exit or the timeout elapses.
func (s *LightingService) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Msg("Lighting loops did not stop in time")
	}
}

// Close stops coordinator writes and hands the devices back to the vendor software.
func (s *LightingService) Close() {
	s.Coordinator.Close()
	s.Sink.Release()
	log.Info().Msg("Lighting control released")
}
