// Package monitor polls for the vendor SDK and for newly attached devices.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/cue"
	"github.com/dokzlo13/idlergb/internal/eventbus"
)

// Phase is the polling phase of the monitor.
type Phase int

const (
	// PhaseSearching polls on the short interval until the SDK binds.
	PhaseSearching Phase = iota
	// PhaseWatching polls on the long interval for device count changes.
	PhaseWatching
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseSearching:
		return "searching"
	case PhaseWatching:
		return "watching"
	default:
		return "unknown"
	}
}

// Probe reports whether the SDK library is present.
type Probe interface {
	Available() bool
}

// Binder binds the SDK on behalf of the device sink.
type Binder interface {
	Initialize() error
	Reinitialize() error
}

// Counter returns a device count snapshot.
type Counter interface {
	Count() (int, error)
}

// Publisher receives monitor events.
type Publisher interface {
	Publish(eventbus.Event)
}

// Config contains polling intervals.
type Config struct {
	SearchInterval time.Duration
	WatchInterval  time.Duration
}

// Monitor is the SDK availability monitor.
type Monitor struct {
	probe   Probe
	binder  Binder
	counter Counter
	pub     Publisher
	cfg     Config

	mu        sync.Mutex
	phase     Phase
	lastCount int
}

// New creates a monitor in the searching phase.
func New(probe Probe, binder Binder, counter Counter, pub Publisher, cfg Config) *Monitor {
	if cfg.SearchInterval <= 0 {
		cfg.SearchInterval = 5 * time.Second
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 10 * time.Second
	}
	return &Monitor{
		probe:   probe,
		binder:  binder,
		counter: counter,
		pub:     pub,
		cfg:     cfg,
		phase:   PhaseSearching,
	}
}

// Phase returns the current polling phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Run polls until the context is cancelled. The first poll happens immediately.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().
		Dur("search_interval", m.cfg.SearchInterval).
		Dur("watch_interval", m.cfg.WatchInterval).
		Msg("SDK monitor started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("SDK monitor stopping")
			return nil
		case <-timer.C:
			m.Poll()
			timer.Reset(m.interval())
		}
	}
}

func (m *Monitor) interval() time.Duration {
	if m.Phase() == PhaseWatching {
		return m.cfg.WatchInterval
	}
	return m.cfg.SearchInterval
}

// Poll performs a single step of the polling state machine.
func (m *Monitor) Poll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case PhaseSearching:
		m.search()
	case PhaseWatching:
		m.watch()
	}
}

// search tries to bind the SDK. Caller must hold mu.
func (m *Monitor) search() {
	if !m.probe.Available() {
		log.Debug().Msg("CUE SDK not available yet")
		return
	}

	if err := m.binder.Initialize(); err != nil {
		// The vendor service often starts after us; keep searching quietly
		log.Debug().Err(err).Msg("CUE SDK present but not ready")
		return
	}

	count, err := m.counter.Count()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read device count")
	}
	m.lastCount = count
	m.phase = PhaseWatching

	log.Info().Int("devices", count).Msg("CUE SDK bound, watching for new devices")

	m.publish(eventbus.EventTypeSDKBound, map[string]interface{}{"devices": count})
	m.publish(eventbus.EventTypeDeviceConnected, map[string]interface{}{"devices": count, "reason": "bound"})
}

// watch compares the device count with the last snapshot. Caller must hold mu.
func (m *Monitor) watch() {
	count, err := m.counter.Count()
	if err != nil {
		if errors.Is(err, cue.ErrUnavailable) {
			log.Warn().Err(err).Msg("CUE SDK lost, searching again")
			m.phase = PhaseSearching
			m.lastCount = 0
			m.publish(eventbus.EventTypeSDKLost, nil)
			return
		}
		log.Warn().Err(err).Msg("Failed to read device count")
		return
	}

	previous := m.lastCount
	m.lastCount = count

	if count <= previous {
		if count < previous {
			log.Debug().Int("devices", count).Int("previous", previous).Msg("Device detached")
		}
		return
	}

	log.Info().Int("devices", count).Int("previous", previous).Msg("New device connected")

	if err := m.binder.Reinitialize(); err != nil {
		log.Warn().Err(err).Msg("Failed to reinitialize CUE SDK after device change")
		// Retry on the next poll
		m.lastCount = previous
		return
	}

	m.publish(eventbus.EventTypeDeviceConnected, map[string]interface{}{"devices": count, "reason": "attached"})
}

func (m *Monitor) publish(t eventbus.EventType, data map[string]interface{}) {
	if m.pub == nil {
		return
	}
	m.pub.Publish(eventbus.Event{Type: t, Data: data})
}
