// Package tray shows the notification area icon.
package tray

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/eventbus"
)

// Options configures the icon.
type Options struct {
	Title       string
	SettingsURL string // Opened by the "Settings" menu item; hidden when empty
	OnExit      func()

	// Released is closed once the devices are handed back to the vendor
	// software. Session end waits on it up to EndSessionTimeout (default 10s).
	Released          <-chan struct{}
	EndSessionTimeout time.Duration
}

// Icon is the tray icon. The tooltip follows the lighting state.
type Icon struct {
	opts Options

	mu      sync.Mutex
	tooltip string

	native nativeIcon
}

// New creates an icon. Call Run to show it.
func New(opts Options) *Icon {
	if opts.Title == "" {
		opts.Title = "IdleRGB"
	}
	if opts.OnExit == nil {
		opts.OnExit = func() {}
	}
	if opts.EndSessionTimeout <= 0 {
		opts.EndSessionTimeout = 10 * time.Second
	}
	return &Icon{opts: opts, tooltip: opts.Title}
}

// Tooltip returns the current tooltip text.
func (i *Icon) Tooltip() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.tooltip
}

// SetState updates the tooltip for a lighting state name.
func (i *Icon) SetState(state string) {
	i.mu.Lock()
	i.tooltip = tooltipFor(i.opts.Title, state)
	i.mu.Unlock()
	i.refresh()
}

// Subscribe keeps the tooltip in sync with bus events.
func (i *Icon) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeStateChanged, func(e eventbus.Event) {
		if to, ok := e.Data["to"].(string); ok {
			i.SetState(to)
		}
	})
	bus.Subscribe(eventbus.EventTypeControl, func(e eventbus.Event) {
		if e.Data["action"] == "taken" {
			i.SetState("manual")
		}
	})
	bus.Subscribe(eventbus.EventTypeSDKLost, func(eventbus.Event) {
		i.SetState("no_sdk")
	})
}

// endSession runs when the OS logs the user off or shuts down. The process is
// terminated as soon as the handler returns, so it waits for the release.
func (i *Icon) endSession(ending bool) {
	if !ending {
		return
	}
	log.Info().Msg("Session ending, releasing devices")
	i.opts.OnExit()

	if i.opts.Released == nil {
		return
	}
	timer := time.NewTimer(i.opts.EndSessionTimeout)
	defer timer.Stop()

	select {
	case <-i.opts.Released:
		log.Info().Msg("Devices released before session end")
	case <-timer.C:
		log.Warn().Dur("timeout", i.opts.EndSessionTimeout).Msg("Devices not released before session end")
	}
}

func tooltipFor(title, state string) string {
	switch state {
	case "normal":
		return title
	case "idle":
		return title + ": idle"
	case "caps_active":
		return title + ": Caps Lock"
	case "manual":
		return title + ": preview"
	case "no_sdk":
		return title + ": waiting for iCUE"
	default:
		return title + ": " + state
	}
}
