// Package sink paints Corsair device LEDs and hands control back to the vendor software.
package sink

import (
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/color"
	"github.com/dokzlo13/idlergb/internal/cue"
)

// MediaColors are the fixed colors of the keyboard transport keys.
type MediaColors struct {
	Stop      color.RGB `json:"stop"`
	Prev      color.RGB `json:"prev"`
	PlayPause color.RGB `json:"play_pause"`
	Next      color.RGB `json:"next"`
	Mute      color.RGB `json:"mute"`
}

// forLED returns the media color for a transport LED.
func (m MediaColors) forLED(id cue.LedID) (color.RGB, bool) {
	switch id {
	case cue.LedStop:
		return m.Stop, true
	case cue.LedScanPreviousTrack:
		return m.Prev, true
	case cue.LedPlayPause:
		return m.PlayPause, true
	case cue.LedScanNextTrack:
		return m.Next, true
	case cue.LedMute:
		return m.Mute, true
	}
	return color.RGB{}, false
}

// Connectivity reports which device roles are currently connected.
type Connectivity struct {
	Keyboard  bool `json:"keyboard"`
	Mouse     bool `json:"mouse"`
	Headset   bool `json:"headset"`
	Mousemat  bool `json:"mousemat"`
	MediaLEDs bool `json:"media_leds"`
}

// Any returns true if at least one role is connected.
func (c Connectivity) Any() bool {
	return c.Keyboard || c.Mouse || c.Headset || c.Mousemat
}

// Option configures a Sink.
type Option func(*Sink)

// WithBindRetry sets how many times Initialize retries the SDK handshake.
func WithBindRetry(attempts uint, delay time.Duration) Option {
	return func(s *Sink) {
		s.bindAttempts = attempts
		s.bindDelay = delay
	}
}

// Sink is the device color sink.
// It is safe for concurrent use; vendor calls are serialized.
type Sink struct {
	mu  sync.Mutex
	rt  cue.Runtime
	med MediaColors

	bound       bool
	devices     []cue.DeviceInfo
	conn        Connectivity
	controlling bool

	bindAttempts uint
	bindDelay    time.Duration
}

// New creates a sink over the vendor runtime. Nothing is called until Initialize.
func New(rt cue.Runtime, media MediaColors, opts ...Option) *Sink {
	s := &Sink{
		rt:           rt,
		med:          media,
		bindAttempts: 3,
		bindDelay:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bindAttempts == 0 {
		s.bindAttempts = 1
	}
	return s
}

// Initialize binds the SDK and discovers device roles.
// Missing roles are not an error; only a failed handshake is.
func (s *Sink) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bind(s.rt.Initialize)
}

// Reinitialize repeats the handshake so newly attached devices are picked up.
func (s *Sink) Reinitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bound {
		return s.bind(s.rt.Initialize)
	}
	s.controlling = false
	return s.bind(s.rt.Reinitialize)
}

// bind runs the handshake with retries. Caller must hold mu.
func (s *Sink) bind(handshake func() error) error {
	err := retry.Do(
		handshake,
		retry.Attempts(s.bindAttempts),
		retry.Delay(s.bindDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Uint("attempt", n+1).Err(err).Msg("CUE handshake failed, retrying")
		}),
	)
	if err != nil {
		s.bound = false
		s.devices = nil
		s.conn = Connectivity{}
		return err
	}

	s.bound = true
	s.discover()
	return nil
}

// discover refreshes the device list and role flags. Caller must hold mu.
func (s *Sink) discover() {
	devices, err := s.rt.Devices()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to enumerate CUE devices")
		s.devices = nil
		s.conn = Connectivity{}
		return
	}

	var conn Connectivity
	kept := devices[:0]
	for _, dev := range devices {
		switch dev.Type {
		case cue.DeviceKeyboard:
			conn.Keyboard = true
			// Capability probe: any keyboard exposing the Stop LED has the transport keys
			if dev.HasLED(cue.LedStop) {
				conn.MediaLEDs = true
			}
		case cue.DeviceMouse:
			conn.Mouse = true
		case cue.DeviceHeadset:
			conn.Headset = true
		case cue.DeviceMousemat:
			conn.Mousemat = true
		default:
			log.Debug().Str("type", dev.Type.String()).Str("model", dev.Model).Msg("Skipping unsupported CUE device")
			continue
		}
		kept = append(kept, dev)
	}

	s.devices = kept
	s.conn = conn

	log.Info().
		Bool("keyboard", conn.Keyboard).
		Bool("mouse", conn.Mouse).
		Bool("headset", conn.Headset).
		Bool("mousemat", conn.Mousemat).
		Bool("media_leds", conn.MediaLEDs).
		Msg("CUE devices discovered")
}

// ApplyColor paints every ordinary LED of every connected role.
// Transport keys keep their media colors. Vendor failures are logged and swallowed.
func (s *Sink) ApplyColor(c color.RGB) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bound {
		log.Debug().Str("color", c.String()).Msg("CUE not bound, skipping color write")
		return
	}

	written := 0
	for _, dev := range s.devices {
		colors := s.colorsFor(dev, c)
		if len(colors) == 0 {
			continue
		}
		if err := s.rt.SetColors(dev.Index, colors); err != nil {
			log.Warn().Err(err).Str("device", dev.Type.String()).Str("model", dev.Model).Msg("Failed to set device colors")
			continue
		}
		written++
	}
	if written == 0 {
		return
	}

	if err := s.rt.Flush(); err != nil {
		log.Warn().Err(err).Msg("Failed to flush device colors")
		return
	}
	s.controlling = true

	log.Debug().Str("color", c.String()).Int("devices", written).Msg("Applied color")
}

// colorsFor builds the LED assignments for one device.
func (s *Sink) colorsFor(dev cue.DeviceInfo, c color.RGB) []cue.LedColor {
	colors := make([]cue.LedColor, 0, len(dev.LEDs))
	for _, led := range dev.LEDs {
		switch led {
		case cue.LedBrightness, cue.LedWinLock:
			continue
		}
		if dev.Type == cue.DeviceKeyboard && s.conn.MediaLEDs {
			if mc, ok := s.med.forLED(led); ok {
				colors = append(colors, cue.LedColor{ID: led, Color: mc})
				continue
			}
		}
		colors = append(colors, cue.LedColor{ID: led, Color: c})
	}
	return colors
}

// Release hands lighting back to the vendor software.
// Idempotent, and a no-op when nothing was ever painted.
func (s *Sink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bound || !s.controlling {
		return
	}

	err := retry.Do(
		s.rt.ReleaseControl,
		retry.Attempts(2),
		retry.Delay(50*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to release lighting control")
		return
	}
	s.controlling = false
	log.Debug().Msg("Released lighting control")
}

// SetMediaColors replaces the transport key colors used by later writes.
func (s *Sink) SetMediaColors(m MediaColors) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.med = m
}

// Connectivity returns the device roles found at the last (re)initialization.
func (s *Sink) Connectivity() Connectivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Bound returns true once the SDK handshake has succeeded.
func (s *Sink) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}
