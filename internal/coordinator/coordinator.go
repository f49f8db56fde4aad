// Package coordinator owns the idle / Caps Lock lighting state machine.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/color"
	"github.com/dokzlo13/idlergb/internal/eventbus"
	"github.com/dokzlo13/idlergb/internal/settings"
	"github.com/dokzlo13/idlergb/internal/sink"
)

var (
	// ErrControlHeld is returned when another owner already holds manual control.
	ErrControlHeld = errors.New("manual control already held")
	// ErrNotOwner is returned for a token that does not hold manual control.
	ErrNotOwner = errors.New("not the manual control owner")
)

// Sink is the device color sink driven by the coordinator.
type Sink interface {
	ApplyColor(c color.RGB)
	Release()
	SetMediaColors(m sink.MediaColors)
}

// CapsReader answers whether Caps Lock is currently toggled.
type CapsReader interface {
	CapsLock() bool
}

// SettingsReader returns the latest persisted settings.
type SettingsReader interface {
	Get() (settings.Settings, error)
}

// Publisher receives state change notifications.
type Publisher interface {
	Publish(eventbus.Event)
}

// Snapshot is a point-in-time view of the coordinator.
type Snapshot struct {
	State        State             `json:"state"`
	Color        *color.RGB        `json:"color,omitempty"` // nil while the vendor software has control
	Overridden   bool              `json:"overridden"`
	LastActivity time.Time         `json:"last_activity"`
	IdleFor      time.Duration     `json:"-"`
	Settings     settings.Settings `json:"settings"`
}

// MarshalJSON on State lets snapshots and events carry readable names.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithPublisher sets where state_changed and control events go.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.pub = p }
}

// WithTickInterval sets the idle check interval used by Run (default 1s).
func WithTickInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// WithControlLease makes manual control expire unless renewed within d.
// Zero keeps control until it is released.
func WithControlLease(d time.Duration) Option {
	return func(c *Coordinator) { c.lease = d }
}

// WithSettingsReader makes settings_saved notifications reload from r
// instead of trusting the event payload.
func WithSettingsReader(r SettingsReader) Option {
	return func(c *Coordinator) { c.reader = r }
}

// Coordinator serializes all lighting transitions behind a single mutex.
// Hook activity, ticks, reloads, device events and the control handshake may
// arrive from any goroutine.
type Coordinator struct {
	sink         Sink
	caps         CapsReader
	pub          Publisher
	reader       SettingsReader
	now          func() time.Time
	tickInterval time.Duration
	lease        time.Duration

	mu           sync.Mutex
	state        State
	settings     settings.Settings
	lastActivity time.Time
	applied      *color.RGB
	owner        string
	leaseUntil   time.Time
	closed       bool
}

// New creates a coordinator in the Normal state.
func New(s Sink, caps CapsReader, initial settings.Settings, opts ...Option) *Coordinator {
	c := &Coordinator{
		sink:         s,
		caps:         caps,
		now:          time.Now,
		tickInterval: time.Second,
		state:        StateNormal,
		settings:     initial,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastActivity = c.now()
	s.SetMediaColors(initial.Media)
	return c
}

// Start applies the caps color if Caps Lock is already on.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivity = c.now()
	if c.caps.CapsLock() {
		c.transition(TriggerActivity)
	}
	log.Info().Str("state", c.state.String()).Dur("idle_timeout", c.settings.IdleTimeout).Msg("Lighting coordinator started")
}

// Run drives idle ticks until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Lighting coordinator stopping")
			return nil
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Subscribe wires the coordinator to bus events.
func (c *Coordinator) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeActivity, func(eventbus.Event) {
		c.Activity()
	})
	bus.Subscribe(eventbus.EventTypeDeviceConnected, func(eventbus.Event) {
		c.DeviceConnected()
	})
	bus.Subscribe(eventbus.EventTypeSettingsSaved, func(e eventbus.Event) {
		if c.reader != nil {
			c.Reload()
			return
		}
		s, ok := e.Data["settings"].(settings.Settings)
		if !ok {
			log.Warn().Msg("settings_saved event without settings payload")
			return
		}
		c.ReloadSettings(s)
	})
}

// Reload re-reads the settings store and applies the result.
// The read happens under the lock, so concurrent reloads cannot leave an older
// save in place.
func (c *Coordinator) Reload() {
	if c.reader == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.reader.Get()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to reload settings")
		return
	}
	c.applySettings(s)
}

// Activity records input and re-derives state from Caps Lock.
func (c *Coordinator) Activity() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivity = c.now()
	c.expireControl()
	if c.owner != "" {
		return
	}
	c.transition(TriggerActivity)
}

// Tick checks the idle timeout.
func (c *Coordinator) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireControl()
	if c.owner != "" {
		return
	}
	c.transition(TriggerTick)
}

// ReloadSettings replaces the cached settings and refreshes the lighting.
func (c *Coordinator) ReloadSettings(s settings.Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applySettings(s)
}

// applySettings caches s and refreshes the lighting. Caller must hold mu.
func (c *Coordinator) applySettings(s settings.Settings) {
	c.settings = s
	c.sink.SetMediaColors(s.Media)
	log.Debug().Dur("idle_timeout", s.IdleTimeout).Msg("Coordinator settings reloaded")

	c.expireControl()
	if c.owner != "" {
		// Applied on release
		return
	}
	c.transition(TriggerSettingsReload)
}

// DeviceConnected extends the current override color to new devices.
func (c *Coordinator) DeviceConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireControl()
	if c.owner != "" {
		return
	}
	c.transition(TriggerDeviceConnected)
}

// TakeControl suspends coordinator writes and returns the owner token.
func (c *Coordinator) TakeControl() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireControl()
	if c.owner != "" || c.closed {
		return "", ErrControlHeld
	}
	c.owner = uuid.New().String()
	c.renew()

	log.Info().Str("state", c.state.String()).Msg("Manual control taken")
	c.publish(eventbus.EventTypeControl, map[string]interface{}{"action": "taken"})
	return c.owner, nil
}

// RenewControl extends the manual control lease without writing a color.
func (c *Coordinator) RenewControl(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireControl()
	if token == "" || token != c.owner {
		return ErrNotOwner
	}
	c.renew()
	return nil
}

// Preview writes a color on behalf of the manual control owner and renews the lease.
func (c *Coordinator) Preview(token string, col color.RGB) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireControl()
	if token == "" || token != c.owner {
		return ErrNotOwner
	}
	c.renew()
	if c.closed {
		return nil
	}
	c.sink.ApplyColor(col)
	c.applied = &col
	return nil
}

// ReleaseControl ends manual control and re-applies state from Caps Lock truth.
func (c *Coordinator) ReleaseControl(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireControl()
	if token == "" || token != c.owner {
		return ErrNotOwner
	}
	c.owner = ""

	log.Info().Msg("Manual control released")
	c.publish(eventbus.EventTypeControl, map[string]interface{}{"action": "released"})
	c.transition(TriggerControlReleased)
	return nil
}

// renew restarts the lease of the current owner. Caller must hold mu.
func (c *Coordinator) renew() {
	if c.lease > 0 {
		c.leaseUntil = c.now().Add(c.lease)
	}
}

// expireControl drops manual control whose lease ran out, as if the owner had
// released it. Caller must hold mu.
func (c *Coordinator) expireControl() {
	if c.owner == "" || c.lease <= 0 || c.now().Before(c.leaseUntil) {
		return
	}
	c.owner = ""

	log.Warn().Dur("lease", c.lease).Msg("Manual control lease expired")
	c.publish(eventbus.EventTypeControl, map[string]interface{}{"action": "released", "reason": "expired"})
	c.transition(TriggerControlReleased)
}

// State returns the current lighting state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current state, applied color and settings.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:        c.state,
		Overridden:   c.owner != "",
		LastActivity: c.lastActivity,
		IdleFor:      c.now().Sub(c.lastActivity),
		Settings:     c.settings,
	}
	if c.applied != nil {
		col := *c.applied
		snap.Color = &col
	}
	return snap
}

// Close stops all further sink writes. The caller releases the sink afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.owner = ""
}

// transition evaluates one trigger and performs the resulting action.
// Caller must hold mu.
func (c *Coordinator) transition(trigger Trigger) {
	if c.closed {
		return
	}
	capsOn := false
	if trigger != TriggerTick {
		capsOn = c.caps.CapsLock()
	}

	from := c.state
	next, action := Decide(from, trigger, capsOn, c.now().Sub(c.lastActivity), c.settings.IdleTimeout)
	c.perform(action)
	c.state = next

	if next == from && action == ActionNone {
		return
	}

	log.Debug().
		Str("trigger", trigger.String()).
		Str("from", from.String()).
		Str("to", next.String()).
		Str("action", action.String()).
		Msg("Lighting transition")

	if next != from {
		data := map[string]interface{}{
			"from":    from.String(),
			"to":      next.String(),
			"trigger": trigger.String(),
		}
		if c.applied != nil {
			data["color"] = c.applied.String()
		}
		c.publish(eventbus.EventTypeStateChanged, data)
	}
}

// perform runs the sink side effect of an action. Caller must hold mu.
func (c *Coordinator) perform(action Action) {
	switch action {
	case ActionApplyCaps:
		col := c.settings.CapsColor
		c.sink.ApplyColor(col)
		c.applied = &col
	case ActionApplyIdle:
		col := c.settings.IdleColor
		c.sink.ApplyColor(col)
		c.applied = &col
	case ActionRelease:
		c.sink.Release()
		c.applied = nil
	}
}

func (c *Coordinator) publish(t eventbus.EventType, data map[string]interface{}) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(eventbus.Event{Type: t, Data: data})
}
