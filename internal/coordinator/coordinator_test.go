package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/idlergb/internal/color"
	"github.com/dokzlo13/idlergb/internal/cue"
	"github.com/dokzlo13/idlergb/internal/cue/cuetest"
	"github.com/dokzlo13/idlergb/internal/eventbus"
	"github.com/dokzlo13/idlergb/internal/settings"
	"github.com/dokzlo13/idlergb/internal/sink"
)

// fakeSink tracks what the hardware would currently show.
type fakeSink struct {
	mu       sync.Mutex
	current  *color.RGB
	applies  []color.RGB
	releases int
	media    sink.MediaColors
}

func (s *fakeSink) ApplyColor(c color.RGB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &c
	s.applies = append(s.applies, c)
}

func (s *fakeSink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.releases++
}

func (s *fakeSink) SetMediaColors(m sink.MediaColors) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media = m
}

func (s *fakeSink) shown() *color.RGB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

type fakeCaps struct{ on atomic.Bool }

func (f *fakeCaps) CapsLock() bool { return f.on.Load() }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) Publish(e eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t eventbus.EventType) []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []eventbus.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var (
	idleColor = color.RGB{R: 200}
	capsColor = color.RGB{B: 200}
)

func testSettings() settings.Settings {
	return settings.Settings{
		IdleTimeout: 5 * time.Second,
		IdleColor:   idleColor,
		CapsColor:   capsColor,
		Media:       sink.MediaColors{Stop: color.Red},
	}
}

type harness struct {
	c     *Coordinator
	sink  *fakeSink
	caps  *fakeCaps
	clock *fakeClock
	pub   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sink:  &fakeSink{},
		caps:  &fakeCaps{},
		clock: &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		pub:   &recorder{},
	}
	h.c = New(h.sink, h.caps, testSettings(), WithClock(h.clock.Now), WithPublisher(h.pub))
	h.c.Start()
	return h
}

func TestNew_PushesMediaColors(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, color.Red, h.sink.media.Stop)
}

func TestStart_AppliesCapsWhenAlreadyOn(t *testing.T) {
	s := &fakeSink{}
	caps := &fakeCaps{}
	caps.on.Store(true)

	c := New(s, caps, testSettings())
	c.Start()

	assert.Equal(t, StateCapsActive, c.State())
	require.NotNil(t, s.shown())
	assert.Equal(t, capsColor, *s.shown())
}

func TestStart_NoWriteWhenCapsOff(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateNormal, h.c.State())
	assert.Empty(t, h.sink.applies)
	assert.Zero(t, h.sink.releases)
}

func TestIdleAfterTimeout(t *testing.T) {
	h := newHarness(t)

	h.clock.Advance(4 * time.Second)
	h.c.Tick()
	assert.Equal(t, StateNormal, h.c.State(), "tick before timeout is a no-op")
	assert.Empty(t, h.sink.applies)

	h.clock.Advance(2 * time.Second)
	h.c.Tick()
	assert.Equal(t, StateIdle, h.c.State())
	require.NotNil(t, h.sink.shown())
	assert.Equal(t, idleColor, *h.sink.shown())

	// Further ticks do nothing
	h.clock.Advance(time.Minute)
	h.c.Tick()
	assert.Len(t, h.sink.applies, 1)

	changes := h.pub.ofType(eventbus.EventTypeStateChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, "normal", changes[0].Data["from"])
	assert.Equal(t, "idle", changes[0].Data["to"])
	assert.Equal(t, idleColor.String(), changes[0].Data["color"])
}

func TestActivityResetsIdleClock(t *testing.T) {
	h := newHarness(t)

	h.clock.Advance(4 * time.Second)
	h.c.Activity()
	h.clock.Advance(4 * time.Second)
	h.c.Tick()

	assert.Equal(t, StateNormal, h.c.State())
}

func TestActivityLeavesIdle(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(6 * time.Second)
	h.c.Tick()
	require.Equal(t, StateIdle, h.c.State())

	h.c.Activity()

	assert.Equal(t, StateNormal, h.c.State())
	assert.Nil(t, h.sink.shown(), "control released to vendor software")
	assert.Equal(t, 1, h.sink.releases)
}

func TestCapsPressedWhileIdle(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(6 * time.Second)
	h.c.Tick()
	require.Equal(t, StateIdle, h.c.State())

	h.caps.on.Store(true)
	h.c.Activity()

	assert.Equal(t, StateCapsActive, h.c.State())
	require.NotNil(t, h.sink.shown())
	assert.Equal(t, capsColor, *h.sink.shown())
}

func TestCapsActiveNeverIdles(t *testing.T) {
	h := newHarness(t)
	h.caps.on.Store(true)
	h.c.Activity()

	h.clock.Advance(time.Hour)
	h.c.Tick()

	assert.Equal(t, StateCapsActive, h.c.State())
	assert.Equal(t, capsColor, *h.sink.shown())
}

func TestCapsToggledOff(t *testing.T) {
	h := newHarness(t)
	h.caps.on.Store(true)
	h.c.Activity()
	h.caps.on.Store(false)
	h.c.Activity()

	assert.Equal(t, StateNormal, h.c.State())
	assert.Nil(t, h.sink.shown())
}

func TestRepeatedActivityDoesNotRewrite(t *testing.T) {
	h := newHarness(t)
	h.caps.on.Store(true)
	for i := 0; i < 10; i++ {
		h.c.Activity()
	}
	assert.Len(t, h.sink.applies, 1)
}

func TestReloadWhileCapsActiveReappliesNewColor(t *testing.T) {
	h := newHarness(t)
	h.caps.on.Store(true)
	h.c.Activity()

	next := testSettings()
	next.CapsColor = color.Green
	h.c.ReloadSettings(next)

	assert.Equal(t, StateCapsActive, h.c.State())
	assert.Equal(t, color.Green, *h.sink.shown())
}

func TestReloadWhileIdleReleases(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(6 * time.Second)
	h.c.Tick()

	next := testSettings()
	next.IdleColor = color.Blue
	next.Media.Mute = color.White
	h.c.ReloadSettings(next)

	assert.Equal(t, StateNormal, h.c.State())
	assert.Nil(t, h.sink.shown())
	assert.Equal(t, color.White, h.sink.media.Mute)
}

func TestReloadChangesTimeout(t *testing.T) {
	h := newHarness(t)

	next := testSettings()
	next.IdleTimeout = time.Minute
	h.c.ReloadSettings(next)

	h.clock.Advance(10 * time.Second)
	h.c.Tick()
	assert.Equal(t, StateNormal, h.c.State())

	h.clock.Advance(time.Minute)
	h.c.Tick()
	assert.Equal(t, StateIdle, h.c.State())
}

func TestDeviceConnectedReappliesOverride(t *testing.T) {
	h := newHarness(t)

	h.c.DeviceConnected()
	assert.Empty(t, h.sink.applies, "normal state has nothing to extend")

	h.clock.Advance(6 * time.Second)
	h.c.Tick()
	h.c.DeviceConnected()
	assert.Equal(t, []color.RGB{idleColor, idleColor}, h.sink.applies)
}

func TestManualControlSuspendsWrites(t *testing.T) {
	h := newHarness(t)

	token, err := h.c.TakeControl()
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = h.c.TakeControl()
	assert.ErrorIs(t, err, ErrControlHeld)

	require.NoError(t, h.c.Preview(token, color.Green))
	assert.ErrorIs(t, h.c.Preview("other", color.Blue), ErrNotOwner)

	// Nothing the coordinator would normally do reaches the sink
	h.caps.on.Store(true)
	h.c.Activity()
	h.clock.Advance(time.Hour)
	h.c.Tick()
	h.c.DeviceConnected()
	h.c.ReloadSettings(testSettings())

	assert.Equal(t, []color.RGB{color.Green}, h.sink.applies)
	assert.True(t, h.c.Snapshot().Overridden)

	assert.ErrorIs(t, h.c.ReleaseControl("other"), ErrNotOwner)
	require.NoError(t, h.c.ReleaseControl(token))

	assert.Equal(t, StateCapsActive, h.c.State())
	assert.Equal(t, capsColor, *h.sink.shown())
	assert.False(t, h.c.Snapshot().Overridden)

	control := h.pub.ofType(eventbus.EventTypeControl)
	require.Len(t, control, 2)
	assert.Equal(t, "taken", control[0].Data["action"])
	assert.Equal(t, "released", control[1].Data["action"])
}

func TestReleaseControlWithCapsOffReleasesPreview(t *testing.T) {
	h := newHarness(t)
	token, err := h.c.TakeControl()
	require.NoError(t, err)
	require.NoError(t, h.c.Preview(token, color.Green))

	require.NoError(t, h.c.ReleaseControl(token))

	assert.Equal(t, StateNormal, h.c.State())
	assert.Nil(t, h.sink.shown())
	assert.ErrorIs(t, h.c.ReleaseControl(token), ErrNotOwner)
}

func TestActivityDuringOverrideStillRefreshesIdleClock(t *testing.T) {
	h := newHarness(t)
	token, err := h.c.TakeControl()
	require.NoError(t, err)

	h.clock.Advance(10 * time.Second)
	h.c.Activity()
	require.NoError(t, h.c.ReleaseControl(token))

	h.clock.Advance(2 * time.Second)
	h.c.Tick()
	assert.Equal(t, StateNormal, h.c.State())
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t)
	h.clock.Advance(6 * time.Second)

	snap := h.c.Snapshot()
	assert.Equal(t, StateNormal, snap.State)
	assert.Nil(t, snap.Color)
	assert.Equal(t, 6*time.Second, snap.IdleFor)

	h.c.Tick()
	snap = h.c.Snapshot()
	require.NotNil(t, snap.Color)
	assert.Equal(t, idleColor, *snap.Color)
}

// With no manual override, Caps Lock on always means the caps color is shown.
func TestCapsColorInvariant(t *testing.T) {
	h := newHarness(t)

	steps := []func(){
		func() { h.caps.on.Store(true); h.c.Activity() },
		func() { h.clock.Advance(time.Minute); h.c.Tick() },
		func() { h.caps.on.Store(false); h.c.Activity() },
		func() { h.clock.Advance(time.Minute); h.c.Tick() },
		func() { h.caps.on.Store(true); h.c.Activity() },
		func() { h.c.DeviceConnected() },
		func() { h.c.ReloadSettings(testSettings()) },
		func() { h.clock.Advance(time.Minute); h.c.Tick() },
	}

	for i, step := range steps {
		step()
		if h.caps.CapsLock() && h.c.State() != StateIdle {
			require.NotNil(t, h.sink.shown(), "step %d", i)
			assert.Equal(t, capsColor, *h.sink.shown(), "step %d", i)
		}
	}
}

func TestSubscribe_RoutesBusEvents(t *testing.T) {
	h := newHarness(t)
	bus := eventbus.New()
	t.Cleanup(func() { bus.Close(context.Background()) })
	h.c.Subscribe(bus)

	h.caps.on.Store(true)
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeActivity})
	require.Eventually(t, func() bool { return h.c.State() == StateCapsActive }, time.Second, time.Millisecond)

	next := testSettings()
	next.CapsColor = color.White
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeSettingsSaved, Data: map[string]interface{}{"settings": next}})
	require.Eventually(t, func() bool {
		shown := h.sink.shown()
		return shown != nil && *shown == color.White
	}, time.Second, time.Millisecond)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	s := &fakeSink{}
	clock := &fakeClock{now: time.Now()}
	c := New(s, &fakeCaps{}, testSettings(), WithClock(clock.Now), WithTickInterval(time.Millisecond))
	c.Start()
	clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return c.State() == StateIdle }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

// A late SDK start: colors become visible on the first state change after binding.
func TestLateSDKWithRealSink(t *testing.T) {
	rt := cuetest.New()
	rt.SetDevices(cue.DeviceInfo{Type: cue.DeviceMouse, LEDs: []cue.LedID{5}})
	s := sink.New(rt, sink.MediaColors{}, sink.WithBindRetry(1, 0))
	caps := &fakeCaps{}
	c := New(s, caps, testSettings())
	c.Start()

	caps.on.Store(true)
	c.Activity()
	_, ok := rt.Visible(0, 5)
	assert.False(t, ok, "sink unbound, write is a no-op")

	rt.SetAvailable(true)
	require.NoError(t, s.Initialize())
	c.DeviceConnected()

	got, ok := rt.Visible(0, 5)
	require.True(t, ok)
	assert.Equal(t, capsColor, got)

	s.Release()
	s.Release()
	assert.False(t, rt.Controlled())
	assert.Equal(t, 1, rt.ReleaseCalls)
}

func TestClose_StopsWrites(t *testing.T) {
	h := newHarness(t)
	h.c.Close()

	h.caps.on.Store(true)
	h.c.Activity()
	h.clock.Advance(time.Hour)
	h.c.Tick()
	h.c.ReloadSettings(testSettings())

	assert.Empty(t, h.sink.applies)
	assert.Zero(t, h.sink.releases)

	_, err := h.c.TakeControl()
	assert.ErrorIs(t, err, ErrControlHeld)
}

func TestControlLease_ExpiresWithoutRenewal(t *testing.T) {
	h := newHarness(t)
	h.c.lease = 30 * time.Second

	token, err := h.c.TakeControl()
	require.NoError(t, err)
	require.NoError(t, h.c.Preview(token, color.Green))

	// Owner went away without releasing
	h.clock.Advance(24 * time.Hour)
	h.c.Tick()

	assert.False(t, h.c.Snapshot().Overridden)
	assert.Equal(t, StateIdle, h.c.State(), "idle detection resumes")
	assert.Equal(t, idleColor, *h.sink.shown())

	h.caps.on.Store(true)
	h.c.Activity()
	assert.Equal(t, StateCapsActive, h.c.State())
	assert.Equal(t, capsColor, *h.sink.shown())

	assert.ErrorIs(t, h.c.Preview(token, color.Green), ErrNotOwner)
	assert.ErrorIs(t, h.c.ReleaseControl(token), ErrNotOwner)

	next, err := h.c.TakeControl()
	require.NoError(t, err)
	assert.NotEqual(t, token, next)

	control := h.pub.ofType(eventbus.EventTypeControl)
	require.Len(t, control, 3)
	assert.Equal(t, "released", control[1].Data["action"])
	assert.Equal(t, "expired", control[1].Data["reason"])
}

func TestControlLease_ExpiryReappliesFromCaps(t *testing.T) {
	h := newHarness(t)
	h.c.lease = 30 * time.Second

	token, err := h.c.TakeControl()
	require.NoError(t, err)
	require.NoError(t, h.c.Preview(token, color.Green))
	h.caps.on.Store(true)

	h.clock.Advance(31 * time.Second)
	h.c.Tick()

	assert.Equal(t, StateCapsActive, h.c.State())
	assert.Equal(t, capsColor, *h.sink.shown())
}

func TestControlLease_RenewedByPreviewAndRenew(t *testing.T) {
	h := newHarness(t)
	h.c.lease = 30 * time.Second

	token, err := h.c.TakeControl()
	require.NoError(t, err)

	h.clock.Advance(20 * time.Second)
	require.NoError(t, h.c.Preview(token, color.Green))
	h.clock.Advance(20 * time.Second)
	require.NoError(t, h.c.RenewControl(token))
	h.clock.Advance(20 * time.Second)
	h.c.Tick()

	assert.True(t, h.c.Snapshot().Overridden)
	assert.Equal(t, []color.RGB{color.Green}, h.sink.applies)
	assert.ErrorIs(t, h.c.RenewControl("other"), ErrNotOwner)

	h.clock.Advance(31 * time.Second)
	assert.ErrorIs(t, h.c.RenewControl(token), ErrNotOwner)
	assert.False(t, h.c.Snapshot().Overridden)
}

func TestControlLease_ZeroNeverExpires(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.TakeControl()
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	h.c.Tick()

	assert.True(t, h.c.Snapshot().Overridden)
	assert.Empty(t, h.sink.applies)
}

type storeReader struct {
	mu      sync.Mutex
	current settings.Settings
}

func (r *storeReader) Get() (settings.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, nil
}

func (r *storeReader) set(s settings.Settings) {
	r.mu.Lock()
	r.current = s
	r.mu.Unlock()
}

func TestSubscribe_SettingsSavedReadsLatestFromStore(t *testing.T) {
	reader := &storeReader{current: testSettings()}
	s := &fakeSink{}
	caps := &fakeCaps{}
	caps.on.Store(true)
	c := New(s, caps, testSettings(), WithSettingsReader(reader))
	c.Start()

	bus := eventbus.New()
	t.Cleanup(func() { bus.Close(context.Background()) })
	c.Subscribe(bus)

	latest := testSettings()
	latest.CapsColor = color.White
	reader.set(latest)

	// A late notification carrying an older save must not win
	stale := testSettings()
	stale.CapsColor = color.Green
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeSettingsSaved, Data: map[string]interface{}{"settings": stale}})

	require.Eventually(t, func() bool {
		shown := s.shown()
		return shown != nil && *shown == color.White
	}, time.Second, time.Millisecond)
	assert.Equal(t, color.White, c.Snapshot().Settings.CapsColor)
	assert.NotContains(t, s.applies, color.Green)
}
