package app

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/idlergb/internal/color"
	"github.com/dokzlo13/idlergb/internal/config"
	"github.com/dokzlo13/idlergb/internal/coordinator"
	"github.com/dokzlo13/idlergb/internal/cue"
	"github.com/dokzlo13/idlergb/internal/cue/cuetest"
	"github.com/dokzlo13/idlergb/internal/ledger"
)

type capsOnSource struct{}

func (capsOnSource) Run(ctx context.Context, onActivity func()) error {
	<-ctx.Done()
	return nil
}

func (capsOnSource) CapsLock() bool { return true }

// lateCapsSource only learns the Caps Lock toggle once its hooks are running.
type lateCapsSource struct {
	caps  atomic.Bool
	ready chan struct{}
}

func (s *lateCapsSource) Run(ctx context.Context, onActivity func()) error {
	s.caps.Store(true)
	close(s.ready)
	<-ctx.Done()
	return nil
}

func (s *lateCapsSource) CapsLock() bool { return s.caps.Load() }

func (s *lateCapsSource) Ready() <-chan struct{} { return s.ready }

type noAutostart struct{}

func (noAutostart) Enabled() (bool, error) { return false, nil }
func (noAutostart) SetEnabled(bool) error  { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.sqlite")
	disabled := false
	cfg.Tray.Enabled = &disabled
	cfg.Control.Enabled = false
	cfg.SDK.SearchInterval = config.Duration(5 * time.Millisecond)
	cfg.SDK.WatchInterval = config.Duration(5 * time.Millisecond)
	cfg.SDK.BindAttempts = 1
	cfg.SDK.BindDelay = config.Duration(time.Millisecond)
	cfg.Lighting.CapsColor = color.Blue
	cfg.ShutdownTimeout = config.Duration(time.Second)
	return cfg
}

func TestApp_LifecycleReleasesOnStop(t *testing.T) {
	rt := cuetest.New()
	rt.SetAvailable(true)
	rt.SetDevices(cue.DeviceInfo{Type: cue.DeviceKeyboard, LEDs: []cue.LedID{1, 2}})

	a, err := New(testConfig(t), Platform{Runtime: rt, Input: capsOnSource{}, AutoStart: noAutostart{}})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool {
		got, ok := rt.Visible(0, 1)
		return ok && got == color.Blue
	}, 2*time.Second, 5*time.Millisecond, "caps color painted once the SDK binds")
	assert.Equal(t, coordinator.StateCapsActive, a.Services().Lighting.Coordinator.State())

	require.NoError(t, a.Stop())

	assert.False(t, rt.Controlled(), "devices handed back to vendor software on exit")
	assert.Equal(t, 0, rt.VisibleCount(0))

	select {
	case <-a.Services().Released():
	default:
		t.Fatal("release not signalled")
	}
}

func TestApp_CapsOnAtLaunchAppliedWithoutInput(t *testing.T) {
	rt := cuetest.New()
	rt.SetAvailable(true)
	rt.SetDevices(cue.DeviceInfo{Type: cue.DeviceKeyboard, LEDs: []cue.LedID{1, 2}})
	src := &lateCapsSource{ready: make(chan struct{})}

	a, err := New(testConfig(t), Platform{Runtime: rt, Input: src, AutoStart: noAutostart{}})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { a.Stop() })

	// No activity is ever reported
	assert.Equal(t, coordinator.StateCapsActive, a.Services().Lighting.Coordinator.State())
	require.Eventually(t, func() bool {
		got, ok := rt.Visible(0, 1)
		return ok && got == color.Blue
	}, 2*time.Second, 5*time.Millisecond)
}

func TestApp_LedgerRecordsBinding(t *testing.T) {
	rt := cuetest.New()
	rt.SetAvailable(true)
	cfg := testConfig(t)

	a, err := New(cfg, Platform{Runtime: rt, Input: capsOnSource{}, AutoStart: noAutostart{}})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	l := a.Services().Ledger
	require.Eventually(t, func() bool {
		entries, err := l.GetByType(ledger.EventSDKBound, 10)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.Stop())
}

func TestApp_ResetSettings(t *testing.T) {
	rt := cuetest.New()
	a, err := New(testConfig(t), Platform{Runtime: rt, Input: capsOnSource{}, AutoStart: noAutostart{}})
	require.NoError(t, err)
	t.Cleanup(func() { a.Stop() })

	store := a.Services().Settings
	current, err := store.Get()
	require.NoError(t, err)
	current.CapsColor = color.Green
	require.NoError(t, store.Save(current, nil))

	require.NoError(t, a.ResetSettings())

	got, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, color.Blue, got.CapsColor)
	assert.Equal(t, color.Blue, a.Services().Lighting.Coordinator.Snapshot().Settings.CapsColor)
}

func TestApp_StopWithoutStart(t *testing.T) {
	a, err := New(testConfig(t), Platform{Runtime: cuetest.New(), Input: capsOnSource{}, AutoStart: noAutostart{}})
	require.NoError(t, err)
	assert.NoError(t, a.Stop())
}
