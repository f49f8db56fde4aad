// Package cuetest provides an in-memory cue.Runtime for tests.
package cuetest

import (
	"sync"

	"github.com/dokzlo13/idlergb/internal/color"
	"github.com/dokzlo13/idlergb/internal/cue"
)

// Runtime is a scriptable fake of the vendor runtime.
// Flushed colors are kept per device index so tests can assert visible hardware state.
type Runtime struct {
	mu sync.Mutex

	available   bool
	initialized bool
	controlled  bool
	devices     []cue.DeviceInfo
	extraCount  int

	buffered map[int]map[cue.LedID]color.RGB
	visible  map[int]map[cue.LedID]color.RGB

	// Errors injected into the next calls (consumed once each)
	InitErrors    []error
	SetColorsErr  error
	FlushErr      error
	ReleaseErrors []error

	InitCalls    int
	ReinitCalls  int
	FlushCalls   int
	ReleaseCalls int
}

// New creates an unavailable fake runtime with no devices.
func New() *Runtime {
	return &Runtime{
		buffered: make(map[int]map[cue.LedID]color.RGB),
		visible:  make(map[int]map[cue.LedID]color.RGB),
	}
}

// SetAvailable toggles whether the SDK library can be found.
func (r *Runtime) SetAvailable(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available = v
	if !v {
		r.initialized = false
		r.controlled = false
	}
}

// SetDevices replaces the device list. Indexes are assigned in order.
func (r *Runtime) SetDevices(devices ...cue.DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make([]cue.DeviceInfo, len(devices))
	for i, d := range devices {
		d.Index = i
		r.devices[i] = d
	}
}

// SetExtraCount adds devices that are counted but not lighting capable.
func (r *Runtime) SetExtraCount(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extraCount = n
}

// Controlled reports whether lighting control is currently held.
func (r *Runtime) Controlled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controlled
}

// Visible returns the last flushed color of an LED and whether one was set.
// Released control clears visible state, since the vendor software owns the LEDs again.
func (r *Runtime) Visible(index int, led cue.LedID) (color.RGB, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.visible[index][led]
	return c, ok
}

// VisibleCount returns how many LEDs of a device carry a flushed color.
func (r *Runtime) VisibleCount(index int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.visible[index])
}

func (r *Runtime) Available() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

func (r *Runtime) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.InitCalls++
	return r.initialize()
}

func (r *Runtime) initialize() error {
	if len(r.InitErrors) > 0 {
		err := r.InitErrors[0]
		r.InitErrors = r.InitErrors[1:]
		if err != nil {
			return err
		}
	}
	if !r.available {
		return cue.ErrUnavailable
	}
	r.initialized = true
	return nil
}

func (r *Runtime) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized
}

func (r *Runtime) Reinitialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ReinitCalls++
	r.release()
	return r.initialize()
}

func (r *Runtime) DeviceCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.available {
		return 0, cue.ErrUnavailable
	}
	if !r.initialized {
		return 0, cue.ErrNotInitialized
	}
	return len(r.devices) + r.extraCount, nil
}

func (r *Runtime) Devices() ([]cue.DeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, cue.ErrNotInitialized
	}
	out := make([]cue.DeviceInfo, len(r.devices))
	copy(out, r.devices)
	return out, nil
}

func (r *Runtime) SetColors(index int, colors []cue.LedColor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return cue.ErrNotInitialized
	}
	if r.SetColorsErr != nil {
		return r.SetColorsErr
	}
	r.controlled = true
	if r.buffered[index] == nil {
		r.buffered[index] = make(map[cue.LedID]color.RGB)
	}
	for _, c := range colors {
		r.buffered[index][c.ID] = c.Color
	}
	return nil
}

func (r *Runtime) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FlushCalls++
	if !r.initialized {
		return cue.ErrNotInitialized
	}
	if r.FlushErr != nil {
		return r.FlushErr
	}
	for index, leds := range r.buffered {
		if r.visible[index] == nil {
			r.visible[index] = make(map[cue.LedID]color.RGB)
		}
		for id, c := range leds {
			r.visible[index][id] = c
		}
	}
	r.buffered = make(map[int]map[cue.LedID]color.RGB)
	return nil
}

func (r *Runtime) ReleaseControl() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ReleaseCalls++
	if len(r.ReleaseErrors) > 0 {
		err := r.ReleaseErrors[0]
		r.ReleaseErrors = r.ReleaseErrors[1:]
		if err != nil {
			return err
		}
	}
	r.release()
	return nil
}

func (r *Runtime) release() {
	r.controlled = false
	r.visible = make(map[int]map[cue.LedID]color.RGB)
	r.buffered = make(map[int]map[cue.LedID]color.RGB)
}

var _ cue.Runtime = (*Runtime)(nil)
