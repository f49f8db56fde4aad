//go:build !windows

package cue

// New returns a runtime that is never available on this platform.
func New(dllPath string) Runtime {
	return unsupported{}
}

type unsupported struct{}

func (unsupported) Available() bool                 { return false }
func (unsupported) Initialize() error               { return ErrUnavailable }
func (unsupported) Initialized() bool               { return false }
func (unsupported) Reinitialize() error             { return ErrUnavailable }
func (unsupported) DeviceCount() (int, error)       { return 0, ErrUnavailable }
func (unsupported) Devices() ([]DeviceInfo, error)  { return nil, ErrUnavailable }
func (unsupported) SetColors(int, []LedColor) error { return ErrUnavailable }
func (unsupported) Flush() error                    { return ErrUnavailable }
func (unsupported) ReleaseControl() error           { return nil }
