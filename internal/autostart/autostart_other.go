//go:build !windows

package autostart

type unavailable struct{}

// New returns the platform registry. Autostart is Windows-only.
func New() Registry {
	return unavailable{}
}

func (unavailable) Enabled() (bool, error) { return false, ErrUnavailable }

func (unavailable) SetEnabled(bool) error { return ErrUnavailable }
