// Package autostart manages the launch-at-login entry of the current executable.
package autostart

import "errors"

// ErrUnavailable means the entry cannot be read or written (restricted
// permissions or unsupported platform). Callers hide the feature.
var ErrUnavailable = errors.New("autostart unavailable")

// Registry reads and writes the launch-at-login entry.
type Registry interface {
	Enabled() (bool, error)
	SetEnabled(enabled bool) error
}
