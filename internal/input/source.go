// Package input observes global keyboard and mouse activity and the Caps Lock toggle.
package input

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by sources on platforms without global input hooks.
var ErrUnsupported = errors.New("global input hooks are not supported on this platform")

// Source delivers raw activity notifications.
//
// onActivity is called from the hook thread and must return quickly.
type Source interface {
	// Run installs the hooks and blocks until ctx is cancelled.
	Run(ctx context.Context, onActivity func()) error
	// CapsLock reports the current Caps Lock toggle state.
	CapsLock() bool
}

// Readier is implemented by sources whose CapsLock only tracks the keyboard
// once Run has installed its hooks.
type Readier interface {
	Ready() <-chan struct{}
}

// WaitReady blocks until src is ready. Sources without Ready are ready at once.
// It returns false when ctx is cancelled or timeout elapses first.
func WaitReady(ctx context.Context, src Source, timeout time.Duration) bool {
	r, ok := src.(Readier)
	if !ok {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.Ready():
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}
