//go:build !windows

package input

import "context"

type unsupported struct{}

// NewSource returns the platform input source. Hooks are unavailable here.
func NewSource() Source {
	return unsupported{}
}

func (unsupported) Run(context.Context, func()) error { return ErrUnsupported }

func (unsupported) CapsLock() bool { return false }
