//go:build !windows

package autostart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_UnavailableOffWindows(t *testing.T) {
	r := New()

	enabled, err := r.Enabled()
	assert.False(t, enabled)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, r.SetEnabled(true), ErrUnavailable)
}
