//go:build !windows

package input

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSource_Unsupported(t *testing.T) {
	src := NewSource()
	assert.ErrorIs(t, src.Run(context.Background(), func() {}), ErrUnsupported)
	assert.False(t, src.CapsLock())
}
