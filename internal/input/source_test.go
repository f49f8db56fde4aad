package input

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type gatedSource struct {
	scriptedSource
	ready chan struct{}
}

func (s *gatedSource) Ready() <-chan struct{} { return s.ready }

func TestWaitReady_SourceWithoutReady(t *testing.T) {
	assert.True(t, WaitReady(context.Background(), &scriptedSource{}, time.Millisecond))
}

func TestWaitReady_Closed(t *testing.T) {
	src := &gatedSource{ready: make(chan struct{})}
	close(src.ready)
	assert.True(t, WaitReady(context.Background(), src, time.Second))
}

func TestWaitReady_Timeout(t *testing.T) {
	src := &gatedSource{ready: make(chan struct{})}
	start := time.Now()
	assert.False(t, WaitReady(context.Background(), src, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitReady_Cancelled(t *testing.T) {
	src := &gatedSource{ready: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, WaitReady(ctx, src, time.Minute))
}
