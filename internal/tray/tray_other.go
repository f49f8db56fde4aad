//go:build !windows

package tray

import (
	"context"

	"github.com/rs/zerolog/log"
)

type nativeIcon struct{}

// Run blocks until ctx is cancelled. There is no notification area here.
func (i *Icon) Run(ctx context.Context) error {
	log.Debug().Msg("Tray icon not supported on this platform")
	<-ctx.Done()
	return nil
}

func (i *Icon) refresh() {}
