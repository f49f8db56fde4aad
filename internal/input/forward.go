package input

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/eventbus"
)

// Publisher receives activity events.
type Publisher interface {
	Publish(eventbus.Event)
}

// Forward runs src and publishes one activity event per coalescing window.
// The hook callback only touches the coalescer, so it never blocks on the bus.
func Forward(ctx context.Context, src Source, window time.Duration, pub Publisher) error {
	c := NewCoalescer(window, func(count int) {
		pub.Publish(eventbus.Event{
			Type: eventbus.EventTypeActivity,
			Data: map[string]interface{}{
				"count":     count,
				"caps_lock": src.CapsLock(),
			},
		})
	})
	defer c.Close()

	log.Info().Dur("coalesce", window).Msg("Forwarding input activity")
	return src.Run(ctx, c.Notify)
}
