package settings

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/autostart"
	"github.com/dokzlo13/idlergb/internal/eventbus"
	"github.com/dokzlo13/idlergb/internal/state"
)

const (
	kind      = "settings"
	defaultID = "default"
)

// Publisher receives the save notification.
type Publisher interface {
	Publish(eventbus.Event)
}

// AutoStart is the tri-state launch-at-login flag.
// When Available is false the feature should be hidden.
type AutoStart struct {
	Enabled   bool `json:"enabled"`
	Available bool `json:"available"`
}

// Store persists settings in the resource state table.
type Store struct {
	mu       sync.Mutex
	typed    *state.TypedStore[Settings]
	defaults Settings
	reg      autostart.Registry
	pub      Publisher
}

// NewStore creates a settings store. defaults seed the store on first read.
func NewStore(st *state.Store, defaults Settings, reg autostart.Registry, pub Publisher) *Store {
	return &Store{
		typed:    state.NewTypedStore[Settings](st, kind),
		defaults: defaults,
		reg:      reg,
		pub:      pub,
	}
}

// Get returns the stored settings, seeding the defaults if nothing is stored.
func (s *Store) Get() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, version, err := s.typed.Get(defaultID)
	if err != nil {
		return Settings{}, err
	}
	if version > 0 {
		return current, nil
	}

	if err := s.typed.Set(defaultID, s.defaults); err != nil {
		return Settings{}, fmt.Errorf("seed settings: %w", err)
	}
	log.Info().Dur("idle_timeout", s.defaults.IdleTimeout).Msg("Seeded settings from config")
	return s.defaults, nil
}

// Save validates and persists next, applies the autostart flag when non-nil,
// then publishes settings_saved.
func (s *Store) Save(next Settings, autoStart *bool) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.typed.Set(defaultID, next)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("store settings: %w", err)
	}

	if autoStart != nil && s.reg != nil {
		if err := s.reg.SetEnabled(*autoStart); err != nil {
			if errors.Is(err, autostart.ErrUnavailable) {
				log.Debug().Err(err).Msg("Autostart unavailable, flag ignored")
			} else {
				log.Warn().Err(err).Bool("enabled", *autoStart).Msg("Failed to update autostart")
			}
		}
	}

	log.Info().
		Dur("idle_timeout", next.IdleTimeout).
		Str("idle_color", next.IdleColor.String()).
		Str("caps_color", next.CapsColor.String()).
		Msg("Settings saved")

	if s.pub != nil {
		s.pub.Publish(eventbus.Event{
			Type: eventbus.EventTypeSettingsSaved,
			Data: map[string]interface{}{"settings": next},
		})
	}
	return nil
}

// AutoStart returns the current launch-at-login state.
func (s *Store) AutoStart() AutoStart {
	if s.reg == nil {
		return AutoStart{}
	}
	enabled, err := s.reg.Enabled()
	if err != nil {
		if !errors.Is(err, autostart.ErrUnavailable) {
			log.Warn().Err(err).Msg("Failed to read autostart")
		}
		return AutoStart{}
	}
	return AutoStart{Enabled: enabled, Available: true}
}

// Reset drops the stored settings so the next Get reseeds from config.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typed.Clear()
}
