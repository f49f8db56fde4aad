// Package settings persists the user-editable lighting settings.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dokzlo13/idlergb/internal/color"
	"github.com/dokzlo13/idlergb/internal/config"
	"github.com/dokzlo13/idlergb/internal/sink"
)

// Idle timeout bounds, matching an hours/minutes/seconds picker.
const (
	MinIdleTimeout = time.Second
	MaxIdleTimeout = 24*time.Hour - time.Second
)

// ErrInvalid is returned for settings that fail validation.
var ErrInvalid = errors.New("invalid settings")

// Settings is the lighting configuration the coordinator works from.
type Settings struct {
	IdleTimeout time.Duration
	IdleColor   color.RGB
	CapsColor   color.RGB
	Media       sink.MediaColors
}

type settingsJSON struct {
	IdleTimeout string           `json:"idle_timeout"`
	IdleColor   color.RGB        `json:"idle_color"`
	CapsColor   color.RGB        `json:"caps_color"`
	Media       sink.MediaColors `json:"media"`
}

// MarshalJSON encodes the idle timeout as a duration string ("5m0s").
func (s Settings) MarshalJSON() ([]byte, error) {
	return json.Marshal(settingsJSON{
		IdleTimeout: s.IdleTimeout.String(),
		IdleColor:   s.IdleColor,
		CapsColor:   s.CapsColor,
		Media:       s.Media,
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw settingsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := time.ParseDuration(raw.IdleTimeout)
	if err != nil {
		return fmt.Errorf("idle_timeout: %w", err)
	}
	*s = Settings{
		IdleTimeout: d,
		IdleColor:   raw.IdleColor,
		CapsColor:   raw.CapsColor,
		Media:       raw.Media,
	}
	return nil
}

// Validate checks the idle timeout bounds.
func (s Settings) Validate() error {
	if s.IdleTimeout < MinIdleTimeout || s.IdleTimeout > MaxIdleTimeout {
		return fmt.Errorf("%w: idle timeout %s outside [%s, %s]", ErrInvalid, s.IdleTimeout, MinIdleTimeout, MaxIdleTimeout)
	}
	return nil
}

// FromConfig builds the first-run settings from the config file.
func FromConfig(cfg config.LightingConfig) Settings {
	return Settings{
		IdleTimeout: cfg.IdleTimeout.Duration(),
		IdleColor:   cfg.IdleColor,
		CapsColor:   cfg.CapsColor,
		Media: sink.MediaColors{
			Stop:      cfg.Media.Stop,
			Prev:      cfg.Media.Prev,
			PlayPause: cfg.Media.PlayPause,
			Next:      cfg.Media.Next,
			Mute:      cfg.Media.Mute,
		},
	}
}
