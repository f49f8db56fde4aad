//go:build windows

package autostart

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const runKey = `SOFTWARE\Microsoft\Windows\CurrentVersion\Run`

type runRegistry struct {
	name string
	exe  string
}

// New returns a registry backed by the per-user Run key.
// The value is named after the process and points at the current executable.
func New() Registry {
	exe, err := os.Executable()
	if err != nil {
		log.Warn().Err(err).Msg("Cannot resolve executable path, autostart disabled")
		return &runRegistry{}
	}
	name := strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe))
	return &runRegistry{name: name, exe: exe}
}

func (r *runRegistry) open(access uint32) (registry.Key, error) {
	if r.exe == "" {
		return 0, ErrUnavailable
	}
	k, _, err := registry.CreateKey(registry.CURRENT_USER, runKey, access)
	if err != nil {
		return 0, classify(err)
	}
	return k, nil
}

// Enabled reports whether the Run entry exists. An entry pointing at an old
// location of the executable is rewritten to the current path.
func (r *runRegistry) Enabled() (bool, error) {
	k, err := r.open(registry.QUERY_VALUE | registry.SET_VALUE)
	if err != nil {
		return false, err
	}
	defer k.Close()

	val, _, err := k.GetStringValue(r.name)
	if errors.Is(err, registry.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}

	if !strings.EqualFold(strings.Trim(val, `"`), r.exe) {
		log.Info().Str("old", val).Str("new", r.exe).Msg("Repairing stale autostart path")
		if err := k.SetStringValue(r.name, quote(r.exe)); err != nil {
			log.Warn().Err(err).Msg("Failed to repair autostart path")
		}
	}
	return true, nil
}

// SetEnabled creates or removes the Run entry.
func (r *runRegistry) SetEnabled(enabled bool) error {
	k, err := r.open(registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()

	if enabled {
		if err := k.SetStringValue(r.name, quote(r.exe)); err != nil {
			return classify(err)
		}
		return nil
	}

	if err := k.DeleteValue(r.name); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return classify(err)
	}
	return nil
}

func quote(path string) string {
	return `"` + path + `"`
}

func classify(err error) error {
	if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
