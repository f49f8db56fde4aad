package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/config"
	"github.com/dokzlo13/idlergb/internal/control"
	"github.com/dokzlo13/idlergb/internal/eventbus"
)

// ControlService wraps the local control API server.
type ControlService struct {
	cfg    *config.Config
	Server *control.Server
	Hub    *control.Hub
}

// NewControlService creates a new ControlService.
func NewControlService(cfg *config.Config, deps control.Deps) *ControlService {
	hub := control.NewHub(cfg.Control.AllowedOrigins)
	deps.Hub = hub

	server := control.NewServer(control.Options{
		Host:           cfg.Control.GetHost(),
		Port:           cfg.Control.GetPort(),
		AllowedOrigins: cfg.Control.AllowedOrigins,
		PreviewRate:    cfg.Control.PreviewRate,
	}, deps)

	return &ControlService{
		cfg:    cfg,
		Server: server,
		Hub:    hub,
	}
}

// URL returns the base URL of the API, or "" when disabled.
func (s *ControlService) URL() string {
	if !s.cfg.Control.Enabled {
		return ""
	}
	return fmt.Sprintf("http://%s/", s.Server.Addr())
}

// Start begins the control server if enabled.
func (s *ControlService) Start(ctx context.Context, bus *eventbus.Bus) {
	if !s.cfg.Control.Enabled {
		log.Debug().Msg("Control API disabled")
		return
	}

	s.Hub.Subscribe(bus)

	go func() {
		if err := s.Server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
			log.Error().Err(err).Msg("Control API server error")
		}
	}()
}
