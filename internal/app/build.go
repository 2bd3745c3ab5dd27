package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ent0n29/clawdesk/internal/backend"
	"github.com/ent0n29/clawdesk/internal/config"
	"github.com/ent0n29/clawdesk/internal/httpapi"
	"github.com/ent0n29/clawdesk/internal/observability"
	"github.com/ent0n29/clawdesk/internal/session"
)

type DeviceInfo struct {
	Microphone string
	Speech     string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Devices  DeviceInfo

	// Cleanup ends every session and stops local speech playback.
	Cleanup func() error
}

func Build(_ context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(cfg.MetricsNamespace, registry)

	client, err := backend.NewClient(backend.Config{
		Mode:    cfg.BackendMode,
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("backend client init failed: %w", err)
	}
	if _, ok := client.(*backend.Mock); ok {
		log.Warn().Msg("backend: mock (replies are echoed locally)")
	} else {
		log.Info().Str("base_url", cfg.BackendBaseURL).Msg("backend: http")
	}

	devices, err := resolveDevices(cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info().Str("microphone", devices.micDetail).Str("speech", devices.speechMode).Msg("devices resolved")

	sessions := session.NewManager(session.Options{
		Backend:           client,
		Microphone:        devices.microphone,
		Speaker:           devices.speaker,
		Metrics:           metrics,
		Logger:            log,
		StreamDefault:     cfg.StreamDefault,
		Greeting:          cfg.SessionGreeting,
		InactivityTimeout: cfg.SessionInactivityTimeout,
	})
	sessions.SetExpireHook(func(info session.Info) {
		log.Info().
			Str("session_id", info.SessionID).
			Time("last_activity", info.LastActivityAt).
			Msg("session expired")
	})

	api := httpapi.New(cfg, sessions, metrics, registry, log.With().Str("component", "httpapi").Logger())

	cleanup := func() error {
		sessions.EndAll("shutdown")
		var errs []error
		if devices.cleanup != nil {
			if err := devices.cleanup(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Metrics:  metrics,
		Registry: registry,
		Devices: DeviceInfo{
			Microphone: devices.micDetail,
			Speech:     devices.speechMode,
		},
		Cleanup: cleanup,
	}, nil
}
