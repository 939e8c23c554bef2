package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigreer/devhistory/internal/api"
	"github.com/sigreer/devhistory/internal/logger"
	"github.com/sigreer/devhistory/internal/prefs"
	"github.com/sigreer/devhistory/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor and serve the HTTP API",
	Long: `Run the device monitor and serve snapshots, the websocket push channel,
and the mutation endpoints used by the dashboard.

Endpoints:
  GET    /health
  GET    /api/v1/snapshot
  GET    /api/v1/stream              (websocket)
  POST   /api/v1/devices/nickname    {"device_id": "...", "nickname": "..."}
  POST   /api/v1/devices/forget      {"device_id": "..."}
  GET    /api/v1/devices/events?device_id=...&limit=N
  GET    /api/v1/events[?format=csv]
  DELETE /api/v1/events
  GET    /api/v1/prefs
  PUT    /api/v1/prefs               {"theme": "...", "active_tab": "..."}`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	log, logCloser, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	gw, err := openGateway(cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	mon, err := newMonitor(cfg, gw, log)
	if err != nil {
		return err
	}
	defer mon.Close()

	p := prefs.New(gw, prefs.Options{
		Themes: cfg.Preferences.Themes,
		Tabs:   cfg.Preferences.Tabs,
	}, logger.WithComponent(log, "prefs"))

	srv := api.NewServer(cfg.API, mon, p, logger.WithComponent(log, "api"))

	log.Info().
		Str("version", version.Version).
		Str("config", cfg.Path).
		Str("backend", cfg.Storage.Backend).
		Str("data_dir", cfg.Storage.Dir).
		Msg("devhistory starting")

	ctx, stop := signalContext()
	defer stop()

	monDone := make(chan error, 1)
	go func() { monDone <- mon.Run(ctx) }()

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err = <-srvErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Stop(shutdownCtx); serr != nil && !errors.Is(serr, context.Canceled) {
		log.Warn().Err(serr).Msg("api shutdown")
	}
	<-monDone

	if ferr := mon.Close(); ferr != nil {
		log.Warn().Err(ferr).Msg("final flush failed")
	}
	log.Info().Msg("devhistory stopped")
	return err
}
