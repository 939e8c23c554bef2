// Package api exposes the monitor to a presentation layer over HTTP: pull
// snapshots, push them over a websocket, and issue user mutations.
package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sigreer/devhistory/internal/config"
	"github.com/sigreer/devhistory/internal/device"
	"github.com/sigreer/devhistory/internal/monitor"
	"github.com/sigreer/devhistory/internal/store"
)

// Monitor is the part of *monitor.Monitor the API serves
type Monitor interface {
	Snapshot() *monitor.Snapshot
	Subscribe() (<-chan *monitor.Snapshot, func())
	SetNickname(id, text string) error
	Forget(id string) error
	ClearEvents() error
	DeviceEvents(id string, limit int) []device.Event
}

// Preferences is the part of *prefs.Service the API serves
type Preferences interface {
	Get() store.Prefs
	Update(store.Prefs) error
	Err() error
}

type Server struct {
	cfg       config.API
	log       zerolog.Logger
	srv       *http.Server
	mux       *http.ServeMux
	mon       Monitor
	prefs     Preferences
	authToken string
	started   atomic.Bool

	// base is cancelled on Stop so open streams end
	base   context.Context
	cancel context.CancelFunc
}

func NewServer(cfg config.API, mon Monitor, prefs Preferences, log zerolog.Logger) *Server {
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		log:       log,
		mux:       http.NewServeMux(),
		mon:       mon,
		prefs:     prefs,
		authToken: strings.TrimSpace(cfg.AuthToken),
		base:      base,
		cancel:    cancel,
	}
	s.registerRoutes()
	s.srv = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(l net.Listener) context.Context {
			return base
		},
	}
	return s
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Bool("auth", s.authToken != "").Msg("starting api server")
	s.started.Store(true)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if !s.started.Load() {
		return nil
	}
	s.log.Info().Msg("stopping api server")
	return s.srv.Shutdown(ctx)
}
