package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/aldas/go-isobus-client/output"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Snapshotter provides latest decoded values, implemented by output.Store
type Snapshotter interface {
	Entries() []output.Entry
	EntriesByPGN(pgn uint32) []output.Entry
	Stats() output.Stats
}

// Option configures Server
type Option func(s *Server)

// WithLogger sets server logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server serves latest decoded signal values over HTTP:
//   GET /signals       latest values of all PGNs and sources
//   GET /signals/:pgn  latest values of single PGN
//   GET /stats         reader counters
type Server struct {
	store  Snapshotter
	logger zerolog.Logger
	srv    *http.Server
}

// New creates server listening on given port
func New(port int, store Snapshotter, opts ...Option) *Server {
	s := &Server{
		store:  store,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns router with all routes
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/signals", s.handleSignals)
	router.GET("/signals/:pgn", s.handleSignalsByPGN)
	router.GET("/stats", s.handleStats)
	return router
}

// Run serves requests until context is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("http server started")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSignals(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, s.store.Entries())
}

func (s *Server) handleSignalsByPGN(w http.ResponseWriter, _ *http.Request, params httprouter.Params) {
	pgn, err := strconv.ParseUint(params.ByName("pgn"), 10, 32)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid PGN"})
		return
	}
	entries := s.store.EntriesByPGN(uint32(pgn))
	if len(entries) == 0 {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no values for PGN"})
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(b); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}
