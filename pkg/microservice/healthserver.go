package microservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// Probe reports whether the process is healthy, and a short status text.
type Probe func() (healthy bool, status string)

// HealthServer serves /healthz for long-running commands such as subscribe.
type HealthServer struct {
	logger     zerolog.Logger
	addr       string
	probe      Probe
	httpServer *http.Server
	actualAddr string
	mu         sync.RWMutex
}

// NewHealthServer creates a HealthServer listening on addr (e.g. ":8080").
func NewHealthServer(logger zerolog.Logger, addr string, probe Probe) *HealthServer {
	s := &HealthServer{
		logger: logger.With().Str("component", "HealthServer").Logger(),
		addr:   addr,
		probe:  probe,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthz)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start listens and serves in a background goroutine.
func (s *HealthServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info().Str("address", s.actualAddr).Msg("Health server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Health server failed")
		}
	}()
	return nil
}

// Addr returns the address the server is bound to once started.
func (s *HealthServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actualAddr
}

// Shutdown stops the server, respecting the context's deadline.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during health server shutdown.")
		return err
	}
	return nil
}

func (s *HealthServer) healthz(w http.ResponseWriter, _ *http.Request) {
	healthy, status := true, "OK"
	if s.probe != nil {
		healthy, status = s.probe()
	}
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_, _ = w.Write([]byte(status))
}
