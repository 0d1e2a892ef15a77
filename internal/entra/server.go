package entra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// watchdogInterval is how often the idle watchdog compares the time of the
// last request against the idle ceiling.
const watchdogInterval = time.Second

// serverDrainTimeout bounds the graceful shutdown of the listener.
const serverDrainTimeout = 5 * time.Second

// RedirectServer is the ephemeral loopback HTTP endpoint that receives the
// provider's redirect after interactive sign-in. It binds a random
// 127.0.0.1 port, serves only the handlers registered before Start, and
// shuts itself down after a period with no requests so an abandoned
// sign-in cannot leak the port. It is strictly process-local state.
type RedirectServer struct {
	logger      *slog.Logger
	bindTimeout time.Duration
	idleTimeout time.Duration

	mux *http.ServeMux

	mu          sync.Mutex
	started     bool
	lastRequest time.Time
	port        int

	srv          *http.Server
	group        *errgroup.Group
	stopWatchdog chan struct{}
	shutdownOnce sync.Once
}

// NewRedirectServer returns an unstarted listener. bindTimeout bounds
// Start; idleTimeout is the inactivity window before self-shutdown.
func NewRedirectServer(bindTimeout, idleTimeout time.Duration, logger *slog.Logger) *RedirectServer {
	return &RedirectServer{
		logger:       logger,
		bindTimeout:  bindTimeout,
		idleTimeout:  idleTimeout,
		mux:          http.NewServeMux(),
		stopWatchdog: make(chan struct{}),
	}
}

// Handle registers a path handler. All handlers must be registered before
// Start; unmatched paths get a not-found status.
func (s *RedirectServer) Handle(path string, handler http.HandlerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("entra: redirect server already started")
	}

	s.mux.HandleFunc("GET "+path, handler)

	return nil
}

// Start binds an ephemeral loopback port and begins serving. It fails if
// already started (no restart-in-place) and when the bind does not
// complete within the bind timeout. Returns the bound port.
func (s *RedirectServer) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()

		return 0, errors.New("entra: redirect server already started")
	}
	s.started = true
	s.lastRequest = time.Now()
	s.mu.Unlock()

	bindCtx, cancel := context.WithTimeout(ctx, s.bindTimeout)
	defer cancel()

	lc := net.ListenConfig{}

	listener, err := lc.Listen(bindCtx, "tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("entra: binding loopback listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()

		return 0, errors.New("entra: listener address is not TCP")
	}

	s.mu.Lock()
	s.port = tcpAddr.Port
	s.mu.Unlock()

	s.srv = &http.Server{
		Handler:           http.HandlerFunc(s.serve),
		ReadHeaderTimeout: serverDrainTimeout,
	}

	s.group = &errgroup.Group{}

	s.group.Go(func() error {
		if serveErr := s.srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}

		return nil
	})

	s.group.Go(s.watchdog)

	s.logger.Debug("redirect listener started", slog.Int("port", tcpAddr.Port))

	return tcpAddr.Port, nil
}

// Port returns the bound port, zero before Start.
func (s *RedirectServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port
}

// serve stamps the activity clock and dispatches to the registered
// handlers.
func (s *RedirectServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.lastRequest = time.Now()
	s.mu.Unlock()

	s.mux.ServeHTTP(w, r)
}

// watchdog shuts the server down after the idle window elapses with no
// requests, so abandoned flows release the port without caller cleanup.
func (s *RedirectServer) watchdog() error {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			idle := time.Since(s.lastRequest)
			s.mu.Unlock()

			if idle >= s.idleTimeout {
				s.logger.Debug("redirect listener idle, shutting down",
					slog.Duration("idle", idle),
				)

				go s.Shutdown()

				return nil
			}
		case <-s.stopWatchdog:
			return nil
		}
	}
}

// Shutdown stops the listener and frees the port. Safe to call multiple
// times and concurrently with the watchdog.
func (s *RedirectServer) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.stopWatchdog)

		if s.srv != nil {
			drainCtx, cancel := context.WithTimeout(context.Background(), serverDrainTimeout)
			defer cancel()

			if err := s.srv.Shutdown(drainCtx); err != nil {
				s.logger.Warn("redirect listener shutdown error",
					slog.String("error", err.Error()),
				)
			}
		}

		if s.group != nil {
			if err := s.group.Wait(); err != nil {
				s.logger.Warn("redirect listener serve error",
					slog.String("error", err.Error()),
				)
			}
		}

		s.logger.Debug("redirect listener stopped")
	})
}
