// Package sandbox serves an in-memory rendition of the student-portal API for
// offline development and tests.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kingrea/campus/internal/portal"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Logger matches logbook.Logbook's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Server wraps the echo router and the listener backing the sandbox.
type Server struct {
	settings Settings
	data     *Data
	logger   Logger
	clock    func() time.Time
	secret   []byte
	handler  *echo.Echo

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
	failing   map[int]bool
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps and token expiry.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSecret sets the HS256 signing key. A random key is used otherwise.
func WithSecret(secret []byte) Option {
	return func(s *Server) {
		if len(secret) > 0 {
			s.secret = secret
		}
	}
}

// NewServer prepares a sandbox server with freshly seeded data.
func NewServer(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		logger:   nopLogger{},
		clock:    time.Now,
		secret:   []byte(uuid.NewString()),
		status:   StatusStarting,
		failing:  make(map[int]bool),
	}
	if len(settings.Secret) > 0 {
		s.secret = settings.Secret
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.settings.TokenTTL <= 0 {
		s.settings.TokenTTL = DefaultTokenTTL
	}
	if s.settings.MaxBodyBytes <= 0 {
		s.settings.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s.data = NewData(s.now)
	s.handler = s.router()
	return s
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.BodyLimit(strconv.FormatInt(s.settings.MaxBodyBytes, 10) + "B"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Printf("sandbox: %s %s · %s · %d in %s", v.Method, v.URI, v.RequestID, v.Status, v.Latency.Round(time.Millisecond))
			return nil
		},
	}))
	e.Use(middleware.Recover())
	s.registerRoutes(e)
	return e
}

// Handler exposes the router for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Data exposes the in-memory state.
func (s *Server) Data() *Data {
	return s.data
}

// Updates returns every status update the sandbox accepted.
func (s *Server) Updates() []portal.StatusUpdate {
	return s.data.Updates()
}

// FailStatusFor makes status updates for the given sessions answer 500.
func (s *Server) FailStatusFor(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.failing[id] = true
	}
}

func (s *Server) failStatus(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failing[id]
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("sandbox: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("sandbox: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sandbox: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.now()
	server := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("sandbox: serve error: %v", err)
		}
	}()
	s.logger.Printf("sandbox: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the API base URL for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr + "/api"
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) now() time.Time {
	return s.clock()
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.now().Sub(s.startTime).Seconds())
}
