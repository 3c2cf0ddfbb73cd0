package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/songbird/internal/converter"
	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/shared"
)

// Version is reported by the root endpoint.
const Version = "1.0.0"

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that knows which paths it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// MethodHandler is a [Handler] restricted to one HTTP method.
type MethodHandler interface {
	Handler
	Method() string
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// Options configures the conversion server.
type Options struct {
	Addr              string
	MaxBodyBytes      int64
	RequestsPerSecond float64
	ShutdownTimeout   time.Duration
}

// OptionsFromConfig reads the [server] and [converter] sections.
func OptionsFromConfig(c *shared.Config) Options {
	return Options{
		Addr:              c.ListenAddr(),
		MaxBodyBytes:      c.Converter.MaxBodyBytes,
		RequestsPerSecond: c.Converter.RequestsPerSecond,
	}
}

// Server is the conversion microservice.
type Server struct {
	opts    Options
	router  *BasicRouter
	logger  *log.Logger
	sink    logsink.Sink
	started time.Time
}

// New builds a Server with every route registered.
//
// Convert routes get their own rate limiter when RequestsPerSecond is positive.
func New(runner *converter.Runner, opts Options, sink logsink.Sink, logger *log.Logger) *Server {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	sink = logsink.OrDiscard(sink)

	s := &Server{opts: opts, logger: logger, sink: sink, started: time.Now()}

	router := NewBasicRouter()
	router.Use(RequestLogger(logger), Recoverer(logger, sink), CORS())
	router.Handler(NewHealthHandler(runner))
	router.Handler(NewRootHandler())

	convert := NewConvertHandler(runner, opts.MaxBodyBytes)
	if opts.RequestsPerSecond > 0 {
		burst := max(1, int(opts.RequestsPerSecond))
		limited := RateLimit(rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst))(convert)
		for _, route := range convert.Routes() {
			router.Handle(convert.Method(), route, limited)
		}
	} else {
		router.Handler(convert)
	}

	s.router = router
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on the configured address until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("%w: failed to listen on %s: %v", shared.ErrConfig, s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("conversion server started", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.sink.Emit(logsink.ErrorEvent("server.serve", err))
		return fmt.Errorf("%w: server stopped: %v", shared.ErrNetwork, err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down conversion server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.sink.Emit(logsink.ErrorEvent("server.shutdown", err))
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("conversion server stopped", "uptime", time.Since(s.started).Round(time.Second))
	return nil
}
