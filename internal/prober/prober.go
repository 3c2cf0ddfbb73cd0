// Package prober wakes and checks the conversion server before downloads start.
//
// Hosting platforms that suspend idle services answer the first request slowly or not at all, so
// [Prober.EnsureServerReady] retries with exponential backoff inside an overall budget. Its result is advisory:
// callers proceed either way and let the real conversion request fail if the server is truly down.
package prober

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/services"
	"github.com/desertthunder/songbird/internal/shared"
)

// Options tunes the probe.
type Options struct {
	HealthPath     string
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Client         *http.Client
}

func (o Options) withDefaults() Options {
	if o.HealthPath == "" {
		o.HealthPath = services.HealthPath
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 10 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	return o
}

// Prober checks conversion server readiness.
type Prober struct {
	opts   Options
	sink   logsink.Sink
	logger *log.Logger
}

// New creates a Prober.
func New(opts Options, sink logsink.Sink, logger *log.Logger) *Prober {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Prober{opts: opts.withDefaults(), sink: logsink.OrDiscard(sink), logger: logger}
}

// FromConfig creates a Prober from the [prober] config section.
func FromConfig(c shared.ProberConfig, sink logsink.Sink, logger *log.Logger) *Prober {
	return New(Options{
		HealthPath:     c.HealthPath,
		AttemptTimeout: c.AttemptTimeout.Duration,
		InitialBackoff: c.InitialBackoff.Duration,
		MaxBackoff:     c.MaxBackoff.Duration,
	}, sink, logger)
}

// Probe makes a single health request bounded by the attempt timeout.
func (p *Prober) Probe(ctx context.Context, baseURL string) (*services.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.AttemptTimeout)
	defer cancel()
	return services.NewConverterService(baseURL, p.opts.Client).Health(ctx, p.opts.HealthPath)
}

// EnsureServerReady probes baseURL until it answers 2xx or timeout elapses.
//
// Attempts are paced by a limiter whose interval doubles after every failure up to the max backoff. It never
// returns an error: unreachable, failing, or slow servers all yield false.
func (p *Prober) EnsureServerReady(ctx context.Context, baseURL string, timeout time.Duration) bool {
	if baseURL == "" {
		p.sink.Emit(logsink.Warn(shared.KindConfig, "prober.ensure", "no server URL configured"))
		return false
	}
	if timeout <= 0 {
		timeout = p.opts.AttemptTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	backoff := p.opts.InitialBackoff
	limiter := rate.NewLimiter(rate.Every(backoff), 1)

	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		health, err := p.Probe(ctx, baseURL)
		if err == nil {
			p.logger.Info("conversion server ready", "url", baseURL, "attempts", attempt, "elapsed", time.Since(start).Round(time.Millisecond))
			p.sink.Emit(logsink.Info("prober.ensure", "server ready", "url", baseURL, "attempts", attempt, "status", health.Status))
			return true
		}

		p.logger.Debug("probe attempt failed", "url", baseURL, "attempt", attempt, "err", err)
		p.sink.Emit(logsink.ErrorEvent("prober.attempt", err, "url", baseURL, "attempt", attempt))

		if ctx.Err() != nil {
			break
		}

		backoff = min(backoff*2, p.opts.MaxBackoff)
		limiter.SetLimit(rate.Every(backoff))
	}

	p.logger.Warn("conversion server not ready, continuing anyway", "url", baseURL, "elapsed", time.Since(start).Round(time.Millisecond))
	p.sink.Emit(logsink.Warn(shared.KindNetwork, "prober.ensure", "server not ready within budget", "url", baseURL, "timeout", timeout))
	return false
}
