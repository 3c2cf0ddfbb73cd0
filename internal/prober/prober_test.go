package prober

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/shared"
	tu "github.com/desertthunder/songbird/internal/testing"
)

func fastProber(events logsink.Sink) *Prober {
	return New(Options{
		AttemptTimeout: 100 * time.Millisecond,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
	}, events, shared.NewLogger(io.Discard))
}

func TestEnsureServerReady(t *testing.T) {
	t.Run("Ready On First Attempt", func(t *testing.T) {
		server := tu.NewFlakyServer(t, 0, http.StatusServiceUnavailable, `{"status":"ok"}`)
		events := logsink.NewRecorder()

		if !fastProber(events).EnsureServerReady(context.Background(), server.URL, time.Second) {
			t.Fatal("expected server to be ready")
		}
		if server.Hits() != 1 {
			t.Errorf("expected 1 request, got %d", server.Hits())
		}
		if !events.Has(shared.KindInfo, "prober.ensure") {
			t.Error("expected a ready event")
		}
	})

	t.Run("Tolerates Cold Start", func(t *testing.T) {
		server := tu.NewFlakyServer(t, 3, http.StatusServiceUnavailable, `{"status":"ok"}`)
		events := logsink.NewRecorder()

		if !fastProber(events).EnsureServerReady(context.Background(), server.URL, 2*time.Second) {
			t.Fatal("expected server to become ready")
		}
		if server.Hits() != 4 {
			t.Errorf("expected 4 requests, got %d", server.Hits())
		}
		if !events.Has(shared.KindNetwork, "prober.attempt") {
			t.Error("expected failed attempts to be reported as network events")
		}
	})

	t.Run("Unreachable Returns False", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		events := logsink.NewRecorder()
		start := time.Now()
		ready := fastProber(events).EnsureServerReady(context.Background(), url, 200*time.Millisecond)
		if ready {
			t.Fatal("expected unreachable server to report not ready")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("probe overran its budget: %v", elapsed)
		}
		if !events.Has(shared.KindNetwork, "prober.ensure") {
			t.Error("expected a not-ready network event")
		}
	})

	t.Run("Slow Server Times Out", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		}))
		defer server.Close()

		if fastProber(nil).EnsureServerReady(context.Background(), server.URL, 250*time.Millisecond) {
			t.Error("expected slow server to report not ready")
		}
	})

	t.Run("Always Failing Server", func(t *testing.T) {
		server := tu.NewFlakyServer(t, 1000, http.StatusInternalServerError, "")

		if fastProber(nil).EnsureServerReady(context.Background(), server.URL, 150*time.Millisecond) {
			t.Error("expected failing server to report not ready")
		}
		if server.Hits() < 2 {
			t.Errorf("expected retries, got %d requests", server.Hits())
		}
	})

	t.Run("Empty URL", func(t *testing.T) {
		events := logsink.NewRecorder()
		if fastProber(events).EnsureServerReady(context.Background(), "", time.Second) {
			t.Error("expected false for empty URL")
		}
		if !events.Has(shared.KindConfig, "prober.ensure") {
			t.Error("expected a config event")
		}
	})

	t.Run("Canceled Context", func(t *testing.T) {
		server := tu.NewFlakyServer(t, 0, http.StatusOK, "")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if fastProber(nil).EnsureServerReady(ctx, server.URL, time.Second) {
			t.Error("expected false for canceled context")
		}
	})
}

func TestProbe(t *testing.T) {
	t.Run("Legacy Health Path", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/health" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"status":"ok","transcoderPath":"/usr/bin/ffmpeg"}`)
		}))
		defer server.Close()

		health, err := fastProber(nil).Probe(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Probe failed: %v", err)
		}
		if health.TranscoderPath != "/usr/bin/ffmpeg" {
			t.Errorf("unexpected health: %+v", health)
		}
	})

	t.Run("FromConfig", func(t *testing.T) {
		p := FromConfig(shared.DefaultConfig().Prober, nil, log.New(io.Discard))
		if p.opts.HealthPath != "/health" {
			t.Errorf("HealthPath = %q", p.opts.HealthPath)
		}
		if p.opts.AttemptTimeout != 10*time.Second || p.opts.MaxBackoff != 8*time.Second {
			t.Errorf("unexpected options: %+v", p.opts)
		}
	})
}
