package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/songbird/internal/converter"
	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/shared"
)

type stubTranscoder struct {
	output []byte
	diag   string
	err    error
}

func (s stubTranscoder) Transcode(_ context.Context, _, output string) ([]byte, error) {
	if s.err != nil {
		return []byte(s.diag), s.err
	}
	if s.output != nil {
		if err := os.WriteFile(output, s.output, 0600); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (stubTranscoder) Path() string { return "/opt/ffmpeg" }

var mp3 = []byte("ID3\x03\x00\x00\x00\x00\x00\x00converted")

func newServer(t *testing.T, tr converter.Transcoder, opts Options) (*Server, *logsink.Recorder) {
	t.Helper()
	events := logsink.NewRecorder()
	logger := shared.NewLogger(io.Discard)
	runner := converter.New(tr, converter.Options{TempDir: t.TempDir()}, events, logger)
	return New(runner, opts, events, logger), events
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, stubTranscoder{output: mp3}, Options{})

	for _, path := range []string{"/health", "/api/health"} {
		t.Run(path, func(t *testing.T) {
			rec := do(t, srv.Handler(), http.MethodGet, path, "", nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}

			var health HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
				t.Fatalf("bad JSON: %v", err)
			}
			if health.Status != "ok" || health.TranscoderPath != "/opt/ffmpeg" {
				t.Errorf("unexpected health: %+v", health)
			}
			if _, err := time.Parse(time.RFC3339, health.Timestamp); err != nil {
				t.Errorf("timestamp not RFC3339: %q", health.Timestamp)
			}
			if health.Endpoints["convert"] == "" {
				t.Error("expected convert endpoint to be listed")
			}
		})
	}
}

func TestRoot(t *testing.T) {
	srv, _ := newServer(t, stubTranscoder{}, Options{})

	t.Run("Describes Service", func(t *testing.T) {
		rec := do(t, srv.Handler(), http.MethodGet, "/", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["version"] != Version {
			t.Errorf("unexpected body: %v", body)
		}
	})

	t.Run("Unknown Path", func(t *testing.T) {
		if rec := do(t, srv.Handler(), http.MethodGet, "/nope", "", nil); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("Wrong Method", func(t *testing.T) {
		rec := do(t, srv.Handler(), http.MethodGet, "/convert", "", nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", rec.Code)
		}
		if allow := rec.Header().Get("Allow"); allow != http.MethodPost {
			t.Errorf("Allow = %q", allow)
		}
	})
}

func TestConvert(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv, _ := newServer(t, stubTranscoder{output: mp3}, Options{})

		for _, path := range []string{"/convert", "/api/convert"} {
			rec := do(t, srv.Handler(), http.MethodPost, path, "audio/mp4", []byte("m4a"))
			if rec.Code != http.StatusOK {
				t.Fatalf("%s: expected 200, got %d (%s)", path, rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
				t.Errorf("Content-Type = %q", ct)
			}
			if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="converted.mp3"` {
				t.Errorf("Content-Disposition = %q", cd)
			}
			if cl := rec.Header().Get("Content-Length"); cl != fmt.Sprint(len(mp3)) {
				t.Errorf("Content-Length = %q", cl)
			}
			if !bytes.Equal(rec.Body.Bytes(), mp3) {
				t.Errorf("unexpected body %q", rec.Body.Bytes())
			}
		}
	})

	t.Run("Octet Stream Accepted", func(t *testing.T) {
		srv, _ := newServer(t, stubTranscoder{output: mp3}, Options{})
		if rec := do(t, srv.Handler(), http.MethodPost, "/convert", "application/octet-stream", []byte("x")); rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("Empty Body", func(t *testing.T) {
		srv, events := newServer(t, stubTranscoder{output: mp3}, Options{})
		rec := do(t, srv.Handler(), http.MethodPost, "/convert", "audio/mp4", nil)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if body := decodeError(t, rec); body.Error != "No audio data received" {
			t.Errorf("unexpected error body: %+v", body)
		}
		if !events.Has(shared.KindEmptyPayload, "") {
			t.Error("expected an empty_payload event")
		}
	})

	t.Run("Unsupported Media Type", func(t *testing.T) {
		srv, _ := newServer(t, stubTranscoder{output: mp3}, Options{})
		rec := do(t, srv.Handler(), http.MethodPost, "/convert", "text/plain", []byte("hello"))
		if rec.Code != http.StatusUnsupportedMediaType {
			t.Errorf("expected 415, got %d", rec.Code)
		}
	})

	t.Run("Payload Too Large", func(t *testing.T) {
		srv, _ := newServer(t, stubTranscoder{output: mp3}, Options{MaxBodyBytes: 8})

		rec := do(t, srv.Handler(), http.MethodPost, "/convert", "audio/mp4", bytes.Repeat([]byte("a"), 64))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413, got %d", rec.Code)
		}

		req := httptest.NewRequest(http.MethodPost, "/convert", io.MultiReader(strings.NewReader(strings.Repeat("b", 64))))
		req.ContentLength = -1
		rec = httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413 for streamed body, got %d", rec.Code)
		}
	})

	t.Run("Transcoder Failure", func(t *testing.T) {
		srv, events := newServer(t, stubTranscoder{diag: "moov atom not found", err: errors.New("exit status 1")}, Options{})
		rec := do(t, srv.Handler(), http.MethodPost, "/convert", "audio/mp4", []byte("garbage"))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		body := decodeError(t, rec)
		if body.Error != "Conversion failed" || !strings.Contains(body.Details, "moov atom") {
			t.Errorf("unexpected error body: %+v", body)
		}
		if !events.Has(shared.KindTranscodeFailed, "converter.convert") {
			t.Error("expected a transcode_failed event")
		}
	})

	t.Run("Output Missing", func(t *testing.T) {
		srv, _ := newServer(t, stubTranscoder{}, Options{})
		rec := do(t, srv.Handler(), http.MethodPost, "/convert", "audio/mp4", []byte("audio"))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if body := decodeError(t, rec); body.Details != "Output file was not created" {
			t.Errorf("unexpected details %q", body.Details)
		}
	})

	t.Run("Rate Limited", func(t *testing.T) {
		srv, _ := newServer(t, stubTranscoder{output: mp3}, Options{RequestsPerSecond: 0.01})

		if rec := do(t, srv.Handler(), http.MethodPost, "/convert", "audio/mp4", []byte("a")); rec.Code != http.StatusOK {
			t.Fatalf("first request: expected 200, got %d", rec.Code)
		}
		rec := do(t, srv.Handler(), http.MethodPost, "/convert", "audio/mp4", []byte("a"))
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("expected 429, got %d", rec.Code)
		}
		if rec := do(t, srv.Handler(), http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
			t.Errorf("health should not be rate limited, got %d", rec.Code)
		}
	})
}

func TestAcceptsContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"audio/mp4", true},
		{"audio/mpeg; charset=binary", true},
		{"application/octet-stream", true},
		{"text/plain", false},
		{"multipart/form-data; boundary=x", false},
		{";;;", false},
	}

	for _, tt := range tests {
		t.Run(tt.ct, func(t *testing.T) {
			if got := AcceptsContentType(tt.ct); got != tt.want {
				t.Errorf("AcceptsContentType(%q) = %v, want %v", tt.ct, got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("CORS Preflight", func(t *testing.T) {
		srv, _ := newServer(t, stubTranscoder{output: mp3}, Options{})
		rec := do(t, srv.Handler(), http.MethodOptions, "/convert", "", nil)

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("expected allow-all origin")
		}
	})

	t.Run("Recoverer Keeps Serving", func(t *testing.T) {
		events := logsink.NewRecorder()
		router := NewBasicRouter()
		router.Use(Recoverer(shared.NewLogger(io.Discard), events))
		router.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("kaboom")
		}))
		router.Handle(http.MethodGet, "/ok", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		rec := do(t, router, http.MethodGet, "/boom", "", nil)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if !events.Has(shared.KindInternal, "server.panic") {
			t.Error("expected a panic event")
		}
		if rec := do(t, router, http.MethodGet, "/ok", "", nil); rec.Code != http.StatusOK {
			t.Errorf("router stopped serving after panic: %d", rec.Code)
		}
	})

	t.Run("Order", func(t *testing.T) {
		var order []string
		mw := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		router := NewBasicRouter()
		router.Use(mw("first"), mw("second"))
		router.Handle(http.MethodGet, "/", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		do(t, router, http.MethodGet, "/", "", nil)

		if strings.Join(order, ",") != "first,second" {
			t.Errorf("unexpected middleware order: %v", order)
		}
	})
}

func TestServe(t *testing.T) {
	srv, _ := newServer(t, stubTranscoder{output: mp3}, Options{ShutdownTimeout: time.Second})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestOAuthHandler(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"abc","token_type":"Bearer","refresh_token":"r","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	config := func(redirect string) *oauth2.Config {
		return &oauth2.Config{
			ClientID:     "id",
			ClientSecret: "secret",
			RedirectURL:  redirect,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenServer.URL},
		}
	}

	t.Run("Route From Redirect URI", func(t *testing.T) {
		tests := []struct {
			redirect string
			route    string
		}{
			{"http://localhost:8080", "/{$}"},
			{"http://localhost:8080/", "/{$}"},
			{"http://127.0.0.1:8888/callback", "/callback"},
		}
		for _, tt := range tests {
			if got := NewOAuthHandler(config(tt.redirect)).Routes()[0]; got != tt.route {
				t.Errorf("%s: route = %q, want %q", tt.redirect, got, tt.route)
			}
		}
	})

	t.Run("Exchanges Code", func(t *testing.T) {
		h := NewOAuthHandler(config("http://localhost:8080"))
		router := NewBasicRouter()
		router.Handler(h)

		rec := do(t, router, http.MethodGet, "/?code=xyz&state="+h.State(), "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
		}

		result := <-h.Result()
		if result.Error() != nil || result.Token.AccessToken != "abc" {
			t.Errorf("unexpected result: %+v", result)
		}

		if rec := do(t, router, http.MethodGet, "/?code=xyz&state="+h.State(), "", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("replayed callback should be rejected, got %d", rec.Code)
		}
	})

	t.Run("Bad State", func(t *testing.T) {
		h := NewOAuthHandler(config("http://localhost:8080/cb"))
		rec := do(t, h, http.MethodGet, "/cb?code=xyz&state=wrong", "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if result := <-h.Result(); !errors.Is(result.Error(), shared.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", result.Error())
		}
	})

	t.Run("Denied", func(t *testing.T) {
		h := NewOAuthHandler(config("http://localhost:8080/cb"))
		rec := do(t, h, http.MethodGet, "/cb?error=access_denied&state="+h.State(), "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		if result := <-h.Result(); result.Error() == nil || !strings.Contains(result.Error().Error(), "access_denied") {
			t.Errorf("unexpected result: %v", result.Error())
		}
	})
}

func TestCallbackAddr(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "localhost:8080", false},
		{"http://localhost", "localhost:80", false},
		{"https://example.com/cb", "example.com:443", false},
		{"not a url", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := CallbackAddr(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CallbackAddr(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}
