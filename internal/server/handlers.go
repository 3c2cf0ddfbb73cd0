package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/songbird/internal/converter"
	"github.com/desertthunder/songbird/internal/shared"
)

// DefaultMaxBodyBytes caps convert uploads at 50MB.
const DefaultMaxBodyBytes int64 = 50 << 20

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorBody{Error: msg, Details: details})
}

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status         string            `json:"status"`
	Message        string            `json:"message"`
	Timestamp      string            `json:"timestamp"`
	TranscoderPath string            `json:"transcoderPath"`
	Version        string            `json:"transcoderVersion,omitempty"`
	Endpoints      map[string]string `json:"endpoints"`
}

// HealthHandler answers readiness probes. It never touches the transcoder beyond reading its path and version.
type HealthHandler struct {
	runner  *converter.Runner
	version func() string
}

// NewHealthHandler creates a HealthHandler. The transcoder version is resolved once, on first request.
func NewHealthHandler(runner *converter.Runner) *HealthHandler {
	return &HealthHandler{
		runner: runner,
		version: sync.OnceValue(func() string {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return runner.Version(ctx)
		}),
	}
}

func (h *HealthHandler) Routes() []string { return []string{"/health", "/api/health"} }
func (h *HealthHandler) Method() string   { return http.MethodGet }

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		Message:        "Audio converter API is running",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		TranscoderPath: h.runner.TranscoderPath(),
		Version:        h.version(),
		Endpoints: map[string]string{
			"convert": "/convert (POST)",
			"health":  "/health (GET)",
		},
	})
}

// ConvertHandler accepts raw audio bytes and answers with the converted MP3.
type ConvertHandler struct {
	runner   *converter.Runner
	maxBytes int64
}

// NewConvertHandler creates a ConvertHandler. Bodies beyond maxBytes are rejected with 413.
func NewConvertHandler(runner *converter.Runner, maxBytes int64) *ConvertHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return &ConvertHandler{runner: runner, maxBytes: maxBytes}
}

func (h *ConvertHandler) Routes() []string { return []string{"/convert", "/api/convert"} }
func (h *ConvertHandler) Method() string   { return http.MethodPost }

func (h *ConvertHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !AcceptsContentType(ct) {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported media type", ct)
		return
	}
	if r.ContentLength > h.maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "Payload too large", "limit is "+strconv.FormatInt(h.maxBytes, 10)+" bytes")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Payload too large", "limit is "+strconv.FormatInt(h.maxBytes, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body", err.Error())
		return
	}

	out, err := h.runner.Convert(r.Context(), body)
	if err != nil {
		status, msg, details := convertFailure(err)
		writeError(w, status, msg, details)
		return
	}

	w.Header().Set("Content-Type", converter.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+converter.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func convertFailure(err error) (int, string, string) {
	var terr *converter.TranscodeError
	switch {
	case errors.Is(err, shared.ErrEmptyPayload):
		return http.StatusBadRequest, "No audio data received", ""
	case errors.As(err, &terr):
		return http.StatusInternalServerError, "Conversion failed", terr.Details()
	case errors.Is(err, shared.ErrOutputMissing):
		return http.StatusInternalServerError, "Conversion failed", "Output file was not created"
	case errors.Is(err, shared.ErrTimeout):
		return http.StatusServiceUnavailable, "Server busy", err.Error()
	default:
		return http.StatusInternalServerError, "Conversion failed", err.Error()
	}
}

// AcceptsContentType reports whether a convert upload may carry ct.
func AcceptsContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "audio/") || mt == "application/octet-stream"
}

// RootHandler describes the service.
type RootHandler struct{}

func NewRootHandler() *RootHandler { return &RootHandler{} }

func (RootHandler) Routes() []string { return []string{"/{$}"} }
func (RootHandler) Method() string   { return http.MethodGet }

func (RootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Audio Converter API",
		"version": Version,
		"endpoints": map[string]string{
			"health":  "/health",
			"convert": "/convert",
		},
	})
}
