// Client for the remote conversion endpoint
package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/desertthunder/songbird/internal/shared"
)

const (
	HealthPath       = "/health"
	LegacyHealthPath = "/api/health"
	ConvertPath      = "/convert"
)

// Health is the self-report returned by the conversion server's health endpoint.
type Health struct {
	Status         string            `json:"status"`
	Message        string            `json:"message"`
	Timestamp      string            `json:"timestamp"`
	TranscoderPath string            `json:"transcoderPath"`
	Endpoints      map[string]string `json:"endpoints"`
}

// ConverterService calls the conversion server.
type ConverterService struct {
	api *APIService
}

// NewConverterService creates a client for the conversion server at baseURL.
func NewConverterService(baseURL string, client *http.Client) *ConverterService {
	return &ConverterService{api: NewAPIService(baseURL, client)}
}

// BaseURL returns the server the client talks to.
func (c *ConverterService) BaseURL() string {
	return c.api.BaseURL()
}

// Health fetches the health report from path, falling back to the legacy path when the server answers 404.
func (c *ConverterService) Health(ctx context.Context, path string) (*Health, error) {
	if path == "" {
		path = HealthPath
	}

	resp, err := c.api.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound && path != LegacyHealthPath {
		resp, err = c.api.Get(ctx, LegacyHealthPath)
		if err != nil {
			return nil, err
		}
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: health check returned %d", shared.ErrServiceUnavailable, resp.StatusCode)
	}

	health := &Health{}
	if !resp.IsJSON || resp.Decode(health) != nil {
		health.Status = "ok"
	}
	return health, nil
}

// Convert uploads audio and returns the transcoded bytes.
//
// The upload content type is sniffed from the payload. Non-audio payloads are sent as
// application/octet-stream so the server still accepts them.
func (c *ConverterService) Convert(ctx context.Context, audio []byte) ([]byte, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: nothing to upload", shared.ErrEmptyPayload)
	}

	contentType := UploadContentType(audio)
	resp, err := c.api.PostBinary(ctx, ConvertPath, contentType, audio)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: convert returned %d: %s", shared.ErrAPIRequest, resp.StatusCode, resp.ErrorDetails())
	}
	return resp.Body, nil
}

// UploadContentType picks the content type sent with an upload.
func UploadContentType(audio []byte) string {
	mt := mimetype.Detect(audio)
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "audio/") {
			return m.String()
		}
	}
	return "application/octet-stream"
}
