package converter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Transcoder turns the file at input into an MP3 at output.
//
// Transcode returns the process's diagnostic output whether or not it failed.
type Transcoder interface {
	Transcode(ctx context.Context, input, output string) ([]byte, error)
	Path() string
}

// Versioner is implemented by transcoders that can report their version.
type Versioner interface {
	Version(ctx context.Context) (string, error)
}

// FFmpeg runs the ffmpeg binary with a fixed audio-only MP3 template.
type FFmpeg struct {
	Binary  string
	Codec   string
	Bitrate string
}

// NewFFmpeg returns an FFmpeg transcoder, defaulting to libmp3lame at 192k.
func NewFFmpeg(binary, codec, bitrate string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if codec == "" {
		codec = "libmp3lame"
	}
	if bitrate == "" {
		bitrate = "192k"
	}
	return &FFmpeg{Binary: binary, Codec: codec, Bitrate: bitrate}
}

// Args returns the ffmpeg argument list for one conversion.
func (f *FFmpeg) Args(input, output string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-vn",
		"-acodec", f.Codec,
		"-b:a", f.Bitrate,
		output,
	}
}

func (f *FFmpeg) Transcode(ctx context.Context, input, output string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.Binary, f.Args(input, output)...) //nolint:gosec
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("ffmpeg: %w", err)
	}
	return out, nil
}

func (f *FFmpeg) Path() string {
	if resolved, err := exec.LookPath(f.Binary); err == nil {
		return resolved
	}
	return f.Binary
}

// Version returns the first line of `ffmpeg -version`.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, f.Binary, "-version").Output() //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("ffmpeg -version: %w", err)
	}
	line, _, _ := bufio.NewReader(bytes.NewReader(out)).ReadLine()
	return strings.TrimSpace(string(line)), nil
}
