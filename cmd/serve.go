package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/songbird/internal/converter"
	"github.com/desertthunder/songbird/internal/prober"
	"github.com/desertthunder/songbird/internal/server"
	"github.com/desertthunder/songbird/internal/services"
	"github.com/desertthunder/songbird/internal/shared"
)

// Serve runs the conversion server until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	runner := converter.FromConfig(r.config.Converter, r.Sink(), r.logger)

	opts := server.OptionsFromConfig(r.config)
	if addr := cmd.String("addr"); addr != "" {
		opts.Addr = addr
	}

	versionCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	version := runner.Version(versionCtx)
	cancel()
	if version == "" {
		r.logger.Warn("transcoder did not report a version, conversions may fail", "binary", runner.TranscoderPath())
	} else {
		r.logger.Info("transcoder ready", "binary", runner.TranscoderPath(), "version", version)
	}

	return server.New(runner, opts, r.Sink(), r.logger).Run(ctx)
}

// Probe checks the conversion server once, or with --wait keeps trying until it is ready.
func (r *Runner) Probe(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	if url == "" {
		if err := r.open(); err != nil {
			return err
		}
		url = r.config.ConverterURL()
	}

	p := prober.FromConfig(r.config.Prober, r.Sink(), r.logger)

	if cmd.Bool("wait") {
		timeout := cmd.Duration("timeout")
		if timeout <= 0 {
			timeout = r.config.Prober.Timeout.Duration
		}
		r.writePlain("→ Waking %s (up to %s)...\n", url, timeout)
		if !p.EnsureServerReady(ctx, url, timeout) {
			return fmt.Errorf("%w: %s did not answer within %s", shared.ErrServiceUnavailable, url, timeout)
		}
	}

	health, err := p.Probe(ctx, url)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(health, true)
	}

	r.writePlain("✓ %s is %s\n", url, health.Status)
	if health.Message != "" {
		r.writePlain("Message:    %s\n", health.Message)
	}
	if health.TranscoderPath != "" {
		r.writePlain("Transcoder: %s\n", health.TranscoderPath)
	}
	return nil
}

// Convert transcodes a local file to MP3 through the conversion server, or in-process with --local.
func (r *Runner) Convert(ctx context.Context, cmd *cli.Command) error {
	input := cmd.StringArg("input")
	if input == "" {
		return fmt.Errorf("%w: input file", shared.ErrMissingArgument)
	}

	audio, err := shared.VerifyAndReadFile(input)
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + ".mp3"
	}
	if filepath.Clean(output) == filepath.Clean(input) {
		return fmt.Errorf("%w: output would overwrite the input", shared.ErrInvalidArgument)
	}

	var converted []byte
	if cmd.Bool("local") {
		r.logger.Info("converting locally", "input", input)
		converted, err = converter.FromConfig(r.config.Converter, r.Sink(), r.logger).Convert(ctx, audio)
	} else {
		if err := r.open(); err != nil {
			return err
		}
		url := r.config.ConverterURL()
		r.logger.Info("converting remotely", "input", input, "server", url)
		converted, err = services.NewConverterService(url, r.httpClient).Convert(ctx, audio)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("%w: failed to create output directory: %v", shared.ErrStorage, err)
	}
	if err := shared.WriteFileAtomic(output, converted, 0644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", shared.ErrStorage, output, err)
	}

	r.writePlain("✓ Converted %s → %s (%d bytes)\n", input, output, len(converted))
	return nil
}
