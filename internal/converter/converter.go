// Package converter runs conversion jobs: one raw audio payload in, one MP3 out.
//
// Each [Runner.Convert] call owns a [Job] with uuid-named temp files, so concurrent calls never share paths.
// Both temp files are removed on every exit path. Removal failures are logged and never returned.
//
// Errors:
//   - [shared.ErrEmptyPayload] : nothing to convert; the transcoder is not invoked and nothing touches disk
//   - [TranscodeError] : the transcoder exited non-zero or ran past its deadline; carries the diagnostic output
//   - [shared.ErrOutputMissing] : the transcoder exited cleanly without producing output
package converter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/semaphore"

	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/shared"
)

const (
	// ContentType is the content type of every converted payload.
	ContentType = "audio/mpeg"
	// Filename is the attachment name returned with converted payloads.
	Filename = "converted.mp3"
	// DefaultTimeout bounds one transcoder run.
	DefaultTimeout = 30 * time.Second
)

// Job is one in-flight conversion.
type Job struct {
	ID         string
	Input      []byte
	InputPath  string
	OutputPath string
	Deadline   time.Time
}

// NewJob allocates collision-free temp paths under dir.
func NewJob(dir string, input []byte, timeout time.Duration) Job {
	id := shared.GenerateID()
	return Job{
		ID:         id,
		Input:      input,
		InputPath:  filepath.Join(dir, "input_"+id+".m4a"),
		OutputPath: filepath.Join(dir, "output_"+id+".mp3"),
		Deadline:   time.Now().Add(timeout),
	}
}

// TranscodeError reports a failed transcoder run.
type TranscodeError struct {
	Output   string
	TimedOut bool
	Err      error
}

func (e *TranscodeError) Error() string {
	msg := "transcode failed"
	if e.TimedOut {
		msg = "transcode timed out"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := tail(e.Output, 512); out != "" {
		msg += ": " + out
	}
	return msg
}

// Unwrap exposes [shared.ErrTranscodeFailed], [shared.ErrTimeout] when the deadline hit, and the cause.
func (e *TranscodeError) Unwrap() []error {
	errs := []error{shared.ErrTranscodeFailed}
	if e.TimedOut {
		errs = append(errs, shared.ErrTimeout)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Details returns the diagnostic text sent to clients.
func (e *TranscodeError) Details() string {
	if out := tail(e.Output, 2048); out != "" {
		return out
	}
	if e.TimedOut {
		return "transcoder exceeded its time limit"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown transcoder failure"
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// Options tunes a Runner.
type Options struct {
	TempDir       string
	Timeout       time.Duration
	MaxConcurrent int64
}

// Runner converts payloads through a [Transcoder].
type Runner struct {
	transcoder Transcoder
	opts       Options
	sem        *semaphore.Weighted
	sink       logsink.Sink
	logger     *log.Logger
}

// New creates a Runner. A non-positive MaxConcurrent admits every call.
func New(t Transcoder, opts Options, sink logsink.Sink, logger *log.Logger) *Runner {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	r := &Runner{transcoder: t, opts: opts, sink: logsink.OrDiscard(sink), logger: logger}
	if opts.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return r
}

// FromConfig creates a Runner backed by ffmpeg from the [converter] config section.
func FromConfig(c shared.ConverterConfig, sink logsink.Sink, logger *log.Logger) *Runner {
	return New(NewFFmpeg(c.FFmpegPath, c.Codec, c.Bitrate), Options{
		TempDir:       c.TempDir,
		Timeout:       c.Timeout.Duration,
		MaxConcurrent: c.MaxConcurrent,
	}, sink, logger)
}

// TranscoderPath returns the transcoder binary reported by the health endpoint.
func (r *Runner) TranscoderPath() string {
	return r.transcoder.Path()
}

// Timeout returns the per-job transcoder deadline.
func (r *Runner) Timeout() time.Duration {
	return r.opts.Timeout
}

// Version returns the transcoder's version banner, or "" when unavailable.
func (r *Runner) Version(ctx context.Context) string {
	v, ok := r.transcoder.(Versioner)
	if !ok {
		return ""
	}
	version, err := v.Version(ctx)
	if err != nil {
		r.logger.Debug("transcoder version unavailable", "err", err)
		return ""
	}
	return version
}

// Convert transcodes raw and returns the MP3 bytes.
func (r *Runner) Convert(ctx context.Context, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		err := fmt.Errorf("%w: no audio data received", shared.ErrEmptyPayload)
		r.sink.Emit(logsink.ErrorEvent("converter.convert", err))
		return nil, err
	}

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			err = fmt.Errorf("%w: waiting for a conversion slot: %v", shared.ErrTimeout, err)
			r.sink.Emit(logsink.ErrorEvent("converter.admit", err))
			return nil, err
		}
		defer r.sem.Release(1)
	}

	job := NewJob(r.opts.TempDir, raw, r.opts.Timeout)
	logger := shared.WithLogger(r.logger, "job", job.ID)
	defer r.cleanup(logger, job)

	start := time.Now()
	out, err := r.run(ctx, job)
	if err != nil {
		logger.Error("conversion failed", "bytes", len(raw), "err", err)
		r.sink.Emit(logsink.ErrorEvent("converter.convert", err, "job", job.ID, "bytes", len(raw)))
		return nil, err
	}

	if !IsTargetFormat(out) {
		logger.Warn("output does not look like mp3", "detected", mimetype.Detect(out).String())
	}
	logger.Info("conversion complete", "in", len(raw), "out", len(out), "elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}

func (r *Runner) run(ctx context.Context, job Job) ([]byte, error) {
	if err := os.MkdirAll(r.opts.TempDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: failed to create temp dir: %v", shared.ErrStorage, err)
	}
	if err := os.WriteFile(job.InputPath, job.Input, 0600); err != nil {
		return nil, fmt.Errorf("%w: failed to write input: %v", shared.ErrStorage, err)
	}

	tctx, cancel := context.WithDeadline(ctx, job.Deadline)
	defer cancel()

	output, err := r.transcoder.Transcode(tctx, job.InputPath, job.OutputPath)
	if err != nil {
		return nil, &TranscodeError{
			Output:   string(output),
			TimedOut: errors.Is(tctx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
	}

	info, err := os.Stat(job.OutputPath)
	if err != nil || info.Size() == 0 {
		return nil, fmt.Errorf("%w: transcoder exited cleanly without writing %s", shared.ErrOutputMissing, filepath.Base(job.OutputPath))
	}

	data, err := os.ReadFile(job.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read output: %v", shared.ErrStorage, err)
	}
	return data, nil
}

func (r *Runner) cleanup(logger *log.Logger, job Job) {
	for _, path := range []string{job.InputPath, job.OutputPath} {
		if err := shared.RemoveIfExists(path); err != nil {
			logger.Warn("failed to remove temp file", "path", path, "err", err)
			r.sink.Emit(logsink.Warn(shared.KindStorage, "converter.cleanup", err.Error(), "path", path))
		}
	}
}

// IsTargetFormat reports whether b is detected as MP3.
func IsTargetFormat(b []byte) bool {
	return mimetype.Detect(b).Is(ContentType)
}
