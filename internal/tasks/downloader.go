package tasks

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/shared"
)

// Downloader is the external downloader call contract.
//
// The two reserved parameters exist for compatibility with the original entry point and are always nil.
// Run returns a one-line status summary.
type Downloader interface {
	Run(ctx context.Context, workDir string, reserved1, reserved2 *string, downloadFolder *string) (string, error)
}

// DownloaderFunc adapts a function to [Downloader].
type DownloaderFunc func(ctx context.Context, workDir string, reserved1, reserved2 *string, downloadFolder *string) (string, error)

func (f DownloaderFunc) Run(ctx context.Context, workDir string, r1, r2 *string, downloadFolder *string) (string, error) {
	return f(ctx, workDir, r1, r2, downloadFolder)
}

// maxLineBytes caps one output line. Longer runs of output without a line break are split into chunks.
const maxLineBytes = 64 * 1024

// defaultWaitDelay bounds how long Run waits for output pipes after the downloader exits or is killed.
const defaultWaitDelay = 5 * time.Second

// CommandDownloader runs the downloader as a child process in the work dir.
//
// Output lines are logged and emitted to the sink as they arrive. The last non-empty stdout line is the status.
// Canceling the context kills the child's whole process group.
type CommandDownloader struct {
	Command   string
	Args      []string
	WaitDelay time.Duration
	sink      logsink.Sink
	logger    *log.Logger
}

// NewCommandDownloader creates a CommandDownloader from the [downloader] config section.
func NewCommandDownloader(c shared.DownloaderConfig, sink logsink.Sink, logger *log.Logger) *CommandDownloader {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &CommandDownloader{
		Command:   c.Command,
		Args:      slices.Clone(c.Args),
		WaitDelay: defaultWaitDelay,
		sink:      logsink.OrDiscard(sink),
		logger:    logger,
	}
}

// CommandArgs returns the argument list for one run.
func (d *CommandDownloader) CommandArgs(workDir string, downloadFolder *string) []string {
	args := append(slices.Clone(d.Args), "--work-dir", workDir)
	if downloadFolder != nil && *downloadFolder != "" {
		args = append(args, "--download-folder", *downloadFolder)
	}
	return args
}

func (d *CommandDownloader) Run(ctx context.Context, workDir string, _, _ *string, downloadFolder *string) (string, error) {
	if strings.TrimSpace(d.Command) == "" {
		return "", fmt.Errorf("%w: downloader.command is empty", shared.ErrInvalidConfig)
	}
	if workDir == "" {
		workDir = "."
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create work dir: %v", shared.ErrStorage, err)
	}

	cmd := exec.CommandContext(ctx, d.Command, d.CommandArgs(workDir, downloadFolder)...) //nolint:gosec
	cmd.Dir = workDir
	cmd.WaitDelay = d.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}
	killProcessGroup(cmd)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return "", fmt.Errorf("%w: failed to start %s: %v", shared.ErrDownloader, d.Command, err)
	}
	d.logger.Info("downloader started", "command", d.Command, "pid", cmd.Process.Pid, "work_dir", workDir)

	var (
		mu         sync.Mutex
		lastOut    string
		lastErrOut string
	)
	var g errgroup.Group
	g.Go(func() error {
		return d.stream(stdoutR, "stdout", func(line string) {
			mu.Lock()
			lastOut = line
			mu.Unlock()
		})
	})
	g.Go(func() error {
		return d.stream(stderrR, "stderr", func(line string) {
			mu.Lock()
			lastErrOut = line
			mu.Unlock()
		})
	})

	waitErr := cmd.Wait()
	stdoutW.Close()
	stderrW.Close()
	if err := g.Wait(); err != nil {
		d.logger.Warn("downloader output truncated", "err", err)
	}

	mu.Lock()
	defer mu.Unlock()
	switch {
	case waitErr == nil:
		return lastOut, nil
	case ctx.Err() != nil:
		return lastOut, fmt.Errorf("%w: %s interrupted: %v", shared.ErrDownloader, d.Command, ctx.Err())
	case errors.Is(waitErr, exec.ErrWaitDelay):
		d.logger.Warn("downloader exited but its output stayed open", "command", d.Command, "wait_delay", cmd.WaitDelay)
		return lastOut, nil
	case lastErrOut != "":
		return lastOut, fmt.Errorf("%w: %s exited: %v: %s", shared.ErrDownloader, d.Command, waitErr, lastErrOut)
	default:
		return lastOut, fmt.Errorf("%w: %s exited: %v", shared.ErrDownloader, d.Command, waitErr)
	}
}

// stream emits each output line. It keeps reading to EOF even after a scan error so the writer never blocks.
func (d *CommandDownloader) stream(r io.Reader, name string, last func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	scanner.Split(scanOutputLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		last(line)
		d.logger.Debug("downloader", "stream", name, "line", line)
		d.sink.Emit(logsink.Info("downloader.output", line, "stream", name))
	}

	err := scanner.Err()
	if _, derr := io.Copy(io.Discard, r); err == nil {
		err = derr
	}
	return err
}

// scanOutputLines splits on "\n" or "\r", so progress bars redrawn with carriage returns yield one line per
// redraw. A run of maxLineBytes without either is returned as its own line.
func scanOutputLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if len(data) >= maxLineBytes {
		return maxLineBytes, data[:maxLineBytes], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
