package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/songbird/internal/tasks"
)

// Download runs the orchestrated download for the active account, printing progress until the run settles.
//
// Interrupting the command cancels the run; the execution guarantee is still released and the account's cache
// checkpointed before it returns.
func (r *Runner) Download(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	progress := make(chan tasks.ProgressUpdate, 16)
	run, err := r.orchestrator.Start(ctx, tasks.Request{
		DownloadFolder: cmd.String("folder"),
		Progress:       progress,
	})
	if err != nil {
		return err
	}

	r.writePlainHeader("Download " + run.ID)
	for {
		select {
		case update := <-progress:
			r.printProgress(update)
		case <-run.Done():
			for {
				select {
				case update := <-progress:
					r.printProgress(update)
				default:
					return r.printResult(run.Result())
				}
			}
		}
	}
}

func (r *Runner) printProgress(update tasks.ProgressUpdate) {
	if update.State.Terminal() {
		return
	}
	r.writePlain("[%d/%d] %s\n", update.Step, update.Total, update.Message)
}

func (r *Runner) printResult(result tasks.Result) error {
	elapsed := result.Finished.Sub(result.Started).Round(time.Millisecond)
	if !result.OK() {
		r.writePlainln("✗ Download failed for %s after %s", result.Account, elapsed)
		return result.Err
	}

	r.writePlainln("✓ Download complete for %s in %s", result.Account, elapsed)
	if result.Status != "" {
		r.writePlain("%s\n", result.Status)
	}
	if !result.ServerReady {
		r.writePlain("⚠ Conversion server was not ready; check 'songbird probe'\n")
	}
	return nil
}
