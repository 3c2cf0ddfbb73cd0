package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/models"
	"github.com/desertthunder/songbird/internal/shared"
)

// Session materializes the active account before a run and saves its cache afterwards.
//
// [session.Switcher] implements it.
type Session interface {
	Ensure() (models.Account, error)
	Checkpoint(account models.Account) error
}

// ReadinessProber wakes the conversion server. [prober.Prober] implements it.
type ReadinessProber interface {
	EnsureServerReady(ctx context.Context, baseURL string, timeout time.Duration) bool
}

// Options configures an Orchestrator.
type Options struct {
	ServerURL      string
	ProbeTimeout   time.Duration
	GuaranteeTTL   time.Duration
	WorkDir        string
	DownloadFolder string
}

// Request starts one run.
type Request struct {
	DownloadFolder string                // Overrides Options.DownloadFolder when set
	Progress       chan<- ProgressUpdate // Optional; updates are dropped when full
}

// Result summarizes a settled run.
type Result struct {
	RunID       string
	State       State
	Account     string
	ServerReady bool
	Status      string
	Err         error
	Started     time.Time
	Finished    time.Time
}

// OK reports whether the run finished without error.
func (r Result) OK() bool {
	return r.Err == nil
}

// Run is a handle on one in-flight download.
type Run struct {
	ID     string
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

// Done is closed once the run has settled and released its guarantee.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancel stops the run. Releasing still happens.
func (r *Run) Cancel() {
	r.cancel()
}

// State returns the current state.
func (r *Run) State() State {
	return State(r.state.Load())
}

// Result blocks until the run settles.
func (r *Run) Result() Result {
	<-r.done
	return r.result
}

// Wait blocks until the run settles or ctx ends.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Orchestrator sequences session, execution guarantee, probe, downloader, and release for one download at a
// time.
type Orchestrator struct {
	session    Session
	guarantee  Guarantee
	prober     ReadinessProber
	downloader Downloader
	opts       Options
	sink       logsink.Sink
	logger     *log.Logger

	running   atomic.Bool
	current   atomic.Pointer[Run]
	mu        sync.Mutex
	onSettled func(Result)
}

// NewOrchestrator wires the collaborators of a run.
func NewOrchestrator(session Session, guarantee Guarantee, prober ReadinessProber, downloader Downloader, opts Options, sink logsink.Sink, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 60 * time.Second
	}
	return &Orchestrator{
		session:    session,
		guarantee:  guarantee,
		prober:     prober,
		downloader: downloader,
		opts:       opts,
		sink:       logsink.OrDiscard(sink),
		logger:     logger,
	}
}

// OnSettled registers fn to run exactly once per run, after release and before [Run.Done] closes.
func (o *Orchestrator) OnSettled(fn func(Result)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onSettled = fn
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// State returns the state of the current or most recent run.
func (o *Orchestrator) State() State {
	if run := o.current.Load(); run != nil {
		return run.State()
	}
	return StateIdle
}

// Start begins a run on its own goroutine and returns immediately.
//
// It fails with [shared.ErrAlreadyRunning] while another run is active.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Run, error) {
	if !o.running.CompareAndSwap(false, true) {
		err := fmt.Errorf("%w: wait for the current download to finish", shared.ErrAlreadyRunning)
		o.sink.Emit(logsink.ErrorEvent("orchestrator.start", err))
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{ID: shared.GenerateID(), cancel: cancel, done: make(chan struct{})}
	o.current.Store(run)

	o.logger.Info("download run started", "run", run.ID)
	o.sink.Emit(logsink.Info("orchestrator.start", "download run started", "run", run.ID))

	go o.execute(runCtx, run, req)
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, req Request) {
	result := Result{RunID: run.ID, Started: time.Now()}
	var (
		release Release
		ensured *models.Account
	)

	defer func() {
		if v := recover(); v != nil {
			result.Err = fmt.Errorf("%w: orchestration panic: %v", shared.ErrDownloader, v)
		}
		o.settle(run, req, release, ensured, result)
	}()

	account, err := o.session.Ensure()
	if err != nil {
		result.Err = err
		return
	}
	ensured = &account
	result.Account = account.DisplayName

	o.transition(run, req, acquiringUpdate(run.ID, o.opts.GuaranteeTTL))
	if o.guarantee != nil {
		ctx, release, err = o.guarantee.Acquire(ctx, o.opts.GuaranteeTTL)
		if err != nil {
			result.Err = err
			return
		}
	}

	o.transition(run, req, probingUpdate(run.ID, o.opts.ServerURL))
	if o.prober != nil {
		result.ServerReady = o.prober.EnsureServerReady(ctx, o.opts.ServerURL, o.opts.ProbeTimeout)
		if !result.ServerReady {
			o.logger.Warn("conversion server not ready, proceeding", "run", run.ID, "url", o.opts.ServerURL)
			o.sink.Emit(logsink.Warn(shared.KindNetwork, "orchestrator.probe", "conversion server not ready, proceeding", "run", run.ID))
		}
	}

	o.transition(run, req, runningUpdate(run.ID, result.ServerReady))
	folder := o.opts.DownloadFolder
	if req.DownloadFolder != "" {
		folder = req.DownloadFolder
	}
	result.Status, result.Err = o.invoke(ctx, folder)
}

// invoke calls the downloader, turning panics and errors into [shared.ErrDownloader].
func (o *Orchestrator) invoke(ctx context.Context, folder string) (status string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%w: downloader panicked: %v", shared.ErrDownloader, v)
		}
	}()

	var folderRef *string
	if folder != "" {
		folderRef = &folder
	}

	status, err = o.downloader.Run(ctx, o.opts.WorkDir, nil, nil, folderRef)
	if err != nil && shared.KindOf(err) != shared.KindDownloader {
		err = fmt.Errorf("%w: %v", shared.ErrDownloader, err)
	}
	return status, err
}

// settle is the Releasing state. It always runs, exactly once per run.
func (o *Orchestrator) settle(run *Run, req Request, release Release, ensured *models.Account, result Result) {
	o.transition(run, req, releasingUpdate(run.ID))

	if release != nil {
		if err := release(); err != nil {
			o.logger.Warn("failed to release execution guarantee", "run", run.ID, "err", err)
			o.sink.Emit(logsink.ErrorEvent("orchestrator.release", err, "run", run.ID))
		}
	}
	if ensured != nil {
		if err := o.session.Checkpoint(*ensured); err != nil {
			o.logger.Warn("failed to save account cache", "run", run.ID, "err", err)
			o.sink.Emit(logsink.ErrorEvent("orchestrator.checkpoint", err, "run", run.ID))
		}
	}

	result.Finished = time.Now()
	elapsed := result.Finished.Sub(result.Started).Round(time.Millisecond)
	if result.Err != nil {
		result.State = StateFailed
		o.logger.Error("download run failed", "run", run.ID, "elapsed", elapsed, "err", result.Err)
		o.sink.Emit(logsink.ErrorEvent("orchestrator.run", result.Err, "run", run.ID, "account", result.Account))
	} else {
		result.State = StateIdle
		o.logger.Info("download run complete", "run", run.ID, "elapsed", elapsed, "status", result.Status)
		o.sink.Emit(logsink.Info("orchestrator.run", "download run complete", "run", run.ID, "account", result.Account, "status", result.Status))
	}

	run.result = result
	run.state.Store(int32(result.State))
	sendProgress(req.Progress, settledUpdate(result))
	o.running.Store(false)

	o.mu.Lock()
	hook := o.onSettled
	o.mu.Unlock()
	if hook != nil {
		o.dispatch(hook, result)
	}
	close(run.done)
}

func (o *Orchestrator) dispatch(hook func(Result), result Result) {
	defer func() {
		if v := recover(); v != nil {
			o.logger.Error("settled hook panicked", "run", result.RunID, "panic", v)
			o.sink.Emit(logsink.Warn(shared.KindInternal, "orchestrator.settled", fmt.Sprint(v), "run", result.RunID))
		}
	}()
	hook(result)
}

func (o *Orchestrator) transition(run *Run, req Request, update ProgressUpdate) {
	run.state.Store(int32(update.State))
	o.logger.Debug("download run state", "run", run.ID, "state", update.State)
	sendProgress(req.Progress, update)
}
