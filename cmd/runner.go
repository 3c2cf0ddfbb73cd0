package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/songbird/internal/accounts"
	"github.com/desertthunder/songbird/internal/logsink"
	"github.com/desertthunder/songbird/internal/models"
	"github.com/desertthunder/songbird/internal/prober"
	"github.com/desertthunder/songbird/internal/repositories"
	"github.com/desertthunder/songbird/internal/session"
	"github.com/desertthunder/songbird/internal/shared"
	"github.com/desertthunder/songbird/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Storage and the download pipeline are opened lazily by [Runner.open] so commands that only need config
// (serve, convert) never touch the database.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	events     *logsink.Recorder

	sink         logsink.Sink
	fileSink     *logsink.FileSink
	db           *sql.DB
	prefs        *repositories.ServerPreferences
	store        *accounts.Store
	switcher     *session.Switcher
	orchestrator *tasks.Orchestrator
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	DB         *sql.DB
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		events:     logsink.NewRecorder(),
		db:         opts.DB,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, probeCommand, convertCommand, downloadCommand, accountsCommand, serverCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger. Call it before the first [Runner.open] so the sink picks it up.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// Load reads the config named by the --config flag, keeping defaults when the file does not exist.
func (r *Runner) Load(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}

	if r.configPath != "" && shared.FileExists(r.configPath) {
		config, err := shared.LoadConfig(r.configPath)
		if err != nil {
			return ctx, err
		}
		r.config = config
	}

	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	} else {
		shared.SetLogLevel(r.logger, shared.ParseLogLevel(r.config.Log.Level))
	}

	if err := r.config.Validate(); err != nil {
		return ctx, err
	}
	return ctx, nil
}

// Sink returns the event sink, building it on first use.
//
// Events go to the logger, the rotating log file, and the in-memory recorder the TUI reads.
func (r *Runner) Sink() logsink.Sink {
	if r.sink != nil {
		return r.sink
	}
	sinks := []logsink.Sink{logsink.NewLoggerSink(r.logger), r.events}
	if r.config.Log.File != "" {
		r.fileSink = logsink.FileSinkFromConfig(r.config.Log)
		sinks = append(sinks, r.fileSink)
	}
	r.sink = logsink.NewFanout(sinks...)
	return r.sink
}

// open connects storage and wires the account store, session switcher, and download orchestrator.
func (r *Runner) open() error {
	if r.orchestrator != nil {
		return nil
	}

	sink := r.Sink()
	if r.db == nil {
		db, err := shared.OpenDatabase(r.config)
		if err != nil {
			r.logger.Error("failed to open database", "path", r.config.Storage.Database, "err", err)
			return err
		}
		r.db = db
	} else if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrStorage, err)
	}

	r.prefs = repositories.NewServerPreferences(r.db)
	if err := r.prefs.Apply(r.config); err != nil {
		r.logger.Warn("failed to apply server preferences", "err", err)
	}

	projection := accounts.NewProjection(r.config.Storage.DataDir, r.config.Server.RedirectURI)
	r.store = accounts.NewStore(r.db, projection, sink)
	r.switcher = session.NewSwitcher(r.store, sink)

	downloader := r.config.Downloader
	r.orchestrator = tasks.NewOrchestrator(
		r.switcher,
		tasks.NewFileGuarantee(downloader.GuaranteeLock, 0),
		prober.FromConfig(r.config.Prober, sink, r.logger),
		tasks.NewCommandDownloader(downloader, sink, r.logger),
		tasks.Options{
			ServerURL:      r.config.ConverterURL(),
			ProbeTimeout:   r.config.Prober.Timeout.Duration,
			GuaranteeTTL:   downloader.GuaranteeTTL.Duration,
			WorkDir:        downloader.WorkDir,
			DownloadFolder: downloader.DownloadFolder,
		},
		sink,
		r.logger,
	)
	return nil
}

// Close releases the database and the log file. A later command reopens them.
func (r *Runner) Close(ctx context.Context, cmd *cli.Command) error {
	var errs []error
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	if r.fileSink != nil {
		errs = append(errs, r.fileSink.Close())
		r.fileSink = nil
	}
	r.sink, r.prefs, r.store, r.switcher, r.orchestrator = nil, nil, nil, nil, nil
	return errors.Join(errs...)
}

// resolveAccount finds an account by display name or 1-based position.
func (r *Runner) resolveAccount(ref string) (int, models.Account, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, models.Account{}, fmt.Errorf("%w: account name or number", shared.ErrMissingArgument)
	}

	reg, err := r.store.Snapshot()
	if err != nil {
		return 0, models.Account{}, err
	}

	index := reg.IndexOf(ref)
	if index < 0 {
		if n, err := strconv.Atoi(ref); err == nil && reg.InRange(n-1) {
			index = n - 1
		}
	}
	if index < 0 {
		return 0, models.Account{}, fmt.Errorf("%w: no account named %q", shared.ErrInvalidArgument, ref)
	}
	return index, reg.Accounts[index], nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
