package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/repositories"
	"github.com/desertthunder/ytaudio/internal/services"
	"github.com/desertthunder/ytaudio/internal/shared"
	"github.com/desertthunder/ytaudio/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Bucket is the object store surface the CLI needs beyond the pipeline's [models.ObjectStore].
type Bucket interface {
	models.ObjectStore
	Bucket() string
	EnsureBucket(ctx context.Context) error
	List(ctx context.Context, prefix string) iter.Seq2[models.ObjectInfo, error]
	Stats(ctx context.Context, prefix string) (services.StorageStats, error)
	Ping(ctx context.Context) error
}

var _ Bucket = (*services.MinioStore)(nil)

// DependencyLookup reports which external programs are installed.
type DependencyLookup func(extractor, chromePath string) services.DependencyReport

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Clients are created lazily from the loaded configuration unless injected through [RunnerOpts].
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	exec       services.ExtractorRunner
	storage    Bucket
	primary    services.PrimaryStrategy
	fallback   services.FallbackStrategy
	fetcher    services.Fetcher
	lookup     DependencyLookup
	logFile    *os.File
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Exec       services.ExtractorRunner
	Storage    Bucket
	Primary    services.PrimaryStrategy
	Fallback   services.FallbackStrategy
	Fetcher    services.Fetcher
	Lookup     DependencyLookup
}

// NewRunner creates a new Runner with the provided options
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Lookup == nil {
		opts.Lookup = services.DependencyStatus
	}

	return &Runner{
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		exec:       opts.Exec,
		storage:    opts.Storage,
		primary:    opts.Primary,
		fallback:   opts.Fallback,
		fetcher:    opts.Fetcher,
		lookup:     opts.Lookup,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, runCommand, retryCommand, recordsCommand, storageCommand, doctorCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before applies the global flags: log level, log file and config path.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	if path := cmd.String("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return ctx, fmt.Errorf("failed to open log file: %w", err)
		}
		r.logFile = f
		r.logger.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	r.configPath = cmd.String("config")
	return ctx, nil
}

func (r *Runner) close() {
	if r.logFile != nil {
		r.logFile.Close()
		r.logFile = nil
	}
}

// loadConfig loads the config file once. A missing file falls back to the defaults plus
// environment overrides so that a bare environment-configured deployment still works.
func (r *Runner) loadConfig() (*shared.Config, error) {
	if r.config != nil {
		return r.config, nil
	}

	path := r.configPath
	if path == "" {
		path = "config.toml"
	}

	config, err := shared.LoadConfig(path)
	if errors.Is(err, shared.ErrMissingConfig) {
		r.logger.Warn("config file not found, using defaults", "path", path)
		config = shared.DefaultConfig()
		config.ApplyEnv(os.Getenv)
	} else if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	r.config = config
	return config, nil
}

// openDatabase opens the metadata database and brings its schema up to date.
func (r *Runner) openDatabase(config *shared.Config) (*sql.DB, error) {
	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

func (r *Runner) openRecords(config *shared.Config) (*repositories.RecordRepository, func() error, error) {
	db, err := r.openDatabase(config)
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewRecordRepository(db), db.Close, nil
}

func (r *Runner) openStorage(config *shared.Config) (Bucket, error) {
	if r.storage != nil {
		return r.storage, nil
	}

	store, err := services.NewMinioStore(config.Storage, r.logger)
	if err != nil {
		return nil, err
	}
	r.storage = store
	return store, nil
}

func (r *Runner) extractor(config *shared.Config) *services.ExtractorStrategy {
	return services.NewExtractorStrategy(services.ExtractorOptions{
		Binary:      config.Fallback.Binary,
		OutputDir:   config.Download.Dir,
		AudioFormat: config.Fallback.AudioFormat,
		Timeout:     config.Fallback.Timeout.Duration,
	}, r.exec, r.logger)
}

// usesBrowser reports whether the pipeline will launch Chrome, i.e. no primary strategy was injected.
func (r *Runner) usesBrowser() bool {
	return r.primary == nil
}

// newPipeline wires the pipeline from injected clients or the configured real ones.
func (r *Runner) newPipeline(config *shared.Config, meta models.MetadataStore, objects models.ObjectStore) *tasks.ItemPipeline {
	primary := r.primary
	if primary == nil {
		sessions := services.NewBrowserSessions(services.BrowserOptionsFromConfig(config.Acquisition), r.logger)
		primary = services.NewConverterStrategy(sessions, services.ConverterOptionsFromConfig(config.Acquisition), r.logger)
	}

	var fallback services.FallbackStrategy
	switch {
	case r.fallback != nil:
		fallback = r.fallback
	case config.Fallback.Enabled:
		fallback = r.extractor(config)
	}

	fetcher := r.fetcher
	if fetcher == nil {
		fetcher = services.NewDownloader(r.httpClient, config.Download.Timeout.Duration, config.Acquisition.UserAgents[0])
	}

	return tasks.NewItemPipeline(tasks.PipelineDeps{
		Metadata: meta,
		Objects:  objects,
		Primary:  primary,
		Fallback: fallback,
		Fetcher:  fetcher,
		Logger:   r.logger,
	}, tasks.PipelineOptionsFromConfig(config))
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
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
