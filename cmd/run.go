package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/server"
	"github.com/desertthunder/ytaudio/internal/services"
	"github.com/desertthunder/ytaudio/internal/shared"
	"github.com/desertthunder/ytaudio/internal/tasks"
	"github.com/desertthunder/ytaudio/internal/ui"
	"github.com/urfave/cli/v3"
)

// Run processes a batch of items gathered from --items, --playlist and --url.
//
// Interrupting the command stops dispatch; items already running finish and are summarised.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	items, err := r.collectItems(ctx, cmd, config)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: no items to process", shared.ErrInvalidInput)
	}

	if err := r.checkDependencies(config); err != nil {
		return err
	}

	repo, closeDB, err := r.openRecords(config)
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := r.openStorage(config)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	opts := tasks.OrchestratorOptionsFromConfig(config)
	if workers := cmd.Int("workers"); workers > 0 {
		opts.Workers = workers
	}
	orchestrator := tasks.NewOrchestrator(r.newPipeline(config, repo, store), opts, r.logger)

	if cmd.Bool("listen") {
		stop := r.serveStatus(ctx, config.Server.Addr(), server.NewStatusHandler(orchestrator, nil, repo))
		defer stop()
	}

	prog, done := r.printProgress(cmd.Bool("quiet") || cmd.Bool("json"))
	result, err := orchestrator.Run(ctx, items, prog)
	close(prog)
	<-done

	if errors.Is(err, context.Canceled) {
		r.logger.Warn("run interrupted, remaining items were not started", "remaining", result.Summary.Remaining)
	} else if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, true)
	}
	return r.writePlainln("%s", ui.RenderSummary(result.Summary))
}

// Retry re-runs failed records, once with --once or on an interval until interrupted.
func (r *Runner) Retry(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	if err := r.checkDependencies(config); err != nil {
		return err
	}

	repo, closeDB, err := r.openRecords(config)
	if err != nil {
		return err
	}
	defer closeDB()

	store, err := r.openStorage(config)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}

	opts := tasks.SweeperOptionsFromConfig(config)
	if cmd.IsSet("interval") {
		opts.Interval = cmd.Duration("interval")
	}
	if cmd.IsSet("max-attempts") {
		opts.MaxAttempts = cmd.Int("max-attempts")
	}
	sweeper := tasks.NewSweeper(repo, r.newPipeline(config, repo, store), opts, r.logger)

	if cmd.Bool("listen") {
		stop := r.serveStatus(ctx, config.Server.Addr(), server.NewStatusHandler(nil, sweeper, repo))
		defer stop()
	}

	prog, done := r.printProgress(cmd.Bool("quiet") || cmd.Bool("json"))
	if cmd.Bool("once") {
		res, err := sweeper.Sweep(ctx, prog)
		close(prog)
		<-done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return r.printSweep(res, cmd.Bool("json"))
	}

	err = sweeper.Run(ctx, prog)
	close(prog)
	<-done
	if err != nil {
		return err
	}

	if res, ok := sweeper.Last(); ok {
		return r.printSweep(res, cmd.Bool("json"))
	}
	return nil
}

func (r *Runner) printSweep(res tasks.SweepResult, asJSON bool) error {
	if asJSON {
		return r.writeJSON(res, true)
	}
	return r.writePlainln("%s", ui.RenderSweep(res))
}

// collectItems merges every item source named on the command line.
func (r *Runner) collectItems(ctx context.Context, cmd *cli.Command, config *shared.Config) ([]models.Item, error) {
	var items []models.Item

	if path := cmd.String("items"); path != "" {
		loaded, err := services.LoadItems(path)
		if err != nil {
			return nil, err
		}
		r.logger.Info("loaded items file", "path", path, "items", len(loaded))
		items = append(items, loaded...)
	}

	if playlist := cmd.String("playlist"); playlist != "" {
		entries, err := r.extractor(config).FlatPlaylist(ctx, playlist)
		if err != nil {
			return nil, err
		}
		r.logger.Info("expanded playlist", "url", playlist, "items", len(entries))
		items = append(items, entries...)
	}

	for _, raw := range cmd.StringSlice("url") {
		item, err := services.ItemFromURL(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if len(items) == 0 && cmd.String("items") == "" && cmd.String("playlist") == "" {
		return nil, fmt.Errorf("%w: one of --items, --playlist or --url is required", shared.ErrMissingArgument)
	}
	return items, nil
}

// checkDependencies fails fast when the converter or extractor would launch a missing program.
func (r *Runner) checkDependencies(config *shared.Config) error {
	needExtractor := config.Fallback.Enabled && r.fallback == nil
	if !r.usesBrowser() && !needExtractor {
		return nil
	}

	report := r.lookup(config.Fallback.Binary, config.Acquisition.ChromePath)
	if !r.usesBrowser() {
		report.ChromeFound = true
	}
	return report.CheckDependencies(needExtractor)
}

// printProgress drains prog onto the output until it is closed. Summary phases are left to
// the caller, which renders them in full.
func (r *Runner) printProgress(quiet bool) (chan tasks.ProgressUpdate, <-chan struct{}) {
	prog := make(chan tasks.ProgressUpdate, 32)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for update := range prog {
			if quiet {
				continue
			}
			switch update.Phase {
			case tasks.ReportSummary, tasks.RetrySummary:
				continue
			}
			r.writePlain("%s\n", update.Message)
		}
	}()

	return prog, done
}

// serveStatus runs the status server in the background. The returned func stops it and
// waits for shutdown.
func (r *Runner) serveStatus(ctx context.Context, addr string, handler *server.StatusHandler) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	router := server.NewStatusRouter(r.logger, handler)

	go func() {
		defer close(done)
		if err := server.Serve(ctx, addr, router, r.logger); err != nil {
			r.logger.Error("status server failed", "addr", addr, "err", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
