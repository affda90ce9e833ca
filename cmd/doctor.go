package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/ytaudio/internal/services"
	"github.com/desertthunder/ytaudio/internal/ui"
	"github.com/urfave/cli/v3"
)

// DoctorReport is the result of [Runner.Doctor].
type DoctorReport struct {
	Dependencies services.DependencyReport `json:"dependencies"`
	Database     string                    `json:"database"`
	DatabaseErr  string                    `json:"database_error,omitempty"`
	Storage      string                    `json:"storage"`
	StorageErr   string                    `json:"storage_error,omitempty"`
}

// Doctor checks every external dependency and reports all problems together.
func (r *Runner) Doctor(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	report := DoctorReport{
		Dependencies: r.lookup(config.Fallback.Binary, config.Acquisition.ChromePath),
		Database:     config.Database.Path,
	}

	var problems []error
	if err := report.Dependencies.CheckDependencies(config.Fallback.Enabled); err != nil {
		problems = append(problems, err)
	}

	if db, err := r.openDatabase(config); err != nil {
		report.DatabaseErr = err.Error()
		problems = append(problems, err)
	} else {
		if err := db.PingContext(ctx); err != nil {
			report.DatabaseErr = err.Error()
			problems = append(problems, fmt.Errorf("database unreachable: %w", err))
		}
		db.Close()
	}

	if store, err := r.openStorage(config); err != nil {
		report.StorageErr = err.Error()
		problems = append(problems, err)
	} else {
		report.Storage = r.bucketLabel(store)
		if err := store.Ping(ctx); err != nil {
			report.StorageErr = err.Error()
			problems = append(problems, fmt.Errorf("storage unreachable: %w", err))
		}
	}

	if cmd.Bool("json") {
		if err := r.writeJSON(report, true); err != nil {
			return err
		}
	} else {
		r.writePlain("%s\n", ui.RenderDependencies(report.Dependencies))
		r.writePlain("%s\n", checkLine("database", report.Database, report.DatabaseErr))
		r.writePlain("%s\n", checkLine("storage", report.Storage, report.StorageErr))
	}

	return errors.Join(problems...)
}

func checkLine(name, target, problem string) string {
	if problem != "" {
		return ui.RenderError(fmt.Errorf("%s %s: %s", name, target, problem))
	}
	return ui.RenderOK(fmt.Sprintf("%s %s", name, target))
}
