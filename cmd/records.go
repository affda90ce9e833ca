package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/ytaudio/internal/formatter"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/repositories"
	"github.com/desertthunder/ytaudio/internal/shared"
	"github.com/desertthunder/ytaudio/internal/ui"
	"github.com/urfave/cli/v3"
)

func parseStatus(raw string) (models.Status, error) {
	if raw == "" {
		return "", nil
	}
	status := models.Status(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", shared.ErrInvalidArgument, raw)
	}
	return status, nil
}

func (r *Runner) withRecords(fn func(repo *repositories.RecordRepository) error) error {
	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	repo, closeDB, err := r.openRecords(config)
	if err != nil {
		return err
	}
	defer closeDB()

	return fn(repo)
}

// RecordsList prints records, optionally filtered by status.
func (r *Runner) RecordsList(ctx context.Context, cmd *cli.Command) error {
	status, err := parseStatus(cmd.String("status"))
	if err != nil {
		return err
	}

	return r.withRecords(func(repo *repositories.RecordRepository) error {
		records, err := repo.List(ctx, repositories.ListOptions{
			Status: status,
			Limit:  cmd.Int("limit"),
			Offset: cmd.Int("offset"),
		})
		if err != nil {
			return err
		}

		if cmd.Bool("json") {
			data, err := formatter.ExportToJSON(records)
			if err != nil {
				return err
			}
			return r.writePlain("%s\n", data)
		}

		data, err := formatter.ExportToText(records)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	})
}

// RecordsStats prints the number of records in each status.
func (r *Runner) RecordsStats(ctx context.Context, cmd *cli.Command) error {
	return r.withRecords(func(repo *repositories.RecordRepository) error {
		counts, err := repo.CountByStatus(ctx)
		if err != nil {
			return err
		}

		if cmd.Bool("json") {
			return r.writeJSON(counts, true)
		}
		return r.writePlain("%s\n", ui.RenderCounts(counts))
	})
}

// RecordsShow prints one record with its failure log.
func (r *Runner) RecordsShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: item id", shared.ErrMissingArgument)
	}

	return r.withRecords(func(repo *repositories.RecordRepository) error {
		rec, err := repo.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get record %s: %w", id, err)
		}

		failures, err := repo.Failures(ctx, id, 0)
		if err != nil {
			return err
		}

		if cmd.Bool("json") {
			return r.writeJSON(struct {
				Record   models.Record         `json:"record"`
				Failures []models.FailureEntry `json:"failures"`
			}{rec, failures}, true)
		}
		return r.writePlain("%s", formatter.RecordDetail(rec, failures))
	})
}

// RecordsFailures prints the most recent failure log entries across all items.
func (r *Runner) RecordsFailures(ctx context.Context, cmd *cli.Command) error {
	return r.withRecords(func(repo *repositories.RecordRepository) error {
		failures, err := repo.Failures(ctx, "", cmd.Int("limit"))
		if err != nil {
			return err
		}

		if cmd.Bool("json") {
			if failures == nil {
				failures = []models.FailureEntry{}
			}
			return r.writeJSON(failures, true)
		}

		if len(failures) == 0 {
			return r.writePlain("No failures logged.\n")
		}
		for _, f := range failures {
			r.writePlain("%s  %-12s %s  %s\n", f.CreatedAt.UTC().Format(time.RFC3339), f.ItemID, ui.RenderStatus(f.Status), f.Message)
		}
		return nil
	})
}

// RecordsExport writes records to a csv, json or txt file.
func (r *Runner) RecordsExport(ctx context.Context, cmd *cli.Command) error {
	status, err := parseStatus(cmd.String("status"))
	if err != nil {
		return err
	}

	return r.withRecords(func(repo *repositories.RecordRepository) error {
		records, err := repo.List(ctx, repositories.ListOptions{Status: status})
		if err != nil {
			return err
		}

		path, err := formatter.WriteRecordsExport(records, cmd.String("format"), cmd.String("output"))
		if err != nil {
			return err
		}

		r.logger.Info("exported records", "count", len(records), "path", path)
		return r.writePlain("%s\n", ui.RenderOK(fmt.Sprintf("Exported %d records to %s", len(records), path)))
	})
}
