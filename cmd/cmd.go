// submodule cmd contains command definitions
package main

import (
	"strings"

	"github.com/desertthunder/ytaudio/internal/formatter"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/urfave/cli/v3"
)

// app builds the root command with global flags.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "ytaudio",
		Usage:   "Acquire audio for video ids into object storage, exactly once",
		Version: "0.3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("YTAUDIO_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also append logs to this file",
			},
		},
		Before:   r.Before,
		Commands: r.register(),
	}
}

// setupCommand initializes configuration, database and bucket
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create the config file if missing and run database migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "bucket",
				Usage: "Also create the storage bucket",
			},
		},
		Action: r.Setup,
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write the default config file to --config",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Run database migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "bucket",
				Usage:  "Create the storage bucket if it does not exist",
				Action: r.SetupBucket,
			},
			{
				Name:   "status",
				Usage:  "Show applied and pending migrations",
				Action: r.MigrationStatus,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.Rollback,
			},
		},
	}
}

// runCommand processes a batch of items
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Acquire and store audio for a batch of items",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "items",
				Aliases: []string{"i"},
				Usage:   "Items file (.csv, .json, or one id/URL per line)",
			},
			&cli.StringFlag{
				Name:    "playlist",
				Aliases: []string{"p"},
				Usage:   "Playlist or channel URL, flattened with the extractor",
			},
			&cli.StringSliceFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "Video URL or id (repeatable)",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Concurrent pipelines (overrides pipeline.workers)",
			},
			&cli.BoolFlag{
				Name:  "listen",
				Usage: "Serve /healthz and /stats on server.host:server.port while running",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Do not print per-item progress",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the final summary as JSON",
			},
		},
		Action: r.Run,
	}
}

// retryCommand re-runs failed records
func retryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "retry",
		Usage: "Retry failed records on an interval until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single sweep and exit",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Wait between sweeps (overrides retry.interval)",
			},
			&cli.IntFlag{
				Name:  "max-attempts",
				Usage: "Retries before a record is abandoned, 0 for no limit (overrides retry.max_attempts)",
			},
			&cli.BoolFlag{
				Name:  "listen",
				Usage: "Serve /healthz and /stats on server.host:server.port while running",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Do not print per-item progress",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print sweep results as JSON",
			},
		},
		Action: r.Retry,
	}
}

// recordsCommand inspects the metadata store
func recordsCommand(r *Runner) *cli.Command {
	statuses := make([]string, 0, len(models.Statuses))
	for _, s := range models.Statuses {
		statuses = append(statuses, s.String())
	}

	return &cli.Command{
		Name:    "records",
		Aliases: []string{"rec"},
		Usage:   "Inspect item records (read-only)",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List records, most recently updated first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "status",
						Aliases: []string{"s"},
						Usage:   "Filter by status (" + strings.Join(statuses, ", ") + ")",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records to return",
						Value: 50,
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Number of records to skip",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.RecordsList,
			},
			{
				Name:  "stats",
				Usage: "Count records per status",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.RecordsStats,
			},
			{
				Name:  "show",
				Usage: "Show one record and its failure log",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.RecordsShow,
			},
			{
				Name:  "failures",
				Usage: "Show the most recent failure log entries",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of entries",
						Value: 20,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.RecordsFailures,
			},
			{
				Name:  "export",
				Usage: "Export records to a file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format (" + strings.Join(formatter.Formats, ", ") + ")",
						Value:   "csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: records_{epoch}.{format})",
					},
					&cli.StringFlag{
						Name:    "status",
						Aliases: []string{"s"},
						Usage:   "Filter by status",
					},
				},
				Action: r.RecordsExport,
			},
		},
	}
}

// storageCommand inspects the object store
func storageCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "storage",
		Usage: "Inspect the storage bucket (read-only)",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List stored objects",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "prefix",
						Usage: "Only list keys with this prefix",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of objects, 0 for all",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.StorageList,
			},
			{
				Name:  "stats",
				Usage: "Count objects and bytes",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "prefix",
						Usage: "Only count keys with this prefix",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.StorageStats,
			},
		},
	}
}

// doctorCommand checks external dependencies
func doctorCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check browser, extractor, database and storage availability",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Doctor,
	}
}
