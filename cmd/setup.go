package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/desertthunder/ytaudio/internal/shared"
	"github.com/desertthunder/ytaudio/internal/ui"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file when it is missing, then runs database migrations.
//
// With --bucket the storage bucket is created as well.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); errors.Is(err, os.ErrNotExist) {
		r.logger.Info("config file not found, creating from template", "path", r.configPath)
		if err := shared.CreateConfigFile(r.configPath); err != nil {
			return err
		}
		r.writePlain("%s\n", ui.RenderOK("Created "+r.configPath))
	}

	if err := r.SetupDatabase(ctx, cmd); err != nil {
		return err
	}

	if cmd.Bool("bucket") {
		return r.SetupBucket(ctx, cmd)
	}
	return nil
}

// SetupConfig writes the default configuration file. It refuses to overwrite an existing file.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", r.configPath)
	return r.writePlain("%s\n", ui.RenderOK("Created "+r.configPath))
}

// SetupDatabase initializes the database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	r.logger.Info("initializing database", "path", config.Database.Path)
	db, err := r.openDatabase(config)
	if err != nil {
		return err
	}
	defer db.Close()

	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	return r.writePlain("%s\n", ui.RenderOK("Database ready at "+config.Database.Path))
}

// SetupBucket creates the configured storage bucket when it does not exist.
func (r *Runner) SetupBucket(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	store, err := r.openStorage(config)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}
	return r.writePlain("%s\n", ui.RenderOK("Bucket ready: "+r.bucketLabel(store)))
}

// MigrationStatus lists applied and pending migrations without applying any.
func (r *Runner) MigrationStatus(ctx context.Context, cmd *cli.Command) error {
	return r.withRawDatabase(func(db *sql.DB) error {
		states, err := shared.MigrationStatus(db)
		if err != nil {
			return err
		}

		for _, s := range states {
			mark := "pending"
			if s.Applied {
				mark = "applied"
			}
			r.writePlain("%03d  %-8s %s\n", s.Version, mark, s.Name)
		}
		return nil
	})
}

// Rollback reverts the most recently applied migration.
func (r *Runner) Rollback(ctx context.Context, cmd *cli.Command) error {
	return r.withRawDatabase(func(db *sql.DB) error {
		if err := shared.RollbackMigration(db); err != nil {
			return err
		}
		return r.writePlain("%s\n", ui.RenderOK("Rolled back latest migration"))
	})
}

// withRawDatabase opens the database without running migrations.
func (r *Runner) withRawDatabase(fn func(db *sql.DB) error) error {
	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return fn(db)
}
