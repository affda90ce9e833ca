package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/ytaudio/internal/formatter"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/urfave/cli/v3"
)

// StorageList prints the objects in the configured bucket.
func (r *Runner) StorageList(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	store, err := r.openStorage(config)
	if err != nil {
		return err
	}

	limit := cmd.Int("limit")
	objects := []models.ObjectInfo{}
	for obj, err := range store.List(ctx, cmd.String("prefix")) {
		if err != nil {
			return err
		}
		objects = append(objects, obj)
		if limit > 0 && len(objects) >= limit {
			break
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(objects, true)
	}

	if len(objects) == 0 {
		return r.writePlain("No objects in %s.\n", store.Bucket())
	}
	return r.writePlain("%s", formatter.ObjectsToText(objects))
}

// StorageStats prints the object count and total size of the configured bucket.
func (r *Runner) StorageStats(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	store, err := r.openStorage(config)
	if err != nil {
		return err
	}

	stats, err := store.Stats(ctx, cmd.String("prefix"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(stats, true)
	}

	r.writePlain("Bucket:  %s\n", stats.Bucket)
	r.writePlain("Objects: %d\n", stats.Objects)
	return r.writePlain("Size:    %s\n", formatter.FormatBytes(stats.TotalBytes))
}

func (r *Runner) bucketLabel(store Bucket) string {
	return fmt.Sprintf("%s (%s)", store.Bucket(), r.config.Storage.Endpoint)
}
