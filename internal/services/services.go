// package services defines the external collaborators of the item pipeline
//
// Conversion site (chromedp), extractor binary (yt-dlp), object store (MinIO), HTTP downloads
package services

import (
	"context"

	"github.com/desertthunder/ytaudio/internal/models"
)

// PrimaryStrategy resolves an item to a direct audio link. [shared.ErrSourceNotFound] is its only
// definitive failure; every other error is transient and may be retried.
type PrimaryStrategy interface {
	Resolve(ctx context.Context, item models.Item) (models.Resolution, error)
}

// FallbackStrategy produces the local artifact for an item in one blocking call and returns its path.
type FallbackStrategy interface {
	Acquire(ctx context.Context, item models.Item) (string, error)
}

// Fetcher downloads url into dest, returning the number of bytes written.
type Fetcher interface {
	Download(ctx context.Context, url, dest string) (int64, error)
}
