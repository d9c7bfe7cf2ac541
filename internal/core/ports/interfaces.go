package ports

import (
	"context"

	"snoograb/internal/core/domain"
)

// PostRecord is the subset of a post's metadata the grabber needs.
// Media is nil when the post carries no video stream.
type PostRecord struct {
	ID    string
	Title string
	Media *PostMedia
}

// PostMedia holds the direct URL of the post's video stream.
type PostMedia struct {
	FallbackURL string
}

// PostLookup defines the contract for the post metadata service.
type PostLookup interface {
	// Lookup fetches the metadata record for a post reference (URL or ID).
	// Auth, network and not-found failures are returned as *domain.LookupError.
	Lookup(ctx context.Context, reference string) (PostRecord, error)
}

// MediaLocator resolves a post reference to its video and audio URLs.
type MediaLocator interface {
	// Resolve returns domain.ErrNoVideoFound when the post has no video.
	Resolve(ctx context.Context, reference string) (domain.MediaLocation, error)
}

// ProgressFunc receives the fraction of one transfer completed, or
// domain.IndeterminateFraction when the total is unknown. It must not block.
type ProgressFunc func(fraction float64, message string)

// StreamFetcher downloads one URL to one file.
type StreamFetcher interface {
	// Fetch streams url into destination and returns the bytes written.
	// A failed transfer may leave a partial file behind.
	Fetch(ctx context.Context, url, destination string, onProgress ProgressFunc) (int64, error)
}

// Muxer combines one video file and one audio file into one output file.
type Muxer interface {
	Combine(ctx context.Context, videoPath, audioPath, outputPath string) error
}

// Storage defines the filesystem operations the pipeline depends on.
type Storage interface {
	// InitDir creates the output directory and verifies it is writable.
	InitDir(ctx context.Context, dir string) error

	// Exists reports whether a regular file exists at path.
	Exists(path string) bool

	// Remove deletes the given files, ignoring ones that do not exist.
	Remove(paths ...string) error
}

// ProgressObserver receives every published snapshot. It must not block.
type ProgressObserver func(domain.ProgressSnapshot)

// ItemObserver receives every item state change.
type ItemObserver func(domain.BatchItem)

// OverwriteFunc decides whether an existing output may be replaced.
type OverwriteFunc func(ctx context.Context, reference, outputPath string) bool
