package service

import (
	"context"
	"fmt"
	"strings"

	"snoograb/internal/core/domain"
	"snoograb/internal/core/ports"
)

const (
	// dashToken separates a video URL's base from its rendition file name.
	dashToken = "DASH_"

	audioRendition = dashToken + "audio" + domain.MediaExtension
)

// Locator implements ports.MediaLocator over a post metadata lookup.
type Locator struct {
	lookup ports.PostLookup
}

var _ ports.MediaLocator = (*Locator)(nil)

// NewLocator creates a Locator backed by the given lookup.
func NewLocator(lookup ports.PostLookup) *Locator {
	return &Locator{lookup: lookup}
}

// Resolve performs exactly one lookup and derives the audio URL from the video URL.
// A post without video yields domain.ErrNoVideoFound; lookup failures pass through.
func (l *Locator) Resolve(ctx context.Context, reference string) (domain.MediaLocation, error) {
	record, err := l.lookup.Lookup(ctx, reference)
	if err != nil {
		return domain.MediaLocation{}, err
	}
	if record.Media == nil || strings.TrimSpace(record.Media.FallbackURL) == "" {
		return domain.MediaLocation{}, fmt.Errorf("%s: %w", reference, domain.ErrNoVideoFound)
	}

	videoURL := strings.TrimSpace(record.Media.FallbackURL)
	return domain.MediaLocation{
		VideoURL: videoURL,
		AudioURL: DeriveAudioURL(videoURL),
	}, nil
}

// DeriveAudioURL swaps the video rendition for the audio one: everything before the
// first DASH_ token is kept. Without the token the last path segment is replaced.
// The result is best effort; a wrong guess surfaces as a failed download.
func DeriveAudioURL(videoURL string) string {
	if base, _, found := strings.Cut(videoURL, dashToken); found {
		return base + audioRendition
	}

	base, _, _ := strings.Cut(videoURL, "?")
	if i := strings.LastIndex(base, "/"); i >= 0 {
		return base[:i+1] + audioRendition
	}
	return base + "/" + audioRendition
}
