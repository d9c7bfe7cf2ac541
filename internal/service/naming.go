package service

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"

	"snoograb/internal/core/domain"
)

const (
	tempVideoBase = "temp_video"
	tempAudioBase = "temp_audio"

	fallbackOutputName = "post"
)

// ReadReferences reads newline-delimited post references, trimming whitespace and
// ignoring blank lines.
func ReadReferences(r io.Reader) ([]string, error) {
	var refs []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			refs = append(refs, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading references: %w", err)
	}
	return refs, nil
}

// DerivePostID returns the last non-empty path segment of the trimmed reference,
// made safe for use as a file name. Query and fragment are dropped first so share
// links name the post, not their tracking parameters. The result is lowercase, as
// post IDs are case-insensitive.
func DerivePostID(reference string) string {
	ref := strings.TrimSpace(reference)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.Trim(ref, "/")
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		ref = ref[i+1:]
	}

	if id := slug.Make(ref); id != "" {
		return id
	}
	return fallbackOutputName
}

// OutputFileName is the muxed file name for a reference.
func OutputFileName(reference string) string {
	return DerivePostID(reference) + domain.MediaExtension
}

// TempPaths returns the intermediate video and audio paths for an item. An empty
// suffix gives the fixed shared names, which are only safe when items run one at a
// time.
func TempPaths(dir, suffix string) (video, audio string) {
	if suffix != "" {
		suffix = "_" + suffix
	}
	video = filepath.Join(dir, tempVideoBase+suffix+domain.MediaExtension)
	audio = filepath.Join(dir, tempAudioBase+suffix+domain.MediaExtension)
	return video, audio
}
