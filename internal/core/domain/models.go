package domain

import (
	"fmt"
	"strings"
	"time"
)

// MediaExtension is the container extension of every muxed output and temp file.
const MediaExtension = ".mp4"

// IndeterminateFraction is reported by a fetch whose total size is unknown.
const IndeterminateFraction = -1.0

// MediaLocation is the resolved pair of fetchable URLs for one post.
type MediaLocation struct {
	VideoURL string `json:"video_url"`
	AudioURL string `json:"audio_url"`
}

// DownloadTask is a single transfer of one URL to one file.
type DownloadTask struct {
	SourceURL       string
	DestinationPath string
}

// Unit identifies one of the two transfers made per item.
type Unit int

const (
	UnitVideo Unit = iota
	UnitAudio
)

// UnitsPerItem is the number of work units contributed by every item.
const UnitsPerItem = 2

func (u Unit) String() string {
	if u == UnitAudio {
		return "audio"
	}
	return "video"
}

// BatchItem tracks one reference through a single pipeline pass.
type BatchItem struct {
	Index     int       `json:"index"`
	Reference string    `json:"reference"`
	State     ItemState `json:"state"`
	Err       error     `json:"-"`
}

// Transition moves the item to the next state, rejecting illegal edges.
func (i *BatchItem) Transition(to ItemState) error {
	if !i.State.CanTransition(to) {
		return fmt.Errorf("item %d: invalid transition: %s -> %s", i.Index, i.State, to)
	}
	i.State = to
	return nil
}

// Fail moves the item to Failed and records the reason.
func (i *BatchItem) Fail(err error) {
	i.State = ItemStateFailed
	i.Err = err
}

// ItemResult is the terminal outcome of one BatchItem.
type ItemResult struct {
	Index      int       `json:"index"`
	Reference  string    `json:"reference"`
	State      ItemState `json:"state"`
	OutputPath string    `json:"output_path,omitempty"`
	Err        error     `json:"-"`
}

// Done reports whether the item produced its output file.
func (r ItemResult) Done() bool {
	return r.State == ItemStateDone
}

// Reason is the human-readable failure reason, empty for Done items.
func (r ItemResult) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// BatchResult holds every item's outcome for one run, in input order.
type BatchResult struct {
	ID          string
	OutputDir   string
	Items       []ItemResult
	Summary     Summary
	StartedAt   time.Time
	CompletedAt time.Time
}

// Summary counts outcomes by kind so intentional skips stand apart from failures.
type Summary struct {
	Total     int `json:"total"`
	Done      int `json:"done"`
	NoVideo   int `json:"no_video"`
	Skipped   int `json:"skipped"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// Summarize counts results by their terminal kind.
func Summarize(results []ItemResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Done() {
			s.Done++
			continue
		}
		switch Kind(r.Err) {
		case KindNoVideo:
			s.NoVideo++
		case KindSkipped:
			s.Skipped++
		case KindCancelled:
			s.Cancelled++
		default:
			s.Failed++
		}
	}
	return s
}

// HasFailures reports hard failures only; no-video and skipped items are not failures.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

func (s Summary) String() string {
	parts := []string{fmt.Sprintf("%d of %d videos downloaded", s.Done, s.Total)}
	if s.NoVideo > 0 {
		parts = append(parts, fmt.Sprintf("%d without video", s.NoVideo))
	}
	if s.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", s.Skipped))
	}
	if s.Cancelled > 0 {
		parts = append(parts, fmt.Sprintf("%d cancelled", s.Cancelled))
	}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
	}
	return strings.Join(parts, ", ")
}

// ProgressSnapshot is an immutable view of overall batch progress.
type ProgressSnapshot struct {
	Percent    float64 `json:"percent"`
	Message    string  `json:"message"`
	ItemsDone  int     `json:"items_done"`
	ItemsTotal int     `json:"items_total"`
}
