package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snoograb/internal/adapters/localstorage"
	"snoograb/internal/core/domain"
	"snoograb/internal/core/ports"
)

// fakeLookup serves records keyed by reference. Unknown references have no media.
type fakeLookup struct {
	mu      sync.Mutex
	records map[string]ports.PostRecord
	errs    map[string]error
	calls   []string
}

func (f *fakeLookup) Lookup(ctx context.Context, reference string) (ports.PostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reference)
	if err := f.errs[reference]; err != nil {
		return ports.PostRecord{}, err
	}
	return f.records[reference], nil
}

func videoRecord(id string) ports.PostRecord {
	return ports.PostRecord{
		ID:    id,
		Media: &ports.PostMedia{FallbackURL: "https://v.example.com/" + id + "/DASH_720.mp4?source=fallback"},
	}
}

// fakeFetcher writes the URL as file content and reports two progress steps.
// Fetches wait for gate when it is set; URLs matched by hang block until the
// context is cancelled.
type fakeFetcher struct {
	mu           sync.Mutex
	destinations []string
	fail         func(url string) error
	hang         func(url string) bool
	gate         chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, destination string, onProgress ports.ProgressFunc) (int64, error) {
	f.mu.Lock()
	f.destinations = append(f.destinations, destination)
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return 0, &domain.TransportError{URL: url, Path: destination, Err: ctx.Err()}
		}
	}
	if err := os.WriteFile(destination, []byte(url), 0o644); err != nil {
		return 0, err
	}
	if f.hang != nil && f.hang(url) {
		<-ctx.Done()
		return 0, &domain.TransportError{URL: url, Path: destination, Err: ctx.Err()}
	}
	if onProgress != nil {
		onProgress(0.5, "Downloading "+filepath.Base(destination)+": 50.00%")
	}
	if f.fail != nil {
		if err := f.fail(url); err != nil {
			return int64(len(url)) / 2, &domain.TransportError{URL: url, Path: destination, Err: err}
		}
	}
	if onProgress != nil {
		onProgress(1, "Downloading "+filepath.Base(destination)+": 100.00%")
	}
	return int64(len(url)), nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.destinations)
}

// fakeMuxer concatenates both inputs into the output, or writes a partial output
// and fails.
type fakeMuxer struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (m *fakeMuxer) Combine(ctx context.Context, videoPath, audioPath, outputPath string) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	video, err := os.ReadFile(videoPath)
	if err != nil {
		return err
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return err
	}
	if m.fail {
		_ = os.WriteFile(outputPath, video[:1], 0o644)
		return &domain.MuxProcessError{Command: "ffmpeg", ExitCode: 1, Err: errors.New("exit status 1")}
	}
	return os.WriteFile(outputPath, append(video, audio...), 0o644)
}

type harness struct {
	lookup  *fakeLookup
	fetcher *fakeFetcher
	muxer   *fakeMuxer
	dir     string
}

func newHarness(t *testing.T, ids ...string) *harness {
	t.Helper()
	h := &harness{
		lookup:  &fakeLookup{records: map[string]ports.PostRecord{}, errs: map[string]error{}},
		fetcher: &fakeFetcher{},
		muxer:   &fakeMuxer{},
		dir:     filepath.Join(t.TempDir(), "out"),
	}
	for _, id := range ids {
		h.lookup.records[ref(id)] = videoRecord(id)
	}
	return h
}

func (h *harness) pipeline(opts Options) *Pipeline {
	return NewPipeline(
		NewLocator(h.lookup),
		h.fetcher,
		h.muxer,
		localstorage.NewLocalStorage(),
		hclog.NewNullLogger(),
		opts,
	)
}

func ref(id string) string {
	return "https://example.com/r/x/comments/" + id + "/"
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	for _, name := range listDir(t, dir) {
		assert.False(t, strings.HasPrefix(name, "temp_"), "temp file left behind: %s", name)
	}
}

func TestRunProcessesEveryReference(t *testing.T) {
	h := newHarness(t, "abc123", "def456")

	batch, err := h.pipeline(Options{}).Run(context.Background(), []string{ref("abc123"), ref("def456")}, h.dir)
	require.NoError(t, err)

	require.Len(t, batch.Items, 2)
	for _, item := range batch.Items {
		assert.True(t, item.Done(), "item %d: %v", item.Index, item.Err)
	}
	assert.Equal(t, filepath.Join(h.dir, "abc123.mp4"), batch.Items[0].OutputPath)
	assert.Equal(t, []string{"abc123.mp4", "def456.mp4"}, listDir(t, h.dir))
	assert.Equal(t, domain.Summary{Total: 2, Done: 2}, batch.Summary)
	assert.NotEmpty(t, batch.ID)

	got, err := os.ReadFile(filepath.Join(h.dir, "abc123.mp4"))
	require.NoError(t, err)
	assert.Equal(t,
		"https://v.example.com/abc123/DASH_720.mp4?source=fallback"+"https://v.example.com/abc123/DASH_audio.mp4",
		string(got),
	)
}

func TestRunSequentialUsesFixedTempNames(t *testing.T) {
	h := newHarness(t, "abc123")

	_, err := h.pipeline(Options{}).Run(context.Background(), []string{ref("abc123")}, h.dir)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(h.dir, "temp_video.mp4"),
		filepath.Join(h.dir, "temp_audio.mp4"),
	}, h.fetcher.destinations)
	assertNoTempFiles(t, h.dir)
}

func TestRunNoVideoCreatesNoFiles(t *testing.T) {
	h := newHarness(t)
	h.lookup.records[ref("txt1")] = ports.PostRecord{ID: "txt1"}

	batch, err := h.pipeline(Options{}).Run(context.Background(), []string{ref("txt1")}, h.dir)
	require.NoError(t, err)

	require.Len(t, batch.Items, 1)
	item := batch.Items[0]
	assert.Equal(t, domain.ItemStateFailed, item.State)
	assert.ErrorIs(t, item.Err, domain.ErrNoVideoFound)
	assert.Empty(t, listDir(t, h.dir))
	assert.Zero(t, h.fetcher.count())
	assert.Equal(t, 1, batch.Summary.NoVideo)
	assert.False(t, batch.Summary.HasFailures())
}

func TestRunContinuesPastLookupError(t *testing.T) {
	h := newHarness(t, "def456")
	h.lookup.errs[ref("abc123")] = &domain.LookupError{Reference: ref("abc123"), StatusCode: 401, Err: errors.New("unauthorized")}

	batch, err := h.pipeline(Options{}).Run(context.Background(), []string{ref("abc123"), ref("def456")}, h.dir)
	require.NoError(t, err)

	assert.Equal(t, domain.KindLookup, domain.Kind(batch.Items[0].Err))
	assert.True(t, batch.Items[1].Done())
	assert.Equal(t, domain.Summary{Total: 2, Done: 1, Failed: 1}, batch.Summary)
}

func TestRunTransportErrorRemovesPartialDownloads(t *testing.T) {
	h := newHarness(t, "abc123", "def456")
	h.fetcher.fail = func(url string) error {
		if strings.Contains(url, "abc123") && strings.Contains(url, "audio") {
			return errors.New("connection reset")
		}
		return nil
	}

	batch, err := h.pipeline(Options{}).Run(context.Background(), []string{ref("abc123"), ref("def456")}, h.dir)
	require.NoError(t, err)

	assert.Equal(t, domain.KindTransport, domain.Kind(batch.Items[0].Err))
	assert.True(t, batch.Items[1].Done())
	assert.Equal(t, 1, h.muxer.calls)
	assert.Equal(t, []string{"def456.mp4"}, listDir(t, h.dir))
}

func TestRunMuxFailureLeavesNoOutput(t *testing.T) {
	h := newHarness(t, "abc123")
	h.muxer.fail = true

	batch, err := h.pipeline(Options{}).Run(context.Background(), []string{ref("abc123")}, h.dir)
	require.NoError(t, err)

	item := batch.Items[0]
	assert.Equal(t, domain.ItemStateFailed, item.State)
	var muxErr *domain.MuxProcessError
	assert.ErrorAs(t, item.Err, &muxErr)
	assert.Empty(t, listDir(t, h.dir))
}

func TestRunOverwritePolicy(t *testing.T) {
	h := newHarness(t, "abc123")
	require.NoError(t, os.MkdirAll(h.dir, 0o755))
	existing := filepath.Join(h.dir, "abc123.mp4")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	var asked []string
	skip := func(ctx context.Context, reference, outputPath string) bool {
		asked = append(asked, outputPath)
		return false
	}
	batch, err := h.pipeline(Options{Overwrite: skip}).Run(context.Background(), []string{ref("abc123")}, h.dir)
	require.NoError(t, err)

	assert.Equal(t, []string{existing}, asked)
	assert.ErrorIs(t, batch.Items[0].Err, domain.ErrSkipped)
	assert.Equal(t, 1, batch.Summary.Skipped)
	assert.Empty(t, h.lookup.calls, "skipped items are never looked up")
	got, _ := os.ReadFile(existing)
	assert.Equal(t, "old", string(got))

	batch, err = h.pipeline(Options{Overwrite: AlwaysOverwrite}).Run(context.Background(), []string{ref("abc123")}, h.dir)
	require.NoError(t, err)
	assert.True(t, batch.Items[0].Done())
	got, _ = os.ReadFile(existing)
	assert.NotEqual(t, "old", string(got))
}

func TestRunUnwritableOutputDirIsFatal(t *testing.T) {
	h := newHarness(t, "abc123")
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	batch, err := h.pipeline(Options{}).Run(context.Background(), []string{ref("abc123")}, filepath.Join(file, "out"))

	assert.Nil(t, batch)
	assert.Equal(t, domain.KindFilesystem, domain.Kind(err))
	assert.Empty(t, h.lookup.calls)
}

func TestRunStopsBetweenItemsOnCancel(t *testing.T) {
	h := newHarness(t, "abc123", "def456", "ghi789")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := Options{OnItem: func(item domain.BatchItem) {
		if item.Index == 0 && item.State == domain.ItemStateDone {
			cancel()
		}
	}}
	batch, err := h.pipeline(opts).Run(ctx, []string{ref("abc123"), ref("def456"), ref("ghi789")}, h.dir)
	require.NoError(t, err)

	require.Len(t, batch.Items, 3)
	assert.True(t, batch.Items[0].Done())
	assert.Equal(t, domain.KindCancelled, domain.Kind(batch.Items[1].Err))
	assert.Equal(t, domain.KindCancelled, domain.Kind(batch.Items[2].Err))
	assert.Equal(t, []string{"abc123.mp4"}, listDir(t, h.dir))
	assert.Equal(t, 2, batch.Summary.Cancelled)
}

func TestRunConcurrentItemsUseUniqueTempFiles(t *testing.T) {
	ids := []string{"a1", "b2", "c3", "d4", "e5", "f6"}
	h := newHarness(t, ids...)
	refs := make([]string, len(ids))
	for i, id := range ids {
		refs[i] = ref(id)
	}

	batch, err := h.pipeline(Options{Workers: 3, ConcurrentFetch: true}).Run(context.Background(), refs, h.dir)
	require.NoError(t, err)

	require.Len(t, batch.Items, len(ids))
	for i, item := range batch.Items {
		assert.Equal(t, refs[i], item.Reference)
		assert.True(t, item.Done(), "item %d: %v", i, item.Err)
	}

	seen := map[string]bool{}
	for _, dest := range h.fetcher.destinations {
		assert.False(t, seen[dest], "destination reused: %s", dest)
		seen[dest] = true
	}
	assert.Len(t, seen, 2*len(ids))
	assertNoTempFiles(t, h.dir)
	assert.Len(t, listDir(t, h.dir), len(ids))
}

func TestRunProgressIsMonotonicWhenSequential(t *testing.T) {
	h := newHarness(t, "abc123", "def456")
	var snapshots []domain.ProgressSnapshot
	opts := Options{OnProgress: func(s domain.ProgressSnapshot) {
		snapshots = append(snapshots, s)
	}}

	_, err := h.pipeline(opts).Run(context.Background(), []string{ref("abc123"), ref("def456")}, h.dir)
	require.NoError(t, err)

	require.NotEmpty(t, snapshots)
	prev := 0.0
	for _, s := range snapshots {
		assert.GreaterOrEqual(t, s.Percent, prev)
		assert.GreaterOrEqual(t, s.Percent, 0.0)
		assert.LessOrEqual(t, s.Percent, 100.0)
		prev = s.Percent
	}
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, 100.0, last.Percent)
	assert.Equal(t, "All videos downloaded successfully.", last.Message)
	assert.Equal(t, 2, last.ItemsDone)
}

func TestRunReportsItemStates(t *testing.T) {
	h := newHarness(t, "abc123")
	var states []domain.ItemState
	opts := Options{OnItem: func(item domain.BatchItem) { states = append(states, item.State) }}

	_, err := h.pipeline(opts).Run(context.Background(), []string{ref("abc123")}, h.dir)
	require.NoError(t, err)

	assert.Equal(t, []domain.ItemState{
		domain.ItemStatePending,
		domain.ItemStateResolving,
		domain.ItemStateDownloading,
		domain.ItemStateMuxing,
		domain.ItemStateDone,
		domain.ItemStateDone,
	}, states)
}

func TestRunTwiceProducesSameOutputs(t *testing.T) {
	h := newHarness(t, "abc123", "def456")
	refs := []string{ref("abc123"), ref("def456"), ref("abc123")}
	p := h.pipeline(Options{Overwrite: AlwaysOverwrite})

	_, err := p.Run(context.Background(), refs, h.dir)
	require.NoError(t, err)
	first := listDir(t, h.dir)

	_, err = p.Run(context.Background(), refs, h.dir)
	require.NoError(t, err)
	assert.Equal(t, first, listDir(t, h.dir))
	assert.Equal(t, []string{"abc123.mp4", "def456.mp4"}, first)
}

func TestRunSerializesItemsWithTheSameOutput(t *testing.T) {
	h := newHarness(t, "abc123")

	// Hold every fetch until both items have started, so without serialization
	// both would pass the existence check before either writes its output.
	h.fetcher.gate = make(chan struct{})
	var (
		mu      sync.Mutex
		started int
	)
	opts := Options{
		Workers:   2,
		Overwrite: NeverOverwrite,
		OnItem: func(item domain.BatchItem) {
			if item.State != domain.ItemStatePending {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if started++; started == 2 {
				close(h.fetcher.gate)
			}
		},
	}

	batch, err := h.pipeline(opts).Run(context.Background(), []string{ref("abc123"), ref("abc123")}, h.dir)
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Summary.Done)
	assert.Equal(t, 1, batch.Summary.Skipped)
	assert.Equal(t, 1, h.muxer.calls)
	assert.Equal(t, []string{"abc123.mp4"}, listDir(t, h.dir))
}

func TestRunDuplicateOutputsOverwriteOneAtATime(t *testing.T) {
	h := newHarness(t, "abc123")
	h.lookup.records[ref("abc123")+"?utm_source=share"] = videoRecord("abc123")
	h.lookup.records["abc123"] = videoRecord("abc123")
	var asked int
	overwrite := func(ctx context.Context, reference, outputPath string) bool {
		asked++
		return true
	}

	batch, err := h.pipeline(Options{Workers: 3, Overwrite: overwrite}).Run(
		context.Background(),
		[]string{ref("abc123"), ref("abc123") + "?utm_source=share", "abc123"},
		h.dir,
	)
	require.NoError(t, err)

	assert.Equal(t, 3, batch.Summary.Done)
	assert.Equal(t, 2, asked, "every item after the first finds the output")
	assert.Equal(t, 3, h.muxer.calls)
	assert.Equal(t, []string{"abc123.mp4"}, listDir(t, h.dir))
}

func TestRunConcurrentFetchFailureCancelsSibling(t *testing.T) {
	h := newHarness(t, "abc123")
	h.fetcher.hang = func(url string) bool { return strings.Contains(url, "DASH_720") }
	h.fetcher.fail = func(url string) error {
		if strings.Contains(url, "audio") {
			return errors.New("connection reset")
		}
		return nil
	}

	batch, err := h.pipeline(Options{ConcurrentFetch: true}).Run(context.Background(), []string{ref("abc123")}, h.dir)
	require.NoError(t, err)

	item := batch.Items[0]
	assert.Equal(t, domain.ItemStateFailed, item.State)
	assert.Equal(t, domain.KindTransport, domain.Kind(item.Err))
	assert.ErrorContains(t, item.Err, "connection reset")
	assert.Len(t, h.fetcher.destinations, 2)
	assert.Zero(t, h.muxer.calls)
	assert.Empty(t, listDir(t, h.dir), "both partial downloads are removed")
	assert.Equal(t, 1, batch.Summary.Failed)
}
