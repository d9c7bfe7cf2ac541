package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"snoograb/internal/core/domain"
	"snoograb/internal/core/ports"
)

// Options tunes how a Pipeline schedules work and whom it reports to.
type Options struct {
	// Workers is the number of items processed at once. Values below 1 mean 1.
	// With more than one worker every item gets its own temp file names.
	Workers int

	// ConcurrentFetch downloads an item's video and audio at the same time.
	ConcurrentFetch bool

	// Overwrite decides whether an existing output may be replaced. Nil means
	// AlwaysOverwrite.
	Overwrite ports.OverwriteFunc

	// OnProgress receives every progress snapshot. It must not block.
	OnProgress ports.ProgressObserver

	// OnItem receives every item state change.
	OnItem ports.ItemObserver
}

// Pipeline coordinates the resolve, download and mux steps for a batch of posts.
type Pipeline struct {
	locator ports.MediaLocator
	fetcher ports.StreamFetcher
	muxer   ports.Muxer
	storage ports.Storage
	logger  hclog.Logger
	opts    Options
}

// NewPipeline creates a new Pipeline.
func NewPipeline(
	locator ports.MediaLocator,
	fetcher ports.StreamFetcher,
	muxer ports.Muxer,
	storage ports.Storage,
	logger hclog.Logger,
	opts Options,
) *Pipeline {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Overwrite == nil {
		opts.Overwrite = AlwaysOverwrite
	}
	return &Pipeline{
		locator: locator,
		fetcher: fetcher,
		muxer:   muxer,
		storage: storage,
		logger:  logger,
		opts:    opts,
	}
}

// batchRun is the state shared by the items of one Run call.
type batchRun struct {
	id          string
	outputDir   string
	uniqueTemps bool
	outputs     outputLocks
	progress    *Aggregator
	logger      hclog.Logger
}

// outputLocks serializes items that derive the same output path, so the second
// one sees the first one's file and goes through the overwrite policy.
type outputLocks struct {
	mu    sync.Mutex
	paths map[string]*sync.Mutex
}

func (l *outputLocks) lock(path string) (unlock func()) {
	path = filepath.Clean(path)
	l.mu.Lock()
	if l.paths == nil {
		l.paths = make(map[string]*sync.Mutex)
	}
	m, ok := l.paths[path]
	if !ok {
		m = &sync.Mutex{}
		l.paths[path] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Run processes every reference and returns one result per reference, in input
// order. Item failures are recorded, never returned; the only error is an output
// directory that cannot be prepared, reported before any item is attempted.
func (p *Pipeline) Run(ctx context.Context, references []string, outputDir string) (*domain.BatchResult, error) {
	batch := &domain.BatchResult{
		ID:        uuid.New().String(),
		OutputDir: outputDir,
		StartedAt: time.Now().UTC(),
	}
	logger := p.logger.With("batch", batch.ID)
	logger.Info("starting batch", "items", len(references), "output_dir", outputDir, "workers", p.opts.Workers)

	if err := p.storage.InitDir(ctx, outputDir); err != nil {
		logger.Error("output directory unusable", "error", err)
		return nil, err
	}

	run := &batchRun{
		id:          batch.ID,
		outputDir:   outputDir,
		uniqueTemps: p.opts.Workers > 1,
		progress:    NewAggregator(len(references), p.opts.OnProgress),
		logger:      logger,
	}

	results := make([]domain.ItemResult, len(references))
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, ref := range references {
		i, ref := i, ref
		g.Go(func() error {
			results[i] = p.runItem(ctx, run, i, ref)
			return nil
		})
	}
	_ = g.Wait()

	batch.Items = results
	batch.Summary = domain.Summarize(results)
	batch.CompletedAt = time.Now().UTC()
	run.progress.Finish(finishMessage(batch.Summary))

	logger.Info("batch complete",
		"done", batch.Summary.Done,
		"no_video", batch.Summary.NoVideo,
		"skipped", batch.Summary.Skipped,
		"cancelled", batch.Summary.Cancelled,
		"failed", batch.Summary.Failed,
	)
	return batch, nil
}

func (p *Pipeline) runItem(ctx context.Context, run *batchRun, index int, reference string) domain.ItemResult {
	item := domain.BatchItem{Index: index, Reference: reference, State: domain.ItemStatePending}
	p.notify(item)

	outputPath := filepath.Join(run.outputDir, OutputFileName(reference))
	logger := run.logger.With("item", index, "reference", reference)

	err := p.process(ctx, run, &item, outputPath, logger)
	result := domain.ItemResult{Index: index, Reference: reference}
	if err != nil {
		item.Fail(err)
		p.logFailure(logger, err)
		run.progress.CompleteItem(index, failureMessage(reference, err))
	} else {
		p.advance(&item, domain.ItemStateDone, logger)
		result.OutputPath = outputPath
		logger.Info("done", "output", outputPath)
		run.progress.CompleteItem(index, "Saved "+filepath.Base(outputPath))
	}
	p.notify(item)

	result.State = item.State
	result.Err = item.Err
	return result
}

// process walks one item through its states. Temp files are removed before it
// returns on every path, so they are gone by the time the item is terminal. The
// output path stays locked for the whole walk.
func (p *Pipeline) process(
	ctx context.Context,
	run *batchRun,
	item *domain.BatchItem,
	outputPath string,
	logger hclog.Logger,
) (err error) {
	unlock := run.outputs.lock(outputPath)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("not started: %w", err)
	}

	if p.storage.Exists(outputPath) {
		if !p.opts.Overwrite(ctx, item.Reference, outputPath) {
			return domain.ErrSkipped
		}
		logger.Info("overwriting existing output", "output", outputPath)
	}

	p.advance(item, domain.ItemStateResolving, logger)
	run.progress.Update(item.Index, domain.UnitVideo, domain.IndeterminateFraction, "Processing "+item.Reference)
	location, err := p.locator.Resolve(ctx, item.Reference)
	if err != nil {
		return err
	}
	logger.Debug("located media", "video_url", location.VideoURL, "audio_url", location.AudioURL)

	suffix := ""
	if run.uniqueTemps {
		suffix = fmt.Sprintf("%d-%s", item.Index, run.id[:8])
	}
	videoPath, audioPath := TempPaths(run.outputDir, suffix)
	defer func() {
		if rmErr := p.storage.Remove(videoPath, audioPath); rmErr != nil {
			logger.Warn("failed to remove temp files", "error", rmErr)
			if err == nil {
				err = rmErr
			}
		}
	}()

	p.advance(item, domain.ItemStateDownloading, logger)
	tasks := [domain.UnitsPerItem]domain.DownloadTask{
		domain.UnitVideo: {SourceURL: location.VideoURL, DestinationPath: videoPath},
		domain.UnitAudio: {SourceURL: location.AudioURL, DestinationPath: audioPath},
	}
	if err := p.fetchAll(ctx, run, item.Index, tasks); err != nil {
		return err
	}

	p.advance(item, domain.ItemStateMuxing, logger)
	run.progress.Status(fmt.Sprintf("Muxing %s", filepath.Base(outputPath)))
	if err := p.muxer.Combine(ctx, videoPath, audioPath, outputPath); err != nil {
		if rmErr := p.storage.Remove(outputPath); rmErr != nil {
			logger.Warn("failed to remove partial output", "error", rmErr)
		}
		return err
	}
	return nil
}

func (p *Pipeline) fetchAll(
	ctx context.Context,
	run *batchRun,
	index int,
	tasks [domain.UnitsPerItem]domain.DownloadTask,
) error {
	if !p.opts.ConcurrentFetch {
		for unit, task := range tasks {
			if err := p.fetch(ctx, run, index, domain.Unit(unit), task); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for unit, task := range tasks {
		unit, task := unit, task
		g.Go(func() error {
			return p.fetch(gctx, run, index, domain.Unit(unit), task)
		})
	}
	return g.Wait()
}

func (p *Pipeline) fetch(
	ctx context.Context,
	run *batchRun,
	index int,
	unit domain.Unit,
	task domain.DownloadTask,
) error {
	n, err := p.fetcher.Fetch(ctx, task.SourceURL, task.DestinationPath, func(fraction float64, message string) {
		run.progress.Update(index, unit, fraction, message)
	})
	if err != nil {
		return fmt.Errorf("fetching %s: %w", unit, err)
	}
	run.progress.Update(index, unit, 1, fmt.Sprintf("Downloaded %s (%d bytes)", filepath.Base(task.DestinationPath), n))
	return nil
}

func (p *Pipeline) advance(item *domain.BatchItem, to domain.ItemState, logger hclog.Logger) {
	if err := item.Transition(to); err != nil {
		logger.Error("unexpected state change", "error", err)
		return
	}
	logger.Debug("state changed", "state", to)
	p.notify(*item)
}

func (p *Pipeline) notify(item domain.BatchItem) {
	if p.opts.OnItem != nil {
		p.opts.OnItem(item)
	}
}

func (p *Pipeline) logFailure(logger hclog.Logger, err error) {
	switch kind := domain.Kind(err); kind {
	case domain.KindNoVideo, domain.KindSkipped:
		logger.Warn("item not downloaded", "kind", kind, "reason", err)
	case domain.KindCancelled:
		logger.Info("item cancelled", "reason", err)
	default:
		logger.Error("item failed", "kind", kind, "error", err)
	}
}

func failureMessage(reference string, err error) string {
	switch {
	case errors.Is(err, domain.ErrNoVideoFound):
		return "Unable to download video and audio for " + reference
	case errors.Is(err, domain.ErrSkipped):
		return "Skipped " + reference + ": output already exists"
	default:
		return fmt.Sprintf("Failed %s (%s)", reference, domain.Kind(err))
	}
}

func finishMessage(s domain.Summary) string {
	if s.Total > 0 && s.Done == s.Total {
		return "All videos downloaded successfully."
	}
	return "Finished: " + s.String()
}
