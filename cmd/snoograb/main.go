package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"snoograb/internal/adapters/downloader"
	"snoograb/internal/adapters/ffmpeg"
	"snoograb/internal/adapters/localstorage"
	"snoograb/internal/adapters/reddit"
	"snoograb/internal/config"
	"snoograb/internal/core/domain"
	"snoograb/internal/core/ports"
	"snoograb/internal/service"
)

// errItemsFailed is returned when the batch finished but at least one item hit a
// hard failure. main turns it into exit status 1 without printing it again.
var errItemsFailed = errors.New("one or more items failed")

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, finishing current step and stopping...")
		cancel()
	}()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		if !errors.Is(err, errItemsFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "snoograb",
		Usage:     "download the video of Reddit posts with their audio muxed in",
		ArgsUsage: "[post URL or ID...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file (default $" + config.ConfigFileEnv + ")",
			},
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "file with one post reference per line, `-` for stdin",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "directory the videos are written to",
			},
			&cli.StringFlag{
				Name:  "overwrite",
				Usage: "what to do when a video already exists: ask, always or skip",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "number of posts processed at once",
			},
			&cli.BoolFlag{
				Name:  "concurrent-fetch",
				Usage: "download video and audio at the same time",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "timeout for each HTTP request",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "download chunk size in bytes",
			},
			&cli.StringFlag{
				Name:  "ffmpeg",
				Usage: "path to the ffmpeg binary",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn or error",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	// A missing .env is fine; the environment may already be set.
	envErr := godotenv.Load()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "snoograb",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: os.Stderr,
	})
	if envErr != nil {
		logger.Debug("no .env file loaded", "error", envErr)
	}

	refs, fromStdin, err := collectReferences(c)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		_ = cli.ShowAppHelp(c)
		return errors.New("no post references given")
	}

	overwrite, err := overwritePolicy(cfg.Overwrite, fromStdin)
	if err != nil {
		return err
	}

	userAgent := cfg.EffectiveUserAgent()
	lookup, err := reddit.NewClient(reddit.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Username:     cfg.Username,
		Password:     cfg.Password,
		UserAgent:    userAgent,
	}, cfg.RequestTimeout, logger.Named("reddit"))
	if err != nil {
		return fmt.Errorf("initializing reddit client: %w", err)
	}

	fetcher := downloader.NewHTTPDownloader(
		downloader.WithTimeout(cfg.RequestTimeout),
		downloader.WithChunkSize(cfg.ChunkSize),
		downloader.WithUserAgent(userAgent),
		downloader.WithLogger(logger.Named("downloader")),
	)
	muxer := ffmpeg.NewMuxer(cfg.FFmpegPath, logger.Named("ffmpeg"))

	snapshots := make(chan domain.ProgressSnapshot, 64)
	pipeline := service.NewPipeline(
		service.NewLocator(lookup),
		fetcher,
		muxer,
		localstorage.NewLocalStorage(),
		logger.Named("pipeline"),
		service.Options{
			Workers:         cfg.Workers,
			ConcurrentFetch: cfg.ConcurrentFetch,
			Overwrite:       overwrite,
			OnProgress:      service.ChannelObserver(snapshots),
		},
	)

	logger.Info("starting", "posts", len(refs), "output_dir", cfg.OutputDir, "ffmpeg", muxer.BinaryPath())

	type outcome struct {
		batch *domain.BatchResult
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		batch, err := pipeline.Run(c.Context, refs, cfg.OutputDir)
		done <- outcome{batch, err}
	}()

	bar := newProgressLine(os.Stdout)
	var result outcome
loop:
	for {
		select {
		case s := <-snapshots:
			bar.Render(s)
		case result = <-done:
			break loop
		}
	}
	for drained := false; !drained; {
		select {
		case s := <-snapshots:
			bar.Render(s)
		default:
			drained = true
		}
	}
	bar.Close()

	if result.err != nil {
		return result.err
	}
	printSummary(os.Stdout, result.batch)
	if result.batch.Summary.HasFailures() {
		return errItemsFailed
	}
	return nil
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("output") {
		cfg.OutputDir = c.String("output")
	}
	if c.IsSet("overwrite") {
		cfg.Overwrite = c.String("overwrite")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("concurrent-fetch") {
		cfg.ConcurrentFetch = c.Bool("concurrent-fetch")
	}
	if c.IsSet("timeout") {
		cfg.RequestTimeout = c.Duration("timeout")
	}
	if c.IsSet("chunk-size") {
		cfg.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("ffmpeg") {
		cfg.FFmpegPath = c.String("ffmpeg")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
}

// collectReferences merges positional arguments with the --input file. It reports
// whether stdin was consumed, since stdin then cannot answer prompts.
func collectReferences(c *cli.Context) ([]string, bool, error) {
	refs := append([]string(nil), c.Args().Slice()...)

	input := c.String("input")
	if input == "" {
		return refs, false, nil
	}

	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(filepath.Clean(input))
		if err != nil {
			return nil, false, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}
	fromFile, err := service.ReadReferences(r)
	if err != nil {
		return nil, false, err
	}
	return append(refs, fromFile...), input == "-", nil
}

func overwritePolicy(name string, stdinConsumed bool) (ports.OverwriteFunc, error) {
	mode, err := service.ParseOverwriteMode(name)
	if err != nil {
		return nil, err
	}
	switch mode {
	case service.OverwriteAlways:
		return service.AlwaysOverwrite, nil
	case service.OverwriteSkip:
		return service.NeverOverwrite, nil
	}
	if stdinConsumed {
		return service.NeverOverwrite, nil
	}
	return newPrompter(os.Stdin, os.Stderr).Confirm, nil
}

func printSummary(w io.Writer, batch *domain.BatchResult) {
	fmt.Fprintln(w, "\n=== Batch Summary ===")
	fmt.Fprintf(w, "Batch ID:     %s\n", batch.ID)
	fmt.Fprintf(w, "Output:       %s\n", batch.OutputDir)
	for _, item := range batch.Items {
		if item.Done() {
			fmt.Fprintf(w, "  ok    %s -> %s\n", item.Reference, item.OutputPath)
			continue
		}
		fmt.Fprintf(w, "  %-5s %s: %s\n", shortKind(item.Err), item.Reference, item.Reason())
	}
	fmt.Fprintf(w, "Result:       %s\n", batch.Summary)
	fmt.Fprintf(w, "Took:         %s\n", batch.CompletedAt.Sub(batch.StartedAt).Round(time.Millisecond))
}

func shortKind(err error) string {
	switch domain.Kind(err) {
	case domain.KindNoVideo:
		return "none"
	case domain.KindSkipped:
		return "skip"
	case domain.KindCancelled:
		return "stop"
	default:
		return "FAIL"
	}
}
