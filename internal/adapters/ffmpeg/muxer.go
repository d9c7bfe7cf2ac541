package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/hashicorp/go-hclog"

	"snoograb/internal/core/domain"
	"snoograb/internal/core/ports"
)

const (
	// DefaultBinary is resolved through PATH.
	DefaultBinary = "ffmpeg"

	// LocalWindowsBinary is preferred when it sits in the working directory.
	LocalWindowsBinary = "ffmpeg.exe"

	VideoCodec   = "copy"
	AudioCodec   = "aac"
	Strictness   = "experimental"
	LogLevel     = "error"
	OverwriteArg = "-y"
)

// commandResult is the captured outcome of one process run.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner runs commands with an explicit argument vector; no shell is involved.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
	}
	return result, err
}

// Muxer implements ports.Muxer with the local ffmpeg binary.
type Muxer struct {
	binaryPath string
	runner     commandRunner
	logger     hclog.Logger
}

var _ ports.Muxer = (*Muxer)(nil)

// NewMuxer creates a muxer. An empty binaryPath selects a local ffmpeg.exe on
// Windows when one exists in the working directory and falls back to ffmpeg on PATH.
func NewMuxer(binaryPath string, logger hclog.Logger) *Muxer {
	if binaryPath == "" {
		binaryPath = defaultBinary(runtime.GOOS, fileExists)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Muxer{binaryPath: binaryPath, runner: execRunner{}, logger: logger}
}

// defaultBinary picks the ffmpeg to run when none is configured. The local path
// keeps its leading ./ so exec does not search PATH for it instead.
func defaultBinary(goos string, exists func(string) bool) string {
	if goos == "windows" && exists(LocalWindowsBinary) {
		return "." + string(filepath.Separator) + LocalWindowsBinary
	}
	return DefaultBinary
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// BinaryPath returns the ffmpeg executable the muxer invokes.
func (m *Muxer) BinaryPath() string {
	return m.binaryPath
}

// Combine copies the video stream and encodes the audio stream to AAC into
// outputPath, overwriting it. A non-zero exit is a *domain.MuxProcessError.
func (m *Muxer) Combine(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := BuildArgs(videoPath, audioPath, outputPath)
	m.logger.Debug("running ffmpeg", "binary", m.binaryPath, "args", args)

	result, err := m.runner.Run(ctx, m.binaryPath, args...)
	if err != nil {
		return &domain.MuxProcessError{
			Command:  m.binaryPath,
			Args:     args,
			ExitCode: result.ExitCode,
			Stderr:   strings.TrimSpace(result.Stderr),
			Err:      err,
		}
	}
	return nil
}

// BuildArgs builds the ffmpeg argument vector for one mux.
func BuildArgs(videoPath, audioPath, outputPath string) []string {
	return []string{
		OverwriteArg,
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", VideoCodec,
		"-c:a", AudioCodec,
		"-strict", Strictness,
		"-loglevel", LogLevel,
		outputPath,
	}
}
