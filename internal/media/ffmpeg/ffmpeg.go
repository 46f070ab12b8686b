// Package ffmpeg analyzes downloaded videos with the ffprobe and ffmpeg
// binaries and renders thumbnails with imaging.
package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/kktae/veo-dashboard-sub000/internal/media"
)

const (
	DefaultThumbnailWidth = 640
	thumbnailQuality      = 85
	waitDelay             = 2 * time.Second
)

type Config struct {
	FFmpegPath     string
	FFprobePath    string
	ThumbnailWidth int
}

type Analyzer struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = DefaultThumbnailWidth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{cfg: cfg, logger: logger.Named("ffmpeg")}
}

// Probe is the subset of ffprobe's JSON output we read.
type Probe struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Analyze probes videoPath and writes a thumbnail taken at the midpoint.
// A failed frame grab is logged and reported through ThumbnailWritten.
func (a *Analyzer) Analyze(ctx context.Context, videoPath, thumbnailPath string) (*media.Analysis, error) {
	probe, err := a.probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	analysis := &media.Analysis{}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			analysis.DurationSeconds = d
		}
	}
	for _, s := range probe.Streams {
		if s.CodecType == "video" {
			analysis.Width = s.Width
			analysis.Height = s.Height
			analysis.Codec = s.CodecName
			break
		}
	}

	if err := a.thumbnail(ctx, videoPath, thumbnailPath, analysis.DurationSeconds/2); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("thumbnail extraction failed", zap.String("video", videoPath), zap.Error(err))
		return analysis, nil
	}
	analysis.ThumbnailWritten = true
	return analysis, nil
}

func (a *Analyzer) probe(ctx context.Context, videoPath string) (*Probe, error) {
	cmd := exec.CommandContext(ctx, a.cfg.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	cmd.WaitDelay = waitDelay
	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("ffprobe failed: %s", msg)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe Probe
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("invalid ffprobe output: %w", err)
	}
	return &probe, nil
}

func (a *Analyzer) thumbnail(ctx context.Context, videoPath, thumbnailPath string, at float64) error {
	framePath := thumbnailPath + ".frame.png"
	defer os.Remove(framePath)

	if err := a.extractFrame(ctx, videoPath, framePath, at); err != nil {
		return err
	}

	img, err := imaging.Open(framePath)
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	if img.Bounds().Dx() > a.cfg.ThumbnailWidth {
		img = imaging.Resize(img, a.cfg.ThumbnailWidth, 0, imaging.Lanczos)
	}
	if err := imaging.Save(img, thumbnailPath, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return nil
}

func (a *Analyzer) extractFrame(ctx context.Context, videoPath, framePath string, at float64) error {
	if at < 0 {
		at = 0
	}
	cmd := exec.CommandContext(ctx, a.cfg.FFmpegPath,
		"-y",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-progress", "pipe:1",
		"-nostats",
		framePath,
	)
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	finished := false
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "progress=end" {
			finished = true
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := lastLine(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg failed: %s", msg)
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	if !finished {
		a.logger.Debug("ffmpeg exited without a final progress report", zap.String("video", videoPath))
	}
	if info, err := os.Stat(framePath); err != nil || info.Size() == 0 {
		return errors.New("ffmpeg produced no frame")
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
