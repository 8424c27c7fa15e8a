package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/openinary/openinary/internal/domain/model"
)

const (
	// defaultQuality maps to CRF 31 through crfFor.
	defaultQuality = 60

	// autoMaxWidth and autoMaxHeight bound the auto-downscale applied when
	// the request carries no explicit size.
	autoMaxWidth  = 1280
	autoMaxHeight = 720

	// wideSourceWarnPx is the width at which a probe logs a warning.
	wideSourceWarnPx = 3000

	// stderrTailBytes is how much ffmpeg stderr is kept for diagnostics.
	stderrTailBytes = 2048
)

// ErrSourceTooLarge is returned by the pre-flight size check.
var ErrSourceTooLarge = errors.New("video source exceeds size ceiling")

// FFmpegConfig holds configuration for the FFmpeg transcoder.
type FFmpegConfig struct {
	// FFmpegPath is the path to the ffmpeg binary.
	// If empty, "ffmpeg" will be used (assumes it's in PATH).
	FFmpegPath string

	// FFprobePath is the path to the ffprobe binary.
	// If empty, "ffprobe" will be used.
	FFprobePath string

	// MaxSourceBytes rejects sources above this size before any work.
	// Default: 200 MiB.
	MaxSourceBytes int64

	// Timeout bounds a single transformation; the child process is killed
	// when it elapses. Default: 5 minutes.
	Timeout time.Duration

	// Threads is the encoder threading hint. Default: 4.
	Threads int
}

// DefaultFFmpegConfig returns an FFmpegConfig with production-ready defaults.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		MaxSourceBytes: 200 << 20,
		Timeout:        5 * time.Minute,
		Threads:        4,
	}
}

// FFmpegTranscoder implements Transcoder using the FFmpeg CLI.
type FFmpegTranscoder struct {
	config FFmpegConfig
}

// Compile-time verification that FFmpegTranscoder implements Transcoder.
var _ Transcoder = (*FFmpegTranscoder)(nil)

// NewFFmpegTranscoder creates a new FFmpeg-based transcoder.
func NewFFmpegTranscoder(cfg FFmpegConfig) *FFmpegTranscoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 200 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	return &FFmpegTranscoder{config: cfg}
}

// Transform runs one ffmpeg invocation producing outputPath from inputPath.
func (t *FFmpegTranscoder) Transform(ctx context.Context, inputPath, outputPath string, params model.Params) error {
	if err := t.validateInput(inputPath); err != nil {
		return err
	}

	if probe, err := t.Probe(ctx, inputPath); err != nil {
		slog.Warn("source probe failed, continuing", "input", inputPath, "error", err)
	} else if probe.Width >= wideSourceWarnPx {
		slog.Warn("very wide video source",
			"input", inputPath,
			"width", probe.Width,
			"height", probe.Height,
		)
	}

	args := t.buildArgs(inputPath, outputPath, params)

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.config.FFmpegPath, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("transcoding timed out after %s", t.config.Timeout)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("transcoding cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, stderrTail(stderr.Bytes()))
	}
	return nil
}

// Probe runs ffprobe and parses its JSON output.
func (t *FFmpegTranscoder) Probe(ctx context.Context, inputPath string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,codec_name",
		"-show_entries", "format=duration,bit_rate",
		"-of", "json",
		inputPath,
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, t.config.FFprobePath, args...)
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe execution failed: %w", err)
	}

	var out struct {
		Streams []struct {
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			CodecName string `json:"codec_name"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
			BitRate  string `json:"bit_rate"`
		} `json:"format"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return nil, errors.New("no video stream found")
	}

	result := &ProbeResult{
		Width:  out.Streams[0].Width,
		Height: out.Streams[0].Height,
		Codec:  out.Streams[0].CodecName,
	}
	result.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	result.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	return result, nil
}

// validateInput checks existence and the size ceiling before any work.
func (t *FFmpegTranscoder) validateInput(inputPath string) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", inputPath)
		}
		return fmt.Errorf("failed to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path is a directory, expected a file: %s", inputPath)
	}
	if info.Size() > t.config.MaxSourceBytes {
		return fmt.Errorf("%w: %d bytes (ceiling %d)", ErrSourceTooLarge, info.Size(), t.config.MaxSourceBytes)
	}
	return nil
}

// buildArgs composes the ffmpeg command line for one transformation.
func (t *FFmpegTranscoder) buildArgs(inputPath, outputPath string, params model.Params) []string {
	var args []string

	if params.Thumbnail {
		seek := math.Max(math.Max(params.ThumbnailTime, params.StartOffset), 0)
		args = append(args, "-ss", formatSeconds(seek), "-i", inputPath, "-frames:v", "1")
		if filter := resizeFilter(params); filter != "" {
			args = append(args, "-vf", filter)
		}
		args = append(args, thumbnailQualityArgs(outputPath, params.Quality)...)
		args = append(args, "-y", outputPath)
		return args
	}

	if params.StartOffset > 0 {
		args = append(args, "-ss", formatSeconds(params.StartOffset))
	}
	args = append(args, "-i", inputPath)
	if params.EndOffset > 0 {
		duration := params.EndOffset
		if params.StartOffset > 0 {
			duration = params.EndOffset - params.StartOffset
		}
		args = append(args, "-t", formatSeconds(duration))
	}

	if filter := videoFilter(params); filter != "" {
		args = append(args, "-vf", filter)
	}

	quality := params.Quality
	if quality <= 0 {
		quality = defaultQuality
	}
	args = append(args,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(crfFor(quality)),
		"-preset", "ultrafast",
		"-tune", "fastdecode",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-c:a", "copy",
		"-threads", strconv.Itoa(t.config.Threads),
		"-movflags", "+faststart",
		"-max_muxing_queue_size", "1024",
		"-y", outputPath,
	)
	return args
}

// videoFilter picks between the explicit-size filter and the auto-downscale.
func videoFilter(params model.Params) string {
	if params.HasExplicitSize() {
		return resizeFilter(params)
	}
	// Keep both dimensions within 1280x720 without upscaling; even
	// dimensions are required by the baseline profile.
	return fmt.Sprintf(
		"scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2",
		autoMaxWidth, autoMaxHeight,
	)
}

// resizeFilter builds the scale/crop filter for explicit target extents.
func resizeFilter(params model.Params) string {
	w, h := params.Width, params.Height
	if w <= 0 && h <= 0 {
		return ""
	}
	if w <= 0 {
		return fmt.Sprintf("scale=-2:%d", h)
	}
	if h <= 0 {
		return fmt.Sprintf("scale=%d:-2", w)
	}

	switch params.Crop {
	case model.CropFill, model.CropCrop:
		// Scale until the smaller side meets the target, then center-crop.
		return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", w, h, w, h)
	default:
		// Exact size; may stretch.
		return fmt.Sprintf("scale=%d:%d", w, h)
	}
}

// thumbnailQualityArgs selects the still-image encoder settings from the
// output extension.
func thumbnailQualityArgs(outputPath string, quality int) []string {
	if quality <= 0 {
		quality = 80
	}
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(outputPath), ".")) {
	case "webp":
		return []string{"-c:v", "libwebp", "-quality", strconv.Itoa(quality)}
	case "png":
		return nil
	default:
		// mjpeg qscale runs 2 (best) to 31 (worst).
		qv := 2 + (100-quality)*29/100
		return []string{"-q:v", strconv.Itoa(qv)}
	}
}

// crfFor maps quality 0-100 linearly onto CRF 51-18.
func crfFor(quality int) int {
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}
	return int(math.Round(51 - float64(quality)*33/100))
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func stderrTail(b []byte) string {
	if len(b) > stderrTailBytes {
		b = b[len(b)-stderrTailBytes:]
	}
	return strings.TrimSpace(string(b))
}
