package transcoder

import (
	"context"

	"github.com/openinary/openinary/internal/domain/model"
)

// ProbeResult describes a video source as reported by the prober.
type ProbeResult struct {
	// Width and Height are the dimensions of the first video stream.
	Width  int
	Height int
	// Duration is the container duration in seconds.
	Duration float64
	// Codec is the video codec name (e.g. "h264").
	Codec string
	// Bitrate is the overall bitrate in bits per second, 0 when unknown.
	Bitrate int64
}

// Transcoder defines single-shot video transformation operations.
type Transcoder interface {
	// Transform reads the source at inputPath, applies the parameter record
	// (trim, resize, quality, or single-frame thumbnail extraction) and
	// writes the derived media to outputPath. The output container is
	// chosen from the outputPath extension.
	Transform(ctx context.Context, inputPath, outputPath string, params model.Params) error

	// Probe extracts dimensions, duration, codec and bitrate from the
	// source without transcoding it.
	Probe(ctx context.Context, inputPath string) (*ProbeResult, error)
}
