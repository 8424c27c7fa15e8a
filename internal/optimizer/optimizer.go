// Package optimizer transforms images and selects the cheapest output
// encoding the client can decode.
package optimizer

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	"github.com/rwcarlsen/goexif/exif"

	// Decoder registrations for less common source formats.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/openinary/openinary/internal/domain/model"
)

const (
	// defaultQuality is applied when the request carries no quality hint.
	defaultQuality = 80

	// avifSpeed trades encode time for size; 8 keeps on-the-fly latency sane.
	avifSpeed = 8

	// preDownscaleBytes is the source size above which the image is scaled
	// down before candidate encoding.
	preDownscaleBytes = 5 << 20
)

// Pre-downscale caps by source kind. PNG sources are usually screenshots or
// text-heavy graphics that survive less downscaling than photographs.
const (
	capTextHeavy    = 2560
	capPhotographic = 1920
	capOther        = 1600
)

// ErrNotAnImage is returned when the source bytes do not decode as an image.
var ErrNotAnImage = errors.New("source is not a decodable image")

// Result is the outcome of one optimization run.
type Result struct {
	Data          []byte
	Format        string
	Width         int
	Height        int
	OriginalSize  int64
	OptimizedSize int64
}

// SavingsPercent returns how many percent smaller the output is than the
// source. Negative when the output grew.
func (r *Result) SavingsPercent() float64 {
	if r.OriginalSize == 0 {
		return 0
	}
	return (1 - float64(r.OptimizedSize)/float64(r.OriginalSize)) * 100
}

// CompressionRatio returns original size over optimized size.
func (r *Result) CompressionRatio() float64 {
	if r.OptimizedSize == 0 {
		return 0
	}
	return float64(r.OriginalSize) / float64(r.OptimizedSize)
}

// PickFormat returns the format the optimizer prefers for a source extension
// and client capability, without encoding anything. The transformation cache
// key embeds this choice.
func PickFormat(srcExt string, caps Caps) string {
	switch {
	case caps.AVIF:
		return "avif"
	case caps.WebP:
		return "webp"
	case model.NormalizeFormat(srcExt) == "png":
		return "png"
	default:
		return "jpeg"
	}
}

// Optimize applies the transformation chain to src and encodes the result in
// the cheapest acceptable format. When params.Format is set it is used
// verbatim; otherwise candidates derived from caps are all encoded and the
// smallest wins.
func Optimize(src []byte, params model.Params, caps Caps) (*Result, error) {
	img, srcFormat, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}

	if len(src) > preDownscaleBytes {
		img = preDownscale(img, srcFormat)
	}

	img = applyAspect(img, params)
	img = applyRotate(img, params, src)
	img = applyResize(img, params)

	quality := params.Quality
	if quality <= 0 {
		quality = defaultQuality
	}

	var candidates []string
	if params.Format != "" {
		candidates = []string{model.NormalizeFormat(params.Format)}
	} else {
		candidates = candidateFormats(srcFormat, caps, hasAlpha(img))
	}

	data, format, err := encodeSmallest(img, candidates, quality)
	if err != nil {
		// Last resort: JPEG at default quality.
		data, err = encodeFormat(img, "jpeg", defaultQuality)
		if err != nil {
			return nil, fmt.Errorf("encode fallback jpeg: %w", err)
		}
		format = "jpeg"
	}

	bounds := img.Bounds()
	return &Result{
		Data:          data,
		Format:        format,
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		OriginalSize:  int64(len(src)),
		OptimizedSize: int64(len(data)),
	}, nil
}

// candidateFormats builds the ordered candidate set for adaptive selection.
func candidateFormats(srcFormat string, caps Caps, alpha bool) []string {
	srcPNG := srcFormat == "png"
	switch {
	case caps.AVIF:
		c := []string{"avif", "webp", "jpeg"}
		if srcPNG {
			c = append(c, "png")
		}
		return c
	case caps.WebP:
		c := []string{"webp", "jpeg"}
		if srcPNG {
			c = append(c, "png")
		}
		return c
	default:
		if srcPNG && alpha {
			return []string{"png"}
		}
		return []string{"jpeg"}
	}
}

// encodeSmallest encodes every candidate and returns the smallest output.
// Failing candidates are skipped; an error is returned only when all fail.
func encodeSmallest(img image.Image, candidates []string, quality int) ([]byte, string, error) {
	var (
		best       []byte
		bestFormat string
	)
	for _, format := range candidates {
		data, err := encodeFormat(img, format, quality)
		if err != nil {
			continue
		}
		if best == nil || len(data) < len(best) {
			best = data
			bestFormat = format
		}
	}
	if best == nil {
		return nil, "", errors.New("no candidate format encoded successfully")
	}
	return best, bestFormat, nil
}

func encodeFormat(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	case "webp":
		if err := webp.Encode(&buf, img, webp.Options{Quality: quality}); err != nil {
			return nil, err
		}
	case "avif":
		if err := avif.Encode(&buf, img, avif.Options{Quality: quality, Speed: avifSpeed}); err != nil {
			return nil, err
		}
	case "gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	return buf.Bytes(), nil
}

// preDownscale bounds very large sources before candidate encoding.
func preDownscale(img image.Image, srcFormat string) image.Image {
	limit := capOther
	switch srcFormat {
	case "png":
		limit = capTextHeavy
	case "jpeg":
		limit = capPhotographic
	}
	b := img.Bounds()
	if b.Dx() <= limit && b.Dy() <= limit {
		return img
	}
	return imaging.Fit(img, limit, limit, imaging.Lanczos)
}

// applyAspect center-crops to the requested ratio when the current ratio is
// off by more than 0.01, anchored by gravity.
func applyAspect(img image.Image, params model.Params) image.Image {
	ratio, ok := parseAspect(params.Aspect)
	if !ok {
		return img
	}

	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	if h == 0 || math.Abs(w/h-ratio) <= 0.01 {
		return img
	}

	cropW, cropH := b.Dx(), b.Dy()
	if w/h > ratio {
		cropW = int(h * ratio)
	} else {
		cropH = int(w / ratio)
	}
	return imaging.CropAnchor(img, cropW, cropH, anchorFor(params.Gravity))
}

func applyRotate(img image.Image, params model.Params, src []byte) image.Image {
	switch params.Rotate {
	case "", "0":
		return img
	case model.RotateAuto:
		return applyOrientation(img, exifOrientation(src))
	}

	angle, err := strconv.ParseFloat(params.Rotate, 64)
	if err != nil {
		return img
	}
	// imaging rotates counter-clockwise; the directive is clockwise.
	return imaging.Rotate(img, -angle, backgroundColor(params.Background))
}

func applyResize(img image.Image, params model.Params) image.Image {
	w, h := params.Width, params.Height
	if w <= 0 && h <= 0 {
		return img
	}

	crop := params.Crop
	if crop == "" {
		crop = model.CropFill
	}

	switch crop {
	case model.CropFill, model.CropCrop:
		if w > 0 && h > 0 {
			return imaging.Fill(img, w, h, anchorFor(params.Gravity), imaging.Lanczos)
		}
		return imaging.Resize(img, max(w, 0), max(h, 0), imaging.Lanczos)
	case model.CropFit:
		bw, bh := boundExtents(img, w, h)
		return imaging.Fit(img, bw, bh, imaging.Lanczos)
	case model.CropScale:
		return imaging.Resize(img, max(w, 0), max(h, 0), imaging.Lanczos)
	case model.CropPad:
		bw, bh := boundExtents(img, w, h)
		fitted := imaging.Fit(img, bw, bh, imaging.Lanczos)
		if w <= 0 {
			w = fitted.Bounds().Dx()
		}
		if h <= 0 {
			h = fitted.Bounds().Dy()
		}
		canvas := imaging.New(w, h, backgroundColor(params.Background))
		return imaging.PasteCenter(canvas, fitted)
	default:
		return imaging.Resize(img, max(w, 0), max(h, 0), imaging.Lanczos)
	}
}

// boundExtents substitutes the source extent for a missing target extent so
// that aspect-preserving fits stay single-constraint.
func boundExtents(img image.Image, w, h int) (int, int) {
	b := img.Bounds()
	if w <= 0 {
		w = b.Dx()
	}
	if h <= 0 {
		h = b.Dy()
	}
	return w, h
}

func parseAspect(aspect string) (float64, bool) {
	if aspect == "" {
		return 0, false
	}
	parts := strings.SplitN(aspect, ":", 2)
	if len(parts) != 2 {
		// Plain decimal ratio.
		r, err := strconv.ParseFloat(aspect, 64)
		return r, err == nil && r > 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || num <= 0 || den <= 0 {
		return 0, false
	}
	return num / den, true
}

func anchorFor(g model.Gravity) imaging.Anchor {
	switch g {
	case model.GravityNorth:
		return imaging.Top
	case model.GravitySouth:
		return imaging.Bottom
	case model.GravityEast:
		return imaging.Right
	case model.GravityWest:
		return imaging.Left
	default:
		// face and auto degrade to center without a detector.
		return imaging.Center
	}
}

func backgroundColor(bg string) color.Color {
	switch bg {
	case "":
		return color.NRGBA{255, 255, 255, 255}
	case "transparent":
		return color.NRGBA{}
	}
	hex := strings.TrimPrefix(bg, "#")
	if len(hex) != 6 {
		return color.NRGBA{255, 255, 255, 255}
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{255, 255, 255, 255}
	}
	return color.NRGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 255}
}

// exifOrientation reads the EXIF orientation tag, defaulting to 1 (upright).
func exifOrientation(src []byte) int {
	x, err := exif.Decode(bytes.NewReader(src))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil {
		return 1
	}
	return o
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// hasAlpha reports whether the image carries any transparency.
func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a < 0xffff {
				return true
			}
		}
	}
	return false
}
