// Package transform implements the URL transformation grammar and the
// fingerprint keying of derived artifacts.
package transform

import (
	"errors"
	"strconv"
	"strings"

	"github.com/openinary/openinary/internal/domain/model"
)

// ErrEmptyPath is returned when the request path carries no original file path.
var ErrEmptyPath = errors.New("empty file path")

var cropAliases = map[string]model.CropMode{
	"fill":     model.CropFill,
	"lfill":    model.CropFill,
	"fit":      model.CropFit,
	"limit":    model.CropFit,
	"mfit":     model.CropFit,
	"scale":    model.CropScale,
	"crop":     model.CropCrop,
	"thumb":    model.CropCrop,
	"pad":      model.CropPad,
	"lpad":     model.CropPad,
	"fill_pad": model.CropPad,
}

var gravityAliases = map[string]model.Gravity{
	"center":      model.GravityCenter,
	"c":           model.GravityCenter,
	"north":       model.GravityNorth,
	"n":           model.GravityNorth,
	"south":       model.GravitySouth,
	"s":           model.GravitySouth,
	"east":        model.GravityEast,
	"e":           model.GravityEast,
	"west":        model.GravityWest,
	"w":           model.GravityWest,
	"face":        model.GravityFace,
	"faces":       model.GravityFace,
	"face_center": model.GravityFace,
	"auto":        model.GravityAuto,
}

// Parse interprets a request path of the form
//
//	/t/<directives>/<file path>   or   /t/<file path>
//
// where directives is a comma-separated list of key_value pairs. The first
// segment after the /t/ marker is treated as directives only when it has no
// extension and contains ',' or '_'; otherwise the whole remainder is the
// original file path. Unknown directives are silently ignored.
func Parse(urlPath string) (filePath string, params model.Params, err error) {
	p := strings.TrimPrefix(urlPath, "/")
	p = strings.TrimPrefix(p, "t/")
	p = strings.TrimPrefix(p, "/")

	segments := strings.Split(p, "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", model.Params{}, ErrEmptyPath
	}

	first := segments[0]
	if isDirectiveSegment(first) {
		params = parseDirectives(first)
		segments = segments[1:]
	}

	filePath = strings.Join(segments, "/")
	if filePath == "" {
		return "", model.Params{}, ErrEmptyPath
	}
	return filePath, params, nil
}

// Split separates the raw directive segment from the original file path
// without interpreting the directives. Signed URLs authenticate the raw
// transformation string, so the verifier needs it verbatim.
func Split(urlPath string) (directives, filePath string) {
	p := strings.TrimPrefix(urlPath, "/")
	p = strings.TrimPrefix(p, "t/")
	p = strings.TrimPrefix(p, "/")

	segments := strings.Split(p, "/")
	if len(segments) > 1 && isDirectiveSegment(segments[0]) {
		return segments[0], strings.Join(segments[1:], "/")
	}
	return "", p
}

// isDirectiveSegment reports whether seg encodes transformations rather than
// the first path component of the original file.
func isDirectiveSegment(seg string) bool {
	if strings.Contains(seg, ".") {
		return false
	}
	return strings.Contains(seg, ",") || strings.Contains(seg, "_")
}

func parseDirectives(seg string) model.Params {
	var p model.Params
	for _, directive := range strings.Split(seg, ",") {
		key, value, ok := strings.Cut(directive, "_")
		if !ok || value == "" {
			continue
		}
		applyDirective(&p, key, value)
	}
	if p.Width > 0 && p.Height > 0 {
		p.Resize = strconv.Itoa(p.Width) + "x" + strconv.Itoa(p.Height)
	}
	return p
}

func applyDirective(p *model.Params, key, value string) {
	switch key {
	case "w":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			p.Width = n
		}
	case "h":
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			p.Height = n
		}
	case "c":
		if mode, ok := cropAliases[strings.ToLower(value)]; ok {
			p.Crop = mode
		}
	case "g":
		if g, ok := gravityAliases[strings.ToLower(value)]; ok {
			p.Gravity = g
		}
	case "q":
		if n, err := strconv.Atoi(value); err == nil && n >= 1 && n <= 100 {
			p.Quality = n
		}
	case "f":
		p.Format = model.NormalizeFormat(value)
	case "a":
		if strings.EqualFold(value, model.RotateAuto) {
			p.Rotate = model.RotateAuto
		} else if _, err := strconv.ParseFloat(value, 64); err == nil {
			p.Rotate = value
		}
	case "ar":
		if isAspect(value) {
			p.Aspect = value
		}
	case "b", "bg":
		if bg, ok := parseBackground(value); ok {
			p.Background = bg
		}
	case "so":
		if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
			p.StartOffset = f
		}
	case "eo":
		if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
			p.EndOffset = f
		}
	case "t":
		p.Thumbnail = value == "true" || value == "1"
	case "tt":
		if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
			p.ThumbnailTime = f
		}
	}
}

func isAspect(value string) bool {
	w, h, ok := strings.Cut(value, ":")
	if !ok {
		return false
	}
	wn, err1 := strconv.ParseFloat(w, 64)
	hn, err2 := strconv.ParseFloat(h, 64)
	return err1 == nil && err2 == nil && wn > 0 && hn > 0
}

// parseBackground accepts the keywords transparent/white/black, an
// rgb:RRGGBB prefix, or a literal #RRGGBB value.
func parseBackground(value string) (string, bool) {
	v := strings.ToLower(value)
	switch v {
	case "transparent":
		return "transparent", true
	case "white":
		return "#ffffff", true
	case "black":
		return "#000000", true
	}
	if hex, ok := strings.CutPrefix(v, "rgb:"); ok {
		if isHexColor(hex) {
			return "#" + hex, true
		}
		return "", false
	}
	if hex, ok := strings.CutPrefix(v, "#"); ok && isHexColor(hex) {
		return "#" + hex, true
	}
	return "", false
}

func isHexColor(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
