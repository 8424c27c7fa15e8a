package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CropMode is the resize fit policy applied by the optimizer and transcoder.
type CropMode string

const (
	CropFill  CropMode = "fill"
	CropFit   CropMode = "fit"
	CropScale CropMode = "scale"
	CropCrop  CropMode = "crop"
	CropPad   CropMode = "pad"
)

func (c CropMode) IsValid() bool {
	switch c {
	case CropFill, CropFit, CropScale, CropCrop, CropPad:
		return true
	default:
		return false
	}
}

// Gravity is the focal anchor used when cropping.
type Gravity string

const (
	GravityCenter Gravity = "center"
	GravityNorth  Gravity = "north"
	GravitySouth  Gravity = "south"
	GravityEast   Gravity = "east"
	GravityWest   Gravity = "west"
	GravityFace   Gravity = "face"
	GravityAuto   Gravity = "auto"
)

func (g Gravity) IsValid() bool {
	switch g {
	case GravityCenter, GravityNorth, GravitySouth, GravityEast, GravityWest, GravityFace, GravityAuto:
		return true
	default:
		return false
	}
}

// RotateAuto requests EXIF-based orientation correction.
const RotateAuto = "auto"

// Params is the typed transformation record parsed from the URL.
// Zero values mean "apply no such step".
type Params struct {
	Width  int
	Height int
	// Resize is the legacy "WxH" shorthand, populated when both extents are set.
	Resize        string
	Crop          CropMode
	Gravity       Gravity
	Aspect        string // "W:H"
	Rotate        string // degrees or "auto"
	Background    string // "#RRGGBB" or "transparent"
	Quality       int    // 1-100, 0 means encoder default
	Format        string // explicit output format
	StartOffset   float64
	EndOffset     float64
	Thumbnail     bool
	ThumbnailTime float64
}

// IsEmpty reports whether no transformation step is requested.
func (p Params) IsEmpty() bool {
	return len(p.Canonical()) == 0
}

// HasExplicitSize reports whether the user requested target extents.
func (p Params) HasExplicitSize() bool {
	return p.Width > 0 || p.Height > 0 || p.Resize != ""
}

// NormalizeFormat folds format aliases to their canonical spelling.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "jpg" {
		return "jpeg"
	}
	return f
}

// Canonical returns the parameter record as a map with default and empty
// values removed and format aliases folded. Two records describing the same
// observable transformation canonicalize identically.
func (p Params) Canonical() map[string]string {
	m := make(map[string]string)
	if p.Width > 0 {
		m["width"] = strconv.Itoa(p.Width)
	}
	if p.Height > 0 {
		m["height"] = strconv.Itoa(p.Height)
	}
	if p.Width > 0 && p.Height > 0 {
		m["resize"] = fmt.Sprintf("%dx%d", p.Width, p.Height)
	}
	if p.Crop != "" {
		m["crop"] = string(p.Crop)
	}
	if p.Gravity != "" && p.Gravity != GravityCenter {
		m["gravity"] = string(p.Gravity)
	}
	if p.Aspect != "" {
		m["aspect"] = p.Aspect
	}
	if p.Rotate != "" && p.Rotate != "0" {
		m["rotate"] = p.Rotate
	}
	if p.Background != "" {
		m["background"] = strings.ToLower(p.Background)
	}
	if p.Quality > 0 {
		m["quality"] = strconv.Itoa(p.Quality)
	}
	if p.Format != "" {
		m["format"] = NormalizeFormat(p.Format)
	}
	if p.StartOffset > 0 {
		m["startOffset"] = formatSeconds(p.StartOffset)
	}
	if p.EndOffset > 0 {
		m["endOffset"] = formatSeconds(p.EndOffset)
	}
	if p.Thumbnail {
		m["thumbnail"] = "true"
	}
	if p.ThumbnailTime > 0 {
		m["thumbnailTime"] = formatSeconds(p.ThumbnailTime)
	}
	return m
}

// CanonicalString serializes the canonical record as sorted key=value pairs.
// It is the stable textual form hashed into the fingerprint.
func (p Params) CanonicalString() string {
	m := p.Canonical()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(m[k])
	}
	return sb.String()
}

// NormalizedJSON serializes the canonical record as JSON with sorted keys.
// It is the representation used for the job uniqueness key; two logically
// identical requests must produce byte-identical output here.
func (p Params) NormalizedJSON() string {
	// encoding/json sorts map keys, which gives the stable ordering.
	data, err := json.Marshal(p.Canonical())
	if err != nil {
		// A map[string]string cannot fail to marshal.
		return "{}"
	}
	return string(data)
}

// ParamsFromNormalizedJSON rebuilds a Params record from its normalized JSON
// form, as stored on a job row.
func ParamsFromNormalizedJSON(data string) (Params, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return Params{}, fmt.Errorf("decode params: %w", err)
	}

	var p Params
	p.Width = atoiOr(m["width"], 0)
	p.Height = atoiOr(m["height"], 0)
	if p.Width > 0 && p.Height > 0 {
		p.Resize = fmt.Sprintf("%dx%d", p.Width, p.Height)
	}
	p.Crop = CropMode(m["crop"])
	p.Gravity = Gravity(m["gravity"])
	p.Aspect = m["aspect"]
	p.Rotate = m["rotate"]
	p.Background = m["background"]
	p.Quality = atoiOr(m["quality"], 0)
	p.Format = m["format"]
	p.StartOffset = atofOr(m["startOffset"], 0)
	p.EndOffset = atofOr(m["endOffset"], 0)
	p.Thumbnail = m["thumbnail"] == "true"
	p.ThumbnailTime = atofOr(m["thumbnailTime"], 0)
	return p, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func atofOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
