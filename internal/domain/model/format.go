package model

import (
	"bytes"
	"path"
	"strings"
)

var imageExts = map[string]bool{
	"jpeg": true,
	"jpg":  true,
	"png":  true,
	"webp": true,
	"avif": true,
	"gif":  true,
}

var videoExts = map[string]bool{
	"mp4":  true,
	"mov":  true,
	"webm": true,
}

var contentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"avif": "image/avif",
	"gif":  "image/gif",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
}

// Ext returns the lowercased extension of p without the leading dot.
func Ext(p string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}

// IsImageExt reports whether ext names a supported image format.
func IsImageExt(ext string) bool {
	return imageExts[strings.ToLower(ext)]
}

// IsVideoExt reports whether ext names a supported video format.
func IsVideoExt(ext string) bool {
	return videoExts[strings.ToLower(ext)]
}

// IsImagePath reports whether p has a supported image extension.
func IsImagePath(p string) bool {
	return IsImageExt(Ext(p))
}

// IsVideoPath reports whether p has a supported video extension.
func IsVideoPath(p string) bool {
	return IsVideoExt(Ext(p))
}

// ContentTypeForExt maps a format extension to its MIME type.
// Unknown extensions map to application/octet-stream.
func ContentTypeForExt(ext string) string {
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// DetectExt infers the image format extension from magic bytes. A cached
// artifact can hold a different encoding than its key extension suggests, so
// callers serving stored bytes should trust the bytes. Unrecognized data
// falls back to the given extension.
func DetectExt(data []byte, fallback string) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "jpeg"
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return "png"
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "webp"
	case len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp")) &&
		(bytes.Equal(data[8:12], []byte("avif")) || bytes.Equal(data[8:12], []byte("avis"))):
		return "avif"
	}
	return fallback
}
