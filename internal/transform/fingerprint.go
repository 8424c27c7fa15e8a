package transform

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/openinary/openinary/internal/domain/model"
)

// RemoteCachePrefix is the object-store prefix under which derived
// artifacts are stored.
const RemoteCachePrefix = "cache/"

// OriginalPrefix is the object-store prefix under which originals live.
const OriginalPrefix = "public/"

// MetadataOriginalPath is the custom metadata tag carrying the original
// path on every derived artifact, used for reverse lookup during
// invalidation.
const MetadataOriginalPath = "x-original-path"

// Fingerprint computes the stable 128-bit digest identifying a
// (original path, canonical parameter record) pair. MD5 is used for content
// keying only; this is not security-sensitive.
func Fingerprint(filePath string, params model.Params) string {
	sum := md5.Sum([]byte(filePath + "|" + params.CanonicalString()))
	return hex.EncodeToString(sum[:])
}

// OutputExt returns the extension of the derived artifact: the explicit
// output format when set, otherwise the original's extension.
func OutputExt(filePath string, params model.Params) string {
	if params.Thumbnail {
		// Single-frame extraction produces an image.
		if params.Format != "" && model.IsImageExt(params.Format) {
			return model.NormalizeFormat(params.Format)
		}
		return "jpeg"
	}
	if params.Format != "" {
		return model.NormalizeFormat(params.Format)
	}
	ext := model.Ext(filePath)
	return model.NormalizeFormat(ext)
}

// RemoteKey derives the object-store key of the derived artifact.
func RemoteKey(filePath string, params model.Params) string {
	return RemoteCachePrefix + Fingerprint(filePath, params) + "." + OutputExt(filePath, params)
}

// OriginalKey derives the object-store key of an original.
func OriginalKey(filePath string) string {
	return OriginalPrefix + strings.TrimPrefix(filePath, "/")
}

// SafeStem encodes an original path into a filesystem-safe stem. Every
// local cache file for that original embeds this stem, which is what the
// invalidator matches on.
func SafeStem(filePath string) string {
	var sb strings.Builder
	for _, r := range filePath {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// LocalName derives the local cache file name for a derived artifact. It
// contains the safe stem of the original (for invalidation scans) and the
// fingerprint (for content addressing).
func LocalName(filePath string, params model.Params) string {
	return SafeStem(filePath) + "-" + Fingerprint(filePath, params) + "." + OutputExt(filePath, params)
}
