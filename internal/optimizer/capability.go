package optimizer

import (
	"regexp"
	"strconv"
	"strings"
)

// Caps describes the image formats a client can decode.
type Caps struct {
	AVIF bool
	WebP bool
}

// Minimum major versions with AVIF decode support.
const (
	avifMinChrome  = 85
	avifMinFirefox = 93
	avifMinSafari  = 16
	avifMinEdge    = 122
)

var (
	chromeRe  = regexp.MustCompile(`Chrome/(\d+)`)
	firefoxRe = regexp.MustCompile(`Firefox/(\d+)`)
	safariRe  = regexp.MustCompile(`Version/(\d+)[.\d]* Safari/`)
	edgeRe    = regexp.MustCompile(`Edg/(\d+)`)
)

// DetectCaps determines client image capabilities. The Accept header is
// authoritative when it names image types; otherwise the User-Agent is
// sniffed.
func DetectCaps(accept, userAgent string) Caps {
	if strings.Contains(accept, "image/") {
		return Caps{
			AVIF: strings.Contains(accept, "image/avif"),
			WebP: strings.Contains(accept, "image/webp"),
		}
	}
	return sniffUserAgent(userAgent)
}

func sniffUserAgent(ua string) Caps {
	// IE and pre-Chromium Edge decode neither format.
	if strings.Contains(ua, "MSIE") || strings.Contains(ua, "Trident/") || strings.Contains(ua, "Edge/") {
		return Caps{}
	}

	caps := Caps{WebP: true}

	// Chromium Edge carries both Chrome/ and Edg/ tokens; check it first.
	if v, ok := majorVersion(edgeRe, ua); ok {
		caps.AVIF = v >= avifMinEdge
		return caps
	}
	if v, ok := majorVersion(chromeRe, ua); ok {
		caps.AVIF = v >= avifMinChrome
		return caps
	}
	if v, ok := majorVersion(firefoxRe, ua); ok {
		caps.AVIF = v >= avifMinFirefox
		return caps
	}
	if v, ok := majorVersion(safariRe, ua); ok {
		caps.AVIF = v >= avifMinSafari
		return caps
	}
	return caps
}

func majorVersion(re *regexp.Regexp, ua string) (int, bool) {
	m := re.FindStringSubmatch(ua)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}
