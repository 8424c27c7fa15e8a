// Package signature verifies HMAC-authenticated transform URLs of the
// form /s--<sig>/<transformations>/<path>.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// sigLength is the number of hex characters kept from the HMAC digest.
const sigLength = 16

var (
	// ErrInvalidSignature is returned when the presented signature does not
	// match the expected one.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrUnsafePath is returned when the signed path still contains
	// parent-directory references after normalization.
	ErrUnsafePath = errors.New("unsafe path in signed URL")
)

// Verifier checks truncated HMAC-SHA256 signatures over transform URLs.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign computes the truncated signature for a transformation string and a
// file path. Used by tests and by URL-minting helpers.
func (v *Verifier) Sign(transformations, filePath string) (string, error) {
	safe, err := sanitizePath(filePath)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(transformations + "/" + safe))
	return hex.EncodeToString(mac.Sum(nil))[:sigLength], nil
}

// Verify checks sig against the expected signature for the given
// transformation string and file path. The length check is eager; the
// comparison itself is constant time.
func (v *Verifier) Verify(sig, transformations, filePath string) error {
	if len(sig) != sigLength {
		return fmt.Errorf("%w: bad length", ErrInvalidSignature)
	}
	expected, err := v.Sign(transformations, filePath)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// sanitizePath normalizes separators and rejects any remaining
// parent-directory segment.
func sanitizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrUnsafePath
		}
	}
	return p, nil
}
