// Package imageref validates and produces image references accepted by the
// upstream: absolute http(s) URLs and base64 data URIs.
package imageref

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrUnsupportedImage is returned for content that is not an accepted image type.
var ErrUnsupportedImage = errors.New("unsupported image type")

var supported = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// Sniff detects the MIME type of raw image bytes and rejects anything the
// upstream cannot read.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}
	detected := mimetype.Detect(data)
	if !mimetype.EqualsAny(detected.String(), supported...) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, detected.String())
	}
	return detected.String(), nil
}

// DataURI encodes data as a base64 data URI.
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Validate checks that ref is either an absolute http(s) URL or a well formed
// base64 data URI whose payload is an image.
func Validate(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return errors.New("image reference must not be empty")
	}
	if strings.HasPrefix(ref, "data:") {
		return validateDataURI(ref)
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("parse image url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("image url scheme %q must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("image url must include a host")
	}
	return nil
}

func validateDataURI(ref string) error {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return errors.New("data uri is missing the payload separator")
	}

	mime, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return errors.New("data uri must be base64 encoded")
	}
	if !strings.HasPrefix(mime, "image/") {
		return fmt.Errorf("%w: declared %q", ErrUnsupportedImage, mime)
	}
	if payload == "" {
		return errors.New("data uri payload is empty")
	}

	decoder := base64.NewDecoder(base64.StdEncoding, strings.NewReader(payload))
	detected, err := mimetype.DetectReader(decoder)
	if err != nil {
		return fmt.Errorf("decode data uri payload: %w", err)
	}
	if !mimetype.EqualsAny(detected.String(), supported...) {
		return fmt.Errorf("%w: payload is %s", ErrUnsupportedImage, detected.String())
	}
	// The remainder still has to be valid base64.
	if _, err := io.Copy(io.Discard, decoder); err != nil {
		return fmt.Errorf("decode data uri payload: %w", err)
	}
	return nil
}
