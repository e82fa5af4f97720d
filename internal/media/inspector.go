// Package media derives content metadata from stored file bytes.
package media

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/buckket/go-blurhash"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"aperture/internal/aperture"
)

const (
	gridSize    = 32
	xComponents = 4
	yComponents = 3
)

// hashable lists the media types with a registered image decoder.
var hashable = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Inspector detects media types and computes blurhash fingerprints.
type Inspector struct{}

func NewInspector() *Inspector {
	return &Inspector{}
}

// DetectMIME sniffs the media type from the leading bytes of r.
func (i *Inspector) DetectMIME(r io.Reader) (string, error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("detecting mime type: %w", err)
	}
	return mt.String(), nil
}

// IsImage reports whether mimeType can be decoded for a perceptual hash.
func (i *Inspector) IsImage(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	return hashable[strings.TrimSpace(strings.ToLower(base))]
}

// PerceptualHash decodes an image, downsamples it to a 32x32 grid and encodes
// a 4x3 component blurhash.
func (i *Inspector) PerceptualHash(r io.Reader) (string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return "", fmt.Errorf("decoding image: %w", err)
	}
	small := imaging.Resize(img, gridSize, gridSize, imaging.Lanczos)

	hash, err := blurhash.Encode(xComponents, yComponents, small)
	if err != nil {
		return "", fmt.Errorf("encoding blurhash: %w", err)
	}
	return hash, nil
}

var _ aperture.Inspector = (*Inspector)(nil)
