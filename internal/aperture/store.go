package aperture

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by ContentStore when a location holds no object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object as reported by the backing store.
type ObjectInfo struct {
	Location   string
	Size       int64
	ModifiedAt time.Time
	AccessedAt time.Time
	CreatedAt  *time.Time
}

// ContentStore holds file bytes. Objects are written under a slash-separated
// key and addressed afterwards by the location the store reports for it.
// All operations stream; no implementation may require a whole object in memory.
type ContentStore interface {
	// Put streams r into the object at key, replacing any previous object only
	// once the new bytes are completely written.
	Put(ctx context.Context, key string, r io.Reader) (*ObjectInfo, error)

	// Open returns a reader for the object at location.
	// Returns ErrObjectNotFound when nothing is stored there.
	Open(ctx context.Context, location string) (io.ReadCloser, *ObjectInfo, error)

	// Stat returns fresh information about the object at location.
	// Returns ErrObjectNotFound when nothing is stored there.
	Stat(ctx context.Context, location string) (*ObjectInfo, error)
}

// Inspector derives content metadata from stored bytes.
type Inspector interface {
	// DetectMIME sniffs the media type from the start of r.
	DetectMIME(r io.Reader) (string, error)

	// IsImage reports whether a media type is eligible for a perceptual hash.
	IsImage(mimeType string) bool

	// PerceptualHash decodes an image from r and returns its compact fingerprint.
	PerceptualHash(r io.Reader) (string, error)
}
