package aperture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"aperture/internal/model"
)

// PushRequest names the file a device is uploading.
type PushRequest struct {
	DeviceID     string
	RelativePath string
	FileName     string
	DirPath      string
	ClientPath   string
}

// PulledFile is a stored file opened for download. The caller closes Body.
type PulledFile struct {
	Entry *model.LocalEntry
	Body  io.ReadCloser
	Size  int64
}

// TransferOption configures a TransferGateway.
type TransferOption func(*TransferGateway)

// WithIgnore rejects pushes whose path matches m.
func WithIgnore(m IgnoreMatcher) TransferOption {
	return func(g *TransferGateway) { g.ignore = m }
}

// WithPerceptualHash enables or disables image fingerprints.
func WithPerceptualHash(enabled bool) TransferOption {
	return func(g *TransferGateway) { g.perceptualHash = enabled }
}

// TransferGateway streams file bytes to and from the content store and keeps
// the ledger in step with them.
type TransferGateway struct {
	ledger         *ContentLedger
	store          ContentStore
	inspector      Inspector
	logger         Logger
	ignore         IgnoreMatcher
	perceptualHash bool
	locks          keyedMutex
}

func NewTransferGateway(ledger *ContentLedger, store ContentStore, inspector Inspector, logger Logger, opts ...TransferOption) *TransferGateway {
	g := &TransferGateway{
		ledger:         ledger,
		store:          store,
		inspector:      inspector,
		logger:         logger,
		perceptualHash: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Push stores body at the request's path and records it in the ledger.
// Pushes to the same device path are serialized. created reports whether the
// ledger gained a new entry.
func (g *TransferGateway) Push(ctx context.Context, req PushRequest, body io.Reader) (*model.LocalEntry, bool, error) {
	rel, err := NormalizeRelativePath(req.RelativePath)
	if err != nil {
		return nil, false, err
	}
	if err := ValidateFileName(req.FileName); err != nil {
		return nil, false, err
	}
	if g.ignore != nil && g.ignore.Match(path.Join(rel, req.FileName)) {
		return nil, false, validationErrorf("file %q matches an ignore pattern", path.Join(rel, req.FileName))
	}

	key := ComputeContentKey(rel, req.FileName)
	unlock := g.locks.Lock(req.DeviceID + "/" + key)
	defer unlock()

	info, err := g.store.Put(ctx, storageKey(req.DeviceID, rel, req.FileName), body)
	if err != nil {
		return nil, false, storageError("writing file", err)
	}

	entry := &model.LocalEntry{
		DeviceID:        req.DeviceID,
		FileName:        req.FileName,
		RelativePath:    rel,
		DirPath:         req.DirPath,
		ClientPath:      req.ClientPath,
		ByteSize:        info.Size,
		StorageLocation: info.Location,
		Metadata: model.FileMetadata{
			ModifiedAt: info.ModifiedAt.UTC(),
			AccessedAt: info.AccessedAt.UTC(),
			CreatedAt:  info.CreatedAt,
			Size:       info.Size,
		},
	}
	g.inspect(ctx, entry)

	stored, created, err := g.ledger.Record(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	g.logger.Debug("file stored",
		"device_id", req.DeviceID,
		"content_key", key,
		"size", info.Size,
		"created", created)
	return stored, created, nil
}

// inspect fills the MIME type and perceptual hash from the stored bytes.
// Inspection failures leave the fields empty; the push still succeeds.
func (g *TransferGateway) inspect(ctx context.Context, entry *model.LocalEntry) {
	if g.inspector == nil {
		return
	}
	log := With(g.logger, "device_id", entry.DeviceID, "location", entry.StorageLocation)

	mimeType, err := g.readStored(ctx, entry.StorageLocation, g.inspector.DetectMIME)
	if err != nil {
		log.Warn("detecting mime type", "error", err)
		return
	}
	entry.MimeType = &mimeType

	if !g.perceptualHash || !g.inspector.IsImage(mimeType) {
		return
	}
	hash, err := g.readStored(ctx, entry.StorageLocation, g.inspector.PerceptualHash)
	if err != nil {
		log.Warn("computing perceptual hash", "error", err)
		return
	}
	entry.PerceptualHash = &hash
}

func (g *TransferGateway) readStored(ctx context.Context, location string, fn func(io.Reader) (string, error)) (string, error) {
	rc, _, err := g.store.Open(ctx, location)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return fn(rc)
}

// Pull opens the stored bytes of a device file.
func (g *TransferGateway) Pull(ctx context.Context, deviceID, relativePath, fileName string) (*PulledFile, error) {
	rel, err := NormalizeRelativePath(relativePath)
	if err != nil {
		return nil, err
	}
	if err := ValidateFileName(fileName); err != nil {
		return nil, err
	}

	entry, err := g.ledger.Find(ctx, deviceID, rel, fileName)
	if err != nil {
		return nil, err
	}

	rc, info, err := g.store.Open(ctx, entry.StorageLocation)
	if errors.Is(err, ErrObjectNotFound) {
		g.logger.Error("ledger entry has no stored file",
			"device_id", deviceID,
			"entry_id", entry.ID,
			"location", entry.StorageLocation)
		return nil, WrapError(KindIntegrity, "stored file for this entry is missing", err)
	}
	if err != nil {
		return nil, storageError("opening file", fmt.Errorf("opening %s: %w", entry.StorageLocation, err))
	}
	return &PulledFile{Entry: entry, Body: rc, Size: info.Size}, nil
}

// keyedMutex serializes work per key. Idle keys are released.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
