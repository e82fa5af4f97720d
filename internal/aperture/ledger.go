package aperture

import (
	"context"
	"fmt"

	"aperture/internal/model"
)

// ContentLedger persists one LocalEntry per (device, content key).
type ContentLedger struct {
	db    Database
	clock Clock
	idgen IDGenerator
}

func NewContentLedger(db Database, clock Clock, idgen IDGenerator) *ContentLedger {
	return &ContentLedger{db: db, clock: clock, idgen: idgen}
}

// Record inserts entry or overwrites the entry already at its content key.
// The content key is recomputed from the entry's path fields. An existing
// entry keeps its ID and RecordedAt. created reports whether a new entry was made.
func (l *ContentLedger) Record(ctx context.Context, entry *model.LocalEntry) (*model.LocalEntry, bool, error) {
	now := l.clock.Now().UTC()
	e := *entry
	e.ContentKey = ComputeContentKey(e.RelativePath, e.FileName)
	if e.ID == "" {
		e.ID = l.idgen.New()
	}
	e.RecordedAt = now
	e.UpdatedAt = now

	stored, created, err := l.db.UpsertEntry(ctx, &e)
	if err != nil {
		return nil, false, fmt.Errorf("recording entry: %w", err)
	}
	return stored, created, nil
}

// Find returns the entry of a device at a normalized path.
func (l *ContentLedger) Find(ctx context.Context, deviceID, relativePath, fileName string) (*model.LocalEntry, error) {
	key := ComputeContentKey(relativePath, fileName)
	entry, err := l.db.FindEntry(ctx, deviceID, key)
	if err != nil {
		return nil, fmt.Errorf("finding entry: %w", err)
	}
	if entry == nil {
		return nil, NewError(KindNotFound, fmt.Sprintf("no file %q in %q", fileName, displayDir(relativePath)))
	}
	return entry, nil
}

// List returns every entry of a device.
func (l *ContentLedger) List(ctx context.Context, deviceID string) ([]*model.LocalEntry, error) {
	entries, err := l.db.ListEntries(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

func displayDir(relativePath string) string {
	if relativePath == "" {
		return "/"
	}
	return relativePath
}
