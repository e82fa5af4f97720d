package aperture

import (
	"context"
	"time"

	"aperture/internal/model"
)

// Database provides metadata storage for devices, credentials and ledger entries.
// Find methods return (nil, nil) when the record does not exist.
// Implementations must make create operations atomic per key and report a
// duplicate key as an *Error of KindConflict.
type Database interface {
	// Device operations

	// CreateDevice inserts a new device.
	CreateDevice(ctx context.Context, device *model.Device) error

	// CreateDeviceWithCredential inserts a device and its credential in one transaction.
	// Neither row is kept if either insert fails.
	CreateDeviceWithCredential(ctx context.Context, device *model.Device, cred *model.Credential) error

	// FindDevice returns a device by ID.
	FindDevice(ctx context.Context, deviceID string) (*model.Device, error)

	// UpdateDevice applies the non-nil fields of patch and returns the updated device.
	UpdateDevice(ctx context.Context, deviceID string, patch model.DevicePatch) (*model.Device, error)

	// TouchDevice sets the device's last sync time.
	TouchDevice(ctx context.Context, deviceID string, at time.Time) error

	// ListDevices returns all devices ordered by creation time.
	ListDevices(ctx context.Context) ([]*model.Device, error)

	// Credential operations

	// CreateCredential inserts the credential of an existing device.
	CreateCredential(ctx context.Context, cred *model.Credential) error

	// FindCredential returns the credential of a device.
	FindCredential(ctx context.Context, deviceID string) (*model.Credential, error)

	// Ledger operations

	// UpsertEntry inserts the entry, or overwrites the existing entry with the same
	// (DeviceID, ContentKey). The stored entry keeps its original ID and RecordedAt.
	// created reports whether a new row was inserted.
	UpsertEntry(ctx context.Context, entry *model.LocalEntry) (stored *model.LocalEntry, created bool, err error)

	// FindEntry returns the entry of a device at a content key.
	FindEntry(ctx context.Context, deviceID, contentKey string) (*model.LocalEntry, error)

	// ListEntries returns every entry of a device ordered by relative path and file name.
	ListEntries(ctx context.Context, deviceID string) ([]*model.LocalEntry, error)

	// Maintenance

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(ctx context.Context, destPath string) error

	// Close closes the database connection.
	Close() error
}
