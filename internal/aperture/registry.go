package aperture

import (
	"context"
	"fmt"

	"aperture/internal/model"
)

// RegisterParams describes a device being paired.
type RegisterParams struct {
	DeviceID      string
	DisplayName   string
	IsGlobal      bool
	IsReadOnly    bool
	Platform      model.Platform
	RemoteAddress string
}

// DeviceRegistry persists device identity and metadata.
type DeviceRegistry struct {
	db    Database
	clock Clock
}

func NewDeviceRegistry(db Database, clock Clock) *DeviceRegistry {
	return &DeviceRegistry{db: db, clock: clock}
}

func (r *DeviceRegistry) newDevice(p RegisterParams) *model.Device {
	now := r.clock.Now().UTC()
	return &model.Device{
		ID:                p.DeviceID,
		DisplayName:       p.DisplayName,
		IsGlobal:          p.IsGlobal,
		IsReadOnly:        p.IsReadOnly,
		Platform:          p.Platform,
		CreatedAt:         now,
		LastSyncAt:        now,
		LastRemoteAddress: p.RemoteAddress,
	}
}

// Register creates a device. A duplicate ID fails with a ConflictError.
func (r *DeviceRegistry) Register(ctx context.Context, p RegisterParams) (*model.Device, error) {
	device := r.newDevice(p)
	if err := r.db.CreateDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("creating device: %w", err)
	}
	return device, nil
}

// RegisterWithCredential creates a device and its credential as one unit.
// On any failure neither is stored.
func (r *DeviceRegistry) RegisterWithCredential(ctx context.Context, p RegisterParams, cred *model.Credential) (*model.Device, error) {
	device := r.newDevice(p)
	cred.DeviceID = device.ID
	if err := r.db.CreateDeviceWithCredential(ctx, device, cred); err != nil {
		return nil, fmt.Errorf("creating device pair: %w", err)
	}
	return device, nil
}

// Lookup returns the device with the given ID.
func (r *DeviceRegistry) Lookup(ctx context.Context, deviceID string) (*model.Device, error) {
	device, err := r.db.FindDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("finding device: %w", err)
	}
	if device == nil {
		return nil, NewError(KindNotFound, fmt.Sprintf("device %q is not registered", deviceID))
	}
	return device, nil
}

// Patch applies the fields present in patch and leaves the rest untouched.
func (r *DeviceRegistry) Patch(ctx context.Context, deviceID string, patch model.DevicePatch) (*model.Device, error) {
	if patch.Empty() {
		return r.Lookup(ctx, deviceID)
	}
	device, err := r.db.UpdateDevice(ctx, deviceID, patch)
	if err != nil {
		return nil, fmt.Errorf("updating device: %w", err)
	}
	if device == nil {
		return nil, NewError(KindNotFound, fmt.Sprintf("device %q is not registered", deviceID))
	}
	return device, nil
}

// MarkSynced records a completed transfer at the current time.
func (r *DeviceRegistry) MarkSynced(ctx context.Context, deviceID string) error {
	if err := r.db.TouchDevice(ctx, deviceID, r.clock.Now().UTC()); err != nil {
		return fmt.Errorf("touching device: %w", err)
	}
	return nil
}

// List returns every registered device.
func (r *DeviceRegistry) List(ctx context.Context) ([]*model.Device, error) {
	devices, err := r.db.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}
