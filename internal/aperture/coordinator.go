package aperture

import (
	"context"
	"io"
	"strings"
	"time"

	"aperture/internal/model"
)

// Credentials identify and authenticate the calling device.
type Credentials struct {
	DeviceID string
	Secret   Secret
}

// PairRequest carries the fields of a pairing request.
// Platform accepts the tagged JSON form or the compact "android:14.0" form.
type PairRequest struct {
	Credentials
	DisplayName   string
	Platform      string
	IsGlobal      bool
	IsReadOnly    bool
	RemoteAddress string
}

// UploadRequest carries the fields of a push.
type UploadRequest struct {
	Credentials
	RelativePath string
	FileName     string
	DirPath      string
	ClientPath   string
}

// DownloadRequest carries the fields of a pull.
type DownloadRequest struct {
	Credentials
	RelativePath string
	FileName     string
}

// ModifyRequest carries the mutable device fields. Nil fields are left untouched.
type ModifyRequest struct {
	Credentials
	DisplayName   *string
	RemoteAddress *string
}

// SnapshotItem pairs a ledger entry with its stable identifier.
type SnapshotItem struct {
	EntryID string            `json:"entry_id"`
	Entry   *model.LocalEntry `json:"entry"`
}

// DeviceInfo is the read-only device view returned to the device itself.
type DeviceInfo struct {
	DeviceID    string    `json:"device_id"`
	DisplayName string    `json:"display_name"`
	LastSyncAt  time.Time `json:"last_sync_at"`
	IsGlobal    bool      `json:"is_global"`
}

// SyncCoordinator is the entry point of every device operation. It validates
// fields, authorizes the device and delegates to the components. It holds no
// per-request state.
type SyncCoordinator struct {
	registry    *DeviceRegistry
	credentials *CredentialStore
	ledger      *ContentLedger
	gateway     *TransferGateway
	events      *EventBus
	clock       Clock
	logger      Logger
}

func NewSyncCoordinator(registry *DeviceRegistry, credentials *CredentialStore, ledger *ContentLedger, gateway *TransferGateway, events *EventBus, clock Clock, logger Logger) *SyncCoordinator {
	return &SyncCoordinator{
		registry:    registry,
		credentials: credentials,
		ledger:      ledger,
		gateway:     gateway,
		events:      events,
		clock:       clock,
		logger:      logger,
	}
}

// Pair registers a device together with its credential.
func (c *SyncCoordinator) Pair(ctx context.Context, req PairRequest) (string, error) {
	if err := ValidateDeviceID(req.DeviceID); err != nil {
		return "", err
	}
	if req.Secret.Empty() {
		return "", validationErrorf("PIN is required")
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return "", validationErrorf("DeviceName is required")
	}
	if strings.TrimSpace(req.Platform) == "" {
		return "", validationErrorf("OS is required")
	}
	platform, err := model.ParsePlatform(req.Platform)
	if err != nil {
		return "", WrapError(KindValidation, "OS is not a recognized platform", err)
	}

	cred, err := c.credentials.Issue(req.DeviceID, req.Secret)
	if err != nil {
		return "", err
	}
	device, err := c.registry.RegisterWithCredential(ctx, RegisterParams{
		DeviceID:      req.DeviceID,
		DisplayName:   req.DisplayName,
		IsGlobal:      req.IsGlobal,
		IsReadOnly:    req.IsReadOnly,
		Platform:      platform,
		RemoteAddress: req.RemoteAddress,
	}, cred)
	if err != nil {
		return "", err
	}

	c.logger.Info("device paired",
		"device_id", device.ID,
		"platform", device.Platform.String(),
		"global", device.IsGlobal,
		"read_only", device.IsReadOnly)
	return device.ID, nil
}

// Authorize resolves the device and verifies its secret.
func (c *SyncCoordinator) Authorize(ctx context.Context, creds Credentials) (*model.Device, error) {
	if err := ValidateDeviceID(creds.DeviceID); err != nil {
		return nil, err
	}
	if creds.Secret.Empty() {
		return nil, validationErrorf("PIN is required")
	}

	device, err := c.registry.Lookup(ctx, creds.DeviceID)
	if err != nil {
		return nil, err
	}
	if _, err := c.credentials.Verify(ctx, creds.DeviceID, creds.Secret); err != nil {
		if KindOf(err) == KindAuth {
			c.logger.Warn("rejected secret", "device_id", creds.DeviceID)
		}
		return nil, err
	}
	return device, nil
}

// Push stores a file for an authorized, writable device.
func (c *SyncCoordinator) Push(ctx context.Context, req UploadRequest, body io.Reader) (*model.LocalEntry, error) {
	device, err := c.Authorize(ctx, req.Credentials)
	if err != nil {
		return nil, err
	}
	if device.IsReadOnly {
		return nil, NewError(KindAuth, "device is read-only")
	}

	entry, created, err := c.gateway.Push(ctx, PushRequest{
		DeviceID:     device.ID,
		RelativePath: req.RelativePath,
		FileName:     req.FileName,
		DirPath:      req.DirPath,
		ClientPath:   req.ClientPath,
	}, body)
	if err != nil {
		return nil, err
	}

	// The file is committed; a failed timestamp update is not a failed push.
	if err := c.registry.MarkSynced(ctx, device.ID); err != nil {
		c.logger.Warn("updating last sync time", "device_id", device.ID, "error", err)
	}

	evType := model.EventEntryUpdated
	if created {
		evType = model.EventEntryCreated
	}
	c.publish(model.Event{Type: evType, DeviceID: device.ID, EntryID: entry.ID, ContentKey: entry.ContentKey})
	return entry, nil
}

// Pull opens a previously pushed file.
func (c *SyncCoordinator) Pull(ctx context.Context, req DownloadRequest) (*PulledFile, error) {
	device, err := c.Authorize(ctx, req.Credentials)
	if err != nil {
		return nil, err
	}
	return c.gateway.Pull(ctx, device.ID, req.RelativePath, req.FileName)
}

// ModifyDevice applies a partial update to the caller's device.
func (c *SyncCoordinator) ModifyDevice(ctx context.Context, req ModifyRequest) (*model.Device, error) {
	device, err := c.Authorize(ctx, req.Credentials)
	if err != nil {
		return nil, err
	}

	patch := model.DevicePatch{DisplayName: req.DisplayName, LastRemoteAddress: req.RemoteAddress}
	if patch.DisplayName != nil && strings.TrimSpace(*patch.DisplayName) == "" {
		return nil, validationErrorf("DeviceName must not be empty")
	}
	if patch.Empty() {
		return device, nil
	}

	updated, err := c.registry.Patch(ctx, device.ID, patch)
	if err != nil {
		return nil, err
	}
	c.publish(model.Event{Type: model.EventDeviceUpdated, DeviceID: device.ID})
	return updated, nil
}

// Snapshot lists every ledger entry of the caller's device.
func (c *SyncCoordinator) Snapshot(ctx context.Context, creds Credentials) ([]SnapshotItem, error) {
	device, err := c.Authorize(ctx, creds)
	if err != nil {
		return nil, err
	}
	entries, err := c.ledger.List(ctx, device.ID)
	if err != nil {
		return nil, err
	}

	items := make([]SnapshotItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, SnapshotItem{EntryID: e.ID, Entry: e})
	}
	return items, nil
}

// DeviceInfo returns the caller's device metadata. It does not count as a sync.
func (c *SyncCoordinator) DeviceInfo(ctx context.Context, creds Credentials) (*DeviceInfo, error) {
	device, err := c.Authorize(ctx, creds)
	if err != nil {
		return nil, err
	}
	return &DeviceInfo{
		DeviceID:    device.ID,
		DisplayName: device.DisplayName,
		LastSyncAt:  device.LastSyncAt,
		IsGlobal:    device.IsGlobal,
	}, nil
}

// Watch subscribes the caller to the change events of its device.
// The caller closes the subscription.
func (c *SyncCoordinator) Watch(ctx context.Context, creds Credentials) (*Subscription, error) {
	device, err := c.Authorize(ctx, creds)
	if err != nil {
		return nil, err
	}
	if c.events == nil {
		return nil, NewError(KindStorage, "change notifications are disabled")
	}
	return c.events.Subscribe(device.ID), nil
}

func (c *SyncCoordinator) publish(ev model.Event) {
	if c.events == nil {
		return
	}
	ev.At = c.clock.Now().UTC()
	c.events.Publish(ev)
}
