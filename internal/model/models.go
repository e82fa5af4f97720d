package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Device is a paired device. ID is supplied by the device and never changes.
type Device struct {
	ID                string    `json:"device_id"`
	DisplayName       string    `json:"display_name"`
	IsGlobal          bool      `json:"is_global"`
	IsReadOnly        bool      `json:"is_read_only"`
	Platform          Platform  `json:"platform"`
	CreatedAt         time.Time `json:"created_at"`
	LastSyncAt        time.Time `json:"last_sync_at"`
	LastRemoteAddress string    `json:"last_remote_address"`
}

// DevicePatch carries the mutable device fields. Nil fields are left untouched.
type DevicePatch struct {
	DisplayName       *string
	LastRemoteAddress *string
}

// Empty reports whether the patch changes nothing.
func (p DevicePatch) Empty() bool {
	return p.DisplayName == nil && p.LastRemoteAddress == nil
}

// PlatformKind identifies the operating system family of a device.
type PlatformKind string

const (
	PlatformAndroid PlatformKind = "Android"
	PlatformIOS     PlatformKind = "IOS"
	PlatformWindows PlatformKind = "Windows"
)

// Platform is a tagged variant: Android(version), IOS(version) or Windows(build).
// Android and IOS versions are decimal numbers; Windows builds are free-form.
type Platform struct {
	Kind    PlatformKind
	Version string
}

// Validate checks the variant tag and its payload.
func (p Platform) Validate() error {
	switch p.Kind {
	case PlatformAndroid, PlatformIOS:
		if _, err := strconv.ParseFloat(p.Version, 64); err != nil {
			return fmt.Errorf("%s version must be numeric, got %q", p.Kind, p.Version)
		}
	case PlatformWindows:
		if strings.TrimSpace(p.Version) == "" {
			return fmt.Errorf("windows build must not be empty")
		}
	default:
		return fmt.Errorf("unknown platform %q", p.Kind)
	}
	return nil
}

func (p Platform) String() string {
	return string(p.Kind) + "(" + p.Version + ")"
}

// MarshalJSON encodes the platform in externally tagged form, e.g. {"Android":14.0}.
func (p Platform) MarshalJSON() ([]byte, error) {
	if p.Kind == PlatformWindows {
		return json.Marshal(map[string]string{string(p.Kind): p.Version})
	}
	v, err := strconv.ParseFloat(p.Version, 64)
	if err != nil {
		return json.Marshal(map[string]string{string(p.Kind): p.Version})
	}
	return json.Marshal(map[string]float64{string(p.Kind): v})
}

// UnmarshalJSON accepts the externally tagged form.
func (p *Platform) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("platform must be an object like {\"Android\":14.0}: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("platform must have exactly one variant, got %d", len(raw))
	}
	for tag, payload := range raw {
		kind, err := parsePlatformKind(tag)
		if err != nil {
			return err
		}
		version := strings.Trim(string(payload), `"`)
		*p = Platform{Kind: kind, Version: version}
	}
	return p.Validate()
}

// ParsePlatform parses either the JSON tagged form or the compact "android:14.0" form.
func ParsePlatform(s string) (Platform, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		var p Platform
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return Platform{}, err
		}
		return p, nil
	}

	tag, version, ok := strings.Cut(s, ":")
	if !ok {
		return Platform{}, fmt.Errorf("platform %q: expected KIND:VERSION", s)
	}
	kind, err := parsePlatformKind(tag)
	if err != nil {
		return Platform{}, err
	}
	p := Platform{Kind: kind, Version: strings.TrimSpace(version)}
	return p, p.Validate()
}

func parsePlatformKind(tag string) (PlatformKind, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "android":
		return PlatformAndroid, nil
	case "ios":
		return PlatformIOS, nil
	case "windows":
		return PlatformWindows, nil
	default:
		return "", fmt.Errorf("unknown platform %q", tag)
	}
}

// HashAlgorithm tags how a credential's secret digest was produced.
type HashAlgorithm string

const (
	HashSHA256   HashAlgorithm = "sha256"
	HashArgon2id HashAlgorithm = "argon2id"
)

// Credential is the stored proof-of-possession for one device.
// The plaintext secret is never stored.
type Credential struct {
	DeviceID   string
	SecretHash []byte
	Salt       []byte // empty for unsalted algorithms
	Algorithm  HashAlgorithm
	Params     string // algorithm cost parameters, e.g. "m=19456,t=2,p=1"
	CreatedAt  time.Time
}

// FileMetadata is the filesystem metadata captured when an entry was written.
type FileMetadata struct {
	ModifiedAt time.Time  `json:"modified"`
	AccessedAt time.Time  `json:"accessed"`
	CreatedAt  *time.Time `json:"created,omitempty"` // birth time, when the filesystem reports one
	Size       int64      `json:"len"`
}

// LocalEntry records one stored file of one device.
// ContentKey is derived from RelativePath and FileName only, never from the bytes.
type LocalEntry struct {
	ID              string       `json:"id"`
	DeviceID        string       `json:"device_id"`
	ContentKey      string       `json:"content_key"`
	FileName        string       `json:"file_name"`
	RelativePath    string       `json:"relative_path"`
	DirPath         string       `json:"dir_path"`
	ClientPath      string       `json:"client_path"`
	ByteSize        int64        `json:"file_size"`
	StorageLocation string       `json:"-"`
	MimeType        *string      `json:"mime_type,omitempty"`
	PerceptualHash  *string      `json:"blurhash,omitempty"`
	Metadata        FileMetadata `json:"metadata"`
	RecordedAt      time.Time    `json:"recorded_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// EventType names a change notification.
type EventType string

const (
	EventEntryCreated  EventType = "entry.created"
	EventEntryUpdated  EventType = "entry.updated"
	EventDeviceUpdated EventType = "device.updated"
)

// Event is a change notification delivered to watchers of a device.
type Event struct {
	Type       EventType `json:"type"`
	DeviceID   string    `json:"device_id"`
	EntryID    string    `json:"entry_id,omitempty"`
	ContentKey string    `json:"content_key,omitempty"`
	At         time.Time `json:"at"`
}
