package aperture

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

// deviceIDPattern bounds device IDs; they name a directory in the content store.
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// IgnoreMatcher reports whether a slash-separated path is excluded from storage.
type IgnoreMatcher interface {
	Match(relativePath string) bool
}

// ComputeContentKey returns the ledger address of a file: the lowercase hex
// SHA-256 of "relativePath/fileName", or of fileName alone at the root. It
// depends on the path only, never on file bytes. Callers pass normalized values.
func ComputeContentKey(relativePath, fileName string) string {
	sum := sha256.Sum256([]byte(path.Join(relativePath, fileName)))
	return hex.EncodeToString(sum[:])
}

// ValidateDeviceID checks that id is usable as a device identifier.
func ValidateDeviceID(id string) error {
	if id == "" {
		return validationErrorf("DeviceID is required")
	}
	if !deviceIDPattern.MatchString(id) {
		return validationErrorf("DeviceID %q must be 1-128 letters, digits, '.', '_' or '-'", id)
	}
	return nil
}

// NormalizeRelativePath returns the canonical form of a device-relative directory:
// slash separated, cleaned, without leading or trailing slashes. The root is "".
// Drive-qualified paths and paths escaping the root are rejected.
func NormalizeRelativePath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", validationErrorf("RelativePath contains a NUL byte")
	}
	p = strings.ReplaceAll(p, `\`, "/")
	if len(p) >= 2 && p[1] == ':' {
		return "", validationErrorf("RelativePath %q must not be drive-qualified", p)
	}
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", nil
	}

	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", validationErrorf("RelativePath %q escapes the device root", p)
	}
	return cleaned, nil
}

// ValidateFileName checks that name is a single path element.
func ValidateFileName(name string) error {
	switch {
	case name == "":
		return validationErrorf("FileName is required")
	case name == "." || name == "..":
		return validationErrorf("FileName %q is not a file name", name)
	case strings.ContainsAny(name, `/\`):
		return validationErrorf("FileName %q must not contain path separators", name)
	case strings.ContainsRune(name, 0):
		return validationErrorf("FileName contains a NUL byte")
	}
	return nil
}

// storageKey is the content store key of a device file.
func storageKey(deviceID, relativePath, fileName string) string {
	return path.Join(deviceID, relativePath, fileName)
}
