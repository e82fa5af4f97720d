package server

import (
	"errors"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"aperture/internal/aperture"
)

// Form field names shared with existing device clients.
const (
	fieldDeviceID     = "DeviceID"
	fieldPIN          = "PIN"
	fieldDeviceName   = "DeviceName"
	fieldOS           = "OS"
	fieldGlobal       = "Global"
	fieldReadOnly     = "ReadOnly"
	fieldFileName     = "FileName"
	fieldRelativePath = "RelativePath"
	fieldDirPath      = "DirPath"
	fieldClientPath   = "ClientPath"
	fieldRemoteAddr   = "RemoteAddr"

	filePart = "file"

	headerDeviceID  = "X-Device-ID"
	headerDevicePIN = "X-Device-PIN"
)

// maxFormMemory bounds the in-memory part of non-upload multipart forms.
const maxFormMemory = 1 << 20

// fields are the named values of one request, from the query string and body.
type fields struct {
	values url.Values
	header http.Header
}

// parseFields reads query, urlencoded and multipart values of a non-upload request.
func parseFields(r *http.Request) (fields, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if mediaType == "multipart/form-data" {
		err = r.ParseMultipartForm(maxFormMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return fields{}, aperture.WrapError(aperture.KindValidation, "malformed form body", err)
	}
	return fields{values: r.Form, header: r.Header}, nil
}

func (f fields) get(name string) string {
	return strings.TrimSpace(f.values.Get(name))
}

func (f fields) has(name string) bool {
	_, ok := f.values[name]
	return ok
}

// optional returns a pointer to the value of name, or nil when it was not sent.
func (f fields) optional(name string) *string {
	if !f.has(name) {
		return nil
	}
	v := f.get(name)
	return &v
}

// flag is true when name is present and empty or holds a true value.
func (f fields) flag(name string) bool {
	if !f.has(name) {
		return false
	}
	v := f.get(name)
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// credentials reads the device identity from the form, falling back to headers.
func (f fields) credentials() aperture.Credentials {
	id := f.get(fieldDeviceID)
	if id == "" {
		id = strings.TrimSpace(f.header.Get(headerDeviceID))
	}
	pin := f.values.Get(fieldPIN)
	if pin == "" {
		pin = f.header.Get(headerDevicePIN)
	}
	return aperture.Credentials{DeviceID: id, Secret: aperture.Secret(pin)}
}

// remoteAddress prefers an explicit RemoteAddr field over the peer address.
func (f fields) remoteAddress(r *http.Request) string {
	if v := f.get(fieldRemoteAddr); v != "" {
		return v
	}
	return peerHost(r)
}

// optionalRemoteAddress is nil when no RemoteAddr field was sent. A field sent
// empty stands for the peer address.
func (f fields) optionalRemoteAddress(r *http.Request) *string {
	if !f.has(fieldRemoteAddr) {
		return nil
	}
	addr := f.remoteAddress(r)
	return &addr
}

func peerHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isTooLarge reports whether err came from an exhausted request body limit.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
