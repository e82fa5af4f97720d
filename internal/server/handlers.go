package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"aperture/internal/aperture"
)

// maxFieldBytes bounds a single text field of an upload.
const maxFieldBytes = 64 << 10

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	f, err := parseFields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.coordinator.Pair(r.Context(), aperture.PairRequest{
		Credentials:   f.credentials(),
		DisplayName:   f.get(fieldDeviceName),
		Platform:      f.get(fieldOS),
		IsGlobal:      f.flag(fieldGlobal),
		IsReadOnly:    f.flag(fieldReadOnly),
		RemoteAddress: f.remoteAddress(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": id})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	f, err := parseFields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items, err := s.coordinator.Snapshot(r.Context(), f.credentials())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	f, err := parseFields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	info, err := s.coordinator.DeviceInfo(r.Context(), f.credentials())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handlePush streams the file part straight to the content store. Text
// fields must precede the file part; fields after it are not read.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, aperture.WrapError(aperture.KindValidation, "push requires a multipart/form-data body", err))
		return
	}

	f := fields{values: r.URL.Query(), header: r.Header}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.pushError(w, r, aperture.WrapError(aperture.KindValidation, "malformed multipart body", err))
			return
		}

		if part.FormName() == filePart {
			s.receiveFile(w, r, f, part)
			part.Close()
			return
		}

		data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
		part.Close()
		if err != nil {
			s.pushError(w, r, aperture.WrapError(aperture.KindValidation, "reading form field", err))
			return
		}
		if len(data) > maxFieldBytes {
			s.writeError(w, r, aperture.NewError(aperture.KindValidation, fmt.Sprintf("field %s is too long", part.FormName())))
			return
		}
		f.values.Add(part.FormName(), string(data))
	}
	s.writeError(w, r, aperture.NewError(aperture.KindValidation, "file part is required"))
}

func (s *Server) receiveFile(w http.ResponseWriter, r *http.Request, f fields, part *multipart.Part) {
	name := f.get(fieldFileName)
	if name == "" {
		name = part.FileName()
	}

	body := &countingReader{r: part}
	entry, err := s.coordinator.Push(r.Context(), aperture.UploadRequest{
		Credentials:  f.credentials(),
		RelativePath: f.values.Get(fieldRelativePath),
		FileName:     name,
		DirPath:      f.get(fieldDirPath),
		ClientPath:   f.get(fieldClientPath),
	}, body)
	s.metrics.RecordTransfer("in", body.n)
	if err != nil {
		s.pushError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, entry)
}

// pushError reports an exceeded upload limit as 413.
func (s *Server) pushError(w http.ResponseWriter, r *http.Request, err error) {
	if isTooLarge(err) {
		s.jsonError(w, aperture.KindValidation.String(), "upload exceeds the size limit", http.StatusRequestEntityTooLarge)
		return
	}
	s.writeError(w, r, err)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	f, err := parseFields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	file, err := s.coordinator.Pull(r.Context(), aperture.DownloadRequest{
		Credentials:  f.credentials(),
		RelativePath: f.values.Get(fieldRelativePath),
		FileName:     f.get(fieldFileName),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer file.Body.Close()

	contentType := "application/octet-stream"
	if file.Entry.MimeType != nil {
		contentType = *file.Entry.MimeType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Entry.FileName}))
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, file.Body)
	s.metrics.RecordTransfer("out", n)
	if err != nil {
		s.logger.Warn("sending file", "device_id", file.Entry.DeviceID, "entry_id", file.Entry.ID, "error", err)
	}
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	f, err := parseFields(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	device, err := s.coordinator.ModifyDevice(r.Context(), aperture.ModifyRequest{
		Credentials:   f.credentials(),
		DisplayName:   f.optional(fieldDeviceName),
		RemoteAddress: f.optionalRemoteAddress(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
