package server

import (
	"encoding/json"
	"net/http"

	"aperture/internal/aperture"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind aperture.Kind) int {
	switch kind {
	case aperture.KindValidation:
		return http.StatusBadRequest
	case aperture.KindAuth:
		return http.StatusUnauthorized
	case aperture.KindNotFound:
		return http.StatusNotFound
	case aperture.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the status and safe message of err.
// Internal detail is logged, never sent.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := aperture.KindOf(err)
	code := statusFor(kind)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "kind", kind.String(), "error", err)
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "kind", kind.String(), "error", err)
	}
	s.jsonError(w, kind.String(), aperture.MessageOf(err), code)
}

func (s *Server) jsonError(w http.ResponseWriter, kind, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Kind:    kind,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
