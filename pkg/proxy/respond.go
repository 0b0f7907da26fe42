package proxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lkarlslund/openrouter-proxy/pkg/upstream"
)

const jsonContentType = "application/json; charset=utf-8"

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeUpstreamError maps a failed upstream call to the client response.
// Upstream HTTP errors keep their status and, when it is JSON, their body.
func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *upstream.HTTPError
	if errors.As(err, &httpErr) {
		s.logger.Warn("upstream error", "path", r.URL.Path, "status", httpErr.StatusCode)
		if raw, ok := httpErr.JSON(); ok {
			writeRawJSON(w, httpErr.StatusCode, raw)
			return
		}
		writeError(w, httpErr.StatusCode, httpErr.Error())
		return
	}
	s.logger.Error("upstream request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}
