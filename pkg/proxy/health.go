package proxy

import (
	"errors"
	"net/http"
	"time"

	"github.com/lkarlslund/openrouter-proxy/pkg/catalog"
	"github.com/lkarlslund/openrouter-proxy/pkg/upstream"
	"github.com/lkarlslund/openrouter-proxy/pkg/version"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

type connectionResponse struct {
	Status     string `json:"status"`
	ModelCount int    `json:"modelCount"`
	Timestamp  string `json:"timestamp"`
}

type connectionFailure struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: now(), Version: version.String()})
}

// handleTestConnection lists upstream models with the configured credential.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if !s.client.HasCredential() {
		writeError(w, http.StatusUnauthorized, upstream.ErrMissingCredential.Error())
		return
	}
	resp, err := s.client.Do(r.Context(), upstream.Request{Method: http.MethodGet, Path: upstream.ModelsPath})
	if err != nil {
		s.connectionFailed(w, err)
		return
	}
	models, err := catalog.ParseUpstream(resp.Payload)
	if err != nil {
		s.connectionFailed(w, err)
		return
	}
	writeJSON(w, http.StatusOK, connectionResponse{Status: "connected", ModelCount: len(models), Timestamp: now()})
}

func (s *Server) connectionFailed(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var httpErr *upstream.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.StatusCode
	}
	s.logger.Error("connection test failed", "err", err)
	writeJSON(w, status, connectionFailure{Error: "Connection test failed", Details: err.Error()})
}
