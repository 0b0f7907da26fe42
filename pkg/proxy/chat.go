package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/openrouter-proxy/pkg/observability"
	"github.com/lkarlslund/openrouter-proxy/pkg/stream"
	"github.com/lkarlslund/openrouter-proxy/pkg/upstream"
)

const maxChatBody = 32 << 20

// isJSONContentType accepts only the exact header value; parameters and
// other spellings are rejected.
func isJSONContentType(v string) bool {
	return v == "application/json"
}

// readChatBody returns the raw body and whether the client asked for a
// stream. On failure it returns the status and client message to send.
func readChatBody(w http.ResponseWriter, r *http.Request) (body []byte, streaming bool, status int, msg string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, false, http.StatusRequestEntityTooLarge, "Request body too large"
		}
		return nil, false, http.StatusBadRequest, "Invalid JSON body: " + err.Error()
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false, http.StatusBadRequest, "Invalid JSON body: " + err.Error()
	}
	if payload == nil {
		return nil, false, http.StatusBadRequest, "Invalid JSON body: expected an object"
	}
	// Anything but a literal true is a buffered call.
	streaming, _ = payload["stream"].(bool)
	return body, streaming, 0, ""
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if !isJSONContentType(r.Header.Get("Content-Type")) {
		writeError(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}
	body, streaming, status, msg := readChatBody(w, r)
	if msg != "" {
		writeError(w, status, msg)
		return
	}
	if !s.client.HasCredential() {
		writeError(w, http.StatusUnauthorized, upstream.ErrMissingCredential.Error())
		return
	}

	resp, err := s.client.Do(r.Context(), upstream.Request{
		Method: http.MethodPost,
		Path:   upstream.ChatCompletionsPath,
		Header: r.Header,
		Body:   body,
		Stream: streaming,
	})
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	if streaming {
		s.relayStream(w, r, resp)
		return
	}

	out, err := upstream.SanitizeUTF8(resp.Payload)
	if err != nil {
		s.logger.Error("re-encoding upstream response failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Encoding error in response")
		return
	}
	writeRawJSON(w, resp.StatusCode, out)
}

func (s *Server) relayStream(w http.ResponseWriter, r *http.Request, resp *upstream.Response) {
	defer resp.Stream.Close()
	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)
	f := &streamFlusher{rc: http.NewResponseController(w), logger: s.logger, path: r.URL.Path}
	f.flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	for rec := range stream.Relay(ctx, resp.Stream, stream.Options{Logger: s.logger}) {
		if _, err := w.Write(rec); err != nil {
			s.logger.Debug("client went away during stream", "err", err)
			return
		}
		f.flush()
	}
}

// streamFlusher flushes after each record and reports once when the writer
// cannot flush, in which case records reach the client buffered.
type streamFlusher struct {
	rc       *http.ResponseController
	logger   *log.Logger
	path     string
	reported bool
}

func (f *streamFlusher) flush() {
	err := f.rc.Flush()
	if err == nil || f.reported {
		return
	}
	f.reported = true
	if errors.Is(err, http.ErrNotSupported) {
		f.logger.Debug("response writer does not support flushing; stream will be buffered", "path", f.path)
		return
	}
	f.logger.Debug("stream flush failed", "path", f.path, "err", err)
}
