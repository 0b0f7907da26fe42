package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/openrouter-proxy/pkg/upstream"
)

// plainWriter is a ResponseWriter without Flush.
type plainWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *plainWriter) Header() http.Header         { return w.header }
func (w *plainWriter) Write(b []byte) (int, error) { return w.body.Write(b) }
func (w *plainWriter) WriteHeader(status int)      { w.status = status }

func TestRelayStreamReportsMissingFlusherOnce(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1", nil)
	var logs bytes.Buffer
	s.logger = log.NewWithOptions(&logs, log.Options{Level: log.DebugLevel})

	w := &plainWriter{header: http.Header{}}
	resp := &upstream.Response{
		StatusCode: http.StatusOK,
		Stream:     io.NopCloser(strings.NewReader("data: a\n\ndata: b\n\ndata: [DONE]\n\n")),
	}
	s.relayStream(w, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil), resp)

	if w.status != http.StatusOK {
		t.Fatalf("unexpected status %d", w.status)
	}
	if got := w.body.String(); got != "data: a\ndata: b\ndata: [DONE]\n" {
		t.Fatalf("unexpected stream %q", got)
	}
	if n := strings.Count(logs.String(), "does not support flushing"); n != 1 {
		t.Fatalf("expected one flush report, got %d in:\n%s", n, logs.String())
	}
}

func TestIsJSONContentType(t *testing.T) {
	tests := map[string]bool{
		"application/json":                true,
		"application/json; charset=utf-8": false,
		"Application/JSON":                false,
		"text/plain":                      false,
		"":                                false,
	}
	for in, want := range tests {
		if got := isJSONContentType(in); got != want {
			t.Fatalf("isJSONContentType(%q) = %v, want %v", in, got, want)
		}
	}
}
