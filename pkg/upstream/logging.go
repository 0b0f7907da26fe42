package upstream

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	log "github.com/charmbracelet/log"
)

const redactedCredential = "Bearer *** (redacted)"

var redactedHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
}

// RequestLogger echoes outbound requests for diagnostics. Credentials are
// never written.
type RequestLogger struct {
	logger *log.Logger
}

func NewRequestLogger(logger *log.Logger) *RequestLogger {
	if logger == nil {
		logger = log.Default()
	}
	return &RequestLogger{logger: logger}
}

// Log writes method, URL, headers and a pretty-printed body. It is
// best-effort and never fails the request.
func (l *RequestLogger) Log(method, url string, header http.Header, body []byte) {
	if l == nil || l.logger == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("request log failed", "err", r)
		}
	}()
	keyvals := []any{"method", method, "url", url, "headers", formatHeaders(header)}
	if len(body) > 0 {
		keyvals = append(keyvals, "body", formatBody(body))
	}
	l.logger.Info("sending upstream request", keyvals...)
}

func formatHeaders(header http.Header) string {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		value := strings.Join(header[k], ", ")
		if redactedHeaders[http.CanonicalHeaderKey(k)] {
			value = redactedCredential
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(value)
	}
	return b.String()
}

func formatBody(body []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return string(body)
	}
	return out.String()
}
