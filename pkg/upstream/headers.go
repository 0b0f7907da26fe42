package upstream

import (
	"net/http"
	"strings"
)

var strippedHeaders = []string{
	"Host",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
	// Left to the transport so compressed bodies are decoded before relay.
	"Accept-Encoding",
}

// OutboundHeader derives the upstream header set from the inbound one. The
// inbound header is not modified. Authorization is replaced only when apiKey
// is non-empty.
func OutboundHeader(in http.Header, apiKey string) http.Header {
	out := in.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, k := range strippedHeaders {
		out.Del(k)
	}
	// Drop anything named by the inbound Connection header as well.
	for _, v := range in.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.Del(name)
			}
		}
	}
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		out.Set("Authorization", "Bearer "+apiKey)
	}
	return out
}
