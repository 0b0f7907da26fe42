package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrMissingCredential = errors.New("Missing OpenRouter API key")

// HTTPError is a non-2xx answer from the upstream. Body holds the raw payload.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	text := strings.TrimSpace(string(e.Body))
	status := fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if text == "" {
		return "upstream returned " + status
	}
	return fmt.Sprintf("upstream returned %s: %s", status, text)
}

// JSON returns the upstream body when it is well-formed JSON.
func (e *HTTPError) JSON() (json.RawMessage, bool) {
	body := []byte(strings.TrimSpace(string(e.Body)))
	if len(body) == 0 || !json.Valid(body) {
		return nil, false
	}
	return json.RawMessage(body), true
}

// NetworkError wraps DNS, connect, TLS and timeout failures.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
