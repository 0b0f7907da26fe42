package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lkarlslund/openrouter-proxy/pkg/config"
	"github.com/lkarlslund/openrouter-proxy/pkg/observability"
	"github.com/lkarlslund/openrouter-proxy/pkg/version"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	ModelsPath          = "/api/v1/models"
	ChatCompletionsPath = "/api/v1/chat/completions"

	maxBufferedBody = 64 << 20
	maxErrorBody    = 1 << 20

	defaultKeepAlive = 30 * time.Second
)

type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
	// Stream selects incremental reads; otherwise the body is buffered.
	Stream bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	// Payload is the raw body of a buffered call.
	Payload []byte
	// Stream is the live body of a streaming call. Callers must close it.
	Stream io.ReadCloser
}

type Client struct {
	baseURL    string
	host       string
	apiKey     string
	httpClient *http.Client
	logger     *RequestLogger
	// idleRead bounds each body read after the upstream answered.
	idleRead time.Duration
}

func NewClient(cfg *config.Config, logger *RequestLogger) (*Client, error) {
	base, err := url.Parse(cfg.UpstreamBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}
	return &Client{
		baseURL:    strings.TrimRight(base.String(), "/"),
		host:       cfg.UpstreamHost,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Transport: pinnedHost{next: NewTransport(cfg), host: cfg.UpstreamHost}},
		logger:     logger,
		idleRead:   cfg.IdleReadTimeout(),
	}, nil
}

// NewTransport builds the outbound transport. There is no overall timeout so
// long streams are not cut; connect and header waits are bounded instead.
func NewTransport(cfg *config.Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout(),
		KeepAlive: defaultKeepAlive,
	}).DialContext
	t.TLSHandshakeTimeout = cfg.TLSHandshakeTimeout()
	t.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout()
	t.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.DisableTLSVerify, //nolint:gosec // operator opt-in via DISABLE_SSL_VERIFY
	}
	return t
}

func (c *Client) HasCredential() bool {
	return c.apiKey != ""
}

// HTTPClient exposes the configured client for SDK callers. Requests sent
// through it carry the upstream Host header too.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Header returns the sanitized outbound header set for an inbound one.
func (c *Client) Header(in http.Header) http.Header {
	return OutboundHeader(in, c.apiKey)
}

// Do performs one upstream call. Non-2xx answers come back as *HTTPError,
// transport failures as *NetworkError.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	target := c.baseURL + r.Path
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = c.Header(r.Header)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	logged := req.Header.Clone()
	logged.Set("Host", c.host)
	c.logger.Log(r.Method, target, logged, r.Body)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.UpstreamRequestsTotal.WithLabelValues(r.Path, "error").Inc()
		return nil, &NetworkError{Err: unwrapURLError(err)}
	}
	observability.UpstreamRequestsTotal.WithLabelValues(r.Path, observability.StatusClass(resp.StatusCode)).Inc()

	respBody := newIdleBody(resp.Body, c.idleRead)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer respBody.Close()
		b, _ := io.ReadAll(io.LimitReader(respBody, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: b}
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone()}
	if r.Stream {
		out.Stream = respBody
		return out, nil
	}
	defer respBody.Close()
	b, err := io.ReadAll(io.LimitReader(respBody, maxBufferedBody))
	if err != nil {
		return nil, &NetworkError{Err: unwrapURLError(err)}
	}
	out.Payload = b
	return out, nil
}

// pinnedHost sets the Host header of every outbound request.
type pinnedHost struct {
	next http.RoundTripper
	host string
}

func (p pinnedHost) RoundTrip(req *http.Request) (*http.Response, error) {
	if p.host != "" && req.Host != p.host {
		req = req.Clone(req.Context())
		req.Host = p.host
	}
	return p.next.RoundTrip(req)
}

// SanitizeUTF8 replaces invalid UTF-8 sequences with U+FFFD.
func SanitizeUTF8(b []byte) ([]byte, error) {
	out, _, err := transform.Bytes(unicode.UTF8.NewDecoder(), b)
	if err != nil {
		return nil, fmt.Errorf("decode utf-8: %w", err)
	}
	return out, nil
}

// unwrapURLError drops the "Post \"https://...\":" prefix net/http adds.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}
