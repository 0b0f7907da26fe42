// Package catalog turns the upstream model list into an OpenAI-style list,
// optionally restricted by an allow-list file.
package catalog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/openrouter-proxy/pkg/upstream"
)

const unknownOwner = "unknown"

type Model struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Created json.Number `json:"created"`
	OwnedBy string      `json:"owned_by"`
}

type List struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// UpstreamModel holds the fields read from an upstream model record.
type UpstreamModel struct {
	ID      string
	Created json.Number
}

// Filter is an allow-set of model ids. An empty filter keeps everything.
type Filter map[string]struct{}

// OwnerOf returns the part of id before the first "/", or "unknown".
func OwnerOf(id string) string {
	owner, _, found := strings.Cut(id, "/")
	if !found {
		return unknownOwner
	}
	return owner
}

// LoadFilter reads one model id per line, trimming whitespace and skipping
// blank lines.
func LoadFilter(path string) (Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	filter := Filter{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			filter[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return filter, nil
}

// Apply keeps the models whose id is in the filter, preserving order.
func (f Filter) Apply(models []UpstreamModel) []UpstreamModel {
	if len(f) == 0 {
		return models
	}
	out := make([]UpstreamModel, 0, len(models))
	for _, m := range models {
		if _, ok := f[m.ID]; ok {
			out = append(out, m)
		}
	}
	return out
}

// ParseUpstream decodes an upstream {"data":[...]} payload. Records without
// an id are skipped; a missing created timestamp becomes 0.
func ParseUpstream(body []byte) ([]UpstreamModel, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload struct {
		Data []map[string]any `json:"data"`
	}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode upstream models: %w", err)
	}
	out := make([]UpstreamModel, 0, len(payload.Data))
	for _, rec := range payload.Data {
		id, _ := rec["id"].(string)
		if strings.TrimSpace(id) == "" {
			continue
		}
		out = append(out, UpstreamModel{ID: id, Created: createdOf(rec["created"])})
	}
	return out, nil
}

func createdOf(v any) json.Number {
	switch n := v.(type) {
	case json.Number:
		return n
	case string:
		if _, err := json.Number(n).Float64(); err == nil {
			return json.Number(n)
		}
	}
	return json.Number("0")
}

// Build reshapes upstream records into the OpenAI model list.
func Build(models []UpstreamModel) List {
	data := make([]Model, 0, len(models))
	for _, m := range models {
		data = append(data, Model{
			ID:      m.ID,
			Object:  "model",
			Created: m.Created,
			OwnedBy: OwnerOf(m.ID),
		})
	}
	return List{Object: "list", Data: data}
}

// Fetcher lists upstream models. The filter file is re-read on every call.
type Fetcher struct {
	client     *upstream.Client
	filterPath string
	logger     *log.Logger
}

func NewFetcher(client *upstream.Client, filterPath string, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Fetcher{client: client, filterPath: strings.TrimSpace(filterPath), logger: logger}
}

// List fetches, filters and reshapes the catalog. Upstream failures are
// returned as *upstream.HTTPError or *upstream.NetworkError.
func (f *Fetcher) List(ctx context.Context, inbound http.Header) (List, error) {
	resp, err := f.client.Do(ctx, upstream.Request{
		Method: http.MethodGet,
		Path:   upstream.ModelsPath,
		Header: inbound,
	})
	if err != nil {
		return List{}, err
	}
	models, err := ParseUpstream(resp.Payload)
	if err != nil {
		return List{}, err
	}
	return Build(f.loadFilter().Apply(models)), nil
}

// loadFilter never fails the request: a missing or unreadable file means
// no filtering.
func (f *Fetcher) loadFilter() Filter {
	if f.filterPath == "" {
		return nil
	}
	filter, err := LoadFilter(f.filterPath)
	switch {
	case err == nil:
		f.logger.Debug("loaded model filter", "path", f.filterPath, "models", len(filter))
		return filter
	case errors.Is(err, fs.ErrNotExist):
		f.logger.Debug("model filter file not found, not filtering", "path", f.filterPath)
	default:
		f.logger.Warn("error reading model filter file, not filtering", "path", f.filterPath, "err", err)
	}
	return nil
}
