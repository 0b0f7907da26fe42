package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/lkarlslund/openrouter-proxy/pkg/config"
	"github.com/lkarlslund/openrouter-proxy/pkg/upstream"
	"pgregory.net/rapid"
)

func TestOwnerOf(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{id: "openai/gpt-4", want: "openai"},
		{id: "meta-llama/llama-3/instruct", want: "meta-llama"},
		{id: "gpt-4", want: "unknown"},
		{id: "/leading", want: ""},
		{id: "", want: "unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			if got := OwnerOf(tc.id); got != tc.want {
				t.Fatalf("OwnerOf(%q) = %q, want %q", tc.id, got, tc.want)
			}
		})
	}
}

func TestLoadFilterSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter-models.txt")
	if err := os.WriteFile(path, []byte("  openai/gpt-4  \n\n\t\nanthropic/claude-3\n"), 0o600); err != nil {
		t.Fatalf("write filter: %v", err)
	}
	f, err := LoadFilter(path)
	if err != nil {
		t.Fatalf("load filter: %v", err)
	}
	if len(f) != 2 {
		t.Fatalf("expected 2 ids, got %d: %v", len(f), f)
	}
	for _, id := range []string{"openai/gpt-4", "anthropic/claude-3"} {
		if _, ok := f[id]; !ok {
			t.Fatalf("expected %q in filter", id)
		}
	}
}

func TestEmptyFilterKeepsEverything(t *testing.T) {
	models := []UpstreamModel{{ID: "a/x"}, {ID: "b/y"}}
	if got := (Filter{}).Apply(models); len(got) != 2 {
		t.Fatalf("expected no filtering, got %v", got)
	}
	var nilFilter Filter
	if got := nilFilter.Apply(models); len(got) != 2 {
		t.Fatalf("expected no filtering for nil filter, got %v", got)
	}
}

func TestFilterApplyIdempotentProperty(t *testing.T) {
	ids := []string{"openai/gpt-4", "openai/gpt-4o", "anthropic/claude-3", "mistral", "google/gemini"}
	rapid.Check(t, func(rt *rapid.T) {
		models := make([]UpstreamModel, 0)
		for _, id := range rapid.SliceOf(rapid.SampledFrom(ids)).Draw(rt, "models") {
			models = append(models, UpstreamModel{ID: id, Created: "1"})
		}
		filter := Filter{}
		for _, id := range rapid.SliceOfN(rapid.SampledFrom(ids), 1, -1).Draw(rt, "allow") {
			filter[id] = struct{}{}
		}
		once := filter.Apply(models)
		twice := filter.Apply(once)
		if len(once) != len(twice) {
			rt.Fatalf("filter not idempotent: %v vs %v", once, twice)
		}
		for i := range once {
			if once[i] != twice[i] {
				rt.Fatalf("filter changed entry %d: %v vs %v", i, once[i], twice[i])
			}
			if _, ok := filter[once[i].ID]; !ok {
				rt.Fatalf("retained %q which is not allowed", once[i].ID)
			}
		}
	})
}

func TestParseUpstream(t *testing.T) {
	body := []byte(`{"data":[
		{"id":"openai/gpt-4","created":1000,"name":"GPT-4"},
		{"id":"solo","created":1692901234.5},
		{"created":5},
		{"id":"no-created"}
	]}`)
	models, err := ParseUpstream(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(models) != 3 {
		t.Fatalf("expected 3 models, got %d: %v", len(models), models)
	}
	if models[0].ID != "openai/gpt-4" || models[0].Created != "1000" {
		t.Fatalf("unexpected first model %+v", models[0])
	}
	if models[1].Created != "1692901234.5" {
		t.Fatalf("expected created to be kept verbatim, got %q", models[1].Created)
	}
	if models[2].Created != "0" {
		t.Fatalf("expected default created 0, got %q", models[2].Created)
	}
}

func TestParseUpstreamRejectsGarbage(t *testing.T) {
	if _, err := ParseUpstream([]byte("<html>")); err == nil {
		t.Fatal("expected decode error")
	}
}

func newFetcher(t *testing.T, handler http.HandlerFunc, filterPath string) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.NewDefault()
	cfg.UpstreamBaseURL = srv.URL
	client, err := upstream.NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return NewFetcher(client, filterPath, nil)
}

func TestFetcherListReshapesModels(t *testing.T) {
	f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/models" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Fatalf("did not expect authorization without credential, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"openai/gpt-4","created":1000}]}`))
	}, "")

	list, err := f.List(context.Background(), http.Header{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	b, err := json.Marshal(list)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"object":"list","data":[{"id":"openai/gpt-4","object":"model","created":1000,"owned_by":"openai"}]}`
	if string(b) != want {
		t.Fatalf("unexpected list:\n got %s\nwant %s", b, want)
	}
}

func TestFetcherAppliesFilterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter-models.txt")
	if err := os.WriteFile(path, []byte("openai/gpt-4\n"), 0o600); err != nil {
		t.Fatalf("write filter: %v", err)
	}
	f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"openai/gpt-4","created":1},{"id":"anthropic/claude-3","created":2}]}`))
	}, path)

	list, err := f.List(context.Background(), http.Header{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != "openai/gpt-4" {
		t.Fatalf("expected only openai/gpt-4, got %+v", list.Data)
	}

	// The file is re-read on every call.
	if err := os.WriteFile(path, []byte("anthropic/claude-3\nopenai/gpt-4\n"), 0o600); err != nil {
		t.Fatalf("rewrite filter: %v", err)
	}
	list, err = f.List(context.Background(), http.Header{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Data) != 2 {
		t.Fatalf("expected reloaded filter to keep 2 models, got %+v", list.Data)
	}
}

func TestFetcherIgnoresMissingOrUnreadableFilter(t *testing.T) {
	dir := t.TempDir()
	for name, path := range map[string]string{
		"missing":   filepath.Join(dir, "nope.txt"),
		"directory": dir,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"data":[{"id":"a/x","created":1},{"id":"b/y","created":2}]}`))
			}, path)
			list, err := f.List(context.Background(), http.Header{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list.Data) != 2 {
				t.Fatalf("expected unfiltered list, got %+v", list.Data)
			}
		})
	}
}

func TestFetcherReturnsUpstreamHTTPError(t *testing.T) {
	f := newFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"down"}}`))
	}, "")

	_, err := f.List(context.Background(), http.Header{})
	var httpErr *upstream.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *upstream.HTTPError, got %T %v", err, err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", httpErr.StatusCode)
	}
	if raw, ok := httpErr.JSON(); !ok || string(raw) != `{"error":{"message":"down"}}` {
		t.Fatalf("unexpected error body %q (json=%v)", raw, ok)
	}
}
