package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/b0x-token/data-mirror/internal/config"
	"github.com/b0x-token/data-mirror/internal/fetch"
	"github.com/b0x-token/data-mirror/internal/storage"
)

// newMirrorServer serves a fake remote mirror rooted at /mainnet/. Directory
// requests render a generated listing, file requests return the map entry.
func newMirrorServer(files map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/mainnet/")
		if strings.HasSuffix(r.URL.Path, "/") {
			children := map[string]bool{}
			for key := range files {
				if !strings.HasPrefix(key, rel) {
					continue
				}
				rest := strings.TrimPrefix(key, rel)
				if idx := strings.Index(rest, "/"); idx >= 0 {
					children[rest[:idx+1]] = true
				} else {
					children[rest] = false
				}
			}
			var b strings.Builder
			b.WriteString("<html><head><title>Listing of mirrored data files</title></head><body><pre>\n")
			b.WriteString("<a href=\"../\">../</a>\n")
			for name := range children {
				fmt.Fprintf(&b, "<a href=%q>%s</a>\n", name, name)
			}
			b.WriteString("</pre></body></html>\n")
			io.WriteString(w, b.String())
			return
		}
		content, ok := files[rel]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, content)
	}))
}

func testEngine(t *testing.T, sourceURL, altURL string) (*Engine, storage.Storage) {
	t.Helper()
	cfg := config.MirrorConfig{
		SourceURL:      sourceURL,
		AltSourceURL:   altURL,
		Resolve:        []string{"uu_mined_blocks_testnet.json"},
		Exclude:        []string{"index.json", "README.md"},
		MaxParallelism: 4,
		RetryCount:     2,
		RetryBackoff:   time.Millisecond,
	}
	client := fetch.NewClient("test-agent", 5*time.Second, 100)
	store := storage.NewLocal(t.TempDir())
	return NewEngine(cfg, client, store, zerolog.Nop()), store
}

func TestRunDownloadsThenSkips(t *testing.T) {
	files := map[string]string{
		"stats.json":       `{"count": 1}`,
		"graph/points.csv": "t,v\n1,2\n",
		"index.json":       `{"stale": true}`,
	}
	srv := newMirrorServer(files)
	defer srv.Close()

	engine, store := testEngine(t, srv.URL+"/mainnet/", "")

	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.Success || !summary.PrimaryAvailable {
		t.Fatalf("expected successful run, got %+v", summary)
	}
	if summary.Downloaded != 2 || summary.Updated != 0 || summary.Skipped != 0 || summary.Errors != 0 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if len(summary.Files) != 2 {
		t.Fatalf("expected 2 files, got %v", summary.Files)
	}

	exists, err := store.Exists(context.Background(), "index.json")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("excluded file must not be mirrored")
	}

	summary, err = engine.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Downloaded != 0 || summary.Updated != 0 || summary.Skipped != 2 {
		t.Fatalf("second pass should skip unchanged files: %+v", summary)
	}
}

func TestRunUpdatesChangedFile(t *testing.T) {
	files := map[string]string{
		"stats.json":       `{"count": 1}`,
		"graph/points.csv": "t,v\n1,2\n",
	}
	srv := newMirrorServer(files)
	defer srv.Close()

	engine, store := testEngine(t, srv.URL+"/mainnet/", "")
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	files["stats.json"] = `{"count": 2}`
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Updated != 1 || summary.Skipped != 1 || summary.Downloaded != 0 {
		t.Fatalf("unexpected counts: %+v", summary)
	}

	reader, err := store.Get(context.Background(), "stats.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(reader)
	reader.Close()
	if string(got) != `{"count": 2}` {
		t.Fatalf("stored copy not updated: %s", got)
	}
}

func TestRunPreservesMirrorWhenSourceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	engine, store := testEngine(t, srv.URL+"/mainnet/", "")
	body := "existing content"
	if err := store.Put(context.Background(), "stats.json", strings.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Success || summary.PrimaryAvailable {
		t.Fatalf("expected failed no-op run, got %+v", summary)
	}

	reader, err := store.Get(context.Background(), "stats.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(reader)
	reader.Close()
	if string(got) != body {
		t.Fatal("existing mirror was touched by failed run")
	}
}

func TestRunFailsWhenNoFilesFound(t *testing.T) {
	srv := newMirrorServer(map[string]string{})
	defer srv.Close()

	engine, _ := testEngine(t, srv.URL+"/mainnet/", "")
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Success {
		t.Fatal("run with zero files must not report success")
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	files := map[string]string{"stats.json": `{"count": 1}`}
	srv := newMirrorServer(files)
	defer srv.Close()

	engine, store := testEngine(t, srv.URL+"/mainnet/", "")
	engine.DryRun = true

	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Downloaded != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	exists, err := store.Exists(context.Background(), "stats.json")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists {
		t.Fatal("dry run must not write objects")
	}
}

func TestResolvePrefersHigherBlock(t *testing.T) {
	primaryFiles := map[string]string{
		"uu_mined_blocks_testnet.json": `{"latest_block_number": 100, "origin": "primary"}`,
	}
	altFiles := map[string]string{
		"uu_mined_blocks_testnet.json": `{"latest_block_number": 250, "origin": "alt"}`,
	}
	primary := newMirrorServer(primaryFiles)
	defer primary.Close()
	alt := newMirrorServer(altFiles)
	defer alt.Close()

	engine, store := testEngine(t, primary.URL+"/mainnet/", alt.URL+"/mainnet/")
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.Success || summary.Downloaded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	reader, err := store.Get(context.Background(), "uu_mined_blocks_testnet.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(reader)
	reader.Close()
	if !strings.Contains(string(got), `"alt"`) {
		t.Fatalf("expected alternative copy to win: %s", got)
	}
}

func TestResolveTieGoesToPrimary(t *testing.T) {
	primaryFiles := map[string]string{
		"uu_mined_blocks_testnet.json": `{"latest_block_number": 100, "origin": "primary"}`,
	}
	altFiles := map[string]string{
		"uu_mined_blocks_testnet.json": `{"latest_block_number": 100, "origin": "alt"}`,
	}
	primary := newMirrorServer(primaryFiles)
	defer primary.Close()
	alt := newMirrorServer(altFiles)
	defer alt.Close()

	engine, store := testEngine(t, primary.URL+"/mainnet/", alt.URL+"/mainnet/")
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	reader, err := store.Get(context.Background(), "uu_mined_blocks_testnet.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(reader)
	reader.Close()
	if !strings.Contains(string(got), `"primary"`) {
		t.Fatalf("tie must go to primary: %s", got)
	}
}

func TestResolveSingleSourceFallback(t *testing.T) {
	primaryFiles := map[string]string{
		"stats.json":                   `{"count": 1}`,
		"uu_mined_blocks_testnet.json": "",
	}
	altFiles := map[string]string{
		"uu_mined_blocks_testnet.json": `{"latest_block_number": 5, "origin": "alt"}`,
	}
	primary := newMirrorServer(primaryFiles)
	defer primary.Close()
	alt := newMirrorServer(altFiles)
	defer alt.Close()

	engine, store := testEngine(t, primary.URL+"/mainnet/", alt.URL+"/mainnet/")
	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.Success {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	reader, err := store.Get(context.Background(), "uu_mined_blocks_testnet.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(reader)
	reader.Close()
	if !strings.Contains(string(got), `"alt"`) {
		t.Fatalf("expected alternative fallback copy: %s", got)
	}
}

func TestResolveBothFailLeavesStoredCopy(t *testing.T) {
	primaryFiles := map[string]string{
		"stats.json":                   `{"count": 1}`,
		"uu_mined_blocks_testnet.json": "",
	}
	primary := newMirrorServer(primaryFiles)
	defer primary.Close()

	engine, store := testEngine(t, primary.URL+"/mainnet/", "")
	body := `{"latest_block_number": 7}`
	if err := store.Put(context.Background(), "uu_mined_blocks_testnet.json", strings.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	summary, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Errors != 1 {
		t.Fatalf("expected one resolution error: %+v", summary)
	}

	reader, err := store.Get(context.Background(), "uu_mined_blocks_testnet.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(reader)
	reader.Close()
	if string(got) != body {
		t.Fatal("stored copy must survive a failed resolution")
	}
}
