package report

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/b0x-token/data-mirror/internal/mirror"
	"github.com/b0x-token/data-mirror/internal/storage"
)

func seedStore(t *testing.T) storage.Storage {
	t.Helper()
	store := storage.NewLocal(t.TempDir())
	ctx := context.Background()
	seed := map[string]string{
		"uu_mined_blocks_testnet.json":       `{"latest_block_number": 9}`,
		"graph/points.csv":                   "t,v\n1,2\n",
		"archives/20240101T000000Z.tar.zst":  "archive bytes",
		"archives/20240101T000000Z.tar.zst" + storage.ManifestSuffix: "{}",
	}
	for key, body := range seed {
		if err := store.Put(ctx, key, strings.NewReader(body), int64(len(body))); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	return store
}

func TestWriteIndexAndReadme(t *testing.T) {
	store := seedStore(t)
	writer := &Writer{Store: store}
	summary := &mirror.Summary{
		PrimaryURL: "https://data.example.org/mainnet/",
		AltURL:     "https://alt.example.org/mainnet/",
		Downloaded: 1,
		Updated:    1,
		Skipped:    0,
		Errors:     0,
	}

	if err := writer.Write(context.Background(), summary); err != nil {
		t.Fatalf("write: %v", err)
	}

	reader, err := store.Get(context.Background(), IndexName)
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	payload, _ := io.ReadAll(reader)
	reader.Close()

	var index Index
	if err := json.Unmarshal(payload, &index); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if len(index.Files) != 2 {
		t.Fatalf("index must list only mirrored files, got %v", index.Files)
	}
	if !sort.SliceIsSorted(index.Files, func(i, j int) bool { return index.Files[i].Path < index.Files[j].Path }) {
		t.Fatal("index files not sorted")
	}
	for _, file := range index.Files {
		if file.MD5 == "" || file.Size == 0 || file.Modified == "" {
			t.Fatalf("incomplete file entry: %+v", file)
		}
		if file.Path == IndexName || file.Path == ReadmeName || strings.HasPrefix(file.Path, "archives/") {
			t.Fatalf("report artifact leaked into index: %s", file.Path)
		}
	}
	if index.Stats.Downloaded != 1 || index.Stats.Updated != 1 {
		t.Fatalf("unexpected stats: %+v", index.Stats)
	}

	reader, err = store.Get(context.Background(), ReadmeName)
	if err != nil {
		t.Fatalf("get readme: %v", err)
	}
	readme, _ := io.ReadAll(reader)
	reader.Close()

	text := string(readme)
	if !strings.Contains(text, "Total Files in Backup: 2") {
		t.Fatalf("readme missing total count:\n%s", text)
	}
	if !strings.Contains(text, "### .JSON Files") || !strings.Contains(text, "### .CSV Files") {
		t.Fatalf("readme missing extension sections:\n%s", text)
	}
	if !strings.Contains(text, "https://alt.example.org/mainnet/") {
		t.Fatal("readme missing alternative source link")
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	store := seedStore(t)
	writer := &Writer{Store: store}
	summary := &mirror.Summary{PrimaryURL: "https://data.example.org/mainnet/"}

	if err := writer.Write(context.Background(), summary); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := writer.Write(context.Background(), summary); err != nil {
		t.Fatalf("second write: %v", err)
	}

	reader, err := store.Get(context.Background(), IndexName)
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	payload, _ := io.ReadAll(reader)
	reader.Close()

	var index Index
	if err := json.Unmarshal(payload, &index); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if len(index.Files) != 2 {
		t.Fatalf("rewriting reports must not grow the index, got %d files", len(index.Files))
	}
}

func TestWriteStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror_status.txt")
	writer := &Writer{StatusFile: path}

	if err := writer.WriteStatus(true); err != nil {
		t.Fatalf("write status: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if string(got) != StatusSuccess {
		t.Fatalf("unexpected status %q", got)
	}

	if err := writer.WriteStatus(false); err != nil {
		t.Fatalf("write status: %v", err)
	}
	got, _ = os.ReadFile(path)
	if string(got) != StatusFailed {
		t.Fatalf("unexpected status %q", got)
	}
}

func TestWriteStatusNoFileConfigured(t *testing.T) {
	writer := &Writer{}
	if err := writer.WriteStatus(true); err != nil {
		t.Fatalf("expected nil for unset status file, got %v", err)
	}
}
