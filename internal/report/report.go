package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/b0x-token/data-mirror/internal/mirror"
	"github.com/b0x-token/data-mirror/internal/storage"
)

const (
	IndexName  = "index.json"
	ReadmeName = "README.md"

	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Index is the machine-readable manifest written into the mirror.
type Index struct {
	LastUpdated          string     `json:"last_updated"`
	SourceURL            string     `json:"source_url"`
	AlternativeSourceURL string     `json:"alternative_source_url,omitempty"`
	Stats                Stats      `json:"stats"`
	Files                []FileInfo `json:"files"`
}

type Stats struct {
	Downloaded int `json:"downloaded"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

type FileInfo struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
	MD5      string `json:"md5"`
}

// Writer renders run artifacts into the mirror.
type Writer struct {
	Store      storage.Storage
	StatusFile string
}

// Write builds index.json and README.md from the stored mirror tree and the
// run summary. The index never lists itself, the README, archives, or
// archive manifests.
func (w *Writer) Write(ctx context.Context, summary *mirror.Summary) error {
	index, err := w.buildIndex(ctx, summary)
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	if err := w.Store.Put(ctx, IndexName, bytes.NewReader(payload), int64(len(payload))); err != nil {
		return fmt.Errorf("write %s: %w", IndexName, err)
	}

	readme := renderReadme(index)
	if err := w.Store.Put(ctx, ReadmeName, strings.NewReader(readme), int64(len(readme))); err != nil {
		return fmt.Errorf("write %s: %w", ReadmeName, err)
	}
	return nil
}

// WriteStatus writes the SUCCESS/FAILED sentinel for the calling workflow.
func (w *Writer) WriteStatus(success bool) error {
	if w.StatusFile == "" {
		return nil
	}
	status := StatusFailed
	if success {
		status = StatusSuccess
	}
	return os.WriteFile(w.StatusFile, []byte(status), 0o644)
}

func (w *Writer) buildIndex(ctx context.Context, summary *mirror.Summary) (*Index, error) {
	objects, err := w.Store.List(ctx, "")
	if err != nil {
		return nil, err
	}

	index := &Index{
		LastUpdated:          time.Now().UTC().Format(time.RFC3339),
		SourceURL:            summary.PrimaryURL,
		AlternativeSourceURL: summary.AltURL,
		Stats: Stats{
			Downloaded: summary.Downloaded,
			Updated:    summary.Updated,
			Skipped:    summary.Skipped,
			Errors:     summary.Errors,
		},
		Files: []FileInfo{},
	}

	for _, obj := range objects {
		if excludedFromIndex(obj) {
			continue
		}
		sum, err := w.Store.ContentMD5(ctx, obj.Key)
		if err != nil {
			return nil, err
		}
		index.Files = append(index.Files, FileInfo{
			Path:     obj.Key,
			Size:     obj.Size,
			Modified: obj.Modified.UTC().Format(time.RFC3339),
			MD5:      sum,
		})
	}
	sort.Slice(index.Files, func(i, j int) bool { return index.Files[i].Path < index.Files[j].Path })
	return index, nil
}

func excludedFromIndex(obj storage.ObjectInfo) bool {
	if obj.Key == IndexName || obj.Key == ReadmeName || obj.IsManifest {
		return true
	}
	return strings.HasPrefix(obj.Key, "archives/")
}

func renderReadme(index *Index) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Data Backup\n\n")
	fmt.Fprintf(&b, "This directory contains a backup mirror of [%s](%s)\n\n", index.SourceURL, index.SourceURL)
	if index.AlternativeSourceURL != "" {
		fmt.Fprintf(&b, "**Alternative Source:** [%s](%s)\n\n", index.AlternativeSourceURL, index.AlternativeSourceURL)
	}
	fmt.Fprintf(&b, "**Last Updated:** %s\n\n", index.LastUpdated)

	b.WriteString("## ⚠️ Important Notes\n")
	b.WriteString("- This is a backup mirror that only updates when the source server is available\n")
	b.WriteString("- Resolved files automatically follow whichever source has the highest `latest_block_number`\n")
	b.WriteString("- If the source server is down, no changes will be made to preserve existing data\n")
	b.WriteString("- Files are only updated when their content actually changes\n\n")

	b.WriteString("## Statistics (Latest Run)\n")
	fmt.Fprintf(&b, "- Files Downloaded: %d\n", index.Stats.Downloaded)
	fmt.Fprintf(&b, "- Files Updated: %d\n", index.Stats.Updated)
	fmt.Fprintf(&b, "- Files Skipped (no changes): %d\n", index.Stats.Skipped)
	fmt.Fprintf(&b, "- Errors: %d\n", index.Stats.Errors)
	fmt.Fprintf(&b, "- Total Files in Backup: %d\n\n", len(index.Files))

	b.WriteString("## Files in Backup\n")
	for _, ext := range sortedExtensions(index.Files) {
		fmt.Fprintf(&b, "\n### %s Files\n", strings.ToUpper(ext))
		for _, file := range index.Files {
			if extensionOf(file.Path) != ext {
				continue
			}
			fmt.Fprintf(&b, "- [`%s`](%s) (%.1f KB)\n", file.Path, file.Path, float64(file.Size)/1024)
		}
	}
	return b.String()
}

func extensionOf(p string) string {
	ext := path.Ext(p)
	if ext == "" {
		return "no extension"
	}
	return ext
}

func sortedExtensions(files []FileInfo) []string {
	seen := map[string]bool{}
	var exts []string
	for _, file := range files {
		ext := extensionOf(file.Path)
		if !seen[ext] {
			seen[ext] = true
			exts = append(exts, ext)
		}
	}
	sort.Strings(exts)
	return exts
}
