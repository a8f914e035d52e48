package util

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// BuildArchiveKey constructs the object key for a mirror archive.
func BuildArchiveKey(prefix string, when time.Time, extension string) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, strings.Trim(prefix, "/"))
	}
	name := when.UTC().Format("20060102T150405Z")
	if extension != "" {
		name = name + "." + extension
	}
	parts = append(parts, "archives", name)
	return path.Join(parts...)
}

// BuildPrefix joins non-empty path segments into a listing prefix.
func BuildPrefix(segments ...string) string {
	parts := []string{}
	for _, s := range segments {
		if s != "" {
			parts = append(parts, strings.Trim(s, "/"))
		}
	}
	return path.Join(parts...)
}

// RelativeKey maps a file URL under baseURL to its mirror key, mirroring
// the remote directory layout. Returns "" when the URL is outside the base.
func RelativeKey(baseURL, fileURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	u, err := url.Parse(fileURL)
	if err != nil {
		return ""
	}
	rel := strings.TrimPrefix(u.Path, base.Path)
	if rel == u.Path && !strings.HasPrefix(u.Path, base.Path) {
		return ""
	}
	return strings.TrimPrefix(rel, "/")
}
