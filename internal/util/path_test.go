package util

import (
	"strings"
	"testing"
	"time"
)

func TestBuildArchiveKey(t *testing.T) {
	when := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	key := BuildArchiveKey("", when, "tar.zst")
	if key != "archives/20240101T100000Z.tar.zst" {
		t.Fatalf("unexpected key: %s", key)
	}
	key = BuildArchiveKey("mainnet", when, "tar.gz.enc")
	if !strings.HasPrefix(key, "mainnet/archives/") {
		t.Fatalf("unexpected prefix: %s", key)
	}
}

func TestBuildPrefix(t *testing.T) {
	prefix := BuildPrefix("mirrors", "", "mainnet")
	if prefix != "mirrors/mainnet" {
		t.Fatalf("unexpected prefix: %s", prefix)
	}
}

func TestRelativeKey(t *testing.T) {
	base := "https://data.example.org/mainnet/"
	key := RelativeKey(base, "https://data.example.org/mainnet/graph/stats.json")
	if key != "graph/stats.json" {
		t.Fatalf("unexpected key: %s", key)
	}
	if key := RelativeKey(base, "https://elsewhere.example.org/other.json"); key != "" {
		t.Fatalf("expected empty key for out-of-tree URL, got %s", key)
	}
}
