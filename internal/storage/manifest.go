package storage

import "time"

const ManifestSuffix = ".manifest.json"

// Manifest describes one stored mirror archive.
type Manifest struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	CreatedAt   time.Time `json:"created_at"`
	SizeBytes   int64     `json:"size_bytes"`
	FileCount   int       `json:"file_count"`
	Compression string    `json:"compression"`
	Encryption  bool      `json:"encryption"`
	ToolVersion string    `json:"tool_version"`
}

func ManifestKey(objectKey string) string {
	return objectKey + ManifestSuffix
}
