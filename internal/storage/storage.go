package storage

import (
	"context"
	"io"
	"time"
)

type ObjectInfo struct {
	Key        string
	Size       int64
	Modified   time.Time
	ETag       string
	IsManifest bool
}

type Storage interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// ContentMD5 returns the hex MD5 of the stored object's content, or ""
	// when the object does not exist. Change detection depends on this.
	ContentMD5(ctx context.Context, key string) (string, error)
}
