package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// Prefixed namespaces every key under a fixed prefix, so one bucket can
// hold several mirrors. Keys seen by callers stay relative.
type Prefixed struct {
	Inner  Storage
	Prefix string
}

func WithPrefix(inner Storage, prefix string) Storage {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return inner
	}
	return &Prefixed{Inner: inner, Prefix: prefix}
}

func (p *Prefixed) join(key string) string {
	return path.Join(p.Prefix, key)
}

func (p *Prefixed) strip(key string) string {
	return strings.TrimPrefix(strings.TrimPrefix(key, p.Prefix), "/")
}

func (p *Prefixed) Put(ctx context.Context, key string, reader io.Reader, size int64) error {
	return p.Inner.Put(ctx, p.join(key), reader, size)
}

func (p *Prefixed) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return p.Inner.Get(ctx, p.join(key))
}

func (p *Prefixed) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := p.Inner.Stat(ctx, p.join(key))
	if err != nil {
		return ObjectInfo{}, err
	}
	info.Key = p.strip(info.Key)
	return info, nil
}

func (p *Prefixed) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	infos, err := p.Inner.List(ctx, p.join(prefix))
	if err != nil {
		return nil, err
	}
	for i := range infos {
		infos[i].Key = p.strip(infos[i].Key)
	}
	return infos, nil
}

func (p *Prefixed) Delete(ctx context.Context, key string) error {
	return p.Inner.Delete(ctx, p.join(key))
}

func (p *Prefixed) Exists(ctx context.Context, key string) (bool, error) {
	return p.Inner.Exists(ctx, p.join(key))
}

func (p *Prefixed) ContentMD5(ctx context.Context, key string) (string, error) {
	return p.Inner.ContentMD5(ctx, p.join(key))
}
