package app

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/b0x-token/data-mirror/internal/compress"
	"github.com/b0x-token/data-mirror/internal/config"
	"github.com/b0x-token/data-mirror/internal/cryptoutil"
	"github.com/b0x-token/data-mirror/internal/fetch"
	"github.com/b0x-token/data-mirror/internal/history"
	"github.com/b0x-token/data-mirror/internal/lock"
	"github.com/b0x-token/data-mirror/internal/mirror"
	"github.com/b0x-token/data-mirror/internal/notify"
	"github.com/b0x-token/data-mirror/internal/report"
	"github.com/b0x-token/data-mirror/internal/storage"
	"github.com/b0x-token/data-mirror/internal/util"
	"github.com/b0x-token/data-mirror/internal/version"
)

const archivePrefix = "archives/"

type App struct {
	Cfg      *config.Config
	Client   *fetch.Client
	Storage  storage.Storage
	History  *history.Store
	Log      zerolog.Logger
	Notifier notify.Notifier
}

func New(cfg *config.Config, client *fetch.Client, store storage.Storage, hist *history.Store, log zerolog.Logger, notifier notify.Notifier) *App {
	return &App{Cfg: cfg, Client: client, Storage: store, History: hist, Log: log, Notifier: notifier}
}

// Sync runs one mirror pass: availability gate, walk, conditional writes,
// then reports, history, and notifications. An unavailable source yields a
// failed summary but no error; the mirror stays as it was.
func (a *App) Sync(ctx context.Context, dryRun bool) (*mirror.Summary, error) {
	start := time.Now()
	var opErr error
	var summary *mirror.Summary
	defer func() {
		a.notifyRun("sync", summary, start, opErr)
	}()

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		opErr = err
		return nil, err
	}
	defer guard.Release()

	ok, err := util.InWindow(time.Now(), a.Cfg.Schedule.WindowStart, a.Cfg.Schedule.WindowEnd, a.Cfg.Schedule.Timezone)
	if err != nil {
		opErr = err
		return nil, err
	}
	if !ok {
		opErr = fmt.Errorf("current time is outside the configured run window")
		return nil, opErr
	}

	engine := mirror.NewEngine(a.Cfg.Mirror, a.Client, a.Storage, a.Log)
	engine.DryRun = dryRun
	summary, err = engine.Run(ctx)
	if err != nil {
		opErr = err
		return summary, err
	}

	writer := &report.Writer{Store: a.Storage, StatusFile: a.Cfg.Report.StatusFile}
	if !dryRun {
		if a.Cfg.Report.Enabled && summary.Success {
			if err := writer.Write(ctx, summary); err != nil {
				a.Log.Warn().Err(err).Msg("failed to write report")
			}
		}
		if err := writer.WriteStatus(summary.Success); err != nil {
			a.Log.Warn().Err(err).Msg("failed to write status file")
		}
		if a.History != nil {
			if err := a.History.Record(summary, a.Cfg.History.Keep); err != nil {
				a.Log.Warn().Err(err).Msg("failed to record run history")
			}
		}
	}

	if !summary.Success {
		opErr = fmt.Errorf("mirror run failed (source unavailable or empty listing)")
	}
	return summary, nil
}

// Archive snapshots the mirror tree into a compressed (and optionally
// encrypted) tar stored under archives/, then applies retention.
func (a *App) Archive(ctx context.Context) (*storage.Manifest, error) {
	start := time.Now()
	var opErr error
	defer func() {
		a.notifyRun("archive", nil, start, opErr)
	}()

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		opErr = err
		return nil, err
	}
	defer guard.Release()

	if a.Cfg.Archive.Encryption && a.Cfg.Archive.EncryptionKey == "" {
		opErr = fmt.Errorf("archive encryption is enabled but encryption_key is empty")
		return nil, opErr
	}

	objects, err := a.Storage.List(ctx, "")
	if err != nil {
		opErr = err
		return nil, err
	}
	var files []storage.ObjectInfo
	for _, obj := range objects {
		if strings.HasPrefix(obj.Key, archivePrefix) || obj.IsManifest {
			continue
		}
		files = append(files, obj)
	}
	if len(files) == 0 {
		opErr = fmt.Errorf("nothing to archive")
		return nil, opErr
	}

	now := time.Now()
	ext := compress.Extension(a.Cfg.Archive.Compression, a.Cfg.Archive.Encryption)
	key := util.BuildArchiveKey("", now, ext)

	pipeReader, pipeWriter := io.Pipe()
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer pipeReader.Close()
		return a.Storage.Put(egCtx, key, pipeReader, -1)
	})

	eg.Go(func() error {
		err := a.writeArchive(egCtx, pipeWriter, files)
		if err != nil {
			_ = pipeWriter.CloseWithError(err)
			return err
		}
		return pipeWriter.Close()
	})

	if err := eg.Wait(); err != nil {
		opErr = err
		return nil, err
	}

	stat, err := a.Storage.Stat(ctx, key)
	if err != nil {
		opErr = err
		return nil, err
	}
	manifest := storage.Manifest{
		ID:          fmt.Sprintf("archive-%d", now.UnixNano()),
		Key:         key,
		CreatedAt:   now.UTC(),
		SizeBytes:   stat.Size,
		FileCount:   len(files),
		Compression: a.Cfg.Archive.Compression,
		Encryption:  a.Cfg.Archive.Encryption,
		ToolVersion: version.Version,
	}
	if err := a.writeManifest(ctx, manifest); err != nil {
		a.Log.Warn().Err(err).Msg("failed to write archive manifest")
	}

	_ = a.applyRetention(ctx)

	return &manifest, nil
}

func (a *App) writeArchive(ctx context.Context, out io.Writer, files []storage.ObjectInfo) error {
	writer := out
	var closers []io.Closer

	if a.Cfg.Archive.Encryption {
		keyBytes, err := cryptoutil.ParseKey(a.Cfg.Archive.EncryptionKey)
		if err != nil {
			return err
		}
		encWriter, err := cryptoutil.EncryptWriter(writer, keyBytes)
		if err != nil {
			return err
		}
		writer = encWriter
		closers = append(closers, encWriter)
	}

	compWriter, err := compress.WrapWriter(a.Cfg.Archive.Compression, writer)
	if err != nil {
		return err
	}
	writer = compWriter
	closers = append(closers, compWriter)

	tw := tar.NewWriter(writer)
	for _, file := range files {
		if err := a.addToArchive(ctx, tw, file); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) addToArchive(ctx context.Context, tw *tar.Writer, file storage.ObjectInfo) error {
	reader, err := a.Storage.Get(ctx, file.Key)
	if err != nil {
		return fmt.Errorf("read %s: %w", file.Key, err)
	}
	defer reader.Close()

	header := &tar.Header{
		Name:    file.Key,
		Mode:    0o644,
		Size:    file.Size,
		ModTime: file.Modified,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if _, err := io.Copy(tw, reader); err != nil {
		return fmt.Errorf("archive %s: %w", file.Key, err)
	}
	return nil
}

func (a *App) applyRetention(ctx context.Context) error {
	policy := a.Cfg.Archive.Retention
	if policy.KeepDays == 0 && policy.KeepLast == 0 && policy.MaxBytes == 0 {
		return nil
	}
	objects, err := a.Storage.List(ctx, archivePrefix)
	if err != nil {
		return err
	}
	var archives []storage.ObjectInfo
	for _, obj := range objects {
		if obj.IsManifest {
			continue
		}
		archives = append(archives, obj)
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].Modified.After(archives[j].Modified) })

	cutoff := time.Now().AddDate(0, 0, -policy.KeepDays)
	var totalSize int64
	for _, obj := range archives {
		totalSize += obj.Size
	}
	for i, obj := range archives {
		if policy.KeepLast > 0 && i < policy.KeepLast {
			continue
		}
		if policy.KeepDays > 0 && obj.Modified.After(cutoff) {
			continue
		}
		if policy.MaxBytes > 0 && totalSize <= policy.MaxBytes {
			continue
		}
		_ = a.Storage.Delete(ctx, obj.Key)
		_ = a.Storage.Delete(ctx, storage.ManifestKey(obj.Key))
		totalSize -= obj.Size
	}
	return nil
}

// Validate checks the source and the storage backend without writing.
func (a *App) Validate(ctx context.Context) error {
	if err := a.Client.Probe(ctx, a.Cfg.Mirror.SourceURL); err != nil {
		return fmt.Errorf("primary source: %w", err)
	}
	if a.Cfg.Mirror.AltSourceURL != "" {
		if err := a.Client.Probe(ctx, a.Cfg.Mirror.AltSourceURL); err != nil {
			a.Log.Warn().Err(err).Msg("alternative source unavailable")
		}
	}
	if _, err := a.Storage.List(ctx, ""); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

// List returns the stored mirror objects.
func (a *App) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	return a.Storage.List(ctx, "")
}

func (a *App) writeManifest(ctx context.Context, manifest storage.Manifest) error {
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	key := storage.ManifestKey(manifest.Key)
	return a.Storage.Put(ctx, key, strings.NewReader(string(payload)), int64(len(payload)))
}

func (a *App) notifyRun(kind string, summary *mirror.Summary, start time.Time, opErr error) {
	if a.Notifier == nil {
		return
	}
	event := notify.Event{
		Type:      kind,
		Message:   fmt.Sprintf("%s %s", kind, a.Cfg.Mirror.SourceURL),
		Status:    statusFromErr(opErr),
		StartedAt: start,
		EndedAt:   time.Now(),
		Duration:  time.Since(start).String(),
	}
	if summary != nil {
		event.Downloaded = summary.Downloaded
		event.Updated = summary.Updated
		event.Skipped = summary.Skipped
		event.Errors = summary.Errors
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	_ = a.Notifier.Notify(context.Background(), event)
}

func statusFromErr(err error) string {
	if err == nil {
		return "success"
	}
	return "failed"
}
