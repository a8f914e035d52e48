package mirror

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/b0x-token/data-mirror/internal/config"
	"github.com/b0x-token/data-mirror/internal/fetch"
	"github.com/b0x-token/data-mirror/internal/storage"
	"github.com/b0x-token/data-mirror/internal/util"
)

// Outcome classifies what a sync did with one file.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeDownloaded
	OutcomeUpdated
	OutcomeError
)

// Summary records one sync run.
type Summary struct {
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	PrimaryURL       string    `json:"primary_url"`
	AltURL           string    `json:"alt_url,omitempty"`
	PrimaryAvailable bool      `json:"primary_available"`
	AltAvailable     bool      `json:"alt_available"`
	Success          bool      `json:"success"`
	DryRun           bool      `json:"dry_run,omitempty"`
	Downloaded       int       `json:"downloaded"`
	Updated          int       `json:"updated"`
	Skipped          int       `json:"skipped"`
	Errors           int       `json:"errors"`
	Files            []string  `json:"files"`
}

// Engine performs a single mirror pass.
type Engine struct {
	cfg    config.MirrorConfig
	client *fetch.Client
	store  storage.Storage
	log    zerolog.Logger
	DryRun bool

	mu      sync.Mutex
	summary *Summary
}

func NewEngine(cfg config.MirrorConfig, client *fetch.Client, store storage.Storage, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, client: client, store: store, log: log}
}

// Run executes one sync pass. An unavailable primary source, or a walk that
// finds no files at all, is a fail-safe no-op: the existing mirror is left
// untouched and the summary reports failure. Run only returns an error for
// faults that prevented the pass from being attempted at all.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	e.summary = &Summary{
		StartedAt:  time.Now().UTC(),
		PrimaryURL: e.cfg.SourceURL,
		AltURL:     e.cfg.AltSourceURL,
		DryRun:     e.DryRun,
	}
	defer func() { e.summary.FinishedAt = time.Now().UTC() }()

	if err := e.client.Probe(ctx, e.cfg.SourceURL); err != nil {
		e.log.Warn().Err(err).Str("source", e.cfg.SourceURL).Msg("primary source unavailable, preserving existing mirror")
		return e.summary, nil
	}
	e.summary.PrimaryAvailable = true

	if e.cfg.AltSourceURL != "" {
		if err := e.client.Probe(ctx, e.cfg.AltSourceURL); err != nil {
			e.log.Warn().Err(err).Str("source", e.cfg.AltSourceURL).Msg("alternative source unavailable")
		} else {
			e.summary.AltAvailable = true
		}
	}

	if err := e.walk(ctx, e.cfg.SourceURL); err != nil {
		return e.summary, err
	}

	if len(e.summary.Files) == 0 {
		e.log.Warn().Msg("no files found during mirroring, preserving existing mirror")
		return e.summary, nil
	}

	sort.Strings(e.summary.Files)
	e.summary.Success = true
	return e.summary, nil
}

func (e *Engine) walk(ctx context.Context, dirURL string) error {
	entries, err := e.client.Listing(ctx, dirURL)
	if err != nil {
		return fmt.Errorf("list %s: %w", dirURL, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.MaxParallelism)

	for _, entry := range entries {
		if entry.IsDir {
			if err := e.walk(ctx, entry.URL); err != nil {
				return err
			}
			continue
		}
		key := util.RelativeKey(e.cfg.SourceURL, entry.URL)
		if key == "" || e.excluded(key) {
			continue
		}
		fileURL := entry.URL
		group.Go(func() error {
			e.syncFile(groupCtx, fileURL, key)
			return nil
		})
	}
	return group.Wait()
}

func (e *Engine) syncFile(ctx context.Context, fileURL, key string) {
	name := path.Base(key)
	var content []byte
	var err error

	if e.resolved(name) {
		content, err = e.resolveSources(ctx, name)
	} else {
		err = util.Retry(ctx, e.cfg.RetryCount, e.cfg.RetryBackoff, func() error {
			var fetchErr error
			content, fetchErr = e.client.Fetch(ctx, fileURL)
			return fetchErr
		})
	}
	if err != nil {
		e.log.Error().Err(err).Str("key", key).Msg("fetch failed")
		e.record(key, OutcomeError)
		return
	}
	if len(content) == 0 {
		e.log.Warn().Str("key", key).Msg("skipping empty file")
		e.record(key, OutcomeSkipped)
		return
	}

	outcome, err := e.storeIfChanged(ctx, key, content)
	if err != nil {
		e.log.Error().Err(err).Str("key", key).Msg("store failed")
		e.record(key, OutcomeError)
		return
	}
	e.record(key, outcome)

	switch outcome {
	case OutcomeDownloaded:
		e.log.Info().Str("key", key).Int("bytes", len(content)).Msg("downloaded")
	case OutcomeUpdated:
		e.log.Info().Str("key", key).Int("bytes", len(content)).Msg("updated")
	default:
		e.log.Debug().Str("key", key).Msg("unchanged")
	}
}

// storeIfChanged writes content only when its MD5 differs from the stored
// copy. An absent stored copy counts as a download, a changed one as an
// update.
func (e *Engine) storeIfChanged(ctx context.Context, key string, content []byte) (Outcome, error) {
	newHash := hashBytes(content)
	oldHash, err := e.store.ContentMD5(ctx, key)
	if err != nil {
		return OutcomeError, err
	}
	if oldHash == newHash {
		return OutcomeSkipped, nil
	}
	if !e.DryRun {
		if err := e.store.Put(ctx, key, newReader(content), int64(len(content))); err != nil {
			return OutcomeError, err
		}
	}
	if oldHash == "" {
		return OutcomeDownloaded, nil
	}
	return OutcomeUpdated, nil
}

func (e *Engine) record(key string, outcome Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if outcome != OutcomeError {
		e.summary.Files = append(e.summary.Files, key)
	}
	switch outcome {
	case OutcomeDownloaded:
		e.summary.Downloaded++
	case OutcomeUpdated:
		e.summary.Updated++
	case OutcomeSkipped:
		e.summary.Skipped++
	case OutcomeError:
		e.summary.Errors++
	}
}

func (e *Engine) excluded(key string) bool {
	name := path.Base(key)
	for _, x := range e.cfg.Exclude {
		if name == x {
			return true
		}
	}
	return false
}

func (e *Engine) resolved(name string) bool {
	for _, r := range e.cfg.Resolve {
		if name == r {
			return true
		}
	}
	return false
}

func hashBytes(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}
