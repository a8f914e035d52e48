package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/b0x-token/data-mirror/internal/mirror"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func runAt(start time.Time, downloaded int) *mirror.Summary {
	return &mirror.Summary{
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Success:    true,
		Downloaded: downloaded,
	}
}

func TestRecordAndLatest(t *testing.T) {
	store := openStore(t)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, ok, err := store.Latest(); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	for i := 0; i < 3; i++ {
		if err := store.Record(runAt(base.Add(time.Duration(i)*time.Hour), i), 0); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	latest, ok, err := store.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !ok || latest.Downloaded != 2 {
		t.Fatalf("unexpected latest: ok=%v %+v", ok, latest)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	store := openStore(t)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := store.Record(runAt(base.Add(time.Duration(i)*time.Hour), i), 0); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	recent, err := store.Recent(3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(recent))
	}
	for i, want := range []int{4, 3, 2} {
		if recent[i].Downloaded != want {
			t.Fatalf("unexpected order at %d: %+v", i, recent)
		}
	}
}

func TestRecordPrunes(t *testing.T) {
	store := openStore(t)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		if err := store.Record(runAt(base.Add(time.Duration(i)*time.Hour), i), 3); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	recent, err := store.Recent(0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 retained runs, got %d", len(recent))
	}
	if recent[0].Downloaded != 9 || recent[2].Downloaded != 7 {
		t.Fatalf("pruning kept wrong runs: %+v", recent)
	}

	latest, ok, err := store.Latest()
	if err != nil || !ok {
		t.Fatalf("latest after prune: ok=%v err=%v", ok, err)
	}
	if latest.Downloaded != 9 {
		t.Fatalf("unexpected latest after prune: %+v", latest)
	}
}

func TestRecentOrderWithinSecond(t *testing.T) {
	store := openStore(t)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	// Fractions that a trimmed format would order wrongly (".1" vs ".15").
	early := base.Add(100 * time.Millisecond)
	late := base.Add(150 * time.Millisecond)
	if err := store.Record(runAt(early, 1), 0); err != nil {
		t.Fatalf("record early: %v", err)
	}
	if err := store.Record(runAt(late, 2), 0); err != nil {
		t.Fatalf("record late: %v", err)
	}

	recent, err := store.Recent(0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(recent))
	}
	if recent[0].Downloaded != 2 || recent[1].Downloaded != 1 {
		t.Fatalf("sub-second runs misordered: %+v", recent)
	}
}

func TestReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.Record(runAt(start, 7), 0); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	latest, ok, err := reopened.Latest()
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if latest.Downloaded != 7 {
		t.Fatalf("unexpected persisted run: %+v", latest)
	}
}
