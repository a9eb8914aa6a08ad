package history

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStore_SaveAndRecentBuilds(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state", "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	first := BuildRecord{
		ID:          "build-1",
		Timestamp:   base,
		ConfigHash:  "abc",
		Variants:    []string{"en_US", "fr_FR"},
		Modules:     12,
		Bundles:     3,
		CacheHits:   0,
		CacheMisses: 12,
		Duration:    1500 * time.Millisecond,
	}
	second := BuildRecord{
		ID:          "build-2",
		Timestamp:   base.Add(time.Minute),
		ConfigHash:  "abc",
		Status:      StatusFailed,
		Incremental: true,
		Variants:    []string{"en_US"},
		CacheHits:   9,
		CacheMisses: 3,
		Error:       "[CYCLE_ERROR] import cycle detected",
	}

	for _, rec := range []BuildRecord{first, second} {
		if err := store.SaveBuild(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", rec.ID, err)
		}
	}

	got, err := store.RecentBuilds(ctx, 10)
	if err != nil {
		t.Fatalf("recent builds: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 builds, got %d", len(got))
	}
	if got[0].ID != "build-2" || got[1].ID != "build-1" {
		t.Fatalf("expected newest first, got %s, %s", got[0].ID, got[1].ID)
	}
	if got[1].Status != StatusSuccess {
		t.Fatalf("expected default status success, got %q", got[1].Status)
	}
	if got[1].Duration != 1500*time.Millisecond {
		t.Fatalf("expected duration to roundtrip, got %s", got[1].Duration)
	}
	if strings.Join(got[1].Variants, ",") != "en_US,fr_FR" {
		t.Fatalf("unexpected variants %v", got[1].Variants)
	}
	if !got[0].Incremental || got[0].Error == "" {
		t.Fatalf("expected incremental failed build, got %+v", got[0])
	}
	if got[0].CacheHitRatio() != 0.75 {
		t.Fatalf("expected hit ratio 0.75, got %v", got[0].CacheHitRatio())
	}

	limited, err := store.RecentBuilds(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "build-2" {
		t.Fatalf("unexpected limited result %+v", limited)
	}
}

func TestStore_SaveBuildAssignsIDAndUpserts(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.SaveBuild(ctx, BuildRecord{ConfigHash: "x"}); err != nil {
		t.Fatal(err)
	}
	rows, err := store.RecentBuilds(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || len(rows[0].ID) != 36 {
		t.Fatalf("expected a generated uuid, got %+v", rows)
	}

	rows[0].Status = StatusPartial
	if err := store.SaveBuild(ctx, rows[0]); err != nil {
		t.Fatal(err)
	}
	again, err := store.RecentBuilds(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 || again[0].Status != StatusPartial {
		t.Fatalf("expected upsert by id, got %+v", again)
	}
}

func TestStore_OpenRejectsDirectoryPath(t *testing.T) {
	_, err := Open(t.TempDir())
	if err == nil {
		t.Fatal("expected open error for directory path")
	}
	if !strings.Contains(err.Error(), "is a directory") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStore_OpenCorruptDBPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	if err := os.WriteFile(path, []byte("this is not sqlite"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path)
	if err == nil {
		t.Fatal("expected sqlite open error")
	}
	lower := strings.ToLower(err.Error())
	if !strings.Contains(lower, "not a database") && !strings.Contains(lower, "schema") {
		t.Fatalf("expected schema/open error, got: %v", err)
	}
}

func TestEnsureSchema_DetectsNewerVersionDrift(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.db.Exec(`INSERT OR REPLACE INTO schema_migrations(version) VALUES (?)`, SchemaVersion+1); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open(driverName, "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	err = EnsureSchema(db)
	if err == nil {
		t.Fatal("expected drift error")
	}
	if !strings.Contains(err.Error(), "newer than supported") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}
	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if second.Path() != path {
		t.Fatalf("unexpected path %q", second.Path())
	}
}

func TestIsCorruptError(t *testing.T) {
	if !IsCorruptError(errors.New("database disk image is malformed")) {
		t.Fatal("expected malformed sqlite message to be treated as corrupt")
	}
	if IsCorruptError(nil) {
		t.Fatal("nil is not corrupt")
	}
}
