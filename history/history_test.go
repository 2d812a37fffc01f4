package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/go-cmp/cmp"
)

// setupTestStore opens a private in-memory store.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mount, err := SQLMount("")
	if err != nil {
		t.Fatal(err)
	}
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	store, err := Open(context.Background(), dsn, mount, nil)
	if err != nil {
		t.Fatalf("in-memory test database opening error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("unexpected db close error: %v", err)
		}
	})
	return store
}

func TestRecordAndListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := []Run{
		{
			ID:             "run-1",
			CreatedAt:      base,
			Prompt:         "uplifting synthwave",
			TaskType:       "text2music",
			AudioFormat:    "mp3",
			BatchSize:      2,
			Seed:           -1,
			Success:        true,
			ElapsedSeconds: 41.25,
			OutputDir:      "/out",
			AudioPaths:     []string{"/out/a_0.mp3", "/out/a_1.mp3"},
		},
		{
			ID:          "run-2",
			CreatedAt:   base.Add(500 * time.Millisecond),
			Prompt:      "sad piano",
			TaskType:    "cover",
			AudioFormat: "wav",
			BatchSize:   1,
			Seed:        42,
			Success:     false,
			Error:       "task failed: out of memory",
			AudioPaths:  nil,
		},
		{
			ID:          "run-3",
			CreatedAt:   base.Add(2 * time.Second),
			Prompt:      "it's a 'quoted' prompt",
			TaskType:    "text2music",
			AudioFormat: "flac",
			BatchSize:   1,
			Seed:        7,
			Success:     true,
			OutputDir:   "/out",
			AudioPaths:  []string{"/out/c_0.flac"},
		},
	}
	for _, r := range runs {
		if _, err := store.RecordRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Runs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []Run{runs[2], runs[1], runs[0]}
	want[1].AudioPaths = []string{}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}

	limited, err := store.Runs(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(limited), 1; got != want {
		t.Fatalf("got %d runs want %d", got, want)
	}
	if got, want := limited[0].ID, "run-3"; got != want {
		t.Errorf("got newest %q want %q", got, want)
	}
}

func TestRecordRunDefaults(t *testing.T) {
	store := setupTestStore(t)
	store.now = func() time.Time { return time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC) }

	run, err := store.RecordRun(context.Background(), Run{Prompt: "drone", TaskType: "text2music", AudioFormat: "mp3", BatchSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.ID) != 36 {
		t.Errorf("expected a uuid, got %q", run.ID)
	}
	if !run.CreatedAt.Equal(store.now()) {
		t.Errorf("got created at %v", run.CreatedAt)
	}

	if _, err := store.RecordRun(context.Background(), Run{ID: run.ID, Prompt: "dup"}); err == nil {
		t.Error("expected a duplicate id error")
	}
}

func TestRunsLimit(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.Runs(context.Background(), 0); err == nil {
		t.Error("expected error for zero limit")
	}
	runs, err := store.Runs(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}

func TestOpenErrors(t *testing.T) {
	mount, err := SQLMount("")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("memory without shared cache", func(t *testing.T) {
		_, err := Open(context.Background(), "file::memory:", mount, nil)
		if err == nil || !strings.Contains(err.Error(), "cache=shared") {
			t.Errorf("expected shared cache error, got %v", err)
		}
	})

	t.Run("query without parameters", func(t *testing.T) {
		sqlFS := fstest.MapFS{
			"schema.sql":     {Data: []byte("CREATE TABLE IF NOT EXISTS runs (id TEXT);")},
			"run_insert.sql": {Data: []byte("INSERT INTO runs (id) VALUES ('x');")},
			"runs.sql":       {Data: []byte("SELECT id FROM runs;")},
		}
		_, err := Open(context.Background(), "file:noparams?mode=memory&cache=shared", sqlFS, nil)
		if err == nil || !strings.Contains(err.Error(), "run insert statement") {
			t.Errorf("expected run insert statement error, got %v", err)
		}
	})
}

func TestOpenOnDisk(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "acegen.db")
	mount, err := SQLMount("")
	if err != nil {
		t.Fatal(err)
	}

	store, err := Open(context.Background(), dbPath, mount, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.RecordRun(context.Background(), Run{Prompt: "kept", TaskType: "text2music", AudioFormat: "mp3", BatchSize: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(context.Background(), dbPath, mount, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	runs, err := reopened.Runs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Prompt != "kept" {
		t.Errorf("unexpected runs after reopen: %+v", runs)
	}
}

func TestSQLMountOverride(t *testing.T) {
	dir := t.TempDir()
	embedded, err := SQLMount("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := embedded.Materialize(dir); err != nil {
		t.Fatal(err)
	}

	onDisk, err := SQLMount(dir)
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.Embedded {
		t.Error("expected an on-disk mount")
	}
	store, err := Open(context.Background(), "file:override?mode=memory&cache=shared", onDisk, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Close()
}

func TestOpenFileURI(t *testing.T) {
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "uri", "acegen.db")
	mount, err := SQLMount("")
	if err != nil {
		t.Fatal(err)
	}

	store, err := Open(context.Background(), "file:"+dbFile+"?mode=rwc", mount, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := store.RecordRun(context.Background(), Run{Prompt: "uri", TaskType: "text2music", AudioFormat: "mp3", BatchSize: 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dbFile); err != nil {
		t.Errorf("expected database file at %s: %v", dbFile, err)
	}

	var journal string
	if err := store.GetContext(context.Background(), &journal, "PRAGMA journal_mode"); err != nil {
		t.Fatal(err)
	}
	if journal != "wal" {
		t.Errorf("got journal mode %q want wal", journal)
	}
}

func TestWithPragmas(t *testing.T) {
	tests := []struct {
		dbPath, want string
	}{
		{"acegen.db", "acegen.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
		{"file:acegen.db?mode=rwc", "file:acegen.db?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
	}
	for _, tt := range tests {
		if got := withPragmas(tt.dbPath); got != tt.want {
			t.Errorf("withPragmas(%q) = %q want %q", tt.dbPath, got, tt.want)
		}
	}
	if got, want := filePart("file:/data/acegen.db?mode=rwc"), "/data/acegen.db"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
