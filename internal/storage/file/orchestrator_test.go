package file

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rumspool/internal/storage"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestOrchestrator(t *testing.T, opts Options) (*Orchestrator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	opts.Now = clock.Now
	o, err := NewOrchestrator(opts, nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o, clock
}

func TestNewOrchestratorRequiresDir(t *testing.T) {
	if _, err := NewOrchestrator(Options{}, nil); err == nil {
		t.Fatal("expected error without a dir")
	}
}

func TestWritableFileReusesRecentFile(t *testing.T) {
	o, clock := newTestOrchestrator(t, Options{RecentDelay: 5 * time.Second})

	first, err := o.WritableFile(3)
	if err != nil {
		t.Fatal(err)
	}
	if err := appendItem(first, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	second, err := o.WritableFile(3)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("expected reuse, got %s then %s", first, second)
	}

	clock.Advance(5 * time.Second)
	third, err := o.WritableFile(3)
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Fatal("expected rotation once the file is no longer recent")
	}
}

func TestWritableFileRotatesOnItemCount(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{RecentDelay: time.Minute, MaxItemsPerBatch: 2})

	var paths []string
	for i := 0; i < 3; i++ {
		p, err := o.WritableFile(1)
		if err != nil {
			t.Fatal(err)
		}
		if err := appendItem(p, []byte("x")); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	if paths[0] != paths[1] || paths[1] == paths[2] {
		t.Fatalf("unexpected rotation: %v", paths)
	}
}

func TestWritableFileRotatesOnSize(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{RecentDelay: time.Minute, MaxBatchSize: 10})

	first, err := o.WritableFile(6)
	if err != nil {
		t.Fatal(err)
	}
	if err := appendItem(first, []byte("aaaaaa")); err != nil {
		t.Fatal(err)
	}
	second, err := o.WritableFile(6)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("expected rotation when the payload does not fit")
	}
}

func TestWritableFileAfterWipe(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{RecentDelay: time.Minute})
	first, err := o.WritableFile(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := appendItem(first, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(first); err != nil {
		t.Fatal(err)
	}
	second, err := o.WritableFile(1)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("expected a fresh file after the old one was removed")
	}
}

func TestReadableFileSkipsRecentAndExcluded(t *testing.T) {
	o, clock := newTestOrchestrator(t, Options{RecentDelay: 5 * time.Second})

	older, _ := o.WritableFile(1)
	if err := appendItem(older, []byte("1")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(6 * time.Second)
	newer, _ := o.WritableFile(1)
	if err := appendItem(newer, []byte("2")); err != nil {
		t.Fatal(err)
	}

	got, ok, err := o.ReadableFile(nil)
	if err != nil || !ok || got != older {
		t.Fatalf("ReadableFile = %q, %v, %v; want %q", got, ok, err, older)
	}

	excluded := map[string]struct{}{filepath.Base(older): {}}
	if _, ok, _ := o.ReadableFile(excluded); ok {
		t.Fatal("newer file is still recent and must not be readable")
	}

	clock.Advance(6 * time.Second)
	got, ok, err = o.ReadableFile(excluded)
	if err != nil || !ok || got != newer {
		t.Fatalf("ReadableFile = %q, %v, %v; want %q", got, ok, err, newer)
	}
}

func TestWritableFileStopsBeforeReadable(t *testing.T) {
	o, clock := newTestOrchestrator(t, Options{RecentDelay: time.Second})

	first, err := o.WritableFile(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := appendItem(first, []byte(`"a"`)); err != nil {
		t.Fatal(err)
	}

	clock.Advance(900 * time.Millisecond)
	if again, _ := o.WritableFile(1); again != first {
		t.Fatalf("expected reuse inside the write window, got %s", again)
	}

	clock.Advance(99 * time.Millisecond)
	if _, ok, _ := o.ReadableFile(nil); ok {
		t.Fatal("file must not be readable before RecentDelay")
	}
	second, err := o.WritableFile(1)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("a file about to become readable must not take more writes")
	}
}

func TestAppendDoesNotRecreateDroppedFile(t *testing.T) {
	o, clock := newTestOrchestrator(t, Options{RecentDelay: time.Second})

	path, err := o.WritableFile(3)
	if err != nil {
		t.Fatal(err)
	}
	if err := appendItem(path, []byte(`"a"`)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(900 * time.Millisecond)
	stale, err := o.WritableFile(3)
	if err != nil || stale != path {
		t.Fatalf("WritableFile = %q, %v; want %q", stale, err, path)
	}

	clock.Advance(100 * time.Millisecond)
	r := NewReader(o, o.Dir(), nil)
	b, ok := r.ReadNextBatch()
	if !ok || string(b.Data) != `["a"]` {
		t.Fatalf("ReadNextBatch = %q, %v", b.Data, ok)
	}
	r.DropBatch(b.ID)

	if err := appendItem(stale, []byte(`"b"`)); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("append to a dropped file: err = %v, want not-exist", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("dropped batch file was recreated")
	}
}

func TestReadableFileSkipsEmptyFiles(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{})

	path, err := o.WritableFile(1)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := o.ReadableFile(nil); ok {
		t.Fatal("an empty batch file must not be readable")
	}
	if err := appendItem(path, []byte("1")); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := o.ReadableFile(nil); !ok || got != path {
		t.Fatalf("ReadableFile = %q, %v; want %q", got, ok, path)
	}
}

func TestAllFilesIgnoresDirectories(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{})
	if err := os.Mkdir(filepath.Join(o.Dir(), "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeBatchFile(t, o.Dir(), "a", "1")
	writeBatchFile(t, o.Dir(), "b", "2")

	files, err := o.AllFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
}

func TestWriterAppendsCommaJoinedPayloads(t *testing.T) {
	o, clock := newTestOrchestrator(t, Options{RecentDelay: time.Second})
	w := NewWriter[string](o, storage.SerializerFunc[string](func(s string) (string, error) {
		return `{"msg":"` + s + `"}`, nil
	}), nil)

	w.Write("a")
	w.WriteBatch([]string{"b", "c"})

	files, err := o.AllFiles()
	if err != nil || len(files) != 1 {
		t.Fatalf("expected a single batch file, got %v (%v)", files, err)
	}
	raw, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"msg":"a"},{"msg":"b"},{"msg":"c"}`; string(raw) != want {
		t.Fatalf("on-disk bytes = %s, want %s", raw, want)
	}
	if strings.HasPrefix(string(raw), "[") {
		t.Fatal("batch files must not hold brackets")
	}

	clock.Advance(2 * time.Second)
	r := NewReader(o, o.Dir(), nil)
	b, ok := r.ReadNextBatch()
	if !ok {
		t.Fatal("expected a readable batch")
	}
	var items []map[string]string
	if err := json.Unmarshal(b.Data, &items); err != nil {
		t.Fatalf("batch is not a JSON array: %v", err)
	}
	if len(items) != 3 || items[2]["msg"] != "c" {
		t.Fatalf("unexpected items: %v", items)
	}
}

// staleFirst hands out a path that no longer exists on the first call.
type staleFirst struct {
	stale  string
	files  WritableFiles
	served bool
}

func (s *staleFirst) WritableFile(dataSize int) (string, error) {
	if !s.served {
		s.served = true
		return s.stale, nil
	}
	return s.files.WritableFile(dataSize)
}

func TestWriterMovesOnWhenFileIsDropped(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{RecentDelay: time.Second})
	retired := filepath.Join(o.Dir(), "01J0000000000000000000RETD")
	w := NewWriter[string](&staleFirst{stale: retired, files: o}, storage.SerializerFunc[string](func(s string) (string, error) {
		return `"` + s + `"`, nil
	}), nil)

	w.Write("b")

	if _, err := os.Stat(retired); !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("writer recreated a retired batch file")
	}
	files, err := o.AllFiles()
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one fresh batch file, got %v (%v)", files, err)
	}
	raw, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"b"` {
		t.Fatalf("fresh file holds %q", raw)
	}
}

func TestWriterDropsUnserializableEvents(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{})
	w := NewWriter[string](o, storage.SerializerFunc[string](func(string) (string, error) {
		return "", errors.New("boom")
	}), nil)

	w.Write("a")

	files, err := o.AllFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Fatalf("expected nothing written, got %v", files)
	}
}
