package bufferpool

import (
	"bytes"
	"strings"
	"testing"

	"minidb/storage/dberr"
	"minidb/storage/dblog"
	"minidb/storage/diskio"
	"minidb/storage/page"
)

func newTestFile(t *testing.T) (*diskio.DB, *diskio.File) {
	t.Helper()
	store, err := diskio.Open(t.TempDir())
	if err != nil {
		t.Fatalf("diskio.Open: %v", err)
	}
	if err := store.CreateFile("f"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	f, err := store.OpenFile("f")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	for i := 0; i < 8; i++ {
		if _, err := f.AllocatePage(); err != nil {
			t.Fatalf("AllocatePage: %v", err)
		}
	}
	return store, f
}

// S1: clock eviction picks an unreferenced, unpinned frame and keeps the
// index consistent.
func TestClockEviction(t *testing.T) {
	_, f := newTestFile(t)
	bm, err := New(3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bm.SetLogger(dblog.Discard)

	for p := int32(0); p < 3; p++ {
		if _, err := bm.ReadPage(f, p); err != nil {
			t.Fatalf("ReadPage(%d): %v", p, err)
		}
		if err := bm.UnpinPage(f, p, false); err != nil {
			t.Fatalf("UnpinPage(%d): %v", p, err)
		}
	}

	if _, err := bm.ReadPage(f, 3); err != nil {
		t.Fatalf("ReadPage(3): %v", err)
	}

	if _, err := bm.index.lookup(keyFor(f, 3)); err != nil {
		t.Fatalf("expected page 3 resident: %v", err)
	}
	resident := 0
	for p := int32(0); p < 3; p++ {
		if _, err := bm.index.lookup(keyFor(f, p)); err == nil {
			resident++
		}
	}
	if resident != 2 {
		t.Fatalf("expected exactly one of pages 0..2 evicted, %d remain", resident)
	}
}

// S2: a pin leak surfaces as BufferExceeded, not corruption.
func TestPinLeakExceedsBuffer(t *testing.T) {
	_, f := newTestFile(t)
	bm, _ := New(2)
	bm.SetLogger(dblog.Discard)

	if _, err := bm.ReadPage(f, 0); err != nil {
		t.Fatalf("ReadPage(0): %v", err)
	}
	if _, err := bm.ReadPage(f, 1); err != nil {
		t.Fatalf("ReadPage(1): %v", err)
	}

	if _, err := bm.ReadPage(f, 2); !dberr.Is(err, dberr.BufferExceeded) {
		t.Fatalf("want BufferExceeded, got %v", err)
	}

	for _, p := range []int32{0, 1} {
		if _, err := bm.index.lookup(keyFor(f, p)); err != nil {
			t.Fatalf("page %d should remain resident: %v", p, err)
		}
	}
}

// S3: a dirty page is written back to the page store when its frame is
// reused, and the written bytes are what the file holds on disk.
func TestDirtyWriteBack(t *testing.T) {
	_, f := newTestFile(t)
	bm, _ := New(1)
	bm.SetLogger(dblog.Discard)

	pg, err := bm.ReadPage(f, 0)
	if err != nil {
		t.Fatalf("ReadPage(0): %v", err)
	}
	copy(pg.Data, []byte("dirty-bytes"))
	if err := bm.UnpinPage(f, 0, true); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}

	if _, err := bm.ReadPage(f, 1); err != nil {
		t.Fatalf("ReadPage(1) to force eviction: %v", err)
	}
	if err := bm.UnpinPage(f, 1, false); err != nil {
		t.Fatalf("UnpinPage(1): %v", err)
	}

	raw := make([]byte, page.Size)
	if err := f.ReadPage(0, raw); err != nil {
		t.Fatalf("direct ReadPage(0): %v", err)
	}
	if string(raw[:11]) != "dirty-bytes" {
		t.Fatalf("write-back did not reach disk: got %q", raw[:11])
	}
}

func TestUnpinNotPinned(t *testing.T) {
	_, f := newTestFile(t)
	bm, _ := New(2)
	bm.SetLogger(dblog.Discard)

	if _, err := bm.ReadPage(f, 0); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if err := bm.UnpinPage(f, 0, false); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}
	if err := bm.UnpinPage(f, 0, false); !dberr.Is(err, dberr.NotPinned) {
		t.Fatalf("want NotPinned, got %v", err)
	}
}

func TestFlushFileRequiresUnpinned(t *testing.T) {
	_, f := newTestFile(t)
	bm, _ := New(2)
	bm.SetLogger(dblog.Discard)

	if _, err := bm.ReadPage(f, 0); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if err := bm.FlushFile(f); !dberr.Is(err, dberr.PagePinned) {
		t.Fatalf("want PagePinned, got %v", err)
	}

	if err := bm.UnpinPage(f, 0, true); err != nil {
		t.Fatalf("UnpinPage: %v", err)
	}
	if err := bm.FlushFile(f); err != nil {
		t.Fatalf("FlushFile: %v", err)
	}
	if _, err := bm.index.lookup(keyFor(f, 0)); !dberr.Is(err, dberr.NotFound) {
		t.Fatalf("page should be evicted after flush")
	}
}

func TestTableSize(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 3: 5, 10: 13, 100: 121}
	for n, want := range cases {
		if got := tableSize(n); got != want {
			t.Errorf("tableSize(%d) = %d, want %d", n, got, want)
		}
		if got := tableSize(n); got%2 == 0 {
			t.Errorf("tableSize(%d) = %d is even", n, got)
		}
	}
}

// Disposing a page drops its second-level cache entry, so a later
// reuse of the same page number never returns stale bytes.
func TestDisposePageInvalidatesCache(t *testing.T) {
	_, f := newTestFile(t)
	bm, _ := New(1)
	bm.SetLogger(dblog.Discard)

	pg, err := bm.ReadPage(f, 0)
	if err != nil {
		t.Fatalf("ReadPage(0): %v", err)
	}
	copy(pg.Data, []byte("stale-bytes"))
	if err := bm.UnpinPage(f, 0, false); err != nil {
		t.Fatalf("UnpinPage(0): %v", err)
	}

	// Force a clean eviction of page 0 into the second-level cache.
	if _, err := bm.ReadPage(f, 1); err != nil {
		t.Fatalf("ReadPage(1): %v", err)
	}
	if err := bm.UnpinPage(f, 1, false); err != nil {
		t.Fatalf("UnpinPage(1): %v", err)
	}
	if err := bm.UnpinPage(f, 0, false); err == nil {
		t.Fatalf("page 0 should no longer be resident after eviction")
	}

	if err := bm.DisposePage(f, 0); err != nil {
		t.Fatalf("DisposePage(0): %v", err)
	}

	// AllocatePage hands out the most recently disposed page number first.
	newNo, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if newNo != 0 {
		t.Fatalf("expected disposed page 0 to be recycled, got %d", newNo)
	}

	newPg, err := bm.ReadPage(f, newNo)
	if err != nil {
		t.Fatalf("ReadPage(%d): %v", newNo, err)
	}
	if bytes.Equal(newPg.Data[:11], []byte("stale-bytes")) {
		t.Fatalf("ReadPage returned stale cached bytes for recycled page %d", newNo)
	}
}

// DumpFrames writes one line per valid frame to the given writer.
func TestDumpFrames(t *testing.T) {
	_, f := newTestFile(t)
	bm, _ := New(2)
	bm.SetLogger(dblog.Discard)

	if _, err := bm.ReadPage(f, 0); err != nil {
		t.Fatalf("ReadPage(0): %v", err)
	}

	var buf bytes.Buffer
	bm.DumpFrames(&buf)

	out := buf.String()
	if out == "" {
		t.Fatalf("DumpFrames wrote nothing")
	}
	if !strings.Contains(out, "pageNo=0") {
		t.Fatalf("DumpFrames output missing pageNo=0: %q", out)
	}
}
