package diskio

import (
	"testing"

	"minidb/storage/dberr"
	"minidb/storage/page"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

func TestCreateOpenExclusivity(t *testing.T) {
	db := newTestDB(t)

	if err := db.CreateFile("students"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := db.CreateFile("students"); !dberr.Is(err, dberr.FileExists) {
		t.Fatalf("want FileExists, got %v", err)
	}

	if _, err := db.OpenFile("missing"); !dberr.Is(err, dberr.NotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestOpenFileRefcounting(t *testing.T) {
	db := newTestDB(t)
	if err := db.CreateFile("students"); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	f1, err := db.OpenFile("students")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	f2, err := db.OpenFile("students")
	if err != nil {
		t.Fatalf("OpenFile (second): %v", err)
	}
	if f1 != f2 {
		t.Fatalf("expected the same *File handle to be shared")
	}

	if err := db.CloseFile(f1); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	if _, stillOpen := db.open["students"]; !stillOpen {
		t.Fatalf("file closed too early: one reference remains")
	}
	if err := db.CloseFile(f2); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	if _, stillOpen := db.open["students"]; stillOpen {
		t.Fatalf("file should be fully closed")
	}
}

func TestAllocateWriteReadPage(t *testing.T) {
	db := newTestDB(t)
	db.CreateFile("students")
	f, err := db.OpenFile("students")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer db.CloseFile(f)

	p0, err := f.AllocatePage()
	if err != nil || p0 != 0 {
		t.Fatalf("AllocatePage: got %d, err %v", p0, err)
	}
	first, err := f.GetFirstPage()
	if err != nil || first != 0 {
		t.Fatalf("GetFirstPage: got %d, err %v", first, err)
	}

	buf := make([]byte, page.Size)
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := f.WritePage(p0, buf); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	got := make([]byte, page.Size)
	if err := f.ReadPage(p0, got); err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	for i := range buf {
		if got[i] != buf[i] {
			t.Fatalf("read-back mismatch at byte %d", i)
		}
	}
}

func TestDisposePageReusesNumber(t *testing.T) {
	db := newTestDB(t)
	db.CreateFile("students")
	f, _ := db.OpenFile("students")
	defer db.CloseFile(f)

	p0, _ := f.AllocatePage()
	p1, _ := f.AllocatePage()
	if p1 != p0+1 {
		t.Fatalf("expected sequential allocation, got %d then %d", p0, p1)
	}

	if err := f.DisposePage(p0); err != nil {
		t.Fatalf("DisposePage: %v", err)
	}

	p2, err := f.AllocatePage()
	if err != nil {
		t.Fatalf("AllocatePage: %v", err)
	}
	if p2 != p0 {
		t.Fatalf("expected disposed page %d to be reused, got %d", p0, p2)
	}
}

func TestMetaSurvivesCloseReopen(t *testing.T) {
	db := newTestDB(t)
	db.CreateFile("students")
	f, _ := db.OpenFile("students")
	f.AllocatePage()
	f.AllocatePage()
	if err := db.CloseFile(f); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}

	f2, err := db.OpenFile("students")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer db.CloseFile(f2)
	if f2.numPages != 2 {
		t.Fatalf("expected numPages to persist across close/reopen, got %d", f2.numPages)
	}
}

func TestDestroyFileRequiresClosed(t *testing.T) {
	db := newTestDB(t)
	db.CreateFile("students")
	f, _ := db.OpenFile("students")

	if err := db.DestroyFile("students"); !dberr.Is(err, dberr.FileExists) {
		t.Fatalf("want FileExists while open, got %v", err)
	}

	db.CloseFile(f)
	if err := db.DestroyFile("students"); err != nil {
		t.Fatalf("DestroyFile: %v", err)
	}
	if _, err := db.OpenFile("students"); !dberr.Is(err, dberr.NotFound) {
		t.Fatalf("want NotFound after destroy, got %v", err)
	}
}
