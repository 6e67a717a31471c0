// Package diskio is the page store: the "external DB layer" the buffer
// manager and heap file are built against. It owns named files of
// fixed-size pages and the in-file free list; it knows nothing about
// frames, pins, or slotted records.
//
// Grounded on storage_engine/disk_manager's file-handle bookkeeping
// (OpenFile/ReadPage/WritePage/AllocatePage via ReadAt/WriteAt on a single
// os.File), generalized from that package's single global page-ID space
// to per-file page numbering plus real free-page reuse, and made
// multi-process-safe with an advisory exclusive lock
// (golang.org/x/sys/unix.Flock) held on a file for as long as any handle
// to it is open.
package diskio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"minidb/storage/dberr"
	"minidb/storage/page"
)

// metaSize is the fixed preamble written before page 0's bytes, holding
// the store's own bookkeeping (page count, free-list head). It is exactly
// one page wide so page offsets stay PAGESIZE-aligned.
const metaSize = page.Size

const (
	metaOffNumPages     = 0
	metaOffFreeListHead = 4
)

// NoFreePage is the free-list terminator, mirroring page.NoNextPage.
const NoFreePage int32 = -1

// DB is a directory of page-store files.
type DB struct {
	dir  string
	open map[string]*File
}

// Open returns a page store rooted at dir, creating dir if necessary.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, dberr.Wrap("diskio.Open", dberr.IOError, err)
	}
	return &DB{dir: dir, open: make(map[string]*File)}, nil
}

func (db *DB) path(name string) string { return filepath.Join(db.dir, name) }

// CreateFile creates a new, empty page-store file. It returns FileExists
// if name is already present on disk.
func (db *DB) CreateFile(name string) error {
	const op = "diskio.CreateFile"
	f, err := os.OpenFile(db.path(name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return dberr.New(op, dberr.FileExists)
		}
		return dberr.Wrap(op, dberr.IOError, err)
	}
	defer f.Close()

	meta := make([]byte, metaSize)
	binary.LittleEndian.PutUint32(meta[metaOffNumPages:], 0)
	putInt32(meta, metaOffFreeListHead, NoFreePage)
	if _, err := f.WriteAt(meta, 0); err != nil {
		return dberr.Wrap(op, dberr.IOError, err)
	}
	return nil
}

// OpenFile opens an existing page-store file, sharing one underlying
// os.File and exclusive flock across every live handle for the same name
// (open-count semantics: the Nth OpenFile/CloseFile pair only touches disk
// on the first open and the last close).
func (db *DB) OpenFile(name string) (*File, error) {
	const op = "diskio.OpenFile"
	if f, ok := db.open[name]; ok {
		f.refCount++
		return f, nil
	}

	osf, err := os.OpenFile(db.path(name), os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dberr.New(op, dberr.NotFound)
		}
		return nil, dberr.Wrap(op, dberr.IOError, err)
	}
	if err := unix.Flock(int(osf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		osf.Close()
		return nil, dberr.Wrap(op, dberr.IOError, err)
	}

	meta := make([]byte, metaSize)
	if _, err := osf.ReadAt(meta, 0); err != nil {
		osf.Close()
		return nil, dberr.Wrap(op, dberr.IOError, err)
	}

	f := &File{
		db:           db,
		name:         name,
		osf:          osf,
		refCount:     1,
		numPages:     int32(binary.LittleEndian.Uint32(meta[metaOffNumPages:])),
		freeListHead: getInt32(meta, metaOffFreeListHead),
	}
	db.open[name] = f
	return f, nil
}

// CloseFile drops one reference to f; the underlying os.File (and its
// flock) is released once the last handle closes.
func (db *DB) CloseFile(f *File) error {
	const op = "diskio.CloseFile"
	f.refCount--
	if f.refCount > 0 {
		return nil
	}
	delete(db.open, f.name)
	if err := f.writeMeta(); err != nil {
		f.osf.Close()
		return err
	}
	if err := f.osf.Close(); err != nil {
		return dberr.Wrap(op, dberr.IOError, err)
	}
	return nil
}

// DestroyFile removes name from disk. It is an error to destroy a file
// that is still open.
func (db *DB) DestroyFile(name string) error {
	const op = "diskio.DestroyFile"
	if _, ok := db.open[name]; ok {
		return dberr.New(op, dberr.FileExists)
	}
	if err := os.Remove(db.path(name)); err != nil {
		if os.IsNotExist(err) {
			return dberr.New(op, dberr.NotFound)
		}
		return dberr.Wrap(op, dberr.IOError, err)
	}
	return nil
}

// File is one open page-store file.
type File struct {
	db       *DB
	name     string
	osf      *os.File
	refCount int

	numPages     int32
	freeListHead int32
	metaDirty    bool
}

func (f *File) Name() string { return f.name }

// DB returns the page store f was opened from. Buffer-pool code uses this
// to key resident pages on a file's logical identity (store, name) rather
// than on the *File pointer, which changes across independent Open/Close
// cycles of the same logical file.
func (f *File) DB() *DB { return f.db }

// GetFirstPage returns the file's first page number. Pages are numbered
// from 0 up as they are first allocated, so this is 0 for any file that
// has ever allocated a page. The free list is not consulted: it still
// returns 0 after page 0 has been disposed.
func (f *File) GetFirstPage() (int32, error) {
	if f.numPages == 0 {
		return 0, dberr.New("diskio.File.GetFirstPage", dberr.NotFound)
	}
	return 0, nil
}

func (f *File) pageOffset(pageNo int32) int64 {
	return int64(metaSize) + int64(pageNo)*int64(page.Size)
}

// ReadPage fills buf (which must be page.Size bytes) with pageNo's bytes.
func (f *File) ReadPage(pageNo int32, buf []byte) error {
	const op = "diskio.File.ReadPage"
	if pageNo < 0 || pageNo >= f.numPages {
		return dberr.New(op, dberr.BadPageNo)
	}
	if _, err := f.osf.ReadAt(buf[:page.Size], f.pageOffset(pageNo)); err != nil {
		return dberr.Wrap(op, dberr.IOError, err)
	}
	return nil
}

// WritePage writes buf (page.Size bytes) to pageNo.
func (f *File) WritePage(pageNo int32, buf []byte) error {
	const op = "diskio.File.WritePage"
	if pageNo < 0 || pageNo >= f.numPages {
		return dberr.New(op, dberr.BadPageNo)
	}
	if _, err := f.osf.WriteAt(buf[:page.Size], f.pageOffset(pageNo)); err != nil {
		return dberr.Wrap(op, dberr.IOError, err)
	}
	return nil
}

// AllocatePage reserves a new page number, preferring a disposed page off
// the free list before growing the file, and returns it zeroed on disk.
func (f *File) AllocatePage() (int32, error) {
	const op = "diskio.File.AllocatePage"
	if f.freeListHead != NoFreePage {
		pageNo := f.freeListHead
		link := make([]byte, page.Size)
		if err := f.readRaw(pageNo, link); err != nil {
			return 0, dberr.Wrap(op, dberr.IOError, err)
		}
		f.freeListHead = getInt32(link, 0)
		f.metaDirty = true
		zero := make([]byte, page.Size)
		if err := f.writeRaw(pageNo, zero); err != nil {
			return 0, dberr.Wrap(op, dberr.IOError, err)
		}
		return pageNo, nil
	}

	pageNo := f.numPages
	zero := make([]byte, page.Size)
	if err := f.writeRaw(pageNo, zero); err != nil {
		return 0, dberr.Wrap(op, dberr.IOError, err)
	}
	f.numPages++
	f.metaDirty = true
	return pageNo, nil
}

// DisposePage returns pageNo to the free list for reuse.
func (f *File) DisposePage(pageNo int32) error {
	const op = "diskio.File.DisposePage"
	if pageNo < 0 || pageNo >= f.numPages {
		return dberr.New(op, dberr.BadPageNo)
	}
	link := make([]byte, page.Size)
	putInt32(link, 0, f.freeListHead)
	if err := f.writeRaw(pageNo, link); err != nil {
		return dberr.Wrap(op, dberr.IOError, err)
	}
	f.freeListHead = pageNo
	f.metaDirty = true
	return nil
}

func (f *File) readRaw(pageNo int32, buf []byte) error {
	_, err := f.osf.ReadAt(buf[:page.Size], f.pageOffset(pageNo))
	return err
}

func (f *File) writeRaw(pageNo int32, buf []byte) error {
	_, err := f.osf.WriteAt(buf[:page.Size], f.pageOffset(pageNo))
	return err
}

func (f *File) writeMeta() error {
	if !f.metaDirty {
		return nil
	}
	meta := make([]byte, metaSize)
	binary.LittleEndian.PutUint32(meta[metaOffNumPages:], uint32(f.numPages))
	putInt32(meta, metaOffFreeListHead, f.freeListHead)
	if _, err := f.osf.WriteAt(meta, 0); err != nil {
		return dberr.Wrap("diskio.File.writeMeta", dberr.IOError, err)
	}
	f.metaDirty = false
	return nil
}

// Sync flushes the store's own bookkeeping and the OS file to disk.
func (f *File) Sync() error {
	if err := f.writeMeta(); err != nil {
		return err
	}
	if err := f.osf.Sync(); err != nil {
		return dberr.Wrap("diskio.File.Sync", dberr.IOError, err)
	}
	return nil
}

func (f *File) String() string {
	return fmt.Sprintf("diskio.File{name=%q, numPages=%d, refCount=%d}", f.name, f.numPages, f.refCount)
}

func putInt32(b []byte, off int, v int32) { binary.LittleEndian.PutUint32(b[off:], uint32(v)) }
func getInt32(b []byte, off int) int32    { return int32(binary.LittleEndian.Uint32(b[off:])) }
