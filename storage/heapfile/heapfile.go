// Package heapfile is the heap-file layer: a named logical file whose
// page 0 is a typed header and whose data pages form a singly-linked
// chain of slotted pages, opened and scanned through a buffer manager
// rather than direct page-store I/O.
//
// Grounded on storage_engine/access/heapfile_manager's InsertRecord/
// GetRecord/DeleteRecord call shapes, but that package locates a page
// with free space by scanning every page of the file; this package
// instead follows the header's firstPage/lastPage chain the way a
// from-scratch implementation of the described header format would,
// always appending at lastPage and extending the chain on overflow.
package heapfile

import (
	"fmt"

	"minidb/storage/bufferpool"
	"minidb/storage/dberr"
	"minidb/storage/diskio"
	"minidb/storage/page"
)

// HeapFile is an open handle on a named heap file. The header page is
// pinned for the handle's entire lifetime; at most one data page
// (curPage) is pinned at any other moment.
type HeapFile struct {
	store *diskio.DB
	bm    *bufferpool.BufMgr
	name  string

	file *diskio.File

	headerPageNo int32
	header       *page.Page
	hdrDirty     bool

	curPage   *page.Page
	curPageNo int32
	curDirty  bool
	curRec    page.RID
}

// CreateHeapFile creates a new, empty heap file: a header page followed
// by a single empty data page, per §4.3.
func CreateHeapFile(store *diskio.DB, bm *bufferpool.BufMgr, name string) error {
	const op = "heapfile.CreateHeapFile"

	if existing, err := store.OpenFile(name); err == nil {
		store.CloseFile(existing)
		return dberr.New(op, dberr.FileExists)
	} else if !dberr.Is(err, dberr.NotFound) {
		return dberr.Wrap(op, dberr.IOError, err)
	}

	if err := store.CreateFile(name); err != nil {
		return err
	}
	f, err := store.OpenFile(name)
	if err != nil {
		return err
	}

	firstErr := func() error {
		hdrNo, hdrPg, err := bm.AllocPage(f)
		if err != nil {
			return err
		}
		dataNo, dataPg, err := bm.AllocPage(f)
		if err != nil {
			bm.UnpinPage(f, hdrNo, false)
			return err
		}
		page.InitHeaderPage(hdrPg, name, dataNo)
		page.Init(dataPg, dataNo)
		if err := bm.UnpinPage(f, hdrNo, true); err != nil {
			return err
		}
		if err := bm.UnpinPage(f, dataNo, true); err != nil {
			return err
		}
		return nil
	}()

	if err := bm.FlushFile(f); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := store.CloseFile(f); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// DestroyHeapFile removes name from the page store.
func DestroyHeapFile(store *diskio.DB, name string) error {
	return store.DestroyFile(name)
}

// Open opens an existing heap file, pinning its header for the lifetime
// of the returned handle and, if the file has a first data page,
// positioning curPage there.
func Open(store *diskio.DB, bm *bufferpool.BufMgr, name string) (*HeapFile, error) {
	const op = "heapfile.Open"
	f, err := store.OpenFile(name)
	if err != nil {
		return nil, err
	}
	hdrNo, err := f.GetFirstPage()
	if err != nil {
		store.CloseFile(f)
		return nil, dberr.Wrap(op, dberr.IOError, err)
	}
	hdrPg, err := bm.ReadPage(f, hdrNo)
	if err != nil {
		store.CloseFile(f)
		return nil, err
	}

	hf := &HeapFile{
		store:        store,
		bm:           bm,
		name:         name,
		file:         f,
		headerPageNo: hdrNo,
		header:       hdrPg,
		curRec:       page.NullRID,
	}

	if first := page.HeaderFirstPage(hdrPg); first != page.NoNextPage {
		curPg, err := bm.ReadPage(f, first)
		if err != nil {
			bm.UnpinPage(f, hdrNo, false)
			store.CloseFile(f)
			return nil, err
		}
		hf.curPage = curPg
		hf.curPageNo = first
	}
	return hf, nil
}

// Close releases the handle's pins and closes its page-store file.
func (hf *HeapFile) Close() error {
	var firstErr error
	if hf.curPage != nil {
		if err := hf.bm.UnpinPage(hf.file, hf.curPageNo, hf.curDirty); err != nil {
			firstErr = err
		}
		hf.curPage = nil
	}
	if err := hf.bm.UnpinPage(hf.file, hf.headerPageNo, hf.hdrDirty); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := hf.bm.FlushFile(hf.file); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := hf.store.CloseFile(hf.file); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// GetRecCnt returns the header's live-record count.
func (hf *HeapFile) GetRecCnt() int32 {
	if hf.header == nil {
		return 0
	}
	return page.HeaderRecCnt(hf.header)
}

// moveTo repositions curPage to pageNo, unpinning whatever was there
// (propagating its dirtiness) first.
func (hf *HeapFile) moveTo(pageNo int32) error {
	if hf.curPage != nil && hf.curPageNo == pageNo {
		return nil
	}
	if hf.curPage != nil {
		if err := hf.bm.UnpinPage(hf.file, hf.curPageNo, hf.curDirty); err != nil {
			return err
		}
		hf.curPage = nil
		hf.curDirty = false
	}
	pg, err := hf.bm.ReadPage(hf.file, pageNo)
	if err != nil {
		return err
	}
	hf.curPage = pg
	hf.curPageNo = pageNo
	return nil
}

// GetRecord returns a copy of the record named by rid, which need not be
// on the currently positioned page.
func (hf *HeapFile) GetRecord(rid page.RID) ([]byte, error) {
	const op = "heapfile.HeapFile.GetRecord"
	if !rid.Valid() {
		return nil, dberr.New(op, dberr.BadRID)
	}
	if err := hf.moveTo(rid.PageNo); err != nil {
		return nil, err
	}
	rec, err := page.GetRecord(hf.curPage, rid)
	if err != nil {
		return nil, err
	}
	hf.curRec = rid
	return rec, nil
}

func (hf *HeapFile) String() string {
	return fmt.Sprintf("heapfile.HeapFile{name=%q, recCnt=%d}", hf.name, hf.GetRecCnt())
}
