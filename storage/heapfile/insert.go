package heapfile

import (
	"errors"

	"minidb/storage/dberr"
	"minidb/storage/page"
)

// maxRecLen is the largest record insertRecord will accept: a record
// must leave room for the slotted page's fixed header even on an
// otherwise-empty page, per §4.5's point 1.
const maxRecLen = page.Size - page.DataHeaderSize - page.SlotEntrySize

// InsertFileScan is a heap-file handle positioned at the chain's tail,
// used to append records; it extends the chain when the tail page fills.
type InsertFileScan struct {
	hf *HeapFile
}

// NewInsertFileScan positions hf's cursor at the header's lastPage, ready
// to append.
func NewInsertFileScan(hf *HeapFile) (*InsertFileScan, error) {
	if err := hf.moveTo(page.HeaderLastPage(hf.header)); err != nil {
		return nil, err
	}
	return &InsertFileScan{hf: hf}, nil
}

// InsertRecord appends data as a new record, extending the page chain if
// the tail page has no room, per §4.5.
func (ifs *InsertFileScan) InsertRecord(data []byte) (page.RID, error) {
	const op = "heapfile.InsertFileScan.InsertRecord"
	hf := ifs.hf

	if len(data) > maxRecLen {
		return page.RID{}, dberr.New(op, dberr.InvalidRecLen)
	}
	if hf.curPage == nil {
		if err := hf.moveTo(page.HeaderLastPage(hf.header)); err != nil {
			return page.RID{}, err
		}
	}

	rid, err := page.InsertRecord(hf.curPage, data)
	if err == nil {
		hf.curDirty = true
		hf.curRec = rid
		page.SetHeaderRecCnt(hf.header, page.HeaderRecCnt(hf.header)+1)
		hf.hdrDirty = true
		return rid, nil
	}
	if !errors.Is(err, page.ErrNoSpace) {
		return page.RID{}, err
	}

	newPageNo, newPg, err := hf.bm.AllocPage(hf.file)
	if err != nil {
		return page.RID{}, err
	}
	page.Init(newPg, newPageNo)
	page.SetNextPage(hf.curPage, newPageNo)
	hf.curDirty = true

	if err := hf.bm.UnpinPage(hf.file, hf.curPageNo, hf.curDirty); err != nil {
		hf.bm.UnpinPage(hf.file, newPageNo, false)
		return page.RID{}, err
	}
	hf.curPage = newPg
	hf.curPageNo = newPageNo
	hf.curDirty = false

	page.SetHeaderLastPage(hf.header, newPageNo)
	page.SetHeaderPageCnt(hf.header, page.HeaderPageCnt(hf.header)+1)
	hf.hdrDirty = true

	rid, err = page.InsertRecord(hf.curPage, data)
	if err != nil {
		// A record within maxRecLen must fit on a freshly initialized page.
		return page.RID{}, err
	}
	hf.curDirty = true
	hf.curRec = rid
	page.SetHeaderRecCnt(hf.header, page.HeaderRecCnt(hf.header)+1)
	hf.hdrDirty = true
	return rid, nil
}

// Close releases ifs's hold on the underlying heap-file cursor without
// closing the heap file itself; ifs is a view, not an owner.
func (ifs *InsertFileScan) Close() error {
	hf := ifs.hf
	if hf.curPage == nil {
		return nil
	}
	err := hf.bm.UnpinPage(hf.file, hf.curPageNo, hf.curDirty)
	hf.curPage = nil
	hf.curDirty = false
	return err
}
