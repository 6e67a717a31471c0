package heapfile

import (
	"bytes"
	"math"

	"minidb/storage/dberr"
	"minidb/storage/page"
)

// AttrType names the attribute types a scan predicate can compare.
type AttrType int

const (
	AttrString AttrType = iota
	AttrInteger
	AttrFloat
)

// CompareOp names the comparator a scan predicate applies.
type CompareOp int

const (
	OpLT CompareOp = iota
	OpLTE
	OpEQ
	OpGTE
	OpGT
	OpNE
)

// Scan is a forward, optionally predicate-filtered iteration over a heap
// file's records, with mark/reset positioning. It holds the HeapFile it
// scans and owns that file's cursor exclusively while active.
type Scan struct {
	hf *HeapFile

	hasFilter bool
	offset    int
	length    int
	attrType  AttrType
	filter    []byte
	op        CompareOp

	markedPageNo int32
	markedRec    page.RID
	hasMark      bool
}

// NewScan begins a scan over hf. Pass filter == nil for an unfiltered
// scan, otherwise see StartScan's validation.
func NewScan(hf *HeapFile, offset, length int, attrType AttrType, filter []byte, op CompareOp) (*Scan, error) {
	s := &Scan{hf: hf}
	if err := s.StartScan(offset, length, attrType, filter, op); err != nil {
		return nil, err
	}
	return s, nil
}

// StartScan installs the predicate (or clears it), clears any mark, and
// repositions the cursor to the file's first page, per §4.4.
func (s *Scan) StartScan(offset, length int, attrType AttrType, filter []byte, op CompareOp) error {
	const opName = "heapfile.Scan.StartScan"
	if filter != nil {
		if offset < 0 || length < 1 {
			return dberr.New(opName, dberr.BadParam)
		}
		switch attrType {
		case AttrInteger:
			if length != 4 {
				return dberr.New(opName, dberr.BadParam)
			}
		case AttrFloat:
			if length != 4 {
				return dberr.New(opName, dberr.BadParam)
			}
		case AttrString:
			// any length is allowed.
		default:
			return dberr.New(opName, dberr.BadParam)
		}
		switch op {
		case OpLT, OpLTE, OpEQ, OpGTE, OpGT, OpNE:
		default:
			return dberr.New(opName, dberr.BadParam)
		}
		s.hasFilter = true
		s.offset, s.length, s.attrType, s.op = offset, length, attrType, op
		s.filter = append([]byte(nil), filter...)
	} else {
		s.hasFilter = false
	}

	s.hasMark = false
	hf := s.hf
	if hf.curPage != nil {
		if err := hf.bm.UnpinPage(hf.file, hf.curPageNo, hf.curDirty); err != nil {
			return err
		}
		hf.curPage = nil
		hf.curDirty = false
	}

	first := page.HeaderFirstPage(hf.header)
	if first == page.NoNextPage {
		hf.curRec = page.NullRID
		return nil
	}
	pg, err := hf.bm.ReadPage(hf.file, first)
	if err != nil {
		return err
	}
	hf.curPage = pg
	hf.curPageNo = first
	hf.curRec = page.NullRID
	return nil
}

// ScanNext advances to the next record satisfying the predicate (or the
// next record at all, if unfiltered) and returns its RID, or FileEOF.
func (s *Scan) ScanNext() (page.RID, error) {
	const op = "heapfile.Scan.ScanNext"
	hf := s.hf
	if hf.curPage == nil {
		return page.RID{}, dberr.New(op, dberr.FileEOF)
	}

	for {
		var next page.RID
		var err error
		if hf.curRec == page.NullRID {
			next, err = page.FirstRecord(hf.curPage)
		} else {
			next, err = page.NextRecord(hf.curPage, hf.curRec)
		}

		if err != nil {
			nextPageNo := page.GetNextPage(hf.curPage)
			if uerr := hf.bm.UnpinPage(hf.file, hf.curPageNo, hf.curDirty); uerr != nil {
				return page.RID{}, uerr
			}
			hf.curPage = nil
			hf.curDirty = false
			if nextPageNo == page.NoNextPage {
				return page.RID{}, dberr.New(op, dberr.FileEOF)
			}
			pg, rerr := hf.bm.ReadPage(hf.file, nextPageNo)
			if rerr != nil {
				return page.RID{}, rerr
			}
			hf.curPage = pg
			hf.curPageNo = nextPageNo
			hf.curRec = page.NullRID
			continue
		}

		rec, err := page.GetRecord(hf.curPage, next)
		if err != nil {
			return page.RID{}, err
		}
		hf.curRec = next
		if !s.hasFilter || s.matchRec(rec) {
			return next, nil
		}
	}
}

func (s *Scan) matchRec(rec []byte) bool {
	if s.offset+s.length > len(rec) {
		return false
	}
	attr := rec[s.offset : s.offset+s.length]

	var diff int
	switch s.attrType {
	case AttrInteger:
		a := int32(attr[0]) | int32(attr[1])<<8 | int32(attr[2])<<16 | int32(attr[3])<<24
		b := int32(s.filter[0]) | int32(s.filter[1])<<8 | int32(s.filter[2])<<16 | int32(s.filter[3])<<24
		switch {
		case a < b:
			diff = -1
		case a > b:
			diff = 1
		}
	case AttrFloat:
		a := math.Float32frombits(leUint32(attr))
		b := math.Float32frombits(leUint32(s.filter))
		if math.IsNaN(float64(a)) || math.IsNaN(float64(b)) {
			return s.op == OpNE
		}
		switch {
		case a < b:
			diff = -1
		case a > b:
			diff = 1
		}
	default: // AttrString
		n := s.length
		if n > len(s.filter) {
			n = len(s.filter)
		}
		diff = bytes.Compare(attr[:n], s.filter[:n])
	}

	switch s.op {
	case OpLT:
		return diff < 0
	case OpLTE:
		return diff <= 0
	case OpEQ:
		return diff == 0
	case OpGTE:
		return diff >= 0
	case OpGT:
		return diff > 0
	case OpNE:
		return diff != 0
	default:
		return false
	}
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4 && i < len(b); i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}

// MarkScan saves the current position; requires a positioned record.
func (s *Scan) MarkScan() error {
	const op = "heapfile.Scan.MarkScan"
	hf := s.hf
	if hf.curPage == nil || !hf.curRec.Valid() {
		return dberr.New(op, dberr.BadScan)
	}
	s.markedPageNo = hf.curPageNo
	s.markedRec = hf.curRec
	s.hasMark = true
	return nil
}

// ResetScan returns the cursor to the marked position; the next ScanNext
// resumes from the record after the marked one.
func (s *Scan) ResetScan() error {
	const op = "heapfile.Scan.ResetScan"
	if !s.hasMark {
		return dberr.New(op, dberr.BadScan)
	}
	hf := s.hf
	if hf.curPage == nil || hf.curPageNo != s.markedPageNo {
		if hf.curPage != nil {
			if err := hf.bm.UnpinPage(hf.file, hf.curPageNo, hf.curDirty); err != nil {
				return err
			}
			hf.curPage = nil
			hf.curDirty = false
		}
		pg, err := hf.bm.ReadPage(hf.file, s.markedPageNo)
		if err != nil {
			return err
		}
		hf.curPage = pg
		hf.curPageNo = s.markedPageNo
	}
	hf.curRec = s.markedRec
	return nil
}

// DeleteRecord deletes the currently positioned record and maintains the
// header's record count.
func (s *Scan) DeleteRecord() error {
	const op = "heapfile.Scan.DeleteRecord"
	hf := s.hf
	if hf.curPage == nil || !hf.curRec.Valid() {
		return dberr.New(op, dberr.BadScan)
	}
	if err := page.DeleteRecord(hf.curPage, hf.curRec); err != nil {
		return err
	}
	hf.curDirty = true
	page.SetHeaderRecCnt(hf.header, page.HeaderRecCnt(hf.header)-1)
	hf.hdrDirty = true
	return nil
}

// GetRecord returns the record at the current position without advancing.
func (s *Scan) GetRecord() ([]byte, error) {
	const op = "heapfile.Scan.GetRecord"
	hf := s.hf
	if hf.curPage == nil || !hf.curRec.Valid() {
		return nil, dberr.New(op, dberr.BadScan)
	}
	return page.GetRecord(hf.curPage, hf.curRec)
}

// EndScan unpins the current page and clears cursor state.
func (s *Scan) EndScan() error {
	hf := s.hf
	if hf.curPage == nil {
		return nil
	}
	err := hf.bm.UnpinPage(hf.file, hf.curPageNo, hf.curDirty)
	hf.curPage = nil
	hf.curDirty = false
	hf.curRec = page.NullRID
	return err
}
