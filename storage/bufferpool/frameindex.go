package bufferpool

import (
	"encoding/binary"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"minidb/storage/dberr"
	"minidb/storage/diskio"
)

// pageKey identifies a resident page by its logical file identity (the
// page store it lives in plus its file name) and page number, not by the
// *diskio.File pointer handed to ReadPage/AllocPage/etc. A file's open
// handle is only one OpenFile/CloseFile cycle's worth of identity — two
// independent opens of the same logical file (e.g. one inside
// CreateHeapFile, another from a later Open) get distinct *diskio.File
// values — so keying on the pointer would let a page "go missing" from
// the index the moment its original handle is closed and a new one opened
// in its place, even though the same logical page is still resident.
type pageKey struct {
	db     *diskio.DB
	name   string
	pageNo int32
}

func keyFor(file *diskio.File, pageNo int32) pageKey {
	return pageKey{db: file.DB(), name: file.Name(), pageNo: pageNo}
}

func (k pageKey) hash() uint64 {
	h := xxhash.New()
	var dbBuf [8]byte
	binary.LittleEndian.PutUint64(dbBuf[:], uint64(uintptr(unsafe.Pointer(k.db))))
	h.Write(dbBuf[:])
	h.Write([]byte(k.name))
	var pnBuf [4]byte
	binary.LittleEndian.PutUint32(pnBuf[:], uint32(k.pageNo))
	h.Write(pnBuf[:])
	return h.Sum64()
}

// frameIndex is an open-addressing hash table from pageKey to frame
// index, sized to the smallest odd integer >= 1.2*N the way the course
// project's BufHashTbl is. Open addressing with linear probing replaces
// the source's chained buckets; §4.1 leaves collision resolution
// unspecified, and only NOT_FOUND is ever observable to callers either
// way.
type frameIndex struct {
	slots []indexSlot
	used  int
}

type indexSlot struct {
	key    pageKey
	frame  int
	state  slotState
}

type slotState uint8

const (
	slotEmpty slotState = iota
	slotUsed
	slotTombstone
)

func newFrameIndex(n int) *frameIndex {
	size := tableSize(n)
	return &frameIndex{slots: make([]indexSlot, size)}
}

// tableSize returns the smallest odd integer >= 1.2*n (n >= 0).
func tableSize(n int) int {
	size := (n*12 + 9) / 10 // ceil(1.2*n)
	if size < 1 {
		size = 1
	}
	if size%2 == 0 {
		size++
	}
	return size
}

func (idx *frameIndex) probe(key pageKey) (int, bool) {
	n := len(idx.slots)
	start := int(key.hash() % uint64(n))
	free := -1
	for i := 0; i < n; i++ {
		pos := (start + i) % n
		s := &idx.slots[pos]
		switch s.state {
		case slotEmpty:
			if free < 0 {
				free = pos
			}
			return free, false
		case slotUsed:
			if s.key == key {
				return pos, true
			}
		case slotTombstone:
			// keep probing; the key might be further along. Remember the
			// first tombstone so insert can reuse it.
			if free < 0 {
				free = pos
			}
		}
	}
	return free, false
}

// lookup returns the frame index resident for key, or NotFound.
func (idx *frameIndex) lookup(key pageKey) (int, error) {
	pos, found := idx.probe(key)
	if !found {
		return 0, dberr.New("bufferpool.frameIndex.lookup", dberr.NotFound)
	}
	return idx.slots[pos].frame, nil
}

// insert maps key to frame. Duplicate keys are an IndexError.
func (idx *frameIndex) insert(key pageKey, frame int) error {
	const op = "bufferpool.frameIndex.insert"
	pos, found := idx.probe(key)
	if found {
		return dberr.New(op, dberr.IndexError)
	}
	if pos < 0 {
		return dberr.New(op, dberr.IndexError)
	}
	idx.slots[pos] = indexSlot{key: key, frame: frame, state: slotUsed}
	idx.used++
	return nil
}

// remove unmaps key. Absence is tolerated by callers via the returned
// NotFound, per §9's note that disposePage's hash-remove failure is
// treated as acceptable.
func (idx *frameIndex) remove(key pageKey) error {
	pos, found := idx.probe(key)
	if !found {
		return dberr.New("bufferpool.frameIndex.remove", dberr.NotFound)
	}
	idx.slots[pos].state = slotTombstone
	idx.slots[pos].key = pageKey{}
	idx.used--
	return nil
}
