package page

import (
	"encoding/binary"
	"errors"
	"fmt"

	"minidb/storage/dberr"
)

// ErrNoSpace is returned by InsertRecord when the page has no room for the
// record. It is not one of the core's named error kinds (dberr.Kind)
// because, per spec, it never escapes past InsertFileScan: that caller
// always reacts to it by allocating a fresh page and retrying, exactly
// once, never by surfacing it to its own caller.
var ErrNoSpace = errors.New("page: no space for record")

// Data-page layout (slotted), little-endian, grounded on
// storage_engine/access/heapfile_manager/heap_page.go's header/slot-
// directory convention, extended with NextPage so pages can be chained:
//
//	offset  size  field
//	0       4     PageNo
//	4       4     NextPage         (-1 == end of chain)
//	8       2     RecordEndPtr     first free byte after the last record
//	10      2     SlotRegionStart  first byte of the slot directory
//	12      2     SlotCount        total slots, live + tombstone
//	14      2     NumLiveRecords
//	16            DataHeaderSize
//
// Records grow forward from DataHeaderSize. The slot directory grows
// backward from Size. Slot i occupies Size-(i+1)*SlotEntrySize.. A slot
// entry is {Offset uint16, Length uint16}; Length == 0 marks a tombstone.
const (
	dpOffPageNo          = 0
	dpOffNextPage        = 4
	dpOffRecordEndPtr    = 8
	dpOffSlotRegionStart = 10
	dpOffSlotCount       = 12
	dpOffNumLiveRecords  = 14

	// DataHeaderSize is the fixed data-page header size in bytes.
	DataHeaderSize = 16

	// SlotEntrySize is the byte size of one slot directory entry.
	SlotEntrySize = 4

	// NoNextPage is the chain-end sentinel stored in NextPage.
	NoNextPage int32 = -1
)

// Init stamps a fresh, empty data-page header into pg, with no next page.
func Init(pg *Page, pageNo int32) {
	clear(pg.Data)
	putInt32(pg.Data, dpOffPageNo, pageNo)
	putInt32(pg.Data, dpOffNextPage, NoNextPage)
	putUint16(pg.Data, dpOffRecordEndPtr, DataHeaderSize)
	putUint16(pg.Data, dpOffSlotRegionStart, Size)
	putUint16(pg.Data, dpOffSlotCount, 0)
	putUint16(pg.Data, dpOffNumLiveRecords, 0)
}

func PageNo(pg *Page) int32 { return getInt32(pg.Data, dpOffPageNo) }

func GetNextPage(pg *Page) int32          { return getInt32(pg.Data, dpOffNextPage) }
func SetNextPage(pg *Page, pageNo int32) { putInt32(pg.Data, dpOffNextPage, pageNo) }

func recordEndPtr(pg *Page) uint16           { return getUint16(pg.Data, dpOffRecordEndPtr) }
func setRecordEndPtr(pg *Page, v uint16)     { putUint16(pg.Data, dpOffRecordEndPtr, v) }
func slotRegionStart(pg *Page) uint16        { return getUint16(pg.Data, dpOffSlotRegionStart) }
func setSlotRegionStart(pg *Page, v uint16)  { putUint16(pg.Data, dpOffSlotRegionStart, v) }
func slotCount(pg *Page) uint16              { return getUint16(pg.Data, dpOffSlotCount) }
func setSlotCount(pg *Page, v uint16)        { putUint16(pg.Data, dpOffSlotCount, v) }
func numLiveRecords(pg *Page) uint16         { return getUint16(pg.Data, dpOffNumLiveRecords) }
func setNumLiveRecords(pg *Page, v uint16)   { putUint16(pg.Data, dpOffNumLiveRecords, v) }

// FreeSpace is the bytes available for a new record, including the slot
// entry it would consume.
func FreeSpace(pg *Page) int {
	avail := int(slotRegionStart(pg)) - int(recordEndPtr(pg)) - SlotEntrySize
	if avail < 0 {
		return 0
	}
	return avail
}

func slotByteOffset(i int) int { return Size - (i+1)*SlotEntrySize }

func readSlot(pg *Page, i int) (offset, length uint16) {
	b := slotByteOffset(i)
	return getUint16(pg.Data, b), getUint16(pg.Data, b+2)
}

func writeSlot(pg *Page, i int, offset, length uint16) {
	b := slotByteOffset(i)
	putUint16(pg.Data, b, offset)
	putUint16(pg.Data, b+2, length)
}

// InsertRecord appends data to the page and returns its RID. Reuses a
// tombstoned slot if one exists, so the slot directory only ever grows
// when every existing slot is live.
func InsertRecord(pg *Page, data []byte) (RID, error) {
	const op = "page.InsertRecord"
	recLen := len(data)
	if recLen == 0 {
		return RID{}, dberr.New(op, dberr.BadParam)
	}
	if FreeSpace(pg) < recLen {
		return RID{}, ErrNoSpace
	}

	n := int(slotCount(pg))
	slotIdx := n // default: brand new slot
	for i := 0; i < n; i++ {
		if _, l := readSlot(pg, i); l == 0 {
			slotIdx = i
			break
		}
	}

	off := recordEndPtr(pg)
	copy(pg.Data[off:], data)
	setRecordEndPtr(pg, off+uint16(recLen))
	writeSlot(pg, slotIdx, off, uint16(recLen))

	if slotIdx == n {
		setSlotRegionStart(pg, slotRegionStart(pg)-SlotEntrySize)
		setSlotCount(pg, uint16(n+1))
	}
	setNumLiveRecords(pg, numLiveRecords(pg)+1)

	return RID{PageNo: PageNo(pg), SlotNo: int32(slotIdx + 1)}, nil
}

// GetRecord returns a copy of the record named by rid, which must be on
// this page.
func GetRecord(pg *Page, rid RID) ([]byte, error) {
	const op = "page.GetRecord"
	i, err := slotIndex(pg, rid)
	if err != nil {
		return nil, dberr.Wrap(op, dberr.BadRID, err)
	}
	off, length := readSlot(pg, i)
	if length == 0 {
		return nil, dberr.New(op, dberr.BadRID)
	}
	out := make([]byte, length)
	copy(out, pg.Data[off:off+length])
	return out, nil
}

// DeleteRecord tombstones the slot named by rid. The slot entry stays so
// any other RID referencing a still-live neighbor is unaffected; space is
// not reclaimed until the page is next compacted (never, in this module —
// compaction is never performed).
func DeleteRecord(pg *Page, rid RID) error {
	const op = "page.DeleteRecord"
	i, err := slotIndex(pg, rid)
	if err != nil {
		return dberr.Wrap(op, dberr.BadRID, err)
	}
	_, length := readSlot(pg, i)
	if length == 0 {
		return dberr.New(op, dberr.BadRID)
	}
	writeSlot(pg, i, 0, 0)
	setNumLiveRecords(pg, numLiveRecords(pg)-1)
	return nil
}

// FirstRecord returns the RID of the first live slot on the page, in slot
// order, or a NoRecords error if the page has none.
func FirstRecord(pg *Page) (RID, error) {
	n := int(slotCount(pg))
	for i := 0; i < n; i++ {
		if _, l := readSlot(pg, i); l != 0 {
			return RID{PageNo: PageNo(pg), SlotNo: int32(i + 1)}, nil
		}
	}
	return RID{}, dberr.New("page.FirstRecord", dberr.NoRecords)
}

// NextRecord returns the RID of the first live slot after rid, in slot
// order, or an EndOfPage error if there is none.
func NextRecord(pg *Page, rid RID) (RID, error) {
	const op = "page.NextRecord"
	start := int(rid.SlotNo) // rid.SlotNo is 1-based; this is the 0-based index to resume scanning after.
	n := int(slotCount(pg))
	for i := start; i < n; i++ {
		if _, l := readSlot(pg, i); l != 0 {
			return RID{PageNo: PageNo(pg), SlotNo: int32(i + 1)}, nil
		}
	}
	return RID{}, dberr.New(op, dberr.EndOfPage)
}

func slotIndex(pg *Page, rid RID) (int, error) {
	if rid.PageNo != PageNo(pg) || rid.SlotNo < 1 {
		return 0, fmt.Errorf("rid %+v not on page %d", rid, PageNo(pg))
	}
	i := int(rid.SlotNo - 1)
	if i >= int(slotCount(pg)) {
		return 0, fmt.Errorf("slot %d out of range (count=%d)", i, slotCount(pg))
	}
	return i, nil
}

func putUint16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func getUint16(b []byte, off int) uint16    { return binary.LittleEndian.Uint16(b[off:]) }
