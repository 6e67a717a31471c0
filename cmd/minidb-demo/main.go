// minidb-demo is an illustrative client over the storage core: it
// creates a heap file, inserts a handful of rows, runs a predicate scan,
// deletes a matching row, and dumps buffer-pool occupancy. It plays the
// role the catalog/query layer would play in a full system, kept to a
// few dozen lines since that layer is explicitly out of this module's
// scope.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"minidb/storage/bufferpool"
	"minidb/storage/dberr"
	"minidb/storage/diskio"
	"minidb/storage/heapfile"
)

func main() {
	configPath := flag.String("config", "", "path to an ini config file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("loadConfig: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("minidb-demo: %v", err)
	}
}

func run(cfg Config) error {
	store, err := diskio.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open page store: %w", err)
	}
	bm, err := bufferpool.New(cfg.PoolFrames)
	if err != nil {
		return fmt.Errorf("new buffer pool: %w", err)
	}

	if err := heapfile.CreateHeapFile(store, bm, cfg.TableName); err != nil && !dberr.Is(err, dberr.FileExists) {
		return fmt.Errorf("create heap file: %w", err)
	}

	hf, err := heapfile.Open(store, bm, cfg.TableName)
	if err != nil {
		return fmt.Errorf("open heap file: %w", err)
	}
	defer hf.Close()

	ifs, err := heapfile.NewInsertFileScan(hf)
	if err != nil {
		return fmt.Errorf("new insert scan: %w", err)
	}
	for _, v := range []int32{1, 2, 3, 4, 5} {
		if _, err := ifs.InsertRecord(encodeRow(v)); err != nil {
			ifs.Close()
			return fmt.Errorf("insert row %d: %w", v, err)
		}
	}
	if err := ifs.Close(); err != nil {
		return fmt.Errorf("close insert scan: %w", err)
	}
	fmt.Fprintf(os.Stdout, "inserted rows, recCnt=%d\n", hf.GetRecCnt())

	scan, err := heapfile.NewScan(hf, 0, 4, heapfile.AttrInteger, encodeRow(3), heapfile.OpGT)
	if err != nil {
		return fmt.Errorf("start scan: %w", err)
	}
	for {
		_, err := scan.ScanNext()
		if dberr.Is(err, dberr.FileEOF) {
			break
		}
		if err != nil {
			scan.EndScan()
			return fmt.Errorf("scan next: %w", err)
		}
		row, err := scan.GetRecord()
		if err != nil {
			scan.EndScan()
			return fmt.Errorf("get record: %w", err)
		}
		v := decodeRow(row)
		fmt.Fprintf(os.Stdout, "matched row %d\n", v)
		if v == 4 {
			if err := scan.DeleteRecord(); err != nil {
				scan.EndScan()
				return fmt.Errorf("delete record: %w", err)
			}
			fmt.Fprintln(os.Stdout, "deleted row 4")
		}
	}
	if err := scan.EndScan(); err != nil {
		return fmt.Errorf("end scan: %w", err)
	}

	fmt.Fprintf(os.Stdout, "final recCnt=%d\n", hf.GetRecCnt())
	fmt.Fprintln(os.Stdout, bm.Stats())
	bm.DumpFrames(os.Stdout)
	return nil
}

func encodeRow(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func decodeRow(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}
