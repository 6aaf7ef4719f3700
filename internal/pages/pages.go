// Package pages queries and manipulates page-cache residency.
//
// The kernel reports residency through mincore on a mapping of the file;
// no read permission is needed, so the dump side maps PROT_NONE. Large
// files are probed in chunks of constants.ChunkPages so the bitmap and
// the mapping stay bounded.
package pages

import (
	"golang.org/x/sys/unix"

	"github.com/hashbrowncipher/happycache/internal/constants"
)

// Count returns the number of pages covering size bytes.
func Count(size int64, pageSize int) int64 {
	return (size + int64(pageSize) - 1) / int64(pageSize)
}

// ScanDeltas probes the whole file and returns its resident pages in
// delta encoding: the first entry is the absolute index of the first
// resident page, each subsequent entry the difference from the previously
// emitted index. The baseline carries across chunks, so a resident page
// at the start of chunk 2 is encoded relative to the last emission in
// chunk 1. A file with no resident pages returns an empty slice.
func ScanDeltas(fd int, size int64, pageSize int) ([]uint64, error) {
	if size == 0 {
		return nil, nil
	}

	chunkBytes := int64(constants.ChunkPages) * int64(pageSize)

	var deltas []uint64
	var last uint64
	for off := int64(0); off < size; off += chunkBytes {
		length := size - off
		if length > chunkBytes {
			length = chunkBytes
		}

		m, err := unix.Mmap(fd, off, int(length), unix.PROT_NONE, unix.MAP_SHARED)
		if err != nil {
			return nil, err
		}

		vec := make([]byte, Count(length, pageSize))
		err = unix.Mincore(m, vec)
		unix.Munmap(m)
		if err != nil {
			return nil, err
		}

		deltas, last = appendDeltas(deltas, vec, uint64(off/int64(pageSize)), last)
	}

	return deltas, nil
}

// appendDeltas emits deltas for the resident pages of one chunk. last is
// the previously emitted absolute page index (zero before the first
// emission) and is returned updated so the baseline spans the whole file.
func appendDeltas(deltas []uint64, vec []byte, chunkStart, last uint64) ([]uint64, uint64) {
	for i, b := range vec {
		if b&0x01 == 0 {
			continue
		}
		page := chunkStart + uint64(i)
		deltas = append(deltas, page-last)
		last = page
	}
	return deltas, last
}

// Resident fills a residency bitmap for an existing mapping. m must start
// page-aligned; the final page may be partial.
func Resident(m []byte, pageSize int) ([]byte, error) {
	vec := make([]byte, Count(int64(len(m)), pageSize))
	if err := unix.Mincore(m, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Run is a half-open page range [Start, Start+Len).
type Run struct {
	Start int64
	Len   int64
}

// ColdRuns returns the non-resident ranges of a residency bitmap, each
// capped at maxRun pages. Resident pages are skipped so warm data incurs
// no read-ahead, and adjacent cold pages coalesce into one request.
func ColdRuns(vec []byte, maxRun int64) []Run {
	var runs []Run
	var cur *Run
	for i, b := range vec {
		if b&0x01 != 0 {
			cur = nil
			continue
		}
		if cur != nil && cur.Len < maxRun {
			cur.Len++
			continue
		}
		runs = append(runs, Run{Start: int64(i), Len: 1})
		cur = &runs[len(runs)-1]
	}
	return runs
}
