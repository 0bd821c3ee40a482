package parser

import (
	"io"
	"sync"
)

const (
	ATTR_FLAG_COMPRESSED = 0x0001
	ATTR_FLAG_ENCRYPTED  = 0x4000
	ATTR_FLAG_SPARSE     = 0x8000
)

// CompressedReader reads a compressed non-resident stream. The stream
// is divided into compression units of 2^CompressionUnit clusters.
// A unit whose clusters are all allocated is stored raw, a fully
// sparse unit is zeros, anything else holds LZNT1 data in its
// allocated clusters followed by sparse padding.
type CompressedReader struct {
	mu sync.Mutex

	raw       *RunReader
	unit_size int64
	size      int64

	last_unit int64
	last      []byte
}

func NewCompressedReader(source ByteSource, runs []Run, cluster_size int64,
	compression_unit uint16, size int64) *CompressedReader {
	raw_size := totalClusters(runs) * cluster_size
	return &CompressedReader{
		raw:       NewRunReader(source, runs, cluster_size, raw_size),
		unit_size: cluster_size << compression_unit,
		size:      size,
		last_unit: -1,
	}
}

func (self *CompressedReader) Size() int64 {
	return self.size
}

// allocated returns the number of bytes in [start, end) backed by
// disk clusters.
func (self *CompressedReader) allocated(start, end int64) int64 {
	var result int64
	for _, m := range self.raw.mappings {
		if m.IsSparse {
			continue
		}
		lo := m.FileOffset
		if lo < start {
			lo = start
		}
		hi := m.FileOffset + m.Length
		if hi > end {
			hi = end
		}
		if hi > lo {
			result += hi - lo
		}
	}
	return result
}

func (self *CompressedReader) readUnit(unit int64) ([]byte, error) {
	if unit == self.last_unit {
		return self.last, nil
	}

	start := unit * self.unit_size
	allocated := self.allocated(start, start+self.unit_size)
	result := make([]byte, self.unit_size)

	switch {
	case allocated == 0:

	case allocated >= self.unit_size:
		_, err := self.raw.ReadAt(result, start)
		if err != nil && err != io.EOF {
			return nil, err
		}

	default:
		compressed := make([]byte, allocated)
		n, err := self.raw.ReadAt(compressed, start)
		if n < len(compressed) {
			return nil, err
		}

		decompressed, err := LZNT1Decompress(compressed)
		if err != nil {
			DebugPrint("Compression unit %d: %v\n", unit, err)
			return nil, err
		}
		copy(result, decompressed)
	}

	self.last_unit = unit
	self.last = result
	return result, nil
}

func (self *CompressedReader) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset >= self.size {
		return 0, io.EOF
	}

	self.mu.Lock()
	defer self.mu.Unlock()

	to_read := CapInt64(int64(len(buf)), self.size-offset)
	var total int64
	for total < to_read {
		current := offset + total
		unit, err := self.readUnit(current / self.unit_size)
		if err != nil {
			return int(total), err
		}

		unit_offset := current % self.unit_size
		n := copy(buf[total:to_read], unit[unit_offset:])
		total += int64(n)
	}

	if total < int64(len(buf)) {
		return int(total), io.EOF
	}
	return int(total), nil
}
