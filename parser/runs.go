package parser

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// decodeRunList decodes the compressed run list of a non-resident
// attribute into absolute cluster runs. The list is a sequence of
// entries each starting with a header byte: the low nibble is the
// size of the length field and the high nibble the size of the
// signed, delta encoded offset field. A zero offset size marks a
// sparse run. The list is terminated by a zero header.
//
// An error describes why the list could not be resolved. The runs
// decoded so far are still returned.
func decodeRunList(buffer []byte) ([]Run, error) {
	result := []Run{}
	length_buffer := make([]byte, 8)
	offset_buffer := make([]byte, 8)

	var lcn int64
	for offset := 0; ; {
		if offset >= len(buffer) {
			return result, errors.Errorf("run list not terminated within %d bytes",
				len(buffer))
		}

		// Consume the first byte off the stream.
		idx := buffer[offset]
		if idx == 0 {
			return result, nil
		}

		length_size := int(idx & 0xF)
		run_offset_size := int(idx >> 4)
		offset += 1

		if length_size == 0 || length_size > 8 || run_offset_size > 8 {
			return result, errors.Errorf("invalid run header %#02x at %d", idx, offset-1)
		}

		if offset+length_size+run_offset_size > len(buffer) {
			return result, errors.Errorf("run at %d overruns the attribute", offset-1)
		}

		// Pad out to 8 bytes
		for i := 0; i < 8; i++ {
			if i < length_size {
				length_buffer[i] = buffer[offset]
				offset++
			} else {
				length_buffer[i] = 0
			}
		}

		// Sign extend if the last byte is larger than 0x80.
		var sign byte = 0x00
		for i := 0; i < 8; i++ {
			if i == run_offset_size-1 &&
				buffer[offset]&0x80 != 0 {
				sign = 0xFF
			}

			if i < run_offset_size {
				offset_buffer[i] = buffer[offset]
				offset++
			} else {
				offset_buffer[i] = sign
			}
		}

		run_length := int64(binary.LittleEndian.Uint64(length_buffer))
		if run_length <= 0 {
			return result, errors.Errorf("invalid run length %d", run_length)
		}

		if run_offset_size == 0 {
			result = append(result, Run{Length: run_length, IsSparse: true})
			continue
		}

		lcn += int64(binary.LittleEndian.Uint64(offset_buffer))
		if lcn < 0 {
			return result, errors.Errorf("run resolves to negative cluster %d", lcn)
		}

		result = append(result, Run{Lcn: lcn, Length: run_length})
	}
}

func totalClusters(runs []Run) int64 {
	var total int64
	for _, r := range runs {
		total += r.Length
	}
	return total
}

// checkRuns verifies the decoded runs against the attribute header.
func checkRuns(attr *Attribute, cluster_size int64) error {
	total := totalClusters(attr.Runs)

	// An empty attribute has EndVcn = -1.
	expected := attr.EndVcn - attr.StartVcn + 1
	if expected < 0 {
		return errors.Errorf("VCN range %d-%d is inverted", attr.StartVcn, attr.EndVcn)
	}

	if total != expected {
		return errors.Errorf("runs cover %d clusters but VCN range %d-%d has %d",
			total, attr.StartVcn, attr.EndVcn, expected)
	}

	// Only the first extent carries the sizes of the whole attribute.
	if attr.StartVcn == 0 && total*cluster_size > attr.AllocatedSize {
		return errors.Errorf("runs cover %d bytes but allocated size is %d",
			total*cluster_size, attr.AllocatedSize)
	}

	return nil
}

func unsignedSize(v int64) int {
	for n := 1; n < 8; n++ {
		if uint64(v) < 1<<(8*uint(n)) {
			return n
		}
	}
	return 8
}

func signedSize(v int64) int {
	for n := 1; n < 8; n++ {
		limit := int64(1) << (8*uint(n) - 1)
		if v >= -limit && v < limit {
			return n
		}
	}
	return 8
}

// EncodeRunList produces the compact on disk form of runs, using the
// smallest field sizes which can hold each value.
func EncodeRunList(runs []Run) []byte {
	result := []byte{}
	buf := make([]byte, 8)

	var lcn int64
	for _, r := range runs {
		length_size := unsignedSize(r.Length)
		binary.LittleEndian.PutUint64(buf, uint64(r.Length))

		if r.IsSparse {
			result = append(result, byte(length_size))
			result = append(result, buf[:length_size]...)
			continue
		}

		delta := r.Lcn - lcn
		lcn = r.Lcn
		offset_size := signedSize(delta)

		result = append(result, byte(offset_size<<4|length_size))
		result = append(result, buf[:length_size]...)

		binary.LittleEndian.PutUint64(buf, uint64(delta))
		result = append(result, buf[:offset_size]...)
	}

	return append(result, 0)
}

type runMapping struct {
	FileOffset int64
	DiskOffset int64
	Length     int64
	IsSparse   bool
}

// RunReader presents the runs of a non-resident attribute as a
// contiguous stream over the volume. Sparse runs and the tail past
// the last run read as zeros. It implements RangeReader so sparse
// regions can be skipped without reading.
type RunReader struct {
	source       ByteSource
	cluster_size int64
	size         int64
	mappings     []runMapping
}

func NewRunReader(source ByteSource, runs []Run,
	cluster_size int64, size int64) *RunReader {
	result := &RunReader{
		source:       source,
		cluster_size: cluster_size,
		size:         size,
	}

	var file_offset int64
	for _, r := range runs {
		result.mappings = append(result.mappings, runMapping{
			FileOffset: file_offset,
			DiskOffset: r.Lcn * cluster_size,
			Length:     r.Length * cluster_size,
			IsSparse:   r.IsSparse,
		})
		file_offset += r.Length * cluster_size
	}

	return result
}

func (self *RunReader) Size() int64 {
	return self.size
}

func (self *RunReader) findMapping(offset int64) int {
	idx := sort.Search(len(self.mappings), func(i int) bool {
		m := self.mappings[i]
		return m.FileOffset+m.Length > offset
	})
	if idx < len(self.mappings) && self.mappings[idx].FileOffset <= offset {
		return idx
	}
	return -1
}

func (self *RunReader) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset >= self.size {
		return 0, io.EOF
	}

	to_read := CapInt64(int64(len(buf)), self.size-offset)
	var total int64

	for total < to_read {
		current := offset + total
		remaining := to_read - total

		idx := self.findMapping(current)
		if idx < 0 {
			// Past the last run: uninitialized data.
			for i := total; i < to_read; i++ {
				buf[i] = 0
			}
			total = to_read
			break
		}

		m := self.mappings[idx]
		available := CapInt64(remaining, m.FileOffset+m.Length-current)
		target := buf[total : total+available]

		if m.IsSparse {
			for i := range target {
				target[i] = 0
			}
		} else {
			n, err := self.source.ReadAt(target, m.DiskOffset+current-m.FileOffset)
			if n < len(target) {
				if err == nil {
					err = io.ErrUnexpectedEOF
				}
				return int(total) + n, err
			}
		}
		total += available
	}

	if total < int64(len(buf)) {
		return int(total), io.EOF
	}
	return int(total), nil
}

// Ranges returns the data and sparse ranges of the stream, coalesced
// and clipped to the stream size.
func (self *RunReader) Ranges() []Range {
	result := []Range{}
	add := func(offset, length int64, sparse bool) {
		if offset >= self.size || length <= 0 {
			return
		}
		length = CapInt64(length, self.size-offset)
		if len(result) > 0 {
			last := &result[len(result)-1]
			if last.IsSparse == sparse && last.Offset+last.Length == offset {
				last.Length += length
				return
			}
		}
		result = append(result, Range{Offset: offset, Length: length, IsSparse: sparse})
	}

	var end int64
	for _, m := range self.mappings {
		add(m.FileOffset, m.Length, m.IsSparse)
		end = m.FileOffset + m.Length
	}
	add(end, self.size-end, true)

	return result
}

type RunInfo struct {
	FileOffset int64
	DiskOffset int64
	Length     int64
	IsSparse   bool
}

func (self RunInfo) String() string {
	properties := ""
	if self.IsSparse {
		properties = "Sparse "
	}
	return fmt.Sprintf("FileOffset %v -> DiskOffset %v (Length %v) %v",
		self.FileOffset, self.DiskOffset, self.Length, properties)
}

func (self *RunReader) RunInfo() []RunInfo {
	result := make([]RunInfo, 0, len(self.mappings))
	for _, m := range self.mappings {
		result = append(result, RunInfo(m))
	}
	return result
}
