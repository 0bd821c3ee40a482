package parser

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Parse USN records
// https://docs.microsoft.com/en-us/windows/win32/api/winioctl/ns-winioctl-usn_record_v2

const (
	USN_RECORD_V2_SIZE = 0x3C
	USN_RECORD_V3_SIZE = 0x4C
	USN_RECORD_V4_SIZE = 0x40

	MAX_USN_RECORD_SCAN_SIZE = 0x10000
)

// Gap reasons.
const (
	GAP_SPARSE       = "sparse"
	GAP_ZERO_FILLED  = "zero filled"
	GAP_PAGE_PADDING = "page padding"
	GAP_CORRUPT      = "corrupt record"
	GAP_TRUNCATED    = "truncated record"
)

// UsnCursor is a forward only reader over a $J stream. It can be
// restarted at the offset of any record it produced.
type UsnCursor struct {
	source       ByteSource
	ranges       []Range
	size         int64
	offset       int64
	page_size    int64
	max_record   int64
	pending      *UsnEntry
	gap          *JournalGap
	stats        *Stats
	header_cache []byte
}

func NewUsnCursor(source ByteSource, geometry VolumeGeometry,
	start_offset int64) *UsnCursor {
	return newUsnCursor(source, geometry, start_offset, GetDefaultOptions())
}

func newUsnCursor(source ByteSource, geometry VolumeGeometry,
	start_offset int64, options Options) *UsnCursor {
	options = options.normalize()

	result := &UsnCursor{
		source:     source,
		size:       source.Size(),
		offset:     align8(start_offset),
		page_size:  geometry.BytesPerCluster,
		max_record: options.MaxUsnRecordSize,
		stats:      &Stats{},
	}

	if result.offset < 0 {
		result.offset = 0
	}

	range_reader, ok := source.(RangeReader)
	if ok {
		result.ranges = range_reader.Ranges()
	} else {
		result.ranges = []Range{{Offset: 0, Length: result.size}}
	}

	if result.page_size <= 0 {
		result.page_size = DefaultGeometry().BytesPerCluster
	}

	return result
}

// Offset is where the next record will be read from.
func (self *UsnCursor) Offset() int64 {
	return self.offset
}

func (self *UsnCursor) Stats() *Stats {
	return self.stats
}

// Next returns the next record or gap. The second return is false
// at the end of the stream.
func (self *UsnCursor) Next() (UsnEntry, bool) {
	if self.pending != nil {
		entry := *self.pending
		self.pending = nil
		return entry, true
	}

	for self.offset < self.size {
		rng, ok := self.rangeAt(self.offset)
		if !ok {
			// Not covered by any range: treat as sparse to the
			// end.
			self.extendGap(self.offset, self.size-self.offset, GAP_SPARSE)
			self.offset = self.size
			break
		}

		range_end := rng.Offset + rng.Length
		if rng.IsSparse {
			self.extendGap(self.offset, range_end-self.offset, GAP_SPARSE)
			self.offset = range_end
			continue
		}

		record, reason := self.decodeAt(self.offset, range_end)
		if record != nil {
			self.offset += int64(record.RecordLength)
			self.stats.inc(&self.stats.UsnRecords)
			self.stats.add(&self.stats.UsnBytes, int64(record.RecordLength))

			entry := UsnEntry{Record: record}
			gap := self.takeGap()
			if gap != nil {
				self.pending = &entry
				return UsnEntry{Gap: gap}, true
			}
			return entry, true
		}

		next := self.scan(self.offset+8, range_end)
		self.extendGap(self.offset, next-self.offset, reason)
		self.offset = next
	}

	gap := self.takeGap()
	if gap != nil {
		return UsnEntry{Gap: gap}, true
	}
	return UsnEntry{}, false
}

func (self *UsnCursor) rangeAt(offset int64) (Range, bool) {
	for _, rng := range self.ranges {
		if rng.Offset <= offset && offset < rng.Offset+rng.Length {
			return rng, true
		}
	}
	return Range{}, false
}

// Contiguous bad regions coalesce into one gap. The reason is that
// of the first region.
func (self *UsnCursor) extendGap(offset, length int64, reason string) {
	if length <= 0 {
		return
	}

	if self.gap != nil && self.gap.Offset+self.gap.Length == offset {
		self.gap.Length += length
		return
	}

	if self.gap != nil {
		// Should not happen: gaps are always contiguous with the
		// cursor.
		DebugPrint("USN gap at %#x does not follow %v\n", offset, self.gap)
	}

	self.gap = &JournalGap{Offset: offset, Length: length, Reason: reason}
}

func (self *UsnCursor) takeGap() *JournalGap {
	gap := self.gap
	self.gap = nil
	if gap == nil {
		return nil
	}

	// Zeros only up to the next page boundary are normal: records
	// never straddle a journal page.
	if gap.Reason == GAP_ZERO_FILLED && gap.Length < self.page_size &&
		(gap.Offset+gap.Length)%self.page_size == 0 {
		gap.Reason = GAP_PAGE_PADDING
	}

	self.stats.inc(&self.stats.UsnGaps)
	return gap
}

// scan finds the next 8 byte aligned offset in [offset, limit) where
// a valid record starts, or limit.
func (self *UsnCursor) scan(offset, limit int64) int64 {
	for offset < limit {
		to_read := CapInt64(limit-offset, MAX_USN_RECORD_SCAN_SIZE)
		data := readAvailable(self.source, offset, to_read)
		if len(data) == 0 {
			return limit
		}

		for i := 0; i+4 <= len(data); i += 8 {
			if binary.LittleEndian.Uint32(data[i:]) == 0 {
				continue
			}
			record, _ := self.decodeAt(offset+int64(i), limit)
			if record != nil {
				return offset + int64(i)
			}
		}

		offset += int64(len(data))
	}
	return limit
}

// decodeAt decodes the record at offset. On failure it reports the
// kind of gap the bytes belong to.
func (self *UsnCursor) decodeAt(offset, limit int64) (*UsnRecord, string) {
	header := readAvailable(self.source, offset, 8)
	if len(header) < 8 {
		return nil, GAP_TRUNCATED
	}

	if isZero(header) {
		return nil, GAP_ZERO_FILLED
	}

	length := int64(binary.LittleEndian.Uint32(header))
	major := binary.LittleEndian.Uint16(header[4:])

	min_size := int64(0)
	switch major {
	case 2:
		min_size = USN_RECORD_V2_SIZE
	case 3:
		min_size = USN_RECORD_V3_SIZE
	case 4:
		min_size = USN_RECORD_V4_SIZE
	default:
		return nil, GAP_CORRUPT
	}

	if length < min_size || length%8 != 0 || length > self.max_record {
		return nil, GAP_CORRUPT
	}

	if offset+length > limit {
		return nil, GAP_TRUNCATED
	}

	buf := readAvailable(self.source, offset, length)
	if int64(len(buf)) < length {
		return nil, GAP_TRUNCATED
	}

	record := decodeUsnRecord(buf, offset)
	if record == nil {
		return nil, GAP_CORRUPT
	}
	return record, ""
}

func decodeUsnRecord(buf []byte, offset int64) *UsnRecord {
	length := int(binary.LittleEndian.Uint32(buf))
	result := &UsnRecord{
		Offset:       offset,
		RecordLength: uint32(length),
		MajorVersion: binary.LittleEndian.Uint16(buf[4:]),
		MinorVersion: binary.LittleEndian.Uint16(buf[6:]),
	}

	var name_length, name_offset, min_name_offset int

	switch result.MajorVersion {
	case 2:
		result.FRN = ParseFRN(binary.LittleEndian.Uint64(buf[8:]))
		result.ParentFRN = ParseFRN(binary.LittleEndian.Uint64(buf[16:]))
		result.Usn = int64(binary.LittleEndian.Uint64(buf[24:]))
		result.TimeStamp = parseFiletime(buf, 32)
		result.Reason = binary.LittleEndian.Uint32(buf[40:])
		result.SourceInfo = binary.LittleEndian.Uint32(buf[44:])
		result.SecurityId = binary.LittleEndian.Uint32(buf[48:])
		result.FileAttributes = binary.LittleEndian.Uint32(buf[52:])
		name_length = int(binary.LittleEndian.Uint16(buf[56:]))
		name_offset = int(binary.LittleEndian.Uint16(buf[58:]))
		min_name_offset = USN_RECORD_V2_SIZE

	case 3:
		// 128 bit file ids: NTFS only uses the low 64 bits.
		result.FRN = ParseFRN(binary.LittleEndian.Uint64(buf[8:]))
		result.ParentFRN = ParseFRN(binary.LittleEndian.Uint64(buf[24:]))
		result.Usn = int64(binary.LittleEndian.Uint64(buf[40:]))
		result.TimeStamp = parseFiletime(buf, 48)
		result.Reason = binary.LittleEndian.Uint32(buf[56:])
		result.SourceInfo = binary.LittleEndian.Uint32(buf[60:])
		result.SecurityId = binary.LittleEndian.Uint32(buf[64:])
		result.FileAttributes = binary.LittleEndian.Uint32(buf[68:])
		name_length = int(binary.LittleEndian.Uint16(buf[72:]))
		name_offset = int(binary.LittleEndian.Uint16(buf[74:]))
		min_name_offset = USN_RECORD_V3_SIZE

	case 4:
		// Range tracking records: no name and no timestamp.
		result.FRN = ParseFRN(binary.LittleEndian.Uint64(buf[8:]))
		result.ParentFRN = ParseFRN(binary.LittleEndian.Uint64(buf[24:]))
		result.Usn = int64(binary.LittleEndian.Uint64(buf[40:]))
		result.Reason = binary.LittleEndian.Uint32(buf[48:])
		result.SourceInfo = binary.LittleEndian.Uint32(buf[52:])
		extent_count := int(binary.LittleEndian.Uint16(buf[60:]))
		extent_size := int(binary.LittleEndian.Uint16(buf[62:]))
		if extent_size < 16 {
			extent_size = 16
		}
		for i := 0; i < extent_count; i++ {
			start := USN_RECORD_V4_SIZE + i*extent_size
			if start+16 > length {
				break
			}
			result.Extents = append(result.Extents, UsnExtent{
				Offset: int64(binary.LittleEndian.Uint64(buf[start:])),
				Length: int64(binary.LittleEndian.Uint64(buf[start+8:])),
			})
		}
		return result
	}

	if result.Usn < 0 {
		return nil
	}

	if name_offset < min_name_offset || name_length%2 != 0 ||
		name_offset+name_length > length {
		return nil
	}
	result.Name = ParseUTF16String(buf[name_offset : name_offset+name_length])

	return result
}

// Returns a channel which will send USN records and gaps on. We start
// parsing at starting_offset and continue until the end.
func ParseUSN(ctx context.Context, source ByteSource,
	geometry VolumeGeometry, starting_offset int64) <-chan UsnEntry {
	output := make(chan UsnEntry)

	go func() {
		defer close(output)

		cursor := NewUsnCursor(source, geometry, starting_offset)
		for {
			entry, ok := cursor.Next()
			if !ok {
				return
			}

			select {
			case <-ctx.Done():
				return

			case output <- entry:
			}
		}
	}()

	return output
}

// UsnJournal is the fully read journal.
type UsnJournal struct {
	Entries    []UsnEntry `json:"entries"`
	Stats      *Stats     `json:"-"`
	Incomplete bool       `json:"incomplete,omitempty"`
}

// Records returns only the records, in stream order.
func (self *UsnJournal) Records() []*UsnRecord {
	result := make([]*UsnRecord, 0, len(self.Entries))
	for _, e := range self.Entries {
		if e.Record != nil {
			result = append(result, e.Record)
		}
	}
	return result
}

func (self *UsnJournal) Gaps() []*JournalGap {
	result := []*JournalGap{}
	for _, e := range self.Entries {
		if e.Gap != nil {
			result = append(result, e.Gap)
		}
	}
	return result
}

// ParseUSNJournal reads the whole journal. Cancellation is checked
// between records.
func ParseUSNJournal(ctx context.Context, source ByteSource,
	geometry VolumeGeometry, starting_offset int64,
	options Options) (*UsnJournal, error) {
	err := geometry.Validate()
	if err != nil {
		return nil, err
	}

	if source == nil {
		return nil, errors.Wrap(ErrNotAvailable, "ParseUSNJournal")
	}

	options = options.normalize()
	cursor := newUsnCursor(source, geometry, starting_offset, options)
	result := &UsnJournal{
		Entries: []UsnEntry{},
		Stats:   cursor.Stats(),
	}

	for {
		select {
		case <-ctx.Done():
			result.Incomplete = true
			return result, nil
		default:
		}

		entry, ok := cursor.Next()
		if !ok {
			break
		}
		result.Entries = append(result.Entries, entry)
	}

	options.Logger.WithField("records", result.Stats.UsnRecords).
		WithField("gaps", result.Stats.UsnGaps).
		Debug("USN journal parsed")

	return result, nil
}
