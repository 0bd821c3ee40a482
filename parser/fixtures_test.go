package parser

import (
	"encoding/binary"
	"time"
)

// Builders for synthetic artifacts used by the tests.

var (
	testTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rootFRN  = FRN{Index: MFT_ENTRY_ROOT, Sequence: 5}
)

func testTimes(t time.Time) TimeStamps {
	return TimeStamps{Created: t, Modified: t, MftModified: t, Accessed: t}
}

func newFileRecord(index uint64, sequence uint16, parent FRN,
	name string, times TimeStamps) *MftRecord {
	si := &StandardInformation{Times: times, FileAttributes: 0x20}
	fn := &FileNameAttribute{
		Parent:    parent,
		Name:      name,
		Namespace: NamespaceWin32,
		Times:     times,
	}

	return &MftRecord{
		Index:     index,
		Sequence:  sequence,
		InUse:     true,
		LinkCount: 1,
		Attributes: []*Attribute{
			NewResidentAttribute(ATTR_TYPE_STANDARD_INFORMATION, 0, "", si.Encode()),
			NewResidentAttribute(ATTR_TYPE_FILE_NAME, 1, "", fn.Encode()),
		},
	}
}

// buildMFT lays out records at their slot in a $MFT stream of slots
// records.
func buildMFT(geometry VolumeGeometry, slots int, records ...*MftRecord) []byte {
	record_size := int(geometry.MftRecordSize)
	result := make([]byte, slots*record_size)
	for _, record := range records {
		offset := int(record.Index) * record_size
		copy(result[offset:], EncodeMftRecord(record, record_size))
	}
	return result
}

type testUsnRecord struct {
	FRN       FRN
	Parent    FRN
	Usn       int64
	TimeStamp time.Time
	Reason    uint32
	Name      string
}

func encodeUsnV2(record testUsnRecord) []byte {
	name := EncodeUTF16String(record.Name)
	length := int(align8(int64(USN_RECORD_V2_SIZE + len(name))))
	buf := make([]byte, length)

	binary.LittleEndian.PutUint32(buf[0:], uint32(length))
	binary.LittleEndian.PutUint16(buf[4:], 2)
	binary.LittleEndian.PutUint64(buf[8:], record.FRN.Packed())
	binary.LittleEndian.PutUint64(buf[16:], record.Parent.Packed())
	binary.LittleEndian.PutUint64(buf[24:], uint64(record.Usn))
	binary.LittleEndian.PutUint64(buf[32:], TimeToFiletime(record.TimeStamp))
	binary.LittleEndian.PutUint32(buf[40:], record.Reason)
	binary.LittleEndian.PutUint32(buf[52:], 0x20)
	binary.LittleEndian.PutUint16(buf[56:], uint16(len(name)))
	binary.LittleEndian.PutUint16(buf[58:], USN_RECORD_V2_SIZE)
	copy(buf[USN_RECORD_V2_SIZE:], name)
	return buf
}

// buildJournal packs records back to back starting at offset and
// fills in their USN.
func buildJournal(size int, offset int, records ...testUsnRecord) []byte {
	result := make([]byte, size)
	for _, record := range records {
		record.Usn = int64(offset)
		encoded := encodeUsnV2(record)
		copy(result[offset:], encoded)
		offset += len(encoded)
	}
	return result
}

const (
	testLogPageSize = 0x1000
	testLogDataOff  = 0x40
)

type testLogRecord struct {
	PreviousLsn   uint64
	UndoNextLsn   uint64
	TransactionId uint32
	RecordType    uint32
	RedoOp        uint16
	UndoOp        uint16
	Redo          []byte
	Undo          []byte
	TargetVcn     uint64
	ClusterIndex  uint16
	AttrOffset    uint16
}

func encodeLogRecord(lsn uint64, record *testLogRecord) []byte {
	redo_offset := LOG_CLIENT_HEADER_SIZE
	undo_offset := redo_offset + int(align8(int64(len(record.Redo))))
	client_length := undo_offset + int(align8(int64(len(record.Undo))))

	buf := make([]byte, LOG_RECORD_HEADER_SIZE+client_length)
	record_type := record.RecordType
	if record_type == 0 {
		record_type = LOG_RECORD_CLIENT
	}

	binary.LittleEndian.PutUint64(buf[0:], lsn)
	binary.LittleEndian.PutUint64(buf[8:], record.PreviousLsn)
	binary.LittleEndian.PutUint64(buf[16:], record.UndoNextLsn)
	binary.LittleEndian.PutUint32(buf[24:], uint32(client_length))
	binary.LittleEndian.PutUint32(buf[32:], record_type)
	binary.LittleEndian.PutUint32(buf[36:], record.TransactionId)

	client := buf[LOG_RECORD_HEADER_SIZE:]
	binary.LittleEndian.PutUint16(client[0:], record.RedoOp)
	binary.LittleEndian.PutUint16(client[2:], record.UndoOp)
	binary.LittleEndian.PutUint16(client[4:], uint16(redo_offset))
	binary.LittleEndian.PutUint16(client[6:], uint16(len(record.Redo)))
	binary.LittleEndian.PutUint16(client[8:], uint16(undo_offset))
	binary.LittleEndian.PutUint16(client[10:], uint16(len(record.Undo)))
	binary.LittleEndian.PutUint16(client[18:], record.AttrOffset)
	binary.LittleEndian.PutUint16(client[20:], record.ClusterIndex)
	binary.LittleEndian.PutUint64(client[24:], record.TargetVcn)
	copy(client[redo_offset:], record.Redo)
	copy(client[undo_offset:], record.Undo)
	return buf
}

// logBuilder writes records into the circular area of a synthetic
// $LogFile. Pages are addressed by their index in the ring.
type logBuilder struct {
	pages    int
	restart  RestartInfo
	data     []byte
	page     int
	pos      int64
	sequence uint64
	last     map[int]uint64
}

func newLogBuilder(ring_pages int) *logBuilder {
	size := int64(2+ring_pages) * testLogPageSize
	result := &logBuilder{
		pages: ring_pages,
		restart: RestartInfo{
			SystemPageSize: testLogPageSize,
			LogPageSize:    testLogPageSize,
			SeqNumberBits:  defaultSeqNumberBits(size),
			FileSize:       size,
			RecordHeader:   LOG_RECORD_HEADER_SIZE,
			DataOffset:     testLogDataOff,
		},
		data:     make([]byte, size),
		pos:      testLogDataOff,
		sequence: 1,
		last:     make(map[int]uint64),
	}
	return result
}

func (self *logBuilder) pageOffset(page int) int64 {
	return int64(2+page) * testLogPageSize
}

// seek clears a ring page and continues writing there with a new
// wrap sequence.
func (self *logBuilder) seek(page int, sequence uint64) {
	self.page = page
	self.pos = testLogDataOff
	self.sequence = sequence
	offset := self.pageOffset(page)
	for i := offset; i < offset+testLogPageSize; i++ {
		self.data[i] = 0
	}
	delete(self.last, page)
}

func (self *logBuilder) add(record *testLogRecord) uint64 {
	length := int64(LOG_RECORD_HEADER_SIZE + LOG_CLIENT_HEADER_SIZE +
		align8(int64(len(record.Redo))) + align8(int64(len(record.Undo))))
	if self.pos+length > testLogPageSize {
		self.seek(self.page+1, self.sequence)
	}

	offset := self.pageOffset(self.page) + self.pos
	lsn := self.restart.OffsetToLsn(offset, self.sequence)
	copy(self.data[offset:], encodeLogRecord(lsn, record))

	self.pos += align8(length)
	self.last[self.page] = lsn
	return lsn
}

// corrupt damages the header of the record at lsn.
func (self *logBuilder) corrupt(lsn uint64) {
	offset := self.restart.LsnToOffset(lsn)
	binary.LittleEndian.PutUint64(self.data[offset:], 0xdeadbeef)
}

func (self *logBuilder) bytes() []byte {
	result := make([]byte, len(self.data))
	copy(result, self.data)

	var current uint64
	for page, last := range self.last {
		if last > current {
			current = last
		}

		buf := result[self.pageOffset(page) : self.pageOffset(page)+testLogPageSize]
		copy(buf, RCRD_SIGNATURE)
		binary.LittleEndian.PutUint16(buf[4:], 0x28)
		binary.LittleEndian.PutUint16(buf[6:], testLogPageSize/FIXUP_STRIDE+1)
		binary.LittleEndian.PutUint64(buf[8:], last)
		binary.LittleEndian.PutUint16(buf[20:], 1)
		binary.LittleEndian.PutUint16(buf[22:], 1)
		binary.LittleEndian.PutUint64(buf[32:], last)
		protectFixups(buf, 0x28, testLogPageSize/FIXUP_STRIDE+1, 1)
	}

	for _, offset := range []int64{0, testLogPageSize} {
		buf := result[offset : offset+testLogPageSize]
		copy(buf, RSTR_SIGNATURE)
		binary.LittleEndian.PutUint16(buf[4:], 0x1e)
		binary.LittleEndian.PutUint16(buf[6:], testLogPageSize/FIXUP_STRIDE+1)
		binary.LittleEndian.PutUint32(buf[16:], testLogPageSize)
		binary.LittleEndian.PutUint32(buf[20:], testLogPageSize)
		binary.LittleEndian.PutUint16(buf[24:], 0x30)
		binary.LittleEndian.PutUint16(buf[26:], 1)
		binary.LittleEndian.PutUint16(buf[28:], 1)

		area := buf[0x30:]
		binary.LittleEndian.PutUint64(area[0:], current)
		binary.LittleEndian.PutUint16(area[8:], 1)
		binary.LittleEndian.PutUint32(area[16:], self.restart.SeqNumberBits)
		binary.LittleEndian.PutUint64(area[24:], uint64(self.restart.FileSize))
		binary.LittleEndian.PutUint16(area[36:], LOG_RECORD_HEADER_SIZE)
		binary.LittleEndian.PutUint16(area[38:], testLogDataOff)
		protectFixups(buf, 0x1e, testLogPageSize/FIXUP_STRIDE+1, 1)
	}

	return result
}
