/* Parse the NTFS transaction log ($LogFile).

   The log starts with two restart pages (RSTR) describing the log
   geometry and the current LSN. The rest of the file is a circular
   buffer of record pages (RCRD) holding log records. Records are
   addressed by LSN: the low bits of an LSN are the file offset of the
   record divided by 8, the high bits a wrap sequence number.

   Since the buffer wraps, the oldest record is not at the start of
   the file. We locate the write head (the page with the highest LSN)
   and walk the pages circularly from the page following it.
*/

package parser

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

const (
	LOG_RECORD_HEADER_SIZE = 0x30
	LOG_CLIENT_HEADER_SIZE = 0x20

	LOG_RECORD_CLIENT  = 1
	LOG_RECORD_RESTART = 2

	LOG_RECORD_MULTI_PAGE = 0x0001

	DEFAULT_LOG_PAGE_SIZE = 0x1000
)

var (
	RSTR_SIGNATURE = []byte("RSTR")
	CHKD_SIGNATURE = []byte("CHKD")
	RCRD_SIGNATURE = []byte("RCRD")
)

// RestartInfo is the decoded restart page in use.
type RestartInfo struct {
	Offset         int64  `json:"offset"`
	ChkdskLsn      uint64 `json:"chkdsk_lsn"`
	SystemPageSize int64  `json:"system_page_size"`
	LogPageSize    int64  `json:"log_page_size"`
	MajorVersion   int16  `json:"major_version"`
	MinorVersion   int16  `json:"minor_version"`
	CurrentLsn     uint64 `json:"current_lsn"`
	LogClients     uint16 `json:"log_clients"`
	Flags          uint16 `json:"flags"`
	SeqNumberBits  uint32 `json:"seq_number_bits"`
	FileSize       int64  `json:"file_size"`
	RecordHeader   int64  `json:"record_header_length"`
	DataOffset     int64  `json:"log_page_data_offset"`
	OpenCount      uint32 `json:"open_count"`
}

// LsnToOffset maps an LSN to its offset in the $LogFile.
func (self *RestartInfo) LsnToOffset(lsn uint64) int64 {
	bits := uint(self.SeqNumberBits)
	return int64((lsn << bits) >> (bits - 3))
}

// OffsetToLsn is the inverse of LsnToOffset for a wrap sequence.
func (self *RestartInfo) OffsetToLsn(offset int64, sequence uint64) uint64 {
	bits := uint(self.SeqNumberBits)
	return sequence<<(64-bits) | uint64(offset)>>3
}

type LogFileResult struct {
	Restart      RestartInfo    `json:"restart"`
	Records      []*LogRecord   `json:"records"`
	Transactions []*Transaction `json:"transactions"`
	Warnings     []Warning      `json:"warnings"`
	Segments     int            `json:"segments"`
	Stats        *Stats         `json:"-"`
	Incomplete   bool           `json:"incomplete,omitempty"`
}

func (self *LogFileResult) warn(kind WarningKind, offset, length int64,
	format string, args ...interface{}) {
	w := Warning{Kind: kind, Offset: offset, Length: length,
		Message: fmt.Sprintf(format, args...)}
	self.Warnings = append(self.Warnings, w)
	self.Stats.inc(&self.Stats.LogWarnings)
	DebugPrint("LogFile: %v\n", w)
}

// ParseLogFile parses the $LogFile stream into records and
// transactions. Damage never fails the parse: it is reported in the
// result's warnings.
func ParseLogFile(ctx context.Context, source ByteSource,
	geometry VolumeGeometry, options Options) (*LogFileResult, error) {
	err := geometry.Validate()
	if err != nil {
		return nil, err
	}

	if source == nil {
		return nil, errors.Wrap(ErrNotAvailable, "ParseLogFile")
	}

	options = options.normalize()
	result := &LogFileResult{
		Records:      []*LogRecord{},
		Transactions: []*Transaction{},
		Warnings:     []Warning{},
		Stats:        &Stats{},
	}

	result.Restart = readRestart(source, result)

	walker := &logWalker{
		source:   source,
		geometry: geometry,
		restart:  &result.Restart,
		result:   result,
		seen:     make(map[uint64]bool),
	}
	walker.walk(ctx)

	sort.SliceStable(result.Records, func(i, j int) bool {
		return result.Records[i].Lsn < result.Records[j].Lsn
	})
	result.Transactions = groupTransactions(result.Records)
	result.Stats.LogTransactions = len(result.Transactions)

	options.Logger.WithField("records", len(result.Records)).
		WithField("transactions", len(result.Transactions)).
		WithField("warnings", len(result.Warnings)).
		Debug("LogFile parsed")

	return result, nil
}

// readRestart decodes both restart pages and uses the one with the
// highest current LSN.
func readRestart(source ByteSource, result *LogFileResult) RestartInfo {
	size := source.Size()
	var candidates []RestartInfo

	first, err := decodeRestartPage(source, 0)
	if err == nil {
		candidates = append(candidates, first)
	} else {
		result.warn(WarningBadRestartArea, 0, 0, "%v", err)
	}

	second_offset := int64(DEFAULT_LOG_PAGE_SIZE)
	if err == nil {
		second_offset = first.SystemPageSize
	}

	second, err := decodeRestartPage(source, second_offset)
	if err == nil {
		candidates = append(candidates, second)
	} else {
		result.warn(WarningBadRestartArea, second_offset, 0, "%v", err)
	}

	if len(candidates) == 0 {
		result.warn(WarningBadRestartArea, 0, 0,
			"no usable restart page, using defaults")
		return RestartInfo{
			SystemPageSize: DEFAULT_LOG_PAGE_SIZE,
			LogPageSize:    DEFAULT_LOG_PAGE_SIZE,
			SeqNumberBits:  defaultSeqNumberBits(size),
			FileSize:       size,
			RecordHeader:   LOG_RECORD_HEADER_SIZE,
			DataOffset:     defaultDataOffset(DEFAULT_LOG_PAGE_SIZE),
		}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.CurrentLsn > best.CurrentLsn {
			best = c
		}
	}

	if best.FileSize > size {
		result.warn(WarningTruncatedLog, size, best.FileSize-size,
			"restart area declares %d bytes, only %d available",
			best.FileSize, size)
	}
	if best.FileSize <= 0 || best.FileSize > size {
		best.FileSize = size
	}

	return best
}

func defaultSeqNumberBits(file_size int64) uint32 {
	bits := uint32(0)
	for v := file_size; v > 0; v >>= 1 {
		bits++
	}
	return 64 - (bits - 3)
}

// Data in a record page starts after the header and its update
// sequence array.
func defaultDataOffset(page_size int64) int64 {
	return align8(0x28 + (page_size/FIXUP_STRIDE+1)*2)
}

func decodeRestartPage(source ByteSource, offset int64) (RestartInfo, error) {
	result := RestartInfo{Offset: offset}

	header := readAvailable(source, offset, 0x30)
	if len(header) < 0x30 {
		return result, newDecodeError(TruncatedHeader, offset, "restart page")
	}

	if !bytes.Equal(header[:4], RSTR_SIGNATURE) &&
		!bytes.Equal(header[:4], CHKD_SIGNATURE) {
		return result, newDecodeError(BadSignature, offset,
			"restart page signature %q", header[:4])
	}

	result.ChkdskLsn = binary.LittleEndian.Uint64(header[8:])
	result.SystemPageSize = int64(binary.LittleEndian.Uint32(header[16:]))
	result.LogPageSize = int64(binary.LittleEndian.Uint32(header[20:]))
	restart_offset := int(binary.LittleEndian.Uint16(header[24:]))
	result.MinorVersion = int16(binary.LittleEndian.Uint16(header[26:]))
	result.MajorVersion = int16(binary.LittleEndian.Uint16(header[28:]))

	if !isPowerOfTwo(result.SystemPageSize) || result.SystemPageSize < FIXUP_STRIDE ||
		result.SystemPageSize > MAX_MFT_ENTRY_SIZE {
		return result, newDecodeError(TruncatedHeader, offset,
			"system page size %d", result.SystemPageSize)
	}

	if !isPowerOfTwo(result.LogPageSize) || result.LogPageSize < FIXUP_STRIDE ||
		result.LogPageSize > MAX_MFT_ENTRY_SIZE {
		return result, newDecodeError(TruncatedHeader, offset,
			"log page size %d", result.LogPageSize)
	}

	page, err := readExact(source, offset, result.SystemPageSize)
	if err != nil {
		return result, err
	}

	err = applyFixups(page,
		int(binary.LittleEndian.Uint16(page[4:])),
		int(binary.LittleEndian.Uint16(page[6:])), offset)
	if err != nil {
		return result, err
	}

	if restart_offset+0x2C > len(page) {
		return result, newDecodeError(TruncatedHeader, offset,
			"restart area offset %#x", restart_offset)
	}

	area := page[restart_offset:]
	result.CurrentLsn = binary.LittleEndian.Uint64(area[0:])
	result.LogClients = binary.LittleEndian.Uint16(area[8:])
	result.Flags = binary.LittleEndian.Uint16(area[14:])
	result.SeqNumberBits = binary.LittleEndian.Uint32(area[16:])
	result.FileSize = int64(binary.LittleEndian.Uint64(area[24:]))
	result.RecordHeader = int64(binary.LittleEndian.Uint16(area[36:]))
	result.DataOffset = int64(binary.LittleEndian.Uint16(area[38:]))
	result.OpenCount = binary.LittleEndian.Uint32(area[40:])

	if result.SeqNumberBits < 4 || result.SeqNumberBits > 60 {
		return result, newDecodeError(TruncatedHeader, offset,
			"sequence number bits %d", result.SeqNumberBits)
	}

	if result.RecordHeader == 0 {
		result.RecordHeader = LOG_RECORD_HEADER_SIZE
	}

	if result.DataOffset < 0x28 || result.DataOffset >= result.LogPageSize {
		result.DataOffset = defaultDataOffset(result.LogPageSize)
	}

	return result, nil
}

type logPage struct {
	Offset  int64
	Data    []byte
	LastLsn uint64
}

type pendingRecord struct {
	buf         []byte
	need        int64
	file_offset int64
}

type logWalker struct {
	source   ByteSource
	geometry VolumeGeometry
	restart  *RestartInfo
	result   *LogFileResult
	seen     map[uint64]bool

	// Last LSN of the current wrap segment.
	last_lsn uint64
	pending  *pendingRecord

	// Set after a malformed header until a page starts cleanly.
	resync bool
}

// ringStart finds the first page of the circular area: the lowest
// page whose own LSN maps back onto it. Pages before that are the
// restart pages and tail copies.
func (self *logWalker) ringStart(pages []*logPage) int {
	for idx, page := range pages {
		if page.LastLsn == 0 {
			continue
		}
		target := self.restart.LsnToOffset(page.LastLsn)
		page_size := self.restart.LogPageSize
		if target >= page.Offset && target < page.Offset+page_size {
			return idx
		}
	}
	return 0
}

func (self *logWalker) readPages() []*logPage {
	page_size := self.restart.LogPageSize
	size := self.restart.FileSize
	pages := []*logPage{}

	for offset := 2 * self.restart.SystemPageSize; offset+page_size <= size; offset += page_size {
		data := readAvailable(self.source, offset, page_size)
		if int64(len(data)) < page_size {
			self.result.warn(WarningTruncatedLog, offset, page_size,
				"short page read")
			break
		}

		if !bytes.Equal(data[:4], RCRD_SIGNATURE) {
			// Never written (all 0xFF) or zeroed.
			pages = append(pages, &logPage{Offset: offset})
			continue
		}

		err := applyFixups(data,
			int(binary.LittleEndian.Uint16(data[4:])),
			int(binary.LittleEndian.Uint16(data[6:])), offset)
		if err != nil {
			self.result.warn(WarningBadPage, offset, page_size, "%v", err)
			pages = append(pages, &logPage{Offset: offset})
			continue
		}

		last_lsn := binary.LittleEndian.Uint64(data[8:])
		last_end_lsn := binary.LittleEndian.Uint64(data[32:])
		if last_end_lsn > last_lsn {
			last_lsn = last_end_lsn
		}

		self.result.Stats.inc(&self.result.Stats.LogPages)
		pages = append(pages, &logPage{
			Offset:  offset,
			Data:    data,
			LastLsn: last_lsn,
		})
	}

	return pages
}

func (self *logWalker) walk(ctx context.Context) {
	pages := self.readPages()
	if len(pages) == 0 {
		return
	}

	start := self.ringStart(pages)
	for _, page := range pages[:start] {
		if page.Data != nil {
			DebugPrint("LogFile: skipping tail copy at %#x\n", page.Offset)
		}
	}
	ring := pages[start:]

	// The head is the page holding the newest record. The oldest
	// page follows it.
	head := 0
	for idx, page := range ring {
		if page.LastLsn > ring[head].LastLsn {
			head = idx
		}
	}

	// A record spanning pages leaves its LSN on every page it
	// touches: the head is the last of them.
	for len(ring) > 1 && ring[(head+1)%len(ring)].LastLsn == ring[head].LastLsn &&
		ring[head].LastLsn != 0 {
		head = (head + 1) % len(ring)
		if head == 0 {
			break
		}
	}

	// The oldest page usually starts in the middle of a record
	// whose beginning was overwritten.
	self.resync = true
	self.result.Segments = 1
	for i := 1; i <= len(ring); i++ {
		select {
		case <-ctx.Done():
			self.result.Incomplete = true
			return
		default:
		}

		self.walkPage(ring[(head+i)%len(ring)])
	}

	if self.pending != nil {
		self.result.warn(WarningTruncatedLog, self.pending.file_offset,
			int64(len(self.pending.buf)),
			"record continues past the end of the log")
		self.pending = nil
	}
}

func (self *logWalker) endSegment() {
	self.last_lsn = 0
	self.pending = nil
	self.result.Segments++
}

func (self *logWalker) walkPage(page *logPage) {
	page_size := self.restart.LogPageSize
	data_offset := self.restart.DataOffset

	if page.Data == nil {
		if self.pending != nil {
			self.result.warn(WarningTruncatedLog, self.pending.file_offset,
				int64(len(self.pending.buf)),
				"record continues into an unused page at %#x", page.Offset)
		}
		if self.last_lsn != 0 || self.pending != nil {
			self.endSegment()
		}
		self.resync = true
		return
	}

	pos := data_offset

	// Continue a record spanning from the previous page.
	if self.pending != nil {
		take := CapInt64(self.pending.need, page_size-data_offset)
		self.pending.buf = append(self.pending.buf,
			page.Data[data_offset:data_offset+take]...)
		self.pending.need -= take
		if self.pending.need > 0 {
			return
		}

		pending := self.pending
		self.pending = nil
		self.emit(pending.buf, pending.file_offset)
		pos = data_offset + align8(take)
	}

	var page_lsn uint64
	for pos+LOG_RECORD_HEADER_SIZE <= page_size {
		h := page.Data[pos:]
		lsn := binary.LittleEndian.Uint64(h)
		file_offset := page.Offset + pos

		if !self.plausible(h, file_offset) {
			// While resynchronizing, scan for the next record
			// header. Zeros are the end of data otherwise.
			if self.resync {
				pos += 8
				continue
			}
			if lsn == 0 {
				break
			}
			self.result.warn(WarningTruncatedLog, file_offset, page_size-pos,
				"malformed record header (LSN %#x)", lsn)
			self.endSegment()
			self.resync = true
			pos += 8
			continue
		}
		self.resync = false

		// Left over from a previous pass over this page.
		if lsn < page_lsn || lsn > page.LastLsn {
			self.result.warn(WarningStalePage, file_offset, page_size-pos,
				"stale record LSN %#x", lsn)
			break
		}
		page_lsn = lsn

		if self.last_lsn != 0 && lsn <= self.last_lsn {
			DebugPrint("LogFile: LSN %#x after %#x starts a new segment\n",
				lsn, self.last_lsn)
			self.endSegment()
		}

		total := LOG_RECORD_HEADER_SIZE +
			int64(binary.LittleEndian.Uint32(h[24:]))
		available := page_size - pos
		if total > available {
			self.pending = &pendingRecord{
				buf:         copySlice(page.Data[pos:page_size]),
				need:        total - available,
				file_offset: file_offset,
			}
			self.last_lsn = lsn
			return
		}

		self.emit(page.Data[pos:pos+total], file_offset)
		pos += align8(total)
	}
}

// plausible validates a record header by self consistency: the LSN
// must address the record's own position.
func (self *logWalker) plausible(h []byte, file_offset int64) bool {
	lsn := binary.LittleEndian.Uint64(h)
	if self.restart.LsnToOffset(lsn) != file_offset {
		return false
	}

	record_type := binary.LittleEndian.Uint32(h[32:])
	if record_type != LOG_RECORD_CLIENT && record_type != LOG_RECORD_RESTART {
		return false
	}

	client_length := int64(binary.LittleEndian.Uint32(h[24:]))
	if client_length > self.restart.FileSize {
		return false
	}
	if record_type == LOG_RECORD_CLIENT && client_length < LOG_CLIENT_HEADER_SIZE {
		return false
	}

	flags := binary.LittleEndian.Uint16(h[40:])
	return flags&^LOG_RECORD_MULTI_PAGE == 0
}

func (self *logWalker) emit(buf []byte, file_offset int64) {
	record := self.decodeRecord(buf, file_offset)
	self.last_lsn = record.Lsn

	if self.seen[record.Lsn] {
		return
	}
	self.seen[record.Lsn] = true
	self.result.Stats.inc(&self.result.Stats.LogRecords)
	self.result.Records = append(self.result.Records, record)
}

func (self *logWalker) decodeRecord(buf []byte, file_offset int64) *LogRecord {
	result := &LogRecord{
		Lsn:           binary.LittleEndian.Uint64(buf[0:]),
		PreviousLsn:   binary.LittleEndian.Uint64(buf[8:]),
		UndoNextLsn:   binary.LittleEndian.Uint64(buf[16:]),
		RecordType:    binary.LittleEndian.Uint32(buf[32:]),
		TransactionId: binary.LittleEndian.Uint32(buf[36:]),
		Flags:         binary.LittleEndian.Uint16(buf[40:]),
		FileOffset:    file_offset,
	}

	if result.RecordType != LOG_RECORD_CLIENT ||
		len(buf) < LOG_RECORD_HEADER_SIZE+LOG_CLIENT_HEADER_SIZE {
		return result
	}

	client := buf[LOG_RECORD_HEADER_SIZE:]
	result.RedoOp = binary.LittleEndian.Uint16(client[0:])
	result.UndoOp = binary.LittleEndian.Uint16(client[2:])
	redo_offset := int(binary.LittleEndian.Uint16(client[4:]))
	redo_length := int(binary.LittleEndian.Uint16(client[6:]))
	undo_offset := int(binary.LittleEndian.Uint16(client[8:]))
	undo_length := int(binary.LittleEndian.Uint16(client[10:]))
	result.TargetAttr = binary.LittleEndian.Uint16(client[12:])
	lcns := int(binary.LittleEndian.Uint16(client[14:]))
	result.RecordOffset = binary.LittleEndian.Uint16(client[16:])
	result.AttrOffset = binary.LittleEndian.Uint16(client[18:])
	result.ClusterIndex = binary.LittleEndian.Uint16(client[20:])
	result.TargetVcn = binary.LittleEndian.Uint64(client[24:])

	for i := 0; i < lcns; i++ {
		offset := LOG_CLIENT_HEADER_SIZE + i*8
		if offset+8 > len(client) {
			break
		}
		result.Lcns = append(result.Lcns,
			binary.LittleEndian.Uint64(client[offset:]))
	}

	if redo_length > 0 && redo_offset+redo_length <= len(client) {
		result.Redo = copySlice(client[redo_offset : redo_offset+redo_length])
	}
	if undo_length > 0 && undo_offset+undo_length <= len(client) {
		result.Undo = copySlice(client[undo_offset : undo_offset+undo_length])
	}

	if targetsMftRecord(result.RedoOp) {
		cluster_size := self.geometry.BytesPerCluster
		record_size := self.geometry.MftRecordSize
		position := int64(result.TargetVcn)*cluster_size +
			int64(result.ClusterIndex)*FIXUP_STRIDE
		result.TargetIndex = uint64(position / record_size)
		result.HasTargetIndex = true
	}

	return result
}

// groupTransactions groups records by transaction id in LSN order.
// Transaction ids are slots in the transaction table and are reused:
// a record without a previous LSN starts a new transaction and a
// forgotten transaction is closed.
func groupTransactions(records []*LogRecord) []*Transaction {
	result := []*Transaction{}
	open := make(map[uint32]*Transaction)
	closed := make(map[*Transaction]bool)

	for _, record := range records {
		if record.RecordType != LOG_RECORD_CLIENT {
			continue
		}

		txn, pres := open[record.TransactionId]
		if !pres || record.PreviousLsn == 0 || closed[txn] {
			txn = &Transaction{
				ID:       record.TransactionId,
				Status:   Incomplete,
				FirstLsn: record.Lsn,
			}
			open[record.TransactionId] = txn
			result = append(result, txn)
		}

		txn.Records = append(txn.Records, record)
		txn.LastLsn = record.Lsn

		switch {
		case record.RedoOp == LOG_OP_COMMIT_TRANSACTION:
			txn.Status = Committed

		case record.RedoOp == LOG_OP_FORGET_TRANSACTION:
			// Forget only frees the transaction table slot.
			if txn.Status != Aborted {
				txn.Status = Committed
			}
			closed[txn] = true

		case record.UndoOp == LOG_OP_COMPENSATION_LOG_RECORD &&
			record.UndoNextLsn == 0 && txn.Status != Committed:
			// The rollback reached the first record.
			txn.Status = Aborted
		}
	}

	return result
}
