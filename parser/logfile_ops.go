package parser

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Redo and undo operation codes of NTFS log client records.
const (
	LOG_OP_NOOP                             = 0x00
	LOG_OP_COMPENSATION_LOG_RECORD          = 0x01
	LOG_OP_INITIALIZE_FILE_RECORD_SEGMENT   = 0x02
	LOG_OP_DEALLOCATE_FILE_RECORD_SEGMENT   = 0x03
	LOG_OP_WRITE_END_OF_FILE_RECORD_SEGMENT = 0x04
	LOG_OP_CREATE_ATTRIBUTE                 = 0x05
	LOG_OP_DELETE_ATTRIBUTE                 = 0x06
	LOG_OP_UPDATE_RESIDENT_VALUE            = 0x07
	LOG_OP_UPDATE_NONRESIDENT_VALUE         = 0x08
	LOG_OP_UPDATE_MAPPING_PAIRS             = 0x09
	LOG_OP_DELETE_DIRTY_CLUSTERS            = 0x0A
	LOG_OP_SET_NEW_ATTRIBUTE_SIZES          = 0x0B
	LOG_OP_ADD_INDEX_ENTRY_ROOT             = 0x0C
	LOG_OP_DELETE_INDEX_ENTRY_ROOT          = 0x0D
	LOG_OP_ADD_INDEX_ENTRY_ALLOCATION       = 0x0E
	LOG_OP_DELETE_INDEX_ENTRY_ALLOCATION    = 0x0F
	LOG_OP_WRITE_END_OF_INDEX_BUFFER        = 0x10
	LOG_OP_SET_INDEX_ENTRY_VCN_ROOT         = 0x11
	LOG_OP_SET_INDEX_ENTRY_VCN_ALLOCATION   = 0x12
	LOG_OP_UPDATE_FILE_NAME_ROOT            = 0x13
	LOG_OP_UPDATE_FILE_NAME_ALLOCATION      = 0x14
	LOG_OP_SET_BITS_IN_NONRESIDENT_BITMAP   = 0x15
	LOG_OP_CLEAR_BITS_IN_NONRESIDENT_BITMAP = 0x16
	LOG_OP_HOT_FIX                          = 0x17
	LOG_OP_END_TOP_LEVEL_ACTION             = 0x18
	LOG_OP_PREPARE_TRANSACTION              = 0x19
	LOG_OP_COMMIT_TRANSACTION               = 0x1A
	LOG_OP_FORGET_TRANSACTION               = 0x1B
	LOG_OP_OPEN_NONRESIDENT_ATTRIBUTE       = 0x1C
	LOG_OP_OPEN_ATTRIBUTE_TABLE_DUMP        = 0x1D
	LOG_OP_ATTRIBUTE_NAMES_DUMP             = 0x1E
	LOG_OP_DIRTY_PAGE_TABLE_DUMP            = 0x1F
	LOG_OP_TRANSACTION_TABLE_DUMP           = 0x20
	LOG_OP_UPDATE_RECORD_DATA_ROOT          = 0x21
	LOG_OP_UPDATE_RECORD_DATA_ALLOCATION    = 0x22
	LOG_OP_UPDATE_RELATIVE_DATA_IN_INDEX    = 0x23
	LOG_OP_UPDATE_RELATIVE_DATA_IN_INDEX2   = 0x24
	LOG_OP_ZERO_END_OF_FILE_RECORD          = 0x25
)

var log_operation_names = map[uint16]string{
	LOG_OP_NOOP:                             "Noop",
	LOG_OP_COMPENSATION_LOG_RECORD:          "CompensationLogRecord",
	LOG_OP_INITIALIZE_FILE_RECORD_SEGMENT:   "InitializeFileRecordSegment",
	LOG_OP_DEALLOCATE_FILE_RECORD_SEGMENT:   "DeallocateFileRecordSegment",
	LOG_OP_WRITE_END_OF_FILE_RECORD_SEGMENT: "WriteEndOfFileRecordSegment",
	LOG_OP_CREATE_ATTRIBUTE:                 "CreateAttribute",
	LOG_OP_DELETE_ATTRIBUTE:                 "DeleteAttribute",
	LOG_OP_UPDATE_RESIDENT_VALUE:            "UpdateResidentValue",
	LOG_OP_UPDATE_NONRESIDENT_VALUE:         "UpdateNonresidentValue",
	LOG_OP_UPDATE_MAPPING_PAIRS:             "UpdateMappingPairs",
	LOG_OP_DELETE_DIRTY_CLUSTERS:            "DeleteDirtyClusters",
	LOG_OP_SET_NEW_ATTRIBUTE_SIZES:          "SetNewAttributeSizes",
	LOG_OP_ADD_INDEX_ENTRY_ROOT:             "AddIndexEntryRoot",
	LOG_OP_DELETE_INDEX_ENTRY_ROOT:          "DeleteIndexEntryRoot",
	LOG_OP_ADD_INDEX_ENTRY_ALLOCATION:       "AddIndexEntryAllocation",
	LOG_OP_DELETE_INDEX_ENTRY_ALLOCATION:    "DeleteIndexEntryAllocation",
	LOG_OP_WRITE_END_OF_INDEX_BUFFER:        "WriteEndOfIndexBuffer",
	LOG_OP_SET_INDEX_ENTRY_VCN_ROOT:         "SetIndexEntryVcnRoot",
	LOG_OP_SET_INDEX_ENTRY_VCN_ALLOCATION:   "SetIndexEntryVcnAllocation",
	LOG_OP_UPDATE_FILE_NAME_ROOT:            "UpdateFileNameRoot",
	LOG_OP_UPDATE_FILE_NAME_ALLOCATION:      "UpdateFileNameAllocation",
	LOG_OP_SET_BITS_IN_NONRESIDENT_BITMAP:   "SetBitsInNonresidentBitMap",
	LOG_OP_CLEAR_BITS_IN_NONRESIDENT_BITMAP: "ClearBitsInNonresidentBitMap",
	LOG_OP_HOT_FIX:                          "HotFix",
	LOG_OP_END_TOP_LEVEL_ACTION:             "EndTopLevelAction",
	LOG_OP_PREPARE_TRANSACTION:              "PrepareTransaction",
	LOG_OP_COMMIT_TRANSACTION:               "CommitTransaction",
	LOG_OP_FORGET_TRANSACTION:               "ForgetTransaction",
	LOG_OP_OPEN_NONRESIDENT_ATTRIBUTE:       "OpenNonresidentAttribute",
	LOG_OP_OPEN_ATTRIBUTE_TABLE_DUMP:        "OpenAttributeTableDump",
	LOG_OP_ATTRIBUTE_NAMES_DUMP:             "AttributeNamesDump",
	LOG_OP_DIRTY_PAGE_TABLE_DUMP:            "DirtyPageTableDump",
	LOG_OP_TRANSACTION_TABLE_DUMP:           "TransactionTableDump",
	LOG_OP_UPDATE_RECORD_DATA_ROOT:          "UpdateRecordDataRoot",
	LOG_OP_UPDATE_RECORD_DATA_ALLOCATION:    "UpdateRecordDataAllocation",
	LOG_OP_UPDATE_RELATIVE_DATA_IN_INDEX:    "UpdateRelativeDataInIndex",
	LOG_OP_UPDATE_RELATIVE_DATA_IN_INDEX2:   "UpdateRelativeDataInIndex2",
	LOG_OP_ZERO_END_OF_FILE_RECORD:          "ZeroEndOfFileRecord",
}

func LogOperationName(op uint16) string {
	name, pres := log_operation_names[op]
	if pres {
		return name
	}
	return fmt.Sprintf("Unknown(%#x)", op)
}

// Operations whose target is a record of the $MFT. Their target VCN
// and cluster index locate the record slot.
func targetsMftRecord(op uint16) bool {
	switch op {
	case LOG_OP_INITIALIZE_FILE_RECORD_SEGMENT,
		LOG_OP_DEALLOCATE_FILE_RECORD_SEGMENT,
		LOG_OP_WRITE_END_OF_FILE_RECORD_SEGMENT,
		LOG_OP_CREATE_ATTRIBUTE,
		LOG_OP_DELETE_ATTRIBUTE,
		LOG_OP_UPDATE_RESIDENT_VALUE,
		LOG_OP_UPDATE_MAPPING_PAIRS,
		LOG_OP_SET_NEW_ATTRIBUTE_SIZES,
		LOG_OP_ADD_INDEX_ENTRY_ROOT,
		LOG_OP_DELETE_INDEX_ENTRY_ROOT,
		LOG_OP_SET_INDEX_ENTRY_VCN_ROOT,
		LOG_OP_UPDATE_FILE_NAME_ROOT,
		LOG_OP_UPDATE_RECORD_DATA_ROOT,
		LOG_OP_ZERO_END_OF_FILE_RECORD:
		return true
	}
	return false
}

// LogFacts is what a single log record reveals about a file.
type LogFacts struct {
	// The file the record is about. For index operations this is the
	// file named by the index entry, not the directory.
	Target    FRN
	HasTarget bool

	// False when only the slot is known.
	SequenceKnown bool

	Name       string
	Parent     FRN
	Created    bool
	Deleted    bool
	NameAdded  bool
	NameRemove bool
	Modified   bool
	Times      []time.Time
}

// DecodeLogFacts interprets the payload of a record.
func DecodeLogFacts(record *LogRecord, geometry VolumeGeometry) LogFacts {
	result := LogFacts{}

	if record.HasTargetIndex {
		result.Target = FRN{Index: record.TargetIndex}
		result.HasTarget = true
	}

	switch record.RedoOp {
	case LOG_OP_INITIALIZE_FILE_RECORD_SEGMENT:
		result.Created = true
		decodeRecordImage(record.Redo, geometry, &result)

	case LOG_OP_DEALLOCATE_FILE_RECORD_SEGMENT:
		result.Deleted = true
		// The undo image is the record being removed.
		if record.UndoOp == LOG_OP_INITIALIZE_FILE_RECORD_SEGMENT {
			decodeRecordImage(record.Undo, geometry, &result)
			result.Created = false
		}

	case LOG_OP_ADD_INDEX_ENTRY_ROOT, LOG_OP_ADD_INDEX_ENTRY_ALLOCATION:
		if decodeIndexEntry(record.Redo, &result) {
			result.NameAdded = true
		}

	case LOG_OP_DELETE_INDEX_ENTRY_ROOT, LOG_OP_DELETE_INDEX_ENTRY_ALLOCATION:
		// The removed entry is only in the undo data.
		if decodeIndexEntry(record.Undo, &result) {
			result.NameRemove = true
		}

	case LOG_OP_UPDATE_FILE_NAME_ROOT, LOG_OP_UPDATE_FILE_NAME_ALLOCATION:
		// Duplicated information: the directory's copy of the times.
		// The target is the directory index so the file is unknown.
		result.Modified = true
		result.HasTarget = false
		result.Times = appendPlausibleTimes(result.Times, record.Redo, 0, 4)

	case LOG_OP_UPDATE_RESIDENT_VALUE:
		result.Modified = true
		// A write to $STANDARD_INFORMATION leaves its times in the
		// payload. Values which are not plausible times are ignored.
		if record.AttrOffset == RESIDENT_HEADER_SIZE && len(record.Redo) >= 8 {
			result.Times = appendPlausibleTimes(result.Times, record.Redo, 0,
				CapInt(len(record.Redo)/8, 4))
		}

	case LOG_OP_CREATE_ATTRIBUTE, LOG_OP_DELETE_ATTRIBUTE,
		LOG_OP_UPDATE_MAPPING_PAIRS, LOG_OP_SET_NEW_ATTRIBUTE_SIZES,
		LOG_OP_WRITE_END_OF_FILE_RECORD_SEGMENT,
		LOG_OP_UPDATE_NONRESIDENT_VALUE:
		result.Modified = true
	}

	return result
}

func appendPlausibleTimes(result []time.Time, buf []byte, first, count int) []time.Time {
	for i := first; i < first+count; i++ {
		t := parseFiletime(buf, i*8)
		if isPlausibleTime(t) {
			result = append(result, t)
		}
	}
	return result
}

// decodeRecordImage decodes an MFT record image carried in a log
// payload. The image is the in memory form so it carries no valid
// fixups.
func decodeRecordImage(buf []byte, geometry VolumeGeometry, facts *LogFacts) {
	if len(buf) < MFT_HEADER_SIZE_V30 || string(buf[:4]) != "FILE" {
		return
	}

	facts.Target.Sequence = binary.LittleEndian.Uint16(buf[16:])
	facts.SequenceKnown = true

	image := make([]byte, geometry.MftRecordSize)
	copy(image, buf)
	if len(image) < MFT_HEADER_SIZE {
		return
	}

	// Drop the update sequence array and clamp bytes in use to the
	// image we have.
	binary.LittleEndian.PutUint16(image[6:], 0)
	if int(binary.LittleEndian.Uint32(image[24:])) > len(image) {
		binary.LittleEndian.PutUint32(image[24:], uint32(len(image)))
	}

	record, err := decodeMftRecord(image, geometry, int64(facts.Target.Index), 0)
	if err != nil {
		DebugPrint("Log record image: %v\n", err)
		return
	}

	if si := record.StandardInformation(); si != nil {
		facts.Times = appendTimes(facts.Times, si.Times)
	}

	if fn := record.CanonicalFileName(); fn != nil {
		facts.Name = fn.Name
		facts.Parent = fn.Parent
		facts.Times = appendTimes(facts.Times, fn.Times)
	}
}

func appendTimes(result []time.Time, times TimeStamps) []time.Time {
	for _, t := range []time.Time{times.Created, times.Modified,
		times.MftModified, times.Accessed} {
		if isPlausibleTime(t) {
			result = append(result, t)
		}
	}
	return result
}

// An index entry of a directory index: the file reference, entry and
// key lengths, flags and the $FILE_NAME key.
func decodeIndexEntry(buf []byte, facts *LogFacts) bool {
	if len(buf) < 16+FILE_NAME_HEADER_SIZE {
		return false
	}

	entry_length := int(binary.LittleEndian.Uint16(buf[8:]))
	key_length := int(binary.LittleEndian.Uint16(buf[10:]))
	if key_length < FILE_NAME_HEADER_SIZE || 16+key_length > len(buf) ||
		(entry_length != 0 && entry_length < 16+key_length) {
		return false
	}

	fn, err := decodeFileName(buf[16 : 16+key_length])
	if err != nil {
		return false
	}

	facts.Target = ParseFRN(binary.LittleEndian.Uint64(buf))
	facts.HasTarget = true
	facts.SequenceKnown = true
	facts.Name = fn.Name
	facts.Parent = fn.Parent
	facts.Times = appendTimes(facts.Times, fn.Times)
	return true
}

// EncodeIndexEntry builds a directory index entry for a file name.
func EncodeIndexEntry(file FRN, fn *FileNameAttribute) []byte {
	key := fn.Encode()
	length := int(align8(int64(16 + len(key))))
	buf := make([]byte, length)
	binary.LittleEndian.PutUint64(buf, file.Packed())
	binary.LittleEndian.PutUint16(buf[8:], uint16(length))
	binary.LittleEndian.PutUint16(buf[10:], uint16(len(key)))
	copy(buf[16:], key)
	return buf
}

func CapInt(v, max int) int {
	if v > max {
		return max
	}
	return v
}
