package parser

import (
	"fmt"
	"time"
)

// Attribute type codes as stored in the attribute header.
const (
	ATTR_TYPE_STANDARD_INFORMATION  uint32 = 0x10
	ATTR_TYPE_ATTRIBUTE_LIST        uint32 = 0x20
	ATTR_TYPE_FILE_NAME             uint32 = 0x30
	ATTR_TYPE_OBJECT_ID             uint32 = 0x40
	ATTR_TYPE_SECURITY_DESCRIPTOR   uint32 = 0x50
	ATTR_TYPE_VOLUME_NAME           uint32 = 0x60
	ATTR_TYPE_VOLUME_INFORMATION    uint32 = 0x70
	ATTR_TYPE_DATA                  uint32 = 0x80
	ATTR_TYPE_INDEX_ROOT            uint32 = 0x90
	ATTR_TYPE_INDEX_ALLOCATION      uint32 = 0xA0
	ATTR_TYPE_BITMAP                uint32 = 0xB0
	ATTR_TYPE_REPARSE_POINT         uint32 = 0xC0
	ATTR_TYPE_EA_INFORMATION        uint32 = 0xD0
	ATTR_TYPE_EA                    uint32 = 0xE0
	ATTR_TYPE_LOGGED_UTILITY_STREAM uint32 = 0x100
	ATTR_TYPE_END                   uint32 = 0xFFFFFFFF
)

var attribute_names = map[uint32]string{
	ATTR_TYPE_STANDARD_INFORMATION:  "$STANDARD_INFORMATION",
	ATTR_TYPE_ATTRIBUTE_LIST:        "$ATTRIBUTE_LIST",
	ATTR_TYPE_FILE_NAME:             "$FILE_NAME",
	ATTR_TYPE_OBJECT_ID:             "$OBJECT_ID",
	ATTR_TYPE_SECURITY_DESCRIPTOR:   "$SECURITY_DESCRIPTOR",
	ATTR_TYPE_VOLUME_NAME:           "$VOLUME_NAME",
	ATTR_TYPE_VOLUME_INFORMATION:    "$VOLUME_INFORMATION",
	ATTR_TYPE_DATA:                  "$DATA",
	ATTR_TYPE_INDEX_ROOT:            "$INDEX_ROOT",
	ATTR_TYPE_INDEX_ALLOCATION:      "$INDEX_ALLOCATION",
	ATTR_TYPE_BITMAP:                "$BITMAP",
	ATTR_TYPE_REPARSE_POINT:         "$REPARSE_POINT",
	ATTR_TYPE_EA_INFORMATION:        "$EA_INFORMATION",
	ATTR_TYPE_EA:                    "$EA",
	ATTR_TYPE_LOGGED_UTILITY_STREAM: "$LOGGED_UTILITY_STREAM",
}

func AttributeTypeName(attr_type uint32) string {
	name, pres := attribute_names[attr_type]
	if pres {
		return name
	}
	return fmt.Sprintf("$UNKNOWN_%#x", attr_type)
}

// Well known MFT entries.
const (
	MFT_ENTRY_MFT     = 0
	MFT_ENTRY_LOGFILE = 2
	MFT_ENTRY_ROOT    = 5
	MFT_ENTRY_EXTEND  = 11
)

// FRN is a file reference number: the slot index in the MFT and the
// sequence number of the slot's current occupant. Two FRNs name the
// same file only when both fields match.
type FRN struct {
	Index    uint64 `json:"index"`
	Sequence uint16 `json:"sequence"`
}

// ParseFRN splits the packed 64 bit on disk form: 48 bits of index
// and 16 bits of sequence.
func ParseFRN(value uint64) FRN {
	return FRN{
		Index:    value & 0xFFFFFFFFFFFF,
		Sequence: uint16(value >> 48),
	}
}

func (self FRN) Packed() uint64 {
	return self.Index&0xFFFFFFFFFFFF | uint64(self.Sequence)<<48
}

func (self FRN) IsZero() bool {
	return self.Index == 0 && self.Sequence == 0
}

func (self FRN) Less(other FRN) bool {
	if self.Index != other.Index {
		return self.Index < other.Index
	}
	return self.Sequence < other.Sequence
}

func (self FRN) String() string {
	return fmt.Sprintf("%d-%d", self.Index, self.Sequence)
}

type TimeStamps struct {
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	MftModified time.Time `json:"mft_modified"`
	Accessed    time.Time `json:"accessed"`
}

// AttributeKind is the closed set of attribute variants the decoder
// produces. Consumers switch over all of them.
type AttributeKind int

const (
	KindOther AttributeKind = iota
	KindStandardInformation
	KindFileName
	KindData
	KindIndexRoot
	KindIndexAllocation
	KindBitmap
	KindAttributeList
)

func (self AttributeKind) String() string {
	switch self {
	case KindStandardInformation:
		return "StandardInformation"
	case KindFileName:
		return "FileName"
	case KindData:
		return "Data"
	case KindIndexRoot:
		return "IndexRoot"
	case KindIndexAllocation:
		return "IndexAllocation"
	case KindBitmap:
		return "Bitmap"
	case KindAttributeList:
		return "AttributeList"
	case KindOther:
		return "Other"
	}
	return fmt.Sprintf("AttributeKind(%d)", int(self))
}

func kindOfType(attr_type uint32) AttributeKind {
	switch attr_type {
	case ATTR_TYPE_STANDARD_INFORMATION:
		return KindStandardInformation
	case ATTR_TYPE_FILE_NAME:
		return KindFileName
	case ATTR_TYPE_DATA:
		return KindData
	case ATTR_TYPE_INDEX_ROOT:
		return KindIndexRoot
	case ATTR_TYPE_INDEX_ALLOCATION:
		return KindIndexAllocation
	case ATTR_TYPE_BITMAP:
		return KindBitmap
	case ATTR_TYPE_ATTRIBUTE_LIST:
		return KindAttributeList
	}
	return KindOther
}

// A Run is a decoded cluster run with an absolute starting cluster.
// Sparse runs have no backing clusters.
type Run struct {
	Lcn      int64 `json:"lcn"`
	Length   int64 `json:"length"`
	IsSparse bool  `json:"sparse,omitempty"`
}

// Attribute is one decoded attribute. Exactly one of the variant
// fields is set according to Kind, except for Other, Data, Index and
// Bitmap attributes which carry only their raw content or runs.
type Attribute struct {
	Kind     AttributeKind `json:"kind"`
	Type     uint32        `json:"type"`
	Id       uint16        `json:"id"`
	Name     string        `json:"name,omitempty"`
	Flags    uint16        `json:"flags"`
	Resident bool          `json:"resident"`

	// Position of the attribute header inside the record and its
	// declared length.
	Offset int `json:"offset"`
	Length int `json:"length"`

	// Resident content.
	Content []byte `json:"-"`

	// Non-resident layout.
	StartVcn        int64  `json:"start_vcn,omitempty"`
	EndVcn          int64  `json:"end_vcn,omitempty"`
	CompressionUnit uint16 `json:"compression_unit,omitempty"`
	AllocatedSize   int64  `json:"allocated_size,omitempty"`
	ActualSize      int64  `json:"actual_size,omitempty"`
	InitializedSize int64  `json:"initialized_size,omitempty"`
	Runs            []Run  `json:"runs,omitempty"`
	rawRunList      []byte

	// Set when the run list could not be resolved. The attribute is
	// present but its content is unreadable.
	Unresolved bool             `json:"unresolved,omitempty"`
	Error      *ResolutionError `json:"error,omitempty"`

	StandardInformation *StandardInformation `json:"standard_information,omitempty"`
	FileName            *FileNameAttribute   `json:"file_name,omitempty"`
	AttributeList       []AttributeListEntry `json:"attribute_list,omitempty"`
}

func (self *Attribute) TypeName() string {
	return AttributeTypeName(self.Type)
}

// Size of the logical content of the attribute.
func (self *Attribute) DataSize() int64 {
	if self.Resident {
		return int64(len(self.Content))
	}
	return self.ActualSize
}

type FileNameNamespace uint8

const (
	NamespacePOSIX    FileNameNamespace = 0
	NamespaceWin32    FileNameNamespace = 1
	NamespaceDOS      FileNameNamespace = 2
	NamespaceWin32DOS FileNameNamespace = 3
)

func (self FileNameNamespace) String() string {
	switch self {
	case NamespacePOSIX:
		return "POSIX"
	case NamespaceWin32:
		return "Win32"
	case NamespaceDOS:
		return "DOS"
	case NamespaceWin32DOS:
		return "DOS+Win32"
	}
	return fmt.Sprintf("Namespace(%d)", uint8(self))
}

func (self FileNameNamespace) IsWin32() bool {
	return self == NamespaceWin32 || self == NamespaceWin32DOS
}

// FileNameAttribute is one hard link of a file.
type FileNameAttribute struct {
	Parent        FRN               `json:"parent"`
	Name          string            `json:"name"`
	Namespace     FileNameNamespace `json:"namespace"`
	Times         TimeStamps        `json:"times"`
	AllocatedSize uint64            `json:"allocated_size"`
	RealSize      uint64            `json:"real_size"`
	Flags         uint32            `json:"flags"`
	ReparseTag    uint32            `json:"reparse_tag,omitempty"`

	// Offset of the owning attribute within its record.
	AttributeOffset int `json:"-"`
}

type StandardInformation struct {
	Times          TimeStamps `json:"times"`
	FileAttributes uint32     `json:"file_attributes"`
	OwnerId        uint32     `json:"owner_id,omitempty"`
	SecurityId     uint32     `json:"security_id,omitempty"`
	QuotaCharged   uint64     `json:"quota_charged,omitempty"`
	Usn            uint64     `json:"usn,omitempty"`
}

// An entry of a resident $ATTRIBUTE_LIST: names an attribute stored
// in another (extension) record.
type AttributeListEntry struct {
	Type        uint32 `json:"type"`
	Name        string `json:"name,omitempty"`
	StartVcn    uint64 `json:"start_vcn"`
	Reference   FRN    `json:"reference"`
	AttributeId uint16 `json:"attribute_id"`
}

// Flags of the MFT record header.
const (
	MFT_FLAG_IN_USE    = 0x01
	MFT_FLAG_DIRECTORY = 0x02
)

// MftRecord is one decoded MFT slot. It is never mutated once built:
// merging extension records produces a new value.
type MftRecord struct {
	Index      uint64       `json:"index"`
	Sequence   uint16       `json:"sequence"`
	InUse      bool         `json:"in_use"`
	IsDir      bool         `json:"is_dir"`
	LinkCount  uint16       `json:"link_count"`
	Lsn        uint64       `json:"lsn"`
	BaseRecord FRN          `json:"base_record"`
	RecordSize int          `json:"record_size"`
	Attributes []*Attribute `json:"attributes"`
	Parents    []FRN        `json:"parents"`
	Extensions []FRN        `json:"extensions,omitempty"`
}

func (self *MftRecord) FRN() FRN {
	return FRN{Index: self.Index, Sequence: self.Sequence}
}

func (self *MftRecord) IsExtension() bool {
	return !self.BaseRecord.IsZero()
}

func (self *MftRecord) FileNames() []*FileNameAttribute {
	result := make([]*FileNameAttribute, 0, 2)
	for _, attr := range self.Attributes {
		if attr.Kind == KindFileName && attr.FileName != nil {
			result = append(result, attr.FileName)
		}
	}
	return result
}

// The first $STANDARD_INFORMATION of the record or nil.
func (self *MftRecord) StandardInformation() *StandardInformation {
	for _, attr := range self.Attributes {
		if attr.Kind == KindStandardInformation && attr.StandardInformation != nil {
			return attr.StandardInformation
		}
	}
	return nil
}

// CanonicalFileName returns the display name of the record.
func (self *MftRecord) CanonicalFileName() *FileNameAttribute {
	return CanonicalFileName(self.FileNames())
}

func (self *MftRecord) Name() string {
	fn := self.CanonicalFileName()
	if fn == nil {
		return ""
	}
	return fn.Name
}

// Finds the attribute by type and stream name. Empty name matches
// the unnamed stream.
func (self *MftRecord) FindAttributes(attr_type uint32, name string) []*Attribute {
	var result []*Attribute
	for _, attr := range self.Attributes {
		if attr.Type == attr_type && attr.Name == name {
			result = append(result, attr)
		}
	}
	return result
}

// A slot that could not be decoded. The walk continues past it.
type SlotFailure struct {
	Index  uint64 `json:"index"`
	Offset int64  `json:"offset"`
	Error  error  `json:"-"`
	Reason string `json:"reason"`
}

// UsnRecord is one change journal record.
type UsnRecord struct {
	Offset         int64     `json:"offset"`
	RecordLength   uint32    `json:"record_length"`
	MajorVersion   uint16    `json:"major_version"`
	MinorVersion   uint16    `json:"minor_version"`
	FRN            FRN       `json:"frn"`
	ParentFRN      FRN       `json:"parent_frn"`
	Usn            int64     `json:"usn"`
	TimeStamp      time.Time `json:"timestamp"`
	Reason         uint32    `json:"reason"`
	SourceInfo     uint32    `json:"source_info"`
	SecurityId     uint32    `json:"security_id"`
	FileAttributes uint32    `json:"file_attributes"`
	Name           string    `json:"name"`

	// V4 range tracking records carry extents instead of a name.
	Extents []UsnExtent `json:"extents,omitempty"`
}

func (self *UsnRecord) Reasons() []string {
	return UsnReasonNames(self.Reason)
}

type UsnExtent struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// JournalGap marks a region of the journal that holds no parsable
// records: sparse, zero filled or corrupt.
type JournalGap struct {
	Offset int64  `json:"offset"`
	Length int64  `json:"length"`
	Reason string `json:"reason"`
}

// UsnEntry holds exactly one of Record or Gap.
type UsnEntry struct {
	Record *UsnRecord  `json:"record,omitempty"`
	Gap    *JournalGap `json:"gap,omitempty"`
}

func (self UsnEntry) IsGap() bool {
	return self.Gap != nil
}

type TransactionStatus int

const (
	Incomplete TransactionStatus = iota
	Committed
	Aborted
)

func (self TransactionStatus) String() string {
	switch self {
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	case Incomplete:
		return "Incomplete"
	}
	return fmt.Sprintf("TransactionStatus(%d)", int(self))
}

func (self TransactionStatus) MarshalText() ([]byte, error) {
	return []byte(self.String()), nil
}

// LogRecord is one $LogFile client record.
type LogRecord struct {
	Lsn           uint64   `json:"lsn"`
	PreviousLsn   uint64   `json:"previous_lsn"`
	UndoNextLsn   uint64   `json:"undo_next_lsn"`
	RecordType    uint32   `json:"record_type"`
	TransactionId uint32   `json:"transaction_id"`
	Flags         uint16   `json:"flags"`
	RedoOp        uint16   `json:"redo_op"`
	UndoOp        uint16   `json:"undo_op"`
	TargetAttr    uint16   `json:"target_attribute"`
	TargetVcn     uint64   `json:"target_vcn"`
	ClusterIndex  uint16   `json:"cluster_index"`
	RecordOffset  uint16   `json:"record_offset"`
	AttrOffset    uint16   `json:"attribute_offset"`
	Lcns          []uint64 `json:"lcns,omitempty"`
	Redo          []byte   `json:"-"`
	Undo          []byte   `json:"-"`

	// Offset of the record header in the $LogFile stream.
	FileOffset int64 `json:"file_offset"`

	// Slot of the MFT record the operation targets, when the
	// operation targets an MFT record.
	TargetIndex    uint64 `json:"target_index,omitempty"`
	HasTargetIndex bool   `json:"has_target,omitempty"`
}

func (self *LogRecord) RedoName() string {
	return LogOperationName(self.RedoOp)
}

func (self *LogRecord) UndoName() string {
	return LogOperationName(self.UndoOp)
}

// Transaction is the set of log records sharing a transaction id.
type Transaction struct {
	ID       uint32            `json:"id"`
	Status   TransactionStatus `json:"status"`
	FirstLsn uint64            `json:"first_lsn"`
	LastLsn  uint64            `json:"last_lsn"`
	Records  []*LogRecord      `json:"records"`
}

type EventKind string

const (
	EventCreated     EventKind = "created"
	EventModified    EventKind = "modified"
	EventRenamed     EventKind = "renamed"
	EventDeleted     EventKind = "deleted"
	EventAccessed    EventKind = "accessed"
	EventJournalOnly EventKind = "journal-only"
	EventLogOnly     EventKind = "log-only"
)

type TimestampSource string

const (
	SourceMFT     TimestampSource = "MFT"
	SourceJournal TimestampSource = "Journal"
	SourceLogFile TimestampSource = "LogFile"
)

// Evidence points at the underlying artifact which produced an
// event.
type Evidence struct {
	Source TimestampSource `json:"source"`

	// What the evidence is: the timestamp field name, the USN
	// reasons or the log operation names.
	Detail    string    `json:"detail"`
	TimeStamp time.Time `json:"timestamp"`
	Name      string    `json:"name,omitempty"`

	// Locators into the source artifact.
	RecordIndex   uint64 `json:"record_index,omitempty"`
	Usn           int64  `json:"usn,omitempty"`
	Lsn           uint64 `json:"lsn,omitempty"`
	TransactionId uint32 `json:"transaction_id,omitempty"`
	Status        string `json:"status,omitempty"`

	SequenceInferred bool `json:"sequence_inferred,omitempty"`
}

// CorrelatedEvent is the output of the correlator.
type CorrelatedEvent struct {
	FRN       FRN             `json:"frn"`
	Kind      EventKind       `json:"kind"`
	TimeStamp time.Time       `json:"timestamp"`
	Source    TimestampSource `json:"source"`
	Name      string          `json:"name,omitempty"`
	Evidence  []Evidence      `json:"evidence"`

	// Set when other evidence for the same file contradicts this
	// event (e.g. a journal delete for an allocated record).
	Conflict bool `json:"conflict,omitempty"`

	// Set when evidence was attributed to the slot's current
	// occupant because the source carries no sequence number.
	SequenceInferred bool `json:"sequence_inferred,omitempty"`
}
