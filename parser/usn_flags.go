package parser

// Flags used in USN records.
// https://docs.microsoft.com/en-us/windows/win32/api/winioctl/ns-winioctl-usn_record_v2

type flagName struct {
	Value uint32
	Name  string
}

const (
	USN_REASON_DATA_OVERWRITE               = 0x00000001
	USN_REASON_DATA_EXTEND                  = 0x00000002
	USN_REASON_DATA_TRUNCATION              = 0x00000004
	USN_REASON_NAMED_DATA_OVERWRITE         = 0x00000010
	USN_REASON_NAMED_DATA_EXTEND            = 0x00000020
	USN_REASON_NAMED_DATA_TRUNCATION        = 0x00000040
	USN_REASON_FILE_CREATE                  = 0x00000100
	USN_REASON_FILE_DELETE                  = 0x00000200
	USN_REASON_EA_CHANGE                    = 0x00000400
	USN_REASON_SECURITY_CHANGE              = 0x00000800
	USN_REASON_RENAME_OLD_NAME              = 0x00001000
	USN_REASON_RENAME_NEW_NAME              = 0x00002000
	USN_REASON_INDEXABLE_CHANGE             = 0x00004000
	USN_REASON_BASIC_INFO_CHANGE            = 0x00008000
	USN_REASON_HARD_LINK_CHANGE             = 0x00010000
	USN_REASON_COMPRESSION_CHANGE           = 0x00020000
	USN_REASON_ENCRYPTION_CHANGE            = 0x00040000
	USN_REASON_OBJECT_ID_CHANGE             = 0x00080000
	USN_REASON_REPARSE_POINT_CHANGE         = 0x00100000
	USN_REASON_STREAM_CHANGE                = 0x00200000
	USN_REASON_TRANSACTED_CHANGE            = 0x00400000
	USN_REASON_INTEGRITY_CHANGE             = 0x00800000
	USN_REASON_DESIRED_STORAGE_CLASS_CHANGE = 0x01000000
	USN_REASON_CLOSE                        = 0x80000000
)

var usn_reasons = []flagName{
	{USN_REASON_DATA_OVERWRITE, "DATA_OVERWRITE"},
	{USN_REASON_DATA_EXTEND, "DATA_EXTEND"},
	{USN_REASON_DATA_TRUNCATION, "DATA_TRUNCATION"},
	{USN_REASON_NAMED_DATA_OVERWRITE, "NAMED_DATA_OVERWRITE"},
	{USN_REASON_NAMED_DATA_EXTEND, "NAMED_DATA_EXTEND"},
	{USN_REASON_NAMED_DATA_TRUNCATION, "NAMED_DATA_TRUNCATION"},
	{USN_REASON_FILE_CREATE, "FILE_CREATE"},
	{USN_REASON_FILE_DELETE, "FILE_DELETE"},
	{USN_REASON_EA_CHANGE, "EA_CHANGE"},
	{USN_REASON_SECURITY_CHANGE, "SECURITY_CHANGE"},
	{USN_REASON_RENAME_OLD_NAME, "RENAME_OLD_NAME"},
	{USN_REASON_RENAME_NEW_NAME, "RENAME_NEW_NAME"},
	{USN_REASON_INDEXABLE_CHANGE, "INDEXABLE_CHANGE"},
	{USN_REASON_BASIC_INFO_CHANGE, "BASIC_INFO_CHANGE"},
	{USN_REASON_HARD_LINK_CHANGE, "HARD_LINK_CHANGE"},
	{USN_REASON_COMPRESSION_CHANGE, "COMPRESSION_CHANGE"},
	{USN_REASON_ENCRYPTION_CHANGE, "ENCRYPTION_CHANGE"},
	{USN_REASON_OBJECT_ID_CHANGE, "OBJECT_ID_CHANGE"},
	{USN_REASON_REPARSE_POINT_CHANGE, "REPARSE_POINT_CHANGE"},
	{USN_REASON_STREAM_CHANGE, "STREAM_CHANGE"},
	{USN_REASON_TRANSACTED_CHANGE, "TRANSACTED_CHANGE"},
	{USN_REASON_INTEGRITY_CHANGE, "INTEGRITY_CHANGE"},
	{USN_REASON_DESIRED_STORAGE_CLASS_CHANGE, "DESIRED_STORAGE_CLASS_CHANGE"},
	{USN_REASON_CLOSE, "CLOSE"},
}

var usn_source_info = []flagName{
	{0x00000001, "DATA_MANAGEMENT"},
	{0x00000002, "AUXILIARY_DATA"},
	{0x00000004, "REPLICATION_MANAGEMENT"},
	{0x00000008, "CLIENT_REPLICATION_MANAGEMENT"},
}

var file_attributes = []flagName{
	{0x00000001, "READONLY"},
	{0x00000002, "HIDDEN"},
	{0x00000004, "SYSTEM"},
	{0x00000010, "DIRECTORY"},
	{0x00000020, "ARCHIVE"},
	{0x00000040, "DEVICE"},
	{0x00000080, "NORMAL"},
	{0x00000100, "TEMPORARY"},
	{0x00000200, "SPARSE_FILE"},
	{0x00000400, "REPARSE_POINT"},
	{0x00000800, "COMPRESSED"},
	{0x00001000, "OFFLINE"},
	{0x00002000, "NOT_CONTENT_INDEXED"},
	{0x00004000, "ENCRYPTED"},
	{0x00008000, "INTEGRITY_STREAM"},
	{0x00010000, "VIRTUAL"},
	{0x00020000, "NO_SCRUB_DATA"},
	{0x00040000, "RECALL_ON_OPEN"},
	{0x00080000, "PINNED"},
	{0x00100000, "UNPINNED"},
	{0x00400000, "RECALL_ON_DATA_ACCESS"},
}

// Bits without a name are reported in hex so no information is
// lost.
func flagNames(value uint32, names []flagName) []string {
	result := []string{}
	var known uint32
	for _, f := range names {
		known |= f.Value
		if value&f.Value != 0 {
			result = append(result, f.Name)
		}
	}

	for bit := uint32(1); bit != 0; bit <<= 1 {
		if value&bit != 0 && known&bit == 0 {
			result = append(result, fmtHex(bit))
		}
	}
	return result
}

func UsnReasonNames(reason uint32) []string {
	return flagNames(reason, usn_reasons)
}

func UsnSourceInfoNames(source_info uint32) []string {
	return flagNames(source_info, usn_source_info)
}

func FileAttributeNames(attributes uint32) []string {
	return flagNames(attributes, file_attributes)
}
