package parser

import (
	"bytes"
	"encoding/binary"
)

const (
	MFT_HEADER_SIZE = 48

	// Header of NTFS 1.x-3.0 records: no record number field.
	MFT_HEADER_SIZE_V30 = 42
)

var (
	MFT_SIGNATURE  = []byte("FILE")
	BAAD_SIGNATURE = []byte("BAAD")
)

// DecodeMftRecord decodes a single MFT record held in buf. The buffer
// is not modified: fixups are applied to a copy. The record number is
// taken from the record header.
func DecodeMftRecord(buf []byte, geometry VolumeGeometry) (*MftRecord, error) {
	return decodeMftRecord(buf, geometry, -1, 0)
}

// decodeMftRecord decodes the record found in slot (or uses the header
// record number when slot is negative). file_offset is only used to
// locate errors.
func decodeMftRecord(buf []byte, geometry VolumeGeometry,
	slot int64, file_offset int64) (*MftRecord, error) {

	if len(buf) < 4 || !bytes.Equal(buf[:4], MFT_SIGNATURE) {
		if len(buf) >= 4 && bytes.Equal(buf[:4], BAAD_SIGNATURE) {
			return nil, newDecodeError(BadSignature, file_offset,
				"record marked BAAD by chkdsk")
		}
		return nil, newDecodeError(BadSignature, file_offset,
			"expected FILE signature")
	}

	if len(buf) < MFT_HEADER_SIZE_V30 {
		return nil, newDecodeError(TruncatedHeader, file_offset,
			"record is only %d bytes", len(buf))
	}

	buf = copySlice(buf)

	usa_offset := int(binary.LittleEndian.Uint16(buf[4:]))
	usa_count := int(binary.LittleEndian.Uint16(buf[6:]))
	err := applyFixups(buf, usa_offset, usa_count, file_offset)
	if err != nil {
		return nil, err
	}

	result := &MftRecord{
		Lsn:        binary.LittleEndian.Uint64(buf[8:]),
		Sequence:   binary.LittleEndian.Uint16(buf[16:]),
		LinkCount:  binary.LittleEndian.Uint16(buf[18:]),
		BaseRecord: ParseFRN(binary.LittleEndian.Uint64(buf[32:])),
		RecordSize: len(buf),
	}

	flags := binary.LittleEndian.Uint16(buf[22:])
	result.InUse = flags&MFT_FLAG_IN_USE != 0
	result.IsDir = flags&MFT_FLAG_DIRECTORY != 0

	header_size := MFT_HEADER_SIZE_V30
	if usa_offset >= MFT_HEADER_SIZE && len(buf) >= MFT_HEADER_SIZE {
		header_size = MFT_HEADER_SIZE
		result.Index = uint64(binary.LittleEndian.Uint32(buf[44:]))
	}

	if slot >= 0 {
		if header_size == MFT_HEADER_SIZE && result.Index != uint64(slot) {
			DebugPrint("MFT slot %d has record number %d\n", slot, result.Index)
		}
		result.Index = uint64(slot)
	}

	bytes_in_use := int(binary.LittleEndian.Uint32(buf[24:]))
	if bytes_in_use > len(buf) || bytes_in_use < header_size {
		return nil, newDecodeError(TruncatedHeader, file_offset,
			"bytes in use %d outside record of %d bytes", bytes_in_use, len(buf))
	}

	attribute_offset := int(binary.LittleEndian.Uint16(buf[20:]))
	if attribute_offset < header_size || attribute_offset > bytes_in_use {
		return nil, newDecodeError(TruncatedHeader, file_offset,
			"first attribute offset %#x outside %#x", attribute_offset, bytes_in_use)
	}

	cluster_size := geometry.BytesPerCluster
	for offset := attribute_offset; offset+4 <= bytes_in_use; {
		if binary.LittleEndian.Uint32(buf[offset:]) == ATTR_TYPE_END {
			break
		}

		attr, err := decodeAttribute(buf, offset, bytes_in_use,
			file_offset, cluster_size)
		if err != nil {
			return nil, err
		}
		result.Attributes = append(result.Attributes, attr)

		// Go to the next attribute.
		offset += attr.Length
	}

	result.Parents = parentsOf(result.Attributes)

	return result, nil
}

func parentsOf(attributes []*Attribute) []FRN {
	result := []FRN{}
	seen := make(map[FRN]bool)
	for _, attr := range attributes {
		if attr.FileName == nil {
			continue
		}
		parent := attr.FileName.Parent
		if !seen[parent] {
			seen[parent] = true
			result = append(result, parent)
		}
	}
	return result
}

// CanonicalFileName picks the name used to display a file with
// several $FILE_NAME attributes: the Win32 name (including a combined
// Win32 and DOS name), otherwise the POSIX name, otherwise the first
// name. Names are considered in attribute order, which is ascending
// attribute offset within a record and base record before extension
// records.
func CanonicalFileName(names []*FileNameAttribute) *FileNameAttribute {
	var posix *FileNameAttribute

	for _, fn := range names {
		if fn.Namespace.IsWin32() {
			return fn
		}
		if posix == nil && fn.Namespace == NamespacePOSIX {
			posix = fn
		}
	}

	if posix != nil {
		return posix
	}

	if len(names) > 0 {
		return names[0]
	}
	return nil
}

// EncodeMftRecord builds the on disk image of a record: header,
// attributes and update sequence array.
func EncodeMftRecord(record *MftRecord, record_size int) []byte {
	buf := make([]byte, record_size)
	copy(buf, MFT_SIGNATURE)

	usa_count := record_size/FIXUP_STRIDE + 1
	attribute_offset := int(align8(int64(MFT_HEADER_SIZE + usa_count*2)))
	attributes := EncodeAttributes(record.Attributes)
	bytes_in_use := attribute_offset + len(attributes)

	var flags uint16
	if record.InUse {
		flags |= MFT_FLAG_IN_USE
	}
	if record.IsDir {
		flags |= MFT_FLAG_DIRECTORY
	}

	var next_id uint16
	for _, attr := range record.Attributes {
		if attr.Id >= next_id {
			next_id = attr.Id + 1
		}
	}

	binary.LittleEndian.PutUint16(buf[4:], MFT_HEADER_SIZE)
	binary.LittleEndian.PutUint16(buf[6:], uint16(usa_count))
	binary.LittleEndian.PutUint64(buf[8:], record.Lsn)
	binary.LittleEndian.PutUint16(buf[16:], record.Sequence)
	binary.LittleEndian.PutUint16(buf[18:], record.LinkCount)
	binary.LittleEndian.PutUint16(buf[20:], uint16(attribute_offset))
	binary.LittleEndian.PutUint16(buf[22:], flags)
	binary.LittleEndian.PutUint32(buf[24:], uint32(bytes_in_use))
	binary.LittleEndian.PutUint32(buf[28:], uint32(record_size))
	binary.LittleEndian.PutUint64(buf[32:], record.BaseRecord.Packed())
	binary.LittleEndian.PutUint16(buf[40:], next_id)
	binary.LittleEndian.PutUint32(buf[44:], uint32(record.Index))

	if bytes_in_use <= record_size {
		copy(buf[attribute_offset:], attributes)
	}

	protectFixups(buf, MFT_HEADER_SIZE, usa_count, 1)
	return buf
}
