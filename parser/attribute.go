package parser

import (
	"encoding/binary"
	"fmt"
)

const (
	ATTRIBUTE_HEADER_SIZE     = 16
	RESIDENT_HEADER_SIZE      = 24
	NON_RESIDENT_HEADER_SIZE  = 64
	COMPRESSED_HEADER_SIZE    = 72
	STANDARD_INFORMATION_SIZE = 48
	STANDARD_INFORMATION_V3   = 72
	FILE_NAME_HEADER_SIZE     = 66
	ATTRIBUTE_LIST_ENTRY_SIZE = 26
)

// decodeAttribute decodes the attribute whose header starts at
// offset within the fixed up record. limit is the end of the used
// part of the record. Structural problems with the header fail the
// record; problems with the content only flag the attribute.
func decodeAttribute(record []byte, offset, limit int,
	record_offset int64, cluster_size int64) (*Attribute, error) {
	file_offset := record_offset + int64(offset)

	if offset+ATTRIBUTE_HEADER_SIZE > limit {
		return nil, newDecodeError(AttributeOverrun, file_offset,
			"attribute header at %#x past end of record (%#x)", offset, limit)
	}

	h := record[offset:]
	attr_type := binary.LittleEndian.Uint32(h[0:])
	length := int(binary.LittleEndian.Uint32(h[4:]))

	if length < ATTRIBUTE_HEADER_SIZE || offset+length > limit {
		return nil, newDecodeError(AttributeOverrun, file_offset,
			"attribute %#x length %d overruns record (%#x)", attr_type, length, limit)
	}
	h = h[:length]

	result := &Attribute{
		Kind:     kindOfType(attr_type),
		Type:     attr_type,
		Resident: h[8] == 0,
		Flags:    binary.LittleEndian.Uint16(h[12:]),
		Id:       binary.LittleEndian.Uint16(h[14:]),
		Offset:   offset,
		Length:   length,
	}

	name_length := int(h[9])
	name_offset := int(binary.LittleEndian.Uint16(h[10:]))
	if name_length > 0 {
		if name_offset+name_length*2 > length {
			return nil, newDecodeError(AttributeOverrun, file_offset,
				"attribute %#x name overruns attribute", attr_type)
		}
		result.Name = ParseUTF16String(h[name_offset : name_offset+name_length*2])
	}

	if result.Resident {
		if length < RESIDENT_HEADER_SIZE {
			return nil, newDecodeError(AttributeOverrun, file_offset,
				"resident attribute %#x too short (%d)", attr_type, length)
		}

		content_size := int(binary.LittleEndian.Uint32(h[16:]))
		content_offset := int(binary.LittleEndian.Uint16(h[20:]))
		if content_offset+content_size > length || content_offset < 0 {
			return nil, newDecodeError(AttributeOverrun, file_offset,
				"resident content of %#x (%d @ %d) overruns attribute (%d)",
				attr_type, content_size, content_offset, length)
		}
		result.Content = copySlice(h[content_offset : content_offset+content_size])
		decodeResidentContent(result)
		return result, nil
	}

	if length < NON_RESIDENT_HEADER_SIZE {
		return nil, newDecodeError(AttributeOverrun, file_offset,
			"non-resident attribute %#x too short (%d)", attr_type, length)
	}

	result.StartVcn = int64(binary.LittleEndian.Uint64(h[16:]))
	result.EndVcn = int64(binary.LittleEndian.Uint64(h[24:]))
	runlist_offset := int(binary.LittleEndian.Uint16(h[32:]))
	result.CompressionUnit = binary.LittleEndian.Uint16(h[34:])
	result.AllocatedSize = int64(binary.LittleEndian.Uint64(h[40:]))
	result.ActualSize = int64(binary.LittleEndian.Uint64(h[48:]))
	result.InitializedSize = int64(binary.LittleEndian.Uint64(h[56:]))

	if runlist_offset < NON_RESIDENT_HEADER_SIZE || runlist_offset > length {
		result.unresolve("run list offset %d outside attribute (%d)",
			runlist_offset, length)
		return result, nil
	}

	result.rawRunList = copySlice(h[runlist_offset:])
	runs, err := decodeRunList(h[runlist_offset:])
	result.Runs = runs
	if err != nil {
		result.unresolve("%v", err)
		return result, nil
	}

	err = checkRuns(result, cluster_size)
	if err != nil {
		result.unresolve("%v", err)
	}

	return result, nil
}

func decodeResidentContent(attr *Attribute) {
	switch attr.Kind {
	case KindStandardInformation:
		si, err := decodeStandardInformation(attr.Content)
		if err != nil {
			attr.unresolve("%v", err)
			return
		}
		attr.StandardInformation = si

	case KindFileName:
		fn, err := decodeFileName(attr.Content)
		if err != nil {
			attr.unresolve("%v", err)
			return
		}
		fn.AttributeOffset = attr.Offset
		attr.FileName = fn

	case KindAttributeList:
		attr.AttributeList = decodeAttributeList(attr.Content)

	case KindData, KindIndexRoot, KindIndexAllocation, KindBitmap, KindOther:
		// Content is kept raw.
	}
}

func decodeStandardInformation(buf []byte) (*StandardInformation, error) {
	if len(buf) < STANDARD_INFORMATION_SIZE {
		return nil, newDecodeError(TruncatedHeader, 0,
			"$STANDARD_INFORMATION is %d bytes", len(buf))
	}

	result := &StandardInformation{
		Times: TimeStamps{
			Created:     parseFiletime(buf, 0),
			Modified:    parseFiletime(buf, 8),
			MftModified: parseFiletime(buf, 16),
			Accessed:    parseFiletime(buf, 24),
		},
		FileAttributes: uint32At(buf, 32),
	}

	// NTFS 3.0+ extended fields.
	if len(buf) >= STANDARD_INFORMATION_V3 {
		result.OwnerId = uint32At(buf, 48)
		result.SecurityId = uint32At(buf, 52)
		result.QuotaCharged = uint64At(buf, 56)
		result.Usn = uint64At(buf, 64)
	}

	return result, nil
}

func decodeFileName(buf []byte) (*FileNameAttribute, error) {
	if len(buf) < FILE_NAME_HEADER_SIZE {
		return nil, newDecodeError(TruncatedHeader, 0,
			"$FILE_NAME is %d bytes", len(buf))
	}

	name_length := int(buf[64])
	if FILE_NAME_HEADER_SIZE+name_length*2 > len(buf) {
		return nil, newDecodeError(AttributeOverrun, 0,
			"$FILE_NAME name of %d chars overruns %d bytes", name_length, len(buf))
	}

	return &FileNameAttribute{
		Parent: ParseFRN(binary.LittleEndian.Uint64(buf)),
		Times: TimeStamps{
			Created:     parseFiletime(buf, 8),
			Modified:    parseFiletime(buf, 16),
			MftModified: parseFiletime(buf, 24),
			Accessed:    parseFiletime(buf, 32),
		},
		AllocatedSize: uint64At(buf, 40),
		RealSize:      uint64At(buf, 48),
		Flags:         uint32At(buf, 56),
		ReparseTag:    uint32At(buf, 60),
		Namespace:     FileNameNamespace(buf[65]),
		Name: ParseUTF16String(
			buf[FILE_NAME_HEADER_SIZE : FILE_NAME_HEADER_SIZE+name_length*2]),
	}, nil
}

func decodeAttributeList(buf []byte) []AttributeListEntry {
	result := []AttributeListEntry{}

	for offset := 0; offset+ATTRIBUTE_LIST_ENTRY_SIZE <= len(buf); {
		entry := buf[offset:]
		record_length := int(binary.LittleEndian.Uint16(entry[4:]))
		if record_length < ATTRIBUTE_LIST_ENTRY_SIZE ||
			offset+record_length > len(buf) {
			break
		}
		entry = entry[:record_length]

		item := AttributeListEntry{
			Type:        binary.LittleEndian.Uint32(entry),
			StartVcn:    binary.LittleEndian.Uint64(entry[8:]),
			Reference:   ParseFRN(binary.LittleEndian.Uint64(entry[16:])),
			AttributeId: binary.LittleEndian.Uint16(entry[24:]),
		}

		name_length := int(entry[6])
		name_offset := int(entry[7])
		if name_length > 0 && name_offset+name_length*2 <= record_length {
			item.Name = ParseUTF16String(
				entry[name_offset : name_offset+name_length*2])
		}

		result = append(result, item)
		offset += record_length
	}

	return result
}

func (self *Attribute) unresolve(format string, args ...interface{}) {
	reason := fmt.Sprintf(format, args...)
	self.Unresolved = true
	self.Error = &ResolutionError{
		AttributeType: self.Type,
		AttributeId:   self.Id,
		Reason:        reason,
	}
	DebugPrint("Attribute %v (id %d) unresolved: %v\n",
		self.TypeName(), self.Id, reason)
}

// Encode the $STANDARD_INFORMATION content in its NTFS 3.0+ layout.
func (self *StandardInformation) Encode() []byte {
	buf := make([]byte, STANDARD_INFORMATION_V3)
	binary.LittleEndian.PutUint64(buf[0:], TimeToFiletime(self.Times.Created))
	binary.LittleEndian.PutUint64(buf[8:], TimeToFiletime(self.Times.Modified))
	binary.LittleEndian.PutUint64(buf[16:], TimeToFiletime(self.Times.MftModified))
	binary.LittleEndian.PutUint64(buf[24:], TimeToFiletime(self.Times.Accessed))
	binary.LittleEndian.PutUint32(buf[32:], self.FileAttributes)
	binary.LittleEndian.PutUint32(buf[48:], self.OwnerId)
	binary.LittleEndian.PutUint32(buf[52:], self.SecurityId)
	binary.LittleEndian.PutUint64(buf[56:], self.QuotaCharged)
	binary.LittleEndian.PutUint64(buf[64:], self.Usn)
	return buf
}

func (self *FileNameAttribute) Encode() []byte {
	name := EncodeUTF16String(self.Name)
	buf := make([]byte, FILE_NAME_HEADER_SIZE+len(name))
	binary.LittleEndian.PutUint64(buf[0:], self.Parent.Packed())
	binary.LittleEndian.PutUint64(buf[8:], TimeToFiletime(self.Times.Created))
	binary.LittleEndian.PutUint64(buf[16:], TimeToFiletime(self.Times.Modified))
	binary.LittleEndian.PutUint64(buf[24:], TimeToFiletime(self.Times.MftModified))
	binary.LittleEndian.PutUint64(buf[32:], TimeToFiletime(self.Times.Accessed))
	binary.LittleEndian.PutUint64(buf[40:], self.AllocatedSize)
	binary.LittleEndian.PutUint64(buf[48:], self.RealSize)
	binary.LittleEndian.PutUint32(buf[56:], self.Flags)
	binary.LittleEndian.PutUint32(buf[60:], self.ReparseTag)
	buf[64] = byte(len(name) / 2)
	buf[65] = byte(self.Namespace)
	copy(buf[FILE_NAME_HEADER_SIZE:], name)
	return buf
}

// NewResidentAttribute builds a resident attribute. The decoded
// variant is filled in from the content.
func NewResidentAttribute(attr_type uint32, id uint16,
	name string, content []byte) *Attribute {
	result := &Attribute{
		Kind:     kindOfType(attr_type),
		Type:     attr_type,
		Id:       id,
		Name:     name,
		Resident: true,
		Content:  content,
	}
	decodeResidentContent(result)
	return result
}

// NewNonResidentAttribute builds a non-resident attribute covering
// runs. Sizes are derived from the runs and the cluster size.
func NewNonResidentAttribute(attr_type uint32, id uint16, name string,
	runs []Run, cluster_size int64, actual_size int64) *Attribute {
	clusters := totalClusters(runs)
	return &Attribute{
		Kind:            kindOfType(attr_type),
		Type:            attr_type,
		Id:              id,
		Name:            name,
		StartVcn:        0,
		EndVcn:          clusters - 1,
		AllocatedSize:   clusters * cluster_size,
		ActualSize:      actual_size,
		InitializedSize: actual_size,
		Runs:            runs,
	}
}

func (self *Attribute) encodedLength() int {
	name_length := len(EncodeUTF16String(self.Name))
	if self.Resident {
		content_offset := int(align8(int64(RESIDENT_HEADER_SIZE + name_length)))
		return int(align8(int64(content_offset + len(self.Content))))
	}

	header := NON_RESIDENT_HEADER_SIZE
	if self.CompressionUnit != 0 {
		header = COMPRESSED_HEADER_SIZE
	}
	runlist_offset := int(align8(int64(header + name_length)))
	return int(align8(int64(runlist_offset + len(self.runListBytes()))))
}

func (self *Attribute) runListBytes() []byte {
	if self.Unresolved && self.rawRunList != nil {
		return self.rawRunList
	}
	return EncodeRunList(self.Runs)
}

// Encode the attribute with its header. The declared length of a
// decoded attribute is kept when the encoding fits inside it.
func (self *Attribute) Encode() []byte {
	name := EncodeUTF16String(self.Name)
	length := self.encodedLength()
	if self.Length > length {
		length = self.Length
	}

	buf := make([]byte, length)
	binary.LittleEndian.PutUint32(buf[0:], self.Type)
	binary.LittleEndian.PutUint32(buf[4:], uint32(length))
	if !self.Resident {
		buf[8] = 1
	}
	buf[9] = byte(len(name) / 2)
	binary.LittleEndian.PutUint16(buf[12:], self.Flags)
	binary.LittleEndian.PutUint16(buf[14:], self.Id)

	if self.Resident {
		content_offset := int(align8(int64(RESIDENT_HEADER_SIZE + len(name))))
		if len(name) > 0 {
			binary.LittleEndian.PutUint16(buf[10:], RESIDENT_HEADER_SIZE)
			copy(buf[RESIDENT_HEADER_SIZE:], name)
		}
		binary.LittleEndian.PutUint32(buf[16:], uint32(len(self.Content)))
		binary.LittleEndian.PutUint16(buf[20:], uint16(content_offset))
		copy(buf[content_offset:], self.Content)
		return buf
	}

	header := NON_RESIDENT_HEADER_SIZE
	if self.CompressionUnit != 0 {
		header = COMPRESSED_HEADER_SIZE
	}
	if len(name) > 0 {
		binary.LittleEndian.PutUint16(buf[10:], uint16(header))
		copy(buf[header:], name)
	}
	runlist_offset := int(align8(int64(header + len(name))))

	binary.LittleEndian.PutUint64(buf[16:], uint64(self.StartVcn))
	binary.LittleEndian.PutUint64(buf[24:], uint64(self.EndVcn))
	binary.LittleEndian.PutUint16(buf[32:], uint16(runlist_offset))
	binary.LittleEndian.PutUint16(buf[34:], self.CompressionUnit)
	binary.LittleEndian.PutUint64(buf[40:], uint64(self.AllocatedSize))
	binary.LittleEndian.PutUint64(buf[48:], uint64(self.ActualSize))
	binary.LittleEndian.PutUint64(buf[56:], uint64(self.InitializedSize))
	copy(buf[runlist_offset:], self.runListBytes())

	return buf
}

// EncodeAttributes re-encodes an attribute list followed by the end
// marker.
func EncodeAttributes(attributes []*Attribute) []byte {
	result := []byte{}
	for _, attr := range attributes {
		result = append(result, attr.Encode()...)
	}

	end := make([]byte, 8)
	binary.LittleEndian.PutUint32(end, ATTR_TYPE_END)
	return append(result, end...)
}
