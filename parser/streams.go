package parser

import (
	"strings"

	"github.com/pkg/errors"
)

// OpenStream opens the content of a record's attribute as a byte
// source over the volume. Resident content is served from memory.
// Non-resident content is mapped through its runs and reports sparse
// ranges. Compressed streams are decompressed on read.
func OpenStream(volume ByteSource, geometry VolumeGeometry,
	record *MftRecord, attr_type uint32, name string) (ByteSource, error) {
	extents := record.FindAttributes(attr_type, name)
	if len(extents) == 0 {
		return nil, errors.Wrapf(ErrNotAvailable, "%v:%v not found in %v",
			AttributeTypeName(attr_type), name, record.FRN())
	}

	if extents[0].Resident {
		return NewBytesSource(extents[0].Content), nil
	}

	attr := extents[0]
	if len(extents) > 1 {
		attr = stitchExtents(extents, geometry.BytesPerCluster)
	}

	if attr.Unresolved {
		return nil, newDecodeError(UnresolvedRunList, int64(attr.Offset),
			"%v:%v of %v: %v", attr.TypeName(), name, record.FRN(),
			attr.Error.Reason)
	}

	if attr.Flags&ATTR_FLAG_COMPRESSED != 0 && attr.CompressionUnit > 0 {
		return NewCompressedReader(volume, attr.Runs, geometry.BytesPerCluster,
			attr.CompressionUnit, attr.ActualSize), nil
	}

	return NewRunReader(volume, attr.Runs, geometry.BytesPerCluster,
		attr.ActualSize), nil
}

// OpenLogFile opens the $LogFile stream (MFT entry 2).
func OpenLogFile(volume ByteSource, table *MftTable) (ByteSource, error) {
	record, pres := table.GetByIndex(MFT_ENTRY_LOGFILE)
	if !pres {
		return nil, errors.Wrap(ErrNotAvailable, "$LogFile record")
	}
	return OpenStream(volume, table.Geometry, record, ATTR_TYPE_DATA, "")
}

// FindUsnJournal locates $Extend\$UsnJrnl through the directory index.
func FindUsnJournal(table *MftTable) (*MftRecord, error) {
	extend, pres := table.GetByIndex(MFT_ENTRY_EXTEND)
	if !pres {
		return nil, errors.Wrap(ErrNotAvailable, "$Extend record")
	}

	for _, child := range table.Children(extend.FRN()) {
		record, pres := table.Get(child)
		if !pres || !record.InUse {
			continue
		}
		for _, fn := range record.FileNames() {
			if strings.EqualFold(fn.Name, "$UsnJrnl") {
				return record, nil
			}
		}
	}

	return nil, errors.Wrap(ErrNotAvailable, "$Extend\\$UsnJrnl")
}

// OpenUsnJournal opens the $J stream of $Extend\$UsnJrnl. The stream
// is mostly sparse: the journal discards old records by deallocating
// the start of the stream.
func OpenUsnJournal(volume ByteSource, table *MftTable) (ByteSource, error) {
	record, err := FindUsnJournal(table)
	if err != nil {
		return nil, err
	}
	return OpenStream(volume, table.Geometry, record, ATTR_TYPE_DATA, "$J")
}
