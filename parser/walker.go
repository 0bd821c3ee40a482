package parser

import (
	"context"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// MftTable is the result of walking the MFT: every decoded slot,
// failed slots and indexes over the records.
type MftTable struct {
	Geometry VolumeGeometry `json:"geometry"`

	// Records in slot order. Base records include the attributes of
	// their extension records. Tombstones (records not in use) are
	// retained.
	Records  []*MftRecord  `json:"records"`
	Failures []SlotFailure `json:"failures"`
	Stats    *Stats        `json:"-"`

	// Set when the walk was cancelled before the end of the table.
	Incomplete bool `json:"incomplete,omitempty"`

	by_frn   map[FRN]*MftRecord
	by_index map[uint64]*MftRecord
	children map[FRN][]FRN
}

func newMftTable(geometry VolumeGeometry) *MftTable {
	return &MftTable{
		Geometry: geometry,
		Records:  []*MftRecord{},
		Failures: []SlotFailure{},
		Stats:    &Stats{},
		by_frn:   make(map[FRN]*MftRecord),
		by_index: make(map[uint64]*MftRecord),
		children: make(map[FRN][]FRN),
	}
}

// Get returns the record currently occupying the slot named by frn.
// The sequence number must match.
func (self *MftTable) Get(frn FRN) (*MftRecord, bool) {
	record, pres := self.by_frn[frn]
	return record, pres
}

// GetByIndex returns the record in the slot regardless of sequence.
func (self *MftTable) GetByIndex(index uint64) (*MftRecord, bool) {
	record, pres := self.by_index[index]
	return record, pres
}

// Children lists the files which have a $FILE_NAME pointing at
// parent, in slot order.
func (self *MftTable) Children(parent FRN) []FRN {
	return self.children[parent]
}

// ParseMFTFile walks an extracted $MFT stream.
func ParseMFTFile(ctx context.Context, mft ByteSource,
	geometry VolumeGeometry, options Options) (*MftTable, error) {
	err := geometry.Validate()
	if err != nil {
		return nil, err
	}

	if mft == nil {
		return nil, errors.Wrap(ErrNotAvailable, "ParseMFTFile")
	}

	options = options.normalize()
	table := newMftTable(geometry)
	record_size := geometry.MftRecordSize
	size := mft.Size()

	// All extension records are merged once the walk is done.
	extensions := []*MftRecord{}

	buffer := make([]byte, record_size)

loop:
	for offset := int64(0); offset < size; offset += record_size {
		select {
		case <-ctx.Done():
			table.Incomplete = true
			break loop
		default:
		}

		slot := uint64(offset / record_size)
		table.Stats.inc(&table.Stats.Slots)

		n, err := mft.ReadAt(buffer, offset)
		data := buffer[:n]
		if n < len(buffer) && isZero(data) {
			if err != nil && !errors.Is(err, io.EOF) {
				table.addFailure(slot, offset, err)
				continue
			}
			table.Stats.inc(&table.Stats.EmptySlots)
			continue
		}

		if isZero(data) {
			table.Stats.inc(&table.Stats.EmptySlots)
			continue
		}

		if n < len(buffer) {
			table.addFailure(slot, offset, newDecodeError(TruncatedHeader, offset,
				"short slot of %d bytes", n))
			continue
		}

		record, err := decodeMftRecord(data, geometry, int64(slot), offset)
		if err != nil {
			table.addFailure(slot, offset, err)
			continue
		}

		table.Stats.inc(&table.Stats.Records)
		if !record.InUse {
			table.Stats.inc(&table.Stats.Tombstones)
		}
		for _, attr := range record.Attributes {
			if attr.Unresolved {
				table.Stats.inc(&table.Stats.UnresolvedAttrs)
			}
		}

		if record.IsExtension() {
			table.Stats.inc(&table.Stats.ExtensionRecords)
			extensions = append(extensions, record)
		}

		table.Records = append(table.Records, record)
		table.by_index[record.Index] = record
	}

	table.mergeExtensions(extensions, options)
	table.buildIndex()

	options.Logger.WithField("records", len(table.Records)).
		WithField("failures", len(table.Failures)).
		Debug("MFT walk done")

	return table, nil
}

func (self *MftTable) addFailure(slot uint64, offset int64, err error) {
	self.Stats.inc(&self.Stats.SlotFailures)
	self.Failures = append(self.Failures, SlotFailure{
		Index:  slot,
		Offset: offset,
		Error:  err,
		Reason: err.Error(),
	})
	DebugPrint("MFT slot %d: %v\n", slot, err)
}

// mergeExtensions folds the attributes of each extension record into
// its base record. The base record is replaced by a new merged value.
func (self *MftTable) mergeExtensions(extensions []*MftRecord, options Options) {
	if len(extensions) == 0 {
		return
	}

	merged := make(map[uint64]*MftRecord)
	merged_extensions := make(map[uint64]bool)

	for _, ext := range extensions {
		base_index := ext.BaseRecord.Index
		base, pres := merged[base_index]
		if !pres {
			base, pres = self.by_index[base_index]
			if !pres || base.IsExtension() {
				DebugPrint("Extension record %d: base %v not found\n",
					ext.Index, ext.BaseRecord)
				continue
			}
		}

		if base.Sequence != ext.BaseRecord.Sequence {
			DebugPrint("Extension record %d: base %v is now occupied by %v\n",
				ext.Index, ext.BaseRecord, base.FRN())
			continue
		}

		new_base := *base
		new_base.Attributes = append(append([]*Attribute{}, base.Attributes...),
			ext.Attributes...)
		new_base.Extensions = append(append([]FRN{}, base.Extensions...), ext.FRN())
		merged[base_index] = &new_base
		merged_extensions[ext.Index] = true
	}

	records := make([]*MftRecord, 0, len(self.Records))
	for _, record := range self.Records {
		if merged_extensions[record.Index] && !options.KeepExtensionRecords {
			delete(self.by_index, record.Index)
			continue
		}

		new_base, pres := merged[record.Index]
		if pres {
			new_base.Attributes = stitchAttributes(new_base.Attributes,
				self.Geometry.BytesPerCluster)
			new_base.Parents = parentsOf(new_base.Attributes)
			record = new_base
			self.by_index[record.Index] = record
		}
		records = append(records, record)
	}
	self.Records = records
}

type extentKey struct {
	Type uint32
	Name string
}

// stitchAttributes joins non-resident attributes split into several
// extents (one per record) into one attribute covering the whole
// VCN range. The joined attribute replaces the first extent.
func stitchAttributes(attributes []*Attribute, cluster_size int64) []*Attribute {
	extents := make(map[extentKey][]*Attribute)
	for _, attr := range attributes {
		if attr.Resident {
			continue
		}
		key := extentKey{attr.Type, attr.Name}
		extents[key] = append(extents[key], attr)
	}

	result := make([]*Attribute, 0, len(attributes))
	for _, attr := range attributes {
		if attr.Resident {
			result = append(result, attr)
			continue
		}

		parts := extents[extentKey{attr.Type, attr.Name}]
		if len(parts) == 1 {
			result = append(result, attr)
			continue
		}

		if parts[0] != attr {
			// Already emitted as part of the first extent.
			continue
		}
		result = append(result, stitchExtents(parts, cluster_size))
	}

	return result
}

func stitchExtents(parts []*Attribute, cluster_size int64) *Attribute {
	sorted := append([]*Attribute{}, parts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartVcn < sorted[j].StartVcn
	})

	first := sorted[0]
	result := *first
	result.Runs = []Run{}
	result.rawRunList = nil

	next_vcn := int64(0)
	for _, part := range sorted {
		if part.Unresolved && !result.Unresolved {
			result.Unresolved = true
			result.Error = part.Error
		}
		if part.StartVcn != next_vcn && !result.Unresolved {
			result.unresolve("extent at VCN %d follows VCN %d",
				part.StartVcn, next_vcn-1)
		}
		result.Runs = append(result.Runs, part.Runs...)
		result.EndVcn = part.EndVcn
		next_vcn = part.EndVcn + 1
	}

	if first.StartVcn != 0 && !result.Unresolved {
		result.unresolve("first extent starts at VCN %d", first.StartVcn)
	}

	total := totalClusters(result.Runs) * cluster_size
	if total != first.AllocatedSize && !result.Unresolved {
		result.unresolve("extents cover %d bytes but allocated size is %d",
			total, first.AllocatedSize)
	}

	return &result
}

func (self *MftTable) buildIndex() {
	for _, record := range self.Records {
		if record.IsExtension() {
			continue
		}

		frn := record.FRN()
		self.by_frn[frn] = record

		for _, parent := range record.Parents {
			self.children[parent] = append(self.children[parent], frn)
		}
	}
}

// ParseMFT walks the MFT of a volume. The location of the $MFT stream
// is bootstrapped from its own record 0.
func ParseMFT(ctx context.Context, volume ByteSource,
	geometry VolumeGeometry, options Options) (*MftTable, error) {
	err := geometry.Validate()
	if err != nil {
		return nil, err
	}

	if volume == nil {
		return nil, errors.Wrap(ErrNotAvailable, "ParseMFT")
	}

	mft, err := BootstrapMFT(volume, geometry)
	if err != nil {
		return nil, err
	}

	return ParseMFTFile(ctx, mft, geometry, options)
}

// BootstrapMFT finds the $MFT stream on the volume. Record 0
// describes the $MFT itself: its $DATA attribute maps the whole
// table. When the $MFT is very fragmented, the $DATA attribute is
// split over extension records named by record 0's
// $ATTRIBUTE_LIST, and those are read through the first extent.
func BootstrapMFT(volume ByteSource, geometry VolumeGeometry) (*RunReader, error) {
	record_size := geometry.MftRecordSize
	offset := geometry.MftOffset()

	buf, err := readExact(volume, offset, record_size)
	if err != nil {
		return nil, errors.Wrap(err, "BootstrapMFT")
	}

	root, err := decodeMftRecord(buf, geometry, MFT_ENTRY_MFT, offset)
	if err != nil {
		return nil, errors.Wrap(err, "BootstrapMFT: $MFT record")
	}

	extents := root.FindAttributes(ATTR_TYPE_DATA, "")
	if len(extents) == 0 || extents[0].Resident {
		return nil, errors.New("BootstrapMFT: $DATA attribute not found for $MFT")
	}

	first := extents[0]
	cluster_size := geometry.BytesPerCluster
	reader := NewRunReader(volume, first.Runs, cluster_size, first.ActualSize)

	for _, attr := range root.Attributes {
		if attr.Kind != KindAttributeList {
			continue
		}

		seen := make(map[uint64]bool)
		for _, entry := range attr.AttributeList {
			if entry.Type != ATTR_TYPE_DATA || entry.Name != "" ||
				entry.Reference.Index == MFT_ENTRY_MFT ||
				seen[entry.Reference.Index] {
				continue
			}
			seen[entry.Reference.Index] = true

			ext_offset := int64(entry.Reference.Index) * record_size
			ext_buf, err := readExact(reader, ext_offset, record_size)
			if err != nil {
				return nil, errors.Wrapf(err,
					"BootstrapMFT: extension record %d", entry.Reference.Index)
			}

			ext, err := decodeMftRecord(ext_buf, geometry,
				int64(entry.Reference.Index), ext_offset)
			if err != nil {
				return nil, errors.Wrapf(err,
					"BootstrapMFT: extension record %d", entry.Reference.Index)
			}
			extents = append(extents, ext.FindAttributes(ATTR_TYPE_DATA, "")...)
		}
	}

	data := first
	if len(extents) > 1 {
		data = stitchExtents(extents, cluster_size)
	}

	if data.Unresolved {
		return nil, newDecodeError(UnresolvedRunList, offset,
			"$MFT $DATA: %v", data.Error.Reason)
	}

	return NewRunReader(volume, data.Runs, cluster_size, first.ActualSize), nil
}
