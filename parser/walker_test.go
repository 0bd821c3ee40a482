package parser

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestMFT(geometry VolumeGeometry) []byte {
	root := newFileRecord(MFT_ENTRY_ROOT, 5, rootFRN, ".", testTimes(testTime))
	root.IsDir = true

	docs := newFileRecord(30, 1, rootFRN, "docs", testTimes(testTime))
	docs.IsDir = true

	report := newFileRecord(40, 1, FRN{Index: 30, Sequence: 1},
		"report.docx", testTimes(testTime.Add(time.Hour)))

	deleted := newFileRecord(41, 4, FRN{Index: 30, Sequence: 1},
		"secret.txt", testTimes(testTime.Add(2*time.Hour)))
	deleted.InUse = false

	mft := buildMFT(geometry, 64, root, docs, report, deleted)

	// A slot which does not hold a record.
	junk := mft[42*geometry.MftRecordSize:]
	copy(junk, "JUNK this is not an MFT record")

	return mft
}

func TestParseMFT(t *testing.T) {
	geometry := DefaultGeometry()
	source := NewBytesSource(buildTestMFT(geometry))

	table, err := ParseMFTFile(context.Background(), source, geometry,
		GetDefaultOptions())
	require.NoError(t, err)

	assert.False(t, table.Incomplete)
	assert.Equal(t, 4, len(table.Records))

	// Tombstones are kept.
	deleted, pres := table.GetByIndex(41)
	require.True(t, pres)
	assert.False(t, deleted.InUse)
	assert.Equal(t, "secret.txt", deleted.Name())

	_, pres = table.Get(FRN{Index: 41, Sequence: 4})
	assert.True(t, pres)
	_, pres = table.Get(FRN{Index: 41, Sequence: 3})
	assert.False(t, pres)

	// The corrupt slot is a failure, the walk continued.
	require.Equal(t, 1, len(table.Failures))
	assert.Equal(t, uint64(42), table.Failures[0].Index)
	assert.True(t, IsDecodeError(table.Failures[0].Error, BadSignature))

	report, pres := table.Get(FRN{Index: 40, Sequence: 1})
	require.True(t, pres)
	assert.Equal(t, "/docs/report.docx", table.FullPath(report, GetDefaultOptions()))
	assert.Equal(t, [][]string{{"docs", "report.docx"}},
		table.Links(report, GetDefaultOptions()))

	assert.Equal(t, []FRN{{Index: 40, Sequence: 1}, {Index: 41, Sequence: 4}},
		table.Children(FRN{Index: 30, Sequence: 1}))

	stats, _ := json.MarshalIndent(table.Stats.ToDict(), "", "  ")
	g := goldie.New(t, goldie.WithFixtureDir("testdata"))
	g.Assert(t, "TestParseMFTStats", stats)
}

func TestParseMFTIdempotent(t *testing.T) {
	geometry := DefaultGeometry()
	source := NewBytesSource(buildTestMFT(geometry))

	first, err := ParseMFTFile(context.Background(), source, geometry,
		GetDefaultOptions())
	require.NoError(t, err)

	second, err := ParseMFTFile(context.Background(), source, geometry,
		GetDefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, first.Records, second.Records)
	assert.Equal(t, first.Failures, second.Failures)
}

func TestParseMFTCancelled(t *testing.T) {
	geometry := DefaultGeometry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	table, err := ParseMFTFile(ctx, NewBytesSource(buildTestMFT(geometry)),
		geometry, GetDefaultOptions())
	require.NoError(t, err)
	assert.True(t, table.Incomplete)
	assert.Equal(t, 0, len(table.Records))
}

func TestParseMFTGeometry(t *testing.T) {
	geometry := DefaultGeometry()
	geometry.MftRecordSize = 1000

	_, err := ParseMFTFile(context.Background(), NewBytesSource(nil),
		geometry, GetDefaultOptions())
	assert.True(t, IsGeometryError(err))

	geometry = DefaultGeometry()
	geometry.BytesPerCluster = 3000
	_, err = ParseMFTFile(context.Background(), NewBytesSource(nil),
		geometry, GetDefaultOptions())
	assert.True(t, IsGeometryError(err))

	_, err = ParseMFTFile(context.Background(), nil,
		DefaultGeometry(), GetDefaultOptions())
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestExtensionRecords(t *testing.T) {
	geometry := DefaultGeometry()

	base := newFileRecord(50, 2, rootFRN, "fragmented.bin", testTimes(testTime))
	first := NewNonResidentAttribute(ATTR_TYPE_DATA, 2, "",
		[]Run{{Lcn: 100, Length: 4}}, geometry.BytesPerCluster, 8*4096)
	first.AllocatedSize = 8 * 4096
	base.Attributes = append(base.Attributes, first)

	ext := &MftRecord{
		Index:      51,
		Sequence:   1,
		InUse:      true,
		BaseRecord: FRN{Index: 50, Sequence: 2},
	}
	second := NewNonResidentAttribute(ATTR_TYPE_DATA, 0, "",
		[]Run{{Lcn: 200, Length: 4}}, geometry.BytesPerCluster, 0)
	second.StartVcn = 4
	second.EndVcn = 7
	ext.Attributes = []*Attribute{second}

	mft := buildMFT(geometry, 64, base, ext)
	table, err := ParseMFTFile(context.Background(), NewBytesSource(mft),
		geometry, GetDefaultOptions())
	require.NoError(t, err)

	record, pres := table.Get(FRN{Index: 50, Sequence: 2})
	require.True(t, pres)
	assert.Equal(t, []FRN{{Index: 51, Sequence: 1}}, record.Extensions)

	data := record.FindAttributes(ATTR_TYPE_DATA, "")
	require.Equal(t, 1, len(data))
	assert.False(t, data[0].Unresolved)
	assert.Equal(t, []Run{{Lcn: 100, Length: 4}, {Lcn: 200, Length: 4}}, data[0].Runs)
	assert.Equal(t, int64(7), data[0].EndVcn)

	// The extension stays reachable by slot.
	extension, pres := table.GetByIndex(51)
	require.True(t, pres)
	assert.True(t, extension.IsExtension())
	assert.Equal(t, 1, table.Stats.ExtensionRecords)
}
