package parser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	renamedFRN = FRN{Index: 10, Sequence: 2}
	docsFRN    = FRN{Index: 30, Sequence: 1}
)

func collectUsn(source ByteSource, start int64) []UsnEntry {
	result := []UsnEntry{}
	cursor := NewUsnCursor(source, DefaultGeometry(), start)
	for {
		entry, ok := cursor.Next()
		if !ok {
			return result
		}
		result = append(result, entry)
	}
}

func TestUsnRename(t *testing.T) {
	journal := buildJournal(4096, 0,
		testUsnRecord{FRN: renamedFRN, Parent: docsFRN, TimeStamp: testTime,
			Reason: USN_REASON_RENAME_OLD_NAME, Name: "old.txt"},
		testUsnRecord{FRN: renamedFRN, Parent: docsFRN, TimeStamp: testTime,
			Reason: USN_REASON_RENAME_NEW_NAME, Name: "new.txt"})

	entries := collectUsn(NewBytesSource(journal), 0)
	require.Equal(t, 3, len(entries))

	old := entries[0].Record
	require.NotNil(t, old)
	assert.Equal(t, renamedFRN, old.FRN)
	assert.Equal(t, docsFRN, old.ParentFRN)
	assert.Equal(t, "old.txt", old.Name)
	assert.Equal(t, []string{"RENAME_OLD_NAME"}, old.Reasons())
	assert.True(t, old.TimeStamp.Equal(testTime))

	renamed := entries[1].Record
	require.NotNil(t, renamed)
	assert.Equal(t, "new.txt", renamed.Name)
	assert.Equal(t, []string{"RENAME_NEW_NAME"}, renamed.Reasons())
	assert.Equal(t, int64(old.RecordLength), renamed.Usn)

	// The rest of the page is padding.
	require.True(t, entries[2].IsGap())
	assert.Equal(t, GAP_PAGE_PADDING, entries[2].Gap.Reason)
	assert.Equal(t, int64(4096), entries[2].Gap.Offset+entries[2].Gap.Length)

	timeline := Correlate(context.Background(), nil, entries, nil,
		GetDefaultOptions())
	require.Equal(t, 1, len(timeline.Events))

	event := timeline.Events[0]
	assert.Equal(t, renamedFRN, event.FRN)
	assert.Equal(t, EventRenamed, event.Kind)
	assert.Equal(t, SourceJournal, event.Source)
	require.Equal(t, 2, len(event.Evidence))
	assert.Equal(t, "old.txt", event.Evidence[0].Name)
	assert.Equal(t, "new.txt", event.Evidence[1].Name)
}

func TestUsnZeroGap(t *testing.T) {
	first := encodeUsnV2(testUsnRecord{FRN: FRN{Index: 40, Sequence: 1},
		TimeStamp: testTime, Reason: USN_REASON_FILE_CREATE, Name: "a.txt"})
	second := encodeUsnV2(testUsnRecord{FRN: FRN{Index: 41, Sequence: 1},
		Usn: 0x800, TimeStamp: testTime, Reason: USN_REASON_DATA_EXTEND, Name: "b.txt"})

	journal := make([]byte, 8192)
	copy(journal, first)
	copy(journal[0x800:], second)

	entries := collectUsn(NewBytesSource(journal), 0)
	require.Equal(t, 4, len(entries))

	assert.Equal(t, "a.txt", entries[0].Record.Name)

	// Exactly one gap spans the zero filled region.
	gap := entries[1].Gap
	require.NotNil(t, gap)
	assert.Equal(t, int64(len(first)), gap.Offset)
	assert.Equal(t, int64(0x800-len(first)), gap.Length)
	assert.Equal(t, GAP_ZERO_FILLED, gap.Reason)

	// Parsing resumes right after it.
	require.NotNil(t, entries[2].Record)
	assert.Equal(t, int64(0x800), entries[2].Record.Offset)
	assert.Equal(t, "b.txt", entries[2].Record.Name)

	// The rest of the stream is zero to the end.
	require.True(t, entries[3].IsGap())
	assert.Equal(t, int64(0x800+len(second)), entries[3].Gap.Offset)
	assert.Equal(t, int64(8192), entries[3].Gap.Offset+entries[3].Gap.Length)

	// Restart from a previously observed record.
	resumed := collectUsn(NewBytesSource(journal), entries[2].Record.Offset)
	require.Equal(t, 2, len(resumed))
	assert.Equal(t, entries[2].Record, resumed[0].Record)
}

func TestUsnSparse(t *testing.T) {
	geometry := DefaultGeometry()
	record := encodeUsnV2(testUsnRecord{FRN: FRN{Index: 40, Sequence: 1},
		Usn: 0x2000, TimeStamp: testTime, Reason: USN_REASON_CLOSE, Name: "a.txt"})

	// Cluster 3 of the volume holds the only allocated page.
	volume := make([]byte, 4*4096)
	copy(volume[3*4096:], record)

	stream := NewRunReader(NewBytesSource(volume),
		[]Run{{Length: 2, IsSparse: true}, {Lcn: 3, Length: 1}},
		geometry.BytesPerCluster, 3*4096)

	journal, err := ParseUSNJournal(context.Background(), stream, geometry, 0,
		GetDefaultOptions())
	require.NoError(t, err)

	require.Equal(t, 3, len(journal.Entries))
	assert.Equal(t, &JournalGap{Offset: 0, Length: 0x2000, Reason: GAP_SPARSE},
		journal.Entries[0].Gap)
	assert.Equal(t, int64(0x2000), journal.Entries[1].Record.Usn)
	assert.Equal(t, GAP_PAGE_PADDING, journal.Entries[2].Gap.Reason)

	assert.Equal(t, 1, journal.Stats.UsnRecords)
	assert.Equal(t, 2, journal.Stats.UsnGaps)
	assert.Equal(t, 1, len(journal.Records()))
	assert.Equal(t, 2, len(journal.Gaps()))
}

func TestUsnCorruptAndTruncated(t *testing.T) {
	good := encodeUsnV2(testUsnRecord{FRN: FRN{Index: 40, Sequence: 1},
		TimeStamp: testTime, Reason: USN_REASON_FILE_DELETE, Name: "gone.txt"})

	// A header with an impossible length, then a good record, then a
	// record running past the end of the stream.
	corrupt := encodeUsnV2(testUsnRecord{FRN: FRN{Index: 50, Sequence: 1},
		TimeStamp: testTime, Name: "x"})
	corrupt[0] = 0x0c

	end := 0x100 + len(good)
	journal := make([]byte, end+0x40)
	copy(journal, corrupt)
	copy(journal[0x100:], good)
	copy(journal[end:], good)

	entries := collectUsn(NewBytesSource(journal), 0)
	require.Equal(t, 3, len(entries))

	assert.Equal(t, &JournalGap{Offset: 0, Length: 0x100, Reason: GAP_CORRUPT},
		entries[0].Gap)

	assert.Equal(t, "gone.txt", entries[1].Record.Name)
	assert.Equal(t, []string{"FILE_DELETE"}, entries[1].Record.Reasons())

	assert.Equal(t, &JournalGap{Offset: int64(end), Length: 0x40,
		Reason: GAP_TRUNCATED}, entries[2].Gap)
}

func TestUsnReasonNames(t *testing.T) {
	assert.Equal(t, []string{"FILE_CREATE", "CLOSE"},
		UsnReasonNames(USN_REASON_FILE_CREATE|USN_REASON_CLOSE))

	// Unknown bits are kept.
	assert.Equal(t, []string{"DATA_EXTEND", "0x4000000"},
		UsnReasonNames(USN_REASON_DATA_EXTEND|0x04000000))

	assert.Equal(t, []string{"HIDDEN", "ARCHIVE"}, FileAttributeNames(0x22))
}

func TestParseUSNChannel(t *testing.T) {
	journal := buildJournal(4096, 0,
		testUsnRecord{FRN: FRN{Index: 40, Sequence: 1}, TimeStamp: testTime,
			Reason: USN_REASON_FILE_CREATE, Name: "a.txt"},
		testUsnRecord{FRN: FRN{Index: 40, Sequence: 1},
			TimeStamp: testTime.Add(time.Second),
			Reason:    USN_REASON_CLOSE, Name: "a.txt"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	names := []string{}
	for entry := range ParseUSN(ctx, NewBytesSource(journal), DefaultGeometry(), 0) {
		if entry.Record != nil {
			names = append(names, entry.Record.Name)
		}
	}
	assert.Equal(t, []string{"a.txt", "a.txt"}, names)
}
