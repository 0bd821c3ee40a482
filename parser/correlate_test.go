package parser

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	correlatedFRN = FRN{Index: 40, Sequence: 1}
	deletedFRN    = FRN{Index: 41, Sequence: 4}
)

// The file was created at testTime, written an hour later and read
// after two hours.
func buildCorrelationTable(t *testing.T) *MftTable {
	geometry := DefaultGeometry()
	times := TimeStamps{
		Created:     testTime,
		Modified:    testTime.Add(time.Hour),
		MftModified: testTime.Add(time.Hour),
		Accessed:    testTime.Add(2 * time.Hour),
	}

	root := newFileRecord(MFT_ENTRY_ROOT, 5, rootFRN, ".", TimeStamps{})
	root.IsDir = true
	file := newFileRecord(40, 1, rootFRN, "file.txt", times)
	deleted := newFileRecord(41, 4, rootFRN, "gone.txt",
		testTimes(testTime.Add(3*time.Hour)))
	deleted.InUse = false

	table, err := ParseMFTFile(context.Background(),
		NewBytesSource(buildMFT(geometry, 48, root, file, deleted)),
		geometry, GetDefaultOptions())
	require.NoError(t, err)
	return table
}

func usnEntries(records ...testUsnRecord) []UsnEntry {
	result := []UsnEntry{}
	for idx, r := range records {
		result = append(result, UsnEntry{Record: &UsnRecord{
			FRN:       r.FRN,
			ParentFRN: r.Parent,
			Usn:       int64(idx) * 0x60,
			TimeStamp: r.TimeStamp,
			Reason:    r.Reason,
			Name:      r.Name,
		}})
	}
	return result
}

func eventsFor(timeline *Timeline, frn FRN) []*CorrelatedEvent {
	result := []*CorrelatedEvent{}
	for _, e := range timeline.Events {
		if e.FRN == frn {
			result = append(result, e)
		}
	}
	return result
}

func evidenceSources(event *CorrelatedEvent) []TimestampSource {
	result := []TimestampSource{}
	for _, e := range event.Evidence {
		result = append(result, e.Source)
	}
	return result
}

func TestCorrelateSourcePriority(t *testing.T) {
	table := buildCorrelationTable(t)
	usn := usnEntries(testUsnRecord{FRN: correlatedFRN, Parent: rootFRN,
		TimeStamp: testTime, Reason: USN_REASON_FILE_CREATE, Name: "file.txt"})

	timeline := Correlate(context.Background(), table, usn, nil,
		GetDefaultOptions())
	assert.False(t, timeline.Incomplete)

	events := eventsFor(timeline, correlatedFRN)
	require.Equal(t, 3, len(events))

	// On an exact tie the MFT wins and the journal corroborates it.
	created := events[0]
	assert.Equal(t, EventCreated, created.Kind)
	assert.Equal(t, SourceMFT, created.Source)
	assert.True(t, created.TimeStamp.Equal(testTime))
	assert.Equal(t, "file.txt", created.Name)
	assert.Equal(t, []TimestampSource{SourceMFT, SourceMFT, SourceJournal},
		evidenceSources(created))
	assert.Equal(t, "$STANDARD_INFORMATION.Created", created.Evidence[0].Detail)
	assert.Equal(t, "$FILE_NAME.Created", created.Evidence[1].Detail)
	assert.Equal(t, "FILE_CREATE", created.Evidence[2].Detail)

	assert.Equal(t, EventModified, events[1].Kind)
	assert.Equal(t, 4, len(events[1].Evidence))
	assert.Equal(t, EventAccessed, events[2].Kind)
	assert.Equal(t, 2, len(events[2].Evidence))
}

func TestCorrelateTolerance(t *testing.T) {
	table := buildCorrelationTable(t)
	modified := testTime.Add(time.Hour)
	usn := usnEntries(
		testUsnRecord{FRN: correlatedFRN, TimeStamp: modified.Add(500 * time.Millisecond),
			Reason: USN_REASON_DATA_EXTEND, Name: "file.txt"},
		testUsnRecord{FRN: correlatedFRN, TimeStamp: modified.Add(1500 * time.Millisecond),
			Reason: USN_REASON_DATA_EXTEND | USN_REASON_CLOSE, Name: "file.txt"})

	timeline := Correlate(context.Background(), table, usn, nil,
		GetDefaultOptions())
	events := eventsFor(timeline, correlatedFRN)
	require.Equal(t, 4, len(events))

	// Within a second of the first modification.
	assert.Equal(t, EventModified, events[1].Kind)
	assert.Equal(t, 5, len(events[1].Evidence))
	assert.Equal(t, SourceJournal, events[1].Evidence[4].Source)

	// The tolerance is measured from the start of the group.
	assert.Equal(t, EventModified, events[2].Kind)
	assert.Equal(t, SourceJournal, events[2].Source)
	assert.True(t, events[2].TimeStamp.Equal(modified.Add(1500*time.Millisecond)))
	assert.Equal(t, "DATA_EXTEND|CLOSE", events[2].Evidence[0].Detail)

	// Without a tolerance only exact matches collapse.
	options := GetDefaultOptions()
	options.CorrelationTolerance = 0
	timeline = Correlate(context.Background(), table, usn, nil, options)
	assert.Equal(t, 5, len(eventsFor(timeline, correlatedFRN)))
}

func TestCorrelateConflicts(t *testing.T) {
	table := buildCorrelationTable(t)
	deleted_at := testTime.Add(4 * time.Hour)
	usn := usnEntries(
		testUsnRecord{FRN: correlatedFRN, TimeStamp: deleted_at,
			Reason: USN_REASON_FILE_DELETE | USN_REASON_CLOSE, Name: "file.txt"},
		testUsnRecord{FRN: deletedFRN, TimeStamp: deleted_at,
			Reason: USN_REASON_FILE_DELETE | USN_REASON_CLOSE, Name: "gone.txt"})

	timeline := Correlate(context.Background(), table, usn, nil,
		GetDefaultOptions())

	// The MFT still has the file allocated.
	events := eventsFor(timeline, correlatedFRN)
	last := events[len(events)-1]
	assert.Equal(t, EventDeleted, last.Kind)
	assert.True(t, last.Conflict)

	// The tombstone agrees with the journal.
	events = eventsFor(timeline, deletedFRN)
	kinds := []EventKind{}
	for _, e := range events {
		kinds = append(kinds, e.Kind)
		assert.False(t, e.Conflict)
	}
	// Identical timestamps of both attributes collapse by kind.
	assert.Equal(t, []EventKind{EventCreated, EventModified, EventAccessed,
		EventDeleted, EventDeleted}, kinds)
	assert.Equal(t, 2, len(events[0].Evidence))
	assert.Equal(t, 4, len(events[1].Evidence))
}

func siPayload(t time.Time) []byte {
	buf := make([]byte, 32)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(buf[i*8:], TimeToFiletime(t))
	}
	return buf
}

func TestCorrelateLogEvidence(t *testing.T) {
	table := buildCorrelationTable(t)
	geometry := DefaultGeometry()
	written := testTime.Add(5 * time.Hour)

	created := newFileRecord(50, 2, rootFRN, "fresh.txt", testTimes(written))
	transactions := []*Transaction{
		{
			ID:     1,
			Status: Committed,
			Records: []*LogRecord{{
				Lsn:            0x1000,
				RedoOp:         LOG_OP_UPDATE_RESIDENT_VALUE,
				AttrOffset:     RESIDENT_HEADER_SIZE,
				Redo:           siPayload(written),
				TargetIndex:    40,
				HasTargetIndex: true,
			}},
		},
		{
			ID:     2,
			Status: Incomplete,
			Records: []*LogRecord{{
				Lsn:            0x1100,
				RedoOp:         LOG_OP_INITIALIZE_FILE_RECORD_SEGMENT,
				Redo:           EncodeMftRecord(created, int(geometry.MftRecordSize)),
				TargetIndex:    50,
				HasTargetIndex: true,
			}},
		},
	}

	timeline := Correlate(context.Background(), table, nil, transactions,
		GetDefaultOptions())

	// The sequence number comes from the slot's current occupant.
	events := eventsFor(timeline, correlatedFRN)
	last := events[len(events)-1]
	assert.Equal(t, EventModified, last.Kind)
	assert.Equal(t, SourceLogFile, last.Source)
	assert.True(t, last.TimeStamp.Equal(written))
	assert.True(t, last.SequenceInferred)
	assert.Equal(t, "UpdateResidentValue", last.Evidence[0].Detail)
	assert.Equal(t, "Committed", last.Evidence[0].Status)
	assert.Equal(t, uint64(0x1000), last.Evidence[0].Lsn)

	// The record image carries its own sequence number.
	events = eventsFor(timeline, FRN{Index: 50, Sequence: 2})
	require.Equal(t, 1, len(events))
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, "fresh.txt", events[0].Name)
	assert.False(t, events[0].SequenceInferred)
	assert.Equal(t, "Incomplete", events[0].Evidence[0].Status)
}

func TestCorrelateUntimed(t *testing.T) {
	transactions := []*Transaction{}
	for _, lsn := range []uint64{0x2000, 0x1000} {
		transactions = append(transactions, &Transaction{
			ID: uint32(lsn),
			Records: []*LogRecord{{
				Lsn:            lsn,
				RedoOp:         LOG_OP_CREATE_ATTRIBUTE,
				TargetIndex:    40,
				HasTargetIndex: true,
			}},
		})
	}

	usn := usnEntries(testUsnRecord{FRN: correlatedFRN, TimeStamp: testTime,
		Reason: USN_REASON_DATA_OVERWRITE, Name: "file.txt"})

	timeline := Correlate(context.Background(), nil, usn, transactions,
		GetDefaultOptions())

	// Nothing to infer the sequence from: the log evidence stays
	// attributed to the bare slot.
	slot := FRN{Index: 40}
	events := eventsFor(timeline, slot)
	require.Equal(t, 2, len(events))
	assert.True(t, events[0].TimeStamp.IsZero())
	assert.Equal(t, uint64(0x1000), events[0].Evidence[0].Lsn)
	assert.Equal(t, uint64(0x2000), events[1].Evidence[0].Lsn)

	// Files are ordered by reference.
	assert.Equal(t, slot, timeline.Events[0].FRN)
	assert.Equal(t, correlatedFRN, timeline.Events[2].FRN)
}

func TestCorrelateUntimedAfterTimed(t *testing.T) {
	table := buildCorrelationTable(t)
	transactions := []*Transaction{{
		ID: 1,
		Records: []*LogRecord{{
			Lsn:            0x1000,
			RedoOp:         LOG_OP_CREATE_ATTRIBUTE,
			TargetIndex:    40,
			HasTargetIndex: true,
		}},
	}}

	timeline := Correlate(context.Background(), table, nil, transactions,
		GetDefaultOptions())
	events := eventsFor(timeline, correlatedFRN)
	require.Equal(t, 4, len(events))
	assert.True(t, events[3].TimeStamp.IsZero())
	assert.Equal(t, SourceLogFile, events[3].Source)
}

func TestCorrelateCancelled(t *testing.T) {
	table := buildCorrelationTable(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	timeline := Correlate(ctx, table, nil, nil, GetDefaultOptions())
	assert.True(t, timeline.Incomplete)
	assert.Equal(t, 0, len(timeline.Events))
}

// Renaming updates the MFT change time between the two journal
// records of the rename.
func TestCorrelateRenameWithMft(t *testing.T) {
	geometry := DefaultGeometry()
	earlier := testTime.Add(-time.Hour)
	renamed_at := testTime.Add(300 * time.Millisecond)

	root := newFileRecord(MFT_ENTRY_ROOT, 5, rootFRN, ".", TimeStamps{})
	root.IsDir = true
	docs := newFileRecord(docsFRN.Index, docsFRN.Sequence, rootFRN, "docs",
		testTimes(earlier))
	docs.IsDir = true
	file := newFileRecord(renamedFRN.Index, renamedFRN.Sequence, docsFRN,
		"new.txt", TimeStamps{
			Created:     earlier,
			Modified:    earlier,
			MftModified: renamed_at,
			Accessed:    earlier,
		})

	table, err := ParseMFTFile(context.Background(),
		NewBytesSource(buildMFT(geometry, 48, root, docs, file)),
		geometry, GetDefaultOptions())
	require.NoError(t, err)

	usn := usnEntries(
		testUsnRecord{FRN: renamedFRN, Parent: docsFRN, TimeStamp: testTime,
			Reason: USN_REASON_RENAME_OLD_NAME, Name: "old.txt"},
		testUsnRecord{FRN: renamedFRN, Parent: docsFRN, TimeStamp: renamed_at,
			Reason: USN_REASON_RENAME_NEW_NAME, Name: "new.txt"},
		testUsnRecord{FRN: renamedFRN, Parent: docsFRN, TimeStamp: renamed_at,
			Reason: USN_REASON_RENAME_NEW_NAME | USN_REASON_CLOSE, Name: "new.txt"})

	timeline := Correlate(context.Background(), table, usn, nil,
		GetDefaultOptions())
	events := eventsFor(timeline, renamedFRN)

	kinds := []EventKind{}
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []EventKind{EventCreated, EventModified, EventAccessed,
		EventRenamed, EventModified}, kinds)

	// Identical $STANDARD_INFORMATION and $FILE_NAME times collapse.
	for _, e := range events[:3] {
		assert.True(t, e.TimeStamp.Equal(earlier))
		assert.Equal(t, []TimestampSource{SourceMFT, SourceMFT},
			evidenceSources(e))
	}

	rename := events[3]
	assert.True(t, rename.TimeStamp.Equal(testTime))
	assert.Equal(t, SourceJournal, rename.Source)
	assert.Equal(t, "new.txt", rename.Name)
	require.Equal(t, 3, len(rename.Evidence))
	assert.Equal(t, "old.txt", rename.Evidence[0].Name)
	assert.Equal(t, "RENAME_OLD_NAME", rename.Evidence[0].Detail)
	assert.Equal(t, "RENAME_NEW_NAME", rename.Evidence[1].Detail)
	assert.Equal(t, "RENAME_NEW_NAME|CLOSE", rename.Evidence[2].Detail)

	changed := events[4]
	assert.True(t, changed.TimeStamp.Equal(renamed_at))
	assert.Equal(t, SourceMFT, changed.Source)
	assert.Equal(t, 2, len(changed.Evidence))
}
