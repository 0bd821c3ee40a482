package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseTestLog(t *testing.T, builder *logBuilder) *LogFileResult {
	result, err := ParseLogFile(context.Background(),
		NewBytesSource(builder.bytes()), DefaultGeometry(), GetDefaultOptions())
	require.NoError(t, err)
	return result
}

func lsnsOf(records []*LogRecord) []uint64 {
	result := []uint64{}
	for _, r := range records {
		result = append(result, r.Lsn)
	}
	return result
}

func TestLogFileSingleRecord(t *testing.T) {
	builder := newLogBuilder(4)
	lsn := builder.add(&testLogRecord{
		TransactionId: 7,
		RedoOp:        LOG_OP_UPDATE_NONRESIDENT_VALUE,
		UndoOp:        LOG_OP_NOOP,
	})

	result := parseTestLog(t, builder)
	assert.Equal(t, 0, len(result.Warnings))
	assert.Equal(t, lsn, result.Restart.CurrentLsn)
	assert.Equal(t, int64(testLogPageSize), result.Restart.LogPageSize)

	require.Equal(t, 1, len(result.Records))
	record := result.Records[0]
	assert.Equal(t, lsn, record.Lsn)
	assert.Equal(t, "UpdateNonresidentValue", record.RedoName())
	assert.Equal(t, "Noop", record.UndoName())
	assert.Equal(t, int64(2*testLogPageSize+testLogDataOff), record.FileOffset)

	// Without a commit the transaction stays open.
	require.Equal(t, 1, len(result.Transactions))
	txn := result.Transactions[0]
	assert.Equal(t, uint32(7), txn.ID)
	assert.Equal(t, Incomplete, txn.Status)
	assert.Equal(t, lsn, txn.FirstLsn)
	assert.Equal(t, lsn, txn.LastLsn)
	assert.Equal(t, 1, result.Segments)
}

func TestLogFileTransactionStatus(t *testing.T) {
	builder := newLogBuilder(4)

	first := builder.add(&testLogRecord{TransactionId: 3,
		RedoOp: LOG_OP_SET_NEW_ATTRIBUTE_SIZES, UndoOp: LOG_OP_SET_NEW_ATTRIBUTE_SIZES})
	aborted := builder.add(&testLogRecord{TransactionId: 4,
		RedoOp: LOG_OP_CREATE_ATTRIBUTE, UndoOp: LOG_OP_DELETE_ATTRIBUTE})
	builder.add(&testLogRecord{TransactionId: 3, PreviousLsn: first,
		RedoOp: LOG_OP_COMMIT_TRANSACTION})

	// Rolling back the only record of transaction 4, then releasing
	// its slot.
	rollback := builder.add(&testLogRecord{TransactionId: 4, PreviousLsn: aborted,
		RedoOp: LOG_OP_DELETE_ATTRIBUTE, UndoOp: LOG_OP_COMPENSATION_LOG_RECORD})
	builder.add(&testLogRecord{TransactionId: 4, PreviousLsn: rollback,
		RedoOp: LOG_OP_FORGET_TRANSACTION})

	result := parseTestLog(t, builder)
	require.Equal(t, 5, len(result.Records))
	require.Equal(t, 2, len(result.Transactions))

	assert.Equal(t, uint32(3), result.Transactions[0].ID)
	assert.Equal(t, Committed, result.Transactions[0].Status)
	assert.Equal(t, 2, len(result.Transactions[0].Records))

	assert.Equal(t, uint32(4), result.Transactions[1].ID)
	assert.Equal(t, Aborted, result.Transactions[1].Status)
	assert.Equal(t, "Aborted", result.Transactions[1].Status.String())
	assert.Equal(t, 3, len(result.Transactions[1].Records))
}

func TestLogFileForgetReusesId(t *testing.T) {
	builder := newLogBuilder(4)

	first := builder.add(&testLogRecord{TransactionId: 9,
		RedoOp: LOG_OP_UPDATE_NONRESIDENT_VALUE})
	forget := builder.add(&testLogRecord{TransactionId: 9, PreviousLsn: first,
		RedoOp: LOG_OP_FORGET_TRANSACTION})

	// The slot is reused by a new transaction.
	builder.add(&testLogRecord{TransactionId: 9, PreviousLsn: forget,
		RedoOp: LOG_OP_UPDATE_NONRESIDENT_VALUE})

	result := parseTestLog(t, builder)
	require.Equal(t, 2, len(result.Transactions))
	assert.Equal(t, Committed, result.Transactions[0].Status)
	assert.Equal(t, Incomplete, result.Transactions[1].Status)
}

func TestLogFileWraparound(t *testing.T) {
	builder := newLogBuilder(4)
	expected := []uint64{}

	// The first pass fills the whole ring.
	for page := 0; page < 4; page++ {
		builder.seek(page, 1)
		for i := 0; i < 2; i++ {
			lsn := builder.add(&testLogRecord{TransactionId: uint32(page + 1),
				RedoOp: LOG_OP_UPDATE_NONRESIDENT_VALUE})
			if page >= 2 {
				expected = append(expected, lsn)
			}
		}
	}

	// The second pass overwrites the first two pages.
	for page := 0; page < 2; page++ {
		builder.seek(page, 2)
		for i := 0; i < 2; i++ {
			expected = append(expected, builder.add(&testLogRecord{
				TransactionId: uint32(page + 10),
				RedoOp:        LOG_OP_UPDATE_NONRESIDENT_VALUE}))
		}
	}

	result := parseTestLog(t, builder)
	assert.Equal(t, expected, lsnsOf(result.Records))
	assert.Equal(t, 1, result.Segments)
	assert.Equal(t, 0, len(result.Warnings))
	assert.Equal(t, 4, result.Stats.LogPages)

	// The oldest surviving record is in the third page.
	assert.Equal(t, int64(4*testLogPageSize+testLogDataOff),
		result.Records[0].FileOffset)
}

func TestLogFileMalformedHeader(t *testing.T) {
	builder := newLogBuilder(4)
	before := builder.add(&testLogRecord{TransactionId: 1,
		RedoOp: LOG_OP_UPDATE_NONRESIDENT_VALUE})
	damaged := builder.add(&testLogRecord{TransactionId: 2,
		RedoOp: LOG_OP_UPDATE_NONRESIDENT_VALUE})
	after := builder.add(&testLogRecord{TransactionId: 3,
		RedoOp: LOG_OP_UPDATE_NONRESIDENT_VALUE})
	builder.corrupt(damaged)

	result := parseTestLog(t, builder)

	// Records on either side of the damage survive.
	assert.Equal(t, []uint64{before, after}, lsnsOf(result.Records))
	assert.Equal(t, 2, result.Segments)

	require.Equal(t, 1, len(result.Warnings))
	warning := result.Warnings[0]
	assert.Equal(t, WarningTruncatedLog, warning.Kind)
	assert.Equal(t, builder.restart.LsnToOffset(damaged), warning.Offset)
	assert.Equal(t, 1, result.Stats.LogWarnings)
}

func TestLogFileBadRestart(t *testing.T) {
	builder := newLogBuilder(4)
	lsn := builder.add(&testLogRecord{TransactionId: 1,
		RedoOp: LOG_OP_UPDATE_NONRESIDENT_VALUE})

	data := builder.bytes()

	// The second restart page is still usable.
	copy(data, "XXXX")

	result, err := ParseLogFile(context.Background(), NewBytesSource(data),
		DefaultGeometry(), GetDefaultOptions())
	require.NoError(t, err)

	require.Equal(t, 1, len(result.Warnings))
	assert.Equal(t, WarningBadRestartArea, result.Warnings[0].Kind)
	assert.Equal(t, int64(testLogPageSize), result.Restart.Offset)
	assert.Equal(t, []uint64{lsn}, lsnsOf(result.Records))
}

func TestLogFileNotAvailable(t *testing.T) {
	_, err := ParseLogFile(context.Background(), nil, DefaultGeometry(),
		GetDefaultOptions())
	assert.ErrorIs(t, err, ErrNotAvailable)

	geometry := DefaultGeometry()
	geometry.BytesPerCluster = 1000
	_, err = ParseLogFile(context.Background(), NewBytesSource(nil), geometry,
		GetDefaultOptions())
	assert.True(t, IsGeometryError(err))
}

func TestLsnMapping(t *testing.T) {
	restart := RestartInfo{SeqNumberBits: defaultSeqNumberBits(0x6000)}
	assert.Equal(t, uint32(52), restart.SeqNumberBits)

	lsn := restart.OffsetToLsn(0x3040, 5)
	assert.Equal(t, uint64(5<<12|0x3040>>3), lsn)
	assert.Equal(t, int64(0x3040), restart.LsnToOffset(lsn))
}

func TestDecodeLogFactsInit(t *testing.T) {
	geometry := DefaultGeometry()
	created := newFileRecord(40, 3, docsFRN, "new.txt", testTimes(testTime))
	image := EncodeMftRecord(created, int(geometry.MftRecordSize))

	// Slot 40 is the first record of the tenth cluster.
	record := &LogRecord{
		RedoOp:         LOG_OP_INITIALIZE_FILE_RECORD_SEGMENT,
		UndoOp:         LOG_OP_NOOP,
		Redo:           image,
		TargetIndex:    40,
		HasTargetIndex: true,
	}

	facts := DecodeLogFacts(record, geometry)
	assert.True(t, facts.HasTarget)
	assert.True(t, facts.SequenceKnown)
	assert.True(t, facts.Created)
	assert.Equal(t, FRN{Index: 40, Sequence: 3}, facts.Target)
	assert.Equal(t, "new.txt", facts.Name)
	assert.Equal(t, docsFRN, facts.Parent)
	require.Equal(t, 8, len(facts.Times))
	assert.True(t, facts.Times[0].Equal(testTime))
}

func TestDecodeLogFactsIndexEntry(t *testing.T) {
	fn := &FileNameAttribute{
		Parent:    docsFRN,
		Name:      "renamed.txt",
		Namespace: NamespaceWin32,
		Times:     testTimes(testTime),
	}
	entry := EncodeIndexEntry(FRN{Index: 40, Sequence: 3}, fn)

	added := DecodeLogFacts(&LogRecord{
		RedoOp: LOG_OP_ADD_INDEX_ENTRY_ALLOCATION,
		Redo:   entry,
	}, DefaultGeometry())
	assert.True(t, added.NameAdded)
	assert.False(t, added.NameRemove)
	assert.Equal(t, FRN{Index: 40, Sequence: 3}, added.Target)
	assert.Equal(t, "renamed.txt", added.Name)

	removed := DecodeLogFacts(&LogRecord{
		RedoOp: LOG_OP_DELETE_INDEX_ENTRY_ALLOCATION,
		Undo:   entry,
	}, DefaultGeometry())
	assert.True(t, removed.NameRemove)
	assert.Equal(t, docsFRN, removed.Parent)

	// Garbage payloads are not an index entry.
	garbage := DecodeLogFacts(&LogRecord{
		RedoOp: LOG_OP_ADD_INDEX_ENTRY_ROOT,
		Redo:   []byte{1, 2, 3},
	}, DefaultGeometry())
	assert.False(t, garbage.HasTarget)
	assert.False(t, garbage.NameAdded)
}

func TestLogRecordTarget(t *testing.T) {
	builder := newLogBuilder(4)
	builder.add(&testLogRecord{TransactionId: 1,
		RedoOp: LOG_OP_UPDATE_RESIDENT_VALUE, TargetVcn: 10, ClusterIndex: 2})

	result := parseTestLog(t, builder)
	require.Equal(t, 1, len(result.Records))
	assert.True(t, result.Records[0].HasTargetIndex)
	assert.Equal(t, uint64(41), result.Records[0].TargetIndex)
}
