package exporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

var testTime = time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

func buildTestTimeline() *parser.Timeline {
	return &parser.Timeline{
		Events: []*parser.CorrelatedEvent{{
			FRN:       parser.FRN{Index: 40, Sequence: 1},
			Kind:      parser.EventCreated,
			TimeStamp: testTime,
			Source:    parser.SourceMFT,
			Name:      "report.docx",
			Evidence: []parser.Evidence{{
				Source:    parser.SourceMFT,
				Detail:    "StandardInformation.Created",
				TimeStamp: testTime,
			}},
		}, {
			FRN:       parser.FRN{Index: 40, Sequence: 1},
			Kind:      parser.EventModified,
			TimeStamp: testTime.Add(time.Hour),
			Source:    parser.SourceMFT,
			Name:      "report.docx",
			Evidence: []parser.Evidence{{
				Source: parser.SourceMFT,
				Detail: "StandardInformation.Modified",
			}, {
				Source: parser.SourceMFT,
				Detail: "StandardInformation.MftModified",
			}},
		}, {
			FRN:       parser.FRN{Index: 41, Sequence: 4},
			Kind:      parser.EventDeleted,
			TimeStamp: testTime.Add(3 * time.Hour),
			Source:    parser.SourceJournal,
			Name:      "Secret.TXT",
			Conflict:  true,
			Evidence: []parser.Evidence{{
				Source: parser.SourceJournal,
				Detail: "FILE_DELETE|CLOSE",
				Usn:    0x2000,
			}},
		}, {
			FRN:              parser.FRN{Index: 50, Sequence: 2},
			Kind:             parser.EventLogOnly,
			Source:           parser.SourceLogFile,
			SequenceInferred: true,
			Evidence: []parser.Evidence{{
				Source: parser.SourceLogFile,
				Detail: "InitializeFileRecordSegment",
			}},
		}},
	}
}

func TestTimelineRowsCSV(t *testing.T) {
	formatter, err := NewFormatter("")
	require.NoError(t, err)

	rows := formatter.TimelineRows(buildTestTimeline())
	require.Equal(t, 4, len(rows))

	out := &bytes.Buffer{}
	require.NoError(t, WriteRows(out, FORMAT_CSV, rows))

	g := goldie.New(t, goldie.WithFixtureDir("testdata"))
	g.Assert(t, "TestTimelineRowsCSV", out.Bytes())
}

func TestTimezone(t *testing.T) {
	formatter, err := NewFormatter("Asia/Seoul")
	require.NoError(t, err)

	assert.Equal(t, "2021-03-04T14:06:07+09:00", formatter.Time(testTime))
	assert.Equal(t, "", formatter.Time(time.Time{}))

	_, err = NewFormatter("Not/AZone")
	assert.Error(t, err)
}

func TestWriteJSONL(t *testing.T) {
	formatter, err := NewFormatter("UTC")
	require.NoError(t, err)

	out := &bytes.Buffer{}
	require.NoError(t, WriteRows(out, FORMAT_JSONL,
		formatter.TimelineRows(buildTestTimeline())))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Equal(t, 4, len(lines))

	decoded := make(map[string]interface{})
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &decoded))
	assert.Equal(t, "41-4", decoded["FRN"])
	assert.Equal(t, "deleted", decoded["Kind"])
	assert.Equal(t, true, decoded["Conflict"])
	assert.Equal(t, "2021-03-04T08:06:07Z", decoded["TimeStamp"])

	// Keys keep the row order.
	assert.True(t, strings.HasPrefix(lines[0], `{"TimeStamp":`))
}

func TestWriteRowsUnsupported(t *testing.T) {
	err := WriteRows(&bytes.Buffer{}, "xml", nil)
	assert.Error(t, err)
}

func TestWriteTable(t *testing.T) {
	rows := []*ordereddict.Dict{
		ordereddict.NewDict().Set("Name", "a").Set("Size", 10),
		ordereddict.NewDict().Set("Name", "b").Set("Size", 20),
	}

	out := &bytes.Buffer{}
	WriteTable(out, rows, "files")
	assert.Contains(t, out.String(), "Name")
	assert.Contains(t, out.String(), "20")
	assert.Contains(t, out.String(), "files")
}

func TestSearch(t *testing.T) {
	rows := []*ordereddict.Dict{
		ordereddict.NewDict().Set("FileName", "Secret.TXT").Set("Size", 1),
		ordereddict.NewDict().Set("FileName", "report.docx").
			Set("Streams", []string{"40-128-2:Zone.Identifier"}),
		ordereddict.NewDict().Set("Nested", ordereddict.NewDict().
			Set("Inner", []interface{}{"deep SECRET"})),
	}

	assert.Equal(t, 2, len(Search(rows, "secret")))
	assert.Equal(t, 1, len(Search(rows, "zone.identifier")))
	assert.Equal(t, 0, len(Search(rows, "missing")))
	assert.Equal(t, 0, len(Search(rows, "1")))
}

func TestEvents(t *testing.T) {
	formatter, err := NewFormatter("Asia/Seoul")
	require.NoError(t, err)

	events := formatter.Events(buildTestTimeline(), "WORKSTATION")
	require.Equal(t, 4, len(events))

	created := events[0]
	assert.Equal(t, "...B", created.MACB)
	assert.Equal(t, "FILE", created.Source)
	assert.Equal(t, "NTFS:MFT", created.SourceType)
	assert.Equal(t, "created", created.Type)
	assert.Equal(t, "2021-03-04 14:06:07", created.Datetime)
	assert.Equal(t, "Asia/Seoul", created.Timezone)
	assert.Equal(t, "40-1", created.Inode)
	assert.Equal(t, "40", created.RecordNumber)
	assert.Equal(t, "report.docx", created.Filename)
	assert.Equal(t, "WORKSTATION", created.Host)
	assert.Equal(t, int64(-1), created.StoreNumber)

	assert.Equal(t, "M.C.", events[1].MACB)
	assert.Equal(t, "conflict", events[2].Notes)
	assert.Equal(t, "Journal:FILE_DELETE|CLOSE", events[2].Extra)

	untimed := events[3]
	assert.Equal(t, "", untimed.Datetime)
	assert.Equal(t, "....", untimed.MACB)
	assert.Equal(t, "sequence inferred", untimed.Notes)
	assert.Nil(t, untimed.values()[13])
	assert.Equal(t, len(Columns), len(untimed.values()))

	parsed, err := formatter.ParseDatetime(created.Datetime)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(testTime))
}

func TestFilterEvents(t *testing.T) {
	formatter, err := NewFormatter("UTC")
	require.NoError(t, err)

	events := formatter.Events(buildTestTimeline(), "")
	filtered := FilterEvents(events, "REPORT.DOCX")
	require.Equal(t, 2, len(filtered))
	assert.Equal(t, "created", filtered[0].Type)
	assert.Equal(t, "modified", filtered[1].Type)
}
