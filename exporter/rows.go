package exporter

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Velocidex/ordereddict"
	"github.com/pkg/errors"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

const DEFAULT_TIMEZONE = "UTC"

// Formatter flattens parser results into ordered rows. All sinks
// consume rows so every output format has the same columns.
type Formatter struct {
	Location *time.Location

	// Used to resolve file references to paths. May be nil.
	Table   *parser.MftTable
	Options parser.Options
}

// NewFormatter renders timestamps in the named timezone (an IANA
// name such as "Asia/Seoul").
func NewFormatter(timezone string) (*Formatter, error) {
	if timezone == "" {
		timezone = DEFAULT_TIMEZONE
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %v", timezone)
	}

	return &Formatter{
		Location: location,
		Options:  parser.GetDefaultOptions(),
	}, nil
}

func (self *Formatter) Time(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(self.Location).Format(time.RFC3339Nano)
}

// Path resolves a file reference through the MFT. Files the MFT does
// not know have no path.
func (self *Formatter) Path(frn parser.FRN) string {
	if self.Table == nil {
		return ""
	}
	record, pres := self.Table.Get(frn)
	if !pres {
		return ""
	}
	return self.Table.FullPath(record, self.Options)
}

func (self *Formatter) setTimes(row *ordereddict.Dict, prefix string,
	times parser.TimeStamps) {
	row.Set(prefix+"Created", self.Time(times.Created)).
		Set(prefix+"Modified", self.Time(times.Modified)).
		Set(prefix+"MftModified", self.Time(times.MftModified)).
		Set(prefix+"Accessed", self.Time(times.Accessed))
}

func (self *Formatter) MftRows(table *parser.MftTable) []*ordereddict.Dict {
	result := make([]*ordereddict.Dict, 0, len(table.Records))
	for _, record := range table.Records {
		result = append(result, self.MftRow(table, record))
	}
	return result
}

func (self *Formatter) MftRow(table *parser.MftTable,
	record *parser.MftRecord) *ordereddict.Dict {
	row := ordereddict.NewDict().
		Set("EntryNumber", record.Index).
		Set("SequenceNumber", record.Sequence).
		Set("InUse", record.InUse).
		Set("IsDir", record.IsDir).
		Set("FileName", record.Name()).
		Set("FullPath", table.FullPath(record, self.Options))

	parent := ""
	fn := record.CanonicalFileName()
	if fn != nil {
		parent = fn.Parent.String()
	}
	row.Set("ParentFRN", parent)

	var size int64
	data := record.FindAttributes(parser.ATTR_TYPE_DATA, "")
	if len(data) > 0 {
		size = data[0].DataSize()
	}
	row.Set("FileSize", size)

	si := record.StandardInformation()
	if si != nil {
		self.setTimes(row, "SI", si.Times)
		row.Set("FileAttributes",
			strings.Join(parser.FileAttributeNames(si.FileAttributes), "|"))
	} else {
		self.setTimes(row, "SI", parser.TimeStamps{})
		row.Set("FileAttributes", "")
	}

	if fn != nil {
		self.setTimes(row, "FN", fn.Times)
	} else {
		self.setTimes(row, "FN", parser.TimeStamps{})
	}

	return row.
		Set("LinkCount", record.LinkCount).
		Set("Lsn", record.Lsn).
		Set("Links", len(table.Links(record, self.Options))).
		Set("Streams", strings.Join(parser.StreamIds(record), ","))
}

// UsnRows includes gaps so a reader can see where records are
// missing.
func (self *Formatter) UsnRows(entries []parser.UsnEntry) []*ordereddict.Dict {
	result := make([]*ordereddict.Dict, 0, len(entries))
	for _, entry := range entries {
		if entry.Gap != nil {
			result = append(result, ordereddict.NewDict().
				Set("Offset", entry.Gap.Offset).
				Set("Usn", "").
				Set("TimeStamp", "").
				Set("FRN", "").
				Set("ParentFRN", "").
				Set("FileName", "").
				Set("FullPath", "").
				Set("Reason", "GAP").
				Set("FileAttributes", "").
				Set("SourceInfo", "").
				Set("Gap", fmt.Sprintf("%v (%d bytes)",
					entry.Gap.Reason, entry.Gap.Length)))
			continue
		}

		record := entry.Record
		result = append(result, ordereddict.NewDict().
			Set("Offset", record.Offset).
			Set("Usn", record.Usn).
			Set("TimeStamp", self.Time(record.TimeStamp)).
			Set("FRN", record.FRN.String()).
			Set("ParentFRN", record.ParentFRN.String()).
			Set("FileName", record.Name).
			Set("FullPath", self.usnPath(record)).
			Set("Reason", strings.Join(record.Reasons(), "|")).
			Set("FileAttributes",
				strings.Join(parser.FileAttributeNames(record.FileAttributes), "|")).
			Set("SourceInfo",
				strings.Join(parser.UsnSourceInfoNames(record.SourceInfo), "|")).
			Set("Gap", ""))
	}
	return result
}

// The journal records the name at the time of the change: the path
// is built from the parent's current path.
func (self *Formatter) usnPath(record *parser.UsnRecord) string {
	parent := self.Path(record.ParentFRN)
	if parent == "" {
		return ""
	}
	if parent == "/" {
		return "/" + record.Name
	}
	return parent + "/" + record.Name
}

func (self *Formatter) LogRows(result *parser.LogFileResult) []*ordereddict.Dict {
	status := make(map[uint64]*parser.Transaction)
	for _, txn := range result.Transactions {
		for _, record := range txn.Records {
			status[record.Lsn] = txn
		}
	}

	rows := make([]*ordereddict.Dict, 0, len(result.Records))
	for _, record := range result.Records {
		txn_status := ""
		if txn, pres := status[record.Lsn]; pres {
			txn_status = txn.Status.String()
		}

		target := ""
		if record.HasTargetIndex {
			target = fmt.Sprintf("%d", record.TargetIndex)
		}

		rows = append(rows, ordereddict.NewDict().
			Set("Lsn", record.Lsn).
			Set("PreviousLsn", record.PreviousLsn).
			Set("UndoNextLsn", record.UndoNextLsn).
			Set("TransactionId", record.TransactionId).
			Set("Status", txn_status).
			Set("RedoOp", record.RedoName()).
			Set("UndoOp", record.UndoName()).
			Set("TargetEntry", target).
			Set("TargetVcn", record.TargetVcn).
			Set("ClusterIndex", record.ClusterIndex).
			Set("RedoLength", len(record.Redo)).
			Set("UndoLength", len(record.Undo)).
			Set("FileOffset", record.FileOffset))
	}
	return rows
}

func (self *Formatter) TimelineRows(timeline *parser.Timeline) []*ordereddict.Dict {
	result := make([]*ordereddict.Dict, 0, len(timeline.Events))
	for _, event := range timeline.Events {
		details := make([]string, 0, len(event.Evidence))
		for _, e := range event.Evidence {
			details = append(details, fmt.Sprintf("%v:%v", e.Source, e.Detail))
		}

		result = append(result, ordereddict.NewDict().
			Set("TimeStamp", self.Time(event.TimeStamp)).
			Set("FRN", event.FRN.String()).
			Set("Kind", string(event.Kind)).
			Set("Source", string(event.Source)).
			Set("FileName", event.Name).
			Set("FullPath", self.Path(event.FRN)).
			Set("Conflict", event.Conflict).
			Set("SequenceInferred", event.SequenceInferred).
			Set("Evidence", strings.Join(details, "; ")))
	}
	return result
}

func (self *Formatter) WarningRows(warnings []parser.Warning) []*ordereddict.Dict {
	result := make([]*ordereddict.Dict, 0, len(warnings))
	for _, w := range warnings {
		result = append(result, ordereddict.NewDict().
			Set("Kind", string(w.Kind)).
			Set("Offset", w.Offset).
			Set("Length", w.Length).
			Set("Message", w.Message))
	}
	return result
}
