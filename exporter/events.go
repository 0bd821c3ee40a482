package exporter

import (
	"fmt"
	"strings"
	"time"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

const (
	L2T_DATETIME_FORMAT = "2006-01-02 15:04:05"
	L2T_FORMAT          = "gontfs-timeline"
)

// Event is one row of the log2timeline table.
type Event struct {
	Timezone       string
	MACB           string
	Source         string
	SourceType     string
	Type           string
	User           string
	Host           string
	Desc           string
	Filename       string
	Inode          string
	Notes          string
	Format         string
	Extra          string
	Datetime       string
	ReportNotes    string
	InReport       string
	Tag            string
	Color          string
	Offset         int64
	StoreNumber    int64
	StoreIndex     int64
	VSSStoreNumber int64
	URL            string
	RecordNumber   string
	EventID        string
	EventType      string
	SourceName     string
	UserSID        string
	ComputerName   string
	Bookmark       int64
}

// values are in the order of Columns.
func (self *Event) values() []interface{} {
	return []interface{}{
		self.Timezone, self.MACB, self.Source, self.SourceType, self.Type,
		self.User, self.Host, self.Desc, self.Filename, self.Inode,
		self.Notes, self.Format, self.Extra, nullableDatetime(self.Datetime),
		self.ReportNotes, self.InReport, self.Tag, self.Color, self.Offset,
		self.StoreNumber, self.StoreIndex, self.VSSStoreNumber, self.URL,
		self.RecordNumber, self.EventID, self.EventType, self.SourceName,
		self.UserSID, self.ComputerName, self.Bookmark,
	}
}

func (self *Event) pointers() []interface{} {
	return []interface{}{
		&self.Timezone, &self.MACB, &self.Source, &self.SourceType, &self.Type,
		&self.User, &self.Host, &self.Desc, &self.Filename, &self.Inode,
		&self.Notes, &self.Format, &self.Extra, &self.Datetime,
		&self.ReportNotes, &self.InReport, &self.Tag, &self.Color, &self.Offset,
		&self.StoreNumber, &self.StoreIndex, &self.VSSStoreNumber, &self.URL,
		&self.RecordNumber, &self.EventID, &self.EventType, &self.SourceName,
		&self.UserSID, &self.ComputerName, &self.Bookmark,
	}
}

// Untimed events are stored with a NULL datetime.
func nullableDatetime(datetime string) interface{} {
	if datetime == "" {
		return nil
	}
	return datetime
}

func macbOf(kind parser.EventKind, evidence []parser.Evidence) string {
	macb := []byte("....")
	switch kind {
	case parser.EventModified:
		macb[0] = 'M'
	case parser.EventAccessed:
		macb[1] = 'A'
	case parser.EventCreated:
		macb[3] = 'B'
	}

	for _, e := range evidence {
		if strings.HasSuffix(e.Detail, ".MftModified") {
			macb[2] = 'C'
		}
	}
	return string(macb)
}

// Events converts a correlated timeline into log2timeline rows.
func (self *Formatter) Events(timeline *parser.Timeline, host string) []*Event {
	result := make([]*Event, 0, len(timeline.Events))
	for _, event := range timeline.Events {
		details := make([]string, 0, len(event.Evidence))
		for _, e := range event.Evidence {
			details = append(details, fmt.Sprintf("%v:%v", e.Source, e.Detail))
		}

		datetime := ""
		if !event.TimeStamp.IsZero() {
			datetime = event.TimeStamp.In(self.Location).Format(L2T_DATETIME_FORMAT)
		}

		notes := []string{}
		if event.Conflict {
			notes = append(notes, "conflict")
		}
		if event.SequenceInferred {
			notes = append(notes, "sequence inferred")
		}

		filename := self.Path(event.FRN)
		if filename == "" {
			filename = event.Name
		}

		result = append(result, &Event{
			Timezone:       self.Location.String(),
			MACB:           macbOf(event.Kind, event.Evidence),
			Source:         "FILE",
			SourceType:     "NTFS:" + string(event.Source),
			Type:           string(event.Kind),
			Host:           host,
			Desc:           fmt.Sprintf("%v %v", event.Kind, event.Name),
			Filename:       filename,
			Inode:          event.FRN.String(),
			Notes:          strings.Join(notes, ", "),
			Format:         L2T_FORMAT,
			Extra:          strings.Join(details, "; "),
			Datetime:       datetime,
			StoreNumber:    -1,
			StoreIndex:     -1,
			VSSStoreNumber: -1,
			RecordNumber:   fmt.Sprintf("%d", event.FRN.Index),
		})
	}
	return result
}

// ParseDatetime reads back a stored datetime in the formatter's
// timezone.
func (self *Formatter) ParseDatetime(datetime string) (time.Time, error) {
	return time.ParseInLocation(L2T_DATETIME_FORMAT, datetime, self.Location)
}

// EventRows shows stored events in the stream formats.
func EventRows(events []*Event) []*ordereddict.Dict {
	result := make([]*ordereddict.Dict, 0, len(events))
	for _, e := range events {
		result = append(result, ordereddict.NewDict().
			Set("datetime", e.Datetime).
			Set("timezone", e.Timezone).
			Set("MACB", e.MACB).
			Set("sourcetype", e.SourceType).
			Set("type", e.Type).
			Set("inode", e.Inode).
			Set("filename", e.Filename).
			Set("desc", e.Desc).
			Set("notes", e.Notes).
			Set("extra", e.Extra))
	}
	return result
}
