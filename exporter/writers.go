package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
)

// Output formats.
const (
	FORMAT_JSONL  = "jsonl"
	FORMAT_JSON   = "json"
	FORMAT_CSV    = "csv"
	FORMAT_TABLE  = "table"
	FORMAT_SQLITE = "sqlite"
)

var Formats = []string{FORMAT_JSONL, FORMAT_JSON, FORMAT_CSV, FORMAT_TABLE}

// WriteRows writes rows to out in one of the stream formats.
func WriteRows(out io.Writer, format string, rows []*ordereddict.Dict) error {
	switch format {
	case FORMAT_JSONL:
		return WriteJSONL(out, rows)
	case FORMAT_JSON:
		return WriteJSON(out, rows)
	case FORMAT_CSV:
		return WriteCSV(out, rows)
	case FORMAT_TABLE:
		WriteTable(out, rows, "")
		return nil
	}
	return errors.Errorf("Unsupported output format %v", format)
}

// WriteJSONL writes one JSON object per line. Column order follows
// the row.
func WriteJSONL(out io.Writer, rows []*ordereddict.Dict) error {
	for _, row := range rows {
		serialized, err := json.Marshal(row)
		if err != nil {
			return errors.WithStack(err)
		}
		serialized = append(serialized, '\n')
		_, err = out.Write(serialized)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func WriteJSON(out io.Writer, rows []*ordereddict.Dict) error {
	serialized, err := json.MarshalIndent(rows, "", " ")
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = out.Write(serialized)
	return errors.WithStack(err)
}

// WriteCSV uses the columns of the first row as the header.
func WriteCSV(out io.Writer, rows []*ordereddict.Dict) error {
	if len(rows) == 0 {
		return nil
	}

	writer := csv.NewWriter(out)
	columns := rows[0].Keys()
	err := writer.Write(columns)
	if err != nil {
		return errors.WithStack(err)
	}

	for _, row := range rows {
		err = writer.Write(stringRow(row, columns))
		if err != nil {
			return errors.WithStack(err)
		}
	}

	writer.Flush()
	return errors.WithStack(writer.Error())
}

func WriteTable(out io.Writer, rows []*ordereddict.Dict, caption string) {
	table := tablewriter.NewWriter(out)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	if caption != "" {
		table.SetCaption(true, caption)
	}
	defer table.Render()

	var columns []string
	for _, row := range rows {
		if columns == nil {
			columns = row.Keys()
			table.SetHeader(columns)
		}
		table.Append(stringRow(row, columns))
	}
}

func stringRow(row *ordereddict.Dict, columns []string) []string {
	result := make([]string, 0, len(columns))
	for _, column := range columns {
		value, _ := row.Get(column)
		result = append(result, Stringify(value))
	}
	return result
}

func Stringify(value interface{}) string {
	switch t := value.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprintf("%v", value)
}
