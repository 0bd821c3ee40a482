package parser

import (
	"context"

	"github.com/google/btree"
)

// Timeline is the correlated output.
type Timeline struct {
	Events     []*CorrelatedEvent `json:"events"`
	Incomplete bool               `json:"incomplete,omitempty"`
}

type frnItem FRN

func (self frnItem) Less(than btree.Item) bool {
	return FRN(self).Less(FRN(than.(frnItem)))
}

// evidenceCursor walks one source's sorted evidence file by file.
type evidenceCursor struct {
	items []*evidenceItem
	pos   int
}

// take returns the items for frn. Items for files before frn are
// never left behind since all files come from the same index.
func (self *evidenceCursor) take(frn FRN) []*evidenceItem {
	start := self.pos
	for self.pos < len(self.items) && self.items[self.pos].FRN == frn {
		self.pos++
	}
	return self.items[start:self.pos]
}

// Correlate merges the evidence of the three artifacts into one
// timeline ordered by file, then by time.
//
// Each source is sorted on its own first. Evidence for a file is
// then merged in a single pass, taking the earliest item across the
// sources and preferring the MFT, then the journal, then the log on
// exact ties. Adjacent events of the same kind collapse when within
// options.CorrelationTolerance of the first event of the group.
// Conflicting evidence is never resolved: each kind is its own event.
func Correlate(ctx context.Context, table *MftTable, usn []UsnEntry,
	transactions []*Transaction, options Options) *Timeline {
	options = options.normalize()

	geometry := DefaultGeometry()
	if table != nil {
		geometry = table.Geometry
	}

	records := make([]*UsnRecord, 0, len(usn))
	for _, entry := range usn {
		if entry.Record != nil {
			records = append(records, entry.Record)
		}
	}

	sources := [][]*evidenceItem{
		mftEvidence(table),
		usnEvidence(records),
		logEvidence(transactions, table, geometry),
	}

	index := btree.New(16)
	for _, items := range sources {
		markConflicts(items, table)
		sortEvidence(items)
		for _, item := range items {
			index.ReplaceOrInsert(frnItem(item.FRN))
		}
	}

	cursors := make([]*evidenceCursor, len(sources))
	for idx, items := range sources {
		cursors[idx] = &evidenceCursor{items: items}
	}

	result := &Timeline{Events: []*CorrelatedEvent{}}
	index.Ascend(func(i btree.Item) bool {
		select {
		case <-ctx.Done():
			result.Incomplete = true
			return false
		default:
		}

		frn := FRN(i.(frnItem))
		parts := make([][]*evidenceItem, len(cursors))
		for idx, cursor := range cursors {
			parts[idx] = cursor.take(frn)
		}

		result.Events = append(result.Events,
			collapse(mergeSources(parts), options)...)
		return true
	})

	options.Logger.WithField("files", index.Len()).
		WithField("events", len(result.Events)).
		Debug("Correlation done")

	return result
}

// mergeSources is a k-way merge of per source sorted evidence.
func mergeSources(parts [][]*evidenceItem) []*evidenceItem {
	total := 0
	for _, p := range parts {
		total += len(p)
	}

	result := make([]*evidenceItem, 0, total)
	positions := make([]int, len(parts))

	for len(result) < total {
		best := -1
		for idx, p := range parts {
			if positions[idx] >= len(p) {
				continue
			}
			if best < 0 || lessWithinFile(p[positions[idx]],
				parts[best][positions[best]]) {
				best = idx
			}
		}
		result = append(result, parts[best][positions[best]])
		positions[best]++
	}

	return result
}

// collapse groups adjacent items of the same kind. Untimed items
// are never grouped: nothing says they happened together.
func collapse(items []*evidenceItem, options Options) []*CorrelatedEvent {
	result := []*CorrelatedEvent{}
	var current *CorrelatedEvent
	var current_kind EventKind

	for _, item := range items {
		if current != nil && item.timed() && !current.TimeStamp.IsZero() &&
			item.Kind == current_kind &&
			item.Evidence.TimeStamp.Sub(current.TimeStamp) <= options.CorrelationTolerance {
			current.Evidence = append(current.Evidence, item.Evidence)
			current.Evidence = append(current.Evidence, item.Paired...)
			current.Conflict = current.Conflict || item.Conflict
			current.SequenceInferred = current.SequenceInferred ||
				item.Evidence.SequenceInferred
			if current.Name == "" {
				current.Name = item.Evidence.Name
			}
			continue
		}

		// A rename is named after its new name.
		name := item.Evidence.Name
		if len(item.Paired) > 0 {
			name = item.Paired[len(item.Paired)-1].Name
		}

		current = &CorrelatedEvent{
			FRN:              item.FRN,
			Kind:             item.Kind,
			TimeStamp:        item.Evidence.TimeStamp,
			Source:           item.Evidence.Source,
			Name:             name,
			Evidence:         append([]Evidence{item.Evidence}, item.Paired...),
			Conflict:         item.Conflict,
			SequenceInferred: item.Evidence.SequenceInferred,
		}
		current_kind = item.Kind
		result = append(result, current)
	}

	return result
}
