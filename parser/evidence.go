package parser

import (
	"sort"
	"strings"
	"time"
)

// Source priority on exact timestamp ties.
const (
	priorityMFT = iota
	priorityJournal
	priorityLogFile
)

// evidenceItem is one fact about a file extracted from a single
// source, before correlation.
type evidenceItem struct {
	FRN      FRN
	Kind     EventKind
	Priority int

	// Position in the source's own order.
	Order int

	Evidence Evidence
	Conflict bool

	// Further evidence belonging to the same change, e.g. the new
	// name of a rename.
	Paired []Evidence
}

func (self *evidenceItem) timed() bool {
	return !self.Evidence.TimeStamp.IsZero()
}

// lessEvidence orders items of one source: by file, timed items
// before untimed ones, then by time. Untimed items are ordered by
// LSN when they have one.
func lessEvidence(a, b *evidenceItem) bool {
	if a.FRN != b.FRN {
		return a.FRN.Less(b.FRN)
	}
	return lessWithinFile(a, b)
}

func lessWithinFile(a, b *evidenceItem) bool {
	if a.timed() != b.timed() {
		return a.timed()
	}
	if !a.Evidence.TimeStamp.Equal(b.Evidence.TimeStamp) {
		return a.Evidence.TimeStamp.Before(b.Evidence.TimeStamp)
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.timed() && a.Evidence.Lsn != b.Evidence.Lsn {
		return a.Evidence.Lsn < b.Evidence.Lsn
	}
	// Same kinds stay adjacent so they can collapse.
	if a.timed() && a.Kind != b.Kind {
		return kindRank(a.Kind) < kindRank(b.Kind)
	}
	return a.Order < b.Order
}

func kindRank(kind EventKind) int {
	switch kind {
	case EventCreated:
		return 0
	case EventModified:
		return 1
	case EventRenamed:
		return 2
	case EventAccessed:
		return 3
	case EventDeleted:
		return 4
	case EventJournalOnly:
		return 5
	}
	return 6
}

func sortEvidence(items []*evidenceItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return lessEvidence(items[i], items[j])
	})
}

func timestampItems(frn FRN, name, attribute string,
	times TimeStamps, record_index uint64) []*evidenceItem {
	result := []*evidenceItem{}
	add := func(kind EventKind, field string, t time.Time) {
		if t.IsZero() {
			return
		}
		result = append(result, &evidenceItem{
			FRN:      frn,
			Kind:     kind,
			Priority: priorityMFT,
			Evidence: Evidence{
				Source:      SourceMFT,
				Detail:      attribute + "." + field,
				TimeStamp:   t,
				Name:        name,
				RecordIndex: record_index,
			},
		})
	}

	add(EventCreated, "Created", times.Created)
	add(EventModified, "Modified", times.Modified)
	add(EventModified, "MftModified", times.MftModified)
	add(EventAccessed, "Accessed", times.Accessed)
	return result
}

// mftEvidence extracts the timestamps of every record. Records not
// in use also produce a deletion, stamped with their last MFT change.
func mftEvidence(table *MftTable) []*evidenceItem {
	result := []*evidenceItem{}
	if table == nil {
		return result
	}

	for _, record := range table.Records {
		if record.IsExtension() {
			continue
		}

		frn := record.FRN()
		name := record.Name()

		si := record.StandardInformation()
		if si != nil {
			result = append(result, timestampItems(frn, name,
				"$STANDARD_INFORMATION", si.Times, record.Index)...)
		}

		var last_change time.Time
		for _, fn := range record.FileNames() {
			result = append(result, timestampItems(frn, fn.Name,
				"$FILE_NAME", fn.Times, record.Index)...)
			if fn.Times.MftModified.After(last_change) {
				last_change = fn.Times.MftModified
			}
		}

		if !record.InUse {
			if si != nil && !si.Times.MftModified.IsZero() {
				last_change = si.Times.MftModified
			}
			result = append(result, &evidenceItem{
				FRN:      frn,
				Kind:     EventDeleted,
				Priority: priorityMFT,
				Evidence: Evidence{
					Source:      SourceMFT,
					Detail:      "record not in use",
					TimeStamp:   last_change,
					Name:        name,
					RecordIndex: record.Index,
				},
			})
		}
	}

	for idx, item := range result {
		item.Order = idx
	}
	return result
}

// usnEventKind maps reasons to an event. Deletion takes precedence
// over creation, creation over renames and renames over content
// changes.
func usnEventKind(reason uint32) EventKind {
	switch {
	case reason&USN_REASON_FILE_DELETE != 0:
		return EventDeleted
	case reason&USN_REASON_FILE_CREATE != 0:
		return EventCreated
	case reason&(USN_REASON_RENAME_OLD_NAME|USN_REASON_RENAME_NEW_NAME) != 0:
		return EventRenamed
	case reason&(USN_REASON_DATA_OVERWRITE|USN_REASON_DATA_EXTEND|
		USN_REASON_DATA_TRUNCATION|USN_REASON_NAMED_DATA_OVERWRITE|
		USN_REASON_NAMED_DATA_EXTEND|USN_REASON_NAMED_DATA_TRUNCATION|
		USN_REASON_BASIC_INFO_CHANGE|USN_REASON_EA_CHANGE|
		USN_REASON_SECURITY_CHANGE|USN_REASON_STREAM_CHANGE) != 0:
		return EventModified
	}
	return EventJournalOnly
}

func newUsnEvidence(record *UsnRecord) Evidence {
	return Evidence{
		Source:    SourceJournal,
		Detail:    strings.Join(record.Reasons(), "|"),
		TimeStamp: record.TimeStamp,
		Name:      record.Name,
		Usn:       record.Usn,
	}
}

func isRenameNewName(record *UsnRecord) bool {
	return record.Reason&USN_REASON_RENAME_NEW_NAME != 0 &&
		record.Reason&USN_REASON_RENAME_OLD_NAME == 0 &&
		usnEventKind(record.Reason) == EventRenamed
}

// usnEvidence emits one item per record, except that a
// RENAME_OLD_NAME record absorbs the RENAME_NEW_NAME records which
// follow it for the same file: a rename is a single change.
func usnEvidence(records []*UsnRecord) []*evidenceItem {
	by_file := make(map[FRN][]int)
	for idx, record := range records {
		by_file[record.FRN] = append(by_file[record.FRN], idx)
	}
	next := make(map[FRN]int)
	absorbed := make(map[int]bool)

	result := make([]*evidenceItem, 0, len(records))
	for idx, record := range records {
		next[record.FRN]++
		if absorbed[idx] {
			continue
		}

		item := &evidenceItem{
			FRN:      record.FRN,
			Kind:     usnEventKind(record.Reason),
			Priority: priorityJournal,
			Evidence: newUsnEvidence(record),
		}

		if item.Kind == EventRenamed &&
			record.Reason&USN_REASON_RENAME_OLD_NAME != 0 {
			for _, later := range by_file[record.FRN][next[record.FRN]:] {
				if !isRenameNewName(records[later]) {
					break
				}
				absorbed[later] = true
				item.Paired = append(item.Paired, newUsnEvidence(records[later]))
			}
		}

		item.Order = len(result)
		result = append(result, item)
	}
	return result
}

// logTarget accumulates the facts of one transaction about one MFT
// slot.
type logTarget struct {
	Slot          uint64
	Sequence      uint16
	SequenceKnown bool
	Name          string
	FirstLsn      uint64
	Operations    []string
	Created       bool
	Deleted       bool
	NameAdded     bool
	NameRemoved   bool
	Modified      bool
}

func (self *logTarget) kind() EventKind {
	switch {
	case self.Deleted:
		return EventDeleted
	case self.Created:
		return EventCreated
	case self.NameAdded && self.NameRemoved:
		return EventRenamed
	case self.Modified:
		return EventModified
	}
	return EventLogOnly
}

// logEvidence turns transactions into evidence. A transaction is
// stamped with the latest time found in any of its payloads; without
// one its evidence is untimed. Files identified only by slot are
// attributed to the slot's current occupant.
func logEvidence(transactions []*Transaction, table *MftTable,
	geometry VolumeGeometry) []*evidenceItem {
	result := []*evidenceItem{}

	for _, txn := range transactions {
		var txn_time time.Time
		targets := make(map[uint64]*logTarget)
		order := []uint64{}

		for _, record := range txn.Records {
			facts := DecodeLogFacts(record, geometry)
			for _, t := range facts.Times {
				if t.After(txn_time) {
					txn_time = t
				}
			}

			if !facts.HasTarget {
				continue
			}

			target, pres := targets[facts.Target.Index]
			if !pres {
				target = &logTarget{
					Slot:     facts.Target.Index,
					FirstLsn: record.Lsn,
				}
				targets[facts.Target.Index] = target
				order = append(order, facts.Target.Index)
			}

			if facts.SequenceKnown && !target.SequenceKnown {
				target.Sequence = facts.Target.Sequence
				target.SequenceKnown = true
			}
			if facts.Name != "" {
				target.Name = facts.Name
			}
			target.Operations = append(target.Operations, record.RedoName())
			target.Created = target.Created || facts.Created
			target.Deleted = target.Deleted || facts.Deleted
			target.NameAdded = target.NameAdded || facts.NameAdded
			target.NameRemoved = target.NameRemoved || facts.NameRemove
			target.Modified = target.Modified || facts.Modified
		}

		for _, slot := range order {
			target := targets[slot]
			frn := FRN{Index: slot, Sequence: target.Sequence}
			inferred := false

			if !target.SequenceKnown {
				inferred = true
				if table != nil {
					if record, pres := table.GetByIndex(slot); pres {
						frn = record.FRN()
					}
				}
			}

			result = append(result, &evidenceItem{
				FRN:      frn,
				Kind:     target.kind(),
				Priority: priorityLogFile,
				Evidence: Evidence{
					Source:           SourceLogFile,
					Detail:           strings.Join(target.Operations, ","),
					TimeStamp:        txn_time,
					Name:             target.Name,
					Lsn:              target.FirstLsn,
					TransactionId:    txn.ID,
					Status:           txn.Status.String(),
					SequenceInferred: inferred,
				},
			})
		}
	}

	for idx, item := range result {
		item.Order = idx
	}
	return result
}

// markConflicts flags deletions reported by the journal or the log
// for a file the MFT still shows allocated.
func markConflicts(items []*evidenceItem, table *MftTable) {
	if table == nil {
		return
	}

	for _, item := range items {
		if item.Kind != EventDeleted {
			continue
		}
		record, pres := table.Get(item.FRN)
		if pres && record.InUse {
			item.Conflict = true
		}
	}
}
