package parser

import (
	"sync"

	"github.com/Velocidex/ordereddict"
)

// Counters collected while parsing one artifact. Parsers own their
// Stats until they return.
type Stats struct {
	mu sync.Mutex

	Slots            int
	EmptySlots       int
	Records          int
	Tombstones       int
	ExtensionRecords int
	SlotFailures     int
	UnresolvedAttrs  int

	UsnRecords int
	UsnGaps    int
	UsnBytes   int64

	LogPages        int
	LogRecords      int
	LogTransactions int
	LogWarnings     int
}

func (self *Stats) inc(field *int) {
	self.mu.Lock()
	defer self.mu.Unlock()

	*field++
}

func (self *Stats) add(field *int64, v int64) {
	self.mu.Lock()
	defer self.mu.Unlock()

	*field += v
}

// Merge other into this.
func (self *Stats) Merge(other *Stats) {
	if other == nil {
		return
	}
	other.mu.Lock()
	o := *other
	other.mu.Unlock()

	self.mu.Lock()
	defer self.mu.Unlock()

	self.Slots += o.Slots
	self.EmptySlots += o.EmptySlots
	self.Records += o.Records
	self.Tombstones += o.Tombstones
	self.ExtensionRecords += o.ExtensionRecords
	self.SlotFailures += o.SlotFailures
	self.UnresolvedAttrs += o.UnresolvedAttrs
	self.UsnRecords += o.UsnRecords
	self.UsnGaps += o.UsnGaps
	self.UsnBytes += o.UsnBytes
	self.LogPages += o.LogPages
	self.LogRecords += o.LogRecords
	self.LogTransactions += o.LogTransactions
	self.LogWarnings += o.LogWarnings
}

func (self *Stats) ToDict() *ordereddict.Dict {
	self.mu.Lock()
	defer self.mu.Unlock()

	return ordereddict.NewDict().
		Set("Slots", self.Slots).
		Set("EmptySlots", self.EmptySlots).
		Set("Records", self.Records).
		Set("Tombstones", self.Tombstones).
		Set("ExtensionRecords", self.ExtensionRecords).
		Set("SlotFailures", self.SlotFailures).
		Set("UnresolvedAttributes", self.UnresolvedAttrs).
		Set("UsnRecords", self.UsnRecords).
		Set("UsnGaps", self.UsnGaps).
		Set("UsnBytes", self.UsnBytes).
		Set("LogPages", self.LogPages).
		Set("LogRecords", self.LogRecords).
		Set("LogTransactions", self.LogTransactions).
		Set("LogWarnings", self.LogWarnings)
}
