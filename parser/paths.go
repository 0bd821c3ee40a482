/* Resolve the paths a file is known by.

   In NTFS a file (MFT entry) may exist in multiple directories: each
   hard link adds a $FILE_NAME attribute pointing at a different
   parent. Parents are resolved through the table by FRN so a
   directory whose slot was reused by another file is detected by its
   sequence number.
*/

package parser

import (
	"fmt"
	"strings"
)

type Visitor struct {
	Paths [][]string
	Max   int
}

func (self *Visitor) Add(idx int, depth int) int {
	self.Paths = append(self.Paths, append([]string{}, self.Paths[idx][:depth]...))
	return len(self.Paths) - 1
}

func (self *Visitor) AddComponent(idx int, component string) {
	self.Paths[idx] = append(self.Paths[idx], component)
}

func (self *Visitor) Components() [][]string {
	for _, p := range self.Paths {
		for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
			p[i], p[j] = p[j], p[i]
		}
	}
	return self.Paths
}

// Links returns every path the record is known by, one per hard
// link, as path components from the root.
func (self *MftTable) Links(record *MftRecord, options Options) [][]string {
	options = options.normalize()
	visitor := &Visitor{
		Paths: [][]string{[]string{}},
		Max:   options.MaxLinks,
	}
	self.getNames(record, visitor, 0, 0, options)

	return visitor.Components()
}

func (self *MftTable) getNames(record *MftRecord,
	visitor *Visitor, idx, depth int, options Options) {

	if depth > options.MaxDirectoryDepth {
		visitor.AddComponent(idx, "<DirTooDeep>")
		visitor.AddComponent(idx, "<Err>")
		return
	}

	filenames := []*FileNameAttribute{}
	for _, fn := range record.FileNames() {
		switch fn.Namespace {
		case NamespaceWin32, NamespaceWin32DOS, NamespacePOSIX:
			filenames = append(filenames, fn)
		case NamespaceDOS:
			if options.IncludeShortNames {
				filenames = append(filenames, fn)
			}
		}
	}

	// A file with only a short name still needs a path.
	if len(filenames) == 0 {
		if fn := record.CanonicalFileName(); fn != nil {
			filenames = append(filenames, fn)
		}
	}

	for i, fn := range filenames {
		// The first FN entry continues to visit the same path but the
		// next one will add a new path.
		visitor_idx := idx
		if i > 0 {
			if len(visitor.Paths) >= visitor.Max {
				continue
			}
			visitor_idx = visitor.Add(idx, depth)
		}

		visitor.AddComponent(visitor_idx, fn.Name)

		if fn.Parent.Index == MFT_ENTRY_ROOT || fn.Parent.Index == record.Index {
			continue
		}

		parent, pres := self.GetByIndex(fn.Parent.Index)
		if !pres {
			visitor.AddComponent(visitor_idx,
				fmt.Sprintf("<Parent %v missing>", fn.Parent))
			visitor.AddComponent(visitor_idx, "<Err>")
			continue
		}

		if fn.Parent.Sequence != parent.Sequence {
			visitor.AddComponent(visitor_idx,
				fmt.Sprintf("<Parent %v-%v need %v>", fn.Parent.Index,
					parent.Sequence, fn.Parent.Sequence))
			visitor.AddComponent(visitor_idx, "<Err>")
			continue
		}

		self.getNames(parent, visitor, visitor_idx, depth+1, options)
	}
}

// FullPath is the path of the canonical name of the record.
func (self *MftTable) FullPath(record *MftRecord, options Options) string {
	fn := record.CanonicalFileName()
	if fn == nil {
		return ""
	}

	if record.Index == MFT_ENTRY_ROOT {
		return "/"
	}

	components := []string{fn.Name}
	current := fn.Parent
	options = options.normalize()

	for depth := 0; current.Index != MFT_ENTRY_ROOT; depth++ {
		if depth > options.MaxDirectoryDepth {
			components = append(components, "<DirTooDeep>")
			break
		}

		parent, pres := self.GetByIndex(current.Index)
		if !pres || parent.Sequence != current.Sequence {
			components = append(components,
				fmt.Sprintf("<Orphan %v>", current))
			break
		}

		parent_fn := parent.CanonicalFileName()
		if parent_fn == nil || parent_fn.Parent == current {
			break
		}

		components = append(components, parent_fn.Name)
		current = parent_fn.Parent
	}

	for i, j := 0, len(components)-1; i < j; i, j = i+1, j-1 {
		components[i], components[j] = components[j], components[i]
	}
	return "/" + strings.Join(components, "/")
}
