package parser

import "fmt"

// InodeFormatter names the streams of a record unambiguously as
// index-type-id. The stream name is only added when a record has
// several streams sharing the same type and id.
type InodeFormatter struct {
	attr_ids []uint32
}

func (self *InodeFormatter) Inode(index uint64, attr *Attribute) string {
	inode := fmt.Sprintf("%d-%d-%d", index, attr.Type, attr.Id)
	needle := uint32(attr.Id)<<16 + attr.Type

	if inSliceUint32(needle, self.attr_ids) {
		if attr.Name != "" {
			inode += ":" + attr.Name
		}
	} else {
		self.attr_ids = append(self.attr_ids, needle)
	}

	return inode
}

// StreamIds lists the inode of every attribute of the record.
func StreamIds(record *MftRecord) []string {
	formatter := &InodeFormatter{}
	result := make([]string, 0, len(record.Attributes))
	for _, attr := range record.Attributes {
		result = append(result, formatter.Inode(record.Index, attr))
	}
	return result
}

func inSliceUint32(needle uint32, haystack []uint32) bool {
	for _, i := range haystack {
		if i == needle {
			return true
		}
	}
	return false
}
