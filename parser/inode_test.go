package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamIds(t *testing.T) {
	record := newFileRecord(40, 1, rootFRN, "report.docx", testTimes(testTime))
	record.Attributes = append(record.Attributes,
		NewResidentAttribute(ATTR_TYPE_DATA, 2, "", []byte("hello")),
		NewResidentAttribute(ATTR_TYPE_DATA, 2, "Zone.Identifier",
			[]byte("[ZoneTransfer]")))

	assert.Equal(t, []string{
		"40-16-0",
		"40-48-1",
		"40-128-2",
		"40-128-2:Zone.Identifier",
	}, StreamIds(record))
}
