package parser

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/davecgh/go-spew/spew"
)

var (
	debug_once  sync.Once
	debug_value bool
)

// Debug dumps any parsed structure for interactive inspection.
func Debug(arg interface{}) {
	spew.Dump(arg)
}

type Debugger interface {
	DebugString() string
}

func DebugString(arg interface{}, indent string) string {
	debugger, ok := arg.(Debugger)
	if ok {
		lines := strings.Split(debugger.DebugString(), "\n")
		for idx, line := range lines {
			lines[idx] = indent + line
		}
		return strings.Join(lines, "\n")
	}

	return ""
}

// DebugPrint prints only when the NTFS_DEBUG environment variable is
// set.
func DebugPrint(fmt_str string, v ...interface{}) {
	debug_once.Do(func() {
		// os.Environ() seems very expensive in Go so we only
		// check it once.
		for _, x := range os.Environ() {
			if strings.HasPrefix(x, "NTFS_DEBUG=") {
				debug_value = true
				break
			}
		}
	})

	if debug_value {
		fmt.Printf(fmt_str, v...)
	}
}
