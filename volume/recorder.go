package volume

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Recorder passes reads through to a delegate and keeps a copy of
// every read in a directory. Later reads at the same offset are served
// from the directory. Used to capture small fixtures from real images.
type Recorder struct {
	path string

	// Delegate reader
	reader io.ReaderAt
}

func (self *Recorder) ReadAt(buf []byte, offset int64) (int, error) {
	full_path := filepath.Join(self.path,
		fmt.Sprintf("%#08x-%d.bin", offset, len(buf)))
	fd, err := os.Open(full_path)
	if err != nil {
		// Not recorded yet: read it from the delegate and keep it
		// for next time.
		n, err := self.reader.ReadAt(buf, offset)
		if err == nil || err == io.EOF {
			out, err := os.OpenFile(full_path, os.O_RDWR|os.O_CREATE, 0660)
			if err == nil {
				_, _ = out.Write(buf[:n])
				out.Close()
			}
		}
		return n, err
	}
	defer fd.Close()

	n, err := fd.ReadAt(buf, 0)
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	return n, err
}

// Size is the delegate's size when known.
func (self *Recorder) Size() int64 {
	sizer, ok := self.reader.(interface{ Size() int64 })
	if ok {
		return sizer.Size()
	}
	return 0
}

func NewRecorder(path string, reader io.ReaderAt) (*Recorder, error) {
	err := os.MkdirAll(path, 0700)
	if err != nil {
		return nil, err
	}
	return &Recorder{path: path, reader: reader}, nil
}
