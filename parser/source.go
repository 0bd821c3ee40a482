package parser

import (
	"io"

	"github.com/pkg/errors"
)

// ByteSource is a random access, read only view over raw bytes:
// either a whole volume or a single artifact stream. Implementations
// must allow concurrent ReadAt calls at independent offsets.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// A range of a stream. Sparse ranges have no backing data on disk
// and read as zeros.
type Range struct {
	Offset   int64
	Length   int64
	IsSparse bool
}

// A RangeReader can describe which parts of itself are sparse. The
// USN parser uses this to emit gaps without reading.
type RangeReader interface {
	ByteSource
	Ranges() []Range
}

// BytesSource serves a byte slice. Mostly useful for extracted
// artifacts held in memory and for tests.
type BytesSource struct {
	data []byte
}

func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: data}
}

func (self *BytesSource) Size() int64 {
	return int64(len(self.data))
}

func (self *BytesSource) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset >= int64(len(self.data)) {
		return 0, io.EOF
	}
	n := copy(buf, self.data[offset:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

// ReaderSource adapts a plain io.ReaderAt with a known size.
type ReaderSource struct {
	Reader io.ReaderAt
	Length int64
}

func (self *ReaderSource) Size() int64 {
	return self.Length
}

func (self *ReaderSource) ReadAt(buf []byte, offset int64) (int, error) {
	if offset >= self.Length {
		return 0, io.EOF
	}
	if offset+int64(len(buf)) > self.Length {
		n, err := self.Reader.ReadAt(buf[:self.Length-offset], offset)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return self.Reader.ReadAt(buf, offset)
}

// readExact reads exactly length bytes at offset. A request which
// extends past the end of the source fails with ErrOutOfRange.
func readExact(source ByteSource, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > source.Size() {
		return nil, errors.Wrapf(ErrOutOfRange,
			"read %d bytes @ %#x (size %#x)", length, offset, source.Size())
	}

	buf := make([]byte, length)
	n, err := source.ReadAt(buf, offset)
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, errors.Wrapf(err, "short read %d of %d @ %#x", n, length, offset)
}

// readAvailable reads up to length bytes, returning what could be
// read without treating a short read as an error.
func readAvailable(source ByteSource, offset, length int64) []byte {
	size := source.Size()
	if offset >= size || offset < 0 {
		return nil
	}
	length = CapInt64(length, size-offset)

	buf := make([]byte, length)
	n, _ := source.ReadAt(buf, offset)
	return buf[:n]
}
