package volume

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

const (
	DEFAULT_PAGE_SIZE  = 0x1000
	DEFAULT_CACHE_SIZE = 1000
)

// FileSource is a ByteSource over a raw image or an extracted
// artifact on disk.
type FileSource struct {
	fd   *os.File
	size int64
}

func NewFileSource(path string) (*FileSource, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "NewFileSource")
	}

	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, errors.Wrap(err, "NewFileSource")
	}

	return &FileSource{fd: fd, size: stat.Size()}, nil
}

func (self *FileSource) ReadAt(buf []byte, offset int64) (int, error) {
	return self.fd.ReadAt(buf, offset)
}

func (self *FileSource) Size() int64 {
	return self.size
}

func (self *FileSource) Name() string {
	return self.fd.Name()
}

func (self *FileSource) Close() error {
	return self.fd.Close()
}

// OffsetReader exposes a partition inside a disk image. Offset is the
// start of the partition and Length its size.
type OffsetReader struct {
	Offset int64
	Length int64
	Reader io.ReaderAt
}

func (self *OffsetReader) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 || offset >= self.Length {
		return 0, io.EOF
	}

	if offset+int64(len(buf)) > self.Length {
		n, err := self.Reader.ReadAt(buf[:self.Length-offset], offset+self.Offset)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}

	return self.Reader.ReadAt(buf, offset+self.Offset)
}

func (self *OffsetReader) Size() int64 {
	return self.Length
}

// Open opens a raw image, optionally at a partition offset, behind a
// page cache. When record_dir is set every read of the partition is
// also kept in that directory (see Recorder).
func Open(path string, offset int64, record_dir string) (*PagedReader, *FileSource, error) {
	fd, err := NewFileSource(path)
	if err != nil {
		return nil, nil, err
	}

	if offset < 0 || offset > fd.Size() {
		fd.Close()
		return nil, nil, errors.Errorf("Open: offset %#x outside image of size %#x",
			offset, fd.Size())
	}

	var reader io.ReaderAt = fd
	if offset > 0 {
		reader = &OffsetReader{
			Offset: offset,
			Length: fd.Size() - offset,
			Reader: fd,
		}
	}

	if record_dir != "" {
		reader, err = NewRecorder(record_dir, reader)
		if err != nil {
			fd.Close()
			return nil, nil, err
		}
	}

	paged, err := NewPagedReader(reader, DEFAULT_PAGE_SIZE, DEFAULT_CACHE_SIZE)
	if err != nil {
		fd.Close()
		return nil, nil, err
	}

	return paged, fd, nil
}
