package volume

import (
	"fmt"
	"io"
	"sync"

	"github.com/Velocidex/ttlcache/v2"
	"github.com/pkg/errors"
	"www.velocidex.com/golang/go-ntfs-timeline/parser"
)

// This reader is needed for reading raw devices, such as \\.\c: On
// windows, such devices may only be read using sector alignment in
// whole sector numbers. This reader implements page aligned reading
// and keeps pages in an LRU cache. The parsers read the same
// clusters many times (MFT records, log pages) so a small cache
// goes a long way.
//
// The underlying reader is only ever accessed under the lock so
// PagedReader is safe for concurrent use even when the medium is
// not.
type PagedReader struct {
	mu sync.Mutex

	reader   io.ReaderAt
	pagesize int64
	lru      *ttlcache.Cache

	Hits int64
	Miss int64
}

// ReadAt reads a buffer from an offset in the backing file.
//
// The following semantics are used:
//  1. Reading within the file will always fill the buffer completely
//     with n = len(buf) and err = nil
//  2. Reading a buffer that starts within the file and ends past the
//     file will also return a full buffer with n = len(buf) and with
//     err = nil. The tail is padded with zeros.
//  3. Reading outside the bounds of the file will return n = 0 and
//     err = EOF
//
// Callers which care about the exact size must use Size().
func (self *PagedReader) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, io.EOF
	}

	self.mu.Lock()
	defer self.mu.Unlock()

	// Very large page multiples are delegated to the underlying
	// reader.
	if len(buf) > 10*int(self.pagesize) && len(buf)%int(self.pagesize) == 0 {
		n, err := self.reader.ReadAt(buf, offset)
		if n > 0 && errors.Is(err, io.EOF) {
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
			return len(buf), nil
		}
		return n, err
	}

	buf_idx := 0
	for {
		// How much is left in this page to read?
		to_read := int(self.pagesize - offset%self.pagesize)
		if to_read > len(buf)-buf_idx {
			to_read = len(buf) - buf_idx
		}

		if to_read == 0 {
			return buf_idx, nil
		}

		page := offset - offset%self.pagesize
		page_buf, err := self.getPage(page)
		if err != nil {
			// The whole range is outside the file.
			if errors.Is(err, io.EOF) {
				if buf_idx == 0 {
					return 0, io.EOF
				}

				// Some data was read, pad the rest.
				for i := buf_idx; i < len(buf); i++ {
					buf[i] = 0
				}
				return len(buf), nil
			}
			return buf_idx, err
		}

		page_offset := int(offset % self.pagesize)
		copy(buf[buf_idx:buf_idx+to_read],
			page_buf[page_offset:page_offset+to_read])

		offset += int64(to_read)
		buf_idx += to_read
	}
}

// getPage returns the page at offset page, reading it on a cache
// miss. Must be called with the lock held.
func (self *PagedReader) getPage(page int64) ([]byte, error) {
	key := fmt.Sprintf("%d", page)
	cached, err := self.lru.Get(key)
	if err == nil {
		self.Hits++
		return cached.([]byte), nil
	}

	self.Miss++
	parser.DebugPrint("Cache miss for %x (%x)\n", page, self.pagesize)

	page_buf := make([]byte, self.pagesize)
	n, err := self.reader.ReadAt(page_buf, page)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if n == 0 {
		return nil, io.EOF
	}

	// Only pages with something in them are cached. The tail of a
	// short page is already zero.
	_ = self.lru.Set(key, page_buf)
	return page_buf, nil
}

// Size is the size of the underlying reader when it is known.
func (self *PagedReader) Size() int64 {
	sizer, ok := self.reader.(parser.ByteSource)
	if ok {
		return sizer.Size()
	}
	return 0
}

func (self *PagedReader) Flush() {
	self.mu.Lock()
	defer self.mu.Unlock()

	_ = self.lru.Purge()

	flusher, ok := self.reader.(Flusher)
	if ok {
		flusher.Flush()
	}
}

func (self *PagedReader) Close() error {
	return self.lru.Close()
}

func NewPagedReader(reader io.ReaderAt, pagesize int64, cache_size int) (*PagedReader, error) {
	if pagesize <= 0 {
		return nil, errors.Errorf("NewPagedReader: invalid page size %d", pagesize)
	}

	if cache_size <= 0 {
		cache_size = DEFAULT_CACHE_SIZE
	}

	parser.DebugPrint("Creating cache of size %v\n", cache_size)

	lru := ttlcache.NewCache()
	lru.SetCacheSizeLimit(cache_size)

	return &PagedReader{
		reader:   reader,
		pagesize: pagesize,
		lru:      lru,
	}, nil
}

// Invalidate the disk cache
type Flusher interface {
	Flush()
}
