package volume

import (
	"bytes"
	"io"
	"testing"

	"github.com/alecthomas/assert"
)

func TestReader(t *testing.T) {
	r, err := NewPagedReader(
		bytes.NewReader([]byte("abcd")),
		3 /* pagesize */, 100 /* cache_size */)
	assert.NoError(t, err)
	defer r.Close()

	// Read 1 byte from the end of the buffer.
	buf := make([]byte, 1)
	c, err := r.ReadAt(buf, 3)
	assert.NoError(t, err)
	assert.Equal(t, c, 1)
	assert.Equal(t, buf, []byte{0x64})

	// Read past end (3 byte buffer from offset 3).
	buf = make([]byte, 3)
	c, err = r.ReadAt(buf, 3)
	assert.NoError(t, err)
	assert.Equal(t, c, 3)
	assert.Equal(t, buf, []byte{0x64, 0x00, 0x00})

	// Entirely outside the file.
	c, err = r.ReadAt(buf, 10)
	assert.Equal(t, err, io.EOF)
	assert.Equal(t, c, 0)
}

func TestReaderCache(t *testing.T) {
	r, err := NewPagedReader(
		bytes.NewReader([]byte("abcdefghij")), 4, 10)
	assert.NoError(t, err)
	defer r.Close()

	buf := make([]byte, 6)
	_, err = r.ReadAt(buf, 2)
	assert.NoError(t, err)
	assert.Equal(t, string(buf), "cdefgh")
	assert.Equal(t, r.Miss, int64(2))

	_, err = r.ReadAt(buf, 2)
	assert.NoError(t, err)
	assert.Equal(t, r.Hits, int64(2))
}

func TestOffsetReader(t *testing.T) {
	r := &OffsetReader{
		Offset: 2,
		Length: 4,
		Reader: bytes.NewReader([]byte("abcdefghij")),
	}
	assert.Equal(t, r.Size(), int64(4))

	buf := make([]byte, 3)
	n, err := r.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.Equal(t, n, 3)
	assert.Equal(t, string(buf), "cde")

	n, err = r.ReadAt(buf, 2)
	assert.Equal(t, err, io.EOF)
	assert.Equal(t, string(buf[:n]), "ef")
}
