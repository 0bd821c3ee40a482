/*
Decompression support for the LZNT1 compression algorithm.

Reference:
http://msdn.microsoft.com/en-us/library/jj665697.aspx
(2.5 LZNT1 Algorithm Details)

A compressed stream is a sequence of chunks, each decompressing to
at most 4096 bytes. Each chunk starts with a 16 bit header:

  bit 15     - chunk is compressed
  bits 12-14 - signature (3)
  bits 0-11  - chunk data size - 1

Compressed chunks are groups of a flag byte followed by 8 tokens. A
clear flag bit is a literal byte, a set bit a 16 bit back reference
whose split between offset and length depends on how far into the
chunk the output is.
*/

package parser

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	LZNT1_COMPRESSED_MASK = uint16(1 << 15)
	LZNT1_SIZE_MASK       = uint16(1<<12) - 1
	LZNT1_CHUNK_SIZE      = 0x1000
)

var (
	ErrLZNT1Shift     = errors.New("Decompression error - shift is too large")
	ErrLZNT1Truncated = errors.New("Decompression error - chunk truncated")
)

// displacementBits is the number of bits beyond 4 used for the
// offset of a back reference when position bytes of the chunk have
// been produced.
func displacementBits(position int) uint {
	result := uint(0)
	for position -= 1; position >= 0x10; position >>= 1 {
		result++
	}
	return result
}

func LZNT1Decompress(in []byte) ([]byte, error) {
	out := make([]byte, 0, len(in)*2)

	i := 0
	for i+2 <= len(in) {
		header := binary.LittleEndian.Uint16(in[i:])
		if header == 0 {
			break
		}

		size := int(header&LZNT1_SIZE_MASK) + 1
		i += 2
		chunk_end := i + size
		if chunk_end > len(in) {
			return out, errors.Wrapf(ErrLZNT1Truncated,
				"chunk of %d bytes @ %#x", size, i-2)
		}

		if header&LZNT1_COMPRESSED_MASK == 0 {
			out = append(out, in[i:chunk_end]...)
			i = chunk_end
			continue
		}

		chunk_start := len(out)
		for i < chunk_end {
			flags := in[i]
			i++

			for bit := 0; bit < 8 && i < chunk_end; bit++ {
				if flags&1 == 0 {
					out = append(out, in[i])
					i++
					flags >>= 1
					continue
				}

				if i+2 > chunk_end {
					return out, errors.Wrapf(ErrLZNT1Truncated,
						"back reference @ %#x", i)
				}
				pointer := binary.LittleEndian.Uint16(in[i:])
				i += 2

				shift := displacementBits(len(out) - chunk_start)
				offset := int(pointer>>(12-shift)) + 1
				length := int(pointer&(0xFFF>>shift)) + 3

				start := len(out) - offset
				if start < chunk_start {
					DebugPrint("LZNT1: pointer %#x shift %v at %d\n",
						pointer, shift, len(out))
					return out, ErrLZNT1Shift
				}

				// Overlapping copies repeat the pattern.
				for j := 0; j < length; j++ {
					out = append(out, out[start+j])
				}
				flags >>= 1
			}
		}
	}

	return out, nil
}
