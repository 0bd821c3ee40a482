package parser

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
)

var (
	utf16_decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// ParseUTF16String decodes a little endian UTF-16 buffer. Invalid
// sequences are replaced rather than failing: names found in
// corrupted records are still evidence.
func ParseUTF16String(buf []byte) string {
	if len(buf)%2 == 1 {
		buf = buf[:len(buf)-1]
	}
	result, err := utf16_decoder.NewDecoder().Bytes(buf)
	if err != nil {
		return ""
	}
	return strings.TrimRight(string(result), "\x00")
}

func EncodeUTF16String(in string) []byte {
	result, _ := utf16_decoder.NewEncoder().Bytes([]byte(in))
	return result
}

const (
	// 100ns intervals between 1601-01-01 and 1970-01-01
	filetime_epoch_delta = 116444736000000000
)

// FiletimeToTime converts a Windows FILETIME. Zero stays the zero
// time so that missing timestamps are distinguishable.
func FiletimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	delta := int64(ft - filetime_epoch_delta)
	return time.Unix(delta/10000000, (delta%10000000)*100).UTC()
}

func TimeToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + filetime_epoch_delta)
}

// Timestamps recorded by NTFS are plausibly between these dates. Used
// to reject garbage when carving timestamps out of log payloads.
var (
	min_plausible_time = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	max_plausible_time = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

func isPlausibleTime(t time.Time) bool {
	return t.After(min_plausible_time) && t.Before(max_plausible_time)
}

func parseFiletime(buf []byte, offset int) time.Time {
	if offset+8 > len(buf) {
		return time.Time{}
	}
	return FiletimeToTime(binary.LittleEndian.Uint64(buf[offset:]))
}

func uint16At(buf []byte, offset int) uint16 {
	if offset < 0 || offset+2 > len(buf) {
		return 0
	}
	return binary.LittleEndian.Uint16(buf[offset:])
}

func uint32At(buf []byte, offset int) uint32 {
	if offset < 0 || offset+4 > len(buf) {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[offset:])
}

func uint64At(buf []byte, offset int) uint64 {
	if offset < 0 || offset+8 > len(buf) {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[offset:])
}

func align8(v int64) int64 {
	return (v + 7) &^ 7
}

func isZero(buf []byte) bool {
	for _, c := range buf {
		if c != 0 {
			return false
		}
	}
	return true
}

func CapUint16(v uint16, max uint16) uint16 {
	if v > max {
		return max
	}
	return v
}

func CapInt64(v int64, max int64) int64 {
	if v > max {
		return max
	}
	return v
}

func copySlice(in []byte) []byte {
	if in == nil {
		return nil
	}
	result := make([]byte, len(in))
	copy(result, in)
	return result
}

func fmtHex(v uint32) string {
	return fmt.Sprintf("%#x", v)
}
