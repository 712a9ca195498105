// Package wirebuf provides the low-level little-endian byte helpers the
// W3GS codec is built on: fixed-width integer reads/writes, NUL-terminated
// C-string extraction, and the whitespace-separated decimal byte arrays
// used by the configuration file format for binary fields such as the map
// SHA1.
package wirebuf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// ErrTruncated is returned when a buffer is shorter than a fixed-width read
// requires.
var ErrTruncated = fmt.Errorf("wirebuf: buffer truncated")

// ErrMissingTerminator is returned when ExtractCString scans past the end
// of the buffer without finding a NUL byte.
var ErrMissingTerminator = fmt.Errorf("wirebuf: missing NUL terminator")

// Uint16LE reads a little-endian uint16 at off. Fails closed if [off, off+2)
// is out of range.
func Uint16LE(buf []byte, off int) (uint16, error) {
	if off < 0 || off+2 > len(buf) {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint16(buf[off : off+2]), nil
}

// Uint32LE reads a little-endian uint32 at off.
func Uint32LE(buf []byte, off int) (uint32, error) {
	if off < 0 || off+4 > len(buf) {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(buf[off : off+4]), nil
}

// PutUint16LE writes v as little-endian at off. Panics like the stdlib
// binary package if the slice is too short — callers size buffers up
// front, as the codec does throughout.
func PutUint16LE(buf []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(buf[off:off+2], v)
}

// PutUint32LE writes v as little-endian at off.
func PutUint32LE(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:off+4], v)
}

// ExtractCString scans buf starting at off for the next NUL byte and
// returns the bytes before it (excluding the NUL) along with the offset of
// the byte following the NUL. Fails if no NUL is found before the end of
// buf.
func ExtractCString(buf []byte, off int) ([]byte, int, error) {
	if off < 0 || off > len(buf) {
		return nil, 0, ErrTruncated
	}
	idx := bytes.IndexByte(buf[off:], 0)
	if idx < 0 {
		return nil, 0, ErrMissingTerminator
	}
	return buf[off : off+idx], off + idx + 1, nil
}

// ParseDecimalBytes parses n whitespace-separated decimal integers from
// text into a fixed-size byte array. Used by the configuration loader for
// fields stored as "1 2 3 4 ..." (map_sha1, map_crc, and friends). Fails if
// fewer than n tokens are present or any token does not fit in a byte.
func ParseDecimalBytes(text string, n int) ([]byte, error) {
	fields := strings.Fields(text)
	if len(fields) < n {
		return nil, fmt.Errorf("wirebuf: expected %d decimal bytes, got %d", n, len(fields))
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		v, err := strconv.ParseUint(fields[i], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("wirebuf: decimal byte %d (%q): %w", i, fields[i], err)
		}
		out[i] = byte(v)
	}
	return out, nil
}
