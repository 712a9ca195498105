package w3gs

import (
	"fmt"

	"github.com/w3gshost/w3gshost/internal/wirebuf"
)

// EncodeStatString applies the W3GS stat-string XOR mask to data. The
// stream is grouped into blocks of up to 7 data bytes, each preceded by one
// mask byte: bit 0 of every mask byte is always set, and bit p (1..7)
// records whether the p-th data byte in that block was originally odd;
// every data byte is then forced odd (ORed with 1) so the resulting stream
// never contains a 0x00 byte and can be safely terminated like a C string. The mask for a block
// is computed from that block's bytes and written immediately before them,
// since DecodeStatString reads a mask byte and then applies it to the 7
// bytes that follow. See spec §4.3.
func EncodeStatString(data []byte) []byte {
	result := make([]byte, 0, len(data)+(len(data)+6)/7)
	for i := 0; i < len(data); i += 7 {
		end := i + 7
		if end > len(data) {
			end = len(data)
		}
		group := data[i:end]

		mask := byte(1)
		for j, b := range group {
			if b&1 == 1 {
				mask |= 1 << uint(j+1)
			}
		}
		result = append(result, mask)
		for _, b := range group {
			result = append(result, b|1)
		}
	}
	return result
}

// DecodeStatString reverses EncodeStatString: each mask byte is consumed
// first, then applied to the up to 7 data bytes that follow it in the same
// block.
func DecodeStatString(data []byte) []byte {
	result := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		mask := data[i]
		i++
		for j := 0; j < 7 && i < len(data); j++ {
			b := data[i]
			if mask&(1<<uint(j+1)) != 0 {
				result = append(result, b)
			} else {
				result = append(result, b-1)
			}
			i++
		}
	}
	return result
}

// StatStringFields are the fields embedded in the GAMEINFO stat string.
type StatStringFields struct {
	GameFlags uint32
	MapWidth  uint16
	MapHeight uint16
	MapCRC    uint32
	MapPath   string
	HostName  string
	MapSHA1   [20]byte
}

// BuildStatString concatenates f into the raw (pre-XOR) stat-string byte
// sequence: game flags (LE32), a NUL, map width, map height, map CRC, map
// path (cstr), host name (cstr), then the 20-byte SHA1 — per spec §4.3.
func BuildStatString(f StatStringFields) []byte {
	raw := make([]byte, 4)
	wirebuf.PutUint32LE(raw, 0, f.GameFlags)
	raw = append(raw, 0)
	width := make([]byte, 2)
	wirebuf.PutUint16LE(width, 0, f.MapWidth)
	raw = append(raw, width...)
	height := make([]byte, 2)
	wirebuf.PutUint16LE(height, 0, f.MapHeight)
	raw = append(raw, height...)
	crc := make([]byte, 4)
	wirebuf.PutUint32LE(crc, 0, f.MapCRC)
	raw = append(raw, crc...)
	raw = append(raw, []byte(f.MapPath)...)
	raw = append(raw, 0)
	raw = append(raw, []byte(f.HostName)...)
	raw = append(raw, 0)
	raw = append(raw, f.MapSHA1[:]...)
	return raw
}

// ParseStatString reverses BuildStatString on an already-XOR-decoded raw
// byte sequence.
func ParseStatString(raw []byte) (StatStringFields, error) {
	var f StatStringFields
	flags, err := wirebuf.Uint32LE(raw, 0)
	if err != nil {
		return f, fmt.Errorf("w3gs: stat string game flags: %w", err)
	}
	f.GameFlags = flags

	off := 4
	if off >= len(raw) || raw[off] != 0 {
		return f, fmt.Errorf("w3gs: stat string: expected NUL separator at %d", off)
	}
	off++

	width, err := wirebuf.Uint16LE(raw, off)
	if err != nil {
		return f, fmt.Errorf("w3gs: stat string map width: %w", err)
	}
	f.MapWidth = width
	off += 2

	height, err := wirebuf.Uint16LE(raw, off)
	if err != nil {
		return f, fmt.Errorf("w3gs: stat string map height: %w", err)
	}
	f.MapHeight = height
	off += 2

	crc, err := wirebuf.Uint32LE(raw, off)
	if err != nil {
		return f, fmt.Errorf("w3gs: stat string map crc: %w", err)
	}
	f.MapCRC = crc
	off += 4

	pathBytes, off2, err := wirebuf.ExtractCString(raw, off)
	if err != nil {
		return f, fmt.Errorf("w3gs: stat string map path: %w", err)
	}
	f.MapPath = string(pathBytes)
	off = off2

	hostBytes, off3, err := wirebuf.ExtractCString(raw, off)
	if err != nil {
		return f, fmt.Errorf("w3gs: stat string host name: %w", err)
	}
	f.HostName = string(hostBytes)
	off = off3

	if off+20 > len(raw) {
		return f, fmt.Errorf("w3gs: stat string: short sha1")
	}
	copy(f.MapSHA1[:], raw[off:off+20])

	return f, nil
}
