package fota

import (
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/snksoft/crc"
)

var crcTable = crc.NewTable(crc.CRC32)

// Checksum returns the CRC-32 (IEEE) of data.
func Checksum(data []byte) uint32 {
	h := crc.NewHashWithTable(crcTable)
	h.Update(data)
	return h.CRC32()
}

// Manifest is the content of the version file published next to the
// firmware, e.g.
//
//	1.4.2 size=10240 crc32=8f3a02c1 file=firmware_update.bin
//
// Only the version is required.
type Manifest struct {
	Version string
	File    string
	Size    int
	CRC32   uint32

	HasSize bool
	HasCRC  bool
}

// ParseManifest parses a version file.
func ParseManifest(b []byte) (Manifest, error) {
	var m Manifest
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return m, errors.New("empty version file")
	}
	m.Version = fields[0]
	for _, field := range fields[1:] {
		pos := strings.IndexByte(field, '=')
		if pos <= 0 {
			return m, errors.Errorf("invalid version file field %q", field)
		}
		key, val := field[:pos], field[pos+1:]
		switch key {
		case "size":
			size, err := strconv.Atoi(val)
			if err != nil || size < 0 {
				return m, errors.Errorf("invalid size %q", val)
			}
			m.Size, m.HasSize = size, true
		case "crc32":
			sum, err := strconv.ParseUint(strings.TrimPrefix(val, "0x"), 16, 32)
			if err != nil {
				return m, errors.Errorf("invalid crc32 %q", val)
			}
			m.CRC32, m.HasCRC = uint32(sum), true
		case "file":
			m.File = val
		default:
			glog.Warningf("version file: unknown field %q", key)
		}
	}
	return m, nil
}

// Check validates image against the size and checksum when present.
func (m Manifest) Check(image []byte) error {
	if m.HasSize && len(image) != m.Size {
		return errors.Wrapf(ErrSizeMismatch, "got %d, want %d", len(image), m.Size)
	}
	if m.HasCRC {
		if sum := Checksum(image); sum != m.CRC32 {
			return errors.Wrapf(ErrChecksum, "got %08x, want %08x", sum, m.CRC32)
		}
	}
	return nil
}
