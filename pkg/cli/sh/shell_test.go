package sh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/fota.go/pkg/fota"
)

func TestFormatResult(t *testing.T) {
	require.Equal(t, "no update installed", FormatResult(nil))
	require.Equal(t,
		"version 1.2 (app.bin): 300 bytes at 0x08008000, crc32 0000beef",
		FormatResult(&fota.Result{
			Manifest: fota.Manifest{Version: "1.2", File: "app.bin"},
			File:     "app.bin",
			Address:  0x08008000,
			Size:     300,
			CRC32:    0xbeef,
		}))
	require.Equal(t,
		"version 1.2 (nightly.bin): 300 bytes at 0x08008000, crc32 0000beef",
		FormatResult(&fota.Result{
			Manifest: fota.Manifest{Version: "1.2", File: "app.bin"},
			File:     "nightly.bin",
			Address:  0x08008000,
			Size:     300,
			CRC32:    0xbeef,
		}))
}

func TestFormatManifest(t *testing.T) {
	require.Equal(t, "version 1.0", FormatManifest(fota.Manifest{Version: "1.0"}))
	require.Equal(t, "version 1.0, file a.bin, size 10, crc32 cbf43926", FormatManifest(fota.Manifest{
		Version: "1.0",
		File:    "a.bin",
		Size:    10,
		HasSize: true,
		CRC32:   0xCBF43926,
		HasCRC:  true,
	}))
}

func TestParseUint32(t *testing.T) {
	v, err := parseUint32("0x08008000")
	require.NoError(t, err)
	require.Equal(t, uint32(0x08008000), v)
	v, err = parseUint32("256")
	require.NoError(t, err)
	require.Equal(t, uint32(256), v)
	_, err = parseUint32("0x100000000")
	require.Error(t, err)
	_, err = parseUint32("sector")
	require.Error(t, err)
}
