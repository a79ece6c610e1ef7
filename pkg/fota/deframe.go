package fota

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

var (
	chunkMarker  = []byte("\r\n+IPD,")
	closedMarker = []byte("\r\nCLOSED\r\n")
)

// Deframe removes the modem's chunk markers from a raw transfer and writes
// the payload into dst. src runs up to and including the trailing
// \r\nCLOSED\r\n marker. Each marker is \r\n+IPD, followed by a length
// field ended by ':' or ','. The link id form "id,len:" is accepted only
// when len matches the payload up to the next marker, otherwise the
// comma ends the length field. It returns the number of bytes written.
func Deframe(dst, src []byte) (int, error) {
	end := bytes.LastIndex(src, closedMarker)
	if end < 0 {
		return 0, ErrNoTerminator
	}
	src = src[:end]

	n := 0
	for {
		pos := bytes.Index(src, chunkMarker)
		if pos < 0 {
			break
		}
		if n+pos > len(dst) {
			n += copy(dst[n:], src)
			return n, errors.Wrapf(ErrBufferOverflow, "capacity %d", len(dst))
		}
		n += copy(dst[n:], src[:pos])
		skip, err := lengthField(src[pos+len(chunkMarker):])
		if err != nil {
			return n, err
		}
		src = src[pos+len(chunkMarker)+skip:]
	}
	if n+len(src) > len(dst) {
		n += copy(dst[n:], src)
		return n, errors.Wrapf(ErrBufferOverflow, "capacity %d", len(dst))
	}
	n += copy(dst[n:], src)
	return n, nil
}

// lengthField returns the size of the length field at the start of b,
// including its terminator.
func lengthField(b []byte) (int, error) {
	d := digits(b)
	if d == 0 || d >= len(b) {
		return 0, errors.Wrapf(ErrMalformed, "%q", clip(b))
	}
	switch b[d] {
	case ':':
		return d + 1, nil
	case ',':
		if d2 := digits(b[d+1:]); d2 > 0 && d+1+d2 < len(b) && b[d+1+d2] == ':' {
			skip := d + 1 + d2 + 1
			if size, err := strconv.Atoi(string(b[d+1 : d+1+d2])); err == nil && size == payloadLen(b[skip:]) {
				return skip, nil
			}
		}
		return d + 1, nil
	}
	return 0, errors.Wrapf(ErrMalformed, "%q", clip(b))
}

// payloadLen returns the number of bytes before the next chunk marker.
func payloadLen(b []byte) int {
	if pos := bytes.Index(b, chunkMarker); pos >= 0 {
		return pos
	}
	return len(b)
}

func digits(b []byte) int {
	n := 0
	for n < len(b) && b[n] >= '0' && b[n] <= '9' {
		n++
	}
	return n
}

func clip(b []byte) []byte {
	if len(b) > 16 {
		return b[:16]
	}
	return b
}
