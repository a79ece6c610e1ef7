package fota

import "github.com/pkg/errors"

var (
	// ErrBufferOverflow indicates the image does not fit the buffer.
	ErrBufferOverflow = errors.New("image buffer overflow")
	// ErrNoTerminator indicates the transfer lacks the CLOSED marker.
	ErrNoTerminator = errors.New("missing CLOSED marker")
	// ErrMalformed indicates a chunk marker without a valid length field.
	ErrMalformed = errors.New("malformed chunk marker")
	// ErrTruncated indicates received bytes were dropped during the transfer.
	ErrTruncated = errors.New("transfer truncated")
	// ErrEmptyImage indicates the transfer carried no firmware.
	ErrEmptyImage = errors.New("empty image")
	// ErrSizeMismatch indicates the image length differs from the manifest.
	ErrSizeMismatch = errors.New("image size mismatch")
	// ErrChecksum indicates the image CRC differs from the manifest.
	ErrChecksum = errors.New("image checksum mismatch")
	// ErrVerify indicates flash contents differ from the image after
	// programming.
	ErrVerify = errors.New("flash verify failed")
)
