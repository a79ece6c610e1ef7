package fota

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func deframe(t *testing.T, src string) string {
	dst := make([]byte, 64)
	n, err := Deframe(dst, []byte(src))
	require.NoError(t, err)
	return string(dst[:n])
}

func TestDeframe(t *testing.T) {
	require.Equal(t, "AAAAABBB", deframe(t, "\r\n+IPD,5,AAAAA\r\n+IPD,3,BBB\r\nCLOSED\r\n"))
	require.Equal(t, "AAAAABBB", deframe(t, "\r\n+IPD,5:AAAAA\r\n+IPD,3:BBB\r\nCLOSED\r\n"))
	require.Equal(t, "hello world", deframe(t, "hello\r\n+IPD,6: world\r\nCLOSED\r\n"))
	require.Equal(t, "abc", deframe(t, "\r\n+IPD,0,3:abc\r\nCLOSED\r\n"))
	require.Equal(t, "plain", deframe(t, "plain\r\nCLOSED\r\n"))
	require.Equal(t, "", deframe(t, "\r\nCLOSED\r\n"))
	require.Equal(t, "", deframe(t, "\r\n+IPD,0:\r\nCLOSED\r\n"))
}

func TestDeframeLastTerminator(t *testing.T) {
	require.Equal(t, "a\r\nCLOSED\r\nb", deframe(t, "a\r\nCLOSED\r\nb\r\nCLOSED\r\n"))
}

func TestDeframeKeepsPayloadDigits(t *testing.T) {
	require.Equal(t, "42x:", deframe(t, "\r\n+IPD,4,42x:\r\nCLOSED\r\n"))
	require.Equal(t, "7,x", deframe(t, "\r\n+IPD,3:7,x\r\nCLOSED\r\n"))
	require.Equal(t, "12:ab", deframe(t, "\r\n+IPD,5,12:ab\r\nCLOSED\r\n"))
	require.Equal(t, "9:abcd", deframe(t, "\r\n+IPD,4,9:ab\r\n+IPD,2,cd\r\nCLOSED\r\n"))
}

func TestDeframeLinkID(t *testing.T) {
	require.Equal(t, "abc", deframe(t, "\r\n+IPD,0,2:ab\r\n+IPD,0,1:c\r\nCLOSED\r\n"))
	require.Equal(t, "", deframe(t, "\r\n+IPD,1,0:\r\nCLOSED\r\n"))
}

func TestDeframeNoTerminator(t *testing.T) {
	_, err := Deframe(make([]byte, 16), []byte("\r\n+IPD,3:abcCLOSED\r\n"))
	require.Equal(t, ErrNoTerminator, err)
}

func TestDeframeMalformed(t *testing.T) {
	for _, src := range []string{
		"\r\n+IPD,:abc\r\nCLOSED\r\n",
		"\r\n+IPD,x:abc\r\nCLOSED\r\n",
		"\r\n+IPD,12\r\nCLOSED\r\n",
		"\r\n+IPD,12;abc\r\nCLOSED\r\n",
	} {
		_, err := Deframe(make([]byte, 16), []byte(src))
		require.Equalf(t, ErrMalformed, errors.Cause(err), "%q", src)
	}
}

func TestDeframeOverflow(t *testing.T) {
	dst := make([]byte, 6)
	n, err := Deframe(dst, []byte("\r\n+IPD,4:abcd\r\n+IPD,4:efgh\r\nCLOSED\r\n"))
	require.Equal(t, ErrBufferOverflow, errors.Cause(err))
	require.Equal(t, 6, n)
	require.Equal(t, "abcdef", string(dst))

	dst = make([]byte, 3)
	n, err = Deframe(dst, []byte("abcd\r\n+IPD,1:e\r\nCLOSED\r\n"))
	require.Equal(t, ErrBufferOverflow, errors.Cause(err))
	require.Equal(t, 3, n)

	dst = make([]byte, 4)
	n, err = Deframe(dst, []byte("\r\n+IPD,4:abcd\r\nCLOSED\r\n"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
}
