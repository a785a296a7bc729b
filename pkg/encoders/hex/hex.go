// Package hex wraps the standard library hex codec with the append-style
// signatures the rest of pkg/encoders uses, so callers can build JSON/wire
// buffers without an intermediate allocation per field.
package hex

import "encoding/hex"

// Enc returns the lowercase hex encoding of b as a string.
func Enc(b []byte) string { return hex.EncodeToString(b) }

// EncAppend appends the lowercase hex encoding of b to dst and returns the
// extended slice.
func EncAppend(dst, b []byte) (o []byte) {
	o = dst
	start := len(o)
	o = append(o, make([]byte, hex.EncodedLen(len(b)))...)
	hex.Encode(o[start:], b)
	return
}

// Dec decodes a hex string into bytes.
func Dec(s string) (b []byte, err error) { return hex.DecodeString(s) }

// DecAppend decodes hex-encoded src and appends the result to dst.
func DecAppend(dst []byte, src []byte) (o []byte, err error) {
	buf := make([]byte, hex.DecodedLen(len(src)))
	var n int
	if n, err = hex.Decode(buf, src); err != nil {
		return
	}
	o = append(dst, buf[:n]...)
	return
}
