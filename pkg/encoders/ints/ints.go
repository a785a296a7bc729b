// Package ints provides minimal integer<->decimal-ASCII marshaling used by
// the canonical event encoding and the minified JSON wire codecs, avoiding a
// round trip through fmt for the hot path.
package ints

import (
	"strconv"

	"golang.org/x/exp/constraints"
)

// T wraps an integer value for append-style marshaling.
type T[V constraints.Integer] struct{ N V }

// New wraps an integer value of any integer kind.
func New[V constraints.Integer](v V) *T[V] { return &T[V]{N: v} }

// Marshal appends the decimal ASCII representation of the wrapped integer to
// dst.
func (t *T[V]) Marshal(dst []byte) (b []byte) {
	return strconv.AppendInt(dst, int64(t.N), 10)
}

// Uint16 returns the wrapped value truncated to a uint16.
func (t *T[V]) Uint16() uint16 { return uint16(t.N) }

// Unmarshal reads a decimal ASCII integer from the head of b into t,
// returning the remainder.
func (t *T[V]) Unmarshal(b []byte) (r []byte, err error) {
	var v int64
	if v, r, err = Unmarshal(b); err != nil {
		return
	}
	t.N = V(v)
	return
}

// Unmarshal reads a decimal ASCII integer from the head of b, returning the
// parsed value and the remainder.
func Unmarshal(b []byte) (v int64, r []byte, err error) {
	i := 0
	if i < len(b) && (b[i] == '-' || b[i] == '+') {
		i++
	}
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	if v, err = strconv.ParseInt(string(b[:i]), 10, 64); err != nil {
		return
	}
	r = b[i:]
	return
}
