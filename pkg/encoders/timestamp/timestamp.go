// Package timestamp wraps a unix-seconds event/filter timestamp.
package timestamp

import (
	"time"

	"worker.orly.dev/pkg/encoders/ints"
)

// T is a unix-seconds timestamp.
type T struct{ V int64 }

// New returns a zero-valued timestamp, ready for Unmarshal.
func New() *T { return &T{} }

// Now returns the current time as a timestamp.
func Now() *T { return &T{V: time.Now().Unix()} }

// FromUnix wraps an existing unix-seconds value.
func FromUnix(v int64) *T { return &T{V: v} }

// I64 returns the wrapped value.
func (t *T) I64() int64 {
	if t == nil {
		return 0
	}
	return t.V
}

// U64 returns the wrapped value as a uint64, for zero/non-zero checks.
func (t *T) U64() uint64 {
	if t == nil {
		return 0
	}
	return uint64(t.V)
}

// Marshal appends the decimal ASCII encoding of the timestamp to dst.
func (t *T) Marshal(dst []byte) (b []byte) {
	return ints.New(t.V).Marshal(dst)
}

// Unmarshal reads a decimal ASCII timestamp from the head of b.
func (t *T) Unmarshal(b []byte) (r []byte, err error) {
	var v int64
	if v, r, err = ints.Unmarshal(b); err != nil {
		return
	}
	t.V = v
	return
}
