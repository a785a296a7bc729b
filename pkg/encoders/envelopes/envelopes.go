// Package envelopes provides the shared `["LABEL",...]` framing that every
// concrete envelope type (reqenvelope, eventenvelope, okenvelope, ...) wraps
// its body in.
package envelopes

import (
	"lol.mleku.dev/errorf"
	"worker.orly.dev/pkg/encoders/text"
)

// Marshal writes `["label",` then calls body to append the rest of the
// array's elements, then closes with `]`.
func Marshal(dst []byte, label string, body func([]byte) []byte) (b []byte) {
	b = dst
	b = append(b, '[', '"')
	b = append(b, label...)
	b = append(b, '"', ',')
	b = body(b)
	b = append(b, ']')
	return
}

// SkipToTheEnd advances past the rest of a JSON array (skipping whitespace
// and a single trailing ']'), used after an envelope's fixed-position fields
// have all been consumed.
func SkipToTheEnd(b []byte) (r []byte, err error) {
	r = text.SkipWhitespace(b)
	if len(r) == 0 || r[0] != ']' {
		err = errorf.E("envelopes.SkipToTheEnd: expected ']'")
		return
	}
	r = r[1:]
	return
}

// Identify reads the opening `["LABEL"` of an envelope and returns the label
// plus the remainder positioned after the following comma.
func Identify(b []byte) (label string, r []byte, err error) {
	r = text.SkipWhitespace(b)
	if len(r) == 0 || r[0] != '[' {
		err = errorf.E("envelopes.Identify: expected '['")
		return
	}
	r = r[1:]
	var lb []byte
	if lb, r, err = text.UnmarshalQuoted(r); err != nil {
		return
	}
	label = string(lb)
	if r, err = text.Comma(r); err != nil {
		return
	}
	return
}
