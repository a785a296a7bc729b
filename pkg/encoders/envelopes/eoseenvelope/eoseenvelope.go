// Package eoseenvelope provides the encoder for the relay message EOSE, sent
// once after a REQ subscription's stored backlog has been fully delivered.
package eoseenvelope

import (
	"io"

	"lol.mleku.dev/chk"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/text"
	"worker.orly.dev/pkg/interfaces/codec"
)

// L is the label associated with this type of codec.Envelope.
const L = "EOSE"

// T is an EOSE envelope: ["EOSE", <sub_id>].
type T struct {
	Subscription []byte
}

var _ codec.Envelope = (*T)(nil)

// New creates an empty new standard formatted eoseenvelope.T.
func New() *T { return new(T) }

// NewFrom creates a new eoseenvelope.T populated with a subscription ID.
func NewFrom(id []byte) *T { return &T{Subscription: id} }

// Label returns the label of an eoseenvelope.T.
func (en *T) Label() string { return L }

// Write the eoseenvelope.T to a provided io.Writer.
func (en *T) Write(w io.Writer) (err error) {
	_, err = w.Write(en.Marshal(nil))
	return
}

// Marshal an eoseenvelope.T envelope in minified JSON, appending to a
// provided destination slice.
func (en *T) Marshal(dst []byte) (b []byte) {
	b = dst
	b = envelopes.Marshal(
		b, L,
		func(bst []byte) (o []byte) {
			o = bst
			o = append(o, '"')
			o = append(o, en.Subscription...)
			o = append(o, '"')
			return
		},
	)
	return
}

// Unmarshal an eoseenvelope.T from minified JSON, returning the remainder
// after the end of the envelope.
func (en *T) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	if en.Subscription, r, err = text.UnmarshalQuoted(r); chk.E(err) {
		return
	}
	if r, err = envelopes.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// Parse reads an EOSE envelope from minified JSON into a newly allocated
// eoseenvelope.T.
func Parse(b []byte) (t *T, rem []byte, err error) {
	t = New()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
