// Package closedenvelope provides the encoder for the relay message CLOSED
// which terminates a subscription from the relay side and tells the client
// why.
package closedenvelope

import (
	"io"

	"lol.mleku.dev/chk"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/text"
	"worker.orly.dev/pkg/interfaces/codec"
)

// L is the label associated with this type of codec.Envelope.
const L = "CLOSED"

// T is a CLOSED envelope, sent by a relay to end a subscription and explain
// why, eg "pow: difficulty 25>=24" or "duplicate: already have this event".
type T struct {
	Subscription []byte
	Reason       []byte
}

var _ codec.Envelope = (*T)(nil)

// New creates an empty new standard formatted closedenvelope.T.
func New() *T { return new(T) }

// NewFrom creates a new closedenvelope.T populated with a subscription ID and
// reason message.
func NewFrom(id, reason []byte) *T { return &T{Subscription: id, Reason: reason} }

// Label returns the label of a closedenvelope.T.
func (en *T) Label() string { return L }

// Write the closedenvelope.T to a provided io.Writer.
func (en *T) Write(w io.Writer) (err error) {
	_, err = w.Write(en.Marshal(nil))
	return
}

// Marshal a closedenvelope.T envelope in minified JSON, appending to a
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
			o = append(o, ',')
			o = text.AppendQuote(o, en.Reason, text.NostrEscape)
			return
		},
	)
	return
}

// Unmarshal a closedenvelope.T from minified JSON, returning the remainder
// after the end of the envelope.
func (en *T) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	if en.Subscription, r, err = text.UnmarshalQuoted(r); chk.E(err) {
		return
	}
	if r, err = text.Comma(r); chk.E(err) {
		return
	}
	if en.Reason, r, err = text.UnmarshalQuoted(r); chk.E(err) {
		return
	}
	if r, err = envelopes.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// Parse reads a CLOSED envelope from minified JSON into a newly allocated
// closedenvelope.T.
func Parse(b []byte) (t *T, rem []byte, err error) {
	t = New()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
