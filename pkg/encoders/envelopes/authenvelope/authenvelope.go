// Package authenvelope provides the encoder for the AUTH message defined by
// NIP-42: a relay issues a Challenge string to a client, which responds with
// a signed kind 22242 event proving control of a pubkey.
package authenvelope

import (
	"io"

	"lol.mleku.dev/chk"
	"worker.orly.dev/pkg/encoders/envelopes"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/text"
	"worker.orly.dev/pkg/interfaces/codec"
)

// L is the label associated with this type of codec.Envelope.
const L = "AUTH"

// Challenge is the relay->client form: ["AUTH", <challenge string>].
type Challenge struct {
	Challenge []byte
}

var _ codec.Envelope = (*Challenge)(nil)

// NewChallenge creates an empty Challenge ready to unmarshal into.
func NewChallenge() *Challenge { return new(Challenge) }

// NewChallengeWith creates a Challenge carrying the given challenge string.
func NewChallengeWith(challenge []byte) *Challenge {
	return &Challenge{Challenge: challenge}
}

// Label returns the label of a Challenge.
func (en *Challenge) Label() string { return L }

// Write the Challenge to a provided io.Writer.
func (en *Challenge) Write(w io.Writer) (err error) {
	_, err = w.Write(en.Marshal(nil))
	return
}

// Marshal a Challenge envelope in minified JSON, appending to a provided
// destination slice.
func (en *Challenge) Marshal(dst []byte) (b []byte) {
	b = dst
	b = envelopes.Marshal(
		b, L,
		func(bst []byte) (o []byte) {
			o = bst
			o = text.AppendQuote(o, en.Challenge, text.NostrEscape)
			return
		},
	)
	return
}

// Unmarshal a Challenge from minified JSON, returning the remainder after the
// end of the envelope.
func (en *Challenge) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	if en.Challenge, r, err = text.UnmarshalQuoted(r); chk.E(err) {
		return
	}
	if r, err = envelopes.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseChallenge reads a Challenge in minified JSON into a newly allocated
// Challenge.
func ParseChallenge(b []byte) (t *Challenge, rem []byte, err error) {
	t = NewChallenge()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}

// Response is the client->relay form: ["AUTH", <signed event JSON>].
type Response struct {
	Event *event.E
}

var _ codec.Envelope = (*Response)(nil)

// NewResponse creates an empty Response ready to unmarshal into.
func NewResponse() *Response { return &Response{Event: event.New()} }

// NewResponseWith wraps an already signed auth event as a Response.
func NewResponseWith(ev *event.E) *Response { return &Response{Event: ev} }

// Label returns the label of a Response.
func (en *Response) Label() string { return L }

// Write the Response to a provided io.Writer.
func (en *Response) Write(w io.Writer) (err error) {
	_, err = w.Write(en.Marshal(nil))
	return
}

// Marshal a Response envelope in minified JSON, appending to a provided
// destination slice.
func (en *Response) Marshal(dst []byte) (b []byte) {
	b = dst
	b = envelopes.Marshal(
		b, L,
		func(bst []byte) (o []byte) {
			o = bst
			o = en.Event.Marshal(o)
			return
		},
	)
	return
}

// Unmarshal a Response from minified JSON, returning the remainder after the
// end of the envelope.
func (en *Response) Unmarshal(b []byte) (r []byte, err error) {
	r = b
	if en.Event == nil {
		en.Event = event.New()
	}
	if r, err = en.Event.Unmarshal(r); chk.E(err) {
		return
	}
	if r, err = envelopes.SkipToTheEnd(r); chk.E(err) {
		return
	}
	return
}

// ParseResponse reads a Response in minified JSON into a newly allocated
// Response.
func ParseResponse(b []byte) (t *Response, rem []byte, err error) {
	t = NewResponse()
	if rem, err = t.Unmarshal(b); chk.E(err) {
		return
	}
	return
}
